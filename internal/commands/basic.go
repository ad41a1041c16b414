package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/relaybot/relaybot/internal/ailink"
	"github.com/relaybot/relaybot/internal/core"
)

// Start greets the user.
func (h *Handlers) Start(ctx context.Context, event core.Event) error {
	name := ""
	if event.Username != "" {
		name = ", @" + event.Username
	}
	return h.reply(ctx, event, fmt.Sprintf(WelcomeText, name))
}

// Help lists the registered commands. The owner also sees hidden ones.
func (h *Handlers) Help(ctx context.Context, event core.Event) error {
	var b strings.Builder
	b.WriteString("📖 Available commands:\n")
	for _, cmd := range h.dispatcher.Commands() {
		if cmd.Hidden && !h.isOwner(event) {
			continue
		}
		fmt.Fprintf(&b, "\n/%s - %s", cmd.Name, cmd.Description)
	}
	b.WriteString("\n\nAny other message is answered by the AI assistant.")
	return h.reply(ctx, event, b.String())
}

// Chat answers the event text with the AI responder.
func (h *Handlers) Chat(ctx context.Context, event core.Event) error {
	prompt := event.Text()
	if prompt == "" {
		if event.IsCommand() {
			return h.reply(ctx, event, "Usage: /chat <message>")
		}
		return nil
	}
	if h.deps.Responder == nil || !h.deps.Responder.Configured() {
		return h.reply(ctx, event, AINotConfiguredText)
	}

	answer, err := h.deps.Responder.Reply(ctx, prompt)
	if err != nil {
		if errors.Is(err, ailink.ErrNotConfigured) {
			return h.reply(ctx, event, AINotConfiguredText)
		}
		var rerr *ailink.ReplyError
		if errors.As(err, &rerr) && rerr.Temporary() {
			return h.reply(ctx, event, AIBusyText)
		}
		return fmt.Errorf("ai reply: %w", err)
	}
	return h.reply(ctx, event, answer)
}

// Contact forwards the text to the owner with a ticket id.
func (h *Handlers) Contact(ctx context.Context, event core.Event) error {
	text := event.Text()
	if text == "" {
		return h.reply(ctx, event, "Usage: /contact <message>")
	}
	ownerChat, err := ownerChatID(h.deps.OwnerID)
	if err != nil || h.deps.Sender == nil {
		return h.reply(ctx, event, NoOwnerText)
	}

	ticket := h.ticketID()
	from := event.SubjectID
	if event.Username != "" {
		from = fmt.Sprintf("@%s (%s)", event.Username, event.SubjectID)
	}
	forward := fmt.Sprintf("📨 Contact #%s from %s\n\n%s", ticket, from, text)
	if err := h.deps.Sender.Send(ctx, ownerChat, forward); err != nil {
		return fmt.Errorf("forward contact %s: %w", ticket, err)
	}

	if h.deps.Logger != nil {
		h.deps.Logger.Info("Forwarded contact message",
			zap.String("ticket", ticket),
			zap.String("subject_id", event.SubjectID))
	}
	return h.reply(ctx, event, fmt.Sprintf("✅ Your message was sent to the owner. Ticket #%s", ticket))
}
