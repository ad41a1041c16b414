// Package commands holds the bot's built-in command handlers.
package commands

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/relaybot/relaybot/internal/ailink"
	"github.com/relaybot/relaybot/internal/core"
	"github.com/relaybot/relaybot/internal/core/engine"
)

// User-facing texts.
const (
	WelcomeText         = "👋 Welcome%s! I'm an AI assistant. Send me a message or use /help to see what I can do."
	AINotConfiguredText = "🤖 AI chat is not configured on this bot yet."
	AIBusyText          = "🤖 The AI service is busy right now. Please try again in a minute."
	OwnerOnlyText       = "⛔ This command is only available to the bot owner."
	NoOwnerText         = "📭 This bot has no owner configured to receive messages."
)

// Sender delivers a message to an arbitrary chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Directory exposes the known subjects.
type Directory interface {
	List(ctx context.Context) ([]core.SubjectProfile, error)
	Stats(ctx context.Context, now time.Time) (core.SubjectStats, error)
}

// Deps are the collaborators the handlers need.
type Deps struct {
	Replier   engine.Notifier
	Sender    Sender
	Directory Directory
	Responder ailink.Responder
	OwnerID   string
	Logger    engine.Logger
	Clock     func() time.Time
	TicketID  func() string
}

// Handlers implements the built-in commands.
type Handlers struct {
	deps       Deps
	dispatcher *engine.Dispatcher
}

// Register installs the built-in commands and the free-text fallback on d.
func Register(d *engine.Dispatcher, deps Deps) *Handlers {
	h := &Handlers{deps: deps, dispatcher: d}

	d.Register(engine.Command{Name: "start", Description: "Start the bot"}, engine.HandlerFunc(h.Start))
	d.Register(engine.Command{Name: "help", Description: "Show available commands"}, engine.HandlerFunc(h.Help))
	d.Register(engine.Command{Name: "chat", Description: "Ask the AI assistant"}, engine.HandlerFunc(h.Chat))
	d.Register(engine.Command{Name: "contact", Description: "Send a message to the bot owner"}, engine.HandlerFunc(h.Contact))
	d.Register(engine.Command{Name: "stats", Description: "Show usage statistics", Hidden: true}, engine.HandlerFunc(h.Stats))
	d.Register(engine.Command{
		Name:        "broadcast",
		Description: "Send a message to every known user",
		Category:    core.CategoryBroadcasts,
		Hidden:      true,
	}, engine.HandlerFunc(h.Broadcast))
	d.SetFallback(engine.HandlerFunc(h.Chat))

	return h
}

func (h *Handlers) reply(ctx context.Context, event core.Event, text string) error {
	return h.deps.Replier.Notify(ctx, event, text)
}

func (h *Handlers) isOwner(event core.Event) bool {
	return h.deps.OwnerID != "" && event.SubjectID == h.deps.OwnerID
}

func (h *Handlers) now() time.Time {
	if h.deps.Clock != nil {
		return h.deps.Clock()
	}
	return time.Now().UTC()
}

func (h *Handlers) ticketID() string {
	if h.deps.TicketID != nil {
		return h.deps.TicketID()
	}
	return uuid.NewString()[:8]
}
