package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/relaybot/relaybot/internal/core"
)

// Stats reports directory totals to the owner.
func (h *Handlers) Stats(ctx context.Context, event core.Event) error {
	if !h.isOwner(event) {
		return h.reply(ctx, event, OwnerOnlyText)
	}
	if h.deps.Directory == nil {
		return errors.New("stats: subject directory is not configured")
	}

	stats, err := h.deps.Directory.Stats(ctx, h.now())
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	return h.reply(ctx, event, fmt.Sprintf(
		"📊 Bot statistics\n\nUsers: %d\nMessages: %d\nActive today: %d",
		stats.TotalSubjects, stats.TotalMessages, stats.ActiveToday))
}

// Broadcast sends the text to every known subject except the owner.
func (h *Handlers) Broadcast(ctx context.Context, event core.Event) error {
	if !h.isOwner(event) {
		return h.reply(ctx, event, OwnerOnlyText)
	}
	text := event.Text()
	if text == "" {
		return h.reply(ctx, event, "Usage: /broadcast <message>")
	}
	if h.deps.Directory == nil || h.deps.Sender == nil {
		return errors.New("broadcast: directory or sender is not configured")
	}

	profiles, err := h.deps.Directory.List(ctx)
	if err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}

	var delivered, failed int
	for _, profile := range profiles {
		if profile.SubjectID == h.deps.OwnerID {
			continue
		}
		// A subject's id is its private chat; ChatID is wherever it last spoke.
		chatID, err := strconv.ParseInt(profile.SubjectID, 10, 64)
		if err != nil {
			failed++
			continue
		}
		if err := h.deps.Sender.Send(ctx, chatID, text); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			if h.deps.Logger != nil {
				h.deps.Logger.Debug("Broadcast delivery failed",
					zap.String("subject_id", profile.SubjectID),
					zap.Error(err))
			}
			continue
		}
		delivered++
	}

	if h.deps.Logger != nil {
		h.deps.Logger.Info("Broadcast finished", zap.Int("delivered", delivered), zap.Int("failed", failed))
	}
	return h.reply(ctx, event, fmt.Sprintf("📢 Broadcast finished: %d delivered, %d failed.", delivered, failed))
}

func ownerChatID(ownerID string) (int64, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return 0, errors.New("owner is not configured")
	}
	return strconv.ParseInt(ownerID, 10, 64)
}
