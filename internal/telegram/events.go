package telegram

import (
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/relaybot/relaybot/internal/core"
)

// EventFromUpdate converts an update to an event. Updates without a
// message or callback query yield an event with no subject, which the
// dispatcher ignores.
func EventFromUpdate(update tgbotapi.Update, receivedAt time.Time) core.Event {
	event := core.Event{ID: int64(update.UpdateID), ReceivedAt: receivedAt}

	switch {
	case update.Message != nil:
		msg := update.Message
		setSubject(&event, msg.From)
		if msg.Chat != nil {
			event.ChatID = msg.Chat.ID
		}
		if msg.Date != 0 {
			event.ReceivedAt = msg.Time().UTC()
		}
		event.RawContent = msg.Text
		if event.RawContent == "" {
			event.RawContent = msg.Caption
		}
		if msg.IsCommand() {
			event.CommandName = msg.Command()
			event.Args = strings.Fields(msg.CommandArguments())
		}

	case update.CallbackQuery != nil:
		query := update.CallbackQuery
		setSubject(&event, query.From)
		if query.Message != nil && query.Message.Chat != nil {
			event.ChatID = query.Message.Chat.ID
		}
		event.RawContent = query.Data
		event.CommandName, event.Args = parseCommand(query.Data)
	}

	return event
}

func setSubject(event *core.Event, user *tgbotapi.User) {
	if user == nil {
		return
	}
	event.SubjectID = strconv.FormatInt(user.ID, 10)
	event.Username = user.UserName
}

// parseCommand splits "/name@bot arg..." into its parts. Text that is not
// a command returns an empty name.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") || len(fields[0]) == 1 {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", nil
	}
	return name, fields[1:]
}
