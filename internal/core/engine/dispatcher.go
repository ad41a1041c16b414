package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaybot/relaybot/internal/core"
	"github.com/relaybot/relaybot/internal/metrics"
)

// Notices sent by the dispatcher. Internal error detail is never shown.
const (
	ThrottleNotice       = "⏳ Please wait before sending another message."
	ErrorNotice          = "❌ An error occurred while processing your request. Please try again later."
	UnknownCommandNotice = "🤔 Unknown command. Send /help to see what I can do."
)

// Handler processes one admitted event.
type Handler interface {
	Handle(ctx context.Context, event core.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event core.Event) error

func (f HandlerFunc) Handle(ctx context.Context, event core.Event) error {
	return f(ctx, event)
}

// Admitter is the admission gate the dispatcher consults.
type Admitter interface {
	Admit(ctx context.Context, subjectID string, category core.Category) core.Admission
}

// Notifier delivers short notices back to the event's chat.
type Notifier interface {
	Notify(ctx context.Context, event core.Event, text string) error
}

// ActivityTracker records activity for admitted events.
type ActivityTracker interface {
	Track(ctx context.Context, event core.Event) error
}

// Outcome describes what Handle did with an event.
type Outcome string

const (
	OutcomeIgnored    Outcome = "ignored"
	OutcomeThrottled  Outcome = "throttled"
	OutcomeHandled    Outcome = "handled"
	OutcomeFailed     Outcome = "failed"
	OutcomeUnroutable Outcome = "unroutable"
)

// Command describes a registered command.
type Command struct {
	Name        string
	Description string
	Category    core.Category
	Hidden      bool
}

type route struct {
	command Command
	handler Handler
}

// Dispatcher routes events to handlers behind the rate limiter.
//
// Handler errors and panics are contained: they are logged, counted and
// answered with ErrorNotice, and Handle never propagates them.
type Dispatcher struct {
	Limiter  Admitter
	Notifier Notifier
	Tracker  ActivityTracker
	Logger   Logger

	mu       sync.RWMutex
	routes   map[string]route
	fallback Handler
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher(limiter Admitter, notifier Notifier, logger Logger) *Dispatcher {
	return &Dispatcher{
		Limiter:  limiter,
		Notifier: notifier,
		Logger:   logger,
		routes:   make(map[string]route),
	}
}

// Register binds a command name to a handler. An empty category means
// messages.
func (d *Dispatcher) Register(cmd Command, handler Handler) {
	name := normalizeCommand(cmd.Name)
	if name == "" || handler == nil {
		return
	}
	cmd.Name = name
	if cmd.Category == "" {
		cmd.Category = core.CategoryMessages
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.routes == nil {
		d.routes = make(map[string]route)
	}
	d.routes[name] = route{command: cmd, handler: handler}
}

// SetFallback sets the free-text handler.
func (d *Dispatcher) SetFallback(handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = handler
}

// Commands lists registered commands sorted by name.
func (d *Dispatcher) Commands() []Command {
	d.mu.RLock()
	defer d.mu.RUnlock()

	commands := make([]Command, 0, len(d.routes))
	for _, r := range d.routes {
		commands = append(commands, r.command)
	}
	sort.Slice(commands, func(i, j int) bool { return commands[i].Name < commands[j].Name })
	return commands
}

// CategoryFor returns the rate-limit category an event is charged against.
func (d *Dispatcher) CategoryFor(event core.Event) core.Category {
	if !event.IsCommand() {
		return core.CategoryMessages
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if r, ok := d.routes[normalizeCommand(event.CommandName)]; ok {
		return r.command.Category
	}
	return core.CategoryMessages
}

// Handle processes one event.
func (d *Dispatcher) Handle(ctx context.Context, event core.Event) Outcome {
	outcome := d.handle(ctx, event)
	metrics.RecordDispatch(string(outcome))
	return outcome
}

func (d *Dispatcher) handle(ctx context.Context, event core.Event) Outcome {
	log := loggerOr(d.Logger)

	if strings.TrimSpace(event.SubjectID) == "" {
		log.Debug("Ignoring event without subject", zap.Int64("update_id", event.ID))
		return OutcomeIgnored
	}

	category := d.CategoryFor(event)
	if d.Limiter != nil && d.Limiter.Admit(ctx, event.SubjectID, category) == core.Rejected {
		log.Debug("Event throttled",
			zap.Int64("update_id", event.ID),
			zap.String("subject", event.SubjectID),
			zap.String("category", category.String()))
		d.notify(ctx, event, ThrottleNotice)
		return OutcomeThrottled
	}

	if d.Tracker != nil {
		if err := d.Tracker.Track(ctx, event); err != nil {
			metrics.RecordPersistError("subjects")
			log.Warn("Failed to record subject activity", zap.String("subject", event.SubjectID), zap.Error(err))
		}
	}

	name, handler := d.lookup(event)
	if handler == nil {
		if event.IsCommand() {
			d.notify(ctx, event, UnknownCommandNotice)
		}
		return OutcomeUnroutable
	}

	start := time.Now()
	err := invoke(ctx, handler, event)
	metrics.RecordHandler(name, time.Since(start))
	if err == nil {
		return OutcomeHandled
	}

	var panicked *handlerPanic
	isPanic := errors.As(err, &panicked)
	metrics.RecordHandlerFault(name, isPanic)
	fields := []zap.Field{
		zap.Int64("update_id", event.ID),
		zap.String("subject", event.SubjectID),
		zap.String("route", name),
		zap.Error(err),
	}
	if isPanic {
		fields = append(fields, zap.ByteString("stack", panicked.stack))
	}
	log.Error("Handler failed", fields...)
	d.notify(ctx, event, ErrorNotice)
	return OutcomeFailed
}

func (d *Dispatcher) lookup(event core.Event) (string, Handler) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if event.IsCommand() {
		name := normalizeCommand(event.CommandName)
		if r, ok := d.routes[name]; ok {
			return name, r.handler
		}
		return name, nil
	}
	return "text", d.fallback
}

func (d *Dispatcher) notify(ctx context.Context, event core.Event, text string) {
	if d.Notifier == nil {
		return
	}
	if err := d.Notifier.Notify(ctx, event, text); err != nil {
		loggerOr(d.Logger).Warn("Failed to deliver notice",
			zap.Int64("update_id", event.ID),
			zap.Int64("chat_id", event.ChatID),
			zap.Error(err))
	}
}

type handlerPanic struct {
	value any
	stack []byte
}

func (p *handlerPanic) Error() string {
	return fmt.Sprintf("handler panic: %v", p.value)
}

func invoke(ctx context.Context, handler Handler, event core.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &handlerPanic{value: rec, stack: debug.Stack()}
		}
	}()
	return handler.Handle(ctx, event)
}

func normalizeCommand(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name)
}
