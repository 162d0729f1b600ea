// Package events distributes run events to logs, in-memory buffers and Redis.
package events

import (
	"context"
	"sync"

	"relevance-service/internal/models"

	"go.uber.org/zap"
)

// Handler consumes run events. Handle must not block for long.
type Handler interface {
	Handle(ctx context.Context, ev models.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev models.Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev models.Event) error { return f(ctx, ev) }

// Fanout forwards each event to every handler; a failing handler is logged
// and does not stop the others.
type Fanout struct {
	handlers []Handler
	logger   *zap.Logger
}

func NewFanout(logger *zap.Logger, handlers ...Handler) *Fanout {
	return &Fanout{handlers: handlers, logger: logger}
}

func (f *Fanout) Handle(ctx context.Context, ev models.Event) error {
	for _, h := range f.handlers {
		if err := h.Handle(ctx, ev); err != nil {
			f.logger.Warn("Event handler failed",
				zap.String("run_id", ev.RunID),
				zap.String("type", string(ev.Type)),
				zap.Error(err))
		}
	}
	return nil
}

// Drain forwards events from ch to h until ch is closed.
func Drain(ctx context.Context, ch <-chan models.Event, h Handler) {
	for ev := range ch {
		_ = h.Handle(ctx, ev)
	}
}

// LogHandler writes events as zap lines.
type LogHandler struct {
	logger *zap.Logger
}

func NewLogHandler(logger *zap.Logger) *LogHandler {
	return &LogHandler{logger: logger}
}

func (h *LogHandler) Handle(_ context.Context, ev models.Event) error {
	fields := []zap.Field{zap.String("run_id", ev.RunID), zap.String("event", string(ev.Type))}

	switch ev.Type {
	case models.EventProgress:
		h.logger.Debug("Progress", append(fields, zap.Int("progress", ev.Progress))...)
	case models.EventRecord:
		if ev.Result != nil {
			fields = append(fields,
				zap.Int("score", ev.Result.Score),
				zap.Bool("relevant", ev.Result.IsRelevant),
				zap.Int("iteration", ev.Result.Iteration))
		}
		h.logger.Info(ev.Message, fields...)
	case models.EventError:
		h.logger.Error(ev.Message, append(fields, zap.String("error", ev.Err))...)
	case models.EventLog:
		switch ev.Level {
		case models.LevelError:
			h.logger.Error(ev.Message, fields...)
		case models.LevelWarning:
			h.logger.Warn(ev.Message, fields...)
		default:
			h.logger.Info(ev.Message, fields...)
		}
	default:
		h.logger.Info(ev.Message, fields...)
	}
	return nil
}

// Buffer keeps the last N events of a run for replay.
type Buffer struct {
	mu     sync.RWMutex
	size   int
	events []models.Event
}

func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 500
	}
	return &Buffer{size: size}
}

func (b *Buffer) Handle(_ context.Context, ev models.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	if len(b.events) > b.size {
		b.events = b.events[len(b.events)-b.size:]
	}
	return nil
}

// Events returns a copy of the buffered events, oldest first.
func (b *Buffer) Events() []models.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Event, len(b.events))
	copy(out, b.events)
	return out
}
