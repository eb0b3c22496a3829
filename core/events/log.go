package events

import (
	"context"
	"log/slog"
	"sort"

	"nftmarket/core/types"
)

// payload is implemented by events that can render themselves into the
// canonical attribute form.
type payload interface {
	Event() *types.Event
}

// LogEmitter writes every emitted event to a structured logger. Attributes are
// emitted in sorted key order so log lines stay stable across runs.
type LogEmitter struct {
	Logger *slog.Logger
	Level  slog.Level
}

// Emit implements the Emitter interface.
func (l LogEmitter) Emit(evt Event) {
	if evt == nil {
		return
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := []any{slog.String("event", evt.EventType())}
	if p, ok := evt.(payload); ok {
		if typed := p.Event(); typed != nil {
			keys := make([]string, 0, len(typed.Attributes))
			for k := range typed.Attributes {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				args = append(args, slog.String(k, typed.Attributes[k]))
			}
		}
	}
	logger.Log(context.Background(), l.Level, "event emitted", args...)
}

// Fanout broadcasts each event to every non-nil emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
