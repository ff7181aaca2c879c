package logging

import (
	"context"
	"log/slog"
)

// MultiHandler fans out log records to multiple handlers. Each target
// keeps its own level gate, so one destination can run at debug while
// another stays at info.
type MultiHandler struct {
	targets []slog.Handler
}

// NewMultiHandler creates a handler that writes to all provided handlers.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{targets: handlers}
}

// Enabled reports whether any target accepts the level.
func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, target := range h.targets {
		if target.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle delivers the record to every target that accepts its level.
// The first delivery error is returned after all targets have been tried.
func (h *MultiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, target := range h.targets {
		if !target.Enabled(ctx, record.Level) {
			continue
		}
		if err := target.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WithAttrs implements slog.Handler.
func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(target slog.Handler) slog.Handler { return target.WithAttrs(attrs) })
}

// WithGroup implements slog.Handler.
func (h *MultiHandler) WithGroup(name string) slog.Handler {
	return h.derive(func(target slog.Handler) slog.Handler { return target.WithGroup(name) })
}

func (h *MultiHandler) derive(wrap func(slog.Handler) slog.Handler) *MultiHandler {
	targets := make([]slog.Handler, len(h.targets))
	for i, target := range h.targets {
		targets[i] = wrap(target)
	}
	return &MultiHandler{targets: targets}
}
