package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// LogHandler forwards records to an inner handler and mirrors every record
// at Info or above into the activity log shown in the web UI. The
// "component" attribute becomes the entry's label.
type LogHandler struct {
	inner     slog.Handler
	state     *AppState
	attrs     []slog.Attr
	component string
}

// NewLogHandler wraps inner so that its output also lands in s.
func NewLogHandler(inner slog.Handler, s *AppState) *LogHandler {
	return &LogHandler{inner: inner, state: s}
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelInfo {
		component := h.component
		attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
		attrs = append(attrs, h.attrs...)
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "component" {
				component = a.Value.String()
				return true
			}
			attrs = append(attrs, a)
			return true
		})
		if component == "" {
			component = "Main"
		}
		level := r.Level.String()
		h.state.AddLog(level, component, formatLogMessage(r.Time, level, r.Message, attrs))
	}
	return h.inner.Handle(ctx, r)
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &LogHandler{
		inner:     h.inner.WithAttrs(attrs),
		state:     h.state,
		attrs:     append([]slog.Attr(nil), h.attrs...),
		component: h.component,
	}
	for _, a := range attrs {
		if a.Key == "component" {
			next.component = a.Value.String()
			continue
		}
		next.attrs = append(next.attrs, a)
	}
	return next
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	return &LogHandler{
		inner:     h.inner.WithGroup(name),
		state:     h.state,
		attrs:     h.attrs,
		component: h.component,
	}
}

// formatLogMessage formats a message with its attributes as JSON for display.
func formatLogMessage(t time.Time, level, msg string, attrs []slog.Attr) string {
	// Build a struct to ensure consistent field order
	type logEntry struct {
		Time  string `json:"time"`
		Level string `json:"level"`
		Msg   string `json:"msg"`
	}
	if t.IsZero() {
		t = time.Now()
	}
	baseJSON, _ := json.Marshal(logEntry{
		Time:  t.UTC().Format(time.RFC3339Nano),
		Level: level,
		Msg:   msg,
	})
	// Remove closing brace
	parts := []string{string(baseJSON[:len(baseJSON)-1])}

	for _, a := range attrs {
		valJSON, err := json.Marshal(attrValue(a.Value))
		if err != nil {
			valJSON, _ = json.Marshal(a.Value.String())
		}
		keyJSON, _ := json.Marshal(a.Key)
		parts = append(parts, fmt.Sprintf(`%s:%s`, keyJSON, valJSON))
	}
	return strings.Join(parts, ",") + "}"
}

func attrValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	case slog.KindGroup:
		out := map[string]any{}
		for _, a := range v.Group() {
			out[a.Key] = attrValue(a.Value)
		}
		return out
	default:
		return v.Any()
	}
}
