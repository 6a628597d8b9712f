package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// FormatterHandler adapts a LogFormatter to slog.Handler, so the text/JSON/
// color renderers in formatter.go can back a real Logger instead of sitting
// unused next to slog's own JSON handler. Orchestrator and Workload select
// one via --log.format for operators who want human-readable (or colorized)
// console output instead of the default structured JSON.
type FormatterHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	formatter LogFormatter
	level     slog.Leveler
	attrs     []slog.Attr
	groups    []string
}

// NewFormatterHandler builds a FormatterHandler writing to w at the given
// minimum level using formatter to render each record.
func NewFormatterHandler(w io.Writer, level slog.Leveler, formatter LogFormatter) *FormatterHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &FormatterHandler{
		mu:        &sync.Mutex{},
		w:         w,
		formatter: formatter,
		level:     level,
	}
}

// Enabled reports whether level meets the handler's configured minimum.
func (h *FormatterHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle renders r with the handler's LogFormatter and writes the result as
// a single line.
func (h *FormatterHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]interface{}, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		h.addAttr(fields, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.addAttr(fields, a)
		return true
	})

	entry := LogEntry{
		Timestamp: r.Time,
		Level:     slogLevelToLogLevel(r.Level),
		Message:   r.Message,
		Fields:    fields,
	}

	line := h.formatter.Format(entry)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.w, line)
	return err
}

func (h *FormatterHandler) addAttr(fields map[string]interface{}, a slog.Attr) {
	key := a.Key
	for i := len(h.groups) - 1; i >= 0; i-- {
		key = h.groups[i] + "." + key
	}
	fields[key] = a.Value.Any()
}

// WithAttrs returns a handler that prepends attrs to every future record.
func (h *FormatterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

// WithGroup returns a handler that nests future attrs under name.
func (h *FormatterHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.groups = append(append([]string{}, h.groups...), name)
	return &next
}

// slogLevelToLogLevel maps slog's level space onto formatter.go's LogLevel,
// taking the highest named level at or below it (slog allows arbitrary
// integer offsets; LogLevel does not).
func slogLevelToLogLevel(l slog.Level) LogLevel {
	switch {
	case l < slog.LevelInfo:
		return DEBUG
	case l < slog.LevelWarn:
		return INFO
	case l < slog.LevelError:
		return WARN
	default:
		return ERROR
	}
}
