// Package colorlog is a compact slog.Handler for build tooling output:
// timestamp, a component label, the message, then bracketed attributes.
package colorlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/term"
)

const (
	colorReset  = "\033[0m"
	colorGray   = "\033[37m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
	colorBlue   = "\033[34m"
)

type Options struct {
	Output   io.Writer
	Level    slog.Leveler
	UseColor *bool // nil = auto-detect
}

type ColorLogHandler struct {
	label  string
	opts   Options
	mu     *sync.Mutex // shared across WithAttrs/WithGroup clones
	attrs  []slog.Attr
	groups []string
	color  bool
}

func New(label string, opts ...Options) *slog.Logger {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Output == nil {
		o.Output = os.Stderr
	}
	if o.Level == nil {
		o.Level = slog.LevelInfo
	}

	return slog.New(&ColorLogHandler{
		label: label,
		opts:  o,
		mu:    &sync.Mutex{},
		color: detectColor(o.Output, o.UseColor),
	})
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Or returns log, or a discarding logger when log is nil.
func Or(log *slog.Logger) *slog.Logger {
	if log == nil {
		return Discard()
	}
	return log
}

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, errors.Newf("unknown log level %q", s)
}

func detectColor(w io.Writer, override *bool) bool {
	if override != nil {
		return *override
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func (h *ColorLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *ColorLogHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	b.WriteString(h.wrap(colorGray, r.Time.Format("2006/01/02 15:04:05")))
	b.WriteString("  (")
	b.WriteString(h.wrap(colorBlue, h.label))
	b.WriteString(")  ")
	b.WriteString(h.wrap(levelToColor(r.Level), levelToPrefix(r.Level)+r.Message))

	first := true
	writeAttr := func(a slog.Attr) {
		if first {
			b.WriteString("  ")
			first = false
		} else {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s %s %s %v %s",
			h.wrap(colorGray, "["),
			h.wrap(colorGray, a.Key),
			h.wrap(colorGray, "="),
			a.Value.Any(),
			h.wrap(colorGray, "]"),
		)
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(h.prefixAttr(a))
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.opts.Output, b.String())
	return err
}

func (h *ColorLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.attrs = make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(clone.attrs, h.attrs)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, h.prefixAttr(a))
	}
	return &clone
}

func (h *ColorLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func (h *ColorLogHandler) prefixAttr(a slog.Attr) slog.Attr {
	if len(h.groups) == 0 {
		return a
	}
	return slog.Attr{Key: strings.Join(h.groups, ".") + "." + a.Key, Value: a.Value}
}

func (h *ColorLogHandler) wrap(color string, v any) string {
	if !h.color {
		return fmt.Sprint(v)
	}
	return fmt.Sprintf("%s%v%s", color, v, colorReset)
}

func levelToColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level >= slog.LevelInfo:
		return colorCyan
	default:
		return colorGray
	}
}

func levelToPrefix(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR  "
	case level >= slog.LevelWarn:
		return "WARNING  "
	case level >= slog.LevelInfo:
		return ""
	default:
		return "DEBUG  "
	}
}
