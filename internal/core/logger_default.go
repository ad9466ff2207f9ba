package core

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pterm/pterm"
)

type DefaultLogger struct {
	level   *slog.LevelVar
	trace   bool
	format  LogFormat
	handler *slog.Logger
	output  io.Writer
	attrs   []any
}

func NewDefaultLogger(output io.Writer, level LogLevel) *DefaultLogger {
	return NewLogger(output, level, FormatPretty)
}

// NewLogger builds a logger for the given format. Pretty output still keeps
// an slog handler so that With() attributes are rendered consistently.
func NewLogger(output io.Writer, level LogLevel, format LogFormat) *DefaultLogger {
	lv := new(slog.LevelVar)
	opts := &slog.HandlerOptions{Level: lv}

	var h slog.Handler
	switch format {
	case FormatJSON:
		h = slog.NewJSONHandler(output, opts)
	default:
		h = slog.NewTextHandler(output, opts)
	}
	if format == "" {
		format = FormatPretty
	}

	l := &DefaultLogger{
		level:   lv,
		format:  format,
		handler: slog.New(h),
		output:  output,
	}
	l.SetLevel(level)
	return l
}

func (l *DefaultLogger) Trace(msg string, args ...any) {
	if !l.trace {
		return
	}
	if l.format == FormatPretty {
		pterm.Debug.WithWriter(l.output).Println("TRACE: " + l.line(msg, args))
		return
	}
	l.handler.Debug("TRACE: "+msg, args...)
}

func (l *DefaultLogger) Debug(msg string, args ...any) {
	if l.format == FormatPretty {
		if l.level.Level() <= slog.LevelDebug {
			pterm.Debug.WithWriter(l.output).Println(l.line(msg, args))
		}
		return
	}
	l.handler.Debug(msg, args...)
}

func (l *DefaultLogger) Info(msg string, args ...any) {
	if l.format == FormatPretty {
		if l.level.Level() <= slog.LevelInfo {
			pterm.Info.WithWriter(l.output).Println(l.line(msg, args))
		}
		return
	}
	l.handler.Info(msg, args...)
}

func (l *DefaultLogger) Warn(msg string, args ...any) {
	if l.format == FormatPretty {
		if l.level.Level() <= slog.LevelWarn {
			pterm.Warning.WithWriter(l.output).Println(l.line(msg, args))
		}
		return
	}
	l.handler.Warn(msg, args...)
}

func (l *DefaultLogger) Error(msg string, args ...any) {
	if l.format == FormatPretty {
		pterm.Error.WithWriter(l.output).Println(l.line(msg, args))
		return
	}
	l.handler.Error(msg, args...)
}

func (l *DefaultLogger) With(args ...any) Logger {
	attrs := make([]any, 0, len(l.attrs)+len(args))
	attrs = append(attrs, l.attrs...)
	attrs = append(attrs, args...)
	return &DefaultLogger{
		level:   l.level,
		trace:   l.trace,
		format:  l.format,
		handler: l.handler.With(args...),
		output:  l.output,
		attrs:   attrs,
	}
}

// SetLevel changes the level of this logger and every logger derived from
// it with With, since they share the same LevelVar.
func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.trace = level <= LevelTrace
	switch level {
	case LevelTrace, LevelDebug:
		l.level.Set(slog.LevelDebug)
		pterm.EnableDebugMessages()
	case LevelWarn:
		l.level.Set(slog.LevelWarn)
	case LevelError:
		l.level.Set(slog.LevelError)
	default:
		l.level.Set(slog.LevelInfo)
	}
}

func (l *DefaultLogger) line(msg string, args []any) string {
	all := append(append([]any{}, l.attrs...), args...)
	if len(all) == 0 {
		return msg
	}
	return msg + "  " + formatArgs(all)
}

// formatArgs renders slog-style alternating key/value pairs as k=v.
func formatArgs(args []any) string {
	var b strings.Builder
	for i := 0; i < len(args); i++ {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		switch a := args[i].(type) {
		case slog.Attr:
			fmt.Fprintf(&b, "%s=%v", a.Key, a.Value)
		case string:
			if i+1 < len(args) {
				fmt.Fprintf(&b, "%s=%v", a, args[i+1])
				i++
			} else {
				fmt.Fprintf(&b, "!BADKEY=%s", a)
			}
		default:
			fmt.Fprintf(&b, "!BADKEY=%v", a)
		}
	}
	return b.String()
}
