package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Zerolog implements Logger on top of zerolog.
type Zerolog struct {
	logger zerolog.Logger
}

// NewConsole returns a human-readable logger writing to stderr at the given
// level ("debug", "info", "warn", "error"). Unknown levels fall back to info.
func NewConsole(level string) *Zerolog {
	return NewZerolog(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, level)
}

// NewJSON returns a logger emitting one JSON object per line to w.
func NewJSON(w io.Writer, level string) *Zerolog {
	return NewZerolog(w, level)
}

// NewZerolog wraps w in a timestamped zerolog logger.
func NewZerolog(w io.Writer, level string) *Zerolog {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return &Zerolog{logger: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

// With returns a child logger that always carries the given fields.
func (z *Zerolog) With(fields ...Field) *Zerolog {
	ctx := z.logger.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &Zerolog{logger: ctx.Logger()}
}

func (z *Zerolog) Debug(msg string, fields ...Field) { emit(z.logger.Debug(), msg, fields) }
func (z *Zerolog) Info(msg string, fields ...Field)  { emit(z.logger.Info(), msg, fields) }
func (z *Zerolog) Warn(msg string, fields ...Field)  { emit(z.logger.Warn(), msg, fields) }
func (z *Zerolog) Error(msg string, fields ...Field) { emit(z.logger.Error(), msg, fields) }

func emit(event *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		event = addField(event, f)
	}
	event.Msg(msg)
}

func addField(event *zerolog.Event, f Field) *zerolog.Event {
	switch v := f.Value.(type) {
	case string:
		return event.Str(f.Key, v)
	case int:
		return event.Int(f.Key, v)
	case int64:
		return event.Int64(f.Key, v)
	case bool:
		return event.Bool(f.Key, v)
	case time.Duration:
		return event.Dur(f.Key, v)
	case error:
		return event.Err(v)
	default:
		return event.Interface(f.Key, v)
	}
}
