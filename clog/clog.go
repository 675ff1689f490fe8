// Package clog provides structured, leveled logging for the channel engine.
//
// Call sites use the teacher codebase's convention of naming the calling
// function and threading ctx through every log call:
//
//	logger := clog.WithFunc("cache.Load")
//	logger.Infof(ctx, "loaded %d entries", n)
//
// Under the hood this is backed by zerolog rather than a bespoke logger, but
// the call-site shape is kept identical so the rest of the codebase reads
// the same regardless of which logging library sits behind it.
package clog

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu      sync.RWMutex
	base    = zerolog.New(defaultWriter()).With().Timestamp().Logger()
	enabled = true
)

func defaultWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
}

// Setup configures the global logger level and output. level is one of
// zerolog's level strings ("debug", "info", "warn", "error"); an empty or
// unrecognized level defaults to "info".
func Setup(level string, w io.Writer) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if w == nil {
		w = defaultWriter()
	}
	mu.Lock()
	defer mu.Unlock()
	base = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return nil
}

// Disable silences all logging, for callers that want quiet output.
func Disable() {
	mu.Lock()
	defer mu.Unlock()
	enabled = false
}

// Func is a logger bound to a single calling-function name.
type Func struct {
	name string
}

// WithFunc returns a Func logger tagged with the calling function's name,
// e.g. WithFunc("cache.Load").
func WithFunc(name string) Func {
	return Func{name: name}
}

func (f Func) event(ctx context.Context, lvl zerolog.Level) *zerolog.Event {
	mu.RLock()
	l := base
	on := enabled
	mu.RUnlock()
	if !on {
		return nil
	}
	ev := l.WithLevel(lvl).Str("func", f.name)
	if ctx != nil {
		if cid, ok := ChannelID(ctx); ok {
			ev = ev.Str("channel", cid)
		}
	}
	return ev
}

func (f Func) Info(ctx context.Context, msg string) {
	if ev := f.event(ctx, zerolog.InfoLevel); ev != nil {
		ev.Msg(msg)
	}
}

func (f Func) Infof(ctx context.Context, format string, args ...any) {
	if ev := f.event(ctx, zerolog.InfoLevel); ev != nil {
		ev.Msgf(format, args...)
	}
}

func (f Func) Warnf(ctx context.Context, format string, args ...any) {
	if ev := f.event(ctx, zerolog.WarnLevel); ev != nil {
		ev.Msgf(format, args...)
	}
}

func (f Func) Errorf(ctx context.Context, format string, args ...any) {
	if ev := f.event(ctx, zerolog.ErrorLevel); ev != nil {
		ev.Msgf(format, args...)
	}
}

func (f Func) Debugf(ctx context.Context, format string, args ...any) {
	if ev := f.event(ctx, zerolog.DebugLevel); ev != nil {
		ev.Msgf(format, args...)
	}
}

type ctxKey struct{}

// WithChannelID attaches a channel id to ctx so every log line emitted
// through it is tagged with "channel=<id>".
func WithChannelID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// ChannelID returns the channel id attached via WithChannelID, if any.
func ChannelID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}
