// Package logging provides the ambient structured-logging component used
// by both processes. It wraps rs/zerolog for emission while keeping
// logger/logger.go's idiom: a package-level sync.Once-initialized default,
// per-component named child loggers, and a bounded ring buffer (1000
// records, see GlobalBuffer) every record is also written to so recent
// records can be read without scraping stdout. The fleet TUI
// (cmd/fleetview) does not read this buffer.
//
// Replaces logger/logger.go's hand-rolled core (fmt.Sprintf formatting
// over io.Writer outputs) with zerolog, since no example repo in the
// retrieval pack hand-rolls structured logging when zerolog is available.
package logging

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once         sync.Once
	base         zerolog.Logger
	globalBuffer *Buffer
)

func ensureInit() {
	once.Do(func() {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		globalBuffer = NewBuffer(1000)
		writer := zerolog.MultiLevelWriter(os.Stdout, globalBuffer)
		base = zerolog.New(writer).With().Timestamp().Logger()
	})
}

// GlobalBuffer returns the shared ring buffer every logger writes into.
func GlobalBuffer() *Buffer {
	ensureInit()
	return globalBuffer
}

// Logger is the component-facing logging interface.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Error(msg string, kv ...any)
	With(key string, value any) Logger
}

type zlogger struct {
	z zerolog.Logger
}

// For returns a named child logger for component, e.g. "gossip", "intake".
func For(component string) Logger {
	ensureInit()
	return &zlogger{z: base.With().Str("component", component).Logger()}
}

func (l *zlogger) Debug(msg string, kv ...any) { event(l.z.Debug(), msg, kv) }
func (l *zlogger) Info(msg string, kv ...any)  { event(l.z.Info(), msg, kv) }
func (l *zlogger) Error(msg string, kv ...any) { event(l.z.Error(), msg, kv) }

func (l *zlogger) With(key string, value any) Logger {
	return &zlogger{z: l.z.With().Interface(key, value).Logger()}
}

func event(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}
