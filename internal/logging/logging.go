// Package logging wires the structured-log capability the core consumes
// to github.com/rs/zerolog. Callers attach structured fields rather than
// interpolating strings; the Raft node logs role transitions and taken
// snapshots at info level and persistence, snapshot, compaction and apply
// failures at error level. RPC rejections are not logged.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the capability the raft core and its collaborators depend on.
type Logger interface {
	With(fields map[string]any) Logger
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string, err error)
}

type zeroLogger struct {
	zl zerolog.Logger
}

// New builds a Logger writing one JSON object per event to w, with a
// timestamp field.
func New(w io.Writer) Logger {
	return zeroLogger{zl: zerolog.New(w).With().Timestamp().Logger()}
}

// Default builds a Logger writing to stderr.
func Default() Logger { return New(os.Stderr) }

// Nop builds a Logger that discards everything, for tests that don't
// assert on log output.
func Nop() Logger { return zeroLogger{zl: zerolog.Nop()} }

func (z zeroLogger) With(fields map[string]any) Logger {
	ctx := z.zl.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return zeroLogger{zl: ctx.Logger()}
}

func (z zeroLogger) Debug(msg string)            { z.zl.Debug().Msg(msg) }
func (z zeroLogger) Info(msg string)             { z.zl.Info().Msg(msg) }
func (z zeroLogger) Warn(msg string)             { z.zl.Warn().Msg(msg) }
func (z zeroLogger) Error(msg string, err error) { z.zl.Error().Err(err).Msg(msg) }
