package relay

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the sink the client reports connection/reconnect/protocol
// events to. It generalizes four separate severity-scoped callback hooks
// (error, disconnect, reconnect, closed) into one injectable interface
// so embedders can plug in whatever structured logger their application
// already uses.
type Logger interface {
	Debugf(format string, v ...any)
	Noticef(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

// zerologLogger is the default Logger, backed by github.com/rs/zerolog.
type zerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger builds the default Logger, writing structured JSON logs
// to os.Stderr tagged with component="relay".
func NewZerologLogger() Logger {
	l := zerolog.New(os.Stderr).With().Timestamp().Str("component", "relay").Logger()
	return &zerologLogger{log: l}
}

func (z *zerologLogger) Debugf(format string, v ...any)  { z.log.Debug().Msgf(format, v...) }
func (z *zerologLogger) Noticef(format string, v ...any) { z.log.Info().Msgf(format, v...) }
func (z *zerologLogger) Warnf(format string, v ...any)   { z.log.Warn().Msgf(format, v...) }
func (z *zerologLogger) Errorf(format string, v ...any)  { z.log.Error().Msgf(format, v...) }

// noopLogger discards everything; used when the caller passes NoLogger().
type noopLogger struct{}

func (noopLogger) Debugf(string, ...any)  {}
func (noopLogger) Noticef(string, ...any) {}
func (noopLogger) Warnf(string, ...any)   {}
func (noopLogger) Errorf(string, ...any)  {}
