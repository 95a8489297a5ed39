package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sink is the positional-format logging contract consumed by the bridge
// and transport. Implementations must be safe for concurrent use.
type Sink interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errf(format string, args ...any)
}

// ZerologSink adapts one zerolog.Logger to Sink.
type ZerologSink struct {
	Logger zerolog.Logger
}

func NewZerologSink(logger zerolog.Logger) ZerologSink {
	return ZerologSink{Logger: logger}
}

func (s ZerologSink) Debugf(format string, args ...any) { s.Logger.Debug().Msgf(format, args...) }
func (s ZerologSink) Infof(format string, args ...any)  { s.Logger.Info().Msgf(format, args...) }
func (s ZerologSink) Warnf(format string, args ...any)  { s.Logger.Warn().Msgf(format, args...) }
func (s ZerologSink) Errf(format string, args ...any)   { s.Logger.Error().Msgf(format, args...) }

// consoleSink writes through whatever global logger Configure installed.
type consoleSink struct{}

// Console returns the fallback sink used when no structured logger is injected.
func Console() Sink {
	return consoleSink{}
}

func (consoleSink) Debugf(format string, args ...any) { Debugf(format, args...) }
func (consoleSink) Infof(format string, args ...any)  { Infof(format, args...) }
func (consoleSink) Warnf(format string, args ...any)  { Warnf(format, args...) }
func (consoleSink) Errf(format string, args ...any)   { Errf(format, args...) }

// OrConsole returns s, or the console fallback when s is nil.
func OrConsole(s Sink) Sink {
	if s == nil {
		return Console()
	}
	return s
}

func Debugf(format string, args ...any) { log.Debug().Msgf(format, args...) }
func Infof(format string, args ...any)  { log.Info().Msgf(format, args...) }
func Warnf(format string, args ...any)  { log.Warn().Msgf(format, args...) }
func Errf(format string, args ...any)   { log.Error().Msgf(format, args...) }
