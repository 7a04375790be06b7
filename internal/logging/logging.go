package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Log levels, ordered from least to most verbose.
const (
	LevelError = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

type Config struct {
	Level  int
	Output io.Writer
}

// Logger is a thin leveled wrapper around zerolog. All diagnostic output of
// the packager goes through it so that artifacts and reports stay the only
// thing written to stdout.
type Logger struct {
	logger zerolog.Logger
}

func NewLogger(c Config) *Logger {
	out := c.Output
	if out == nil {
		out = os.Stderr
	}

	w := zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	return &Logger{
		logger: zerolog.New(w).Level(zerologLevel(c.Level)).With().Timestamp().Logger(),
	}
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.logger.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.logger.Error().Msgf(format, args...)
}

// WithField returns a copy of the logger with an extra field attached to
// every message.
func (l *Logger) WithField(key, value string) *Logger {
	return &Logger{logger: l.logger.With().Str(key, value).Logger()}
}

func zerologLevel(level int) zerolog.Level {
	switch level {
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
