// Package logger provides the leveled, package-level logger used across the batch engine.
// Output goes through zerolog; call sites only see printf-style helpers.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = newLogger(os.Stderr, "text")
)

func newLogger(w io.Writer, format string) zerolog.Logger {
	if strings.EqualFold(format, "json") {
		return zerolog.New(w).With().Timestamp().Logger().Level(zerolog.InfoLevel)
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(cw).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// Configure replaces the output writer and format ("text" or "json") and applies level.
func Configure(w io.Writer, format, level string) {
	l := newLogger(w, format)
	mu.Lock()
	log = l
	mu.Unlock()
	SetLogLevel(level)
}

// SetLogLevel sets the minimum level. Unknown values fall back to INFO.
func SetLogLevel(level string) {
	lvl := zerolog.InfoLevel
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		lvl = zerolog.DebugLevel
	case "INFO", "":
	case "WARN", "WARNING":
		lvl = zerolog.WarnLevel
	case "ERROR":
		lvl = zerolog.ErrorLevel
	case "FATAL":
		lvl = zerolog.FatalLevel
	default:
		fmt.Fprintf(os.Stderr, "Unknown log level '%s' specified. Defaulting to INFO level.\n", level)
	}
	mu.Lock()
	log = log.Level(lvl)
	mu.Unlock()
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := log
	return &l
}

func Debugf(format string, v ...interface{}) {
	current().Debug().Msgf(format, v...)
}

func Infof(format string, v ...interface{}) {
	current().Info().Msgf(format, v...)
}

func Warnf(format string, v ...interface{}) {
	current().Warn().Msgf(format, v...)
}

func Errorf(format string, v ...interface{}) {
	current().Error().Msgf(format, v...)
}

// Fatalf logs and exits the process with status 1.
func Fatalf(format string, v ...interface{}) {
	current().Fatal().Msgf(format, v...)
}

// GormWriter satisfies gorm's logger.Writer so SQL traces land in the same stream.
type GormWriter struct{}

func (GormWriter) Printf(format string, v ...interface{}) {
	Debugf(strings.TrimSpace(format), v...)
}
