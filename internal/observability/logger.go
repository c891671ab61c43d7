package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	globalLogger zerolog.Logger
	initOnce     sync.Once
)

// InitLogger initializes the global structured logger
func InitLogger(level string, pretty bool) {
	initOnce.Do(func() {
		configure(os.Stdout, level, pretty)
	})
}

// InitLoggerTo initializes the global logger on an arbitrary writer.
// Unlike InitLogger it always reconfigures, so tests can capture output.
func InitLoggerTo(w io.Writer, level string, pretty bool) {
	initOnce.Do(func() {})
	configure(w, level, pretty)
}

func configure(w io.Writer, level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		// Pretty console output for development
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}
	globalLogger = zerolog.New(w).With().Timestamp().Str("service", ServiceName).Logger()

	// Set as global logger
	log.Logger = globalLogger
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	// Initialize with defaults if not already initialized
	InitLogger("info", false)
	return globalLogger
}

// Component returns a sub-logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return GetLogger().With().Str("component", name).Logger()
}

// WithContext creates a logger with context fields
func WithContext(fields map[string]interface{}) zerolog.Logger {
	return GetLogger().With().Fields(fields).Logger()
}

// WithCorrelationID creates a logger with a correlation ID
func WithCorrelationID(correlationID string) zerolog.Logger {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return GetLogger().With().Str("correlation_id", correlationID).Logger()
}

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() string {
	return uuid.New().String()
}
