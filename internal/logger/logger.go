package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ValidLogLevels enumerates the accepted log level names.
var ValidLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Logger wraps zap.SugaredLogger to provide a consistent logging interface
// across the project. It provides both structured logging (with fields) and
// printf-style logging methods.
type Logger struct {
	*zap.SugaredLogger
}

// NewLogger creates a new logger with the specified configuration.
// level can be "debug", "info", "warn", "error"
// development mode enables stack traces and uses console encoder
func NewLogger(level string, development bool) (*Logger, error) {
	var config zap.Config

	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{SugaredLogger: zapLogger.Sugar()}, nil
}

// NewNopLogger creates a no-op logger that discards all logs.
// Useful for testing.
func NewNopLogger() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// LevelProvider supplies per-component log levels and the development flag.
type LevelProvider interface {
	GetComponentLevel(component string) string
	IsDevelopment() bool
}

// NewComponentLoggerFromConfig creates a logger for a component honoring the
// configured per-component level. Falls back to a production "info" logger
// when the configuration is absent or invalid.
func NewComponentLoggerFromConfig(component string, cfg LevelProvider) *Logger {
	level := "info"
	development := false

	if cfg != nil {
		if l := cfg.GetComponentLevel(component); l != "" {
			level = l
		}
		development = cfg.IsDevelopment()
	}

	l, err := NewLogger(level, development)
	if err != nil {
		l, _ = NewLogger("info", false)
	}

	return l.WithComponent(component)
}

// WithComponent creates a child logger with a component name field.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{SugaredLogger: l.With("component", component)}
}

// WithNetwork creates a child logger with a network name field.
func (l *Logger) WithNetwork(network string) *Logger {
	return &Logger{SugaredLogger: l.With("network", network)}
}

// WithSource creates a child logger carrying the event source id and name.
func (l *Logger) WithSource(id, name string) *Logger {
	return &Logger{SugaredLogger: l.With("source", id, "contract", name)}
}

// Close flushes any buffered log entries.
func (l *Logger) Close() error {
	return l.Sync()
}
