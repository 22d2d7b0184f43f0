// Package logging builds the process-wide zap logger and the per-request
// correlation ID helper used across the proxy.
package logging

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Logger wraps zap.SugaredLogger so the rest of the proxy depends on this
// package's type rather than importing zap directly.
type Logger struct {
	*zap.SugaredLogger
}

// New builds a production JSON logger, or a human-readable console logger
// when debug is true.
func New(debug bool) (*Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: logger.Sugar()}, nil
}

// With returns a Logger with structured context attached to every
// subsequent entry, mirroring zap.SugaredLogger.With but preserving the
// wrapper type across the call.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(args...)}
}

// RequestID returns a fresh correlation ID for one inbound request.
func RequestID() string {
	return uuid.NewString()
}
