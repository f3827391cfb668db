package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Stage logs the start of a named pipeline stage and returns a function
// that logs its completion with the elapsed time and outcome.
func Stage(l Logger, name string) func(err error) {
	start := time.Now()
	l.WithField("stage", name).Debug("Stage started")

	return func(err error) {
		fields := map[string]interface{}{
			"stage":    name,
			"duration": time.Since(start),
		}
		if err != nil {
			l.WithError(err).ErrorWithFields("Stage failed", fields)
			return
		}
		l.InfoWithFields("Stage completed", fields)
	}
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, config map[string]interface{}) {
	logger := l.WithField("component", component)
	if len(config) > 0 {
		logger = logger.WithFields(config)
	}
	logger.Info("Component started")
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                               { nop := zerolog.Nop(); return &nop }
