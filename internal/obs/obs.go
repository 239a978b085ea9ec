// Package obs wires structured logging for the server.
package obs

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger tuned for the event loop: cheap enough to call
// on every readiness event, but able to be dropped to Debug for tracing
// accept/read/write/cgi activity.
func New(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Development = true
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return cfg.Build()
}

// Named returns a child logger tagged with the given subsystem name,
// replacing the call-site string tag the reference implementation passed
// to every log call (e.g. "Server::handleCgiRequest").
func Named(log *zap.Logger, name string) *zap.Logger {
	return log.Named(name)
}
