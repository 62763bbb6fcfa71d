package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vinylogix/api/internal/platform/requestctx"
)

// LoggerOptions describes the process-wide logger.
type LoggerOptions struct {
	Level       string
	Service     string
	Version     string
	Environment string
}

// NewLogger builds a JSON logger whose keys match what Cloud Logging parses: severity, message
// and timestamp. An unknown level falls back to info.
func NewLogger(opts LoggerOptions) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(opts.Level))
	if err != nil {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	base := map[string]string{
		"service":     opts.Service,
		"version":     opts.Version,
		"environment": opts.Environment,
	}
	cfg.InitialFields = make(map[string]any, len(base))
	for key, value := range base {
		if value != "" {
			cfg.InitialFields[key] = value
		}
	}
	return cfg.Build()
}

// WithLogger injects the logger into the provided context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// FromContext retrieves the logger from context, defaulting to a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// EventLogger adapts zap to the event callbacks the services accept. The request-scoped logger
// is preferred so events carry request and trace fields; fallback covers background work.
// Failure and retry events are logged as warnings.
func EventLogger(fallback *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := fallback
		if requestctx.HasLogger(ctx) {
			logger = requestctx.Logger(ctx)
		}

		zfields := make([]zap.Field, 0, len(fields)+1)
		zfields = append(zfields, zap.String("event", event))
		for key, value := range fields {
			zfields = append(zfields, zap.Any(key, value))
		}

		if isWarningEvent(event) {
			logger.Warn(event, zfields...)
			return
		}
		logger.Info(event, zfields...)
	}
}

func isWarningEvent(event string) bool {
	for _, suffix := range []string{"failed", "dropped", "exhausted", "unused", "retry"} {
		if strings.HasSuffix(event, suffix) {
			return true
		}
	}
	return false
}
