package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
)

// NewLogger returns a new *zap.Logger, in development mode (human
// readable, debug level) when COREPIPE_DEBUG=true and production mode
// (JSON, info level) otherwise.
func NewLogger() *zap.Logger {
	var config zap.Config
	debugMode, ok := os.LookupEnv("COREPIPE_DEBUG")
	if ok && debugMode == "true" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.OutputPaths = []string{"stdout"}
	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger.Named("corepipe")
}

type loggerKey struct{}

// WithLogger returns a copy of parent context carrying logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a freshly built
// default logger if none was attached.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return logger
	}
	return NewLogger()
}
