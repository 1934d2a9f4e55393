package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a new logger. Level accepts zap's textual levels ("debug",
// "info", "warn", "error"); anything else falls back to info. Output is
// JSON in production and console format elsewhere.
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if os.Getenv("ENVIRONMENT") == "production" {
		cfg = zap.NewProductionConfig()
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}
