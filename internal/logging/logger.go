// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger configured for development or production. Every
// entry carries the service name.
func New(development bool) (*zap.Logger, error) {
	var (
		cfg zap.Config
		env string
	)
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		env = "dev"
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
		env = "prod"
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build(zap.Fields(zap.String("service", "site-audit")))
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", env, err)
	}
	return logger, nil
}

// ForScan scopes a logger to one scan invocation.
func ForScan(logger *zap.Logger, scanID, domain, mode string) *zap.Logger {
	return logger.With(zap.String("scan_id", scanID), zap.String("domain", domain), zap.String("mode", mode))
}
