// Package logging builds the zap loggers used across billing-engine and
// keeps caller-supplied values out of the logs in a safe form.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger returns a production logger, or a human-readable development
// logger when env is "local".
func NewLogger(env string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
