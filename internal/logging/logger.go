package logging

import (
	"go.uber.org/zap"
)

// NewLogger creates a new structured logger
func NewLogger(serviceName string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithGSRN returns a logger scoped to one metering point.
func WithGSRN(logger *zap.Logger, gsrn string) *zap.Logger {
	return logger.With(zap.String("gsrn", gsrn))
}
