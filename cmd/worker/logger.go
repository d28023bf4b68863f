package main

import (
	"go.uber.org/zap"

	"github.com/energyorigin/certificate-worker/internal/config"
	"github.com/energyorigin/certificate-worker/internal/logging"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
