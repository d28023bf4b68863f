package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/energyorigin/certificate-worker/internal/config"
	"github.com/energyorigin/certificate-worker/internal/db"
	"github.com/energyorigin/certificate-worker/internal/measurements"
	"github.com/energyorigin/certificate-worker/internal/meteringpoint"
	"github.com/energyorigin/certificate-worker/internal/mq"
	"github.com/energyorigin/certificate-worker/internal/registry"
	"github.com/energyorigin/certificate-worker/internal/repository"
	"github.com/energyorigin/certificate-worker/internal/service"
	"github.com/energyorigin/certificate-worker/internal/syncer"
)

// startWorker wires the syncer loop and the command consumer into the fx
// lifecycle.
func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	s *syncer.Syncer,
	commands *service.CommandProcessor,
	publisher *mq.Publisher,
) error {
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:       conn,
		Queue:            cfg.RabbitMQ.CommandQueue,
		DLQQueue:         cfg.RabbitMQ.DLQQueue,
		Exchange:         cfg.RabbitMQ.CommandExchange,
		RoutingKey:       cfg.RabbitMQ.CommandRoutingKey,
		PrefetchCount:    cfg.RabbitMQ.PrefetchCount,
		Logger:           logger,
		MessageProcessor: commands.ProcessMessage,
	})
	if err != nil {
		cancel()
		return err
	}

	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := consumer.Start(ctx); err != nil {
				return err
			}
			go func() {
				defer close(done)
				s.Run(ctx)
			}()
			logger.Info("worker started",
				zap.String("command_queue", cfg.RabbitMQ.CommandQueue),
				zap.Duration("sync_interval", cfg.Issuance.SyncInterval),
			)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			if err := publisher.Close(); err != nil {
				logger.Error("failed to close publisher", zap.Error(err))
			}
			logger.Info("worker stopped gracefully")
			return nil
		},
	})

	return nil
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideStore exposes the repository behind the service store interface
func ProvideStore(repo *repository.Repository) service.Store {
	return repo
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the activity-event publisher
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ.ActivityExchange, logger)
}

// ProvideRegistryClient creates the registry connector client
func ProvideRegistryClient(cfg *config.Config, logger *zap.Logger) service.RegistryConnector {
	return registry.NewClient(cfg.Registry.URL, cfg.Registry.RequestTimeout, logger)
}

// ProvideMeasurementsClient creates the measurement source client
func ProvideMeasurementsClient(cfg *config.Config, logger *zap.Logger) service.MeasurementSource {
	return measurements.NewClient(
		cfg.Collaborators.MeasurementsURL,
		cfg.Collaborators.RequestTimeout,
		cfg.Collaborators.FetchRetryMaxElapsed,
		logger,
	)
}

// ProvideMeteringPointClient creates the ownership/eligibility client
func ProvideMeteringPointClient(cfg *config.Config, logger *zap.Logger) service.MeteringPointService {
	return meteringpoint.NewClient(cfg.Collaborators.MeteringPointURL, cfg.Collaborators.RequestTimeout, logger)
}

// ProvideContractState creates the contract state service
func ProvideContractState(store service.Store, logger *zap.Logger) *service.ContractState {
	return service.NewContractState(store, logger)
}

// ProvideSlidingWindowState creates the sliding window state service
func ProvideSlidingWindowState(store service.Store) *service.SlidingWindowState {
	return service.NewSlidingWindowState(store)
}

// ProvideContractService creates the contract creation/edit service
func ProvideContractService(store service.Store, points service.MeteringPointService, logger *zap.Logger) *service.ContractService {
	return service.NewContractService(store, points, logger)
}

// ProvideIssuer creates the issuance pipeline
func ProvideIssuer(
	store service.Store,
	source service.MeasurementSource,
	connector service.RegistryConnector,
	publisher *mq.Publisher,
	windowState *service.SlidingWindowState,
	cfg *config.Config,
	logger *zap.Logger,
) *service.Issuer {
	return service.NewIssuer(store, source, connector, publisher, windowState, service.RetryPolicy{
		StillProcessingRetryCount: cfg.Registry.StillProcessingRetryCount,
		FirstLevelRetryCount:      cfg.Registry.FirstLevelRetryCount,
		SecondLevelRetryCount:     cfg.Registry.SecondLevelRetryCount,
		FirstLevelInitialBackoff:  cfg.Registry.FirstLevelInitialBackoff,
		SecondLevelInitialBackoff: cfg.Registry.SecondLevelInitialBackoff,
	}, logger)
}

// ProvideCommandProcessor creates the command processor
func ProvideCommandProcessor(contracts *service.ContractService, contractState *service.ContractState, store service.Store, logger *zap.Logger) *service.CommandProcessor {
	return service.NewCommandProcessor(contracts, contractState, store, logger)
}

// ProvideSyncer creates the recurring synchronization worker
func ProvideSyncer(contractState *service.ContractState, issuer *service.Issuer, cfg *config.Config, logger *zap.Logger) *syncer.Syncer {
	return syncer.New(contractState, issuer, syncer.Config{
		Interval:                 cfg.Issuance.SyncInterval,
		MinimumAgeThresholdHours: cfg.Issuance.MinimumAgeThresholdHours,
		MaxParallel:              cfg.Issuance.MaxParallelSyncs,
	}, logger)
}
