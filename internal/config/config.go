package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName   string
	Database      DatabaseConfig
	RabbitMQ      RabbitMQConfig
	Registry      RegistryConfig
	Collaborators CollaboratorConfig
	Issuance      IssuanceConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL               string
	ActivityExchange  string
	CommandExchange   string
	CommandQueue      string
	CommandRoutingKey string
	DLQQueue          string
	PrefetchCount     int
}

// RegistryConfig holds registry connector settings, including the tiered
// retry budgets applied by the issuance pipeline.
type RegistryConfig struct {
	URL                       string
	RequestTimeout            time.Duration
	StillProcessingRetryCount int
	FirstLevelRetryCount      int
	SecondLevelRetryCount     int
	FirstLevelInitialBackoff  time.Duration
	SecondLevelInitialBackoff time.Duration
}

// CollaboratorConfig holds endpoints of the external services consulted
// by the worker.
type CollaboratorConfig struct {
	MeasurementsURL      string
	MeteringPointURL     string
	RequestTimeout       time.Duration
	FetchRetryMaxElapsed time.Duration
}

// IssuanceConfig holds sync scheduling settings.
type IssuanceConfig struct {
	MinimumAgeThresholdHours int
	SyncInterval             time.Duration
	MaxParallelSyncs         int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "certificate-issuance-worker"),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:               getEnv("RABBITMQ_URL", ""),
			ActivityExchange:  getEnv("RABBITMQ_ACTIVITY_EXCHANGE", "certificates.activity.exchange"),
			CommandExchange:   getEnv("RABBITMQ_COMMAND_EXCHANGE", "certificates.commands.exchange"),
			CommandQueue:      getEnv("RABBITMQ_COMMAND_QUEUE", "certificates.commands.queue"),
			CommandRoutingKey: getEnv("RABBITMQ_COMMAND_ROUTING_KEY", "certificates.command.#"),
			DLQQueue:          getEnv("RABBITMQ_DLQ_QUEUE", "certificates.commands.dlq"),
			PrefetchCount:     getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		Registry: RegistryConfig{
			URL:                       getEnv("REGISTRY_URL", ""),
			RequestTimeout:            getEnvAsDuration("REGISTRY_REQUEST_TIMEOUT", 30*time.Second),
			StillProcessingRetryCount: getEnvAsInt("REGISTRY_STILL_PROCESSING_RETRY_COUNT", 8),
			FirstLevelRetryCount:      getEnvAsInt("REGISTRY_FIRST_LEVEL_RETRY_COUNT", 5),
			SecondLevelRetryCount:     getEnvAsInt("REGISTRY_SECOND_LEVEL_RETRY_COUNT", 3),
			FirstLevelInitialBackoff:  getEnvAsDuration("REGISTRY_FIRST_LEVEL_BACKOFF", time.Second),
			SecondLevelInitialBackoff: getEnvAsDuration("REGISTRY_SECOND_LEVEL_BACKOFF", 30*time.Second),
		},
		Collaborators: CollaboratorConfig{
			MeasurementsURL:      getEnv("MEASUREMENTS_URL", ""),
			MeteringPointURL:     getEnv("METERINGPOINT_URL", ""),
			RequestTimeout:       getEnvAsDuration("COLLABORATOR_REQUEST_TIMEOUT", 30*time.Second),
			FetchRetryMaxElapsed: getEnvAsDuration("MEASUREMENTS_RETRY_MAX_ELAPSED", 2*time.Minute),
		},
		Issuance: IssuanceConfig{
			MinimumAgeThresholdHours: getEnvAsInt("MINIMUM_AGE_THRESHOLD_HOURS", 168),
			SyncInterval:             getEnvAsDuration("SYNC_INTERVAL", 5*time.Minute),
			MaxParallelSyncs:         getEnvAsInt("MAX_PARALLEL_SYNCS", 4),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	if cfg.Registry.URL == "" {
		return nil, fmt.Errorf("REGISTRY_URL is required but not set in environment variables")
	}
	if cfg.Collaborators.MeasurementsURL == "" {
		return nil, fmt.Errorf("MEASUREMENTS_URL is required but not set in environment variables")
	}
	if cfg.Collaborators.MeteringPointURL == "" {
		return nil, fmt.Errorf("METERINGPOINT_URL is required but not set in environment variables")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
