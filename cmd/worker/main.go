package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/energyorigin/certificate-worker/internal/config"
)

func main() {
	loadDotEnv()

	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideDBPool,
			ProvideRepository,
			ProvideStore,
			ProvideMQConnection,
			ProvidePublisher,
			ProvideRegistryClient,
			ProvideMeasurementsClient,
			ProvideMeteringPointClient,
			ProvideContractState,
			ProvideSlidingWindowState,
			ProvideContractService,
			ProvideIssuer,
			ProvideCommandProcessor,
			ProvideSyncer,
		),
		fx.Invoke(startWorker),
	)

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()
	if err := app.Start(startCtx); err != nil {
		panic(err)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Println("error stopping app:", err)
	}
}

// loadDotEnv looks for a .env file in the working directory and its
// parents; containers usually carry the environment directly.
func loadDotEnv() {
	paths := []string{".env"}
	if workDir, err := os.Getwd(); err == nil {
		paths = append(paths,
			filepath.Join(filepath.Dir(workDir), ".env"),
			filepath.Join(filepath.Dir(filepath.Dir(workDir)), ".env"),
		)
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}
