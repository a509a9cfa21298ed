// Command worker is the process entry point: it loads configuration, builds
// a flowexec.Worker, and runs it until SIGINT/SIGTERM triggers a graceful
// drain. Config load failures and dependency construction failures both
// exit 1; shutdown is ordered (ingress stops, then the store closes)
// before the process exits.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/flowforge/flowexec/internal/config"
	"github.com/flowforge/flowexec/internal/logging"
	"github.com/flowforge/flowexec/pkg/flowexec"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogPretty)

	log.Info().Str("worker_id", cfg.WorkerID).Msg("starting flowexec worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker, err := flowexec.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize worker")
		os.Exit(1)
	}
	defer worker.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()
	log.Info().Str("stream", cfg.QueueStreamName).Str("group", cfg.QueueGroupName).Msg("execution ingress running")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdown
	log.Info().Str("signal", sig.String()).Msg("shutdown initiated")

	cancel()
	<-done
	log.Info().Msg("worker stopped")
}
