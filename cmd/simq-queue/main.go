// Package main is the entry point for the central queue server. It holds the
// authoritative task registry in memory, mediates between submitters and
// workers, and enforces the confirmation and liveness timeouts.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/npsg-lab/simq/internal/archive"
	"github.com/npsg-lab/simq/internal/config"
	"github.com/npsg-lab/simq/internal/events"
	"github.com/npsg-lab/simq/internal/queue"
	"github.com/npsg-lab/simq/internal/registry"
	"github.com/npsg-lab/simq/observability/logging"
	"github.com/npsg-lab/simq/observability/metrics"
)

func main() {
	configPath := flag.String("config", "config.yaml", "configuration file path")
	logFilename := flag.String("log-filename", "-", "log filename (use '-' for stderr)")
	flag.Parse()

	logger, err := logging.Open(*logFilename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simq-queue: %v\n", err)
		os.Exit(1)
	}
	logger = logging.WithComponent(logger, "queue")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("fatal configuration error")
		os.Exit(1)
	}

	models, err := registry.New(cfg.ModelDirectory, logger)
	if err != nil {
		logger.Error().Err(err).Msg("cannot load model registry")
		os.Exit(1)
	}
	if err := models.StartRescan(cfg.ModelRescanEvery); err != nil {
		logger.Error().Err(err).Msg("cannot start model rescan")
		os.Exit(1)
	}
	defer models.Stop()

	var recorder archive.Recorder = archive.Noop{}
	if cfg.ArchiveDSN != "" {
		pg, err := archive.OpenPostgres(cfg.ArchiveDSN)
		if err != nil {
			logger.Error().Err(err).Msg("cannot open task archive")
			os.Exit(1)
		}
		recorder = pg
		logger.Info().Msg("terminal task outcomes will be archived to postgres")
	}

	hub := events.NewHub(logger)
	state := queue.NewState(queue.Options{
		ConfirmTimeout:   cfg.ConfirmTimeout.Std(),
		HeartbeatTimeout: cfg.HeartbeatTimeout.Std(),
		WorkerWindow:     2 * cfg.PollInterval.Std(),
		Models:           models,
		Metrics:          metrics.New(),
		Hub:              hub,
		Archive:          recorder,
		Logger:           logger,
	})

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(fmt.Sprintf("@every %s", state.SweepInterval()), state.Sweep); err != nil {
		logger.Error().Err(err).Msg("cannot schedule expiry sweeper")
		os.Exit(1)
	}
	sweeper.Start()
	defer sweeper.Stop()

	router := queue.NewRouter(state, hub, cfg.RequestSecret)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.QueueServerPort),
		Handler: router,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info().Int("port", cfg.QueueServerPort).Msg("queue server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info().Msg("queue server stopped")
}
