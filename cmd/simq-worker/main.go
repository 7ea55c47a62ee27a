// Package main is the entry point for the worker service. A worker polls the
// central queue for tasks, executes one model at a time, emails results to
// the submitter, and acknowledges the outcome back to the queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/npsg-lab/simq/internal/config"
	"github.com/npsg-lab/simq/internal/mail"
	"github.com/npsg-lab/simq/internal/queueclient"
	"github.com/npsg-lab/simq/internal/registry"
	"github.com/npsg-lab/simq/internal/worker"
	"github.com/npsg-lab/simq/observability/logging"
	"github.com/npsg-lab/simq/observability/metrics"
)

func main() {
	configPath := flag.String("config", "config.yaml", "configuration file path")
	logFilename := flag.String("log-filename", "-", "log filename (use '-' for stderr)")
	flag.Parse()

	logger, err := logging.Open(*logFilename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simq-worker: %v\n", err)
		os.Exit(1)
	}
	logger = logging.WithComponent(logger, "worker")

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

	collector := metrics.New()

	// Expose /metrics and /healthz on a dedicated port so Prometheus can
	// scrape this service independently from the queue server.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"simq-worker"}`))
	})
	go func() {
		addr := fmt.Sprintf(":%d", cfg.WorkerMetricsPort)
		logger.Info().Str("addr", addr).Msg("worker metrics server listening")
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	baseDir := filepath.Join(cfg.WorkingDirectory, "simq-worker")
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		logger.Error().Err(err).Msg("cannot create working directory root")
		os.Exit(1)
	}
	worker.SweepStaleWorkdirs(baseDir, logger)

	client := queueclient.New(cfg.QueueURL(), cfg.RequestSecret, 0)
	sender := mail.NewSMTPSender(cfg.Mail)
	executor := worker.NewExecutor(client, models, sender, baseDir,
		cfg.KeepAliveInterval.Std(), collector, logger)
	runner := worker.NewRunner(client, models, executor,
		cfg.PollInterval.Std(), cfg.ErrorSleepTime.Std(), cfg.MaxErrors, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info().Msg("worker booted up, entering poll loop")
	if err := runner.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker error")
		os.Exit(1)
	}
	logger.Info().Msg("worker stopped")
}
