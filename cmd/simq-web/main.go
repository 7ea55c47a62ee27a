// Package main is the entry point for the browser-facing front-end. It
// serves the model submission forms and relays submissions and confirmations
// to the central queue.
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

	"github.com/npsg-lab/simq/internal/config"
	"github.com/npsg-lab/simq/internal/mail"
	"github.com/npsg-lab/simq/internal/queueclient"
	"github.com/npsg-lab/simq/internal/registry"
	"github.com/npsg-lab/simq/internal/web"
	"github.com/npsg-lab/simq/observability/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "configuration file path")
	logFilename := flag.String("log-filename", "-", "log filename (use '-' for stderr)")
	clientPort := flag.Int("client-port", 8000, "http port for serving html")
	flag.Parse()

	logger, err := logging.Open(*logFilename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simq-web: %v\n", err)
		os.Exit(1)
	}
	logger = logging.WithComponent(logger, "web")

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

	client := queueclient.New(cfg.QueueURL(), cfg.RequestSecret, 30*time.Second)
	sender := mail.NewSMTPSender(cfg.Mail)
	handler := web.NewHandler(client, models, sender, cfg.WebBaseURL,
		cfg.KeepAliveTimeout.Std(), logger)
	router := web.NewRouter(handler)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", *clientPort),
		Handler: router,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info().Int("port", *clientPort).Msg("web front-end listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info().Msg("web front-end stopped")
}
