// Package worker implements the task-execution side of the queue service: a
// polling loop that takes one task at a time off the central queue, executes
// the model it names, and reports the outcome.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/npsg-lab/simq/internal/queueclient"
	"github.com/npsg-lab/simq/internal/registry"
)

// Runner drives the poll → execute → acknowledge loop. It is stateless
// across tasks and processes one task at a time; only the heartbeat companion
// runs alongside an execution.
type Runner struct {
	client   *queueclient.Client
	models   *registry.Registry
	executor *Executor
	logger   zerolog.Logger

	pollInterval   time.Duration
	errorSleepTime time.Duration
	maxErrors      int
}

// NewRunner creates a Runner.
func NewRunner(
	client *queueclient.Client,
	models *registry.Registry,
	executor *Executor,
	pollInterval, errorSleepTime time.Duration,
	maxErrors int,
	logger zerolog.Logger,
) *Runner {
	return &Runner{
		client:         client,
		models:         models,
		executor:       executor,
		logger:         logger,
		pollInterval:   pollInterval,
		errorSleepTime: errorSleepTime,
		maxErrors:      maxErrors,
	}
}

// Run probes the queue server once and then polls for tasks until ctx is
// cancelled. Transport errors never terminate the loop: the worker must ride
// out queue-server restarts.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.client.Info(ctx); err != nil {
		r.logger.Error().Err(err).Msg("initial queue server probe failed")
	} else {
		r.logger.Info().Msg("queue server reachable, entering poll loop")
	}

	errorCount := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		supported := r.models.Versions()
		task, status, err := r.client.PollTask(ctx, supported)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			errorCount++
			evt := r.logger.Error()
			if errorCount >= r.maxErrors {
				evt = evt.Bool("degraded", true)
			}
			evt.Err(err).Int("consecutive_errors", errorCount).Msg("poll failed")
			if !sleep(ctx, r.errorSleepTime) {
				return nil
			}
			continue
		}
		errorCount = 0

		switch {
		case task != nil:
			r.executor.Execute(ctx, task)
		case status == queueclient.StatusEmptyQueue:
			r.logger.Debug().Msg("no tasks available on server")
		case status == queueclient.StatusNoVersion:
			r.logger.Info().Msg("queue lacks any tasks with our model versions")
		}

		if !sleep(ctx, r.pollInterval) {
			return nil
		}
	}
}

// sleep waits d or until ctx is cancelled, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
