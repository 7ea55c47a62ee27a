package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/npsg-lab/simq/internal/queueclient"
)

// KeepAlive is the heartbeat companion paired 1:1 with an in-flight task. It
// periodically refreshes the task's heartbeat at the queue so the task is not
// reclaimed while the model executes. Heartbeat failures are tracked for
// diagnostics but never abort execution: if the queue really has forgotten
// the task, the pre-mail ownership probe catches it.
type KeepAlive struct {
	client   *queueclient.Client
	taskID   string
	interval time.Duration
	logger   zerolog.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// StartKeepAlive launches the heartbeat loop for the given task. Call Stop on
// every exit path from task execution.
func StartKeepAlive(client *queueclient.Client, taskID string, interval time.Duration, logger zerolog.Logger) *KeepAlive {
	k := &KeepAlive{
		client:   client,
		taskID:   taskID,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
	k.wg.Add(1)
	go k.loop()
	return k
}

func (k *KeepAlive) loop() {
	defer k.wg.Done()
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	fails := 0
	for {
		select {
		case <-k.done:
			return
		case <-ticker.C:
			held, err := k.client.KeepAlive(context.Background(), k.taskID)
			switch {
			case err != nil:
				fails++
				k.logger.Error().Err(err).Int("consecutive_failures", fails).
					Msg("heartbeat request failed")
			case !held:
				fails++
				k.logger.Warn().Msg("queue no longer holds our task")
			default:
				fails = 0
			}
		}
	}
}

// Stop terminates the heartbeat loop and waits for it to exit. Safe to call
// more than once.
func (k *KeepAlive) Stop() {
	select {
	case <-k.done:
	default:
		close(k.done)
	}
	k.wg.Wait()
}
