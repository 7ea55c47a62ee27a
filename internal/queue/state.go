// Package queue implements the central queue server: the authoritative task
// registry, its confirmation/heartbeat/expiry state machine, and the HTTP API
// that submitters and workers use.
package queue

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/npsg-lab/simq/domain"
	"github.com/npsg-lab/simq/internal/archive"
	"github.com/npsg-lab/simq/internal/events"
	"github.com/npsg-lab/simq/observability/metrics"
)

// ConfirmResult is the outcome of a confirmation attempt.
type ConfirmResult string

const (
	ConfirmOkay     ConfirmResult = "okay"
	ConfirmExpired  ConfirmResult = "expired"
	ConfirmNotFound ConfirmResult = "notfound"
)

// PollStatus distinguishes the two empty poll outcomes so workers can log
// them differently.
type PollStatus string

const (
	PollEmptyQueue PollStatus = "empty_queue"
	PollNoVersion  PollStatus = "no_version"
	PollTask       PollStatus = "task"
)

// ModelSource is the slice of the registry the queue needs to validate
// submissions.
type ModelSource interface {
	Get(name, version string) (*domain.ModelSpec, error)
}

// Options configures a State.
type Options struct {
	ConfirmTimeout   time.Duration
	HeartbeatTimeout time.Duration
	// Window within which a worker poll counts toward has_workers. Defaults
	// to twice the worker poll interval.
	WorkerWindow time.Duration
	// How long terminal task ids and consumed codes are retained for
	// idempotent duplicate acknowledgements.
	TerminalRetention time.Duration

	Models   ModelSource
	Metrics  *metrics.Collector
	Hub      *events.Hub
	Archive  archive.Recorder
	Logger   zerolog.Logger
	// Now is the clock; defaults to time.Now. Tests inject a virtual clock.
	Now func() time.Time
}

// State holds the queue's four indexed collections. Every mutation happens
// under a single mutex, so no partial updates are observable.
type State struct {
	mu sync.Mutex

	// Unconfirmed tasks by confirmation code.
	unconfirmed map[string]*domain.Task
	// Runnable tasks in FIFO order by confirmation time.
	runnable []*domain.Task
	// In-flight tasks by task id.
	inflight map[string]*domain.Task
	// Terminal states by task id, retained briefly for idempotent acks.
	terminal map[string]terminalEntry
	// Consumed confirmation codes, retained so a repeated confirmation
	// reports its prior outcome instead of "notfound".
	consumedCodes map[string]codeOutcome

	lastWorkerPoll time.Time

	opts    Options
	now     func() time.Time
	archive archive.Recorder
	logger  zerolog.Logger
}

type terminalEntry struct {
	state domain.TaskState
	at    time.Time
}

type codeOutcome struct {
	result ConfirmResult
	at     time.Time
}

// NewState creates an empty queue State.
func NewState(opts Options) *State {
	if opts.WorkerWindow == 0 {
		opts.WorkerWindow = 20 * time.Second
	}
	if opts.TerminalRetention == 0 {
		opts.TerminalRetention = 5 * time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	rec := opts.Archive
	if rec == nil {
		rec = archive.Noop{}
	}
	return &State{
		unconfirmed:   make(map[string]*domain.Task),
		inflight:      make(map[string]*domain.Task),
		terminal:      make(map[string]terminalEntry),
		consumedCodes: make(map[string]codeOutcome),
		opts:          opts,
		now:           now,
		archive:       rec,
		logger:        opts.Logger,
	}
}

// newConfirmationCode issues a short single-use token.
func newConfirmationCode() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}

// Submit validates the task against the model registry, assigns it an id and
// a confirmation code, and stores it as unconfirmed.
func (s *State) Submit(task *domain.Task) (*domain.Task, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	spec, err := s.opts.Models.Get(task.ModelName, task.ModelVersion)
	if err != nil {
		return nil, err
	}
	if err := spec.ValidateAssignment(task.Parameters); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task.ID = uuid.New().String()
	task.ConfirmationCode = newConfirmationCode()
	task.State = domain.TaskStateUnconfirmed
	task.CreatedAt = s.now()
	s.unconfirmed[task.ConfirmationCode] = task

	s.count(func(c *metrics.Collector) { c.TasksSubmitted.WithLabelValues(task.ModelName).Inc() })
	s.publish(events.EventTaskSubmitted, task)
	s.logger.Info().Str("task_id", task.ID).Str("model", task.ModelName).Msg("task submitted")
	return task, nil
}

// Confirm consumes a confirmation code, releasing its task into the runnable
// pool in FIFO arrival order. A previously consumed or expired code reports
// its prior outcome.
func (s *State) Confirm(code string) ConfirmResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.consumedCodes[code]; ok {
		return prior.result
	}
	task, ok := s.unconfirmed[code]
	if !ok {
		return ConfirmNotFound
	}

	delete(s.unconfirmed, code)
	now := s.now()
	task.State = domain.TaskStateRunnable
	task.ConfirmedAt = now
	s.runnable = append(s.runnable, task)
	s.consumedCodes[code] = codeOutcome{result: ConfirmOkay, at: now}

	s.count(func(c *metrics.Collector) {
		c.TasksConfirmed.Inc()
		c.QueueDepth.Set(float64(len(s.runnable)))
	})
	s.publish(events.EventTaskConfirmed, task)
	s.logger.Info().Str("task_id", task.ID).Msg("task confirmed")
	return ConfirmOkay
}

// HasWorkers reports whether any worker has polled within the worker window.
func (s *State) HasWorkers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastWorkerPoll.IsZero() {
		return false
	}
	return s.now().Sub(s.lastWorkerPoll) <= s.opts.WorkerWindow
}

// Poll hands out the first runnable task whose model and version the calling
// worker supports, marking it in-flight. The empty_queue/no_version
// distinction is preserved for worker-side logging.
func (s *State) Poll(supported domain.VersionSet) (*domain.Task, PollStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastWorkerPoll = s.now()

	if len(s.runnable) == 0 {
		s.count(func(c *metrics.Collector) { c.WorkerPolls.WithLabelValues(string(PollEmptyQueue)).Inc() })
		return nil, PollEmptyQueue
	}
	for i, task := range s.runnable {
		if !supported.Supports(task.ModelName, task.ModelVersion) {
			continue
		}
		s.runnable = append(s.runnable[:i], s.runnable[i+1:]...)
		now := s.now()
		task.State = domain.TaskStateInFlight
		task.AssignedAt = now
		task.LastHeartbeatAt = now
		s.inflight[task.ID] = task

		s.count(func(c *metrics.Collector) {
			c.WorkerPolls.WithLabelValues(string(PollTask)).Inc()
			c.QueueDepth.Set(float64(len(s.runnable)))
			c.InFlightTasks.Set(float64(len(s.inflight)))
		})
		s.publish(events.EventTaskAssigned, task)
		s.logger.Info().Str("task_id", task.ID).Str("model", task.ModelName).Msg("task assigned to worker")
		return task, PollTask
	}
	s.count(func(c *metrics.Collector) { c.WorkerPolls.WithLabelValues(string(PollNoVersion)).Inc() })
	return nil, PollNoVersion
}

// KeepAlive refreshes the heartbeat timestamp for an in-flight task and
// reports whether the queue still considers the task held.
func (s *State) KeepAlive(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.inflight[taskID]
	if !ok {
		return false
	}
	task.LastHeartbeatAt = s.now()
	s.count(func(c *metrics.Collector) { c.WorkerHeartbeats.Inc() })
	return true
}

// HasTask reports whether the task is still in-flight. Workers probe this
// before committing to the result mail.
func (s *State) HasTask(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[taskID]
	return ok
}

// Succeed acknowledges successful completion of an in-flight task. A late or
// duplicate acknowledgement is a silent no-op.
func (s *State) Succeed(taskID string) {
	s.finish(taskID, domain.TaskStateDone, events.EventTaskDone)
}

// Fail acknowledges failure of an in-flight task. Failures are terminal:
// model errors are deterministic, so the task is not requeued.
func (s *State) Fail(taskID string) {
	s.finish(taskID, domain.TaskStateFailed, events.EventTaskFailed)
}

func (s *State) finish(taskID string, state domain.TaskState, event events.EventType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.inflight[taskID]
	if !ok {
		// Already terminal, reclaimed, or unknown.
		return
	}
	delete(s.inflight, taskID)
	now := s.now()
	task.State = state
	s.terminal[taskID] = terminalEntry{state: state, at: now}

	s.count(func(c *metrics.Collector) {
		c.TasksTotal.WithLabelValues(string(state)).Inc()
		c.InFlightTasks.Set(float64(len(s.inflight)))
	})
	s.publish(event, task)
	s.logger.Info().Str("task_id", taskID).Str("state", string(state)).Msg("task finished")

	if err := s.archive.Record(archive.Entry{
		TaskID:       task.ID,
		ModelName:    task.ModelName,
		ModelVersion: task.ModelVersion,
		EmailAddress: task.EmailAddress,
		Outcome:      string(state),
		SubmittedAt:  task.CreatedAt,
		FinishedAt:   now,
	}); err != nil {
		s.logger.Error().Err(err).Str("task_id", taskID).Msg("archive record failed")
	}
}

// Sweep performs one expiry pass: unconfirmed tasks past the confirmation
// timeout expire, in-flight tasks past the heartbeat timeout return to the
// head of the runnable queue, and stale terminal entries are purged.
func (s *State) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	for code, task := range s.unconfirmed {
		if now.Sub(task.CreatedAt) <= s.opts.ConfirmTimeout {
			continue
		}
		delete(s.unconfirmed, code)
		task.State = domain.TaskStateExpired
		s.consumedCodes[code] = codeOutcome{result: ConfirmExpired, at: now}
		s.count(func(c *metrics.Collector) { c.TasksExpired.Inc() })
		s.publish(events.EventTaskExpired, task)
		s.logger.Info().Str("task_id", task.ID).Msg("unconfirmed task expired")
	}

	for id, task := range s.inflight {
		if now.Sub(task.LastHeartbeatAt) <= s.opts.HeartbeatTimeout {
			continue
		}
		delete(s.inflight, id)
		task.State = domain.TaskStateRunnable
		// A reclaim is not a new submission: head insert, not tail.
		s.runnable = append([]*domain.Task{task}, s.runnable...)
		s.count(func(c *metrics.Collector) {
			c.TasksReclaimed.Inc()
			c.QueueDepth.Set(float64(len(s.runnable)))
			c.InFlightTasks.Set(float64(len(s.inflight)))
		})
		s.publish(events.EventTaskReclaimed, task)
		s.logger.Warn().Str("task_id", id).Msg("in-flight task reclaimed after missed heartbeats")
	}

	for id, entry := range s.terminal {
		if now.Sub(entry.at) > s.opts.TerminalRetention {
			delete(s.terminal, id)
		}
	}
	for code, outcome := range s.consumedCodes {
		if now.Sub(outcome.at) > s.opts.TerminalRetention {
			delete(s.consumedCodes, code)
		}
	}
}

// SweepInterval returns the cadence at which Sweep should run.
func (s *State) SweepInterval() time.Duration {
	interval := s.opts.ConfirmTimeout
	if s.opts.HeartbeatTimeout < interval {
		interval = s.opts.HeartbeatTimeout
	}
	interval /= 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// Depths returns the sizes of the unconfirmed, runnable, and in-flight
// collections. Used by the health endpoint and tests.
func (s *State) Depths() (unconfirmed, runnable, inflight int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unconfirmed), len(s.runnable), len(s.inflight)
}

// TerminalCount returns how many recently finished tasks are still retained
// for idempotent acknowledgements.
func (s *State) TerminalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.terminal)
}

func (s *State) count(fn func(*metrics.Collector)) {
	if s.opts.Metrics != nil {
		fn(s.opts.Metrics)
	}
}

// publish streams the transition to attached dashboards. Broadcast is
// non-blocking, so this is safe inside the serialized mutation path.
func (s *State) publish(event events.EventType, task *domain.Task) {
	if s.opts.Hub == nil {
		return
	}
	s.opts.Hub.Broadcast(events.Event{
		Type:      event,
		TaskID:    task.ID,
		Model:     task.ModelName,
		Timestamp: s.now(),
	})
}
