package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/npsg-lab/simq/domain"
	"github.com/npsg-lab/simq/internal/mail"
	"github.com/npsg-lab/simq/internal/queueclient"
	"github.com/npsg-lab/simq/internal/registry"
	"github.com/npsg-lab/simq/observability/logging"
	"github.com/npsg-lab/simq/observability/metrics"
)

// parameterFileName is the JSON file the model executable reads from its
// working directory.
const parameterFileName = "params.json"

// staleWorkdirAge is how old a leftover working directory must be before the
// startup sweep removes it.
const staleWorkdirAge = 24 * time.Hour

// Executor runs a single task end to end: working directory, parameter file,
// child process, artifact collection, result mail, and the queue
// acknowledgement.
type Executor struct {
	client            *queueclient.Client
	models            *registry.Registry
	sender            mail.Sender
	baseDir           string
	keepAliveInterval time.Duration
	metrics           *metrics.Collector
	logger            zerolog.Logger

	// runProcess invokes the model executable. Overridable in tests.
	runProcess func(ctx context.Context, spec *domain.ModelSpec, workdir string) error
}

// NewExecutor creates an Executor. baseDir is the parent under which per-task
// working directories are created.
func NewExecutor(
	client *queueclient.Client,
	models *registry.Registry,
	sender mail.Sender,
	baseDir string,
	keepAliveInterval time.Duration,
	collector *metrics.Collector,
	logger zerolog.Logger,
) *Executor {
	e := &Executor{
		client:            client,
		models:            models,
		sender:            sender,
		baseDir:           baseDir,
		keepAliveInterval: keepAliveInterval,
		metrics:           collector,
		logger:            logger,
	}
	e.runProcess = e.runExecutable
	return e
}

// Execute processes one task. Any error before the ownership probe is
// reported to the queue as a failure; after a lost ownership probe the task
// is abandoned silently so the new holder sends the only result mail.
func (e *Executor) Execute(ctx context.Context, task *domain.Task) {
	logger := logging.WithTask(logging.WithModel(e.logger, task.ModelName, task.ModelVersion), task.ID)
	started := time.Now()

	spec, err := e.models.Get(task.ModelName, task.ModelVersion)
	if err != nil {
		logger.Error().Err(err).Msg("task names a model this worker no longer has")
		e.reportFailure(ctx, task, logger)
		return
	}
	if err := spec.ValidateAssignment(task.Parameters); err != nil {
		logger.Error().Err(err).Msg("task parameters do not match the model schema")
		e.reportFailure(ctx, task, logger)
		return
	}

	workdir := filepath.Join(e.baseDir, task.ID)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		logger.Error().Err(err).Msg("cannot create working directory")
		e.reportFailure(ctx, task, logger)
		return
	}

	keepAlive := StartKeepAlive(e.client, task.ID, e.keepAliveInterval, logger)
	defer keepAlive.Stop()

	attachments, err := e.runModel(ctx, spec, task, workdir)
	if err != nil {
		logger.Error().Err(err).Msg("model execution failed")
		e.observe(task.ModelName, "failed", time.Since(started))
		e.reportFailure(ctx, task, logger)
		// The directory is kept for post-mortem inspection.
		return
	}

	msg := mail.ResultMessage(task, spec, attachments)

	held, err := e.client.HasTask(ctx, task.ID)
	if err != nil {
		logger.Error().Err(err).Msg("ownership probe failed")
		e.observe(task.ModelName, "failed", time.Since(started))
		e.reportFailure(ctx, task, logger)
		return
	}
	if !held {
		// Another worker owns the task now; it will send the result mail.
		logger.Warn().Msg("queue forgot about our task, skipping completion")
		e.observe(task.ModelName, "abandoned", time.Since(started))
		return
	}

	if err := e.sender.Send(msg); err != nil {
		// The model ran; a mail transport fault must not trigger a re-run.
		logger.Error().Err(err).Msg("result mail failed to send")
	} else {
		e.countMail("result")
		logger.Info().Str("to", task.EmailAddress).Msg("result mail sent")
	}

	if err := e.client.SucceedTask(ctx, task.ID); err != nil {
		logger.Error().Err(err).Msg("failed to acknowledge success")
	}
	e.observe(task.ModelName, "succeeded", time.Since(started))

	if err := os.RemoveAll(workdir); err != nil {
		logger.Warn().Err(err).Msg("could not remove working directory")
	}
	logger.Info().Dur("duration", time.Since(started)).Msg("task complete")
}

// runModel writes the parameter file, invokes the executable, and collects
// the declared result artifacts.
func (e *Executor) runModel(ctx context.Context, spec *domain.ModelSpec, task *domain.Task, workdir string) ([]mail.Attachment, error) {
	if err := writeParameterFile(task, workdir); err != nil {
		return nil, err
	}
	if err := e.runProcess(ctx, spec, workdir); err != nil {
		return nil, err
	}

	attachments := make([]mail.Attachment, 0, len(spec.Attachments))
	for _, name := range spec.Attachments {
		data, err := os.ReadFile(filepath.Join(workdir, name))
		if err != nil {
			return nil, fmt.Errorf("collect artifact %s: %w", name, err)
		}
		attachments = append(attachments, mail.Attachment{Name: name, Data: data})
	}
	return attachments, nil
}

// runExecutable starts the model's executable with the working directory as
// its cwd and waits for it, capturing stdout and stderr in full.
func (e *Executor) runExecutable(ctx context.Context, spec *domain.ModelSpec, workdir string) error {
	cmd := exec.CommandContext(ctx, spec.Executable)
	cmd.Dir = workdir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	e.logger.Debug().
		Str("executable", spec.Executable).
		Str("stdout", stdout.String()).
		Str("stderr", stderr.String()).
		Msg("model executable finished")
	if err != nil {
		return fmt.Errorf("run %s: %w (stderr: %s)", spec.Executable, err, stderr.String())
	}
	return nil
}

func writeParameterFile(task *domain.Task, workdir string) error {
	values := make(map[string]any, len(task.Parameters))
	for name, v := range task.Parameters {
		values[name] = v.FileValue()
	}
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode parameter file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workdir, parameterFileName), data, 0o644); err != nil {
		return fmt.Errorf("write parameter file: %w", err)
	}
	return nil
}

// reportFailure tells the queue the task failed and sends the submitter a
// failure notice. Both are best-effort.
func (e *Executor) reportFailure(ctx context.Context, task *domain.Task, logger zerolog.Logger) {
	if task.EmailAddress != "" {
		if err := e.sender.Send(mail.FailureMessage(task, task.ModelName)); err != nil {
			logger.Error().Err(err).Msg("failure mail failed to send")
		} else {
			e.countMail("failure")
		}
	}
	if err := e.client.FailTask(ctx, task.ID); err != nil {
		logger.Error().Err(err).Msg("failed to report task failure")
	}
}

func (e *Executor) observe(model, status string, d time.Duration) {
	if e.metrics != nil {
		e.metrics.TaskDuration.WithLabelValues(model, status).Observe(d.Seconds())
	}
}

func (e *Executor) countMail(kind string) {
	if e.metrics != nil {
		e.metrics.MailsSent.WithLabelValues(kind).Inc()
	}
}

// SweepStaleWorkdirs removes leftover per-task directories older than
// staleWorkdirAge so failed-run debris cannot grow without bound. Called once
// at worker startup.
func SweepStaleWorkdirs(baseDir string, logger zerolog.Logger) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-staleWorkdirAge)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("could not remove stale working directory")
			continue
		}
		logger.Info().Str("path", path).Msg("removed stale working directory")
	}
}
