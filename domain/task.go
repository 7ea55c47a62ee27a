// Package domain contains the core entities of the model-run queue service:
// tasks, their lifecycle states, parameter values, and model descriptions.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TaskState represents the lifecycle state of a task.
type TaskState string

const (
	TaskStateUnconfirmed TaskState = "unconfirmed"
	TaskStateRunnable    TaskState = "runnable"
	TaskStateInFlight    TaskState = "in_flight"
	TaskStateDone        TaskState = "done"
	TaskStateFailed      TaskState = "failed"
	TaskStateExpired     TaskState = "expired"
)

// Task is the central domain entity: one user-submitted model execution
// request and its lifecycle state. The queue server is the sole writer of
// State and the timestamp fields after submission.
type Task struct {
	ID               string
	ModelName        string
	ModelVersion     string
	EmailAddress     string
	Parameters       map[string]ParameterValue
	State            TaskState
	ConfirmationCode string
	CreatedAt        time.Time
	ConfirmedAt      time.Time
	AssignedAt       time.Time
	LastHeartbeatAt  time.Time
}

// Validate checks that a Task carries the minimum required fields.
func (t *Task) Validate() error {
	if t.ModelName == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrTaskInvalid)
	}
	if t.ModelVersion == "" {
		return fmt.Errorf("%w: model version must not be empty", ErrTaskInvalid)
	}
	if !strings.Contains(t.EmailAddress, "@") {
		return fmt.Errorf("%w: email address %q is malformed", ErrTaskInvalid, t.EmailAddress)
	}
	return nil
}

// IsTerminal reports whether the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return t.State == TaskStateDone || t.State == TaskStateFailed || t.State == TaskStateExpired
}

// taskWire is the serialized task shape exchanged between the web front-end,
// queue, and workers.
type taskWire struct {
	TaskID          string                    `json:"taskId"`
	ModelName       string                    `json:"modelName"`
	ModelVersion    string                    `json:"modelVersion"`
	EmailAddress    string                    `json:"emailAddress"`
	ModelParameters map[string]ParameterValue `json:"modelParameters"`
}

// MarshalWire serializes the task into its on-wire JSON representation.
// Lifecycle state, confirmation code, and timestamps are queue-internal and
// never cross the wire.
func (t *Task) MarshalWire() ([]byte, error) {
	return json.Marshal(taskWire{
		TaskID:          t.ID,
		ModelName:       t.ModelName,
		ModelVersion:    t.ModelVersion,
		EmailAddress:    t.EmailAddress,
		ModelParameters: t.Parameters,
	})
}

// TaskFromWire deserializes a task from its on-wire JSON representation.
func TaskFromWire(data []byte) (*Task, error) {
	var w taskWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskInvalid, err)
	}
	if w.ModelName == "" || w.ModelVersion == "" {
		return nil, fmt.Errorf("%w: wire task missing model identity", ErrTaskInvalid)
	}
	params := w.ModelParameters
	if params == nil {
		params = make(map[string]ParameterValue)
	}
	return &Task{
		ID:           w.TaskID,
		ModelName:    w.ModelName,
		ModelVersion: w.ModelVersion,
		EmailAddress: w.EmailAddress,
		Parameters:   params,
	}, nil
}

// EqualParameters reports whether two tasks agree under parameter-value
// semantics: same identity fields and semantically equal parameter sets.
func (t *Task) EqualParameters(o *Task) bool {
	if t.ModelName != o.ModelName || t.ModelVersion != o.ModelVersion || t.EmailAddress != o.EmailAddress {
		return false
	}
	if len(t.Parameters) != len(o.Parameters) {
		return false
	}
	for name, v := range t.Parameters {
		ov, ok := o.Parameters[name]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// VersionSet maps model short names to the versions a worker supports. It is
// the body of a worker poll request.
type VersionSet map[string][]string

// Supports reports whether the set contains the given model and version.
func (s VersionSet) Supports(model, version string) bool {
	for _, v := range s[model] {
		if v == version {
			return true
		}
	}
	return false
}
