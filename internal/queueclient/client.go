// Package queueclient is the typed HTTP client for the queue server API,
// shared by the worker and the web front-end.
package queueclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/npsg-lab/simq/domain"
)

// Poll outcomes reported by the queue when no task is handed out.
const (
	StatusEmptyQueue = "empty_queue"
	StatusNoVersion  = "no_version"
)

// ErrBadResponse indicates the queue answered with a malformed or unexpected
// body. Callers treat it like a transport error: log, sleep, retry.
var ErrBadResponse = errors.New("malformed response from queue server")

// Client talks to the queue server. The shared secret is attached to every
// worker-side request.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// New creates a Client for the queue at baseURL with the given shared secret.
func New(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 100 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
	}
}

// Info performs the boot-time health probe against /worker_info.
func (c *Client) Info(ctx context.Context) error {
	var envelope struct {
		Response json.RawMessage `json:"response"`
	}
	return c.get(ctx, "/worker_info", &envelope)
}

// CreateTask submits a serialized task and returns the confirmation code and
// the queue's echo of the stored task (now carrying its assigned id).
func (c *Client) CreateTask(ctx context.Context, task *domain.Task) (string, *domain.Task, error) {
	wire, err := task.MarshalWire()
	if err != nil {
		return "", nil, err
	}
	form := url.Values{"task_json": {string(wire)}}
	var envelope struct {
		Response struct {
			Code string          `json:"code"`
			Task json.RawMessage `json:"task"`
		} `json:"response"`
		Error string `json:"error"`
	}
	if err := c.postForm(ctx, "/client_model_create", form, false, &envelope); err != nil {
		return "", nil, err
	}
	if envelope.Response.Code == "" {
		return "", nil, fmt.Errorf("%w: missing confirmation code", ErrBadResponse)
	}
	stored, err := domain.TaskFromWire(envelope.Response.Task)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", ErrBadResponse, err)
	}
	return envelope.Response.Code, stored, nil
}

// Confirm exchanges a confirmation code and returns the queue's verdict:
// "okay", "expired", or "notfound".
func (c *Client) Confirm(ctx context.Context, code string) (string, error) {
	var envelope struct {
		Response string `json:"response"`
	}
	err := c.get(ctx, "/client_confirm/"+url.PathEscape(code), &envelope)
	var httpErr *StatusError
	if errors.As(err, &httpErr) && httpErr.Code == http.StatusNotFound {
		return "notfound", nil
	}
	if err != nil {
		return "", err
	}
	if envelope.Response == "" {
		return "", ErrBadResponse
	}
	return envelope.Response, nil
}

// HasWorkers asks the queue whether any worker has polled recently.
func (c *Client) HasWorkers(ctx context.Context) (bool, error) {
	var envelope struct {
		Response struct {
			HasWorkers bool `json:"has_workers"`
		} `json:"response"`
	}
	if err := c.get(ctx, "/client_queue_has_workers", &envelope); err != nil {
		return false, err
	}
	return envelope.Response.HasWorkers, nil
}

// PollTask asks the queue for work, advertising the worker's supported model
// versions. On success the returned status is empty and the task non-nil;
// otherwise the status is StatusEmptyQueue or StatusNoVersion.
func (c *Client) PollTask(ctx context.Context, supported domain.VersionSet) (*domain.Task, string, error) {
	versions, err := json.Marshal(supported)
	if err != nil {
		return nil, "", err
	}
	form := url.Values{"model_versions_json": {string(versions)}}
	var envelope struct {
		Status string          `json:"status"`
		Task   json.RawMessage `json:"task"`
	}
	if err := c.postForm(ctx, "/worker_work_task", form, true, &envelope); err != nil {
		return nil, "", err
	}
	switch {
	case envelope.Status == StatusEmptyQueue || envelope.Status == StatusNoVersion:
		return nil, envelope.Status, nil
	case len(envelope.Task) > 0:
		task, err := domain.TaskFromWire(envelope.Task)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %s", ErrBadResponse, err)
		}
		return task, "", nil
	default:
		return nil, "", ErrBadResponse
	}
}

// KeepAlive sends a heartbeat for an in-flight task. It returns false when
// the queue no longer considers the task held.
func (c *Client) KeepAlive(ctx context.Context, taskID string) (bool, error) {
	return c.yesNo(ctx, "/worker_keep_alive_task/"+url.PathEscape(taskID))
}

// HasTask probes whether the queue still considers the task in-flight.
func (c *Client) HasTask(ctx context.Context, taskID string) (bool, error) {
	return c.yesNo(ctx, "/worker_has_task/"+url.PathEscape(taskID))
}

// SucceedTask acknowledges successful completion.
func (c *Client) SucceedTask(ctx context.Context, taskID string) error {
	var envelope struct {
		Response string `json:"response"`
	}
	return c.get(ctx, "/worker_succeed_task/"+url.PathEscape(taskID), &envelope)
}

// FailTask acknowledges failure.
func (c *Client) FailTask(ctx context.Context, taskID string) error {
	var envelope struct {
		Response string `json:"response"`
	}
	return c.get(ctx, "/worker_failed_task/"+url.PathEscape(taskID), &envelope)
}

func (c *Client) yesNo(ctx context.Context, path string) (bool, error) {
	var envelope struct {
		Response string `json:"response"`
	}
	if err := c.get(ctx, path, &envelope); err != nil {
		return false, err
	}
	switch envelope.Response {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	default:
		return false, ErrBadResponse
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("queue server returned %d: %s", e.Code, e.Body)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	u := c.baseURL + path
	if c.secret != "" {
		u += "?secret=" + url.QueryEscape(c.secret)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, withSecret bool, out any) error {
	if withSecret {
		form.Set("secret", c.secret)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("queue request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("queue response %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s", ErrBadResponse, err)
	}
	return nil
}
