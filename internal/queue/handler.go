package queue

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/npsg-lab/simq/domain"
	"github.com/npsg-lab/simq/internal/events"
)

// Handler exposes the queue State over HTTP. Create one via NewHandler and
// register routes via RegisterRoutes.
type Handler struct {
	state  *State
	hub    *events.Hub
	secret string
}

// NewHandler constructs a Handler for the given state and shared secret.
func NewHandler(state *State, hub *events.Hub, secret string) *Handler {
	return &Handler{state: state, hub: hub, secret: secret}
}

// RegisterRoutes mounts all queue API routes onto the supplied Gin engine.
// client_* routes are public; everything else requires the shared secret.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/client_model_create", h.createTask)
	r.GET("/client_confirm/:code", h.confirm)
	r.GET("/client_queue_has_workers", h.hasWorkers)

	worker := r.Group("/", h.requireSecret)
	worker.GET("/worker_info", h.workerInfo)
	worker.POST("/worker_work_task", h.workTask)
	worker.GET("/worker_keep_alive_task/:taskId", h.keepAlive)
	worker.GET("/worker_has_task/:taskId", h.hasTask)
	worker.GET("/worker_succeed_task/:taskId", h.succeedTask)
	worker.GET("/worker_failed_task/:taskId", h.failTask)

	if h.hub != nil {
		worker.GET("/ws/events", func(c *gin.Context) {
			h.hub.ServeWS(c.Writer, c.Request)
		})
	}
}

// requireSecret rejects requests that do not carry the shared secret as a
// query or form parameter.
func (h *Handler) requireSecret(c *gin.Context) {
	secret := c.Query("secret")
	if secret == "" {
		secret = c.PostForm("secret")
	}
	if secret != h.secret {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"response": "bad_secret"})
		return
	}
	c.Next()
}

// createTask handles POST /client_model_create. The body carries a
// form-encoded task_json field with the serialized task.
func (h *Handler) createTask(c *gin.Context) {
	raw := c.PostForm("task_json")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing task_json"})
		return
	}
	task, err := domain.TaskFromWire([]byte(raw))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task, err = h.state.Submit(task)
	if err != nil {
		if errors.Is(err, domain.ErrModelNotFound) ||
			errors.Is(err, domain.ErrParameterInvalid) ||
			errors.Is(err, domain.ErrTaskInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	wire, err := task.MarshalWire()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": gin.H{
		"code": task.ConfirmationCode,
		"task": json.RawMessage(wire),
	}})
}

// confirm handles GET /client_confirm/{code}. Unknown codes are the only
// condition reported as a 404.
func (h *Handler) confirm(c *gin.Context) {
	result := h.state.Confirm(c.Param("code"))
	status := http.StatusOK
	if result == ConfirmNotFound {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"response": string(result)})
}

// hasWorkers handles GET /client_queue_has_workers.
func (h *Handler) hasWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"response": gin.H{"has_workers": h.state.HasWorkers()}})
}

// workerInfo is the health probe workers hit at boot.
func (h *Handler) workerInfo(c *gin.Context) {
	unconfirmed, runnable, inflight := h.state.Depths()
	c.JSON(http.StatusOK, gin.H{"response": gin.H{
		"unconfirmed": unconfirmed,
		"runnable":    runnable,
		"in_flight":   inflight,
		"terminal":    h.state.TerminalCount(),
	}})
}

// workTask handles POST /worker_work_task. The body carries the worker's
// supported model versions as a form-encoded model_versions_json field.
func (h *Handler) workTask(c *gin.Context) {
	raw := c.PostForm("model_versions_json")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing model_versions_json"})
		return
	}
	var supported domain.VersionSet
	if err := json.Unmarshal([]byte(raw), &supported); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed model_versions_json"})
		return
	}

	task, status := h.state.Poll(supported)
	if status != PollTask {
		c.JSON(http.StatusOK, gin.H{"status": string(status)})
		return
	}
	wire, err := task.MarshalWire()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": json.RawMessage(wire)})
}

// keepAlive handles GET /worker_keep_alive_task/{taskId}.
func (h *Handler) keepAlive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"response": yesNo(h.state.KeepAlive(c.Param("taskId")))})
}

// hasTask handles GET /worker_has_task/{taskId}.
func (h *Handler) hasTask(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"response": yesNo(h.state.HasTask(c.Param("taskId")))})
}

// succeedTask handles GET /worker_succeed_task/{taskId}. Duplicate and late
// acknowledgements succeed silently.
func (h *Handler) succeedTask(c *gin.Context) {
	h.state.Succeed(c.Param("taskId"))
	c.JSON(http.StatusOK, gin.H{"response": "okay"})
}

// failTask handles GET /worker_failed_task/{taskId}.
func (h *Handler) failTask(c *gin.Context) {
	h.state.Fail(c.Param("taskId"))
	c.JSON(http.StatusOK, gin.H{"response": "okay"})
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
