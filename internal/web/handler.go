// Package web implements the browser-facing front-end: the model submission
// forms, the hand-off to the central queue, and the confirmation flow. The
// front-end never executes models and never blocks on them; every outbound
// queue call is a single bounded HTTP round-trip.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/npsg-lab/simq/domain"
	"github.com/npsg-lab/simq/internal/mail"
	"github.com/npsg-lab/simq/internal/queueclient"
	"github.com/npsg-lab/simq/internal/registry"
)

//go:embed templates/*.html
var templateFS embed.FS

// Handler serves the web front-end. Create one via NewHandler and register
// routes via RegisterRoutes.
type Handler struct {
	queue      *queueclient.Client
	models     *registry.Registry
	sender     mail.Sender
	baseURL    string
	logger     zerolog.Logger
	workersTTL time.Duration

	// Cache of the last successful workers check so the form page does not
	// hit the queue on every view.
	mu              sync.Mutex
	lastWorkersSeen time.Time
}

// NewHandler constructs a web Handler. workersTTL is how long a successful
// workers check is trusted before the queue is asked again.
func NewHandler(
	queue *queueclient.Client,
	models *registry.Registry,
	sender mail.Sender,
	baseURL string,
	workersTTL time.Duration,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		queue:      queue,
		models:     models,
		sender:     sender,
		baseURL:    baseURL,
		workersTTL: workersTTL,
		logger:     logger,
	}
}

// NewRouter constructs a configured *gin.Engine serving the front-end.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	tmpl := template.Must(template.ParseFS(templateFS, "templates/*.html"))
	r.SetHTMLTemplate(tmpl)
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the front-end routes onto the supplied Gin engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/", h.index)
	r.GET("/models/:name", h.modelForm)
	r.POST("/models/:name", h.submitModel)
	r.GET("/confirm_submission/:code", h.confirmSubmission)
}

// index lists the available models.
func (h *Handler) index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{"Models": h.models.Names()})
}

// modelForm renders the submission form for the latest version of the named
// model, after checking that workers are available to eventually serve it.
func (h *Handler) modelForm(c *gin.Context) {
	model, err := h.models.GetLatest(c.Param("name"))
	if err != nil {
		c.HTML(http.StatusNotFound, "error.html", gin.H{"ErrorText": "No such model."})
		return
	}

	if !h.workersAvailable(c) {
		c.HTML(http.StatusServiceUnavailable, "error.html", gin.H{
			"ErrorText": "We are sorry, our model worker machines appear to be down at the moment. Please try again later.",
		})
		return
	}
	c.HTML(http.StatusOK, "model.html", gin.H{"Model": model})
}

// workersAvailable reports whether the queue has live workers, consulting the
// cache first so repeated page views do not hammer the queue.
func (h *Handler) workersAvailable(c *gin.Context) bool {
	h.mu.Lock()
	fresh := time.Since(h.lastWorkersSeen) <= h.workersTTL
	h.mu.Unlock()
	if fresh {
		return true
	}

	has, err := h.queue.HasWorkers(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("workers check failed")
		return false
	}
	if has {
		h.mu.Lock()
		h.lastWorkersSeen = time.Now()
		h.mu.Unlock()
	}
	return has
}

// submitModel validates the submitted form, creates the task at the queue,
// and mails the submitter their confirmation link.
func (h *Handler) submitModel(c *gin.Context) {
	name := c.Param("name")
	version := c.PostForm("modelVersion")
	model, err := h.models.Get(name, version)
	if err != nil {
		c.HTML(http.StatusNotFound, "error.html", gin.H{"ErrorText": "No such model."})
		return
	}

	task, err := h.buildTask(c, model)
	if err != nil {
		// Validation failure: re-render the form with the message.
		c.HTML(http.StatusOK, "model.html", gin.H{"Model": model, "ErrorText": err.Error()})
		return
	}

	code, stored, err := h.queue.CreateTask(c.Request.Context(), task)
	if err != nil {
		h.logger.Error().Err(err).Msg("task create failed")
		c.HTML(http.StatusInternalServerError, "error.html", gin.H{
			"ErrorText": "We are sorry. Our queuing server appears to be down at the moment, please try again later.",
		})
		return
	}

	link := fmt.Sprintf("%s/confirm_submission/%s", h.baseURL, code)
	msg := &mail.Message{
		To:      stored.EmailAddress,
		Subject: fmt.Sprintf("Confirm your %s model run", model.FullName),
		Body: fmt.Sprintf(`Hello,

This email address requested a run of %s. To release the run into the
queue, open the link below:

    %s

If you did not make this request, simply ignore this message.
`, model.FullName, link),
	}
	if err := h.sender.Send(msg); err != nil {
		h.logger.Error().Err(err).Str("to", stored.EmailAddress).Msg("confirmation mail failed")
		c.HTML(http.StatusInternalServerError, "error.html", gin.H{
			"ErrorText": "We could not send the confirmation email. Please try again later.",
		})
		return
	}
	c.HTML(http.StatusOK, "submitted.html", gin.H{"Email": stored.EmailAddress})
}

// buildTask parses the form into a validated Task for the given model.
func (h *Handler) buildTask(c *gin.Context, model *domain.ModelSpec) (*domain.Task, error) {
	params := make(map[string]domain.ParameterValue, len(model.Parameters))
	for _, p := range model.Parameters {
		value, err := p.ParseValue(c.PostForm(p.Name))
		if err != nil {
			return nil, err
		}
		if err := p.Validate(value); err != nil {
			return nil, err
		}
		params[p.Name] = value
	}
	task := &domain.Task{
		ModelName:    model.ShortName,
		ModelVersion: model.Version,
		EmailAddress: c.PostForm("email"),
		Parameters:   params,
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

// confirmSubmission relays the confirmation code to the queue and renders the
// outcome.
func (h *Handler) confirmSubmission(c *gin.Context) {
	result, err := h.queue.Confirm(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.logger.Error().Err(err).Msg("confirmation relay failed")
		c.HTML(http.StatusInternalServerError, "error.html", gin.H{
			"ErrorText": "We are sorry. Our queuing server appears to be down at the moment, please try again later.",
		})
		return
	}
	switch result {
	case "okay":
		c.HTML(http.StatusOK, "confirmed.html", gin.H{})
	case "expired":
		c.HTML(http.StatusOK, "error.html", gin.H{
			"ErrorText": "This confirmation link has expired. Please submit your model run again.",
		})
	default:
		c.HTML(http.StatusNotFound, "error.html", gin.H{
			"ErrorText": "Unknown confirmation link. It may have been used already.",
		})
	}
}
