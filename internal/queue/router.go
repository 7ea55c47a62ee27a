package queue

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/npsg-lab/simq/internal/events"
)

// NewRouter constructs a configured *gin.Engine serving the queue API.
// All dependencies are injected so the router can be exercised in tests with
// an in-memory state and a nil hub.
func NewRouter(state *State, hub *events.Hub, secret string) *gin.Engine {
	h := NewHandler(state, hub, secret)

	r := gin.New()
	r.Use(gin.Recovery())
	h.RegisterRoutes(r)

	// Expose Prometheus metrics at /metrics.
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
