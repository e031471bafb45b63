// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Pinger checks the backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	store   string
	pinger  Pinger
	statsFn func() any
}

// NewHealthHandler creates a new health handler. pinger may be nil for the
// in-memory store; statsFn, when set, feeds /health/info.
func NewHealthHandler(store string, pinger Pinger, statsFn func() any) *HealthHandler {
	return &HealthHandler{store: store, pinger: pinger, statsFn: statsFn}
}

// Live handles liveness probe (is the process alive?).
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Ready handles readiness probe (is the service ready to accept traffic?).
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.pinger != nil {
		if err := h.pinger.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "error",
				"checks": map[string]string{
					"database": "unhealthy: " + err.Error(),
				},
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"checks": map[string]string{
			"database": "healthy",
		},
	})
}

// Info returns application information.
// GET /health/info
func (h *HealthHandler) Info(c *gin.Context) {
	body := gin.H{
		"app":     "ledgercore",
		"version": "0.1.0",
		"store":   h.store,
	}
	if h.statsFn != nil {
		body["database"] = h.statsFn()
	}
	c.JSON(http.StatusOK, body)
}
