package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const serviceName = "pharmacy-request-service"

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandlers serves liveness, readiness and internal stats
type HealthHandlers struct {
	checks map[string]HealthChecker
	stats  map[string]func() map[string]interface{}
}

func NewHealthHandlers() *HealthHandlers {
	return &HealthHandlers{
		checks: make(map[string]HealthChecker),
		stats:  make(map[string]func() map[string]interface{}),
	}
}

// AddCheck registers a dependency checked by the readiness endpoint
func (h *HealthHandlers) AddCheck(name string, checker HealthChecker) {
	h.checks[name] = checker
}

// AddStats registers a stats source for the internal stats endpoint
func (h *HealthHandlers) AddStats(name string, stats func() map[string]interface{}) {
	h.stats[name] = stats
}

// RegisterRoutes mounts the health routes at the root
func (h *HealthHandlers) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/internal/stats", h.Stats)
}

// Health reports liveness
// GET /health
func (h *HealthHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
}

// Ready checks every registered dependency
// GET /ready
func (h *HealthHandlers) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, checker := range h.checks {
		if err := checker.Health(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	c.JSON(status, gin.H{"status": state, "service": serviceName, "checks": checks})
}

// Stats returns the registered component statistics
// GET /internal/stats
func (h *HealthHandlers) Stats(c *gin.Context) {
	out := gin.H{}
	for name, stats := range h.stats {
		out[name] = stats()
	}
	c.JSON(http.StatusOK, out)
}
