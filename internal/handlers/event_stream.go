package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/middleware"
	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/repository"
	"github.com/tesseract-hub/pharmacy-request-service/internal/services"
)

// EventSource delivers live domain events
type EventSource interface {
	SubscribeToAll(ctx context.Context) (<-chan *models.Event, func(), error)
}

// EventStreamHandlers streams request activity to administrators over
// Server-Sent Events
type EventStreamHandlers struct {
	requests     *services.RequestService
	source       EventSource
	logger       *logrus.Logger
	heartbeat    time.Duration
	pollInterval time.Duration
}

// NewEventStreamHandlers creates the stream handlers. A nil source falls back
// to polling the request store.
func NewEventStreamHandlers(requests *services.RequestService, source EventSource, logger *logrus.Logger) *EventStreamHandlers {
	return &EventStreamHandlers{
		requests:     requests,
		source:       source,
		logger:       logger,
		heartbeat:    15 * time.Second,
		pollInterval: 5 * time.Second,
	}
}

// RegisterRoutes mounts the stream on an authenticated group
func (h *EventStreamHandlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/admin/events/stream", middleware.RequireRole(models.ActorAdmin), h.StreamEvents)
}

// StreamEvents streams domain events via Server-Sent Events
// GET /api/v1/admin/events/stream
func (h *EventStreamHandlers) StreamEvents(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	clientGone := ctx.Done()

	// Send the most recent requests on connect
	recent, _, err := h.requests.ListAll(ctx, actor, repository.RequestFilter{Limit: 20})
	if err == nil && len(recent) > 0 {
		writeEvent(c, gin.H{"type": "initial", "requests": recent})
	}

	if h.source == nil {
		h.streamWithPolling(c, actor, recent, clientGone)
		return
	}

	events, cleanup, err := h.source.SubscribeToAll(ctx)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to subscribe to NATS, falling back to polling")
		h.streamWithPolling(c, actor, recent, clientGone)
		return
	}
	defer cleanup()

	h.logger.WithField("admin_id", actor.ID).Info("SSE client connected with NATS subscription")
	writeEvent(c, gin.H{"type": "connected", "nats": true})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-clientGone:
			h.logger.WithField("admin_id", actor.ID).Debug("SSE client disconnected")
			return
		case event, ok := <-events:
			if !ok {
				h.logger.Debug("NATS event channel closed")
				return
			}
			writeEvent(c, gin.H{"type": "event", "event": event})
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			c.Writer.Flush()
		}
	}
}

// streamWithPolling reports newly created requests by polling the store
func (h *EventStreamHandlers) streamWithPolling(c *gin.Context, actor models.Actor, recent []models.Request, clientGone <-chan struct{}) {
	h.logger.WithField("admin_id", actor.ID).Info("SSE client connected with polling fallback")
	writeEvent(c, gin.H{"type": "connected", "nats": false})

	var lastCreated time.Time
	if len(recent) > 0 {
		lastCreated = recent[0].CreatedAt
	}

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			h.logger.WithField("admin_id", actor.ID).Debug("SSE client disconnected")
			return
		case <-ticker.C:
			filter := repository.RequestFilter{Limit: 50}
			if !lastCreated.IsZero() {
				from := lastCreated
				filter.FromDate = &from
			}
			requests, _, err := h.requests.ListAll(c.Request.Context(), actor, filter)
			if err != nil {
				continue
			}

			var fresh []models.Request
			for _, req := range requests {
				if req.CreatedAt.After(lastCreated) {
					fresh = append(fresh, req)
				}
			}

			if len(fresh) > 0 {
				lastCreated = fresh[0].CreatedAt
				writeEvent(c, gin.H{"type": "update", "requests": fresh})
			} else {
				fmt.Fprint(c.Writer, ": heartbeat\n\n")
				c.Writer.Flush()
			}
		}
	}
}

func writeEvent(c *gin.Context, payload gin.H) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}
