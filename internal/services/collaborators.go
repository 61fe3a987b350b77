package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/metrics"
	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/storage"
)

// PushDispatcher sends a push notification without blocking the caller
type PushDispatcher interface {
	Dispatch(token, title, body string, data map[string]string)
}

// EventPublisher publishes domain events after a state change
type EventPublisher interface {
	Publish(ctx context.Context, event *models.Event) error
}

// Collaborators are the injected side-effect dependencies shared by services.
// Every field is optional.
type Collaborators struct {
	Push      PushDispatcher
	Publisher EventPublisher
	Blobs     storage.BlobStore
	Metrics   *metrics.Metrics
	Clock     func() time.Time
}

func (c Collaborators) now() time.Time {
	if c.Clock != nil {
		return c.Clock().UTC()
	}
	return time.Now().UTC()
}

// emit publishes in the background; publish failures never affect the caller
func (c Collaborators) emit(logger *logrus.Logger, event *models.Event) {
	if c.Publisher == nil || event == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Publisher.Publish(ctx, event); err != nil {
			logger.WithError(err).WithField("event_type", event.Type).Warn("Failed to publish event")
		}
	}()
}

func (c Collaborators) push(token *string, title, body string, data map[string]string) {
	if c.Push == nil || token == nil || *token == "" {
		return
	}
	c.Push.Dispatch(*token, title, body, data)
}
