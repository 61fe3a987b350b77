package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/metrics"
	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
)

// ErrNotConnected is returned when publishing without a live connection
var ErrNotConnected = errors.New("NATS not connected")

// Subject returns the subject an event type is published on
func Subject(t models.EventType) string {
	return SubjectPrefix + "." + string(t)
}

// Publisher publishes domain events to JetStream
type Publisher struct {
	client  *Client
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewPublisher creates a new domain event publisher. m may be nil.
func NewPublisher(client *Client, m *metrics.Metrics, logger *logrus.Logger) *Publisher {
	return &Publisher{
		client:  client,
		metrics: m,
		logger:  logger,
	}
}

// Publish sends an event on pharmacy.<type>
func (p *Publisher) Publish(ctx context.Context, event *models.Event) error {
	if p.client == nil || !p.client.IsConnected() {
		p.metrics.ObserveEvent(string(event.Type), "skipped")
		return ErrNotConnected
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.metrics.ObserveEvent(string(event.Type), "error")
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := Subject(event.Type)
	ack, err := p.client.JetStream().Publish(subject, data, nats.Context(ctx), nats.MsgId(event.ID))
	if err != nil {
		p.metrics.ObserveEvent(string(event.Type), "error")
		return fmt.Errorf("failed to publish event on %s: %w", subject, err)
	}

	p.metrics.ObserveEvent(string(event.Type), "published")
	p.logger.WithFields(logrus.Fields{
		"event_type": event.Type,
		"subject":    subject,
		"sequence":   ack.Sequence,
		"stream":     ack.Stream,
	}).Debug("Published event")

	return nil
}
