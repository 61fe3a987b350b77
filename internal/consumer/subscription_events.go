package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/metrics"
	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	pharmacyNats "github.com/tesseract-hub/pharmacy-request-service/internal/nats"
	"github.com/tesseract-hub/pharmacy-request-service/internal/repository"
	"github.com/tesseract-hub/pharmacy-request-service/internal/services"
)

const consumerName = "pharmacy-request-service-subscription-expired"

// SubscriptionEventConsumer tells a pharmacy's device when the sweep ended its
// subscription
type SubscriptionEventConsumer struct {
	js         jetstream.JetStream
	pharmacies repository.PharmacyRepository
	push       services.PushDispatcher
	metrics    *metrics.Metrics
	logger     *logrus.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewSubscriptionEventConsumer creates a consumer on an existing connection
func NewSubscriptionEventConsumer(
	nc *nats.Conn,
	pharmacies repository.PharmacyRepository,
	push services.PushDispatcher,
	m *metrics.Metrics,
	logger *logrus.Logger,
) (*SubscriptionEventConsumer, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return newSubscriptionEventConsumer(js, pharmacies, push, m, logger), nil
}

func newSubscriptionEventConsumer(
	js jetstream.JetStream,
	pharmacies repository.PharmacyRepository,
	push services.PushDispatcher,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *SubscriptionEventConsumer {
	return &SubscriptionEventConsumer{
		js:         js,
		pharmacies: pharmacies,
		push:       push,
		metrics:    m,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start creates the durable consumer and begins fetching in the background
func (c *SubscriptionEventConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.mu.Unlock()

	stream, err := c.js.Stream(ctx, pharmacyNats.StreamName)
	if err != nil {
		return fmt.Errorf("stream %s not found: %w", pharmacyNats.StreamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		FilterSubject: pharmacyNats.Subject(models.EventSubscriptionExpired),
		MaxDeliver:    5,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	go c.consumeMessages(ctx, consumer)

	c.logger.WithFields(logrus.Fields{
		"stream":   pharmacyNats.StreamName,
		"consumer": consumerName,
	}).Info("Subscription event consumer started")
	return nil
}

// Stop ends the fetch loop
func (c *SubscriptionEventConsumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		close(c.stopCh)
		c.running = false
	}
}

func (c *SubscriptionEventConsumer) consumeMessages(ctx context.Context, consumer jetstream.Consumer) {
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, nats.ErrTimeout) {
				c.logger.WithError(err).Warn("Error fetching subscription events")
			}
			continue
		}

		for msg := range msgs.Messages() {
			if err := c.handle(ctx, msg.Data()); err != nil {
				c.logger.WithError(err).WithField("subject", msg.Subject()).Error("Failed to process subscription event")
				if nakErr := msg.Nak(); nakErr != nil {
					c.logger.WithError(nakErr).Debug("Nak failed")
				}
				continue
			}
			if ackErr := msg.Ack(); ackErr != nil {
				c.logger.WithError(ackErr).Debug("Ack failed")
			}
		}
	}
}

// handle processes one event payload. Malformed or foreign events are
// dropped, only lookup failures are retried.
func (c *SubscriptionEventConsumer) handle(ctx context.Context, data []byte) error {
	var event models.Event
	if err := json.Unmarshal(data, &event); err != nil {
		c.metrics.ObserveEvent("unknown", "malformed")
		c.logger.WithError(err).Warn("Dropping malformed event")
		return nil
	}
	if event.Type != models.EventSubscriptionExpired || event.PharmacyID == nil {
		c.metrics.ObserveEvent(string(event.Type), "ignored")
		return nil
	}

	pharmacy, err := c.pharmacies.GetByID(ctx, *event.PharmacyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.metrics.ObserveEvent(string(event.Type), "ignored")
			return nil
		}
		c.metrics.ObserveEvent(string(event.Type), "error")
		return fmt.Errorf("failed to load pharmacy %s: %w", event.PharmacyID, err)
	}

	c.metrics.ObserveEvent(string(event.Type), "consumed")
	if pharmacy.PushToken == nil || *pharmacy.PushToken == "" || c.push == nil {
		return nil
	}
	c.push.Dispatch(*pharmacy.PushToken,
		"Subscription expired",
		"Your subscription has ended. Renew it to keep receiving requests.",
		map[string]string{
			"event":       string(event.Type),
			"pharmacy_id": pharmacy.ID.String(),
		})

	c.logger.WithField("pharmacy_id", pharmacy.ID).Info("Notified pharmacy of expired subscription")
	return nil
}
