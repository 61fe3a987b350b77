package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
)

const eventBuffer = 100

// Subscriber fans live domain events out to streaming clients
type Subscriber struct {
	client        *Client
	logger        *logrus.Logger
	subscriptions map[string]*nats.Subscription
	mu            sync.Mutex
}

// NewSubscriber creates a new event subscriber
func NewSubscriber(client *Client, logger *logrus.Logger) *Subscriber {
	return &Subscriber{
		client:        client,
		logger:        logger,
		subscriptions: make(map[string]*nats.Subscription),
	}
}

// SubscribeToAll subscribes to every domain event. It returns a channel of
// events and a cleanup function that must be called once.
func (s *Subscriber) SubscribeToAll(ctx context.Context) (<-chan *models.Event, func(), error) {
	return s.subscribe(SubjectPrefix + ".>")
}

func (s *Subscriber) subscribe(subject string) (<-chan *models.Event, func(), error) {
	if s.client == nil || !s.client.IsConnected() {
		return nil, nil, ErrNotConnected
	}

	eventChan := make(chan *models.Event, eventBuffer)
	var (
		chMu   sync.Mutex
		closed bool
	)

	// core subscription, live delivery only
	sub, err := s.client.Conn().Subscribe(subject, func(msg *nats.Msg) {
		var event models.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			s.logger.WithError(err).Warn("Failed to unmarshal event")
			return
		}

		chMu.Lock()
		defer chMu.Unlock()
		if closed {
			return
		}
		select {
		case eventChan <- &event:
		default:
			s.logger.Warn("Event channel full, dropping event")
		}
	})
	if err != nil {
		close(eventChan)
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	subKey := fmt.Sprintf("%s-%p", subject, eventChan)
	s.mu.Lock()
	s.subscriptions[subKey] = sub
	s.mu.Unlock()

	s.logger.WithField("subject", subject).Debug("Subscribed to events")

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscriptions, subKey)
			s.mu.Unlock()

			if err := sub.Unsubscribe(); err != nil {
				s.logger.WithError(err).Debug("Error unsubscribing")
			}
			chMu.Lock()
			closed = true
			close(eventChan)
			chMu.Unlock()
		})
	}

	return eventChan, cleanup, nil
}

// Close closes all subscriptions
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, sub := range s.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.WithError(err).Warn("Error closing subscription")
		}
		delete(s.subscriptions, key)
	}
}

// GetStats returns subscription statistics
func (s *Subscriber) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]interface{}{
		"active_subscriptions": len(s.subscriptions),
		"connected":            s.client != nil && s.client.IsConnected(),
	}
}
