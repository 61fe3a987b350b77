package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/tesseract-hub/pharmacy-request-service/internal/metrics"
)

// DispatcherConfig configures the push dispatcher
type DispatcherConfig struct {
	Timeout time.Duration
	Logger  *logrus.Logger
	Metrics *metrics.Metrics
}

// Dispatcher sends notifications in the background. Failures are logged and
// never reported to the caller. A circuit breaker stops hammering the
// provider while it is failing.
type Dispatcher struct {
	notifier Notifier
	breaker  *gobreaker.CircuitBreaker
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher around a notifier
func NewDispatcher(notifier Notifier, cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	d := &Dispatcher{
		notifier: notifier,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		timeout:  cfg.Timeout,
	}

	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "push",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 || (counts.Requests >= 10 && failureRatio >= 0.5)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			d.logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Push circuit breaker state changed")
		},
	})

	return d
}

// Dispatch sends a notification asynchronously. Empty tokens are skipped.
func (d *Dispatcher) Dispatch(token, title, body string, data map[string]string) {
	if token == "" {
		d.metrics.ObserveNotification("skipped")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.send(ctx, token, title, body, data); err != nil {
			d.logger.WithError(err).WithField("title", title).Warn("Failed to send push notification")
		}
	}()
}

func (d *Dispatcher) send(ctx context.Context, token, title, body string, data map[string]string) error {
	_, err := d.breaker.Execute(func() (interface{}, error) {
		return nil, d.notifier.Send(ctx, token, title, body, data)
	})
	switch {
	case err == nil:
		d.metrics.ObserveNotification("sent")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		d.metrics.ObserveNotification("rejected")
	default:
		d.metrics.ObserveNotification("failed")
	}
	return err
}

// Wait blocks until in-flight notifications finish
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// State returns the circuit breaker state
func (d *Dispatcher) State() string {
	return d.breaker.State().String()
}
