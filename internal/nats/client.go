package nats

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	// StreamName is the JetStream stream holding every domain event
	StreamName = "PHARMACY_EVENTS"
	// SubjectPrefix prefixes every event subject
	SubjectPrefix = "pharmacy"
)

// Config holds NATS connection configuration
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns a default NATS configuration with production-ready settings
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "pharmacy-request-service",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Client wraps the NATS connection and JetStream context
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger *logrus.Logger
}

// NewClient connects to NATS and makes sure the event stream exists
func NewClient(cfg Config, logger *logrus.Logger) (*Client, error) {
	if cfg.Name == "" {
		cfg.Name = "pharmacy-request-service"
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(10 * time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("[NATS] Disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("[NATS] Reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("[NATS] Connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.WithError(err).Error("[NATS] Error")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	client := &Client{
		conn:   conn,
		js:     js,
		config: cfg,
		logger: logger,
	}

	if err := client.ensureStream(); err != nil {
		logger.WithError(err).Warn("Failed to ensure event stream")
	}

	logger.WithField("url", cfg.URL).Info("Connected to NATS")
	return client, nil
}

// Close drains and closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			c.logger.WithError(err).Debug("NATS drain failed")
		}
		c.conn.Close()
	}
}

// JetStream returns the JetStream context
func (c *Client) JetStream() nats.JetStreamContext {
	return c.js
}

// Conn returns the underlying NATS connection
func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// IsConnected returns true if connected to NATS
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// StreamConfig describes the event stream
func StreamConfig() nats.StreamConfig {
	return nats.StreamConfig{
		Name:        StreamName,
		Description: "Pharmacy request marketplace domain events",
		Subjects:    []string{SubjectPrefix + ".>"},
		Storage:     nats.FileStorage,
		Retention:   nats.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxMsgs:     500000,
		Discard:     nats.DiscardOld,
		Replicas:    1,
	}
}

// ensureStream creates the event stream if it doesn't exist
func (c *Client) ensureStream() error {
	streamCfg := StreamConfig()

	_, err := c.js.StreamInfo(streamCfg.Name)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := c.js.AddStream(&streamCfg); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		c.logger.WithField("stream", streamCfg.Name).Info("Created event stream")
	case err != nil:
		return fmt.Errorf("failed to check stream: %w", err)
	default:
		c.logger.WithField("stream", streamCfg.Name).Debug("Event stream exists")
	}
	return nil
}
