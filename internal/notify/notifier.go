package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Notifier delivers a push notification to a single device token
type Notifier interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

// LogNotifier writes notifications to the log instead of delivering them.
// It is used when no push provider is configured.
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	n.logger.WithFields(logrus.Fields{
		"title": title,
		"body":  body,
		"data":  data,
	}).Debug("Push notification (log only)")
	return nil
}
