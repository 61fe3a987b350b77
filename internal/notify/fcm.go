package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCMConfig holds Firebase credentials
type FCMConfig struct {
	ProjectID       string
	CredentialsJSON string
}

// FCMNotifier sends push notifications via Firebase Cloud Messaging
type FCMNotifier struct {
	client *messaging.Client
}

// NewFCMNotifier creates a Firebase messaging client
func NewFCMNotifier(ctx context.Context, cfg FCMConfig) (*FCMNotifier, error) {
	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get FCM client: %w", err)
	}

	return &FCMNotifier{client: client}, nil
}

// Send delivers one message with high priority on both platforms
func (n *FCMNotifier) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": "10",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{Title: title, Body: body},
					Sound: "default",
				},
			},
		},
	}

	if _, err := n.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("fcm send failed: %w", err)
	}
	return nil
}
