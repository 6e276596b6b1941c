// Package fcm sends push notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/warp/finance-engine/notify"
)

// Client is the subset of *messaging.Client the sender uses.
type Client interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Sender implements notify.Sender.
type Sender struct {
	client Client
}

var _ notify.Sender = (*Sender)(nil)

// New initializes a Firebase app from a service account JSON file.
func New(ctx context.Context, credentialsFile string) (*Sender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init messaging client: %w", err)
	}
	return NewWithClient(client), nil
}

func NewWithClient(client Client) *Sender {
	return &Sender{client: client}
}

// Send delivers p. Tokens FCM no longer recognizes are reported as
// notify.ErrUnregistered so the dispatcher can deactivate them.
func (s *Sender) Send(ctx context.Context, p notify.Push) (string, error) {
	id, err := s.client.Send(ctx, &messaging.Message{
		Token: p.Token,
		Notification: &messaging.Notification{
			Title: p.Title,
			Body:  p.Body,
		},
		Data: p.Data,
	})
	if err != nil {
		if messaging.IsUnregistered(err) {
			return "", fmt.Errorf("%w: %v", notify.ErrUnregistered, err)
		}
		return "", fmt.Errorf("fcm send: %w", err)
	}
	return id, nil
}
