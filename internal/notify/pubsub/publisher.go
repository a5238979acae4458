// Package pubsub publishes stock changes to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/JakeFAU/stockbot/internal/metrics"
	"github.com/JakeFAU/stockbot/internal/stock"
)

// EventType is set on the "event" attribute of every message.
const EventType = "stock.changed"

// Event is the JSON payload of a published message.
type Event struct {
	URL         string       `json:"url"`
	Name        string       `json:"name"`
	ImageURL    string       `json:"image_url,omitempty"`
	OldStatus   stock.Status `json:"old_status"`
	NewStatus   stock.Status `json:"new_status"`
	Restocked   bool         `json:"restocked"`
	Subscribers []string     `json:"subscribers"`
	DetectedAt  time.Time    `json:"detected_at"`
}

type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Publisher wraps a Pub/Sub publisher client.
type Publisher struct {
	publish publishFunc
}

// New creates a Publisher for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Publisher {
	if publisher == nil {
		return &Publisher{}
	}
	return &Publisher{publish: func(ctx context.Context, msg *pubsub.Message) (string, error) {
		return publisher.Publish(ctx, msg).Get(ctx)
	}}
}

// Notify publishes c and waits for the server to acknowledge it.
func (p *Publisher) Notify(ctx context.Context, c stock.Change) error {
	if p.publish == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	subs := c.Subscribers
	if subs == nil {
		subs = []string{}
	}
	data, err := json.Marshal(Event{
		URL:         c.Product.URL,
		Name:        c.Product.Name,
		ImageURL:    c.Product.ImageURL,
		OldStatus:   c.OldStatus,
		NewStatus:   c.NewStatus,
		Restocked:   c.Restocked(),
		Subscribers: subs,
		DetectedAt:  c.DetectedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event":  EventType,
			"status": string(c.NewStatus),
		},
	}
	if _, err := p.publish(ctx, msg); err != nil {
		metrics.ObserveNotification("failed")
		return fmt.Errorf("publish message: %w", err)
	}
	metrics.ObserveNotification("published")
	return nil
}
