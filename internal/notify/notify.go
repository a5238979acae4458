// Package notify renders availability changes and delivers them through
// pluggable sinks: Telegram, Pub/Sub, the process log, or several at once.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/stockbot/internal/metrics"
	"github.com/JakeFAU/stockbot/internal/stock"
)

// Footer closes every rendered notification.
const Footer = "Amul Stock Tracker"

// Message is the channel-independent rendering of a stock.Change.
type Message struct {
	Title       string
	ProductName string
	URL         string
	ImageURL    string
	Status      string
	Previous    string
	Restocked   bool
	DetectedAt  time.Time
}

// Render builds the Message for c.
func Render(c stock.Change) Message {
	m := Message{
		Title:       "🔴 Out of Stock!",
		ProductName: c.Product.Name,
		URL:         c.Product.URL,
		ImageURL:    c.Product.ImageURL,
		Status:      "❌ Sold Out",
		Previous:    c.OldStatus.Label(),
		Restocked:   c.Restocked(),
		DetectedAt:  c.DetectedAt,
	}
	if m.ProductName == "" {
		m.ProductName = stock.DefaultProductName
	}
	if m.Restocked {
		m.Title = "🟢 Back in Stock!"
		m.Status = "✅ Available"
	}
	return m
}

// HTML renders m for Telegram's HTML parse mode.
func (m Message) HTML() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(m.Title))
	fmt.Fprintf(&b, "<a href=\"%s\">%s</a>\n\n", html.EscapeString(m.URL), html.EscapeString(m.ProductName))
	fmt.Fprintf(&b, "<b>Status:</b> %s\n", m.Status)
	fmt.Fprintf(&b, "<b>Previous:</b> %s\n", m.Previous)
	if m.Restocked {
		fmt.Fprintf(&b, "\n🛒 <a href=\"%s\">Buy Now</a>\n", html.EscapeString(m.URL))
	}
	fmt.Fprintf(&b, "\n<i>%s</i>", Footer)
	return b.String()
}

// Plain renders m without markup.
func (m Message) Plain() string {
	lines := []string{
		m.Title,
		m.ProductName,
		"Status: " + m.Status,
		"Previous: " + m.Previous,
	}
	if m.Restocked {
		lines = append(lines, "Buy Now: "+m.URL)
	} else {
		lines = append(lines, m.URL)
	}
	lines = append(lines, Footer)
	return strings.Join(lines, "\n")
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []stock.Notifier

// Notify calls each notifier in order.
func (f Fanout) Notify(ctx context.Context, c stock.Change) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes changes to the log. It is the default when no messaging
// backend is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Notify logs the change.
func (s *LogSink) Notify(_ context.Context, c stock.Change) error {
	s.logger.Info("stock change",
		zap.String("url", c.Product.URL),
		zap.String("name", c.Product.Name),
		zap.String("old_status", string(c.OldStatus)),
		zap.String("new_status", string(c.NewStatus)),
		zap.Strings("subscribers", c.Subscribers),
	)
	metrics.ObserveNotification("logged")
	return nil
}
