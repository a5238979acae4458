package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/stockbot/internal/metrics"
	"github.com/JakeFAU/stockbot/internal/stock"
)

var (
	// ErrQueueFull is returned when the delivery queue cannot take another change.
	ErrQueueFull = errors.New("notification queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("notifier closed")
)

// AsyncConfig controls the delivery queue.
type AsyncConfig struct {
	QueueDepth      int
	DeliveryTimeout time.Duration
}

// Async hands changes to a background worker so callers never wait on the
// messaging backend. Changes are dropped, and ErrQueueFull returned, when
// the queue is full.
type Async struct {
	next    stock.Notifier
	queue   chan stock.Change
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsync starts the delivery worker.
func NewAsync(next stock.Notifier, cfg AsyncConfig, logger *zap.Logger) *Async {
	if logger == nil {
		logger = zap.NewNop()
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 64
	}
	timeout := cfg.DeliveryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	a := &Async{
		next:    next,
		queue:   make(chan stock.Change, depth),
		logger:  logger,
		timeout: timeout,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Notify enqueues c without blocking.
func (a *Async) Notify(_ context.Context, c stock.Change) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- c:
		return nil
	default:
		metrics.ObserveNotification("dropped")
		a.logger.Warn("notification dropped, queue full", zap.String("url", c.Product.URL))
		return ErrQueueFull
	}
}

func (a *Async) run() {
	defer close(a.done)
	for c := range a.queue {
		a.deliver(c)
	}
}

func (a *Async) deliver(c stock.Change) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("notifier panic", zap.String("url", c.Product.URL), zap.Any("panic", rec))
		}
	}()
	if err := a.next.Notify(ctx, c); err != nil {
		a.logger.Warn("notification delivery failed", zap.String("url", c.Product.URL), zap.Error(err))
	}
}

// Close stops accepting changes and waits for queued ones to drain.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain notifications: %w", ctx.Err())
	}
}
