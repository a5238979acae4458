// Package monitor runs availability sweeps over every tracked product.
package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/stockbot/internal/metrics"
	"github.com/JakeFAU/stockbot/internal/stock"
)

// Pacer delays successive requests to the same site. Done is called once a
// check finishes so the delay runs from its end.
type Pacer interface {
	Wait(ctx context.Context, url string) error
	Done(url string)
}

// IDGenerator names cycle runs in logs.
type IDGenerator interface {
	NewID() string
}

// Summary reports what one cycle did.
type Summary struct {
	RunID    string        `json:"run_id"`
	Products int           `json:"products"`
	Checked  int           `json:"checked"`
	Skipped  int           `json:"skipped"`
	Changed  int           `json:"changed"`
	Notified int           `json:"notified"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Cycle probes every tracked product once, persists the result and hands
// status transitions to the notifier.
type Cycle struct {
	store    stock.Store
	prober   stock.Prober
	notifier stock.Notifier
	pacer    Pacer
	clock    stock.Clock
	ids      IDGenerator
	logger   *zap.Logger
}

// New wires a Cycle. pacer and ids may be nil.
func New(
	store stock.Store,
	prober stock.Prober,
	notifier stock.Notifier,
	pacer Pacer,
	clock stock.Clock,
	ids IDGenerator,
	logger *zap.Logger,
) *Cycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cycle{
		store:    store,
		prober:   prober,
		notifier: notifier,
		pacer:    pacer,
		clock:    clock,
		ids:      ids,
		logger:   logger,
	}
}

// Run performs one sweep. It never panics and never returns an error; a
// failed cycle is logged and reported through Summary.Err.
func (c *Cycle) Run(ctx context.Context) (sum Summary) {
	start := c.clock.Now()
	if c.ids != nil {
		sum.RunID = c.ids.NewID()
	}
	logger := c.logger.With(zap.String("run_id", sum.RunID))

	defer func() {
		if rec := recover(); rec != nil {
			sum.Err = fmt.Errorf("cycle panic: %v", rec)
			logger.Error("check cycle panicked", zap.Any("panic", rec))
		}
		sum.Duration = c.clock.Now().Sub(start)
		metrics.ObserveCycle(outcome(sum), sum.Duration)
		if sum.Err != nil {
			logger.Error("check cycle failed", zap.Error(sum.Err), zap.Duration("duration", sum.Duration))
			return
		}
		logger.Info("check cycle finished",
			zap.Int("products", sum.Products),
			zap.Int("checked", sum.Checked),
			zap.Int("skipped", sum.Skipped),
			zap.Int("changed", sum.Changed),
			zap.Int("notified", sum.Notified),
			zap.Duration("duration", sum.Duration),
		)
	}()

	products, err := c.store.ListProducts(ctx)
	if err != nil {
		sum.Err = fmt.Errorf("load products: %w", err)
		return sum
	}
	sum.Products = len(products)
	metrics.SetTrackedProducts(len(products))
	if len(products) == 0 {
		logger.Debug("no products to check")
		return sum
	}

	logger.Info("starting check cycle", zap.Int("products", len(products)))
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			sum.Err = fmt.Errorf("cycle interrupted: %w", err)
			return sum
		}
		if c.pacer != nil {
			if err := c.pacer.Wait(ctx, p.URL); err != nil {
				sum.Err = err
				return sum
			}
		}
		c.checkOne(ctx, logger, p, &sum)
		if c.pacer != nil {
			c.pacer.Done(p.URL)
		}
	}
	return sum
}

func (c *Cycle) checkOne(ctx context.Context, logger *zap.Logger, p stock.Product, sum *Summary) {
	logger = logger.With(zap.String("url", p.URL))

	res := c.prober.Probe(ctx, p.URL)
	if res.Failed() {
		sum.Skipped++
		logger.Warn("probe failed, keeping stored state", zap.String("error", res.Error))
		return
	}
	sum.Checked++

	oldStatus, newStatus := p.Status, res.Status
	ok, err := c.store.UpdateStatus(ctx, p.URL, newStatus, stock.StatusExtra{Name: res.Name, ImageURL: res.ImageURL})
	if err != nil {
		logger.Error("update status failed", zap.Error(err))
		return
	}
	if !ok {
		// Removed while the probe was in flight.
		logger.Debug("product disappeared during check")
		return
	}
	logger.Debug("product checked",
		zap.String("old_status", string(oldStatus)),
		zap.String("new_status", string(newStatus)),
	)

	if newStatus == oldStatus || oldStatus == stock.StatusUnknown {
		return
	}
	sum.Changed++
	logger.Info("status changed",
		zap.String("old_status", string(oldStatus)),
		zap.String("new_status", string(newStatus)),
	)

	subs, err := c.store.Subscribers(ctx, p.URL)
	if err != nil {
		logger.Error("load subscribers failed", zap.Error(err))
		return
	}
	if len(subs) == 0 {
		return
	}
	updated, found, err := c.store.GetProduct(ctx, p.URL)
	if err != nil || !found {
		logger.Warn("reload product failed", zap.Bool("found", found), zap.Error(err))
		return
	}

	change := stock.Change{
		Product:     updated,
		OldStatus:   oldStatus,
		NewStatus:   newStatus,
		Subscribers: subs,
		DetectedAt:  c.clock.Now(),
	}
	if err := c.notifier.Notify(ctx, change); err != nil {
		logger.Warn("notification hand-off failed", zap.Error(err))
		return
	}
	sum.Notified++
}

func outcome(sum Summary) string {
	switch {
	case sum.Err != nil:
		return "failed"
	case sum.Products == 0:
		return "empty"
	default:
		return "ok"
	}
}
