package probe

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/stockbot/internal/metrics"
	"github.com/JakeFAU/stockbot/internal/snapshot"
	"github.com/JakeFAU/stockbot/internal/stock"
)

// DefaultTimeout bounds a whole probe: navigation, hydration, and the pincode prompt.
const DefaultTimeout = 45 * time.Second

// snapshotTimeout bounds a snapshot upload. It runs after rendering, outside
// the probe timeout.
const snapshotTimeout = 15 * time.Second

// Config controls the Prober.
type Config struct {
	Timeout time.Duration
}

// Prober implements stock.Prober on top of a Renderer.
type Prober struct {
	renderer  Renderer
	snapshots *snapshot.Recorder
	logger    *zap.Logger
	timeout   time.Duration
}

var _ stock.Prober = (*Prober)(nil)

// New constructs a Prober. snapshots may be nil.
func New(renderer Renderer, snapshots *snapshot.Recorder, cfg Config, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{
		renderer:  renderer,
		snapshots: snapshots,
		logger:    logger,
		timeout:   timeout,
	}
}

// Probe renders url and classifies it. Failures come back as StatusError results.
func (p *Prober) Probe(ctx context.Context, url string) (result stock.ProbeResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("probe panic", zap.String("url", url), zap.Any("panic", rec))
			result = failure(fmt.Sprintf("probe panic: %v", rec))
		}
		metrics.ObserveProbe(url, string(result.Status), time.Since(start))
	}()

	if p.renderer == nil {
		return failure(ErrRendererDisabled.Error())
	}

	renderCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	page, err := p.renderer.Render(renderCtx, url)
	if err != nil {
		p.logger.Warn("render failed", zap.String("url", url), zap.Error(err))
		return failure(err.Error())
	}

	result, err = Extract(page.Body, page.baseURL())
	if err != nil {
		p.logger.Warn("extract failed", zap.String("url", url), zap.Error(err))
		return failure(err.Error())
	}

	if result.Status == stock.StatusUnknown {
		p.recordSnapshot(ctx, url, page.Body)
	}
	p.logger.Debug("probe complete",
		zap.String("url", url),
		zap.String("status", string(result.Status)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result
}

func (p *Prober) recordSnapshot(ctx context.Context, url string, body []byte) {
	if p.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotTimeout)
	defer cancel()
	uri, err := p.snapshots.Record(ctx, url, body)
	if err != nil {
		p.logger.Warn("snapshot failed", zap.String("url", url), zap.Error(err))
		return
	}
	p.logger.Info("unclassified page saved", zap.String("url", url), zap.String("uri", uri))
}

func failure(msg string) stock.ProbeResult {
	return stock.ProbeResult{Status: stock.StatusError, Error: msg}
}
