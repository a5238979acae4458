package probe

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
)

// Defaults used when ChromedpConfig leaves a field unset.
const (
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
	DefaultNavTimeout     = 30 * time.Second
	DefaultHydrationWait  = 3 * time.Second
	DefaultPincode        = "110001"
)

const (
	pincodeSelector    = "#search"
	suggestionSelector = ".pac-item"
)

// ChromedpConfig controls the headless renderer.
type ChromedpConfig struct {
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	HydrationWait     time.Duration
	Pincode           string
	MaxParallel       int
	// PincodeSettle is the pause after each pincode interaction.
	PincodeSettle time.Duration
}

func (c ChromedpConfig) withDefaults() ChromedpConfig {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = DefaultViewportWidth
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = DefaultViewportHeight
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = DefaultNavTimeout
	}
	if c.HydrationWait < 0 {
		c.HydrationWait = 0
	}
	if c.Pincode == "" {
		c.Pincode = DefaultPincode
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 1
	}
	if c.PincodeSettle <= 0 {
		c.PincodeSettle = 2 * time.Second
	}
	return c
}

// ChromedpRenderer renders pages in headless Chrome. Every Render call runs in
// its own browser context so cookies, storage, and cache never leak between
// probes.
type ChromedpRenderer struct {
	cfg    ChromedpConfig
	logger *zap.Logger
	sem    chan struct{}

	mu              sync.Mutex
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
}

// NewChromedpRenderer creates a renderer. Chrome is started lazily on the
// first Render.
func NewChromedpRenderer(cfg ChromedpConfig, logger *zap.Logger) *ChromedpRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &ChromedpRenderer{
		cfg:    cfg,
		logger: logger,
		sem:    make(chan struct{}, cfg.MaxParallel),
	}
}

// Close tears down the browser and allocator.
func (r *ChromedpRenderer) Close(_ context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browserCancel != nil {
		r.browserCancel()
	}
	if r.allocatorCancel != nil {
		r.allocatorCancel()
	}
	r.browserCtx, r.browserCancel, r.allocatorCancel = nil, nil, nil
	return nil
}

// Render navigates to rawURL, waits for hydration, answers the pincode prompt
// when shown, and returns the rendered HTML.
func (r *ChromedpRenderer) Render(ctx context.Context, rawURL string) (Page, error) {
	if r == nil {
		return Page{}, ErrRendererDisabled
	}
	release, err := r.acquireSlot(ctx)
	if err != nil {
		return Page{}, err
	}
	defer release()

	browserCtx, err := r.browser()
	if err != nil {
		return Page{}, err
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	defer cancelTab()
	stopForward := forwardCancel(ctx, cancelTab)
	defer stopForward()

	if err := chromedp.Run(tabCtx); err != nil {
		return Page{}, fmt.Errorf("open browser context: %w", err)
	}

	meta := &responseMeta{}
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	navCtx, cancelNav := context.WithTimeout(tabCtx, r.cfg.NavigationTimeout)
	err = chromedp.Run(navCtx, r.navigateActions(rawURL)...)
	cancelNav()
	if err != nil {
		return Page{}, fmt.Errorf("navigate: %w", err)
	}
	if status := meta.status(); status >= http.StatusBadRequest {
		return Page{}, fmt.Errorf("navigate: unexpected status %d", status)
	}

	if err := chromedp.Run(tabCtx, chromedp.Sleep(r.cfg.HydrationWait)); err != nil {
		return Page{}, fmt.Errorf("hydration wait: %w", err)
	}
	if err := r.completePincode(tabCtx); err != nil {
		r.logger.Warn("pincode prompt not completed", zap.String("url", rawURL), zap.Error(err))
	}

	var (
		html     string
		finalURL string
	)
	if err := chromedp.Run(tabCtx,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return Page{}, fmt.Errorf("read dom: %w", err)
	}

	return Page{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: meta.status(),
		Body:       []byte(html),
	}, nil
}

func (r *ChromedpRenderer) navigateActions(rawURL string) []chromedp.Action {
	return []chromedp.Action{
		network.Enable(),
		emulation.SetUserAgentOverride(r.cfg.UserAgent),
		chromedp.EmulateViewport(int64(r.cfg.ViewportWidth), int64(r.cfg.ViewportHeight)),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
}

// completePincode fills the delivery pincode prompt if it is showing and
// picks the first suggestion.
func (r *ChromedpRenderer) completePincode(ctx context.Context) error {
	shown, err := elementVisible(ctx, pincodeSelector)
	if err != nil || !shown {
		return err
	}
	r.logger.Debug("pincode prompt detected", zap.String("pincode", r.cfg.Pincode))
	if err := chromedp.Run(ctx,
		chromedp.SendKeys(pincodeSelector, r.cfg.Pincode, chromedp.ByQuery),
		chromedp.Sleep(time.Second),
		chromedp.KeyEvent(kb.Enter),
		chromedp.Sleep(r.cfg.PincodeSettle),
	); err != nil {
		return fmt.Errorf("enter pincode: %w", err)
	}

	suggestion, err := elementVisible(ctx, suggestionSelector)
	if err != nil || !suggestion {
		return err
	}
	if err := chromedp.Run(ctx,
		chromedp.Click(suggestionSelector, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.Sleep(r.cfg.PincodeSettle),
	); err != nil {
		return fmt.Errorf("pick pincode suggestion: %w", err)
	}
	return nil
}

func elementVisible(ctx context.Context, selector string) (bool, error) {
	var shown bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(visibilityScript(selector), &shown)); err != nil {
		return false, fmt.Errorf("check %s: %w", selector, err)
	}
	return shown, nil
}

func visibilityScript(selector string) string {
	return `(() => {
	const el = document.querySelector(` + strconv.Quote(selector) + `);
	if (!el) return false;
	const style = window.getComputedStyle(el);
	return style.display !== 'none' && style.visibility !== 'hidden' && el.getClientRects().length > 0;
})()`
}

func (r *ChromedpRenderer) browser() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browserCtx != nil {
		return r.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(r.cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	r.logger.Info("headless browser started")
	r.allocatorCancel, r.browserCtx, r.browserCancel = allocatorCancel, browserCtx, browserCancel
	return browserCtx, nil
}

func (r *ChromedpRenderer) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case r.sem <- struct{}{}:
		return func() { <-r.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

type responseMeta struct {
	mu   sync.Mutex
	code int
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	if m.code == 0 {
		m.code = int(resp.Response.Status)
	}
	m.mu.Unlock()
}

func (m *responseMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code
}

// forwardCancel cancels the tab when the caller's context ends.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
