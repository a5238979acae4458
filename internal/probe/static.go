package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// StaticConfig controls the colly-backed renderer.
type StaticConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// StaticRenderer fetches the server-rendered HTML without executing scripts.
// It suits sites that ship stock markup in the initial response and keeps the
// probe usable where Chrome is not installed.
type StaticRenderer struct {
	cfg       StaticConfig
	transport http.RoundTripper
}

// NewStaticRenderer builds a StaticRenderer.
func NewStaticRenderer(cfg StaticConfig) *StaticRenderer {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultNavTimeout
	}
	return &StaticRenderer{cfg: cfg, transport: newHTTPTransport()}
}

// Close releases idle connections.
func (r *StaticRenderer) Close(_ context.Context) error {
	if t, ok := r.transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// Render performs a single GET and returns the response body.
func (r *StaticRenderer) Render(ctx context.Context, rawURL string) (Page, error) {
	var (
		page     Page
		fetchErr error
	)
	collector := colly.NewCollector(colly.Async(false), colly.UserAgent(r.cfg.UserAgent))
	collector.WithTransport(r.transport)
	collector.SetRequestTimeout(r.cfg.Timeout)
	collector.IgnoreRobotsTxt = true

	collector.OnResponse(func(resp *colly.Response) {
		page = Page{
			URL:        rawURL,
			FinalURL:   resp.Request.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       append([]byte(nil), resp.Body...),
		}
	})
	collector.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", resp.StatusCode, err)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return Page{}, fmt.Errorf("static fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return Page{}, fmt.Errorf("static fetch: %w", fetchErr)
		}
		if err != nil {
			return Page{}, fmt.Errorf("static fetch: %w", err)
		}
		return page, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
	}
}
