package probe

import (
	"context"
	"errors"
)

// ErrRendererDisabled indicates rendering has been disabled via configuration.
var ErrRendererDisabled = errors.New("renderer disabled")

// Page is a rendered DOM snapshot.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
}

// Renderer loads a URL and returns the resulting HTML.
type Renderer interface {
	Render(ctx context.Context, url string) (Page, error)
	Close(ctx context.Context) error
}

func (p Page) baseURL() string {
	if p.FinalURL != "" {
		return p.FinalURL
	}
	return p.URL
}
