package stock

import (
	"context"
	"time"
)

// Store persists products and the subscriber indexes between users and products.
// Subscribe and Unsubscribe keep the product→users and user→products indexes
// mutually inverse.
type Store interface {
	UpsertProduct(ctx context.Context, url string, fields ProductFields) (Product, error)
	GetProduct(ctx context.Context, url string) (Product, bool, error)
	ListProducts(ctx context.Context) ([]Product, error)
	UpdateStatus(ctx context.Context, url string, status Status, extra StatusExtra) (bool, error)
	DeleteProduct(ctx context.Context, url string) error

	Subscribe(ctx context.Context, userID, url string) error
	Unsubscribe(ctx context.Context, userID, url string) error
	IsSubscribed(ctx context.Context, userID, url string) (bool, error)
	SubscriberCount(ctx context.Context, url string) (int, error)
	Subscribers(ctx context.Context, url string) ([]string, error)
	ProductsOf(ctx context.Context, userID string) ([]Product, error)
	Stats(ctx context.Context) (Stats, error)
}

// Prober renders a product page and classifies its availability. Probe never
// returns an error; failures are reported through ProbeResult.
type Prober interface {
	Probe(ctx context.Context, url string) ProbeResult
}

// Notifier delivers availability changes to subscribers.
type Notifier interface {
	Notify(ctx context.Context, change Change) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
