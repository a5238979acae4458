// Package stock defines the core types shared by the availability pipeline.
package stock

import "time"

// Status represents the availability state of a product page.
type Status string

// Availability values persisted in the product store.
const (
	StatusUnknown    Status = "unknown"
	StatusInStock    Status = "in_stock"
	StatusOutOfStock Status = "out_of_stock"
	StatusError      Status = "error"
)

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusUnknown, StatusInStock, StatusOutOfStock, StatusError:
		return true
	default:
		return false
	}
}

// Label renders the status for chat and notification output.
func (s Status) Label() string {
	switch s {
	case StatusInStock:
		return "✅ In Stock"
	case StatusOutOfStock:
		return "❌ Out of Stock"
	default:
		return "❓ Unknown"
	}
}

// DefaultProductName is stored when a page yields no usable title.
const DefaultProductName = "Unknown Product"

// Product is the persisted record for one monitored page.
type Product struct {
	URL           string    `json:"url"`
	Name          string    `json:"name"`
	ImageURL      string    `json:"image_url,omitempty"`
	Status        Status    `json:"status"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// ProductFields carries the mutable fields written by UpsertProduct.
type ProductFields struct {
	Name     string
	ImageURL string
	Status   Status
}

// StatusExtra holds optional fields merged during UpdateStatus. Empty values
// leave the stored field untouched.
type StatusExtra struct {
	Name     string
	ImageURL string
}

// ProbeResult is the outcome of a single page probe.
type ProbeResult struct {
	Status   Status `json:"status"`
	Name     string `json:"name,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Failed reports whether the probe ended in an error state.
func (r ProbeResult) Failed() bool {
	return r.Status == StatusError || r.Error != ""
}

// Change describes an availability transition worth notifying about.
type Change struct {
	Product     Product   `json:"product"`
	OldStatus   Status    `json:"old_status"`
	NewStatus   Status    `json:"new_status"`
	Subscribers []string  `json:"subscribers"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Restocked reports whether the change moved the product into stock.
func (c Change) Restocked() bool {
	return c.NewStatus == StatusInStock
}

// Stats summarises the store for dashboards.
type Stats struct {
	TotalProducts    int `json:"total_products"`
	TotalSubscribers int `json:"total_subscribers"`
	InStock          int `json:"in_stock"`
	OutOfStock       int `json:"out_of_stock"`
}
