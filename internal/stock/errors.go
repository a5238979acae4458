package stock

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidURL is returned when a URL is not a monitored product page.
	ErrInvalidURL = errors.New("invalid product url")
	// ErrProductNotFound is returned when an operation targets a missing product.
	ErrProductNotFound = errors.New("product not found")
	// ErrAlreadySubscribed is returned when a user tracks a product twice.
	ErrAlreadySubscribed = errors.New("already subscribed")
	// ErrNotSubscribed is returned when a user untracks a product they do not follow.
	ErrNotSubscribed = errors.New("not subscribed")
)

// ProbeError reports a failed page probe during an on-demand operation.
type ProbeError struct {
	URL string
	Msg string
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %s", e.URL, e.Msg)
}
