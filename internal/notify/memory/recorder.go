// Package memory contains an in-memory notifier for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/stockbot/internal/stock"
)

// Recorder stores every change it is asked to deliver.
type Recorder struct {
	mu      sync.RWMutex
	changes []stock.Change
	err     error
}

// New returns an empty Recorder.
func New() *Recorder {
	return &Recorder{}
}

// FailWith makes subsequent Notify calls return err after recording.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Notify records c.
func (r *Recorder) Notify(_ context.Context, c stock.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return r.err
}

// Changes returns a copy of the recorded changes.
func (r *Recorder) Changes() []stock.Change {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]stock.Change, len(r.changes))
	copy(out, r.changes)
	return out
}
