// Package memory provides an in-process stock.Store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/stockbot/internal/clock/system"
	"github.com/JakeFAU/stockbot/internal/stock"
)

type set map[string]struct{}

// Store keeps products and both subscription indexes behind one mutex.
type Store struct {
	mu           sync.RWMutex
	products     map[string]stock.Product
	subscribers  map[string]set // product url -> user ids
	userProducts map[string]set // user id -> product urls
	clock        stock.Clock
}

var _ stock.Store = (*Store)(nil)

// New constructs a Store. A nil clock falls back to the system clock.
func New(clock stock.Clock) *Store {
	if clock == nil {
		clock = system.New()
	}
	return &Store{
		products:     make(map[string]stock.Product),
		subscribers:  make(map[string]set),
		userProducts: make(map[string]set),
		clock:        clock,
	}
}

// UpsertProduct creates or updates a product. Empty fields keep the stored
// value, or the default on creation.
func (s *Store) UpsertProduct(_ context.Context, url string, fields stock.ProductFields) (stock.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	p, ok := s.products[url]
	if !ok {
		p = stock.Product{
			URL:       url,
			Name:      stock.DefaultProductName,
			Status:    stock.StatusUnknown,
			CreatedAt: now,
		}
	}
	if fields.Name != "" {
		p.Name = fields.Name
	}
	if fields.ImageURL != "" {
		p.ImageURL = fields.ImageURL
	}
	if fields.Status != "" {
		p.Status = fields.Status
	}
	p.LastCheckedAt = now
	s.products[url] = p
	return p, nil
}

// GetProduct returns the product for url.
func (s *Store) GetProduct(_ context.Context, url string) (stock.Product, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[url]
	return p, ok, nil
}

// ListProducts returns every product sorted by URL.
func (s *Store) ListProducts(_ context.Context) ([]stock.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]stock.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// UpdateStatus merges a new status into an existing product. It reports false
// when the product does not exist.
func (s *Store) UpdateStatus(_ context.Context, url string, status stock.Status, extra stock.StatusExtra) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[url]
	if !ok {
		return false, nil
	}
	p.Status = status
	p.LastCheckedAt = s.clock.Now()
	if extra.Name != "" {
		p.Name = extra.Name
	}
	if extra.ImageURL != "" {
		p.ImageURL = extra.ImageURL
	}
	s.products[url] = p
	return true, nil
}

// DeleteProduct removes a product and every subscription to it.
func (s *Store) DeleteProduct(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(url)
	return nil
}

func (s *Store) deleteLocked(url string) {
	for userID := range s.subscribers[url] {
		s.removeUserProductLocked(userID, url)
	}
	delete(s.subscribers, url)
	delete(s.products, url)
}

func (s *Store) removeUserProductLocked(userID, url string) {
	urls := s.userProducts[userID]
	delete(urls, url)
	if len(urls) == 0 {
		delete(s.userProducts, userID)
	}
}

// Subscribe links userID and url in both indexes.
func (s *Store) Subscribe(_ context.Context, userID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[url]; !ok {
		return stock.ErrProductNotFound
	}
	if s.subscribers[url] == nil {
		s.subscribers[url] = make(set)
	}
	if s.userProducts[userID] == nil {
		s.userProducts[userID] = make(set)
	}
	s.subscribers[url][userID] = struct{}{}
	s.userProducts[userID][url] = struct{}{}
	return nil
}

// Unsubscribe removes the link and deletes the product once nobody follows it.
func (s *Store) Unsubscribe(_ context.Context, userID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if users := s.subscribers[url]; users != nil {
		delete(users, userID)
	}
	s.removeUserProductLocked(userID, url)
	if len(s.subscribers[url]) == 0 {
		s.deleteLocked(url)
	}
	return nil
}

// IsSubscribed reports whether userID follows url.
func (s *Store) IsSubscribed(_ context.Context, userID, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subscribers[url][userID]
	return ok, nil
}

// SubscriberCount returns the number of users following url.
func (s *Store) SubscriberCount(_ context.Context, url string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers[url]), nil
}

// Subscribers returns the sorted user ids following url.
func (s *Store) Subscribers(_ context.Context, url string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.subscribers[url]), nil
}

// ProductsOf returns the products userID follows, sorted by URL.
func (s *Store) ProductsOf(_ context.Context, userID string) ([]stock.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	urls := sortedKeys(s.userProducts[userID])
	out := make([]stock.Product, 0, len(urls))
	for _, url := range urls {
		if p, ok := s.products[url]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Stats aggregates product and subscriber counts.
func (s *Store) Stats(_ context.Context) (stock.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := stock.Stats{TotalProducts: len(s.products)}
	for url, p := range s.products {
		stats.TotalSubscribers += len(s.subscribers[url])
		switch p.Status {
		case stock.StatusInStock:
			stats.InStock++
		case stock.StatusOutOfStock:
			stats.OutOfStock++
		}
	}
	return stats, nil
}

func sortedKeys(m set) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
