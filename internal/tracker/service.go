// Package tracker implements the operations shared by the chat and HTTP
// front ends: track, untrack, list, check, stats and manual triggers.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/stockbot/internal/probe"
	"github.com/JakeFAU/stockbot/internal/stock"
)

// Trigger starts a monitor cycle without waiting for it.
type Trigger interface {
	ForceCheck() bool
}

// Service coordinates the store and the prober for front ends. Its methods are
// safe for concurrent use and run outside the scheduler's guard.
type Service struct {
	store     stock.Store
	prober    stock.Prober
	validator probe.Validator
	trigger   Trigger
	logger    *zap.Logger
}

// New builds a Service. trigger may be nil when no scheduler is running.
func New(store stock.Store, prober stock.Prober, validator probe.Validator, trigger Trigger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		prober:    prober,
		validator: validator,
		trigger:   trigger,
		logger:    logger,
	}
}

// Validate normalizes rawURL and checks it points at a monitored product page.
func (s *Service) Validate(rawURL string) (string, error) {
	if !s.validator.IsValidURL(rawURL) {
		return "", fmt.Errorf("%w: %q", stock.ErrInvalidURL, strings.TrimSpace(rawURL))
	}
	normalized, err := probe.NormalizeURL(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", stock.ErrInvalidURL, err)
	}
	return normalized, nil
}

// Track probes rawURL, stores the product and, when userID is set, subscribes
// the user. A failed probe returns a *stock.ProbeError and writes nothing.
func (s *Service) Track(ctx context.Context, rawURL, userID string) (stock.Product, error) {
	url, err := s.Validate(rawURL)
	if err != nil {
		return stock.Product{}, err
	}
	if userID != "" {
		subscribed, err := s.store.IsSubscribed(ctx, userID, url)
		if err != nil {
			return stock.Product{}, fmt.Errorf("check subscription: %w", err)
		}
		if subscribed {
			return stock.Product{}, stock.ErrAlreadySubscribed
		}
	}

	res := s.prober.Probe(ctx, url)
	if res.Failed() {
		return stock.Product{}, &stock.ProbeError{URL: url, Msg: res.Error}
	}

	fields := stock.ProductFields{Name: res.Name, ImageURL: res.ImageURL, Status: res.Status}
	product, err := s.store.UpsertProduct(ctx, url, fields)
	if err != nil {
		return stock.Product{}, fmt.Errorf("store product: %w", err)
	}
	if userID != "" {
		err := s.store.Subscribe(ctx, userID, url)
		if errors.Is(err, stock.ErrProductNotFound) {
			// The last other subscriber left between the two writes.
			s.logger.Debug("product removed before subscribe, retrying", zap.String("url", url))
			if product, err = s.store.UpsertProduct(ctx, url, fields); err != nil {
				return stock.Product{}, fmt.Errorf("store product: %w", err)
			}
			err = s.store.Subscribe(ctx, userID, url)
		}
		if err != nil {
			return stock.Product{}, fmt.Errorf("subscribe: %w", err)
		}
	}
	s.logger.Info("tracking product",
		zap.String("url", url),
		zap.String("user_id", userID),
		zap.String("status", string(product.Status)),
	)
	return product, nil
}

// Untrack unsubscribes userID from rawURL, deleting the product when nobody is
// left. With an empty userID the product is removed outright. The returned
// product is the record as it was before removal.
func (s *Service) Untrack(ctx context.Context, rawURL, userID string) (stock.Product, error) {
	url := strings.TrimSpace(rawURL)
	if normalized, err := probe.NormalizeURL(url); err == nil {
		url = normalized
	}
	product, found, err := s.store.GetProduct(ctx, url)
	if err != nil {
		return stock.Product{}, fmt.Errorf("load product: %w", err)
	}
	if !found {
		product = stock.Product{URL: url, Name: stock.DefaultProductName}
	}

	if userID == "" {
		if !found {
			return stock.Product{}, stock.ErrProductNotFound
		}
		if err := s.store.DeleteProduct(ctx, url); err != nil {
			return stock.Product{}, fmt.Errorf("delete product: %w", err)
		}
		s.logger.Info("product removed", zap.String("url", url))
		return product, nil
	}

	subscribed, err := s.store.IsSubscribed(ctx, userID, url)
	if err != nil {
		return stock.Product{}, fmt.Errorf("check subscription: %w", err)
	}
	if !subscribed {
		return stock.Product{}, stock.ErrNotSubscribed
	}
	if err := s.store.Unsubscribe(ctx, userID, url); err != nil {
		return stock.Product{}, fmt.Errorf("unsubscribe: %w", err)
	}
	s.logger.Info("stopped tracking", zap.String("url", url), zap.String("user_id", userID))
	return product, nil
}

// Product looks up a tracked product by URL.
func (s *Service) Product(ctx context.Context, rawURL string) (stock.Product, bool, error) {
	url := strings.TrimSpace(rawURL)
	if normalized, err := probe.NormalizeURL(url); err == nil {
		url = normalized
	}
	p, ok, err := s.store.GetProduct(ctx, url)
	if err != nil {
		return stock.Product{}, false, fmt.Errorf("load product: %w", err)
	}
	return p, ok, nil
}

// List returns the products userID follows.
func (s *Service) List(ctx context.Context, userID string) ([]stock.Product, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	products, err := s.store.ProductsOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user products: %w", err)
	}
	return products, nil
}

// ListAll returns every tracked product.
func (s *Service) ListAll(ctx context.Context) ([]stock.Product, error) {
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// Check probes rawURL without persisting anything.
func (s *Service) Check(ctx context.Context, rawURL string) (string, stock.ProbeResult, error) {
	url, err := s.Validate(rawURL)
	if err != nil {
		return "", stock.ProbeResult{}, err
	}
	res := s.prober.Probe(ctx, url)
	if res.Failed() {
		return url, res, &stock.ProbeError{URL: url, Msg: res.Error}
	}
	return url, res, nil
}

// Stats returns aggregate store counts.
func (s *Service) Stats(ctx context.Context) (stock.Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return stock.Stats{}, fmt.Errorf("load stats: %w", err)
	}
	return st, nil
}

// ForceCheck asks the scheduler for an immediate cycle. It reports whether a
// cycle was started; false also covers a cycle already in progress.
func (s *Service) ForceCheck() bool {
	if s.trigger == nil {
		return false
	}
	return s.trigger.ForceCheck()
}

// Ping checks the store is reachable, when the backend supports it.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("store ping: %w", err)
		}
	}
	return nil
}
