// Package redis implements stock.Store on Redis.
//
// Layout:
//
//	product:<key>               hash  url, name, imageUrl, status, lastChecked, createdAt
//	products:all                set   product urls
//	product:<key>:subscribers   set   user ids
//	user:<id>:products          set   product urls
//
// <key> is the unpadded URL-safe base64 encoding of the product URL.
package redis

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/stockbot/internal/clock/system"
	"github.com/JakeFAU/stockbot/internal/stock"
)

const (
	allProductsKey = "products:all"

	fieldURL         = "url"
	fieldName        = "name"
	fieldImageURL    = "imageUrl"
	fieldStatus      = "status"
	fieldLastChecked = "lastChecked"
	fieldCreatedAt   = "createdAt"

	maxTxRetries = 5
)

// Config describes the Redis connection.
type Config struct {
	URL string
}

// Store implements stock.Store using go-redis.
type Store struct {
	client goredis.UniversalClient
	clock  stock.Clock
}

var _ stock.Store = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, clock stock.Clock) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("store.redis_url is required")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, clock), nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client goredis.UniversalClient, clock stock.Clock) *Store {
	if clock == nil {
		clock = system.New()
	}
	return &Store{client: client, clock: clock}
}

// Close releases the client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func encode(url string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(url))
}

func productKey(url string) string     { return "product:" + encode(url) }
func subscribersKey(url string) string { return "product:" + encode(url) + ":subscribers" }
func userKey(userID string) string     { return "user:" + userID + ":products" }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// UpsertProduct creates or updates a product hash. Defaults are written with
// HSETNX so existing values survive an upsert with empty fields.
func (s *Store) UpsertProduct(ctx context.Context, url string, fields stock.ProductFields) (stock.Product, error) {
	key := productKey(url)
	now := formatTime(s.clock.Now())
	values := map[string]any{fieldURL: url, fieldLastChecked: now}
	if fields.Name != "" {
		values[fieldName] = fields.Name
	}
	if fields.ImageURL != "" {
		values[fieldImageURL] = fields.ImageURL
	}
	if fields.Status != "" {
		values[fieldStatus] = string(fields.Status)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldName, stock.DefaultProductName)
		pipe.HSetNX(ctx, key, fieldStatus, string(stock.StatusUnknown))
		pipe.HSetNX(ctx, key, fieldImageURL, "")
		pipe.HSetNX(ctx, key, fieldCreatedAt, now)
		pipe.HSet(ctx, key, values)
		pipe.SAdd(ctx, allProductsKey, url)
		return nil
	})
	if err != nil {
		return stock.Product{}, fmt.Errorf("upsert product: %w", err)
	}
	p, ok, err := s.GetProduct(ctx, url)
	if err != nil {
		return stock.Product{}, err
	}
	if !ok {
		return stock.Product{}, fmt.Errorf("upsert product: %w", stock.ErrProductNotFound)
	}
	return p, nil
}

// GetProduct loads one product hash.
func (s *Store) GetProduct(ctx context.Context, url string) (stock.Product, bool, error) {
	m, err := s.client.HGetAll(ctx, productKey(url)).Result()
	if err != nil {
		return stock.Product{}, false, fmt.Errorf("get product: %w", err)
	}
	if len(m) == 0 {
		return stock.Product{}, false, nil
	}
	return decodeProduct(url, m), true, nil
}

// ListProducts loads every product in products:all.
func (s *Store) ListProducts(ctx context.Context) ([]stock.Product, error) {
	members, err := s.client.SMembers(ctx, allProductsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list product urls: %w", err)
	}
	return s.loadProducts(ctx, members)
}

func (s *Store) loadProducts(ctx context.Context, urls []string) ([]stock.Product, error) {
	if len(urls) == 0 {
		return []stock.Product{}, nil
	}
	sort.Strings(urls)
	cmds := make([]*goredis.MapStringStringCmd, len(urls))
	_, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, url := range urls {
			cmds[i] = pipe.HGetAll(ctx, productKey(url))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	out := make([]stock.Product, 0, len(urls))
	for i, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		out = append(out, decodeProduct(urls[i], m))
	}
	return out, nil
}

// UpdateStatus merges status into an existing hash inside a WATCH transaction
// so a concurrent delete is never undone.
func (s *Store) UpdateStatus(ctx context.Context, url string, status stock.Status, extra stock.StatusExtra) (bool, error) {
	key := productKey(url)
	values := map[string]any{
		fieldStatus:      string(status),
		fieldLastChecked: formatTime(s.clock.Now()),
	}
	if extra.Name != "" {
		values[fieldName] = extra.Name
	}
	if extra.ImageURL != "" {
		values[fieldImageURL] = extra.ImageURL
	}

	updated := false
	err := s.retryWatch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			updated = false
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, values)
			return nil
		})
		updated = err == nil
		return err
	}, key)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	return updated, nil
}

// DeleteProduct removes the product and both sides of every subscription.
func (s *Store) DeleteProduct(ctx context.Context, url string) error {
	subsKey := subscribersKey(url)
	err := s.retryWatch(ctx, func(tx *goredis.Tx) error {
		users, err := tx.SMembers(ctx, subsKey).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			s.queueDelete(ctx, pipe, url, users)
			return nil
		})
		return err
	}, subsKey)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}

func (s *Store) queueDelete(ctx context.Context, pipe goredis.Pipeliner, url string, users []string) {
	for _, userID := range users {
		pipe.SRem(ctx, userKey(userID), url)
	}
	pipe.Del(ctx, productKey(url), subscribersKey(url))
	pipe.SRem(ctx, allProductsKey, url)
}

// Subscribe adds the pair to both indexes in one transaction.
func (s *Store) Subscribe(ctx context.Context, userID, url string) error {
	key := productKey(url)
	err := s.retryWatch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return stock.ErrProductNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.SAdd(ctx, subscribersKey(url), userID)
			pipe.SAdd(ctx, userKey(userID), url)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Unsubscribe removes the pair and, when no subscribers remain, the product.
func (s *Store) Unsubscribe(ctx context.Context, userID, url string) error {
	subsKey := subscribersKey(url)
	err := s.retryWatch(ctx, func(tx *goredis.Tx) error {
		remaining, err := tx.SMembers(ctx, subsKey).Result()
		if err != nil {
			return err
		}
		left := make([]string, 0, len(remaining))
		for _, id := range remaining {
			if id != userID {
				left = append(left, id)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.SRem(ctx, subsKey, userID)
			pipe.SRem(ctx, userKey(userID), url)
			if len(left) == 0 {
				s.queueDelete(ctx, pipe, url, nil)
			}
			return nil
		})
		return err
	}, subsKey)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

// IsSubscribed reports set membership.
func (s *Store) IsSubscribed(ctx context.Context, userID, url string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, subscribersKey(url), userID).Result()
	if err != nil {
		return false, fmt.Errorf("is subscribed: %w", err)
	}
	return ok, nil
}

// SubscriberCount returns the subscriber set cardinality.
func (s *Store) SubscriberCount(ctx context.Context, url string) (int, error) {
	n, err := s.client.SCard(ctx, subscribersKey(url)).Result()
	if err != nil {
		return 0, fmt.Errorf("subscriber count: %w", err)
	}
	return int(n), nil
}

// Subscribers returns the sorted subscriber ids.
func (s *Store) Subscribers(ctx context.Context, url string) ([]string, error) {
	users, err := s.client.SMembers(ctx, subscribersKey(url)).Result()
	if err != nil {
		return nil, fmt.Errorf("subscribers: %w", err)
	}
	sort.Strings(users)
	return users, nil
}

// ProductsOf returns the products a user follows.
func (s *Store) ProductsOf(ctx context.Context, userID string) ([]stock.Product, error) {
	urls, err := s.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("user products: %w", err)
	}
	return s.loadProducts(ctx, urls)
}

// Stats aggregates product and subscriber counts.
func (s *Store) Stats(ctx context.Context) (stock.Stats, error) {
	products, err := s.ListProducts(ctx)
	if err != nil {
		return stock.Stats{}, err
	}
	cards := make([]*goredis.IntCmd, len(products))
	if len(products) > 0 {
		_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
			for i, p := range products {
				cards[i] = pipe.SCard(ctx, subscribersKey(p.URL))
			}
			return nil
		})
		if err != nil {
			return stock.Stats{}, fmt.Errorf("count subscribers: %w", err)
		}
	}
	stats := stock.Stats{TotalProducts: len(products)}
	for i, p := range products {
		stats.TotalSubscribers += int(cards[i].Val())
		switch p.Status {
		case stock.StatusInStock:
			stats.InStock++
		case stock.StatusOutOfStock:
			stats.OutOfStock++
		}
	}
	return stats, nil
}

// retryWatch runs fn under WATCH, retrying when a watched key changed.
func (s *Store) retryWatch(ctx context.Context, fn func(*goredis.Tx) error, keys ...string) error {
	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return err
}

func decodeProduct(url string, m map[string]string) stock.Product {
	p := stock.Product{
		URL:      url,
		Name:     m[fieldName],
		ImageURL: m[fieldImageURL],
		Status:   stock.Status(m[fieldStatus]),
	}
	if p.Status == "" {
		p.Status = stock.StatusUnknown
	}
	if ts, err := time.Parse(time.RFC3339Nano, m[fieldLastChecked]); err == nil {
		p.LastCheckedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, m[fieldCreatedAt]); err == nil {
		p.CreatedAt = ts
	}
	return p
}
