// Package postgres implements stock.Store on Postgres via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/stockbot/internal/clock/system"
	"github.com/JakeFAU/stockbot/internal/stock"
)

const foreignKeyViolation = "23503"

// Schema creates the tables used by Store. Subscriptions cascade on product
// delete, so one row serves both directions of the index.
const Schema = `
CREATE TABLE IF NOT EXISTS products (
	url             TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	image_url       TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	last_checked_at TIMESTAMPTZ NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS subscriptions (
	user_id       TEXT NOT NULL,
	product_url   TEXT NOT NULL REFERENCES products(url) ON DELETE CASCADE,
	subscribed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, product_url)
);
CREATE INDEX IF NOT EXISTS subscriptions_product_url_idx ON subscriptions (product_url);
`

const productColumns = `url, name, image_url, status, last_checked_at, created_at`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store writes products and subscriptions into Postgres.
type Store struct {
	pool  pool
	clock stock.Clock
}

var _ stock.Store = (*Store)(nil)

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config, clock stock.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p, clock)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, clock stock.Clock) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		clock = system.New()
	}
	return &Store{pool: p, clock: clock}, nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertProduct inserts a product or merges non-empty fields into the existing row.
func (s *Store) UpsertProduct(ctx context.Context, url string, fields stock.ProductFields) (stock.Product, error) {
	query := `
INSERT INTO products (` + productColumns + `)
VALUES ($1, COALESCE(NULLIF($2, ''), $6), $3, COALESCE(NULLIF($4, ''), $7), $5, $5)
ON CONFLICT (url) DO UPDATE SET
	name = COALESCE(NULLIF($2, ''), products.name),
	image_url = COALESCE(NULLIF($3, ''), products.image_url),
	status = COALESCE(NULLIF($4, ''), products.status),
	last_checked_at = $5
RETURNING ` + productColumns

	row := s.pool.QueryRow(ctx, query,
		url,
		fields.Name,
		fields.ImageURL,
		string(fields.Status),
		s.clock.Now(),
		stock.DefaultProductName,
		string(stock.StatusUnknown),
	)
	p, err := scanProduct(row)
	if err != nil {
		return stock.Product{}, fmt.Errorf("upsert product: %w", err)
	}
	return p, nil
}

// GetProduct loads one product.
func (s *Store) GetProduct(ctx context.Context, url string) (stock.Product, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE url = $1`, url)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return stock.Product{}, false, nil
	}
	if err != nil {
		return stock.Product{}, false, fmt.Errorf("get product: %w", err)
	}
	return p, true, nil
}

// ListProducts returns every product ordered by URL.
func (s *Store) ListProducts(ctx context.Context) ([]stock.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return collectProducts(rows)
}

// UpdateStatus updates an existing row and reports whether one matched.
func (s *Store) UpdateStatus(ctx context.Context, url string, status stock.Status, extra stock.StatusExtra) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE products SET
	status = $2,
	last_checked_at = $3,
	name = COALESCE(NULLIF($4, ''), name),
	image_url = COALESCE(NULLIF($5, ''), image_url)
WHERE url = $1`, url, string(status), s.clock.Now(), extra.Name, extra.ImageURL)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteProduct removes the product; subscriptions cascade.
func (s *Store) DeleteProduct(ctx context.Context, url string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM products WHERE url = $1`, url); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}

// Subscribe inserts the subscription row.
func (s *Store) Subscribe(ctx context.Context, userID, url string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO subscriptions (user_id, product_url, subscribed_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, product_url) DO NOTHING`, userID, url, s.clock.Now())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("subscribe: %w", stock.ErrProductNotFound)
	}
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Unsubscribe deletes the subscription and the product when it has no
// subscribers left, in one transaction.
func (s *Store) Unsubscribe(ctx context.Context, userID, url string) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unsubscribe: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM subscriptions WHERE user_id = $1 AND product_url = $2`, userID, url); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if _, err = tx.Exec(ctx, `
DELETE FROM products p
WHERE p.url = $1
  AND NOT EXISTS (SELECT 1 FROM subscriptions s WHERE s.product_url = p.url)`, url); err != nil {
		return fmt.Errorf("cleanup product: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit unsubscribe: %w", err)
	}
	return nil
}

// IsSubscribed reports whether the subscription row exists.
func (s *Store) IsSubscribed(ctx context.Context, userID, url string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE user_id = $1 AND product_url = $2)`,
		userID, url,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("is subscribed: %w", err)
	}
	return ok, nil
}

// SubscriberCount counts subscription rows for url.
func (s *Store) SubscriberCount(ctx context.Context, url string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM subscriptions WHERE product_url = $1`, url).Scan(&n); err != nil {
		return 0, fmt.Errorf("subscriber count: %w", err)
	}
	return n, nil
}

// Subscribers lists user ids following url.
func (s *Store) Subscribers(ctx context.Context, url string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM subscriptions WHERE product_url = $1 ORDER BY user_id`, url)
	if err != nil {
		return nil, fmt.Errorf("subscribers: %w", err)
	}
	defer rows.Close()
	users := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return users, nil
}

// ProductsOf lists the products userID follows.
func (s *Store) ProductsOf(ctx context.Context, userID string) ([]stock.Product, error) {
	rows, err := s.pool.Query(ctx, `
SELECT p.url, p.name, p.image_url, p.status, p.last_checked_at, p.created_at
FROM products p
JOIN subscriptions s ON s.product_url = p.url
WHERE s.user_id = $1
ORDER BY p.url`, userID)
	if err != nil {
		return nil, fmt.Errorf("user products: %w", err)
	}
	return collectProducts(rows)
}

// Stats aggregates counts in one round trip.
func (s *Store) Stats(ctx context.Context) (stock.Stats, error) {
	var stats stock.Stats
	err := s.pool.QueryRow(ctx, `
SELECT
	count(*),
	(SELECT count(*) FROM subscriptions),
	count(*) FILTER (WHERE status = 'in_stock'),
	count(*) FILTER (WHERE status = 'out_of_stock')
FROM products`).Scan(&stats.TotalProducts, &stats.TotalSubscribers, &stats.InStock, &stats.OutOfStock)
	if err != nil {
		return stock.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}

func scanProduct(row pgx.Row) (stock.Product, error) {
	var (
		p      stock.Product
		status string
	)
	if err := row.Scan(&p.URL, &p.Name, &p.ImageURL, &status, &p.LastCheckedAt, &p.CreatedAt); err != nil {
		return stock.Product{}, err
	}
	p.Status = stock.Status(status)
	return p, nil
}

func collectProducts(rows pgx.Rows) ([]stock.Product, error) {
	defer rows.Close()
	out := []stock.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return out, nil
}
