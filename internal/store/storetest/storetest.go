// Package storetest holds the behavioural suite shared by every stock.Store backend.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/stockbot/internal/stock"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) stock.Store

const (
	urlA = "https://shop.amul.com/en/product/amul-kool-kesar"
	urlB = "https://shop.amul.com/en/product/amul-high-protein-lassi"
)

// Run exercises the stock.Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("UpsertCreatesWithDefaults", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		p, err := s.UpsertProduct(ctx, urlA, stock.ProductFields{})
		require.NoError(t, err)
		require.Equal(t, urlA, p.URL)
		require.Equal(t, stock.DefaultProductName, p.Name)
		require.Equal(t, stock.StatusUnknown, p.Status)
		require.False(t, p.CreatedAt.IsZero())
		require.False(t, p.LastCheckedAt.IsZero())

		got, ok, err := s.GetProduct(ctx, urlA)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, p.Name, got.Name)
		require.Equal(t, p.Status, got.Status)
	})

	t.Run("UpsertIsIdempotentAndKeepsCreatedAt", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.UpsertProduct(ctx, urlA, stock.ProductFields{Name: "Kool", Status: stock.StatusInStock, ImageURL: "https://cdn/x.png"})
		require.NoError(t, err)
		second, err := s.UpsertProduct(ctx, urlA, stock.ProductFields{Name: "Kool Kesar"})
		require.NoError(t, err)

		require.True(t, first.CreatedAt.Equal(second.CreatedAt))
		require.Equal(t, "Kool Kesar", second.Name)
		require.Equal(t, stock.StatusInStock, second.Status)
		require.Equal(t, "https://cdn/x.png", second.ImageURL)

		all, err := s.ListProducts(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.GetProduct(context.Background(), urlB)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("UpdateStatusMergesAndNeverResurrects", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ok, err := s.UpdateStatus(ctx, urlA, stock.StatusInStock, stock.StatusExtra{})
		require.NoError(t, err)
		require.False(t, ok)
		_, exists, err := s.GetProduct(ctx, urlA)
		require.NoError(t, err)
		require.False(t, exists)

		_, err = s.UpsertProduct(ctx, urlA, stock.ProductFields{Name: "Kool", ImageURL: "https://cdn/a.png", Status: stock.StatusOutOfStock})
		require.NoError(t, err)
		ok, err = s.UpdateStatus(ctx, urlA, stock.StatusInStock, stock.StatusExtra{Name: "Kool Kesar"})
		require.NoError(t, err)
		require.True(t, ok)

		p, _, err := s.GetProduct(ctx, urlA)
		require.NoError(t, err)
		require.Equal(t, stock.StatusInStock, p.Status)
		require.Equal(t, "Kool Kesar", p.Name)
		require.Equal(t, "https://cdn/a.png", p.ImageURL)
	})

	t.Run("SubscribeMaintainsBothIndexes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustUpsert(t, s, urlA)
		mustUpsert(t, s, urlB)

		require.NoError(t, s.Subscribe(ctx, "u1", urlA))
		require.NoError(t, s.Subscribe(ctx, "u1", urlA))
		require.NoError(t, s.Subscribe(ctx, "u2", urlA))
		require.NoError(t, s.Subscribe(ctx, "u1", urlB))

		subs, err := s.Subscribers(ctx, urlA)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"u1", "u2"}, subs)

		n, err := s.SubscriberCount(ctx, urlA)
		require.NoError(t, err)
		require.Equal(t, 2, n)

		yes, err := s.IsSubscribed(ctx, "u2", urlA)
		require.NoError(t, err)
		require.True(t, yes)
		no, err := s.IsSubscribed(ctx, "u2", urlB)
		require.NoError(t, err)
		require.False(t, no)

		mine, err := s.ProductsOf(ctx, "u1")
		require.NoError(t, err)
		require.ElementsMatch(t, []string{urlA, urlB}, urls(mine))
	})

	t.Run("SubscribeMissingProduct", func(t *testing.T) {
		s := newStore(t)
		err := s.Subscribe(context.Background(), "u1", urlA)
		require.ErrorIs(t, err, stock.ErrProductNotFound)
	})

	t.Run("SubscribeThenUnsubscribeRestoresIndexes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustUpsert(t, s, urlA)
		require.NoError(t, s.Subscribe(ctx, "u1", urlA))
		require.NoError(t, s.Subscribe(ctx, "u2", urlA))

		require.NoError(t, s.Subscribe(ctx, "u3", urlA))
		require.NoError(t, s.Unsubscribe(ctx, "u3", urlA))

		subs, err := s.Subscribers(ctx, urlA)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"u1", "u2"}, subs)
		mine, err := s.ProductsOf(ctx, "u3")
		require.NoError(t, err)
		require.Empty(t, mine)
	})

	t.Run("UnsubscribeLastDeletesProduct", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustUpsert(t, s, urlA)
		require.NoError(t, s.Subscribe(ctx, "u1", urlA))
		require.NoError(t, s.Subscribe(ctx, "u2", urlA))

		require.NoError(t, s.Unsubscribe(ctx, "u1", urlA))
		_, ok, err := s.GetProduct(ctx, urlA)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, s.Unsubscribe(ctx, "u2", urlA))
		_, ok, err = s.GetProduct(ctx, urlA)
		require.NoError(t, err)
		require.False(t, ok)

		all, err := s.ListProducts(ctx)
		require.NoError(t, err)
		require.Empty(t, all)
		n, err := s.SubscriberCount(ctx, urlA)
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("DeleteProductClearsBothIndexes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustUpsert(t, s, urlA)
		mustUpsert(t, s, urlB)
		require.NoError(t, s.Subscribe(ctx, "u1", urlA))
		require.NoError(t, s.Subscribe(ctx, "u1", urlB))
		require.NoError(t, s.Subscribe(ctx, "u2", urlA))

		require.NoError(t, s.DeleteProduct(ctx, urlA))

		_, ok, err := s.GetProduct(ctx, urlA)
		require.NoError(t, err)
		require.False(t, ok)
		mine, err := s.ProductsOf(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, []string{urlB}, urls(mine))
		mine, err = s.ProductsOf(ctx, "u2")
		require.NoError(t, err)
		require.Empty(t, mine)
	})

	t.Run("Stats", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.UpsertProduct(ctx, urlA, stock.ProductFields{Status: stock.StatusInStock})
		require.NoError(t, err)
		_, err = s.UpsertProduct(ctx, urlB, stock.ProductFields{Status: stock.StatusOutOfStock})
		require.NoError(t, err)
		require.NoError(t, s.Subscribe(ctx, "u1", urlA))
		require.NoError(t, s.Subscribe(ctx, "u2", urlA))
		require.NoError(t, s.Subscribe(ctx, "u1", urlB))

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, stock.Stats{TotalProducts: 2, TotalSubscribers: 3, InStock: 1, OutOfStock: 1}, stats)
	})
}

func mustUpsert(t *testing.T, s stock.Store, url string) {
	t.Helper()
	_, err := s.UpsertProduct(context.Background(), url, stock.ProductFields{Name: "Test Product"})
	require.NoError(t, err)
}

func urls(products []stock.Product) []string {
	out := make([]string, 0, len(products))
	for _, p := range products {
		out = append(out, p.URL)
	}
	return out
}
