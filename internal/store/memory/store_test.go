package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/stockbot/internal/clock/system"
	"github.com/JakeFAU/stockbot/internal/stock"
	"github.com/JakeFAU/stockbot/internal/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) stock.Store { return New(nil) })
}

func TestUpdateStatusUsesClock(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	s := New(system.Func(func() time.Time { return now }))
	ctx := context.Background()

	created, err := s.UpsertProduct(ctx, "https://shop.amul.com/en/product/x", stock.ProductFields{})
	require.NoError(t, err)
	require.Equal(t, now, created.CreatedAt)

	now = now.Add(5 * time.Minute)
	ok, err := s.UpdateStatus(ctx, "https://shop.amul.com/en/product/x", stock.StatusOutOfStock, stock.StatusExtra{})
	require.NoError(t, err)
	require.True(t, ok)

	p, _, err := s.GetProduct(ctx, "https://shop.amul.com/en/product/x")
	require.NoError(t, err)
	require.Equal(t, now, p.LastCheckedAt)
	require.Equal(t, created.CreatedAt, p.CreatedAt)
}

func TestConcurrentSubscribers(t *testing.T) {
	t.Parallel()

	s := New(nil)
	ctx := context.Background()
	url := "https://shop.amul.com/en/product/x"
	_, err := s.UpsertProduct(ctx, url, stock.ProductFields{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Subscribe(ctx, string(rune('a'+i%26))+"-user", url)
		}(i)
	}
	wg.Wait()

	n, err := s.SubscriberCount(ctx, url)
	require.NoError(t, err)
	require.Equal(t, 26, n)
}
