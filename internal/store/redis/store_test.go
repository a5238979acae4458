package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/stockbot/internal/stock"
	"github.com/JakeFAU/stockbot/internal/store/storetest"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, nil), mr
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) stock.Store {
		s, _ := newTestStore(t)
		return s
	})
}

func TestKeyLayout(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t)
	ctx := context.Background()
	url := "https://shop.amul.com/en/product/amul-kool"

	_, err := s.UpsertProduct(ctx, url, stock.ProductFields{Name: "Amul Kool", Status: stock.StatusInStock})
	require.NoError(t, err)
	require.NoError(t, s.Subscribe(ctx, "42", url))

	key := encode(url)
	require.Equal(t, "Amul Kool", mr.HGet("product:"+key, "name"))
	require.Equal(t, "in_stock", mr.HGet("product:"+key, "status"))

	members, err := mr.SMembers("products:all")
	require.NoError(t, err)
	require.Equal(t, []string{url}, members)

	subs, err := mr.SMembers("product:" + key + ":subscribers")
	require.NoError(t, err)
	require.Equal(t, []string{"42"}, subs)

	mine, err := mr.SMembers("user:42:products")
	require.NoError(t, err)
	require.Equal(t, []string{url}, mine)
}

func TestUnsubscribeLastRemovesAllKeys(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t)
	ctx := context.Background()
	url := "https://shop.amul.com/en/product/amul-kool"
	_, err := s.UpsertProduct(ctx, url, stock.ProductFields{})
	require.NoError(t, err)
	require.NoError(t, s.Subscribe(ctx, "42", url))
	require.NoError(t, s.Unsubscribe(ctx, "42", url))

	require.False(t, mr.Exists("product:"+encode(url)))
	require.False(t, mr.Exists("product:"+encode(url)+":subscribers"))
	require.False(t, mr.Exists("user:42:products"))
	require.False(t, mr.Exists("products:all"))
}

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{}, nil)
	require.ErrorContains(t, err, "redis_url")

	mr := miniredis.RunT(t)
	s, err := New(context.Background(), Config{URL: "redis://" + mr.Addr()}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
}

func TestStoreErrorsWhenServerDown(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.ListProducts(context.Background())
	require.Error(t, err)
}
