package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/stockbot/internal/clock/system"
	"github.com/JakeFAU/stockbot/internal/probe"
	"github.com/JakeFAU/stockbot/internal/stock"
	"github.com/JakeFAU/stockbot/internal/store/memory"
)

const productURL = "https://shop.amul.com/en/product/amul-whey-protein"

type stubProber struct {
	mu     sync.Mutex
	result stock.ProbeResult
	calls  int
}

func (p *stubProber) Probe(context.Context, string) stock.ProbeResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.result
}

type stubTrigger struct{ started bool }

func (s *stubTrigger) ForceCheck() bool { return s.started }

func newService(res stock.ProbeResult) (*Service, *memory.Store, *stubProber) {
	st := memory.New(system.Func(func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }))
	pr := &stubProber{result: res}
	return New(st, pr, probe.NewValidator("", ""), &stubTrigger{started: true}, nil), st, pr
}

func TestTrackStoresAndSubscribes(t *testing.T) {
	t.Parallel()

	svc, st, _ := newService(stock.ProbeResult{Status: stock.StatusInStock, Name: "Whey Protein"})
	ctx := context.Background()

	p, err := svc.Track(ctx, "  HTTPS://SHOP.AMUL.COM/en/product/amul-whey-protein#reviews ", "u1")
	require.NoError(t, err)
	assert.Equal(t, productURL, p.URL)
	assert.Equal(t, stock.StatusInStock, p.Status)
	assert.Equal(t, "Whey Protein", p.Name)

	ok, err := st.IsSubscribed(ctx, "u1", productURL)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.Track(ctx, productURL, "u1")
	require.ErrorIs(t, err, stock.ErrAlreadySubscribed)
}

// racingStore deletes the product right before the first Subscribe, as a
// concurrent last-subscriber Unsubscribe would.
type racingStore struct {
	*memory.Store
	once sync.Once
}

func (r *racingStore) Subscribe(ctx context.Context, userID, url string) error {
	r.once.Do(func() { _ = r.Store.DeleteProduct(ctx, url) })
	return r.Store.Subscribe(ctx, userID, url)
}

func TestTrackRetriesWhenProductVanishes(t *testing.T) {
	t.Parallel()

	_, st, _ := newService(stock.ProbeResult{Status: stock.StatusInStock, Name: "Whey Protein"})
	racing := &racingStore{Store: st}
	svc := New(racing, &stubProber{result: stock.ProbeResult{Status: stock.StatusInStock}},
		probe.NewValidator("", ""), nil, nil)

	p, err := svc.Track(context.Background(), productURL, "u2")
	require.NoError(t, err)
	assert.Equal(t, productURL, p.URL)

	ok, err := st.IsSubscribed(context.Background(), "u2", productURL)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTrackWithoutUser(t *testing.T) {
	t.Parallel()

	svc, st, _ := newService(stock.ProbeResult{Status: stock.StatusOutOfStock})
	_, err := svc.Track(context.Background(), productURL, "")
	require.NoError(t, err)

	p, ok, err := st.GetProduct(context.Background(), productURL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stock.DefaultProductName, p.Name)
	n, err := st.SubscriberCount(context.Background(), productURL)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTrackRejectsInvalidURLBeforeProbing(t *testing.T) {
	t.Parallel()

	svc, _, pr := newService(stock.ProbeResult{Status: stock.StatusInStock})
	_, err := svc.Track(context.Background(), "https://example.com/product/x", "u1")
	require.ErrorIs(t, err, stock.ErrInvalidURL)
	assert.Zero(t, pr.calls)
}

func TestTrackProbeFailureWritesNothing(t *testing.T) {
	t.Parallel()

	svc, st, _ := newService(stock.ProbeResult{Status: stock.StatusError, Error: "navigation timeout"})
	_, err := svc.Track(context.Background(), productURL, "u1")

	var probeErr *stock.ProbeError
	require.ErrorAs(t, err, &probeErr)
	assert.Equal(t, "navigation timeout", probeErr.Msg)

	products, err := st.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, products)
	mine, err := st.ProductsOf(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestUntrackLastSubscriberDeletes(t *testing.T) {
	t.Parallel()

	svc, st, _ := newService(stock.ProbeResult{Status: stock.StatusInStock, Name: "Whey"})
	ctx := context.Background()
	_, err := svc.Track(ctx, productURL, "u1")
	require.NoError(t, err)

	_, err = svc.Untrack(ctx, productURL, "u2")
	require.ErrorIs(t, err, stock.ErrNotSubscribed)

	p, err := svc.Untrack(ctx, productURL, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Whey", p.Name)

	_, ok, err := st.GetProduct(ctx, productURL)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUntrackWithoutUserForceDeletes(t *testing.T) {
	t.Parallel()

	svc, st, _ := newService(stock.ProbeResult{Status: stock.StatusInStock})
	ctx := context.Background()
	_, err := svc.Track(ctx, productURL, "u1")
	require.NoError(t, err)
	_, err = svc.Track(ctx, productURL, "u2")
	require.NoError(t, err)

	_, err = svc.Untrack(ctx, productURL, "")
	require.NoError(t, err)

	mine, err := st.ProductsOf(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, mine)

	_, err = svc.Untrack(ctx, productURL, "")
	require.ErrorIs(t, err, stock.ErrProductNotFound)
}

func TestCheckDoesNotPersist(t *testing.T) {
	t.Parallel()

	svc, st, _ := newService(stock.ProbeResult{Status: stock.StatusOutOfStock, Name: "Lassi"})
	url, res, err := svc.Check(context.Background(), productURL)
	require.NoError(t, err)
	assert.Equal(t, productURL, url)
	assert.Equal(t, stock.StatusOutOfStock, res.Status)

	products, err := st.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestCheckSurfacesProbeError(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(stock.ProbeResult{Status: stock.StatusError, Error: "blocked"})
	_, _, err := svc.Check(context.Background(), productURL)
	var probeErr *stock.ProbeError
	require.ErrorAs(t, err, &probeErr)
}

func TestListStatsAndForce(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(stock.ProbeResult{Status: stock.StatusInStock})
	ctx := context.Background()
	_, err := svc.Track(ctx, productURL, "u1")
	require.NoError(t, err)

	mine, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	_, err = svc.List(ctx, "")
	require.Error(t, err)

	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, stock.Stats{TotalProducts: 1, TotalSubscribers: 1, InStock: 1}, stats)

	assert.True(t, svc.ForceCheck())
	assert.False(t, New(nil, nil, probe.NewValidator("", ""), nil, nil).ForceCheck())
	require.NoError(t, svc.Ping(ctx))
}
