package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/stockbot/internal/clock/system"
	"github.com/JakeFAU/stockbot/internal/pacing"
	notifymem "github.com/JakeFAU/stockbot/internal/notify/memory"
	"github.com/JakeFAU/stockbot/internal/stock"
	"github.com/JakeFAU/stockbot/internal/store/memory"
)

const (
	urlA = "https://shop.amul.com/en/product/a"
	urlB = "https://shop.amul.com/en/product/b"
)

type fakeProber struct {
	mu      sync.Mutex
	results map[string]stock.ProbeResult
	calls   []string
	onProbe func(url string)
}

func (f *fakeProber) Probe(_ context.Context, url string) stock.ProbeResult {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	res, ok := f.results[url]
	hook := f.onProbe
	f.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	if !ok {
		return stock.ProbeResult{Status: stock.StatusError, Error: "no fixture"}
	}
	return res
}

func (f *fakeProber) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type countingPacer struct {
	mu    sync.Mutex
	waits int
	dones int
	err   error
}

func (p *countingPacer) Wait(context.Context, string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits++
	return p.err
}

func (p *countingPacer) Done(string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dones++
}

type staticIDs string

func (s staticIDs) NewID() string { return string(s) }

type brokenStore struct {
	stock.Store
}

func (brokenStore) ListProducts(context.Context) ([]stock.Product, error) {
	return nil, errors.New("connection refused")
}

func fixedClock() stock.Clock {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return system.Func(func() time.Time { return now })
}

func seed(t *testing.T, st stock.Store, url string, status stock.Status, subs ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := st.UpsertProduct(ctx, url, stock.ProductFields{Name: "Product " + url[len(url)-1:], Status: status})
	require.NoError(t, err)
	for _, s := range subs {
		require.NoError(t, st.Subscribe(ctx, s, url))
	}
}

func TestRunNotifiesOnTransition(t *testing.T) {
	t.Parallel()

	st := memory.New(fixedClock())
	seed(t, st, urlA, stock.StatusInStock, "u1", "u2")
	prober := &fakeProber{results: map[string]stock.ProbeResult{
		urlA: {Status: stock.StatusOutOfStock, Name: "Fresh Name"},
	}}
	rec := notifymem.New()

	sum := New(st, prober, rec, nil, fixedClock(), staticIDs("run-1"), nil).Run(context.Background())
	require.NoError(t, sum.Err)
	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, 1, sum.Checked)
	assert.Equal(t, 1, sum.Changed)
	assert.Equal(t, 1, sum.Notified)

	p, ok, err := st.GetProduct(context.Background(), urlA)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stock.StatusOutOfStock, p.Status)
	assert.Equal(t, "Fresh Name", p.Name)

	changes := rec.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, stock.StatusInStock, changes[0].OldStatus)
	assert.Equal(t, stock.StatusOutOfStock, changes[0].NewStatus)
	assert.ElementsMatch(t, []string{"u1", "u2"}, changes[0].Subscribers)
	assert.Equal(t, "Fresh Name", changes[0].Product.Name)
}

func TestRunSkipsNotificationFromUnknown(t *testing.T) {
	t.Parallel()

	st := memory.New(fixedClock())
	seed(t, st, urlA, stock.StatusUnknown, "u1")
	prober := &fakeProber{results: map[string]stock.ProbeResult{urlA: {Status: stock.StatusInStock}}}
	rec := notifymem.New()

	sum := New(st, prober, rec, nil, fixedClock(), nil, nil).Run(context.Background())
	assert.Equal(t, 1, sum.Checked)
	assert.Zero(t, sum.Changed)
	assert.Empty(t, rec.Changes())

	p, _, err := st.GetProduct(context.Background(), urlA)
	require.NoError(t, err)
	assert.Equal(t, stock.StatusInStock, p.Status)
}

func TestRunNoChangeNoNotification(t *testing.T) {
	t.Parallel()

	st := memory.New(fixedClock())
	seed(t, st, urlA, stock.StatusOutOfStock, "u1")
	prober := &fakeProber{results: map[string]stock.ProbeResult{urlA: {Status: stock.StatusOutOfStock}}}
	rec := notifymem.New()

	sum := New(st, prober, rec, nil, fixedClock(), nil, nil).Run(context.Background())
	assert.Equal(t, 1, sum.Checked)
	assert.Empty(t, rec.Changes())
}

func TestRunProbeFailureLeavesStateAndContinues(t *testing.T) {
	t.Parallel()

	st := memory.New(fixedClock())
	seed(t, st, urlA, stock.StatusInStock, "u1")
	seed(t, st, urlB, stock.StatusInStock, "u1")
	prober := &fakeProber{results: map[string]stock.ProbeResult{
		urlA: {Status: stock.StatusError, Error: "navigation timeout"},
		urlB: {Status: stock.StatusOutOfStock},
	}}
	rec := notifymem.New()
	core, logs := observer.New(zap.WarnLevel)

	sum := New(st, prober, rec, nil, fixedClock(), nil, zap.New(core)).Run(context.Background())
	require.NoError(t, sum.Err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Checked)
	assert.Equal(t, 1, logs.FilterMessage("probe failed, keeping stored state").Len())

	a, _, err := st.GetProduct(context.Background(), urlA)
	require.NoError(t, err)
	assert.Equal(t, stock.StatusInStock, a.Status)
	require.Len(t, rec.Changes(), 1)
	assert.Equal(t, urlB, rec.Changes()[0].Product.URL)
}

func TestRunWithoutSubscribersDoesNotNotify(t *testing.T) {
	t.Parallel()

	st := memory.New(fixedClock())
	seed(t, st, urlA, stock.StatusOutOfStock)
	prober := &fakeProber{results: map[string]stock.ProbeResult{urlA: {Status: stock.StatusInStock}}}
	rec := notifymem.New()

	sum := New(st, prober, rec, nil, fixedClock(), nil, nil).Run(context.Background())
	assert.Equal(t, 1, sum.Changed)
	assert.Zero(t, sum.Notified)
	assert.Empty(t, rec.Changes())
}

func TestRunEmptyStoreIsNoop(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{}
	pacer := &countingPacer{}
	sum := New(memory.New(fixedClock()), prober, notifymem.New(), pacer, fixedClock(), nil, nil).Run(context.Background())
	require.NoError(t, sum.Err)
	assert.Zero(t, sum.Products)
	assert.Empty(t, prober.Calls())
	assert.Zero(t, pacer.waits)
}

func TestRunStoreFailureIsContained(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	sum := New(brokenStore{}, &fakeProber{}, notifymem.New(), nil, fixedClock(), nil, zap.New(core)).Run(context.Background())
	require.Error(t, sum.Err)
	assert.Contains(t, sum.Err.Error(), "load products")
	assert.Equal(t, 1, logs.FilterMessage("check cycle failed").Len())
}

func TestRunRecoversPanics(t *testing.T) {
	t.Parallel()

	st := memory.New(fixedClock())
	seed(t, st, urlA, stock.StatusInStock)
	prober := &fakeProber{
		results: map[string]stock.ProbeResult{urlA: {Status: stock.StatusInStock}},
		onProbe: func(string) { panic("renderer exploded") },
	}

	var sum Summary
	require.NotPanics(t, func() {
		sum = New(st, prober, notifymem.New(), nil, fixedClock(), nil, nil).Run(context.Background())
	})
	require.Error(t, sum.Err)
}

func TestRunPacesEveryProbe(t *testing.T) {
	t.Parallel()

	st := memory.New(fixedClock())
	seed(t, st, urlA, stock.StatusInStock)
	seed(t, st, urlB, stock.StatusInStock)
	prober := &fakeProber{results: map[string]stock.ProbeResult{
		urlA: {Status: stock.StatusInStock},
		urlB: {Status: stock.StatusInStock},
	}}
	pacer := &countingPacer{}

	New(st, prober, notifymem.New(), pacer, fixedClock(), nil, nil).Run(context.Background())
	assert.Equal(t, 2, pacer.waits)
	assert.Equal(t, 2, pacer.dones)
	assert.Equal(t, []string{urlA, urlB}, prober.Calls())
}

type timedProber struct {
	mu     sync.Mutex
	delay  time.Duration
	starts []time.Time
	ends   []time.Time
}

func (p *timedProber) Probe(_ context.Context, _ string) stock.ProbeResult {
	start := time.Now()
	time.Sleep(p.delay)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts = append(p.starts, start)
	p.ends = append(p.ends, time.Now())
	return stock.ProbeResult{Status: stock.StatusInStock}
}

func TestRunPausesAfterSlowCheck(t *testing.T) {
	t.Parallel()

	st := memory.New(fixedClock())
	seed(t, st, urlA, stock.StatusInStock)
	seed(t, st, urlB, stock.StatusInStock)
	prober := &timedProber{delay: 150 * time.Millisecond}

	sum := New(st, prober, notifymem.New(), pacing.New(100*time.Millisecond), fixedClock(), nil, nil).
		Run(context.Background())
	require.NoError(t, sum.Err)

	prober.mu.Lock()
	defer prober.mu.Unlock()
	require.Len(t, prober.starts, 2)
	gap := prober.starts[1].Sub(prober.ends[0])
	assert.GreaterOrEqual(t, gap, 80*time.Millisecond)
}

func TestRunStopsWhenPacerFails(t *testing.T) {
	t.Parallel()

	st := memory.New(fixedClock())
	seed(t, st, urlA, stock.StatusInStock)
	prober := &fakeProber{}
	pacer := &countingPacer{err: context.Canceled}

	sum := New(st, prober, notifymem.New(), pacer, fixedClock(), nil, nil).Run(context.Background())
	require.ErrorIs(t, sum.Err, context.Canceled)
	assert.Empty(t, prober.Calls())
}

func TestRunProductRemovedMidCycle(t *testing.T) {
	t.Parallel()

	st := memory.New(fixedClock())
	seed(t, st, urlA, stock.StatusInStock, "u1")
	prober := &fakeProber{
		results: map[string]stock.ProbeResult{urlA: {Status: stock.StatusOutOfStock}},
	}
	prober.onProbe = func(url string) {
		require.NoError(t, st.Unsubscribe(context.Background(), "u1", url))
	}
	rec := notifymem.New()

	New(st, prober, rec, nil, fixedClock(), nil, nil).Run(context.Background())
	_, ok, err := st.GetProduct(context.Background(), urlA)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, rec.Changes())
}

func TestRunNotifierErrorIsLogged(t *testing.T) {
	t.Parallel()

	st := memory.New(fixedClock())
	seed(t, st, urlA, stock.StatusInStock, "u1")
	prober := &fakeProber{results: map[string]stock.ProbeResult{urlA: {Status: stock.StatusOutOfStock}}}
	rec := notifymem.New()
	rec.FailWith(errors.New("telegram down"))

	sum := New(st, prober, rec, nil, fixedClock(), nil, nil).Run(context.Background())
	require.NoError(t, sum.Err)
	assert.Equal(t, 1, sum.Changed)
	assert.Zero(t, sum.Notified)
}
