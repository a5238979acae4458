package pacing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitSpacesSameHost(t *testing.T) {
	t.Parallel()

	l := New(100 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://shop.amul.com/en/product/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://shop.amul.com/en/product/b"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestDoneRestartsIntervalAfterSlowRequest(t *testing.T) {
	t.Parallel()

	l := New(100 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://shop.amul.com/en/product/a"))
	time.Sleep(150 * time.Millisecond)
	l.Done("https://shop.amul.com/en/product/a")

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://shop.amul.com/en/product/b"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestDoneWithPacingDisabled(t *testing.T) {
	t.Parallel()

	l := New(0)
	l.Done("https://shop.amul.com/x")
	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), "https://shop.amul.com/x"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitIndependentHosts(t *testing.T) {
	t.Parallel()

	l := New(time.Hour)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://shop.amul.com/en/product/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://other.example.com/product/a"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(time.Hour)
	require.NoError(t, l.Wait(context.Background(), "https://shop.amul.com/x"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://shop.amul.com/y"))
}

func TestZeroIntervalDisablesPacing(t *testing.T) {
	t.Parallel()

	l := New(0)
	start := time.Now()
	for range 5 {
		require.NoError(t, l.Wait(context.Background(), "https://shop.amul.com/x"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "shop.amul.com", hostOf("https://shop.amul.com/en/product/x"))
	assert.Equal(t, "unknown", hostOf("::not a url"))
}
