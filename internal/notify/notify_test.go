package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/stockbot/internal/notify/memory"
	"github.com/JakeFAU/stockbot/internal/stock"
)

const productURL = "https://shop.amul.com/en/product/amul-kool-protein-milkshake"

func change(oldStatus, newStatus stock.Status) stock.Change {
	return stock.Change{
		Product: stock.Product{
			URL:      productURL,
			Name:     "Kool Protein <Milkshake>",
			ImageURL: "https://shop.amul.com/img/kool.png",
			Status:   newStatus,
		},
		OldStatus:   oldStatus,
		NewStatus:   newStatus,
		Subscribers: []string{"1001"},
		DetectedAt:  time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestRenderRestock(t *testing.T) {
	t.Parallel()

	m := Render(change(stock.StatusOutOfStock, stock.StatusInStock))
	assert.Equal(t, "🟢 Back in Stock!", m.Title)
	assert.Equal(t, "✅ Available", m.Status)
	assert.Equal(t, "❌ Out of Stock", m.Previous)
	assert.True(t, m.Restocked)

	out := m.HTML()
	assert.Contains(t, out, "Buy Now")
	assert.Contains(t, out, "Kool Protein &lt;Milkshake&gt;")
	assert.Contains(t, out, Footer)
}

func TestRenderSoldOut(t *testing.T) {
	t.Parallel()

	m := Render(change(stock.StatusInStock, stock.StatusOutOfStock))
	assert.Equal(t, "🔴 Out of Stock!", m.Title)
	assert.Equal(t, "❌ Sold Out", m.Status)
	assert.False(t, m.Restocked)
	assert.NotContains(t, m.HTML(), "Buy Now")
	assert.Contains(t, m.Plain(), productURL)
}

func TestRenderDefaultsName(t *testing.T) {
	t.Parallel()

	c := change(stock.StatusOutOfStock, stock.StatusInStock)
	c.Product.Name = ""
	assert.Equal(t, stock.DefaultProductName, Render(c).ProductName)
}

func TestFanoutJoinsErrors(t *testing.T) {
	t.Parallel()

	ok := memory.New()
	failing := memory.New()
	boom := errors.New("boom")
	failing.FailWith(boom)

	err := Fanout{failing, nil, ok}.Notify(context.Background(), change(stock.StatusOutOfStock, stock.StatusInStock))
	require.ErrorIs(t, err, boom)
	assert.Len(t, ok.Changes(), 1)
	assert.Len(t, failing.Changes(), 1)
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	require.NoError(t, NewLogSink(nil).Notify(context.Background(), change(stock.StatusInStock, stock.StatusOutOfStock)))
}
