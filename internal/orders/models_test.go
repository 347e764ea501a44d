package orders

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productID = "6f1c2a4e-8a43-4f7e-9d0c-0b7a1f2d3e4f"

func TestLineItemStockKey(t *testing.T) {
	k, ok := LineItem{ProductID: productID, Color: "red", Size: "M", Quantity: 2}.StockKey()
	require.True(t, ok)
	assert.Equal(t, StockKey{ProductID: productID, Color: "red", Size: "M"}, k)

	for name, it := range map[string]LineItem{
		"no color":     {ProductID: productID, Size: "M", Quantity: 1},
		"no size":      {ProductID: productID, Color: "red", Quantity: 1},
		"zero qty":     {ProductID: productID, Color: "red", Size: "M"},
		"not a uuid":   {ProductID: "sku-42", Color: "red", Size: "M", Quantity: 1},
		"empty record": {},
	} {
		_, ok := it.StockKey()
		assert.False(t, ok, name)
	}
}

func TestItemsTotal(t *testing.T) {
	o := Order{Items: []LineItem{
		{Price: decimal.RequireFromString("199.50"), Quantity: 2},
		{Price: decimal.RequireFromString("10"), Quantity: 3},
	}}
	assert.True(t, decimal.RequireFromString("429").Equal(o.ItemsTotal()))
}

func TestArmAndClearTimeout(t *testing.T) {
	var o Order
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("IST", 19800))
	o.ArmTimeout("order-timeout-1", at)
	require.NotNil(t, o.ExpiresAt)
	assert.Equal(t, "order-timeout-1", o.SchedulerName)
	assert.Equal(t, time.UTC, o.ExpiresAt.Location())
	assert.True(t, at.Equal(*o.ExpiresAt))

	o.ClearTimeout()
	assert.Empty(t, o.SchedulerName)
	assert.Nil(t, o.ExpiresAt)
}

func TestInsufficientStockErrorMatchesSentinel(t *testing.T) {
	var err error = &InsufficientStockError{Key: StockKey{ProductID: productID, Color: "red", Size: "M"}, Requested: 2, Available: 1}
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "requested 2, available 1")
}
