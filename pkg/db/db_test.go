package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, ApplyMigrations(database))
	return database
}

func sampleOrder(id string, created time.Time) Order {
	tp, sl := 102.0, 99.0
	return Order{
		ID:            id,
		Symbol:        "BTCUSDT",
		Side:          "BUY",
		Type:          "MARKET",
		Quantity:      0.01,
		Price:         100,
		Status:        "waiting_trigger",
		Purpose:       "entry",
		ExecutionMode: "trigger",
		StopLoss:      &sl,
		TakeProfit:    &tp,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, ApplyMigrations(database))

	ok, err := columnExists(database.DB, "orders", "parent_id")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOrdersNewestFirst(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, database.AddOrder(ctx, sampleOrder(id, base.Add(time.Duration(i)*time.Minute))))
	}
	orders, err := database.GetAllOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, "c", orders[0].ID)
	assert.Equal(t, "a", orders[2].ID)

	got := orders[2]
	assert.Equal(t, base, got.CreatedAt)
	require.NotNil(t, got.StopLoss)
	assert.Equal(t, 99.0, *got.StopLoss)
	assert.Nil(t, got.TriggerPrice)
	assert.Nil(t, got.ExecutedAt)
	assert.Equal(t, "entry", got.Purpose)
}

func TestAddOrderRetention(t *testing.T) {
	database := newTestDB(t)
	database.OrderRetention = 2
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, database.AddOrder(ctx, sampleOrder(id, now)))
	}
	orders, err := database.GetAllOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "d", orders[0].ID)
	assert.Equal(t, "c", orders[1].ID)
}

func TestUpdateOrder(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, database.AddOrder(ctx, sampleOrder("a", now)))

	status, exch := "filled", "12345"
	qty := 0.01
	executed := now.Add(time.Second)
	require.NoError(t, database.UpdateOrder(ctx, "a", OrderPatch{
		Status:          &status,
		ExchangeOrderID: &exch,
		ExecutedQty:     &qty,
		ExecutedAt:      &executed,
		UpdatedAt:       executed,
	}))

	got, err := database.GetOrder(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "filled", got.Status)
	assert.Equal(t, "12345", got.ExchangeOrderID)
	require.NotNil(t, got.ExecutedAt)
	assert.Equal(t, executed, *got.ExecutedAt)
	assert.Equal(t, executed, got.UpdatedAt)

	err = database.UpdateOrder(ctx, "missing", OrderPatch{Status: &status})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = database.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPriceHistory(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	var points []PricePoint
	for i := 0; i < 5; i++ {
		points = append(points,
			PricePoint{Symbol: "BTCUSDT", Price: 100 + float64(i), ObservedAt: now},
			PricePoint{Symbol: "ETHUSDT", Price: 10 + float64(i), ObservedAt: now},
		)
	}
	require.NoError(t, database.AddPrices(ctx, points))

	deleted, err := database.PrunePrices(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(6), deleted)

	btc, err := database.RecentPrices(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.Equal(t, 104.0, btc[0].Price)
	assert.Equal(t, 103.0, btc[1].Price)
}
