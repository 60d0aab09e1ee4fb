package persistence

import (
	"context"
	"testing"
	"time"

	"trigger-engine/pkg/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return database
}

func TestPriceWriterFlushOnClose(t *testing.T) {
	database := newDB(t)
	w := NewPriceWriter(database, 100, time.Hour, 0)

	now := time.Now()
	w.Record("BTCUSDT", 100, now)
	w.Record("BTCUSDT", 101, now)
	assert.Equal(t, 2, w.Pending())

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	points, err := database.RecentPrices(context.Background(), "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 101.0, points[0].Price)

	m := w.Metrics()
	assert.Equal(t, uint64(2), m.TotalWrites)
	assert.Equal(t, uint64(1), m.TotalBatches)
}

func TestPriceWriterBackgroundFlushPrunes(t *testing.T) {
	database := newDB(t)
	w := NewPriceWriter(database, 1000, 10*time.Millisecond, 3)
	defer w.Close()

	now := time.Now()
	for i := 0; i < 10; i++ {
		w.Record("ETHUSDT", float64(i), now)
	}

	require.Eventually(t, func() bool {
		return w.Metrics().TotalPruned == 7
	}, time.Second, 5*time.Millisecond)

	points, err := database.RecentPrices(context.Background(), "ETHUSDT", 10)
	require.NoError(t, err)
	assert.Len(t, points, 3)
	assert.Equal(t, 9.0, points[0].Price)
}
