package market

import (
	"context"
	"errors"
	"testing"
	"time"

	exchange "trigger-engine/pkg/exchanges/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockExchangeMarketFill(t *testing.T) {
	ctx := context.Background()
	m := NewMockExchange(MockConfig{InitialBalance: 1000, FeeRate: 0.001, Seed: 1})
	m.SetPrice("BTCUSDT", 100)

	res, err := m.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol: "BTCUSDT", Side: exchange.SideBuy, Type: exchange.OrderTypeMarket, Qty: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "FILLED", res.Status)
	assert.Equal(t, 2.0, res.ExecutedQty)
	assert.InDelta(t, 100, res.AvgPrice(), 1e-9)
	assert.InDelta(t, 1000-200-0.2, m.Balance(), 1e-9)

	pos := m.Positions()
	require.Len(t, pos, 1)
	assert.Equal(t, "BUY", pos[0].Side)

	m.SetPrice("BTCUSDT", 110)
	assert.InDelta(t, 20, m.UnrealizedPnL(), 1e-9)

	_, err = m.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol: "BTCUSDT", Side: exchange.SideSell, Type: exchange.OrderTypeMarket, Qty: 2,
	})
	require.NoError(t, err)
	assert.Empty(t, m.Positions())
	assert.Len(t, m.Fills(), 2)
}

func TestMockExchangeRestingLimit(t *testing.T) {
	m := NewMockExchange(MockConfig{Seed: 1})
	m.SetPrice("ETHUSDT", 100)

	res, err := m.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "ETHUSDT", Side: exchange.SideBuy, Type: exchange.OrderTypeLimit, Qty: 1, Price: 95,
	})
	require.NoError(t, err)
	assert.Equal(t, "NEW", res.Status)
	assert.Empty(t, m.Fills())
}

func TestMockExchangeRejectsInsufficientBalance(t *testing.T) {
	m := NewMockExchange(MockConfig{InitialBalance: 50, Seed: 1})
	m.SetPrice("BTCUSDT", 100)

	_, err := m.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTCUSDT", Side: exchange.SideBuy, Type: exchange.OrderTypeMarket, Qty: 1,
	})
	var apiErr *exchange.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, int64(-2010), apiErr.Code)
}

func TestMockExchangeStreamStops(t *testing.T) {
	m := NewMockExchange(MockConfig{Interval: time.Millisecond, Seed: 1})
	s, err := m.SubscribePriceStream(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	select {
	case ev := <-s.Events:
		assert.Equal(t, "BTCUSDT", ev.Symbol)
		assert.Greater(t, ev.Price, 0.0)
	case <-time.After(time.Second):
		t.Fatal("no tick")
	}

	s.Stop()
	s.Stop()
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-s.Events:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, time.Millisecond)

	m.SetDown(true)
	_, err = m.SubscribePriceStream(context.Background(), "BTCUSDT")
	assert.Error(t, err)
	assert.Error(t, m.Ping(context.Background()))
}
