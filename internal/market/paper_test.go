package market

import (
	"context"
	"errors"
	"testing"

	exchange "trigger-engine/pkg/exchanges/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quoteOnly struct {
	exchange.Exchange
	price  float64
	err    error
	placed int
}

func (q *quoteOnly) GetPrice(context.Context, string) (float64, error) { return q.price, q.err }

func (q *quoteOnly) PlaceOrder(context.Context, exchange.OrderRequest) (exchange.OrderResult, error) {
	q.placed++
	return exchange.OrderResult{}, errors.New("live order")
}

func TestPaperExchangeFillsAtLivePrice(t *testing.T) {
	live := &quoteOnly{price: 250}
	sim := NewMockExchange(MockConfig{InitialBalance: 10000, Seed: 1})
	p := NewPaperExchange(live, sim)

	res, err := p.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "ETHUSDT", Side: exchange.SideBuy, Type: exchange.OrderTypeMarket, Qty: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "FILLED", res.Status)
	assert.InDelta(t, 250, res.AvgPrice(), 1e-9)
	assert.Zero(t, live.placed)
	assert.Len(t, sim.Fills(), 1)

	info, err := p.GetAccountInfo(context.Background())
	require.NoError(t, err)
	assert.True(t, info.CanTrade)
}

func TestPaperExchangeKeepsLastPriceWhenQuoteFails(t *testing.T) {
	live := &quoteOnly{err: errors.New("timeout")}
	sim := NewMockExchange(MockConfig{Seed: 1})
	sim.SetPrice("BTCUSDT", 100)
	p := NewPaperExchange(live, sim)

	res, err := p.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTCUSDT", Side: exchange.SideSell, Type: exchange.OrderTypeMarket, Qty: 1,
	})
	require.NoError(t, err)
	assert.InDelta(t, 100, res.AvgPrice(), 1e-9)
}
