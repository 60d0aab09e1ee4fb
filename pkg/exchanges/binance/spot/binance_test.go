package spot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"trigger-engine/pkg/exchanges/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVenue struct {
	mu     sync.Mutex
	orders []url.Values
	reject bool
}

func (f *fakeVenue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/v3/ping":
		_, _ = w.Write([]byte(`{}`))
	case "/api/v3/ticker/price":
		_, _ = w.Write([]byte(`{"symbol":"` + r.URL.Query().Get("symbol") + `","price":"100.50000000"}`))
	case "/api/v3/account":
		_, _ = w.Write([]byte(`{"canTrade":true,"balances":[` +
			`{"asset":"USDT","free":"1000.5","locked":"0"},` +
			`{"asset":"BNB","free":"0.00000000","locked":"0.00000000"}]}`))
	case "/api/v3/order":
		if f.reject {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance for requested action."}`))
			return
		}
		_ = r.ParseForm()
		f.mu.Lock()
		f.orders = append(f.orders, r.Form)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"clientOrderId":"abc","price":"0.00000000",` +
			`"origQty":"0.01000000","executedQty":"0.01000000","cummulativeQuoteQty":"1.00500000","status":"FILLED",` +
			`"type":"MARKET","side":"BUY"}`))
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, venue *fakeVenue) *Client {
	t.Helper()
	srv := httptest.NewServer(venue)
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "key", APISecret: "secret", BaseURL: srv.URL})
}

func TestClientPingAndPrice(t *testing.T) {
	c := newTestClient(t, &fakeVenue{})
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	price, err := c.GetPrice(ctx, "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, 100.5, price)
}

func TestClientAccountSkipsEmptyBalances(t *testing.T) {
	c := newTestClient(t, &fakeVenue{})

	info, err := c.GetAccountInfo(context.Background())
	require.NoError(t, err)
	assert.True(t, info.CanTrade)
	require.Len(t, info.Balances, 1)
	assert.Equal(t, common.Balance{Asset: "USDT", Free: 1000.5}, info.Balances[0])
}

func TestClientPlaceMarketOrder(t *testing.T) {
	venue := &fakeVenue{}
	c := newTestClient(t, venue)

	res, err := c.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol:   "btcusdt",
		Side:     common.SideBuy,
		Type:     common.OrderTypeMarket,
		Qty:      0.01,
		ClientID: "abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", res.ExchangeOrderID)
	assert.Equal(t, "FILLED", res.Status)
	assert.InDelta(t, 100.5, res.AvgPrice(), 1e-9)

	require.Len(t, venue.orders, 1)
	form := venue.orders[0]
	assert.Equal(t, "BTCUSDT", form.Get("symbol"))
	assert.Equal(t, "BUY", form.Get("side"))
	assert.Equal(t, "MARKET", form.Get("type"))
	assert.Equal(t, "0.01", form.Get("quantity"))
	assert.Empty(t, form.Get("price"))
	assert.Equal(t, "abc", form.Get("newClientOrderId"))
}

func TestClientPlaceLimitOrderSetsPriceAndTIF(t *testing.T) {
	venue := &fakeVenue{}
	c := newTestClient(t, venue)

	_, err := c.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "ETHUSDT",
		Side:   common.SideSell,
		Type:   common.OrderTypeLimit,
		Qty:    1.5,
		Price:  2500.25,
	})
	require.NoError(t, err)

	require.Len(t, venue.orders, 1)
	form := venue.orders[0]
	assert.Equal(t, "2500.25", form.Get("price"))
	assert.Equal(t, "GTC", form.Get("timeInForce"))
}

func TestClientMapsAPIError(t *testing.T) {
	c := newTestClient(t, &fakeVenue{reject: true})

	_, err := c.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1,
	})
	var apiErr *common.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, int64(-2010), apiErr.Code)
	assert.Contains(t, apiErr.Message, "insufficient balance")
}

func TestClientRequiresCredentialsForTrading(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"})

	_, err := c.PlaceOrder(context.Background(), common.OrderRequest{Symbol: "BTCUSDT", Qty: 1})
	assert.Error(t, err)

	_, err = c.GetAccountInfo(context.Background())
	assert.Error(t, err)
}
