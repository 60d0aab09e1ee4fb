package common

import (
	"fmt"
	"time"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
)

// OrderRequest captures an order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64
	Price       float64 // required for LIMIT
	TimeInForce TimeInForce
	StopPrice   float64
	IcebergQty  float64
	ClientID    string
}

// OrderResult is the exchange acknowledgement. Status is the raw exchange
// code (NEW, FILLED, ...).
type OrderResult struct {
	ExchangeOrderID string
	ClientID        string
	Status          string
	Price           float64
	ExecutedQty     float64
	QuoteQty        float64
}

// AvgPrice is the fill price implied by quote and base quantities, falling
// back to the order price.
func (r OrderResult) AvgPrice() float64 {
	if r.ExecutedQty > 0 && r.QuoteQty > 0 {
		return r.QuoteQty / r.ExecutedQty
	}
	return r.Price
}

// Balance is one asset line of an account.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// AccountInfo is the subset of account state the engine checks at startup.
type AccountInfo struct {
	CanTrade bool      `json:"canTrade"`
	Balances []Balance `json:"balances"`
}

// PriceEvent is one tick from a price stream.
type PriceEvent struct {
	Symbol string
	Price  float64
	Time   time.Time
}

// PriceStream is an open subscription. Events closes when the stream ends;
// if it ended on a failure the error is readable from Errors afterwards.
// Stop is idempotent.
type PriceStream struct {
	Events <-chan PriceEvent
	Errors <-chan error
	Stop   func()
}

// APIError is a rejection reported by the venue.
type APIError struct {
	Code    int64
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("<APIError> code=%d, msg=%s", e.Code, e.Message)
}
