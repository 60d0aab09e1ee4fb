package events

import "time"

// Event enumerates the topics the engine publishes.
type Event string

const (
	EventConnected                   Event = "connected"
	EventReconnected                 Event = "reconnected"
	EventPriceUpdate                 Event = "priceUpdate"
	EventOrderExecuted               Event = "orderExecuted"
	EventOrderExecutionError         Event = "orderExecutionError"
	EventStreamError                 Event = "streamError"
	EventMaxReconnectAttemptsReached Event = "maxReconnectAttemptsReached"
	EventSignalReceived              Event = "signalReceived"
	EventOrderCancelled              Event = "orderCancelled"
)

// All lists every topic, used by listeners that forward everything.
var All = []Event{
	EventConnected,
	EventReconnected,
	EventPriceUpdate,
	EventOrderExecuted,
	EventOrderExecutionError,
	EventStreamError,
	EventMaxReconnectAttemptsReached,
	EventSignalReceived,
	EventOrderCancelled,
}

// PriceUpdate is published for every routed tick.
type PriceUpdate struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	At     time.Time `json:"timestamp"`
}

// OrderExecuted is published after the exchange accepted an order.
type OrderExecuted struct {
	OrderID         string  `json:"orderId"`
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"`
	Target          string  `json:"target"`
	Status          string  `json:"status"`
	ExchangeOrderID string  `json:"exchangeOrderId"`
	ExecutedPrice   float64 `json:"executedPrice"`
	ExecutedQty     float64 `json:"executedQty"`
}

// OrderExecutionError is published when placement failed.
type OrderExecutionError struct {
	OrderID string `json:"orderId"`
	Symbol  string `json:"symbol"`
	Error   string `json:"error"`
}

// StreamError is published when a symbol's feed dropped.
type StreamError struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

// Reconnect carries supervisor progress.
type Reconnect struct {
	Attempt int    `json:"attempt"`
	Symbols int    `json:"symbols"`
	Error   string `json:"error,omitempty"`
}

// SignalReceived is published once per processed webhook signal.
type SignalReceived struct {
	Symbol  string `json:"symbol"`
	Valid   bool   `json:"valid"`
	Action  string `json:"action,omitempty"`
	Reason  string `json:"reason,omitempty"`
	OrderID string `json:"orderId,omitempty"`
}

// OrderCancelled is published when monitoring of an order is cancelled.
type OrderCancelled struct {
	OrderID string `json:"orderId"`
	Symbol  string `json:"symbol"`
}
