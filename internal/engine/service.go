// Package engine provides a unified interface for the trigger engine core.
// The API layer talks to the registry, queue, feed and state machine only
// through this package.
package engine

import (
	"context"

	"trigger-engine/internal/market"
	"trigger-engine/internal/order"
	"trigger-engine/internal/signal"
)

// Service defines the engine operations exposed to the API layer.
type Service interface {
	// Signals
	ProcessSignal(ctx context.Context, sig signal.Signal) (SignalResult, error)

	// Monitoring
	AddOrderToMonitoring(ctx context.Context, o order.Order) (order.Order, error)
	CancelOrderMonitoring(ctx context.Context, orderID string) error
	GetMonitoringStatus() MonitoringStatus

	// Orders
	ActiveOrders() []order.Order
	Orders(ctx context.Context) ([]order.Order, error)

	// Feed
	Reconnect()
	FeedState() market.State

	// System
	GetSystemStatus(ctx context.Context) *SystemStatus
}
