package engine

import (
	"time"

	"trigger-engine/internal/market"
	"trigger-engine/internal/order"
	"trigger-engine/internal/signal"
	"trigger-engine/pkg/cache"
)

// SignalResult is the outcome of ProcessSignal.
type SignalResult struct {
	Accepted bool          `json:"accepted"`
	Action   signal.Action `json:"action,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Order    *order.Order  `json:"order,omitempty"`
	Display  *order.View   `json:"display,omitempty"`
}

// MonitoringStatus is the snapshot returned by GetMonitoringStatus.
type MonitoringStatus struct {
	IsActive             bool         `json:"isActive"`
	PendingOrdersCount   int          `json:"pendingOrdersCount"`
	MonitoredSymbols     []string     `json:"monitoredSymbols"`
	PriceTargetsCount    int          `json:"priceTargetsCount"`
	StopLossTargetsCount int          `json:"stopLossTargetsCount"`
	QueueLength          int          `json:"queueLength"`
	ProcessingQueue      bool         `json:"processingQueue"`
	ActiveOrdersCount    int          `json:"activeOrdersCount"`
	ScheduledCount       int          `json:"scheduledCount"`
	FeedState            market.State `json:"feedState"`
	ReconnectAttempt     int          `json:"reconnectAttempt"`
	// LastPrices holds the latest tick of each monitored symbol.
	LastPrices map[string]cache.Quote `json:"lastPrices"`
}

// SystemStatus represents the system runtime status.
type SystemStatus struct {
	Mode       string    `json:"mode"`
	DryRun     bool      `json:"dry_run"`
	Venue      string    `json:"venue"`
	InstanceID string    `json:"instance_id"`
	Version    string    `json:"version"`
	StartedAt  time.Time `json:"started_at"`
	ServerTime time.Time `json:"server_time"`
}
