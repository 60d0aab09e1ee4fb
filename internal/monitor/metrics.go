package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's prometheus collectors. A nil *Metrics is valid
// and records nothing, so components can be built without a registry.
type Metrics struct {
	ticks         *prometheus.CounterVec
	fires         *prometheus.CounterVec
	executions    *prometheus.CounterVec
	queueLength   prometheus.Gauge
	subscriptions prometheus.Gauge
	reconnects    prometheus.Counter
	feedUp        prometheus.Gauge
	execDuration  prometheus.Histogram

	// ExecLatency keeps a sliding window of placement latencies for the status API.
	ExecLatency *LatencyHistogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trigger_engine_price_ticks_total",
				Help: "Price ticks routed to the trigger registry",
			},
			[]string{"symbol"},
		),
		fires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trigger_engine_target_fires_total",
				Help: "Price targets that matched and were queued",
			},
			[]string{"kind"},
		),
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trigger_engine_executions_total",
				Help: "Execution attempts by result",
			},
			[]string{"result"},
		),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trigger_engine_queue_length",
			Help: "Tasks waiting in the execution queue",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trigger_engine_subscribed_symbols",
			Help: "Symbols with an open price stream",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trigger_engine_reconnect_attempts_total",
			Help: "Price feed reconnection attempts",
		}),
		feedUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trigger_engine_feed_connected",
			Help: "1 while the price feed is connected",
		}),
		execDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trigger_engine_execution_duration_seconds",
			Help:    "Order placement latency",
			Buckets: prometheus.DefBuckets,
		}),
		ExecLatency: NewLatencyHistogram(1000),
	}
	if reg != nil {
		reg.MustRegister(m.ticks, m.fires, m.executions, m.queueLength,
			m.subscriptions, m.reconnects, m.feedUp, m.execDuration)
	}
	return m
}

func (m *Metrics) Tick(symbol string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(symbol).Inc()
}

func (m *Metrics) Fire(kind string) {
	if m == nil {
		return
	}
	m.fires.WithLabelValues(kind).Inc()
}

// Execution records one placement attempt; result is "ok", "error" or "rejected".
func (m *Metrics) Execution(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(result).Inc()
	m.execDuration.Observe(d.Seconds())
	m.ExecLatency.RecordDuration(d)
}

func (m *Metrics) QueueLength(n int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(n))
}

func (m *Metrics) Subscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) FeedConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.feedUp.Set(1)
		return
	}
	m.feedUp.Set(0)
}

// LatencyHistogram tracks latency samples in a sliding window.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// RecordDuration adds a sample in milliseconds.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, float64(d.Nanoseconds())/1e6)
	h.dirty = true
}

// Stats returns min, max, avg and percentiles, recomputed only after new samples.
func (h *LatencyHistogram) Stats() LatencyStats {
	if h == nil {
		return LatencyStats{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty {
		return h.cachedStats
	}
	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}
