package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"trigger-engine/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *memSink) Send(m string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return -1
}

func TestMonitorAlertsOnMaxReconnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	sink := &memSink{}
	m := &Monitor{Bus: bus, Sink: sink, Metrics: NewMetrics(prometheus.NewRegistry())}
	m.Start(ctx)

	bus.Publish(events.EventPriceUpdate, events.PriceUpdate{Symbol: "BTCUSDT", Price: 1})
	bus.Publish(events.EventMaxReconnectAttemptsReached, events.Reconnect{Attempt: 6})

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, sink.msgs[0], "gave up after 6 attempts")
}

func TestMonitorTracksFeedGauge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m := &Monitor{Bus: bus, Sink: &memSink{}, Metrics: metrics}
	m.Start(ctx)

	bus.Publish(events.EventConnected, nil)
	require.Eventually(t, func() bool { return gaugeValue(t, reg, "trigger_engine_feed_connected") == 1 }, time.Second, 5*time.Millisecond)

	bus.Publish(events.EventStreamError, events.StreamError{Symbol: "ETHUSDT", Error: "eof"})
	require.Eventually(t, func() bool { return gaugeValue(t, reg, "trigger_engine_feed_connected") == 0 }, time.Second, 5*time.Millisecond)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Tick("BTCUSDT")
	m.Execution("ok", time.Millisecond)
	m.QueueLength(3)
	m.FeedConnected(true)
}

func TestLatencyStats(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, ms := range []int{5, 1, 3, 2} {
		h.RecordDuration(time.Duration(ms) * time.Millisecond)
	}
	s := h.Stats()
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 3.0, s.Max)
	assert.InDelta(t, 2.0, s.Avg, 1e-9)
}
