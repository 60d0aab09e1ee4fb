package monitor

import (
	"context"
	"fmt"
	"time"

	"trigger-engine/internal/events"

	"github.com/rs/zerolog/log"
)

// Monitor watches engine events and turns the ones that need an operator into alerts.
type Monitor struct {
	Bus     *events.Bus
	Sink    AlertSink
	Metrics *Metrics
}

// Start subscribes and returns immediately; the listener stops with ctx.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		log.Printf("monitor: not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.SubscribeMany(50,
		events.EventConnected,
		events.EventReconnected,
		events.EventStreamError,
		events.EventOrderExecutionError,
		events.EventMaxReconnectAttemptsReached,
	)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				m.handle(msg)
			}
		}
	}()
}

func (m *Monitor) handle(msg events.Message) {
	switch msg.Topic {
	case events.EventConnected, events.EventReconnected:
		m.Metrics.FeedConnected(true)
		return
	case events.EventStreamError:
		m.Metrics.FeedConnected(false)
	}
	text := formatAlert(msg)
	if text == "" {
		return
	}
	if err := m.Sink.Send(text); err != nil {
		log.Printf("monitor: alert delivery failed: %v", err)
	}
}

func formatAlert(msg events.Message) string {
	prefix := "[" + msg.At.Format(time.RFC3339) + "] "
	switch p := msg.Payload.(type) {
	case events.Reconnect:
		return prefix + fmt.Sprintf("price feed gave up after %d attempts, manual reconnect required", p.Attempt)
	case events.OrderExecutionError:
		return prefix + fmt.Sprintf("order %s (%s) failed: %s", p.OrderID, p.Symbol, p.Error)
	case events.StreamError:
		return prefix + fmt.Sprintf("stream %s dropped: %s", p.Symbol, p.Error)
	default:
		return ""
	}
}
