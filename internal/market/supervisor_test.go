package market

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"trigger-engine/internal/clock"
	"trigger-engine/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDoubles(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, time.Second, b.Next(1))
	assert.Equal(t, 2*time.Second, b.Next(2))
	assert.Equal(t, 16*time.Second, b.Next(5))
	assert.False(t, b.Exhausted(5))
	assert.True(t, b.Exhausted(6))
}

func TestSupervisorGivesUpAfterMaxAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewFake(time.Unix(0, 0))
	clk.AutoAdvance = true
	bus := events.NewBus()
	maxed, unsub := bus.Subscribe(events.EventMaxReconnectAttemptsReached, 1)
	defer unsub()

	var calls atomic.Int32
	s := NewSupervisor(func(context.Context) error {
		calls.Add(1)
		return errors.New("still down")
	}, DefaultBackoff(), clk, nil)
	s.Bus = bus
	go s.Run(ctx)

	s.Notify(errors.New("stream closed"))

	select {
	case msg := <-maxed:
		rc := msg.Payload.(events.Reconnect)
		assert.Equal(t, 5, rc.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("max reconnect event not published")
	}

	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, clk.Requested())

	// further notifications are ignored once failed
	s.Notify(errors.New("again"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(5), calls.Load())
}

func TestSupervisorRecoversAndResets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewFake(time.Unix(0, 0))
	clk.AutoAdvance = true
	bus := events.NewBus()
	reconnected, unsub := bus.Subscribe(events.EventReconnected, 1)
	defer unsub()

	var calls atomic.Int32
	s := NewSupervisor(func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("refused")
		}
		return nil
	}, DefaultBackoff(), clk, func() int { return 2 })
	s.Bus = bus
	go s.Run(ctx)

	s.Notify(errors.New("stream closed"))

	select {
	case msg := <-reconnected:
		rc := msg.Payload.(events.Reconnect)
		assert.Equal(t, 3, rc.Attempt)
		assert.Equal(t, 2, rc.Symbols)
	case <-time.After(2 * time.Second):
		t.Fatal("reconnected event not published")
	}

	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, 0, s.Attempt())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, clk.Requested())
}

func TestSupervisorWaitsFullDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewFake(time.Unix(0, 0))
	var calls atomic.Int32
	s := NewSupervisor(func(context.Context) error {
		calls.Add(1)
		return nil
	}, DefaultBackoff(), clk, nil)
	go s.Run(ctx)

	s.Notify(errors.New("stream closed"))
	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateBackingOff, s.State())

	clk.Advance(999 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	clk.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.State() == StateConnected }, time.Second, time.Millisecond)
}

func TestSupervisorRetryLeavesFailedState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewFake(time.Unix(0, 0))
	clk.AutoAdvance = true
	var healthy atomic.Bool
	s := NewSupervisor(func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("down")
	}, Backoff{Base: time.Second, MaxAttempts: 2}, clk, nil)
	go s.Run(ctx)

	s.Notify(errors.New("lost"))
	require.Eventually(t, func() bool { return s.State() == StateFailed }, time.Second, time.Millisecond)

	healthy.Store(true)
	s.Retry()
	require.Eventually(t, func() bool { return s.State() == StateConnected }, time.Second, time.Millisecond)
	assert.Equal(t, 0, s.Attempt())
}
