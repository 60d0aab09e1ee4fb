package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"trigger-engine/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fired struct {
	mu  sync.Mutex
	ids []string
}

func (f *fired) fn(id string) Func {
	return func(context.Context) {
		f.mu.Lock()
		f.ids = append(f.ids, id)
		f.mu.Unlock()
	}
}

func (f *fired) get() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

func TestSchedulerFiresInDueOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Unix(1_700_000_000, 0)
	clk := clock.NewFake(start)
	s := New(clk)
	f := &fired{}

	assert.Equal(t, 3*time.Second, s.Schedule("late", start.Add(3*time.Second), f.fn("late")))
	s.Schedule("early", start.Add(time.Second), f.fn("early"))
	go s.Run(ctx)

	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)
	clk.Advance(999 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, f.get())

	clk.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return len(f.get()) == 1 }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return clk.Waiters() > 0 }, time.Second, time.Millisecond)
	clk.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return len(f.get()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"early", "late"}, f.get())
	assert.Equal(t, 0, s.Len())
}

func TestSchedulerPastTimeRunsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Unix(1_700_000_000, 0)
	s := New(clock.NewFake(start))
	f := &fired{}
	go s.Run(ctx)

	assert.Equal(t, time.Duration(0), s.Schedule("o1", start.Add(-time.Minute), f.fn("o1")))
	require.Eventually(t, func() bool { return len(f.get()) == 1 }, time.Second, time.Millisecond)
}

func TestSchedulerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Unix(1_700_000_000, 0)
	clk := clock.NewFake(start)
	s := New(clk)
	f := &fired{}
	go s.Run(ctx)

	s.Schedule("o1", start.Add(time.Second), f.fn("o1"))
	s.Schedule("o2", start.Add(2*time.Second), f.fn("o2"))
	assert.True(t, s.Pending("o1"))
	assert.True(t, s.Cancel("o1"))
	assert.False(t, s.Cancel("o1"))
	assert.False(t, s.Pending("o1"))

	clk.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		if len(f.get()) == 1 {
			return true
		}
		clk.Advance(time.Second)
		return false
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"o2"}, f.get())
}

func TestSchedulerRescheduleReplaces(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	s := New(clock.NewFake(start))
	f := &fired{}

	s.Schedule("o1", start.Add(time.Hour), f.fn("first"))
	s.Schedule("o1", start.Add(time.Minute), f.fn("second"))
	assert.Equal(t, 1, s.Len())
}

func TestSchedulerKeepsOneTimerAcrossWakes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Unix(1_700_000_000, 0)
	clk := clock.NewFake(start)
	s := New(clk)
	f := &fired{}

	// scheduled before the loop starts, so the first pass also sees a pending wake
	s.Schedule("a", start.Add(time.Minute), f.fn("a"))
	go s.Run(ctx)
	for i, id := range []string{"b", "c", "d"} {
		s.Schedule(id, start.Add(time.Duration(i+2)*time.Minute), f.fn(id))
	}

	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, clk.Waiters())

	clk.Advance(time.Minute)
	require.Eventually(t, func() bool { return len(f.get()) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return clk.Waiters() == 0 }, time.Second, time.Millisecond)
}
