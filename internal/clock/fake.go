package clock

import (
	"sync"
	"time"
)

type waiter struct {
	at time.Time
	ch chan time.Time
}

// Fake is a manually advanced Clock. With AutoAdvance set, every NewTimer call
// moves time forward by the requested duration and fires at once, which lets
// backoff loops run to completion without sleeping.
type Fake struct {
	mu          sync.Mutex
	now         time.Time
	waiters     []*waiter
	requested   []time.Duration
	AutoAdvance bool
}

// NewFake returns a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NewTimer registers a waiter that fires when Advance reaches it.
func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requested = append(f.requested, d)
	w := &waiter{ch: make(chan time.Time, 1)}
	if f.AutoAdvance && d > 0 {
		f.now = f.now.Add(d)
	}
	if d <= 0 || f.AutoAdvance {
		w.ch <- f.now
		return &fakeTimer{f: f, w: w}
	}
	w.at = f.now.Add(d)
	f.waiters = append(f.waiters, w)
	return &fakeTimer{f: f, w: w}
}

type fakeTimer struct {
	f *Fake
	w *waiter
}

func (t *fakeTimer) C() <-chan time.Time { return t.w.ch }

// Stop removes the waiter. It reports false if the timer already fired.
func (t *fakeTimer) Stop() bool {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	for i, w := range t.f.waiters {
		if w == t.w {
			t.f.waiters = append(t.f.waiters[:i], t.f.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Advance moves time forward and fires every waiter that is due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
	kept := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.at.After(f.now) {
			w.ch <- f.now
			continue
		}
		kept = append(kept, w)
	}
	f.waiters = kept
}

// Waiters returns the number of timers that have neither fired nor stopped.
func (f *Fake) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

// Requested returns every duration passed to NewTimer, in call order.
func (f *Fake) Requested() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.requested))
	copy(out, f.requested)
	return out
}
