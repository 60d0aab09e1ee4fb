// Package scheduler runs deferred order executions at a fixed time.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"trigger-engine/internal/clock"

	"github.com/rs/zerolog/log"
)

// Func is the deferred work.
type Func func(ctx context.Context)

type item struct {
	id    string
	due   time.Time
	fn    Func
	index int
}

type taskHeap []*item

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Scheduler keeps deferred tasks ordered by due time. The delay is fixed when
// a task is scheduled; the due time is measured on the clock's monotonic
// reading, so wall-clock changes do not move it.
type Scheduler struct {
	mu    sync.Mutex
	tasks taskHeap
	byID  map[string]*item
	wake  chan struct{}
	clock clock.Clock
}

// New returns an empty scheduler.
func New(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	return &Scheduler{
		byID:  make(map[string]*item),
		wake:  make(chan struct{}, 1),
		clock: clk,
	}
}

// Schedule runs fn once at. A time in the past runs on the next loop pass.
// Scheduling an id again replaces the earlier task. It returns the delay.
func (s *Scheduler) Schedule(id string, at time.Time, fn Func) time.Duration {
	now := s.clock.Now()
	delay := at.Sub(now)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	if old, ok := s.byID[id]; ok {
		heap.Remove(&s.tasks, old.index)
	}
	it := &item{id: id, due: now.Add(delay), fn: fn}
	heap.Push(&s.tasks, it)
	s.byID[id] = it
	s.mu.Unlock()

	s.signal()
	log.Printf("scheduler: %s due in %s", id, delay)
	return delay
}

// Cancel drops a pending task. It reports whether one was pending.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	it, ok := s.byID[id]
	if ok {
		heap.Remove(&s.tasks, it.index)
		delete(s.byID, id)
	}
	s.mu.Unlock()
	if ok {
		s.signal()
	}
	return ok
}

// Pending reports whether id is waiting to run.
func (s *Scheduler) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[id]
	return ok
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Run fires due tasks until ctx is done. Tasks run on the loop goroutine.
// At most one timer is armed at a time; it is stopped whenever the loop is
// woken before it fires.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		due, wait, ok := s.next()
		if due != nil {
			due.fn(ctx)
			continue
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}

		timer := s.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C():
		}
	}
}

// next pops the earliest task if it is due; otherwise it returns the wait
// until it is, with ok false when nothing is pending.
func (s *Scheduler) next() (*item, time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		return nil, 0, false
	}
	head := s.tasks[0]
	wait := head.due.Sub(s.clock.Now())
	if wait > 0 {
		return nil, wait, true
	}
	heap.Pop(&s.tasks)
	delete(s.byID, head.id)
	return head, 0, true
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
