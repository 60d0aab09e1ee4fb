package order

import (
	"context"
	"sync"
	"time"

	"trigger-engine/internal/monitor"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Handler executes one task to completion.
type Handler func(ctx context.Context, t ExecutionTask) error

// Queue is a strict FIFO of execution tasks drained by a single worker.
// After a task finishes, the next one starts no earlier than the pacing
// interval later, however long the task took.
type Queue struct {
	mu         sync.Mutex
	tasks      []ExecutionTask
	processing bool
	current    string
	wake       chan struct{}
	pacing     time.Duration
	limiter    *rate.Limiter

	Metrics *monitor.Metrics
}

// NewQueue builds a queue. pacing <= 0 disables spacing.
func NewQueue(pacing time.Duration) *Queue {
	if pacing < 0 {
		pacing = 0
	}
	return &Queue{
		wake:    make(chan struct{}, 1),
		pacing:  pacing,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
}

// rest starts the pause that follows a finished task. The limiter is rebuilt
// with its single token already spent, so the next Wait returns one pacing
// interval after this call.
func (q *Queue) rest() {
	if q.pacing == 0 {
		return
	}
	q.limiter = rate.NewLimiter(rate.Every(q.pacing), 1)
	q.limiter.Allow()
}

// Enqueue appends a task. Safe from any goroutine; never blocks.
func (q *Queue) Enqueue(t ExecutionTask) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	n := len(q.tasks)
	q.mu.Unlock()

	q.Metrics.QueueLength(n)
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of waiting tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Processing reports whether the worker is busy with a task.
func (q *Queue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Queued reports whether a task for orderID is waiting or being handled.
func (q *Queue) Queued(orderID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.processing && q.current == orderID {
		return true
	}
	for _, t := range q.tasks {
		if t.Order.ID == orderID {
			return true
		}
	}
	return false
}

func (q *Queue) pop() (ExecutionTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return ExecutionTask{}, false
	}
	t := q.tasks[0]
	q.tasks[0] = ExecutionTask{}
	q.tasks = q.tasks[1:]
	q.processing = true
	q.current = t.Order.ID
	return t, true
}

func (q *Queue) done() {
	q.mu.Lock()
	q.processing = false
	q.current = ""
	n := len(q.tasks)
	q.mu.Unlock()
	q.Metrics.QueueLength(n)
}

// Drain runs handler on each task in enqueue order until ctx is canceled.
// A failing task is logged and the drain moves on. A task is only taken off
// the queue once its pacing wait is over, so stopping mid-wait leaves it
// queued.
func (q *Queue) Drain(ctx context.Context, handler Handler) {
	for {
		if q.Len() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		if err := q.limiter.Wait(ctx); err != nil {
			q.logLeftover()
			return
		}
		t, ok := q.pop()
		if !ok {
			continue
		}
		if err := handler(ctx, t); err != nil {
			log.Error().Err(err).
				Str("order_id", t.Order.ID).
				Str("symbol", t.Order.Symbol).
				Str("target", string(t.Target.Kind)).
				Msg("queue: task failed")
		}
		q.done()
		q.rest()
	}
}

func (q *Queue) logLeftover() {
	q.mu.Lock()
	ids := make([]string, 0, len(q.tasks))
	for _, t := range q.tasks {
		ids = append(ids, t.Order.ID)
	}
	q.mu.Unlock()
	if len(ids) > 0 {
		log.Warn().Strs("order_ids", ids).Msg("queue: stopped with tasks still waiting")
	}
}
