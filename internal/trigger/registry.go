// Package trigger keeps the price levels pending orders are waiting for and
// fires each of them at most once.
package trigger

import (
	"context"
	"sort"
	"sync"
	"time"

	"trigger-engine/internal/errs"
	"trigger-engine/internal/monitor"
	"trigger-engine/internal/order"

	"github.com/rs/zerolog/log"
)

// Feed reference-counts price subscriptions. The registry holds one
// reference per registered order.
type Feed interface {
	Subscribe(ctx context.Context, symbol string) error
	Release(symbol string)
}

// Sink receives fired tasks. Enqueue must not block.
type Sink interface {
	Enqueue(t order.ExecutionTask)
}

// Registry maps watched price conditions to orders.
type Registry struct {
	mu      sync.Mutex
	targets map[string][]order.PriceTarget // symbol -> targets in insertion order
	orders  map[string]order.Order         // orderID -> snapshot at registration

	feed    Feed
	sink    Sink
	Metrics *monitor.Metrics
}

// NewRegistry builds an empty registry.
func NewRegistry(feed Feed, sink Sink) *Registry {
	return &Registry{
		targets: make(map[string][]order.PriceTarget),
		orders:  make(map[string]order.Order),
		feed:    feed,
		sink:    sink,
	}
}

// AddOrder registers the order's trigger, stop-loss and take-profit targets
// and subscribes its symbol. Re-adding an order only inserts targets it does
// not already have.
func (r *Registry) AddOrder(ctx context.Context, o order.Order) error {
	targets := order.Targets(o)
	if len(targets) == 0 {
		return errs.ErrNoTargets
	}

	r.mu.Lock()
	_, known := r.orders[o.ID]
	r.orders[o.ID] = o.Clone()
	existing := r.targets[o.Symbol]
	for _, t := range targets {
		if !containsKey(existing, t) {
			existing = append(existing, t)
		}
	}
	r.targets[o.Symbol] = existing
	r.mu.Unlock()

	if known || r.feed == nil {
		return nil
	}
	if err := r.feed.Subscribe(ctx, o.Symbol); err != nil {
		// The reference is held; the supervisor reopens the stream.
		log.Warn().Err(err).Str("symbol", o.Symbol).Str("order_id", o.ID).
			Msg("trigger: subscribe failed, waiting for reconnect")
	}
	return nil
}

func containsKey(list []order.PriceTarget, t order.PriceTarget) bool {
	for _, x := range list {
		if x.OrderID == t.OrderID && x.Kind == t.Kind {
			return true
		}
	}
	return false
}

// Check evaluates every target on symbol against price. Matching targets are
// removed before the lock is released, so a target never fires twice. Every
// match on the same tick is queued, in registration order. Stop-loss and
// take-profit targets of an order wait until its trigger has fired.
func (r *Registry) Check(symbol string, price float64, at time.Time) int {
	var (
		tasks    []order.ExecutionTask
		released []string
	)

	r.mu.Lock()
	list := r.targets[symbol]
	if len(list) == 0 {
		r.mu.Unlock()
		return 0
	}
	waiting := pendingEntries(list)
	kept := list[:0:0]
	fired := make(map[string]bool)
	for _, t := range list {
		if (waiting[t.OrderID] && t.Kind != order.KindTrigger) || !t.Matches(price) {
			kept = append(kept, t)
			continue
		}
		tasks = append(tasks, order.NewTask(r.orders[t.OrderID], t, price, at))
		fired[t.OrderID] = true
	}
	if len(kept) == 0 {
		delete(r.targets, symbol)
	} else {
		r.targets[symbol] = kept
	}
	for id := range fired {
		if !containsOrder(kept, id) {
			delete(r.orders, id)
			released = append(released, symbol)
		}
	}
	r.mu.Unlock()

	for _, t := range tasks {
		r.Metrics.Fire(string(t.Target.Kind))
		log.Info().Str("symbol", symbol).Str("order_id", t.Order.ID).Str("kind", string(t.Target.Kind)).
			Str("condition", string(t.Target.Condition)).Float64("target", t.Target.TargetPrice).
			Float64("price", price).Msg("trigger: target fired")
		r.sink.Enqueue(t)
	}
	if r.feed != nil {
		for _, s := range released {
			r.feed.Release(s)
		}
	}
	return len(tasks)
}

// pendingEntries lists orders whose trigger has not fired yet. Their
// stop-loss and take-profit protect a position that does not exist until the
// trigger executes, so they are held back.
func pendingEntries(list []order.PriceTarget) map[string]bool {
	var out map[string]bool
	for _, t := range list {
		if t.Kind != order.KindTrigger {
			continue
		}
		if out == nil {
			out = make(map[string]bool)
		}
		out[t.OrderID] = true
	}
	return out
}

func containsOrder(list []order.PriceTarget, id string) bool {
	for _, t := range list {
		if t.OrderID == id {
			return true
		}
	}
	return false
}

// Remove drops the order and all its targets whether or not any fired.
// It reports whether the order was registered; removing twice is a no-op.
func (r *Registry) Remove(orderID string) bool {
	r.mu.Lock()
	o, ok := r.orders[orderID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.orders, orderID)
	list := r.targets[o.Symbol]
	kept := list[:0:0]
	for _, t := range list {
		if t.OrderID != orderID {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(r.targets, o.Symbol)
	} else {
		r.targets[o.Symbol] = kept
	}
	r.mu.Unlock()

	if r.feed != nil {
		r.feed.Release(o.Symbol)
	}
	return true
}

// Has reports whether the order still has targets.
func (r *Registry) Has(orderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.orders[orderID]
	return ok
}

// TargetsFor returns the order's remaining targets.
func (r *Registry) TargetsFor(orderID string) []order.PriceTarget {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil
	}
	var out []order.PriceTarget
	for _, t := range r.targets[o.Symbol] {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out
}

// Stats is a point-in-time count of registry contents.
type Stats struct {
	Orders          int
	Targets         int
	StopLossTargets int
	Symbols         []string
}

// Stats counts orders, targets and the symbols that have targets.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{Orders: len(r.orders)}
	for sym, list := range r.targets {
		s.Symbols = append(s.Symbols, sym)
		s.Targets += len(list)
		for _, t := range list {
			if t.Kind == order.KindStopLoss {
				s.StopLossTargets++
			}
		}
	}
	sort.Strings(s.Symbols)
	return s
}
