package order

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"trigger-engine/internal/errs"

	"github.com/rs/zerolog/log"
)

// TargetRemover drops every price target an order still has. It must be
// idempotent.
type TargetRemover interface {
	Remove(orderID string) bool
}

var transitions = map[Status][]Status{
	StatusPending:        {StatusPending, StatusPartial, StatusExecuted, StatusFilled, StatusCancelled, StatusCancelling, StatusRejected, StatusExpired, StatusError, StatusUnknown},
	StatusWaitingTrigger: {StatusPending, StatusPartial, StatusExecuted, StatusFilled, StatusCancelled, StatusCancelling, StatusRejected, StatusExpired, StatusError, StatusUnknown},
	StatusScheduled:      {StatusPending, StatusPartial, StatusExecuted, StatusFilled, StatusCancelled, StatusCancelling, StatusRejected, StatusExpired, StatusError, StatusUnknown},
	StatusPartial:        {StatusPartial, StatusExecuted, StatusFilled, StatusCancelled, StatusCancelling, StatusExpired, StatusError, StatusUnknown},
	StatusCancelling:     {StatusCancelling, StatusCancelled, StatusPartial, StatusFilled, StatusExpired, StatusError, StatusUnknown},
	StatusUnknown:        {StatusPending, StatusPartial, StatusExecuted, StatusFilled, StatusCancelled, StatusCancelling, StatusRejected, StatusExpired, StatusError, StatusUnknown},
}

// CanTransition reports whether from -> to is legal. Terminal states have no exits.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var exchangeStatuses = map[string]Status{
	"NEW":              StatusPending,
	"PARTIALLY_FILLED": StatusPartial,
	"FILLED":           StatusFilled,
	"CANCELED":         StatusCancelled,
	"PENDING_CANCEL":   StatusCancelling,
	"REJECTED":         StatusRejected,
	"EXPIRED":          StatusExpired,
}

// FromExchange maps an exchange status code. Unmapped codes become
// StatusUnknown, which is not terminal so the order stays tracked.
func FromExchange(code string) Status {
	if s, ok := exchangeStatuses[code]; ok {
		return s
	}
	return StatusUnknown
}

const finishedMemory = 1000

// Machine owns the set of active orders and is the only place their status
// changes. Each transition is written to the Store; terminal transitions
// also drop the order's price targets and stop tracking it.
type Machine struct {
	mu       sync.Mutex
	active   map[string]*Order
	inFlight map[string]struct{}
	finished map[string]Status
	order    []string

	store   Store
	targets TargetRemover
	now     func() time.Time
}

// NewMachine builds a state machine. targets may be nil in tests.
func NewMachine(store Store, targets TargetRemover) *Machine {
	return &Machine{
		active:   make(map[string]*Order),
		inFlight: make(map[string]struct{}),
		finished: make(map[string]Status),
		store:    store,
		targets:  targets,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (m *Machine) SetClock(now func() time.Time) { m.now = now }

// Track starts tracking a new order and persists it.
func (m *Machine) Track(ctx context.Context, o Order) error {
	m.Restore(o)
	if m.store == nil {
		return nil
	}
	if err := m.store.AddOrder(ctx, o); err != nil {
		return fmt.Errorf("persist order %s: %w", o.ID, err)
	}
	return nil
}

// Restore tracks an order loaded from the store without writing it back.
func (m *Machine) Restore(o Order) {
	c := o.Clone()
	m.mu.Lock()
	m.active[o.ID] = &c
	m.mu.Unlock()
}

// Get returns a copy of an active order.
func (m *Machine) Get(id string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.active[id]
	if !ok {
		return Order{}, false
	}
	return o.Clone(), true
}

// Active returns copies of all active orders, oldest first.
func (m *Machine) Active() []Order {
	m.mu.Lock()
	out := make([]Order, 0, len(m.active))
	for _, o := range m.active {
		out = append(out, o.Clone())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of active orders.
func (m *Machine) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Finished returns the final status of a recently completed order.
func (m *Machine) Finished(id string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.finished[id]
	return s, ok
}

// Transition moves an active order to p.Status.
func (m *Machine) Transition(ctx context.Context, id string, p Patch) (Order, error) {
	m.mu.Lock()
	o, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return Order{}, fmt.Errorf("transition %s to %s: %w", id, p.Status, errs.ErrOrderNotActive)
	}
	if !CanTransition(o.Status, p.Status) {
		from := o.Status
		m.mu.Unlock()
		return Order{}, fmt.Errorf("transition %s %s -> %s: %w", id, from, p.Status, errs.ErrIllegalTransition)
	}
	out := m.applyLocked(o, p)
	m.mu.Unlock()

	m.afterTransition(ctx, out, p)
	return out, nil
}

// Fail moves an order to error. It always succeeds for active orders, even
// from states Transition would refuse. An order that already finished keeps
// its outcome. An order the machine never saw, such as one restored from a
// previous run, is still marked as error in the store.
func (m *Machine) Fail(ctx context.Context, id string, reason string) Order {
	at := m.now()
	p := Patch{Status: StatusError, ErrorMessage: reason, ErrorAt: &at}

	m.mu.Lock()
	o, ok := m.active[id]
	if !ok {
		prev, done := m.finished[id]
		m.mu.Unlock()
		if done {
			log.Warn().Str("order_id", id).Str("status", string(prev)).Str("reason", reason).
				Msg("state: failure reported for finished order, keeping outcome")
			return Order{}
		}
		m.persist(ctx, id, p)
		return Order{ID: id, Status: StatusError, ErrorMessage: reason, ErrorAt: &at}
	}
	out := m.applyLocked(o, p)
	m.mu.Unlock()

	m.afterTransition(ctx, out, p)
	return out
}

// BeginExecution claims an active order for a queued task. Tasks for orders
// that are already terminal, or that another task is executing, are refused.
func (m *Machine) BeginExecution(id string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.active[id]
	if !ok {
		return Order{}, errs.ErrOrderNotActive
	}
	if _, busy := m.inFlight[id]; busy {
		return Order{}, errs.ErrExecutionInFlight
	}
	m.inFlight[id] = struct{}{}
	return o.Clone(), nil
}

// EndExecution releases the claim taken by BeginExecution.
func (m *Machine) EndExecution(id string) {
	m.mu.Lock()
	delete(m.inFlight, id)
	m.mu.Unlock()
}

// InFlight reports whether a task is executing the order.
func (m *Machine) InFlight(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inFlight[id]
	return ok
}

func (m *Machine) applyLocked(o *Order, p Patch) Order {
	p.apply(o)
	o.UpdatedAt = m.now()
	out := o.Clone()
	if o.Status.Terminal() {
		delete(m.active, o.ID)
		m.rememberLocked(o.ID, o.Status)
	}
	return out
}

func (m *Machine) rememberLocked(id string, s Status) {
	if _, ok := m.finished[id]; !ok {
		m.order = append(m.order, id)
	}
	m.finished[id] = s
	if len(m.order) > finishedMemory {
		delete(m.finished, m.order[0])
		m.order = m.order[1:]
	}
}

func (m *Machine) afterTransition(ctx context.Context, o Order, p Patch) {
	m.persist(ctx, o.ID, p)
	if o.Status.Terminal() && m.targets != nil {
		m.targets.Remove(o.ID)
	}
}

func (m *Machine) persist(ctx context.Context, id string, p Patch) {
	if m.store == nil {
		return
	}
	if err := m.store.UpdateOrder(ctx, id, p); err != nil {
		log.Error().Err(err).Str("order_id", id).Str("status", string(p.Status)).Msg("state: persist transition failed")
	}
}
