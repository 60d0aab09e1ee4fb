package order

import (
	"context"
	"errors"
	"time"

	"trigger-engine/internal/errs"
	"trigger-engine/internal/events"
	"trigger-engine/internal/monitor"
	exchange "trigger-engine/pkg/exchanges/common"

	"github.com/rs/zerolog/log"
)

// Placer sends orders to the venue.
type Placer interface {
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error)
}

// FeedHolder pins a symbol's price stream while a task executes, so targets
// registered during the handover land on the same stream.
type FeedHolder interface {
	Hold(symbol string) bool
	Release(symbol string)
}

// Executor is the queue handler: it places the order for a task and applies
// the outcome through the state machine.
type Executor struct {
	Machine  *Machine
	Exchange Placer
	Bus      *events.Bus
	Metrics  *monitor.Metrics
	Feed     FeedHolder

	// AfterExecution runs once the exchange reported a fill and the
	// transition was applied. Rejected and unknown outcomes skip it.
	AfterExecution func(ctx context.Context, t ExecutionTask, o Order)

	now func() time.Time
}

// NewExecutor wires an executor.
func NewExecutor(m *Machine, ex Placer, bus *events.Bus, metrics *monitor.Metrics) *Executor {
	return &Executor{Machine: m, Exchange: ex, Bus: bus, Metrics: metrics, now: time.Now}
}

// Request builds the exchange request for a task.
func Request(t ExecutionTask) exchange.OrderRequest {
	req := exchange.OrderRequest{
		Symbol:   t.Order.Symbol,
		Side:     exchange.Side(t.Side()),
		Type:     exchange.OrderType(t.Type()),
		Qty:      t.Order.Quantity,
		ClientID: t.Order.ID,
	}
	if req.Type == exchange.OrderTypeLimit {
		req.Price = t.Order.Price
		req.TimeInForce = exchange.TIFGTC
	}
	return req
}

// Handle executes one task. Tasks for orders that are no longer active are
// dropped without contacting the exchange.
func (e *Executor) Handle(ctx context.Context, t ExecutionTask) error {
	id := t.Order.ID
	if _, err := e.Machine.BeginExecution(id); err != nil {
		log.Info().Str("order_id", id).Str("target", string(t.Target.Kind)).Err(err).
			Msg("executor: task dropped")
		return nil
	}
	defer e.Machine.EndExecution(id)
	if e.Feed != nil && e.Feed.Hold(t.Order.Symbol) {
		defer e.Feed.Release(t.Order.Symbol)
	}

	req := Request(t)
	start := e.now()
	res, err := e.Exchange.PlaceOrder(ctx, req)
	elapsed := e.now().Sub(start)
	if err != nil {
		return e.fail(ctx, t, err, elapsed)
	}

	status := FromExchange(res.Status)
	if status == StatusPending {
		// NEW: accepted by the venue; the engine's job for this order is done.
		status = StatusExecuted
	}
	at := e.now()
	price, qty := res.AvgPrice(), res.ExecutedQty
	o, err := e.Machine.Transition(ctx, id, Patch{
		Status:          status,
		ExchangeOrderID: res.ExchangeOrderID,
		ExecutedPrice:   &price,
		ExecutedQty:     &qty,
		ExecutedAt:      &at,
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", id).Str("exchange_status", res.Status).
			Msg("executor: apply result failed")
		return err
	}

	result := "ok"
	switch status {
	case StatusRejected, StatusExpired, StatusCancelled:
		result = "rejected"
	case StatusUnknown:
		result = "unknown"
		log.Warn().Str("order_id", id).Str("exchange_status", res.Status).
			Str("exchange_order_id", res.ExchangeOrderID).
			Msg("executor: unmapped exchange status, order stays tracked")
	}
	e.Metrics.Execution(result, elapsed)

	log.Info().Str("order_id", id).Str("symbol", req.Symbol).Str("side", string(req.Side)).
		Str("target", string(t.Target.Kind)).Str("status", string(status)).
		Float64("observed", t.ObservedPrice).Float64("qty", req.Qty).
		Msg("executor: order placed")

	if e.Bus != nil {
		e.Bus.Publish(events.EventOrderExecuted, events.OrderExecuted{
			OrderID:         id,
			Symbol:          req.Symbol,
			Side:            string(req.Side),
			Target:          string(t.Target.Kind),
			Status:          string(status),
			ExchangeOrderID: res.ExchangeOrderID,
			ExecutedPrice:   price,
			ExecutedQty:     qty,
		})
	}
	if e.AfterExecution != nil && status.HasFill() {
		e.AfterExecution(ctx, t, o)
	}
	return nil
}

func (e *Executor) fail(ctx context.Context, t ExecutionTask, cause error, elapsed time.Duration) error {
	id := t.Order.ID
	e.Machine.Fail(ctx, id, cause.Error())
	e.Metrics.Execution("error", elapsed)

	if e.Bus != nil {
		e.Bus.Publish(events.EventOrderExecutionError, events.OrderExecutionError{
			OrderID: id,
			Symbol:  t.Order.Symbol,
			Error:   cause.Error(),
		})
	}

	execErr := &errs.ExecutionError{OrderID: id, Err: cause}
	var apiErr *exchange.APIError
	if errors.As(cause, &apiErr) {
		execErr.Code = apiErr.Code
	}
	return execErr
}
