package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"trigger-engine/internal/errs"
	"trigger-engine/internal/events"
	exchange "trigger-engine/pkg/exchanges/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlacer struct {
	mu   sync.Mutex
	reqs []exchange.OrderRequest
	res  exchange.OrderResult
	err  error
}

func (f *fakePlacer) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.res, f.err
}

func (f *fakePlacer) calls() []exchange.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exchange.OrderRequest(nil), f.reqs...)
}

func next(t *testing.T, ch <-chan events.Message) events.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	return events.Message{}
}

func TestExecutorTakeProfitClosesWithSell(t *testing.T) {
	store := newMemStore()
	remover := &recordingRemover{}
	m := NewMachine(store, remover)
	bus := events.NewBus()
	executed, unsub := bus.Subscribe(events.EventOrderExecuted, 4)
	defer unsub()

	placer := &fakePlacer{res: exchange.OrderResult{ExchangeOrderID: "9", Status: "FILLED", Price: 0, ExecutedQty: 0.01, QuoteQty: 1.02}}
	ex := NewExecutor(m, placer, bus, nil)
	var after []Order
	ex.AfterExecution = func(ctx context.Context, tk ExecutionTask, o Order) { after = append(after, o) }

	ctx := context.Background()
	o := testOrder("o1", StatusWaitingTrigger)
	o.Purpose = PurposeExit
	require.NoError(t, m.Track(ctx, o))

	tp := PriceTarget{OrderID: "o1", Symbol: "BTCUSDT", TargetPrice: 102, Condition: ConditionAbove, Kind: KindTakeProfit}
	require.NoError(t, ex.Handle(ctx, NewTask(o, tp, 102, time.Now())))

	calls := placer.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, exchange.SideSell, calls[0].Side)
	assert.Equal(t, exchange.OrderTypeMarket, calls[0].Type)
	assert.Equal(t, "o1", calls[0].ClientID)

	_, active := m.Get("o1")
	assert.False(t, active)
	status, _ := m.Finished("o1")
	assert.Equal(t, StatusFilled, status)
	assert.Equal(t, []string{"o1"}, remover.ids())

	msg := next(t, executed)
	payload := msg.Payload.(events.OrderExecuted)
	assert.Equal(t, "SELL", payload.Side)
	assert.InDelta(t, 102.0, payload.ExecutedPrice, 1e-9)

	require.Len(t, after, 1)
	assert.Equal(t, StatusFilled, after[0].Status)
	assert.False(t, m.InFlight("o1"))
}

func TestExecutorNewBecomesExecuted(t *testing.T) {
	m := NewMachine(newMemStore(), nil)
	placer := &fakePlacer{res: exchange.OrderResult{ExchangeOrderID: "1", Status: "NEW"}}
	ex := NewExecutor(m, placer, nil, nil)
	ctx := context.Background()
	o := testOrder("o1", StatusPending)
	require.NoError(t, m.Track(ctx, o))

	require.NoError(t, ex.Handle(ctx, NewTask(o, PriceTarget{OrderID: "o1", Kind: KindEntry}, 100, time.Now())))
	status, _ := m.Finished("o1")
	assert.Equal(t, StatusExecuted, status)
	assert.Equal(t, exchange.SideBuy, placer.calls()[0].Side)
}

func TestExecutorPartialStaysActive(t *testing.T) {
	m := NewMachine(newMemStore(), nil)
	placer := &fakePlacer{res: exchange.OrderResult{ExchangeOrderID: "1", Status: "PARTIALLY_FILLED", ExecutedQty: 0.004}}
	ex := NewExecutor(m, placer, nil, nil)
	ctx := context.Background()
	o := testOrder("o1", StatusWaitingTrigger)
	require.NoError(t, m.Track(ctx, o))

	require.NoError(t, ex.Handle(ctx, NewTask(o, PriceTarget{OrderID: "o1", Kind: KindTrigger}, 101, time.Now())))
	got, ok := m.Get("o1")
	require.True(t, ok)
	assert.Equal(t, StatusPartial, got.Status)
	assert.Equal(t, 0.004, got.ExecutedQty)
}

func TestExecutorUnmappedStatusKeepsOrderTracked(t *testing.T) {
	store := newMemStore()
	remover := &recordingRemover{}
	m := NewMachine(store, remover)
	bus := events.NewBus()
	executed, unsub := bus.Subscribe(events.EventOrderExecuted, 1)
	defer unsub()

	placer := &fakePlacer{res: exchange.OrderResult{ExchangeOrderID: "7", Status: "PENDING_NEW"}}
	ex := NewExecutor(m, placer, bus, nil)
	afterCalls := 0
	ex.AfterExecution = func(ctx context.Context, tk ExecutionTask, o Order) { afterCalls++ }

	ctx := context.Background()
	o := testOrder("o1", StatusWaitingTrigger)
	require.NoError(t, m.Track(ctx, o))

	require.NoError(t, ex.Handle(ctx, NewTask(o, PriceTarget{OrderID: "o1", Kind: KindTrigger}, 101, time.Now())))

	got, ok := m.Get("o1")
	require.True(t, ok, "order with an unmapped status must stay active")
	assert.Equal(t, StatusUnknown, got.Status)
	assert.Equal(t, "7", got.ExchangeOrderID)
	_, finished := m.Finished("o1")
	assert.False(t, finished)
	assert.Empty(t, remover.ids())
	assert.Zero(t, afterCalls)
	assert.False(t, m.InFlight("o1"))

	payload := next(t, executed).Payload.(events.OrderExecuted)
	assert.Equal(t, string(StatusUnknown), payload.Status)

	// a later report can still settle it
	_, err := m.Transition(ctx, "o1", Patch{Status: StatusFilled})
	require.NoError(t, err)
}

func TestExecutorRejectedSkipsAfterExecution(t *testing.T) {
	m := NewMachine(newMemStore(), nil)
	placer := &fakePlacer{res: exchange.OrderResult{ExchangeOrderID: "1", Status: "REJECTED"}}
	ex := NewExecutor(m, placer, nil, nil)
	afterCalls := 0
	ex.AfterExecution = func(ctx context.Context, tk ExecutionTask, o Order) { afterCalls++ }
	ctx := context.Background()
	o := testOrder("o1", StatusPending)
	require.NoError(t, m.Track(ctx, o))

	require.NoError(t, ex.Handle(ctx, NewTask(o, PriceTarget{OrderID: "o1", Kind: KindEntry}, 100, time.Now())))
	status, _ := m.Finished("o1")
	assert.Equal(t, StatusRejected, status)
	assert.Zero(t, afterCalls)
}

func TestExecutorFailureMovesToError(t *testing.T) {
	store := newMemStore()
	m := NewMachine(store, nil)
	bus := events.NewBus()
	failures, unsub := bus.Subscribe(events.EventOrderExecutionError, 4)
	defer unsub()

	placer := &fakePlacer{err: &exchange.APIError{Code: -2010, Message: "Account has insufficient balance"}}
	ex := NewExecutor(m, placer, bus, nil)
	ctx := context.Background()
	o := testOrder("o1", StatusWaitingTrigger)
	require.NoError(t, m.Track(ctx, o))

	err := ex.Handle(ctx, NewTask(o, PriceTarget{OrderID: "o1", Kind: KindTrigger}, 101, time.Now()))
	var execErr *errs.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, int64(-2010), execErr.Code)

	status, _ := m.Finished("o1")
	assert.Equal(t, StatusError, status)
	p, _ := store.lastPatch("o1")
	assert.Contains(t, p.ErrorMessage, "insufficient balance")

	payload := next(t, failures).Payload.(events.OrderExecutionError)
	assert.Equal(t, "o1", payload.OrderID)
}

func TestExecutorDropsTaskForFinishedOrder(t *testing.T) {
	m := NewMachine(newMemStore(), nil)
	placer := &fakePlacer{res: exchange.OrderResult{Status: "FILLED"}}
	ex := NewExecutor(m, placer, nil, nil)
	ctx := context.Background()
	o := testOrder("o1", StatusWaitingTrigger)
	require.NoError(t, m.Track(ctx, o))

	sl := NewTask(o, PriceTarget{OrderID: "o1", Kind: KindStopLoss}, 98, time.Now())
	tp := NewTask(o, PriceTarget{OrderID: "o1", Kind: KindTakeProfit}, 98, time.Now())
	require.NoError(t, ex.Handle(ctx, sl))
	require.NoError(t, ex.Handle(ctx, tp))

	assert.Len(t, placer.calls(), 1, "second target on a finished order must not reach the exchange")
}

func TestRequestLimit(t *testing.T) {
	o := testOrder("o1", StatusWaitingTrigger)
	o.Type = TypeLimit
	o.Price = 101
	req := Request(NewTask(o, PriceTarget{Kind: KindTrigger}, 101, time.Now()))
	assert.Equal(t, exchange.OrderTypeLimit, req.Type)
	assert.Equal(t, 101.0, req.Price)
	assert.Equal(t, exchange.TIFGTC, req.TimeInForce)

	closing := Request(NewTask(o, PriceTarget{Kind: KindStopLoss}, 99, time.Now()))
	assert.Equal(t, exchange.OrderTypeMarket, closing.Type)
	assert.Zero(t, closing.Price)
}
