package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"trigger-engine/internal/clock"
	"trigger-engine/internal/errs"
	"trigger-engine/internal/events"
	"trigger-engine/internal/market"
	"trigger-engine/internal/monitor"
	"trigger-engine/internal/order"
	"trigger-engine/internal/scheduler"
	"trigger-engine/internal/signal"
	"trigger-engine/internal/trigger"
	"trigger-engine/pkg/cache"
	exchange "trigger-engine/pkg/exchanges/common"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Impl implements the Service interface by composing the engine modules.
// Every collaborator is owned by the instance; there is no package state.
type Impl struct {
	exchange exchange.Exchange
	store    order.Store
	bus      *events.Bus
	metrics  *monitor.Metrics
	clock    clock.Clock

	thresholds     signal.Thresholds
	factory        *order.Factory
	machine        *order.Machine
	registry       *trigger.Registry
	router         *market.Router
	queue          *order.Queue
	executor       *order.Executor
	supervisor     *market.Supervisor
	scheduler      *scheduler.Scheduler
	prices         *cache.PriceCache
	initRetries    int
	initRetryDelay time.Duration

	mu     sync.Mutex
	active bool

	meta SystemStatus
}

// Config holds the configuration for creating an engine implementation.
type Config struct {
	Exchange exchange.Exchange
	Store    order.Store
	Bus      *events.Bus
	Metrics  *monitor.Metrics
	Recorder market.PriceRecorder
	Clock    clock.Clock

	Thresholds     signal.Thresholds
	Risk           order.RiskConfig
	QueuePacing    time.Duration
	Backoff        market.Backoff
	InitRetries    int
	InitRetryDelay time.Duration

	Meta SystemStatus
}

// NewImpl wires the engine. The trigger registry holds the router's
// subscription references and feeds the execution queue; the router sends
// ticks back to the registry and reports lost streams to the supervisor.
func NewImpl(cfg Config) *Impl {
	if cfg.Bus == nil {
		cfg.Bus = events.NewBus()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.InitRetries <= 0 {
		cfg.InitRetries = 3
	}
	if cfg.InitRetryDelay <= 0 {
		cfg.InitRetryDelay = 2 * time.Second
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = market.DefaultBackoff()
	}

	e := &Impl{
		exchange:       cfg.Exchange,
		store:          cfg.Store,
		bus:            cfg.Bus,
		metrics:        cfg.Metrics,
		clock:          cfg.Clock,
		thresholds:     cfg.Thresholds,
		factory:        order.NewFactory(cfg.Risk),
		initRetries:    cfg.InitRetries,
		initRetryDelay: cfg.InitRetryDelay,
		meta:           cfg.Meta,
		prices:         cache.NewPriceCache(),
	}
	e.factory.Now = cfg.Clock.Now

	e.queue = order.NewQueue(cfg.QueuePacing)
	e.queue.Metrics = cfg.Metrics

	e.router = market.NewRouter(cfg.Exchange, nil)
	e.router.Bus = cfg.Bus
	e.router.Recorder = cfg.Recorder
	e.router.Metrics = cfg.Metrics

	e.registry = trigger.NewRegistry(e.router, e.queue)
	e.registry.Metrics = cfg.Metrics
	e.router.SetHandler(func(symbol string, price float64, at time.Time) {
		e.prices.Set(symbol, price, at)
		e.registry.Check(symbol, price, at)
	})

	e.machine = order.NewMachine(cfg.Store, e.registry)
	e.machine.SetClock(cfg.Clock.Now)

	e.executor = order.NewExecutor(e.machine, cfg.Exchange, cfg.Bus, cfg.Metrics)
	e.executor.AfterExecution = e.afterExecution
	e.executor.Feed = e.router

	e.supervisor = market.NewSupervisor(e.reconnect, cfg.Backoff, cfg.Clock, func() int {
		return len(e.router.Symbols())
	})
	e.supervisor.Bus = cfg.Bus
	e.supervisor.Metrics = cfg.Metrics
	e.router.OnStreamError(func(_ string, err error) { e.supervisor.Notify(err) })

	e.scheduler = scheduler.New(cfg.Clock)
	return e
}

// Bus returns the engine's event bus.
func (e *Impl) Bus() *events.Bus { return e.bus }

// OnFeedState registers a listener for supervisor state changes. Call before Start.
func (e *Impl) OnFeedState(fn func(market.State)) { e.supervisor.OnStateChange(fn) }

// Initialize checks the exchange connection and restores active orders from
// the store. The connection test is retried a bounded number of times.
func (e *Impl) Initialize(ctx context.Context) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = e.testConnection(ctx); err == nil {
			break
		}
		if attempt >= e.initRetries {
			return &errs.ConnectionError{Op: "initialize", Attempts: attempt, Err: err}
		}
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", e.initRetryDelay).
			Msg("engine: connection test failed")
		timer := e.clock.NewTimer(e.initRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C():
		}
	}
	log.Printf("engine: exchange connection ok")

	if err := e.restore(ctx); err != nil {
		return fmt.Errorf("restore orders: %w", err)
	}
	return nil
}

func (e *Impl) testConnection(ctx context.Context) error {
	if err := e.exchange.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	info, err := e.exchange.GetAccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("account info: %w", err)
	}
	if !info.CanTrade {
		return errors.New("account cannot trade")
	}
	return nil
}

// restore rebuilds in-memory state from persisted orders. Orders waiting on a
// price or a time resume waiting. Pending orders with a trigger price go back
// to monitoring; other pending orders were interrupted on their way to the
// exchange and are failed rather than sent twice.
func (e *Impl) restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	orders, err := e.store.GetAllOrders(ctx)
	if err != nil {
		return err
	}

	restored := 0
	for i := len(orders) - 1; i >= 0; i-- {
		o := orders[i]
		if o.Status.Terminal() {
			continue
		}
		e.machine.Restore(o)
		restored++

		switch o.Status {
		case order.StatusWaitingTrigger:
			if err := e.registry.AddOrder(ctx, o); err != nil {
				e.machine.Fail(ctx, o.ID, "restore: "+err.Error())
			}
		case order.StatusScheduled:
			e.scheduleOrder(o)
		case order.StatusPending:
			if o.TriggerPrice == nil {
				e.machine.Fail(ctx, o.ID, "interrupted before execution")
				continue
			}
			if err := e.registry.AddOrder(ctx, o); err != nil {
				e.machine.Fail(ctx, o.ID, "restore: "+err.Error())
			}
		}
	}
	if restored > 0 {
		log.Info().Int("orders", restored).Int("targets", e.registry.Stats().Targets).
			Msg("engine: restored active orders")
	}
	return nil
}

// Start launches the queue worker, feed supervisor and scheduler and opens
// the price streams of every restored order. It returns once they are running.
func (e *Impl) Start(ctx context.Context) {
	go e.queue.Drain(ctx, e.executor.Handle)
	go e.supervisor.Run(ctx)
	go e.scheduler.Run(ctx)

	if err := e.router.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("engine: some streams failed to open, supervisor will retry")
	} else {
		e.supervisor.MarkConnected()
	}

	e.mu.Lock()
	e.active = true
	if e.meta.StartedAt.IsZero() {
		e.meta.StartedAt = e.clock.Now()
	}
	e.mu.Unlock()
	log.Info().Int("symbols", len(e.router.Symbols())).Msg("engine: started")
}

// Stop closes every price stream. Tracked orders stay in memory and store.
func (e *Impl) Stop() {
	e.mu.Lock()
	e.active = false
	e.mu.Unlock()
	e.router.Stop()
	log.Printf("engine: stopped")
}

// ProcessSignal runs the webhook flow: payload check, signal validation,
// price fetch, order creation, then dispatch by execution mode.
func (e *Impl) ProcessSignal(ctx context.Context, sig signal.Signal) (SignalResult, error) {
	sig.Normalize()
	if err := signal.CheckPayload(sig); err != nil {
		e.publishSignal(sig, signal.Result{Reason: err.Error()}, "")
		return SignalResult{Reason: err.Error()}, err
	}

	res := signal.Validate(sig, e.thresholds)
	if !res.Valid {
		log.Info().Str("symbol", sig.Symbol).Float64("adx", sig.ADX).Str("reason", res.Reason).
			Msg("engine: signal rejected")
		e.publishSignal(sig, res, "")
		return SignalResult{Reason: res.Reason}, nil
	}

	price, err := e.exchange.GetPrice(ctx, sig.Symbol)
	if err != nil {
		return SignalResult{}, fmt.Errorf("get price %s: %w", sig.Symbol, err)
	}

	o := e.factory.Build(sig, res.Action, price)
	o.Status = order.InitialStatus(o.ExecutionMode)
	if err := e.machine.Track(ctx, o); err != nil {
		e.machine.Fail(ctx, o.ID, err.Error())
		return SignalResult{}, err
	}

	switch o.ExecutionMode {
	case order.ModeTrigger:
		if err := e.registry.AddOrder(ctx, o); err != nil {
			e.machine.Fail(ctx, o.ID, err.Error())
			return SignalResult{}, fmt.Errorf("monitor order %s: %w", o.ID, err)
		}
	case order.ModeScheduled:
		e.scheduleOrder(o)
	default:
		e.queue.Enqueue(e.entryTask(o, price))
	}

	log.Info().Str("order_id", o.ID).Str("symbol", o.Symbol).Str("side", string(o.Side)).
		Str("mode", string(o.ExecutionMode)).Float64("price", price).Msg("engine: signal accepted")
	e.publishSignal(sig, res, o.ID)

	view := o.View(e.factory.Risk.PricePrecision)
	return SignalResult{Accepted: true, Action: res.Action, Order: &o, Display: &view}, nil
}

func (e *Impl) publishSignal(sig signal.Signal, res signal.Result, orderID string) {
	e.bus.Publish(events.EventSignalReceived, events.SignalReceived{
		Symbol:  sig.Symbol,
		Valid:   res.Valid,
		Action:  string(res.Action),
		Reason:  res.Reason,
		OrderID: orderID,
	})
}

func (e *Impl) entryTask(o order.Order, price float64) order.ExecutionTask {
	target := order.PriceTarget{OrderID: o.ID, Symbol: o.Symbol, TargetPrice: price, Kind: order.KindEntry}
	return order.NewTask(o, target, price, e.clock.Now())
}

func (e *Impl) scheduleOrder(o order.Order) {
	at := e.clock.Now()
	if o.ScheduledTime != nil {
		at = *o.ScheduledTime
	}
	e.scheduler.Schedule(o.ID, at, func(context.Context) {
		cur, ok := e.machine.Get(o.ID)
		if !ok {
			return
		}
		e.queue.Enqueue(e.entryTask(cur, cur.Price))
	})
}

// AddOrderToMonitoring registers an order's price targets. Orders the engine
// does not track yet are tracked as waiting_trigger first.
func (e *Impl) AddOrderToMonitoring(ctx context.Context, o order.Order) (order.Order, error) {
	if len(order.Targets(o)) == 0 {
		return order.Order{}, errs.ErrNoTargets
	}
	if cur, ok := e.machine.Get(o.ID); ok {
		o = cur
	} else {
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		now := e.clock.Now()
		o.Status = order.StatusWaitingTrigger
		if o.Purpose == "" {
			o.Purpose = order.PurposeEntry
		}
		if o.ExecutionMode == "" {
			o.ExecutionMode = order.ModeTrigger
		}
		if o.Type == "" {
			o.Type = order.TypeMarket
		}
		if o.Quantity <= 0 {
			o.Quantity = e.factory.Risk.DefaultQuantity
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		o.UpdatedAt = now
		if err := e.machine.Track(ctx, o); err != nil {
			return order.Order{}, err
		}
	}
	if err := e.registry.AddOrder(ctx, o); err != nil {
		return order.Order{}, err
	}
	return o, nil
}

// CancelOrderMonitoring stops future firing of the order's targets or
// scheduled run and moves it to cancelled. An execution already queued or
// in flight is left to finish and its result stands.
func (e *Impl) CancelOrderMonitoring(ctx context.Context, orderID string) error {
	o, ok := e.machine.Get(orderID)
	if !ok {
		if st, done := e.machine.Finished(orderID); done {
			return fmt.Errorf("cancel %s (%s): %w", orderID, st, errs.ErrOrderNotActive)
		}
		return fmt.Errorf("cancel %s: %w", orderID, errs.ErrOrderNotFound)
	}

	e.scheduler.Cancel(orderID)
	e.registry.Remove(orderID)

	if e.machine.InFlight(orderID) || e.queue.Queued(orderID) {
		log.Info().Str("order_id", orderID).Msg("engine: cancel after execution was queued, letting it finish")
		return fmt.Errorf("cancel %s: %w", orderID, errs.ErrExecutionInFlight)
	}

	if _, err := e.machine.Transition(ctx, orderID, order.Patch{Status: order.StatusCancelled}); err != nil {
		return err
	}
	e.bus.Publish(events.EventOrderCancelled, events.OrderCancelled{OrderID: orderID, Symbol: o.Symbol})
	log.Info().Str("order_id", orderID).Str("symbol", o.Symbol).Msg("engine: order cancelled")
	return nil
}

// afterExecution attaches a protective exit to an executed entry. It runs
// while the executor still holds the symbol's stream, so the exit's targets
// join the stream the entry was watched on.
func (e *Impl) afterExecution(ctx context.Context, t order.ExecutionTask, o order.Order) {
	if t.Closing() || o.Purpose == order.PurposeExit {
		return
	}
	child, ok := e.factory.ProtectiveChild(o)
	if ok {
		if err := e.machine.Track(ctx, child); err != nil {
			log.Error().Err(err).Str("order_id", child.ID).Msg("engine: persist protective order failed")
		}
		if err := e.registry.AddOrder(ctx, child); err != nil {
			e.machine.Fail(ctx, child.ID, err.Error())
		} else {
			log.Info().Str("order_id", child.ID).Str("parent_id", o.ID).Str("symbol", child.Symbol).
				Msg("engine: protective order monitoring")
		}
	}
	e.registry.Remove(o.ID)
}

// reconnect is the supervisor's recovery step.
func (e *Impl) reconnect(ctx context.Context) error {
	if err := e.exchange.Ping(ctx); err != nil {
		return &errs.ConnectionError{Op: "ping", Err: err}
	}
	return e.router.Resubscribe(ctx)
}

// GetMonitoringStatus returns a snapshot of registry, queue and feed state.
func (e *Impl) GetMonitoringStatus() MonitoringStatus {
	stats := e.registry.Stats()
	e.mu.Lock()
	active := e.active
	e.mu.Unlock()

	symbols := e.router.Symbols()
	if symbols == nil {
		symbols = []string{}
	}
	e.prices.Retain(symbols)
	return MonitoringStatus{
		IsActive:             active,
		PendingOrdersCount:   stats.Orders,
		MonitoredSymbols:     symbols,
		PriceTargetsCount:    stats.Targets,
		StopLossTargetsCount: stats.StopLossTargets,
		QueueLength:          e.queue.Len(),
		ProcessingQueue:      e.queue.Processing(),
		ActiveOrdersCount:    e.machine.Count(),
		ScheduledCount:       e.scheduler.Len(),
		FeedState:            e.supervisor.State(),
		ReconnectAttempt:     e.supervisor.Attempt(),
		LastPrices:           e.prices.Snapshot(symbols),
	}
}

// ActiveOrders returns the orders the engine is tracking, oldest first.
func (e *Impl) ActiveOrders() []order.Order {
	return e.machine.Active()
}

// Orders returns persisted orders, newest first.
func (e *Impl) Orders(ctx context.Context) ([]order.Order, error) {
	if e.store == nil {
		return e.machine.Active(), nil
	}
	return e.store.GetAllOrders(ctx)
}

// Reconnect asks the supervisor for a fresh recovery, resetting its attempt count.
func (e *Impl) Reconnect() { e.supervisor.Retry() }

// FeedState returns the supervisor state.
func (e *Impl) FeedState() market.State { return e.supervisor.State() }

// GetSystemStatus returns static metadata plus the current server time.
func (e *Impl) GetSystemStatus(ctx context.Context) *SystemStatus {
	e.mu.Lock()
	status := e.meta
	e.mu.Unlock()
	status.ServerTime = e.clock.Now()
	return &status
}

var _ Service = (*Impl)(nil)
