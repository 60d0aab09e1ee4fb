package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is an order's lifecycle state.
type Status string

const (
	StatusPending        Status = "pending"
	StatusWaitingTrigger Status = "waiting_trigger"
	StatusScheduled      Status = "scheduled"
	StatusPartial        Status = "partial"
	StatusExecuted       Status = "executed"
	StatusFilled         Status = "filled"
	StatusCancelled      Status = "cancelled"
	StatusCancelling     Status = "cancelling"
	StatusRejected       Status = "rejected"
	StatusExpired        Status = "expired"
	StatusError          Status = "error"
	StatusUnknown        Status = "unknown"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusFilled, StatusCancelled, StatusRejected, StatusExpired, StatusError:
		return true
	}
	return false
}

// HasFill reports whether the venue took the order and filled some of it.
func (s Status) HasFill() bool {
	return s == StatusExecuted || s == StatusFilled || s == StatusPartial
}

// Side is BUY or SELL.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Type is the exchange order type.
type Type string

const (
	TypeMarket Type = "MARKET"
	TypeLimit  Type = "LIMIT"
)

// Mode decides when an order is sent to the exchange.
type Mode string

const (
	ModeImmediate Mode = "immediate"
	ModeTrigger   Mode = "trigger"
	ModeScheduled Mode = "scheduled"
)

// Purpose separates entries from the protective orders that close them.
type Purpose string

const (
	PurposeEntry Purpose = "entry"
	PurposeExit  Purpose = "exit"
)

// Condition is how a price is compared with a target.
type Condition string

const (
	ConditionAbove Condition = "above"
	ConditionBelow Condition = "below"
	ConditionEqual Condition = "equal"
)

// equalTolerance is the relative band for ConditionEqual.
const equalTolerance = 0.001

// TargetKind says which order field a price target came from.
type TargetKind string

const (
	KindTrigger    TargetKind = "trigger"
	KindStopLoss   TargetKind = "stopLoss"
	KindTakeProfit TargetKind = "takeProfit"
	// KindEntry marks tasks that were not produced by a price target:
	// immediate and scheduled executions.
	KindEntry TargetKind = "entry"
)

// Order is the engine's unit of work. SL/TP and trigger prices keep full
// precision; use View for rounded display values.
type Order struct {
	ID               string     `json:"id"`
	ParentID         string     `json:"parentId,omitempty"`
	Symbol           string     `json:"symbol"`
	Side             Side       `json:"side"`
	Type             Type       `json:"type"`
	Quantity         float64    `json:"quantity"`
	Price            float64    `json:"price"`
	Status           Status     `json:"status"`
	Purpose          Purpose    `json:"purpose"`
	Timeframe        string     `json:"timeframe,omitempty"`
	TriggerPrice     *float64   `json:"triggerPrice,omitempty"`
	TriggerCondition Condition  `json:"triggerCondition,omitempty"`
	StopLoss         *float64   `json:"stopLoss,omitempty"`
	TakeProfit       *float64   `json:"takeProfit,omitempty"`
	ExecutionMode    Mode       `json:"executionMode"`
	ScheduledTime    *time.Time `json:"scheduledTime,omitempty"`
	ExchangeOrderID  string     `json:"exchangeOrderId,omitempty"`
	ExecutedPrice    float64    `json:"executedPrice,omitempty"`
	ExecutedQty      float64    `json:"executedQty,omitempty"`
	ErrorMessage     string     `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	ExecutedAt       *time.Time `json:"executedAt,omitempty"`
	ErrorAt          *time.Time `json:"errorAt,omitempty"`
}

// Clone returns a deep copy so snapshots never share pointer fields.
func (o Order) Clone() Order {
	c := o
	c.TriggerPrice = clonePtr(o.TriggerPrice)
	c.StopLoss = clonePtr(o.StopLoss)
	c.TakeProfit = clonePtr(o.TakeProfit)
	c.ScheduledTime = clonePtr(o.ScheduledTime)
	c.ExecutedAt = clonePtr(o.ExecutedAt)
	c.ErrorAt = clonePtr(o.ErrorAt)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// View is an order with prices rounded for display.
type View struct {
	Order
	DisplayPrice      string `json:"displayPrice"`
	DisplayStopLoss   string `json:"displayStopLoss,omitempty"`
	DisplayTakeProfit string `json:"displayTakeProfit,omitempty"`
	DisplayTrigger    string `json:"displayTriggerPrice,omitempty"`
}

// View rounds price fields to places decimals.
func (o Order) View(places int32) View {
	v := View{Order: o, DisplayPrice: round(o.Price, places)}
	if o.StopLoss != nil {
		v.DisplayStopLoss = round(*o.StopLoss, places)
	}
	if o.TakeProfit != nil {
		v.DisplayTakeProfit = round(*o.TakeProfit, places)
	}
	if o.TriggerPrice != nil {
		v.DisplayTrigger = round(*o.TriggerPrice, places)
	}
	return v
}

func round(f float64, places int32) string {
	return decimal.NewFromFloat(f).StringFixed(places)
}

// PriceTarget is one watched price level. OrderID is a back-reference only.
type PriceTarget struct {
	OrderID     string     `json:"orderId"`
	Symbol      string     `json:"symbol"`
	TargetPrice float64    `json:"targetPrice"`
	Condition   Condition  `json:"condition"`
	Kind        TargetKind `json:"kind"`
}

// Matches evaluates the target's condition against price.
func (t PriceTarget) Matches(price float64) bool {
	switch t.Condition {
	case ConditionAbove:
		return price >= t.TargetPrice
	case ConditionBelow:
		return price <= t.TargetPrice
	case ConditionEqual:
		diff := price - t.TargetPrice
		if diff < 0 {
			diff = -diff
		}
		return diff < t.TargetPrice*equalTolerance
	}
	return false
}

// Targets derives the price targets an order watches.
func Targets(o Order) []PriceTarget {
	var out []PriceTarget
	if o.TriggerPrice != nil {
		cond := o.TriggerCondition
		if cond == "" {
			cond = ConditionAbove
		}
		out = append(out, PriceTarget{OrderID: o.ID, Symbol: o.Symbol, TargetPrice: *o.TriggerPrice, Condition: cond, Kind: KindTrigger})
	}
	if o.StopLoss != nil {
		cond := ConditionAbove
		if o.Side == SideBuy {
			cond = ConditionBelow
		}
		out = append(out, PriceTarget{OrderID: o.ID, Symbol: o.Symbol, TargetPrice: *o.StopLoss, Condition: cond, Kind: KindStopLoss})
	}
	if o.TakeProfit != nil {
		cond := ConditionBelow
		if o.Side == SideBuy {
			cond = ConditionAbove
		}
		out = append(out, PriceTarget{OrderID: o.ID, Symbol: o.Symbol, TargetPrice: *o.TakeProfit, Condition: cond, Kind: KindTakeProfit})
	}
	return out
}

// ExecutionTask is a value captured when a target fires.
type ExecutionTask struct {
	Order         Order       `json:"order"`
	Target        PriceTarget `json:"target"`
	ObservedPrice float64     `json:"observedPrice"`
	ObservedAt    time.Time   `json:"observedAt"`
}

// NewTask snapshots o so later changes to the live order are not seen by the task.
func NewTask(o Order, target PriceTarget, price float64, at time.Time) ExecutionTask {
	return ExecutionTask{Order: o.Clone(), Target: target, ObservedPrice: price, ObservedAt: at}
}

// Closing reports whether the task closes a position rather than opening one.
func (t ExecutionTask) Closing() bool {
	return t.Target.Kind == KindStopLoss || t.Target.Kind == KindTakeProfit
}

// Side is the exchange side to send: closing tasks trade against the order's side.
func (t ExecutionTask) Side() Side {
	if t.Closing() {
		return t.Order.Side.Opposite()
	}
	return t.Order.Side
}

// Type is the exchange order type to send. Closing tasks always go at market.
func (t ExecutionTask) Type() Type {
	if t.Closing() || t.Order.Type == "" {
		return TypeMarket
	}
	return t.Order.Type
}
