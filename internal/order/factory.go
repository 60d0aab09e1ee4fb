package order

import (
	"time"

	"trigger-engine/internal/signal"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RiskConfig sizes orders and their protective levels.
type RiskConfig struct {
	TakeProfitPercent float64 `yaml:"takeProfitPercent" json:"takeProfitPercent"`
	StopLossPercent   float64 `yaml:"stopLossPercent" json:"stopLossPercent"`
	DefaultQuantity   float64 `yaml:"defaultQuantity" json:"defaultQuantity"`
	PricePrecision    int32   `yaml:"pricePrecision" json:"pricePrecision"`
}

var hundred = decimal.NewFromInt(100)

// Levels computes take-profit and stop-loss for an entry at price.
// Values keep full precision; rounding is for display only.
func Levels(side Side, price float64, risk RiskConfig) (takeProfit, stopLoss float64) {
	p := decimal.NewFromFloat(price)
	one := decimal.NewFromInt(1)
	tp := decimal.NewFromFloat(risk.TakeProfitPercent).Div(hundred)
	sl := decimal.NewFromFloat(risk.StopLossPercent).Div(hundred)

	if side == SideBuy {
		return p.Mul(one.Add(tp)).InexactFloat64(), p.Mul(one.Sub(sl)).InexactFloat64()
	}
	return p.Mul(one.Sub(tp)).InexactFloat64(), p.Mul(one.Add(sl)).InexactFloat64()
}

// Factory turns validated signals into orders.
type Factory struct {
	Risk  RiskConfig
	Now   func() time.Time
	NewID func() string
}

// NewFactory returns a factory using the wall clock and uuid ids.
func NewFactory(risk RiskConfig) *Factory {
	return &Factory{Risk: risk, Now: time.Now, NewID: uuid.NewString}
}

// ResolveMode picks the execution mode when the signal did not name one.
func ResolveMode(sig signal.Signal) Mode {
	if sig.ExecutionMode != "" {
		return Mode(sig.ExecutionMode)
	}
	if sig.TriggerPrice != nil {
		return ModeTrigger
	}
	return ModeImmediate
}

// Build creates a pending order for action at the current price. Explicit
// stop-loss or take-profit hints on the signal win over computed levels.
// Trigger-mode entries compute their levels from the trigger price, where
// the position will actually open.
func (f *Factory) Build(sig signal.Signal, action signal.Action, price float64) Order {
	side := Side(action)
	base := price
	if sig.TriggerPrice != nil && ResolveMode(sig) == ModeTrigger {
		base = *sig.TriggerPrice
	}
	tp, sl := Levels(side, base, f.Risk)
	if sig.TakeProfit != nil {
		tp = *sig.TakeProfit
	}
	if sig.StopLoss != nil {
		sl = *sig.StopLoss
	}

	now := f.Now()
	o := Order{
		ID:            f.NewID(),
		Symbol:        sig.Symbol,
		Side:          side,
		Type:          TypeMarket,
		Quantity:      f.Risk.DefaultQuantity,
		Price:         price,
		Status:        StatusPending,
		Purpose:       PurposeEntry,
		Timeframe:     sig.Timeframe,
		StopLoss:      &sl,
		TakeProfit:    &tp,
		ExecutionMode: ResolveMode(sig),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if sig.TriggerPrice != nil {
		trigger := *sig.TriggerPrice
		o.TriggerPrice = &trigger
		o.TriggerCondition = Condition(sig.TriggerCondition)
		if o.TriggerCondition == "" {
			o.TriggerCondition = ConditionAbove
		}
	}
	if sig.OrderType == string(TypeLimit) {
		o.Type = TypeLimit
		if o.TriggerPrice != nil {
			o.Price = *o.TriggerPrice
		}
	}
	if sig.ScheduledTime != nil {
		at := *sig.ScheduledTime
		o.ScheduledTime = &at
	}
	return o
}

// InitialStatus is the state an order enters tracking with.
func InitialStatus(m Mode) Status {
	switch m {
	case ModeTrigger:
		return StatusWaitingTrigger
	case ModeScheduled:
		return StatusScheduled
	}
	return StatusPending
}

// ProtectiveChild builds the exit order that watches an executed entry's
// stop-loss and take-profit. It keeps the entry's side so target conditions
// and the closing side derive the same way as for the entry.
func (f *Factory) ProtectiveChild(entry Order) (Order, bool) {
	if entry.Purpose == PurposeExit || (entry.StopLoss == nil && entry.TakeProfit == nil) {
		return Order{}, false
	}
	now := f.Now()
	qty := entry.Quantity
	if entry.ExecutedQty > 0 {
		qty = entry.ExecutedQty
	}
	price := entry.Price
	if entry.ExecutedPrice > 0 {
		price = entry.ExecutedPrice
	}
	return Order{
		ID:            f.NewID(),
		ParentID:      entry.ID,
		Symbol:        entry.Symbol,
		Side:          entry.Side,
		Type:          TypeMarket,
		Quantity:      qty,
		Price:         price,
		Status:        StatusWaitingTrigger,
		Purpose:       PurposeExit,
		Timeframe:     entry.Timeframe,
		StopLoss:      clonePtr(entry.StopLoss),
		TakeProfit:    clonePtr(entry.TakeProfit),
		ExecutionMode: ModeTrigger,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, true
}
