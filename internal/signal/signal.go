// Package signal decides whether an inbound DI/ADX signal is strong enough to trade.
package signal

import (
	"strings"
	"time"
)

// Action is the trade direction a valid signal asks for.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

const (
	ReasonADXBelowMinimum = "ADX below minimum"
	ReasonNoClearSignal   = "No clear signal"
)

// Signal is an inbound indicator reading with optional execution hints.
type Signal struct {
	Symbol           string     `json:"symbol" validate:"required,alphanum,min=5,max=20"`
	PlusDI           float64    `json:"plusDI" validate:"gte=0"`
	MinusDI          float64    `json:"minusDI" validate:"gte=0"`
	ADX              float64    `json:"adx" validate:"gte=0"`
	Timeframe        string     `json:"timeframe" validate:"omitempty,max=8"`
	TriggerPrice     *float64   `json:"triggerPrice,omitempty" validate:"omitempty,gt=0"`
	TriggerCondition string     `json:"triggerCondition,omitempty" validate:"omitempty,oneof=above below equal"`
	StopLoss         *float64   `json:"stopLoss,omitempty" validate:"omitempty,gt=0"`
	TakeProfit       *float64   `json:"takeProfit,omitempty" validate:"omitempty,gt=0"`
	ExecutionMode    string     `json:"executionMode,omitempty" validate:"omitempty,oneof=immediate trigger scheduled"`
	OrderType        string     `json:"orderType,omitempty" validate:"omitempty,oneof=MARKET LIMIT"`
	ScheduledTime    *time.Time `json:"scheduledTime,omitempty" validate:"required_if=ExecutionMode scheduled"`
}

// Normalize trims hints and fixes their case.
func (s *Signal) Normalize() {
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	s.TriggerCondition = strings.ToLower(strings.TrimSpace(s.TriggerCondition))
	s.ExecutionMode = strings.ToLower(strings.TrimSpace(s.ExecutionMode))
	s.OrderType = strings.ToUpper(strings.TrimSpace(s.OrderType))
}

// Thresholds configures Validate.
type Thresholds struct {
	PlusDIThreshold  float64 `yaml:"plusDIThreshold" json:"plusDIThreshold"`
	MinusDIThreshold float64 `yaml:"minusDIThreshold" json:"minusDIThreshold"`
	ADXMinimum       float64 `yaml:"adxMinimum" json:"adxMinimum"`
}

// Result is the outcome of Validate.
type Result struct {
	Valid  bool   `json:"valid"`
	Action Action `json:"action,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Validate classifies a signal. The SELL branch compares minusDI against
// PlusDIThreshold and plusDI against MinusDIThreshold, mirroring the BUY
// branch with the indicators swapped but the thresholds kept in place.
func Validate(s Signal, th Thresholds) Result {
	if s.ADX < th.ADXMinimum {
		return Result{Reason: ReasonADXBelowMinimum}
	}
	if s.PlusDI > th.PlusDIThreshold && s.MinusDI < th.MinusDIThreshold {
		return Result{Valid: true, Action: ActionBuy}
	}
	if s.MinusDI > th.PlusDIThreshold && s.PlusDI < th.MinusDIThreshold {
		return Result{Valid: true, Action: ActionSell}
	}
	return Result{Reason: ReasonNoClearSignal}
}
