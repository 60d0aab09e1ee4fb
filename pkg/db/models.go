package db

import (
	"database/sql"
	"time"
)

// Order is an order row. Optional prices and times are nil when unset.
type Order struct {
	ID               string
	ParentID         string
	Symbol           string
	Side             string
	Type             string
	Quantity         float64
	Price            float64
	Status           string
	Purpose          string
	Timeframe        string
	ExecutionMode    string
	TriggerPrice     *float64
	TriggerCondition string
	StopLoss         *float64
	TakeProfit       *float64
	ScheduledAt      *time.Time
	ExchangeOrderID  string
	ExecutedPrice    float64
	ExecutedQty      float64
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ExecutedAt       *time.Time
	ErrorAt          *time.Time
}

// OrderPatch lists the columns UpdateOrder may change. Nil fields are left alone.
type OrderPatch struct {
	Status          *string
	ExchangeOrderID *string
	ExecutedPrice   *float64
	ExecutedQty     *float64
	ErrorMessage    *string
	ExecutedAt      *time.Time
	ErrorAt         *time.Time
	UpdatedAt       time.Time
}

// PricePoint is one recorded tick.
type PricePoint struct {
	Symbol     string
	Price      float64
	ObservedAt time.Time
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}
