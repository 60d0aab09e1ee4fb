package order

import (
	"context"
	"time"

	"trigger-engine/pkg/db"
)

// Store is the durability sink for orders. It is written on every transition
// but never read back while the process runs.
type Store interface {
	GetAllOrders(ctx context.Context) ([]Order, error)
	AddOrder(ctx context.Context, o Order) error
	UpdateOrder(ctx context.Context, id string, p Patch) error
}

// Patch carries the fields a transition changes.
type Patch struct {
	Status          Status
	ExchangeOrderID string
	ExecutedPrice   *float64
	ExecutedQty     *float64
	ErrorMessage    string
	ExecutedAt      *time.Time
	ErrorAt         *time.Time
}

// apply copies the patch onto o.
func (p Patch) apply(o *Order) {
	if p.Status != "" {
		o.Status = p.Status
	}
	if p.ExchangeOrderID != "" {
		o.ExchangeOrderID = p.ExchangeOrderID
	}
	if p.ExecutedPrice != nil {
		o.ExecutedPrice = *p.ExecutedPrice
	}
	if p.ExecutedQty != nil {
		o.ExecutedQty = *p.ExecutedQty
	}
	if p.ErrorMessage != "" {
		o.ErrorMessage = p.ErrorMessage
	}
	if p.ExecutedAt != nil {
		o.ExecutedAt = clonePtr(p.ExecutedAt)
	}
	if p.ErrorAt != nil {
		o.ErrorAt = clonePtr(p.ErrorAt)
	}
}

// SQLStore adapts the sqlite database to Store.
type SQLStore struct {
	DB *db.Database
}

func (s *SQLStore) GetAllOrders(ctx context.Context) ([]Order, error) {
	rows, err := s.DB.GetAllOrders(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func (s *SQLStore) AddOrder(ctx context.Context, o Order) error {
	return s.DB.AddOrder(ctx, toRow(o))
}

func (s *SQLStore) UpdateOrder(ctx context.Context, id string, p Patch) error {
	row := db.OrderPatch{
		ExecutedPrice: p.ExecutedPrice,
		ExecutedQty:   p.ExecutedQty,
		ExecutedAt:    p.ExecutedAt,
		ErrorAt:       p.ErrorAt,
		UpdatedAt:     time.Now(),
	}
	if p.Status != "" {
		status := string(p.Status)
		row.Status = &status
	}
	if p.ExchangeOrderID != "" {
		row.ExchangeOrderID = &p.ExchangeOrderID
	}
	if p.ErrorMessage != "" {
		row.ErrorMessage = &p.ErrorMessage
	}
	return s.DB.UpdateOrder(ctx, id, row)
}

func toRow(o Order) db.Order {
	return db.Order{
		ID:               o.ID,
		ParentID:         o.ParentID,
		Symbol:           o.Symbol,
		Side:             string(o.Side),
		Type:             string(o.Type),
		Quantity:         o.Quantity,
		Price:            o.Price,
		Status:           string(o.Status),
		Purpose:          string(o.Purpose),
		Timeframe:        o.Timeframe,
		ExecutionMode:    string(o.ExecutionMode),
		TriggerPrice:     o.TriggerPrice,
		TriggerCondition: string(o.TriggerCondition),
		StopLoss:         o.StopLoss,
		TakeProfit:       o.TakeProfit,
		ScheduledAt:      o.ScheduledTime,
		ExchangeOrderID:  o.ExchangeOrderID,
		ExecutedPrice:    o.ExecutedPrice,
		ExecutedQty:      o.ExecutedQty,
		ErrorMessage:     o.ErrorMessage,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
		ExecutedAt:       o.ExecutedAt,
		ErrorAt:          o.ErrorAt,
	}
}

func fromRow(r db.Order) Order {
	purpose := Purpose(r.Purpose)
	if purpose == "" {
		purpose = PurposeEntry
	}
	return Order{
		ID:               r.ID,
		ParentID:         r.ParentID,
		Symbol:           r.Symbol,
		Side:             Side(r.Side),
		Type:             Type(r.Type),
		Quantity:         r.Quantity,
		Price:            r.Price,
		Status:           Status(r.Status),
		Purpose:          purpose,
		Timeframe:        r.Timeframe,
		TriggerPrice:     r.TriggerPrice,
		TriggerCondition: Condition(r.TriggerCondition),
		StopLoss:         r.StopLoss,
		TakeProfit:       r.TakeProfit,
		ExecutionMode:    Mode(r.ExecutionMode),
		ScheduledTime:    r.ScheduledAt,
		ExchangeOrderID:  r.ExchangeOrderID,
		ExecutedPrice:    r.ExecutedPrice,
		ExecutedQty:      r.ExecutedQty,
		ErrorMessage:     r.ErrorMessage,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		ExecutedAt:       r.ExecutedAt,
		ErrorAt:          r.ErrorAt,
	}
}
