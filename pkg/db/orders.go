package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("record not found")

const orderColumns = `id, parent_id, symbol, side, type, quantity, price, status, purpose, timeframe,
	execution_mode, trigger_price, trigger_condition, stop_loss, take_profit, scheduled_at,
	exchange_order_id, executed_price, executed_qty, error_message,
	created_at, updated_at, executed_at, error_at`

// GetAllOrders returns every stored order, newest first.
func (d *Database) GetAllOrders(ctx context.Context) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetOrder loads one order by id.
func (d *Database) GetOrder(ctx context.Context, id string) (Order, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

// AddOrder inserts an order and prunes the oldest rows beyond OrderRetention.
func (d *Database) AddOrder(ctx context.Context, o Order) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, o.ParentID, o.Symbol, o.Side, o.Type, o.Quantity, o.Price, o.Status, o.Purpose, o.Timeframe,
		o.ExecutionMode, nullFloat(o.TriggerPrice), o.TriggerCondition, nullFloat(o.StopLoss), nullFloat(o.TakeProfit),
		nullMillis(o.ScheduledAt), o.ExchangeOrderID, o.ExecutedPrice, o.ExecutedQty, o.ErrorMessage,
		o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli(), nullMillis(o.ExecutedAt), nullMillis(o.ErrorAt),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	if d.OrderRetention > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM orders WHERE seq NOT IN (
				SELECT seq FROM orders ORDER BY seq DESC LIMIT ?
			)
		`, d.OrderRetention)
		if err != nil {
			return fmt.Errorf("prune orders: %w", err)
		}
	}
	return tx.Commit()
}

// UpdateOrder applies the non-nil fields of p. It returns ErrNotFound when
// no row has the id.
func (d *Database) UpdateOrder(ctx context.Context, id string, p OrderPatch) error {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.ExchangeOrderID != nil {
		add("exchange_order_id", *p.ExchangeOrderID)
	}
	if p.ExecutedPrice != nil {
		add("executed_price", *p.ExecutedPrice)
	}
	if p.ExecutedQty != nil {
		add("executed_qty", *p.ExecutedQty)
	}
	if p.ErrorMessage != nil {
		add("error_message", *p.ErrorMessage)
	}
	if p.ExecutedAt != nil {
		add("executed_at", p.ExecutedAt.UnixMilli())
	}
	if p.ErrorAt != nil {
		add("error_at", p.ErrorAt.UnixMilli())
	}
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	add("updated_at", updated.UnixMilli())
	args = append(args, id)

	res, err := d.DB.ExecContext(ctx, `UPDATE orders SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (Order, error) {
	var (
		o                              Order
		trigger, stopLoss, takeProfit  sql.NullFloat64
		scheduled, executedAt, errorAt sql.NullInt64
		createdAt, updatedAt           int64
		parentID, purpose, timeframe   sql.NullString
	)
	err := s.Scan(
		&o.ID, &parentID, &o.Symbol, &o.Side, &o.Type, &o.Quantity, &o.Price, &o.Status, &purpose, &timeframe,
		&o.ExecutionMode, &trigger, &o.TriggerCondition, &stopLoss, &takeProfit, &scheduled,
		&o.ExchangeOrderID, &o.ExecutedPrice, &o.ExecutedQty, &o.ErrorMessage,
		&createdAt, &updatedAt, &executedAt, &errorAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, err
		}
		return Order{}, fmt.Errorf("scan order: %w", err)
	}
	o.ParentID = parentID.String
	o.Purpose = purpose.String
	o.Timeframe = timeframe.String
	o.TriggerPrice = floatPtr(trigger)
	o.StopLoss = floatPtr(stopLoss)
	o.TakeProfit = floatPtr(takeProfit)
	o.ScheduledAt = timePtr(scheduled)
	o.CreatedAt = time.UnixMilli(createdAt).UTC()
	o.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	o.ExecutedAt = timePtr(executedAt)
	o.ErrorAt = timePtr(errorAt)
	return o, nil
}
