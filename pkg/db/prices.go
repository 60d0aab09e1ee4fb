package db

import (
	"context"
	"fmt"
	"time"
)

// AddPrices writes a batch of ticks in one transaction.
func (d *Database) AddPrices(ctx context.Context, points []PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO price_history (symbol, price, observed_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare price insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, p.Symbol, p.Price, p.ObservedAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert price %s: %w", p.Symbol, err)
		}
	}
	return tx.Commit()
}

// RecentPrices returns up to limit ticks for symbol, newest first.
func (d *Database) RecentPrices(ctx context.Context, symbol string, limit int) ([]PricePoint, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, price, observed_at FROM price_history
		WHERE symbol = ? ORDER BY seq DESC LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	var out []PricePoint
	for rows.Next() {
		var (
			p  PricePoint
			ms int64
		)
		if err := rows.Scan(&p.Symbol, &p.Price, &ms); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		p.ObservedAt = time.UnixMilli(ms).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// PrunePrices keeps the newest keep rows per symbol and returns how many were deleted.
func (d *Database) PrunePrices(ctx context.Context, keep int) (int64, error) {
	res, err := d.DB.ExecContext(ctx, `
		DELETE FROM price_history WHERE seq IN (
			SELECT seq FROM (
				SELECT seq, ROW_NUMBER() OVER (PARTITION BY symbol ORDER BY seq DESC) AS rn
				FROM price_history
			) WHERE rn > ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune prices: %w", err)
	}
	return res.RowsAffected()
}
