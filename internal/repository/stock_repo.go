// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"log/slog"

	"github.com/ferroline/factory-ops/internal/domain"
	"github.com/ferroline/factory-ops/internal/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// onHandExpr derives on-hand stock from the movement ledger: receipts count
// positive, issues negative, adjustments carry their own sign.
const onHandExpr = `
	COALESCE(SUM(CASE
		WHEN m.kind = 'ISSUE' THEN -m.quantity
		ELSE m.quantity
	END), 0)`

type StockRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewStockRepository(pool *pgxpool.Pool, logger *slog.Logger) *StockRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &StockRepository{
		pool:   pool,
		logger: logger,
	}
}

// RecordMovement books one stock movement. The item row is locked for the
// duration of the transaction so the negative-stock check cannot race a
// concurrent issue.
func (r *StockRepository) RecordMovement(ctx context.Context, params domain.StockMovementParams) (domain.StockMovementRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return domain.StockMovementRecord{}, err
	}

	if !params.Kind.Valid() {
		return domain.StockMovementRecord{}, domain.ErrInvalidMovementKind
	}
	if params.Kind != domain.MovementAdjustment && params.Quantity.Sign() <= 0 {
		return domain.StockMovementRecord{}, domain.ErrInvalidQuantity
	}
	if params.Kind == domain.MovementAdjustment && params.Quantity.Sign() == 0 {
		return domain.StockMovementRecord{}, domain.ErrInvalidQuantity
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return domain.StockMovementRecord{}, err
	}
	defer tx.Rollback(ctx)

	var itemExists int
	if err := tx.QueryRow(ctx, `
		SELECT 1 FROM items
		WHERE id=$1 AND api_key_id=$2 AND archived_at IS NULL
		FOR UPDATE
	`, params.ItemID, apiKeyID).Scan(&itemExists); err != nil {
		if err != pgx.ErrNoRows {
			r.logger.Error("lock item failed", "item_id", params.ItemID, "error", err)
		}
		return domain.StockMovementRecord{}, err
	}

	if params.Kind != domain.MovementReceipt {
		var onHand decimal.Decimal
		if err := tx.QueryRow(ctx, `
			SELECT `+onHandExpr+`
			FROM stock_movements m
			WHERE m.item_id=$1
		`, params.ItemID).Scan(&onHand); err != nil {
			r.logger.Error("compute on-hand failed", "item_id", params.ItemID, "error", err)
			return domain.StockMovementRecord{}, err
		}

		delta := params.Quantity
		if params.Kind == domain.MovementIssue {
			delta = params.Quantity.Neg()
		}
		if onHand.Add(delta).Sign() < 0 {
			return domain.StockMovementRecord{}, domain.ErrNegativeStock
		}
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO stock_movements (id, api_key_id, item_id, kind, quantity, partner_id, lot_run_id, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, item_id, kind, quantity, partner_id, lot_run_id, reference, created_at
	`,
		uuid.New(),
		apiKeyID,
		params.ItemID,
		params.Kind,
		params.Quantity,
		params.PartnerID,
		params.LotRunID,
		params.Reference,
	)

	rec, err := scanMovement(row)
	if err != nil {
		r.logger.Error("insert movement failed", "item_id", params.ItemID, "error", err)
		return domain.StockMovementRecord{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit movement failed", "item_id", params.ItemID, "error", err)
		return domain.StockMovementRecord{}, err
	}

	metrics.IncStockMovement(string(params.Kind))
	r.logger.Info("stock movement booked",
		"item_id", params.ItemID,
		"kind", params.Kind,
		"quantity", params.Quantity,
	)

	return rec, nil
}

func (r *StockRepository) GetStockSummary(ctx context.Context, itemID uuid.UUID) (domain.StockSummary, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return domain.StockSummary{}, err
	}

	var s domain.StockSummary
	err = r.pool.QueryRow(ctx, `
		SELECT i.id, i.sku, i.name, i.unit, i.min_stock,
		       `+onHandExpr+`,
		       COALESCE(SUM(CASE WHEN m.kind = 'RECEIPT' THEN m.quantity ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN m.kind = 'ISSUE' THEN m.quantity ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN m.kind = 'ADJUSTMENT' THEN m.quantity ELSE 0 END), 0)
		FROM items i
		LEFT JOIN stock_movements m ON m.item_id = i.id
		WHERE i.id=$1 AND i.api_key_id=$2
		GROUP BY i.id, i.sku, i.name, i.unit, i.min_stock
	`, itemID, apiKeyID).Scan(
		&s.ItemID,
		&s.SKU,
		&s.Name,
		&s.Unit,
		&s.MinStock,
		&s.OnHand,
		&s.Received,
		&s.Issued,
		&s.Adjusted,
	)
	if err != nil {
		if err != pgx.ErrNoRows {
			r.logger.Error("stock summary failed", "item_id", itemID, "error", err)
		}
		return domain.StockSummary{}, err
	}

	return s, nil
}

func (r *StockRepository) ListMovements(ctx context.Context, itemID uuid.UUID, limit int) ([]domain.StockMovementRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, item_id, kind, quantity, partner_id, lot_run_id, reference, created_at
		FROM stock_movements
		WHERE item_id=$1 AND api_key_id=$2
		ORDER BY created_at DESC
		LIMIT $3
	`, itemID, apiKeyID, limit)
	if err != nil {
		r.logger.Error("list movements query failed", "item_id", itemID, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StockMovementRecord, 0, limit)
	for rows.Next() {
		rec, err := scanMovement(rows)
		if err != nil {
			r.logger.Error("scan movement row failed", "item_id", itemID, "error", err)
			return nil, err
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("movement rows iteration failed", "item_id", itemID, "error", err)
		return nil, err
	}

	return out, nil
}

// ListLowStock returns active items whose derived on-hand is below min_stock.
func (r *StockRepository) ListLowStock(ctx context.Context) ([]domain.StockSummary, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT i.id, i.sku, i.name, i.unit, i.min_stock,
		       `+onHandExpr+`,
		       COALESCE(SUM(CASE WHEN m.kind = 'RECEIPT' THEN m.quantity ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN m.kind = 'ISSUE' THEN m.quantity ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN m.kind = 'ADJUSTMENT' THEN m.quantity ELSE 0 END), 0)
		FROM items i
		LEFT JOIN stock_movements m ON m.item_id = i.id
		WHERE i.api_key_id=$1 AND i.archived_at IS NULL
		GROUP BY i.id, i.sku, i.name, i.unit, i.min_stock
		HAVING `+onHandExpr+` < i.min_stock
		ORDER BY i.sku ASC
	`, apiKeyID)
	if err != nil {
		r.logger.Error("low stock query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StockSummary, 0, 8)
	for rows.Next() {
		var s domain.StockSummary
		if err := rows.Scan(
			&s.ItemID,
			&s.SKU,
			&s.Name,
			&s.Unit,
			&s.MinStock,
			&s.OnHand,
			&s.Received,
			&s.Issued,
			&s.Adjusted,
		); err != nil {
			r.logger.Error("scan low stock row failed", "error", err)
			return nil, err
		}
		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("low stock rows iteration failed", "error", err)
		return nil, err
	}

	return out, nil
}

func scanMovement(row pgx.Row) (domain.StockMovementRecord, error) {
	var rec domain.StockMovementRecord
	err := row.Scan(
		&rec.ID,
		&rec.ItemID,
		&rec.Kind,
		&rec.Quantity,
		&rec.PartnerID,
		&rec.LotRunID,
		&rec.Reference,
		&rec.CreatedAt,
	)
	return rec, err
}
