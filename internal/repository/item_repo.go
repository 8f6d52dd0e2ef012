// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/ferroline/factory-ops/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ItemRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewItemRepository(pool *pgxpool.Pool, logger *slog.Logger) *ItemRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &ItemRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *ItemRepository) CreateItem(ctx context.Context, params domain.ItemParams) (domain.ItemRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return domain.ItemRecord{}, err
	}

	if err := validateItemParams(params); err != nil {
		return domain.ItemRecord{}, err
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO items (id, api_key_id, sku, name, unit, min_stock, default_supplier_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, sku, name, unit, min_stock, default_supplier_id, created_at, updated_at, archived_at
	`,
		uuid.New(),
		apiKeyID,
		strings.TrimSpace(params.SKU),
		strings.TrimSpace(params.Name),
		params.Unit,
		params.MinStock,
		params.DefaultSupplierID,
	)

	rec, err := scanItem(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ItemRecord{}, domain.ErrDuplicateSKU
		}
		r.logger.Error("create item failed", "sku", params.SKU, "error", err)
		return domain.ItemRecord{}, err
	}

	r.logger.Info("item created", "item_id", rec.ID, "sku", rec.SKU)
	return rec, nil
}

func (r *ItemRepository) GetItem(ctx context.Context, id uuid.UUID) (domain.ItemRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return domain.ItemRecord{}, err
	}

	row := r.pool.QueryRow(ctx, `
		SELECT id, sku, name, unit, min_stock, default_supplier_id, created_at, updated_at, archived_at
		FROM items
		WHERE id=$1 AND api_key_id=$2
	`, id, apiKeyID)

	rec, err := scanItem(row)
	if err != nil {
		if err != pgx.ErrNoRows {
			r.logger.Error("get item failed", "item_id", id, "error", err)
		}
		return domain.ItemRecord{}, err
	}

	return rec, nil
}

func (r *ItemRepository) ListItems(ctx context.Context, includeArchived bool) ([]domain.ItemRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, sku, name, unit, min_stock, default_supplier_id, created_at, updated_at, archived_at
		FROM items
		WHERE api_key_id=$1
		  AND ($2 OR archived_at IS NULL)
		ORDER BY sku ASC
	`, apiKeyID, includeArchived)
	if err != nil {
		r.logger.Error("list items query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ItemRecord, 0, 32)
	for rows.Next() {
		rec, err := scanItem(rows)
		if err != nil {
			r.logger.Error("scan item row failed", "error", err)
			return nil, err
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("item rows iteration failed", "error", err)
		return nil, err
	}

	return out, nil
}

func (r *ItemRepository) UpdateItem(ctx context.Context, id uuid.UUID, params domain.ItemParams) (domain.ItemRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return domain.ItemRecord{}, err
	}

	if err := validateItemParams(params); err != nil {
		return domain.ItemRecord{}, err
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE items
		SET sku=$3, name=$4, unit=$5, min_stock=$6, default_supplier_id=$7, updated_at=NOW()
		WHERE id=$1 AND api_key_id=$2 AND archived_at IS NULL
		RETURNING id, sku, name, unit, min_stock, default_supplier_id, created_at, updated_at, archived_at
	`,
		id,
		apiKeyID,
		strings.TrimSpace(params.SKU),
		strings.TrimSpace(params.Name),
		params.Unit,
		params.MinStock,
		params.DefaultSupplierID,
	)

	rec, err := scanItem(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ItemRecord{}, domain.ErrDuplicateSKU
		}
		if err != pgx.ErrNoRows {
			r.logger.Error("update item failed", "item_id", id, "error", err)
		}
		return domain.ItemRecord{}, err
	}

	r.logger.Info("item updated", "item_id", id)
	return rec, nil
}

func (r *ItemRepository) ArchiveItem(ctx context.Context, id uuid.UUID) error {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return err
	}

	cmd, err := r.pool.Exec(ctx, `
		UPDATE items
		SET archived_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND api_key_id=$2 AND archived_at IS NULL
	`, id, apiKeyID)
	if err != nil {
		r.logger.Error("archive item failed", "item_id", id, "error", err)
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	r.logger.Info("item archived", "item_id", id)
	return nil
}

func validateItemParams(params domain.ItemParams) error {
	if strings.TrimSpace(params.SKU) == "" || strings.TrimSpace(params.Name) == "" {
		return domain.ErrItemFieldsRequired
	}
	if !params.Unit.Valid() {
		return domain.ErrInvalidItemUnit
	}
	if params.MinStock.Sign() < 0 {
		return domain.ErrInvalidQuantity
	}
	return nil
}

func scanItem(row pgx.Row) (domain.ItemRecord, error) {
	var rec domain.ItemRecord
	err := row.Scan(
		&rec.ID,
		&rec.SKU,
		&rec.Name,
		&rec.Unit,
		&rec.MinStock,
		&rec.DefaultSupplierID,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.ArchivedAt,
	)
	return rec, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
