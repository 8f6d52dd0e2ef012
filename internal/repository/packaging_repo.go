// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ferroline/factory-ops/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PackagingRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPackagingRepository(pool *pgxpool.Pool, logger *slog.Logger) *PackagingRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PackagingRepository{
		pool:   pool,
		logger: logger,
	}
}

func validatePackagingParams(params domain.PackagingUnitParams) error {
	if !params.Kind.Valid() {
		return domain.ErrInvalidPackaging
	}
	if strings.TrimSpace(params.Name) == "" {
		return domain.ErrInvalidPackaging
	}
	if params.Kind == domain.PackagingPacket && !params.CapacityKg.IsPositive() {
		return domain.ErrInvalidPackaging
	}
	if params.TareKg.IsNegative() || params.UnitsPerBox < 0 {
		return domain.ErrInvalidPackaging
	}
	// units_per_box is a packet attribute (how many fit one box).
	if params.Kind == domain.PackagingBox && params.UnitsPerBox != 0 {
		return domain.ErrInvalidPackaging
	}
	return nil
}

func (r *PackagingRepository) CreatePackagingUnit(ctx context.Context, params domain.PackagingUnitParams) (domain.PackagingUnitRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return domain.PackagingUnitRecord{}, err
	}

	if err := validatePackagingParams(params); err != nil {
		return domain.PackagingUnitRecord{}, err
	}

	id := uuid.New()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO packaging_units (id, api_key_id, name, kind, capacity_kg, tare_kg, units_per_box, length_mm, width_mm, height_mm)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, name, kind, capacity_kg, tare_kg, units_per_box, length_mm, width_mm, height_mm, active, created_at, updated_at
	`,
		id,
		apiKeyID,
		strings.TrimSpace(params.Name),
		params.Kind,
		params.CapacityKg,
		params.TareKg,
		params.UnitsPerBox,
		params.LengthMM,
		params.WidthMM,
		params.HeightMM,
	)

	rec, err := scanPackagingUnit(row)
	if err != nil {
		r.logger.Error("create packaging unit failed", "error", err)
		return domain.PackagingUnitRecord{}, err
	}

	r.logger.Info("packaging unit created", "packaging_unit_id", rec.ID, "kind", rec.Kind)
	return rec, nil
}

func (r *PackagingRepository) GetPackagingUnit(ctx context.Context, id uuid.UUID) (domain.PackagingUnitRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return domain.PackagingUnitRecord{}, err
	}

	row := r.pool.QueryRow(ctx, `
		SELECT id, name, kind, capacity_kg, tare_kg, units_per_box, length_mm, width_mm, height_mm, active, created_at, updated_at
		FROM packaging_units
		WHERE id=$1 AND api_key_id=$2
	`, id, apiKeyID)

	rec, err := scanPackagingUnit(row)
	if err != nil {
		if err != pgx.ErrNoRows {
			r.logger.Error("get packaging unit failed", "packaging_unit_id", id, "error", err)
		}
		return domain.PackagingUnitRecord{}, err
	}

	return rec, nil
}

// ListPackagingUnits returns active units unless includeInactive is set.
func (r *PackagingRepository) ListPackagingUnits(ctx context.Context, kind domain.PackagingKind, includeInactive bool) ([]domain.PackagingUnitRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, kind, capacity_kg, tare_kg, units_per_box, length_mm, width_mm, height_mm, active, created_at, updated_at
		FROM packaging_units
		WHERE api_key_id=$1
		  AND ($2 = '' OR kind = $2)
		  AND ($3 OR active)
		ORDER BY name ASC
	`, apiKeyID, string(kind), includeInactive)
	if err != nil {
		r.logger.Error("list packaging units query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PackagingUnitRecord, 0, 8)
	for rows.Next() {
		rec, err := scanPackagingUnit(rows)
		if err != nil {
			r.logger.Error("scan packaging unit row failed", "error", err)
			return nil, err
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("packaging unit rows iteration failed", "error", err)
		return nil, err
	}

	return out, nil
}

func (r *PackagingRepository) UpdatePackagingUnit(ctx context.Context, id uuid.UUID, params domain.PackagingUnitParams) (domain.PackagingUnitRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return domain.PackagingUnitRecord{}, err
	}

	if err := validatePackagingParams(params); err != nil {
		return domain.PackagingUnitRecord{}, err
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE packaging_units
		SET name=$3, kind=$4, capacity_kg=$5, tare_kg=$6, units_per_box=$7, length_mm=$8, width_mm=$9, height_mm=$10, updated_at=NOW()
		WHERE id=$1 AND api_key_id=$2 AND active
		RETURNING id, name, kind, capacity_kg, tare_kg, units_per_box, length_mm, width_mm, height_mm, active, created_at, updated_at
	`,
		id,
		apiKeyID,
		strings.TrimSpace(params.Name),
		params.Kind,
		params.CapacityKg,
		params.TareKg,
		params.UnitsPerBox,
		params.LengthMM,
		params.WidthMM,
		params.HeightMM,
	)

	rec, err := scanPackagingUnit(row)
	if err != nil {
		if err != pgx.ErrNoRows {
			r.logger.Error("update packaging unit failed", "packaging_unit_id", id, "error", err)
		}
		return domain.PackagingUnitRecord{}, err
	}

	r.logger.Info("packaging unit updated", "packaging_unit_id", id)
	return rec, nil
}

func (r *PackagingRepository) DeactivatePackagingUnit(ctx context.Context, id uuid.UUID) error {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return err
	}

	cmd, err := r.pool.Exec(ctx, `
		UPDATE packaging_units
		SET active=FALSE, updated_at=NOW()
		WHERE id=$1 AND api_key_id=$2 AND active
	`, id, apiKeyID)
	if err != nil {
		r.logger.Error("deactivate packaging unit failed", "packaging_unit_id", id, "error", err)
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	r.logger.Info("packaging unit deactivated", "packaging_unit_id", id)
	return nil
}

func scanPackagingUnit(row pgx.Row) (domain.PackagingUnitRecord, error) {
	var rec domain.PackagingUnitRecord
	err := row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.Kind,
		&rec.CapacityKg,
		&rec.TareKg,
		&rec.UnitsPerBox,
		&rec.LengthMM,
		&rec.WidthMM,
		&rec.HeightMM,
		&rec.Active,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}
