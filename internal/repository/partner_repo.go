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

type PartnerRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPartnerRepository(pool *pgxpool.Pool, logger *slog.Logger) *PartnerRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PartnerRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *PartnerRepository) CreatePartner(ctx context.Context, params domain.PartnerParams) (domain.PartnerRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return domain.PartnerRecord{}, err
	}

	if !params.Kind.Valid() {
		return domain.PartnerRecord{}, domain.ErrInvalidPartnerKind
	}
	if strings.TrimSpace(params.Name) == "" {
		return domain.PartnerRecord{}, domain.ErrPartnerNameRequired
	}

	id := uuid.New()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO partners (id, api_key_id, kind, name, contact_name, phone, email, address, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, kind, name, contact_name, phone, email, address, notes, created_at, updated_at, archived_at
	`,
		id,
		apiKeyID,
		params.Kind,
		strings.TrimSpace(params.Name),
		params.ContactName,
		params.Phone,
		params.Email,
		params.Address,
		params.Notes,
	)

	rec, err := scanPartner(row)
	if err != nil {
		r.logger.Error("create partner failed", "error", err)
		return domain.PartnerRecord{}, err
	}

	r.logger.Info("partner created", "partner_id", rec.ID, "kind", rec.Kind)
	return rec, nil
}

func (r *PartnerRepository) GetPartner(ctx context.Context, id uuid.UUID) (domain.PartnerRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return domain.PartnerRecord{}, err
	}

	row := r.pool.QueryRow(ctx, `
		SELECT id, kind, name, contact_name, phone, email, address, notes, created_at, updated_at, archived_at
		FROM partners
		WHERE id=$1 AND api_key_id=$2
	`, id, apiKeyID)

	rec, err := scanPartner(row)
	if err != nil {
		if err != pgx.ErrNoRows {
			r.logger.Error("get partner failed", "partner_id", id, "error", err)
		}
		return domain.PartnerRecord{}, err
	}

	return rec, nil
}

// ListPartners filters by kind when kind is non-empty. Archived partners are
// excluded unless includeArchived is set.
func (r *PartnerRepository) ListPartners(ctx context.Context, kind domain.PartnerKind, includeArchived bool) ([]domain.PartnerRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, kind, name, contact_name, phone, email, address, notes, created_at, updated_at, archived_at
		FROM partners
		WHERE api_key_id=$1
		  AND ($2 = '' OR kind = $2)
		  AND ($3 OR archived_at IS NULL)
		ORDER BY name ASC
	`, apiKeyID, string(kind), includeArchived)
	if err != nil {
		r.logger.Error("list partners query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PartnerRecord, 0, 16)
	for rows.Next() {
		rec, err := scanPartner(rows)
		if err != nil {
			r.logger.Error("scan partner row failed", "error", err)
			return nil, err
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("partner rows iteration failed", "error", err)
		return nil, err
	}

	return out, nil
}

func (r *PartnerRepository) UpdatePartner(ctx context.Context, id uuid.UUID, params domain.PartnerParams) (domain.PartnerRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return domain.PartnerRecord{}, err
	}

	if !params.Kind.Valid() {
		return domain.PartnerRecord{}, domain.ErrInvalidPartnerKind
	}
	if strings.TrimSpace(params.Name) == "" {
		return domain.PartnerRecord{}, domain.ErrPartnerNameRequired
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE partners
		SET kind=$3, name=$4, contact_name=$5, phone=$6, email=$7, address=$8, notes=$9, updated_at=NOW()
		WHERE id=$1 AND api_key_id=$2 AND archived_at IS NULL
		RETURNING id, kind, name, contact_name, phone, email, address, notes, created_at, updated_at, archived_at
	`,
		id,
		apiKeyID,
		params.Kind,
		strings.TrimSpace(params.Name),
		params.ContactName,
		params.Phone,
		params.Email,
		params.Address,
		params.Notes,
	)

	rec, err := scanPartner(row)
	if err != nil {
		if err != pgx.ErrNoRows {
			r.logger.Error("update partner failed", "partner_id", id, "error", err)
		}
		return domain.PartnerRecord{}, err
	}

	r.logger.Info("partner updated", "partner_id", id)
	return rec, nil
}

func (r *PartnerRepository) ArchivePartner(ctx context.Context, id uuid.UUID) error {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return err
	}

	cmd, err := r.pool.Exec(ctx, `
		UPDATE partners
		SET archived_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND api_key_id=$2 AND archived_at IS NULL
	`, id, apiKeyID)
	if err != nil {
		r.logger.Error("archive partner failed", "partner_id", id, "error", err)
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	r.logger.Info("partner archived", "partner_id", id)
	return nil
}

func scanPartner(row pgx.Row) (domain.PartnerRecord, error) {
	var rec domain.PartnerRecord
	err := row.Scan(
		&rec.ID,
		&rec.Kind,
		&rec.Name,
		&rec.ContactName,
		&rec.Phone,
		&rec.Email,
		&rec.Address,
		&rec.Notes,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.ArchivedAt,
	)
	return rec, err
}
