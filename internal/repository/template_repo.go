// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/ferroline/factory-ops/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TemplateRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewTemplateRepository(pool *pgxpool.Pool, logger *slog.Logger) *TemplateRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &TemplateRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *TemplateRepository) CreateTemplate(ctx context.Context, params domain.CreateTemplateParams) (domain.ProcessTemplateRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return domain.ProcessTemplateRecord{}, err
	}

	name := strings.TrimSpace(params.Name)
	if name == "" {
		return domain.ProcessTemplateRecord{}, domain.ErrTemplateNameRequired
	}
	if err := domain.ValidateTemplateSteps(params.Steps); err != nil {
		return domain.ProcessTemplateRecord{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return domain.ProcessTemplateRecord{}, err
	}
	defer tx.Rollback(ctx)

	templateID := uuid.New()
	rec := domain.ProcessTemplateRecord{
		ID:          templateID,
		Name:        name,
		Description: params.Description,
		Active:      true,
	}

	if err := tx.QueryRow(ctx, `
		INSERT INTO process_templates (id, api_key_id, name, description)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, templateID, apiKeyID, name, params.Description).Scan(&rec.CreatedAt); err != nil {
		r.logger.Error("insert template failed", "name", name, "error", err)
		return domain.ProcessTemplateRecord{}, err
	}

	steps := make([]domain.TemplateStepParams, len(params.Steps))
	copy(steps, params.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Position < steps[j].Position })

	for _, s := range steps {
		stepID := uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO process_template_steps (id, template_id, position, name, requires_quantity, expected_minutes)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, stepID, templateID, s.Position, s.Name, s.RequiresQuantity, s.ExpectedMinutes); err != nil {
			r.logger.Error("insert template step failed",
				"template_id", templateID,
				"position", s.Position,
				"error", err,
			)
			return domain.ProcessTemplateRecord{}, err
		}

		rec.Steps = append(rec.Steps, domain.TemplateStepRecord{
			ID:               stepID,
			Position:         s.Position,
			Name:             s.Name,
			RequiresQuantity: s.RequiresQuantity,
			ExpectedMinutes:  s.ExpectedMinutes,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit template failed", "template_id", templateID, "error", err)
		return domain.ProcessTemplateRecord{}, err
	}

	r.logger.Info("process template created",
		"template_id", templateID,
		"name", name,
		"steps", len(rec.Steps),
	)

	return rec, nil
}

func (r *TemplateRepository) GetTemplate(ctx context.Context, id uuid.UUID) (domain.ProcessTemplateRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return domain.ProcessTemplateRecord{}, err
	}

	var rec domain.ProcessTemplateRecord
	if err := r.pool.QueryRow(ctx, `
		SELECT id, name, description, active, created_at
		FROM process_templates
		WHERE id=$1 AND api_key_id=$2
	`, id, apiKeyID).Scan(&rec.ID, &rec.Name, &rec.Description, &rec.Active, &rec.CreatedAt); err != nil {
		if err != pgx.ErrNoRows {
			r.logger.Error("get template failed", "template_id", id, "error", err)
		}
		return domain.ProcessTemplateRecord{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, position, name, requires_quantity, expected_minutes
		FROM process_template_steps
		WHERE template_id=$1
		ORDER BY position ASC
	`, id)
	if err != nil {
		r.logger.Error("list template steps failed", "template_id", id, "error", err)
		return domain.ProcessTemplateRecord{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var s domain.TemplateStepRecord
		if err := rows.Scan(&s.ID, &s.Position, &s.Name, &s.RequiresQuantity, &s.ExpectedMinutes); err != nil {
			r.logger.Error("scan template step failed", "template_id", id, "error", err)
			return domain.ProcessTemplateRecord{}, err
		}
		rec.Steps = append(rec.Steps, s)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("template step rows iteration failed", "template_id", id, "error", err)
		return domain.ProcessTemplateRecord{}, err
	}

	return rec, nil
}

func (r *TemplateRepository) ListTemplates(ctx context.Context, includeInactive bool) ([]domain.ProcessTemplateRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, active, created_at
		FROM process_templates
		WHERE api_key_id=$1
		  AND ($2 OR active)
		ORDER BY name ASC
	`, apiKeyID, includeInactive)
	if err != nil {
		r.logger.Error("list templates query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ProcessTemplateRecord, 0, 8)
	for rows.Next() {
		var rec domain.ProcessTemplateRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Description, &rec.Active, &rec.CreatedAt); err != nil {
			r.logger.Error("scan template row failed", "error", err)
			return nil, err
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("template rows iteration failed", "error", err)
		return nil, err
	}

	return out, nil
}

// DeactivateTemplate retires a template from new lot runs. Existing lot runs
// keep their materialized steps, so history is unaffected.
func (r *TemplateRepository) DeactivateTemplate(ctx context.Context, id uuid.UUID) error {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return err
	}

	cmd, err := r.pool.Exec(ctx, `
		UPDATE process_templates
		SET active=FALSE
		WHERE id=$1 AND api_key_id=$2 AND active
	`, id, apiKeyID)
	if err != nil {
		r.logger.Error("deactivate template failed", "template_id", id, "error", err)
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	r.logger.Info("process template deactivated", "template_id", id)
	return nil
}
