// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/ferroline/factory-ops/internal/domain"
	"github.com/ferroline/factory-ops/internal/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type NonConformanceRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewNonConformanceRepository(pool *pgxpool.Pool, logger *slog.Logger) *NonConformanceRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &NonConformanceRepository{
		pool:   pool,
		logger: logger,
	}
}

// RaiseNC records a quality deviation against a step run. A CRITICAL NC
// fails the whole lot immediately unless the lot is already terminal.
func (r *NonConformanceRepository) RaiseNC(ctx context.Context, lotID uuid.UUID, params domain.RaiseNCParams) (domain.NonConformanceRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return domain.NonConformanceRecord{}, err
	}

	if !params.Severity.Valid() {
		return domain.NonConformanceRecord{}, domain.ErrInvalidNCSeverity
	}
	if strings.TrimSpace(params.Description) == "" {
		return domain.NonConformanceRecord{}, domain.ErrNCDescriptionRequired
	}
	if params.Quantity.Sign() < 0 {
		return domain.NonConformanceRecord{}, domain.ErrInvalidQuantity
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return domain.NonConformanceRecord{}, err
	}
	defer tx.Rollback(ctx)

	var lotStatus domain.LotStatus
	var webhookURL, lotCode string
	if err := tx.QueryRow(ctx, `
		SELECT status, webhook_url, lot_code
		FROM lot_runs
		WHERE id=$1 AND api_key_id=$2
		FOR UPDATE
	`, lotID, apiKeyID).Scan(&lotStatus, &webhookURL, &lotCode); err != nil {
		if err != pgx.ErrNoRows {
			r.logger.Error("read lot failed", "lot_run_id", lotID, "error", err)
		}
		return domain.NonConformanceRecord{}, err
	}

	var stepStatus domain.StepStatus
	if err := tx.QueryRow(ctx, `
		SELECT status FROM step_runs
		WHERE id=$1 AND lot_run_id=$2
	`, params.StepRunID, lotID).Scan(&stepStatus); err != nil {
		if err != pgx.ErrNoRows {
			r.logger.Error("read step failed", "step_run_id", params.StepRunID, "error", err)
		}
		return domain.NonConformanceRecord{}, err
	}
	if stepStatus != domain.StepInProgress && stepStatus != domain.StepCompleted {
		return domain.NonConformanceRecord{}, domain.ErrNCStepNotStarted
	}

	rec := domain.NonConformanceRecord{
		ID:          uuid.New(),
		LotRunID:    lotID,
		StepRunID:   params.StepRunID,
		Severity:    params.Severity,
		Description: params.Description,
		Quantity:    params.Quantity,
		Status:      domain.NCOpen,
	}

	if err := tx.QueryRow(ctx, `
		INSERT INTO non_conformances (id, lot_run_id, step_run_id, severity, description, quantity, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`,
		rec.ID,
		lotID,
		params.StepRunID,
		params.Severity,
		params.Description,
		params.Quantity,
		domain.NCOpen,
	).Scan(&rec.CreatedAt); err != nil {
		r.logger.Error("insert NC failed", "lot_run_id", lotID, "error", err)
		return domain.NonConformanceRecord{}, err
	}

	if err := r.appendEvent(ctx, tx, lotID, domain.EventNCRaised, map[string]any{
		"nc_id":       rec.ID,
		"step_run_id": params.StepRunID,
		"severity":    params.Severity,
		"quantity":    params.Quantity,
	}); err != nil {
		return domain.NonConformanceRecord{}, err
	}

	lotFailed := false
	if params.Severity == domain.NCCritical && !lotStatus.Terminal() {
		if _, err := tx.Exec(ctx, `
			UPDATE lot_runs
			SET status=$2, updated_at=NOW(), finished_at=NOW()
			WHERE id=$1
		`, lotID, domain.LotFailed); err != nil {
			r.logger.Error("fail lot on critical NC failed", "lot_run_id", lotID, "error", err)
			return domain.NonConformanceRecord{}, err
		}
		if err := r.appendEvent(ctx, tx, lotID, domain.EventLotFailed, map[string]any{
			"reason": "critical_non_conformance",
			"nc_id":  rec.ID,
		}); err != nil {
			return domain.NonConformanceRecord{}, err
		}
		lotFailed = true
	}

	if strings.TrimSpace(webhookURL) != "" {
		payload, err := json.Marshal(map[string]any{
			"lot_run_id": lotID,
			"lot_code":   lotCode,
			"nc_id":      rec.ID,
			"severity":   params.Severity,
			"lot_failed": lotFailed,
		})
		if err != nil {
			return domain.NonConformanceRecord{}, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO notifications (id, lot_run_id, event_type, payload, webhook_url)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.New(), lotID, domain.EventNCRaised, payload, webhookURL); err != nil {
			r.logger.Error("enqueue NC notification failed", "lot_run_id", lotID, "error", err)
			return domain.NonConformanceRecord{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit raise NC failed", "lot_run_id", lotID, "error", err)
		return domain.NonConformanceRecord{}, err
	}

	metrics.IncNonConformance(string(params.Severity))
	if lotFailed {
		metrics.IncLotStatus(string(domain.LotFailed))
	}
	r.logger.Info("non-conformance raised",
		"lot_run_id", lotID,
		"nc_id", rec.ID,
		"severity", params.Severity,
		"lot_failed", lotFailed,
	)

	return rec, nil
}

func (r *NonConformanceRepository) ResolveNC(ctx context.Context, ncID uuid.UUID, resolution string) error {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return err
	}

	if strings.TrimSpace(resolution) == "" {
		return domain.ErrNCResolutionRequired
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	var lotID uuid.UUID
	var status domain.NCStatus
	if err := tx.QueryRow(ctx, `
		SELECT n.lot_run_id, n.status
		FROM non_conformances n
		JOIN lot_runs l ON l.id = n.lot_run_id
		WHERE n.id=$1 AND l.api_key_id=$2
		FOR UPDATE OF n
	`, ncID, apiKeyID).Scan(&lotID, &status); err != nil {
		if err != pgx.ErrNoRows {
			r.logger.Error("read NC failed", "nc_id", ncID, "error", err)
		}
		return err
	}
	if status == domain.NCResolved {
		return domain.ErrNCAlreadyResolved
	}

	if _, err := tx.Exec(ctx, `
		UPDATE non_conformances
		SET status=$2, resolution=$3, resolved_at=NOW()
		WHERE id=$1
	`, ncID, domain.NCResolved, resolution); err != nil {
		r.logger.Error("resolve NC update failed", "nc_id", ncID, "error", err)
		return err
	}

	if err := r.appendEvent(ctx, tx, lotID, domain.EventNCResolved, map[string]any{
		"nc_id": ncID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit resolve NC failed", "nc_id", ncID, "error", err)
		return err
	}

	r.logger.Info("non-conformance resolved", "nc_id", ncID, "lot_run_id", lotID)
	return nil
}

func (r *NonConformanceRepository) ListNCs(ctx context.Context, lotID uuid.UUID) ([]domain.NonConformanceRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var exists int
	if err := r.pool.QueryRow(ctx,
		`SELECT 1 FROM lot_runs WHERE id=$1 AND api_key_id=$2`,
		lotID, apiKeyID,
	).Scan(&exists); err != nil {
		if err != pgx.ErrNoRows {
			r.logger.Error("lot ownership check failed", "lot_run_id", lotID, "error", err)
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, lot_run_id, step_run_id, severity, description, quantity, status, resolution, created_at, resolved_at
		FROM non_conformances
		WHERE lot_run_id=$1
		ORDER BY created_at ASC
	`, lotID)
	if err != nil {
		r.logger.Error("list NCs query failed", "lot_run_id", lotID, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.NonConformanceRecord, 0, 4)
	for rows.Next() {
		var rec domain.NonConformanceRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.LotRunID,
			&rec.StepRunID,
			&rec.Severity,
			&rec.Description,
			&rec.Quantity,
			&rec.Status,
			&rec.Resolution,
			&rec.CreatedAt,
			&rec.ResolvedAt,
		); err != nil {
			r.logger.Error("scan NC row failed", "lot_run_id", lotID, "error", err)
			return nil, err
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("NC rows iteration failed", "lot_run_id", lotID, "error", err)
		return nil, err
	}

	return out, nil
}

func (r *NonConformanceRepository) appendEvent(ctx context.Context, tx pgx.Tx, lotID uuid.UUID, eventType string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO events (id, lot_run_id, type, payload)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), lotID, eventType, body); err != nil {
		r.logger.Error("insert event failed",
			"lot_run_id", lotID,
			"type", eventType,
			"error", err,
		)
		return err
	}

	return nil
}
