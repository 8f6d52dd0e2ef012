// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/ferroline/factory-ops/internal/auth"
	"github.com/ferroline/factory-ops/internal/domain"
	"github.com/ferroline/factory-ops/internal/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type LotRunRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewLotRunRepository(pool *pgxpool.Pool, logger *slog.Logger) *LotRunRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &LotRunRepository{
		pool:   pool,
		logger: logger,
	}
}

// CreateLotRun inserts the lot and one PENDING step run per template step in
// a single transaction. An Idempotency-Key on the request context replays the
// previously created lot instead of creating a duplicate.
func (r *LotRunRepository) CreateLotRun(ctx context.Context, params domain.CreateLotRunParams) (uuid.UUID, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	if params.InputQty.Sign() <= 0 {
		return uuid.Nil, domain.ErrInvalidQuantity
	}

	maxOpenLots := domain.DefaultMaxOpenLots
	if key, ok := auth.APIKeyFromContext(ctx); ok && key.MaxOpenLots > 0 {
		maxOpenLots = key.MaxOpenLots
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	idemKey, hasIdemKey := auth.IdempotencyKeyFromContext(ctx)
	if hasIdemKey {
		var existing uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT lot_run_id FROM lot_run_requests
			WHERE api_key_id=$1 AND idempotency_key=$2
		`, apiKeyID, idemKey).Scan(&existing)
		if err == nil {
			r.logger.Info("lot run create replayed",
				"lot_run_id", existing,
				"idempotency_key", idemKey,
			)
			return existing, tx.Commit(ctx)
		}
		if err != pgx.ErrNoRows {
			r.logger.Error("idempotency lookup failed", "error", err)
			return uuid.Nil, err
		}
	}

	var openLots int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM lot_runs
		WHERE api_key_id=$1 AND status IN ($2, $3)
	`, apiKeyID, domain.LotPending, domain.LotInProgress).Scan(&openLots); err != nil {
		r.logger.Error("count open lots failed", "error", err)
		return uuid.Nil, err
	}
	if openLots >= maxOpenLots {
		return uuid.Nil, domain.ErrMaxOpenLotsExceeded
	}

	var templateActive bool
	if err := tx.QueryRow(ctx, `
		SELECT active FROM process_templates
		WHERE id=$1 AND api_key_id=$2
	`, params.TemplateID, apiKeyID).Scan(&templateActive); err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, domain.ErrProcessTemplateNotFound
		}
		r.logger.Error("read template failed", "template_id", params.TemplateID, "error", err)
		return uuid.Nil, err
	}
	if !templateActive {
		return uuid.Nil, domain.ErrTemplateInactive
	}

	var itemExists int
	if err := tx.QueryRow(ctx, `
		SELECT 1 FROM items
		WHERE id=$1 AND api_key_id=$2 AND archived_at IS NULL
	`, params.ItemID, apiKeyID).Scan(&itemExists); err != nil {
		if err != pgx.ErrNoRows {
			r.logger.Error("read item failed", "item_id", params.ItemID, "error", err)
		}
		return uuid.Nil, err
	}

	lotID := uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO lot_runs (id, api_key_id, template_id, item_id, lot_code, input_qty, status, webhook_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		lotID,
		apiKeyID,
		params.TemplateID,
		params.ItemID,
		strings.TrimSpace(params.LotCode),
		params.InputQty,
		domain.LotPending,
		strings.TrimSpace(params.WebhookURL),
	); err != nil {
		r.logger.Error("insert lot run failed", "lot_run_id", lotID, "error", err)
		return uuid.Nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO step_runs (id, lot_run_id, template_step_id, position, name, status)
		SELECT gen_random_uuid(), $1, ts.id, ts.position, ts.name, $2
		FROM process_template_steps ts
		WHERE ts.template_id=$3
	`, lotID, domain.StepPending, params.TemplateID); err != nil {
		r.logger.Error("materialize step runs failed", "lot_run_id", lotID, "error", err)
		return uuid.Nil, err
	}

	if err := r.appendEvent(ctx, tx, lotID, domain.EventLotCreated, map[string]any{
		"lot_code":  params.LotCode,
		"input_qty": params.InputQty,
	}); err != nil {
		return uuid.Nil, err
	}

	if hasIdemKey {
		if _, err := tx.Exec(ctx, `
			INSERT INTO lot_run_requests (api_key_id, idempotency_key, lot_run_id)
			VALUES ($1, $2, $3)
		`, apiKeyID, idemKey, lotID); err != nil {
			r.logger.Error("record idempotency key failed", "lot_run_id", lotID, "error", err)
			return uuid.Nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit lot run failed", "lot_run_id", lotID, "error", err)
		return uuid.Nil, err
	}

	metrics.IncLotStatus(string(domain.LotPending))
	r.logger.Info("lot run created",
		"lot_run_id", lotID,
		"lot_code", params.LotCode,
		"template_id", params.TemplateID,
	)

	return lotID, nil
}

func (r *LotRunRepository) GetLotRun(ctx context.Context, id uuid.UUID) (domain.LotRunRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return domain.LotRunRecord{}, err
	}

	var rec domain.LotRunRecord
	err = r.pool.QueryRow(ctx, `
		SELECT id, template_id, item_id, lot_code, input_qty, status, created_at, updated_at, finished_at
		FROM lot_runs
		WHERE id=$1 AND api_key_id=$2
	`, id, apiKeyID).Scan(
		&rec.ID,
		&rec.TemplateID,
		&rec.ItemID,
		&rec.LotCode,
		&rec.InputQty,
		&rec.Status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.FinishedAt,
	)
	if err != nil {
		if err != pgx.ErrNoRows {
			r.logger.Error("get lot run failed", "lot_run_id", id, "error", err)
		}
		return domain.LotRunRecord{}, err
	}

	return rec, nil
}

func (r *LotRunRepository) ListLotRuns(ctx context.Context, status domain.LotStatus) ([]domain.LotRunSummary, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT l.id, l.lot_code, l.status, l.created_at,
		       COUNT(s.id),
		       COUNT(s.id) FILTER (WHERE s.status = $3)
		FROM lot_runs l
		LEFT JOIN step_runs s ON s.lot_run_id = l.id
		WHERE l.api_key_id=$1
		  AND ($2 = '' OR l.status = $2)
		GROUP BY l.id, l.lot_code, l.status, l.created_at
		ORDER BY l.created_at DESC
	`, apiKeyID, string(status), domain.StepCompleted)
	if err != nil {
		r.logger.Error("list lot runs query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.LotRunSummary, 0, 16)
	for rows.Next() {
		var s domain.LotRunSummary
		if err := rows.Scan(&s.ID, &s.LotCode, &s.Status, &s.CreatedAt, &s.StepsTotal, &s.StepsCompleted); err != nil {
			r.logger.Error("scan lot run row failed", "error", err)
			return nil, err
		}
		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("lot run rows iteration failed", "error", err)
		return nil, err
	}

	return out, nil
}

func (r *LotRunRepository) ListSteps(ctx context.Context, lotID uuid.UUID) ([]domain.StepRunRecord, error) {
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
		SELECT id, lot_run_id, position, name, status, input_qty, output_qty, scrap_qty, note, started_at, finished_at
		FROM step_runs
		WHERE lot_run_id=$1
		ORDER BY position ASC
	`, lotID)
	if err != nil {
		r.logger.Error("list step runs query failed", "lot_run_id", lotID, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StepRunRecord, 0, 4)
	for rows.Next() {
		var st domain.StepRunRecord
		if err := rows.Scan(
			&st.ID,
			&st.LotRunID,
			&st.Position,
			&st.Name,
			&st.Status,
			&st.InputQty,
			&st.OutputQty,
			&st.ScrapQty,
			&st.Note,
			&st.StartedAt,
			&st.FinishedAt,
		); err != nil {
			r.logger.Error("scan step run row failed", "lot_run_id", lotID, "error", err)
			return nil, err
		}
		out = append(out, st)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("step run rows iteration failed", "lot_run_id", lotID, "error", err)
		return nil, err
	}

	return out, nil
}

type lockedStep struct {
	ID       uuid.UUID
	Position int
	Name     string
	Status   domain.StepStatus
	InputQty *decimal.Decimal
}

type lockedLot struct {
	Status     domain.LotStatus
	InputQty   decimal.Decimal
	WebhookURL string
	LotCode    string
	ItemID     uuid.UUID
}

// lockLotAndStep serializes workflow transitions for a lot. The lot row is
// locked FOR UPDATE; step rows are implicitly protected by that lock because
// every transition goes through here.
func (r *LotRunRepository) lockLotAndStep(ctx context.Context, tx pgx.Tx, apiKeyID, lotID, stepID uuid.UUID) (lockedLot, lockedStep, error) {
	var lot lockedLot
	if err := tx.QueryRow(ctx, `
		SELECT status, input_qty, webhook_url, lot_code, item_id
		FROM lot_runs
		WHERE id=$1 AND api_key_id=$2
		FOR UPDATE
	`, lotID, apiKeyID).Scan(&lot.Status, &lot.InputQty, &lot.WebhookURL, &lot.LotCode, &lot.ItemID); err != nil {
		return lockedLot{}, lockedStep{}, err
	}

	var step lockedStep
	if stepID != uuid.Nil {
		if err := tx.QueryRow(ctx, `
			SELECT id, position, name, status, input_qty
			FROM step_runs
			WHERE id=$1 AND lot_run_id=$2
		`, stepID, lotID).Scan(&step.ID, &step.Position, &step.Name, &step.Status, &step.InputQty); err != nil {
			return lockedLot{}, lockedStep{}, err
		}
	}

	return lot, step, nil
}

func (r *LotRunRepository) StartStep(ctx context.Context, lotID, stepID uuid.UUID) error {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	lot, step, err := r.lockLotAndStep(ctx, tx, apiKeyID, lotID, stepID)
	if err != nil {
		return err
	}

	if lot.Status.Terminal() {
		return domain.ErrLotTerminal
	}
	if step.Status != domain.StepPending {
		return domain.ErrStepNotPending
	}

	var unfinished int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM step_runs
		WHERE lot_run_id=$1 AND position < $2 AND status NOT IN ($3, $4)
	`, lotID, step.Position, domain.StepCompleted, domain.StepSkipped).Scan(&unfinished); err != nil {
		r.logger.Error("check earlier steps failed", "lot_run_id", lotID, "error", err)
		return err
	}
	if unfinished > 0 {
		return domain.ErrStepOrderViolation
	}

	// Step input carries forward: the latest completed step's output, or the
	// lot's input when nothing upstream produced a quantity.
	inputQty := lot.InputQty
	var prevOutput decimal.Decimal
	err = tx.QueryRow(ctx, `
		SELECT output_qty FROM step_runs
		WHERE lot_run_id=$1 AND position < $2 AND status=$3 AND output_qty IS NOT NULL
		ORDER BY position DESC
		LIMIT 1
	`, lotID, step.Position, domain.StepCompleted).Scan(&prevOutput)
	switch err {
	case nil:
		inputQty = prevOutput
	case pgx.ErrNoRows:
	default:
		r.logger.Error("read previous output failed", "lot_run_id", lotID, "error", err)
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE step_runs
		SET status=$2, started_at=NOW(), input_qty=$3
		WHERE id=$1
	`, stepID, domain.StepInProgress, inputQty); err != nil {
		r.logger.Error("start step update failed", "step_run_id", stepID, "error", err)
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE lot_runs
		SET status=$2, updated_at=NOW()
		WHERE id=$1 AND status=$3
	`, lotID, domain.LotInProgress, domain.LotPending); err != nil {
		r.logger.Error("advance lot status failed", "lot_run_id", lotID, "error", err)
		return err
	}

	if err := r.appendEvent(ctx, tx, lotID, domain.EventStepStarted, map[string]any{
		"step_run_id": stepID,
		"step":        step.Name,
		"position":    step.Position,
		"input_qty":   inputQty,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit start step failed", "step_run_id", stepID, "error", err)
		return err
	}

	metrics.IncStepStatus(string(domain.StepInProgress))
	r.logger.Info("step started",
		"lot_run_id", lotID,
		"step_run_id", stepID,
		"step", step.Name,
		"input_qty", inputQty,
	)

	return nil
}

func (r *LotRunRepository) CompleteStep(ctx context.Context, lotID, stepID uuid.UUID, params domain.CompleteStepParams) error {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return err
	}

	if params.OutputQty.Sign() < 0 || params.ScrapQty.Sign() < 0 {
		return domain.ErrInvalidQuantity
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	lot, step, err := r.lockLotAndStep(ctx, tx, apiKeyID, lotID, stepID)
	if err != nil {
		return err
	}

	if lot.Status.Terminal() {
		return domain.ErrLotTerminal
	}
	if step.Status != domain.StepInProgress {
		return domain.ErrStepNotInProgress
	}

	// Conservation: a step may shrink the quantity (drying loss, scrap) but
	// never grow it.
	if step.InputQty != nil && params.OutputQty.Add(params.ScrapQty).GreaterThan(*step.InputQty) {
		return domain.ErrQuantityConservation
	}

	if _, err := tx.Exec(ctx, `
		UPDATE step_runs
		SET status=$2, output_qty=$3, scrap_qty=$4, note=$5, finished_at=NOW()
		WHERE id=$1
	`, stepID, domain.StepCompleted, params.OutputQty, params.ScrapQty, params.Note); err != nil {
		r.logger.Error("complete step update failed", "step_run_id", stepID, "error", err)
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE lot_runs SET updated_at=NOW() WHERE id=$1
	`, lotID); err != nil {
		return err
	}

	if err := r.appendEvent(ctx, tx, lotID, domain.EventStepComplete, map[string]any{
		"step_run_id": stepID,
		"step":        step.Name,
		"output_qty":  params.OutputQty,
		"scrap_qty":   params.ScrapQty,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit complete step failed", "step_run_id", stepID, "error", err)
		return err
	}

	metrics.IncStepStatus(string(domain.StepCompleted))
	r.logger.Info("step completed",
		"lot_run_id", lotID,
		"step_run_id", stepID,
		"step", step.Name,
		"output_qty", params.OutputQty,
		"scrap_qty", params.ScrapQty,
	)

	return nil
}

func (r *LotRunRepository) SkipStep(ctx context.Context, lotID, stepID uuid.UUID, note string) error {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	lot, step, err := r.lockLotAndStep(ctx, tx, apiKeyID, lotID, stepID)
	if err != nil {
		return err
	}

	if lot.Status.Terminal() {
		return domain.ErrLotTerminal
	}
	if step.Status != domain.StepPending {
		return domain.ErrStepNotPending
	}

	var requiresQuantity bool
	if err := tx.QueryRow(ctx, `
		SELECT ts.requires_quantity
		FROM step_runs s
		JOIN process_template_steps ts ON ts.id = s.template_step_id
		WHERE s.id=$1
	`, stepID).Scan(&requiresQuantity); err != nil {
		r.logger.Error("read template step failed", "step_run_id", stepID, "error", err)
		return err
	}
	if requiresQuantity {
		return domain.ErrStepNotSkippable
	}

	if _, err := tx.Exec(ctx, `
		UPDATE step_runs
		SET status=$2, note=$3, finished_at=NOW()
		WHERE id=$1
	`, stepID, domain.StepSkipped, note); err != nil {
		r.logger.Error("skip step update failed", "step_run_id", stepID, "error", err)
		return err
	}

	if err := r.appendEvent(ctx, tx, lotID, domain.EventStepSkipped, map[string]any{
		"step_run_id": stepID,
		"step":        step.Name,
		"note":        note,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit skip step failed", "step_run_id", stepID, "error", err)
		return err
	}

	metrics.IncStepStatus(string(domain.StepSkipped))
	r.logger.Info("step skipped", "lot_run_id", lotID, "step_run_id", stepID, "step", step.Name)
	return nil
}

func (r *LotRunRepository) FailStep(ctx context.Context, lotID, stepID uuid.UUID, note string) error {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	lot, step, err := r.lockLotAndStep(ctx, tx, apiKeyID, lotID, stepID)
	if err != nil {
		return err
	}

	if lot.Status.Terminal() {
		return domain.ErrLotTerminal
	}
	if step.Status != domain.StepInProgress {
		return domain.ErrStepNotInProgress
	}

	if _, err := tx.Exec(ctx, `
		UPDATE step_runs
		SET status=$2, note=$3, finished_at=NOW()
		WHERE id=$1
	`, stepID, domain.StepFailed, note); err != nil {
		r.logger.Error("fail step update failed", "step_run_id", stepID, "error", err)
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE lot_runs
		SET status=$2, updated_at=NOW(), finished_at=NOW()
		WHERE id=$1
	`, lotID, domain.LotFailed); err != nil {
		r.logger.Error("fail lot update failed", "lot_run_id", lotID, "error", err)
		return err
	}

	if err := r.appendEvent(ctx, tx, lotID, domain.EventStepFailed, map[string]any{
		"step_run_id": stepID,
		"step":        step.Name,
		"note":        note,
	}); err != nil {
		return err
	}
	if err := r.appendEvent(ctx, tx, lotID, domain.EventLotFailed, map[string]any{
		"failed_step": step.Name,
	}); err != nil {
		return err
	}

	if err := r.enqueueNotification(ctx, tx, lotID, lot.WebhookURL, domain.EventLotFailed, map[string]any{
		"lot_run_id":  lotID,
		"lot_code":    lot.LotCode,
		"status":      domain.LotFailed,
		"failed_step": step.Name,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit fail step failed", "step_run_id", stepID, "error", err)
		return err
	}

	metrics.IncStepStatus(string(domain.StepFailed))
	metrics.IncLotStatus(string(domain.LotFailed))
	r.logger.Info("step failed, lot failed",
		"lot_run_id", lotID,
		"step_run_id", stepID,
		"step", step.Name,
	)

	return nil
}

// CancelLotRun is idempotent on terminal lots, matching signoff.
func (r *LotRunRepository) CancelLotRun(ctx context.Context, lotID uuid.UUID) error {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	lot, _, err := r.lockLotAndStep(ctx, tx, apiKeyID, lotID, uuid.Nil)
	if err != nil {
		return err
	}

	if lot.Status.Terminal() {
		r.logger.Info("cancel skipped (terminal)", "lot_run_id", lotID, "status", lot.Status)
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE lot_runs
		SET status=$2, updated_at=NOW(), finished_at=NOW()
		WHERE id=$1
	`, lotID, domain.LotCanceled); err != nil {
		r.logger.Error("cancel lot update failed", "lot_run_id", lotID, "error", err)
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE step_runs
		SET status=$2,
		    finished_at=COALESCE(finished_at, NOW())
		WHERE lot_run_id=$1
		  AND status IN ($3, $4)
	`, lotID, domain.StepSkipped, domain.StepPending, domain.StepInProgress); err != nil {
		r.logger.Error("cancel steps update failed", "lot_run_id", lotID, "error", err)
		return err
	}

	if err := r.appendEvent(ctx, tx, lotID, domain.EventLotCanceled, map[string]any{
		"reason": "user_request",
	}); err != nil {
		return err
	}

	if err := r.enqueueNotification(ctx, tx, lotID, lot.WebhookURL, domain.EventLotCanceled, map[string]any{
		"lot_run_id": lotID,
		"lot_code":   lot.LotCode,
		"status":     domain.LotCanceled,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit cancel failed", "lot_run_id", lotID, "error", err)
		return err
	}

	metrics.IncLotStatus(string(domain.LotCanceled))
	r.logger.Info("lot run canceled", "lot_run_id", lotID)
	return nil
}

// SignoffLotRun closes out a lot: all steps terminal, at least one produced
// output, no open non-conformances. The final yield is booked back to stock
// as a production receipt.
func (r *LotRunRepository) SignoffLotRun(ctx context.Context, lotID uuid.UUID, approvedBy string) error {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	lot, _, err := r.lockLotAndStep(ctx, tx, apiKeyID, lotID, uuid.Nil)
	if err != nil {
		return err
	}

	if lot.Status.Terminal() {
		r.logger.Info("signoff skipped (terminal)", "lot_run_id", lotID, "status", lot.Status)
		return tx.Commit(ctx)
	}

	var open int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM step_runs
		WHERE lot_run_id=$1 AND status NOT IN ($2, $3)
	`, lotID, domain.StepCompleted, domain.StepSkipped).Scan(&open); err != nil {
		r.logger.Error("count open steps failed", "lot_run_id", lotID, "error", err)
		return err
	}
	if open > 0 {
		return domain.ErrSignoffStepsOpen
	}

	var finalYield decimal.Decimal
	err = tx.QueryRow(ctx, `
		SELECT output_qty FROM step_runs
		WHERE lot_run_id=$1 AND status=$2 AND output_qty IS NOT NULL
		ORDER BY position DESC
		LIMIT 1
	`, lotID, domain.StepCompleted).Scan(&finalYield)
	if err == pgx.ErrNoRows {
		return domain.ErrSignoffNoOutput
	}
	if err != nil {
		r.logger.Error("read final yield failed", "lot_run_id", lotID, "error", err)
		return err
	}

	var openNCs int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM non_conformances
		WHERE lot_run_id=$1 AND status=$2
	`, lotID, domain.NCOpen).Scan(&openNCs); err != nil {
		r.logger.Error("count open NCs failed", "lot_run_id", lotID, "error", err)
		return err
	}
	if openNCs > 0 {
		return domain.ErrSignoffOpenNC
	}

	if _, err := tx.Exec(ctx, `
		UPDATE lot_runs
		SET status=$2, updated_at=NOW(), finished_at=NOW()
		WHERE id=$1
	`, lotID, domain.LotCompleted); err != nil {
		r.logger.Error("signoff lot update failed", "lot_run_id", lotID, "error", err)
		return err
	}

	if finalYield.Sign() > 0 {
		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_movements (id, api_key_id, item_id, kind, quantity, lot_run_id, reference)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			uuid.New(),
			apiKeyID,
			lot.ItemID,
			domain.MovementReceipt,
			finalYield,
			lotID,
			"lot signoff: "+lot.LotCode,
		); err != nil {
			r.logger.Error("book production receipt failed", "lot_run_id", lotID, "error", err)
			return err
		}
	}

	if err := r.appendEvent(ctx, tx, lotID, domain.EventLotSignedOff, map[string]any{
		"approved_by": approvedBy,
		"final_yield": finalYield,
	}); err != nil {
		return err
	}

	if err := r.enqueueNotification(ctx, tx, lotID, lot.WebhookURL, domain.EventLotSignedOff, map[string]any{
		"lot_run_id":  lotID,
		"lot_code":    lot.LotCode,
		"status":      domain.LotCompleted,
		"final_yield": finalYield,
		"approved_by": approvedBy,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit signoff failed", "lot_run_id", lotID, "error", err)
		return err
	}

	metrics.IncLotStatus(string(domain.LotCompleted))
	metrics.IncStockMovement(string(domain.MovementReceipt))
	r.logger.Info("lot run signed off",
		"lot_run_id", lotID,
		"approved_by", approvedBy,
		"final_yield", finalYield,
	)

	return nil
}

func (r *LotRunRepository) appendEvent(ctx context.Context, tx pgx.Tx, lotID uuid.UUID, eventType string, payload map[string]any) error {
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

func (r *LotRunRepository) enqueueNotification(ctx context.Context, tx pgx.Tx, lotID uuid.UUID, webhookURL, eventType string, payload map[string]any) error {
	if strings.TrimSpace(webhookURL) == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO notifications (id, lot_run_id, event_type, payload, webhook_url)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), lotID, eventType, body, webhookURL); err != nil {
		r.logger.Error("enqueue notification failed",
			"lot_run_id", lotID,
			"type", eventType,
			"error", err,
		)
		return err
	}

	return nil
}
