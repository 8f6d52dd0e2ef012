// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ferroline/factory-ops/internal/domain"
	"github.com/ferroline/factory-ops/internal/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const overdueScanBatch = 20

type Deps struct {
	Pool          *pgxpool.Pool
	Logger        *slog.Logger
	HTTPClient    *http.Client
	WebhookSecret string
	MaxAttempts   int
	RetryBase     time.Duration
}

type Worker struct {
	pool          *pgxpool.Pool
	logger        *slog.Logger
	httpClient    *http.Client
	webhookSecret string
	maxAttempts   int
	retryBase     time.Duration
}

func New(deps Deps) *Worker {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	maxAtt := deps.MaxAttempts
	if maxAtt <= 0 {
		maxAtt = 3
	}

	base := deps.RetryBase
	if base <= 0 {
		base = 30 * time.Second
	}

	return &Worker{
		pool:          deps.Pool,
		logger:        l,
		httpClient:    client,
		webhookSecret: deps.WebhookSecret,
		maxAttempts:   maxAtt,
		retryBase:     base,
	}
}

// ProcessOnce runs a single scan cycle: flag overdue steps, then deliver
// one due notification. Callers loop it on a ticker.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	started := time.Now()
	defer func() {
		metrics.ObserveWorkerScanDuration(time.Since(started))
	}()

	if err := w.flagOverdueSteps(ctx); err != nil {
		w.logger.Error("overdue scan failed", "error", err)
		return err
	}

	if err := w.dispatchOneNotification(ctx); err != nil {
		w.logger.Error("notification dispatch failed", "error", err)
		return err
	}

	return nil
}

type overdueStep struct {
	StepID   uuid.UUID
	LotRunID uuid.UUID
	Name     string
	Position int
	Minutes  int
}

// flagOverdueSteps marks IN_PROGRESS steps that outlived their template's
// expected_minutes and appends one STEP_OVERDUE event per step. The
// overdue_flagged column guarantees a step is flagged at most once even
// with concurrent workers.
func (w *Worker) flagOverdueSteps(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT s.id, s.lot_run_id, s.name, s.position, ts.expected_minutes
		FROM step_runs s
		JOIN process_template_steps ts ON s.template_step_id = ts.id
		WHERE s.status = $1
		  AND NOT s.overdue_flagged
		  AND ts.expected_minutes > 0
		  AND s.started_at IS NOT NULL
		  AND s.started_at < NOW() - make_interval(mins => ts.expected_minutes)
		ORDER BY s.started_at ASC
		FOR UPDATE OF s SKIP LOCKED
		LIMIT $2
	`, domain.StepInProgress, overdueScanBatch)
	if err != nil {
		return err
	}

	var overdue []overdueStep
	for rows.Next() {
		var s overdueStep
		if err := rows.Scan(&s.StepID, &s.LotRunID, &s.Name, &s.Position, &s.Minutes); err != nil {
			rows.Close()
			return err
		}
		overdue = append(overdue, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(overdue) == 0 {
		return tx.Commit(ctx)
	}

	for _, s := range overdue {
		if _, err := tx.Exec(ctx, `
			UPDATE step_runs SET overdue_flagged = TRUE WHERE id = $1
		`, s.StepID); err != nil {
			return err
		}

		payload, err := json.Marshal(map[string]any{
			"step_run_id":      s.StepID,
			"step":             s.Name,
			"position":         s.Position,
			"expected_minutes": s.Minutes,
		})
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO events (id, lot_run_id, type, payload)
			VALUES ($1, $2, $3, $4)
		`, uuid.New(), s.LotRunID, domain.EventStepOverdue, payload); err != nil {
			return err
		}

		w.logger.Warn("step overdue",
			"lot_run_id", s.LotRunID,
			"step_run_id", s.StepID,
			"step", s.Name,
			"expected_minutes", s.Minutes,
		)
	}

	return tx.Commit(ctx)
}

type claimedNotification struct {
	ID        uuid.UUID
	LotRunID  uuid.UUID
	EventType string
	Payload   json.RawMessage
	URL       string
	Attempts  int
}

// dispatchOneNotification claims the oldest due PENDING notification and
// tries a single delivery. The claim itself schedules the retry through
// next_attempt_at, so backoff survives worker restarts and concurrent
// workers never deliver the same notification twice.
func (w *Worker) dispatchOneNotification(ctx context.Context) error {
	n, err := w.claimNotification(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}

	deliverErr := w.deliverNotification(ctx, n)
	if deliverErr == nil {
		if _, err := w.pool.Exec(ctx, `
			UPDATE notifications
			SET status = $2, delivered_at = NOW()
			WHERE id = $1
		`, n.ID, domain.NotificationDelivered); err != nil {
			return err
		}

		w.logger.Info("notification delivered",
			"notification_id", n.ID,
			"lot_run_id", n.LotRunID,
			"event_type", n.EventType,
			"attempt", n.Attempts,
		)
		return nil
	}

	if n.Attempts >= w.maxAttempts {
		w.logger.Error("notification permanently failed",
			"notification_id", n.ID,
			"lot_run_id", n.LotRunID,
			"event_type", n.EventType,
			"attempts", n.Attempts,
			"error", deliverErr,
		)

		_, err := w.pool.Exec(ctx, `
			UPDATE notifications SET status = $2 WHERE id = $1
		`, n.ID, domain.NotificationFailed)
		return err
	}

	// The retry is already scheduled: the claim pushed next_attempt_at
	// forward, so leaving the row PENDING is enough.
	w.logger.Warn("notification delivery failed",
		"notification_id", n.ID,
		"lot_run_id", n.LotRunID,
		"event_type", n.EventType,
		"attempt", n.Attempts,
		"retry_in", w.backoff(n.Attempts),
		"error", deliverErr,
	)
	return nil
}

func (w *Worker) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return w.retryBase * time.Duration(1<<(attempts-1))
}

func (w *Worker) claimNotification(ctx context.Context) (claimedNotification, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return claimedNotification{}, err
	}
	defer tx.Rollback(ctx)

	var n claimedNotification
	err = tx.QueryRow(ctx, `
		SELECT id, lot_run_id, event_type, payload, webhook_url, attempts
		FROM notifications
		WHERE status = $1 AND next_attempt_at <= NOW()
		ORDER BY next_attempt_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, domain.NotificationPending).Scan(&n.ID, &n.LotRunID, &n.EventType, &n.Payload, &n.URL, &n.Attempts)
	if err != nil {
		return claimedNotification{}, err
	}

	n.Attempts++

	// Every claim counts as an attempt, and the claim leases the row:
	// pushing next_attempt_at to the next backoff slot before committing
	// keeps a second worker from re-claiming it while delivery is in
	// flight. On success the row flips to DELIVERED; on a transient
	// failure it simply comes due again when the lease expires. The
	// default retry base exceeds the HTTP client timeout, so the lease
	// outlasts any single delivery attempt.
	if _, err := tx.Exec(ctx, `
		UPDATE notifications
		SET attempts = attempts + 1,
		    next_attempt_at = NOW() + make_interval(secs => $2)
		WHERE id = $1
	`, n.ID, w.backoff(n.Attempts).Seconds()); err != nil {
		return claimedNotification{}, err
	}

	return n, tx.Commit(ctx)
}
