// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"log/slog"

	"github.com/ferroline/factory-ops/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EventRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewEventRepository(pool *pgxpool.Pool, logger *slog.Logger) *EventRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &EventRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *EventRepository) ListEventsAfter(ctx context.Context, lotRunID uuid.UUID, afterSeq int64) ([]domain.EventRecord, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		r.logger.Warn("list events denied: missing api key id", "lot_run_id", lotRunID, "error", err)
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT e.id, e.seq, e.lot_run_id, e.type, e.payload, e.created_at
		FROM events e
		JOIN lot_runs l ON e.lot_run_id = l.id
		WHERE e.lot_run_id=$1
		  AND l.api_key_id=$2
		  AND e.seq > $3
		ORDER BY e.seq ASC
	`,
		lotRunID,
		apiKeyID,
		afterSeq,
	)
	if err != nil {
		r.logger.Error("list events query failed",
			"lot_run_id", lotRunID,
			"api_key_id", apiKeyID,
			"error", err,
		)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.EventRecord, 0, 8)
	for rows.Next() {
		var ev domain.EventRecord
		if err := rows.Scan(
			&ev.ID,
			&ev.Seq,
			&ev.LotRunID,
			&ev.Type,
			&ev.Payload,
			&ev.CreatedAt,
		); err != nil {
			r.logger.Error("scan event row failed",
				"lot_run_id", lotRunID,
				"api_key_id", apiKeyID,
				"error", err,
			)
			return nil, err
		}
		out = append(out, ev)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("events rows iteration failed",
			"lot_run_id", lotRunID,
			"api_key_id", apiKeyID,
			"error", err,
		)
		return nil, err
	}

	return out, nil
}

// ResolveCursorByEventID maps a client-held event id back to its sequence
// number so a reconnecting stream can resume after it.
func (r *EventRepository) ResolveCursorByEventID(ctx context.Context, lotRunID uuid.UUID, eventID uuid.UUID) (int64, error) {
	apiKeyID, err := apiKeyIDFromContext(ctx)
	if err != nil {
		r.logger.Warn("resolve cursor denied: missing api key id", "lot_run_id", lotRunID, "error", err)
		return 0, err
	}

	var seq int64
	if err := r.pool.QueryRow(ctx, `
		SELECT e.seq
		FROM events e
		JOIN lot_runs l ON e.lot_run_id = l.id
		WHERE e.id=$1
		  AND e.lot_run_id=$2
		  AND l.api_key_id=$3
	`,
		eventID,
		lotRunID,
		apiKeyID,
	).Scan(&seq); err != nil {
		r.logger.Error("resolve event cursor failed",
			"lot_run_id", lotRunID,
			"event_id", eventID,
			"api_key_id", apiKeyID,
			"error", err,
		)
		return 0, err
	}

	return seq, nil
}
