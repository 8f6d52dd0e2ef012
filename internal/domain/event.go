// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventLotCreated   = "LOT_CREATED"
	EventStepStarted  = "STEP_STARTED"
	EventStepComplete = "STEP_COMPLETED"
	EventStepSkipped  = "STEP_SKIPPED"
	EventStepFailed   = "STEP_FAILED"
	EventStepOverdue  = "STEP_OVERDUE"
	EventLotFailed    = "LOT_FAILED"
	EventLotCanceled  = "LOT_CANCELED"
	EventLotSignedOff = "LOT_SIGNED_OFF"
	EventNCRaised     = "NC_RAISED"
	EventNCResolved   = "NC_RESOLVED"
)

type EventRecord struct {
	ID        uuid.UUID       `json:"id"`
	Seq       int64           `json:"seq"`
	LotRunID  uuid.UUID       `json:"lot_run_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
