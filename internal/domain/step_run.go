// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type StepStatus string

const (
	StepPending    StepStatus = "PENDING"
	StepInProgress StepStatus = "IN_PROGRESS"
	StepCompleted  StepStatus = "COMPLETED"
	StepFailed     StepStatus = "FAILED"
	StepSkipped    StepStatus = "SKIPPED"
)

// Terminal reports whether a step run can no longer change status.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

type StepRunRecord struct {
	ID         uuid.UUID        `json:"id"`
	LotRunID   uuid.UUID        `json:"lot_run_id"`
	Position   int              `json:"position"`
	Name       string           `json:"name"`
	Status     StepStatus       `json:"status"`
	InputQty   *decimal.Decimal `json:"input_qty,omitempty"`
	OutputQty  *decimal.Decimal `json:"output_qty,omitempty"`
	ScrapQty   *decimal.Decimal `json:"scrap_qty,omitempty"`
	Note       string           `json:"note,omitempty"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

type CompleteStepParams struct {
	OutputQty decimal.Decimal
	ScrapQty  decimal.Decimal
	Note      string
}
