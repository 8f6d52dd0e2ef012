// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LotStatus string

const (
	LotPending    LotStatus = "PENDING"
	LotInProgress LotStatus = "IN_PROGRESS"
	LotCompleted  LotStatus = "COMPLETED"
	LotFailed     LotStatus = "FAILED"
	LotCanceled   LotStatus = "CANCELED"
)

// Valid reports whether the status is one of the known lot states.
func (s LotStatus) Valid() bool {
	switch s {
	case LotPending, LotInProgress, LotCompleted, LotFailed, LotCanceled:
		return true
	}
	return false
}

// Terminal reports whether a lot status admits no further transitions.
func (s LotStatus) Terminal() bool {
	return s == LotCompleted || s == LotFailed || s == LotCanceled
}

type CreateLotRunParams struct {
	TemplateID uuid.UUID
	ItemID     uuid.UUID
	LotCode    string
	InputQty   decimal.Decimal
	WebhookURL string
}

type LotRunRecord struct {
	ID         uuid.UUID       `json:"id"`
	TemplateID uuid.UUID       `json:"template_id"`
	ItemID     uuid.UUID       `json:"item_id"`
	LotCode    string          `json:"lot_code"`
	InputQty   decimal.Decimal `json:"input_qty"`
	Status     LotStatus       `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// LotRunSummary is the list-view projection: status plus step progress counts.
type LotRunSummary struct {
	ID             uuid.UUID `json:"id"`
	LotCode        string    `json:"lot_code"`
	Status         LotStatus `json:"status"`
	StepsTotal     int       `json:"steps_total"`
	StepsCompleted int       `json:"steps_completed"`
	CreatedAt      time.Time `json:"created_at"`
}
