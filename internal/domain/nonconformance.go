// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type NCSeverity string

const (
	NCMinor    NCSeverity = "MINOR"
	NCMajor    NCSeverity = "MAJOR"
	NCCritical NCSeverity = "CRITICAL"
)

func (s NCSeverity) Valid() bool {
	return s == NCMinor || s == NCMajor || s == NCCritical
}

type NCStatus string

const (
	NCOpen     NCStatus = "OPEN"
	NCResolved NCStatus = "RESOLVED"
)

type RaiseNCParams struct {
	StepRunID   uuid.UUID
	Severity    NCSeverity
	Description string
	Quantity    decimal.Decimal
}

type NonConformanceRecord struct {
	ID          uuid.UUID       `json:"id"`
	LotRunID    uuid.UUID       `json:"lot_run_id"`
	StepRunID   uuid.UUID       `json:"step_run_id"`
	Severity    NCSeverity      `json:"severity"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Status      NCStatus        `json:"status"`
	Resolution  string          `json:"resolution,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}
