// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MovementKind string

const (
	MovementReceipt    MovementKind = "RECEIPT"
	MovementIssue      MovementKind = "ISSUE"
	MovementAdjustment MovementKind = "ADJUSTMENT"
)

func (k MovementKind) Valid() bool {
	return k == MovementReceipt || k == MovementIssue || k == MovementAdjustment
}

type StockMovementParams struct {
	ItemID    uuid.UUID
	Kind      MovementKind
	Quantity  decimal.Decimal
	PartnerID *uuid.UUID
	LotRunID  *uuid.UUID
	Reference string
}

type StockMovementRecord struct {
	ID        uuid.UUID       `json:"id"`
	ItemID    uuid.UUID       `json:"item_id"`
	Kind      MovementKind    `json:"kind"`
	Quantity  decimal.Decimal `json:"quantity"`
	PartnerID *uuid.UUID      `json:"partner_id,omitempty"`
	LotRunID  *uuid.UUID      `json:"lot_run_id,omitempty"`
	Reference string          `json:"reference,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// StockSummary is the aggregated view: on-hand is derived from movements,
// never stored denormalized.
type StockSummary struct {
	ItemID   uuid.UUID       `json:"item_id"`
	SKU      string          `json:"sku"`
	Name     string          `json:"name"`
	Unit     ItemUnit        `json:"unit"`
	OnHand   decimal.Decimal `json:"on_hand"`
	MinStock decimal.Decimal `json:"min_stock"`
	Received decimal.Decimal `json:"received"`
	Issued   decimal.Decimal `json:"issued"`
	Adjusted decimal.Decimal `json:"adjusted"`
}
