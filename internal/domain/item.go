// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ItemUnit string

const (
	UnitKilogram ItemUnit = "KG"
	UnitPiece    ItemUnit = "PIECE"
	UnitBox      ItemUnit = "BOX"
)

func (u ItemUnit) Valid() bool {
	return u == UnitKilogram || u == UnitPiece || u == UnitBox
}

type ItemParams struct {
	SKU               string
	Name              string
	Unit              ItemUnit
	MinStock          decimal.Decimal
	DefaultSupplierID *uuid.UUID
}

type ItemRecord struct {
	ID                uuid.UUID       `json:"id"`
	SKU               string          `json:"sku"`
	Name              string          `json:"name"`
	Unit              ItemUnit        `json:"unit"`
	MinStock          decimal.Decimal `json:"min_stock"`
	DefaultSupplierID *uuid.UUID      `json:"default_supplier_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	ArchivedAt        *time.Time      `json:"archived_at,omitempty"`
}
