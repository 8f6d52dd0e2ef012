// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PackagingKind string

const (
	PackagingPacket PackagingKind = "PACKET"
	PackagingBox    PackagingKind = "BOX"
)

func (k PackagingKind) Valid() bool {
	return k == PackagingPacket || k == PackagingBox
}

type PackagingUnitParams struct {
	Name        string
	Kind        PackagingKind
	CapacityKg  decimal.Decimal
	TareKg      decimal.Decimal
	UnitsPerBox int
	LengthMM    int
	WidthMM     int
	HeightMM    int
}

type PackagingUnitRecord struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Kind        PackagingKind   `json:"kind"`
	CapacityKg  decimal.Decimal `json:"capacity_kg"`
	TareKg      decimal.Decimal `json:"tare_kg"`
	UnitsPerBox int             `json:"units_per_box,omitempty"`
	LengthMM    int             `json:"length_mm,omitempty"`
	WidthMM     int             `json:"width_mm,omitempty"`
	HeightMM    int             `json:"height_mm,omitempty"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
