// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type PartnerKind string

const (
	PartnerSupplier PartnerKind = "SUPPLIER"
	PartnerCustomer PartnerKind = "CUSTOMER"
)

func (k PartnerKind) Valid() bool {
	return k == PartnerSupplier || k == PartnerCustomer
}

type PartnerParams struct {
	Kind        PartnerKind
	Name        string
	ContactName string
	Phone       string
	Email       string
	Address     string
	Notes       string
}

type PartnerRecord struct {
	ID          uuid.UUID   `json:"id"`
	Kind        PartnerKind `json:"kind"`
	Name        string      `json:"name"`
	ContactName string      `json:"contact_name,omitempty"`
	Phone       string      `json:"phone,omitempty"`
	Email       string      `json:"email,omitempty"`
	Address     string      `json:"address,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	ArchivedAt  *time.Time  `json:"archived_at,omitempty"`
}
