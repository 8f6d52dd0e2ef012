// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxOpenLots       = 20
	DefaultMaxRequestsPerMin = 60
)

type CreateAPIKeyParams struct {
	Name              string
	MaxOpenLots       int
	MaxRequestsPerMin int
}

type CreatedAPIKey struct {
	ID    uuid.UUID
	Token string
}

type APIKeyRecord struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	MaxOpenLots       int       `json:"max_open_lots"`
	MaxRequestsPerMin int       `json:"max_requests_per_min"`
	CreatedAt         time.Time `json:"created_at"`
}
