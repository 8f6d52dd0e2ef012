// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type TemplateStepParams struct {
	Position         int    `json:"position"`
	Name             string `json:"name"`
	RequiresQuantity bool   `json:"requires_quantity"`
	ExpectedMinutes  int    `json:"expected_minutes"`
}

type CreateTemplateParams struct {
	Name        string
	Description string
	Steps       []TemplateStepParams
}

type TemplateStepRecord struct {
	ID               uuid.UUID `json:"id"`
	Position         int       `json:"position"`
	Name             string    `json:"name"`
	RequiresQuantity bool      `json:"requires_quantity"`
	ExpectedMinutes  int       `json:"expected_minutes"`
}

type ProcessTemplateRecord struct {
	ID          uuid.UUID            `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Active      bool                 `json:"active"`
	Steps       []TemplateStepRecord `json:"steps,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// ValidateTemplateSteps checks that step positions are dense 1..n with
// non-empty names. Templates are immutable once referenced, so this is the
// only place ordering is enforced.
func ValidateTemplateSteps(steps []TemplateStepParams) error {
	if len(steps) == 0 {
		return ErrTemplateNeedsSteps
	}

	seen := make(map[int]bool, len(steps))
	for _, s := range steps {
		if s.Name == "" {
			return ErrTemplateNeedsSteps
		}
		if s.Position < 1 || s.Position > len(steps) || seen[s.Position] {
			return ErrTemplateStepOrder
		}
		if s.ExpectedMinutes < 0 {
			return ErrTemplateStepOrder
		}
		seen[s.Position] = true
	}

	return nil
}
