// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ferroline/factory-ops/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
)

type partnerRequest struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	ContactName string `json:"contact_name"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	Address     string `json:"address"`
	Notes       string `json:"notes"`
}

func (req partnerRequest) params() domain.PartnerParams {
	return domain.PartnerParams{
		Kind:        domain.PartnerKind(strings.ToUpper(strings.TrimSpace(req.Kind))),
		Name:        req.Name,
		ContactName: req.ContactName,
		Phone:       req.Phone,
		Email:       req.Email,
		Address:     req.Address,
		Notes:       req.Notes,
	}
}

func mountPartnerRoutes(r chi.Router, deps Deps, logger *slog.Logger) {
	r.Post("/partners", func(w http.ResponseWriter, r *http.Request) {
		var req partnerRequest
		if err := decodeJSONBody(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		rec, err := deps.Partners.CreatePartner(r.Context(), req.params())
		if err != nil {
			if errors.Is(err, domain.ErrInvalidPartnerKind) || errors.Is(err, domain.ErrPartnerNameRequired) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.Error("create partner failed", "error", err)
			http.Error(w, "failed to create partner", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, rec)
	})

	r.Get("/partners", func(w http.ResponseWriter, r *http.Request) {
		kind := domain.PartnerKind(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("kind"))))
		if kind != "" && !kind.Valid() {
			http.Error(w, "invalid partner kind", http.StatusBadRequest)
			return
		}
		includeArchived := r.URL.Query().Get("include_archived") == "true"

		partners, err := deps.Partners.ListPartners(r.Context(), kind, includeArchived)
		if err != nil {
			logger.Error("list partners failed", "error", err)
			http.Error(w, "failed to list partners", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"partners": partners,
		})
	})

	r.Get("/partners/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid partner ID", http.StatusBadRequest)
			return
		}

		rec, err := deps.Partners.GetPartner(r.Context(), id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "partner not found", http.StatusNotFound)
				return
			}
			logger.Error("get partner failed", "partner_id", id, "error", err)
			http.Error(w, "failed to get partner", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, rec)
	})

	r.Put("/partners/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid partner ID", http.StatusBadRequest)
			return
		}

		var req partnerRequest
		if err := decodeJSONBody(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		rec, err := deps.Partners.UpdatePartner(r.Context(), id, req.params())
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "partner not found", http.StatusNotFound)
				return
			}
			if errors.Is(err, domain.ErrInvalidPartnerKind) || errors.Is(err, domain.ErrPartnerNameRequired) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.Error("update partner failed", "partner_id", id, "error", err)
			http.Error(w, "failed to update partner", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, rec)
	})

	r.Delete("/partners/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid partner ID", http.StatusBadRequest)
			return
		}

		if err := deps.Partners.ArchivePartner(r.Context(), id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "partner not found", http.StatusNotFound)
				return
			}
			logger.Error("archive partner failed", "partner_id", id, "error", err)
			http.Error(w, "failed to archive partner", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}
