// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ferroline/factory-ops/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type packagingUnitRequest struct {
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	CapacityKg  decimal.Decimal `json:"capacity_kg"`
	TareKg      decimal.Decimal `json:"tare_kg"`
	UnitsPerBox int             `json:"units_per_box"`
	LengthMM    int             `json:"length_mm"`
	WidthMM     int             `json:"width_mm"`
	HeightMM    int             `json:"height_mm"`
}

func (req packagingUnitRequest) params() domain.PackagingUnitParams {
	return domain.PackagingUnitParams{
		Name:        req.Name,
		Kind:        domain.PackagingKind(strings.ToUpper(strings.TrimSpace(req.Kind))),
		CapacityKg:  req.CapacityKg,
		TareKg:      req.TareKg,
		UnitsPerBox: req.UnitsPerBox,
		LengthMM:    req.LengthMM,
		WidthMM:     req.WidthMM,
		HeightMM:    req.HeightMM,
	}
}

type packPlanRequest struct {
	NetWeightKg  decimal.Decimal `json:"net_weight_kg"`
	PacketUnitID uuid.UUID       `json:"packet_unit_id"`
	BoxUnitID    *uuid.UUID      `json:"box_unit_id"`
}

func mountPackagingRoutes(r chi.Router, deps Deps, logger *slog.Logger) {
	r.Post("/packaging-units", func(w http.ResponseWriter, r *http.Request) {
		var req packagingUnitRequest
		if err := decodeJSONBody(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		rec, err := deps.Packaging.CreatePackagingUnit(r.Context(), req.params())
		if err != nil {
			if errors.Is(err, domain.ErrInvalidPackaging) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.Error("create packaging unit failed", "error", err)
			http.Error(w, "failed to create packaging unit", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, rec)
	})

	r.Get("/packaging-units", func(w http.ResponseWriter, r *http.Request) {
		kind := domain.PackagingKind(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("kind"))))
		if kind != "" && !kind.Valid() {
			http.Error(w, "invalid packaging kind", http.StatusBadRequest)
			return
		}
		includeInactive := r.URL.Query().Get("include_inactive") == "true"

		units, err := deps.Packaging.ListPackagingUnits(r.Context(), kind, includeInactive)
		if err != nil {
			logger.Error("list packaging units failed", "error", err)
			http.Error(w, "failed to list packaging units", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"packaging_units": units,
		})
	})

	r.Get("/packaging-units/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid packaging unit ID", http.StatusBadRequest)
			return
		}

		rec, err := deps.Packaging.GetPackagingUnit(r.Context(), id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "packaging unit not found", http.StatusNotFound)
				return
			}
			logger.Error("get packaging unit failed", "packaging_unit_id", id, "error", err)
			http.Error(w, "failed to get packaging unit", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, rec)
	})

	r.Put("/packaging-units/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid packaging unit ID", http.StatusBadRequest)
			return
		}

		var req packagingUnitRequest
		if err := decodeJSONBody(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		rec, err := deps.Packaging.UpdatePackagingUnit(r.Context(), id, req.params())
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "packaging unit not found", http.StatusNotFound)
				return
			}
			if errors.Is(err, domain.ErrInvalidPackaging) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.Error("update packaging unit failed", "packaging_unit_id", id, "error", err)
			http.Error(w, "failed to update packaging unit", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, rec)
	})

	r.Post("/packaging-units/{id}/deactivate", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid packaging unit ID", http.StatusBadRequest)
			return
		}

		if err := deps.Packaging.DeactivatePackagingUnit(r.Context(), id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "packaging unit not found", http.StatusNotFound)
				return
			}
			logger.Error("deactivate packaging unit failed", "packaging_unit_id", id, "error", err)
			http.Error(w, "failed to deactivate packaging unit", http.StatusInternalServerError)
			return
		}

		logger.Info("packaging unit deactivated via API", "packaging_unit_id", id)

		writeJSON(w, http.StatusOK, map[string]string{
			"id":     id.String(),
			"active": "false",
		})
	})

	// ---------------- PACK PLANS ----------------

	r.Post("/pack-plans", func(w http.ResponseWriter, r *http.Request) {
		var req packPlanRequest
		if err := decodeJSONBody(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		packet, err := deps.Packaging.GetPackagingUnit(r.Context(), req.PacketUnitID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "packet unit not found", http.StatusBadRequest)
				return
			}
			logger.Error("pack plan packet lookup failed", "packaging_unit_id", req.PacketUnitID, "error", err)
			http.Error(w, "failed to compute pack plan", http.StatusInternalServerError)
			return
		}

		var box *domain.PackagingUnitRecord
		if req.BoxUnitID != nil {
			rec, err := deps.Packaging.GetPackagingUnit(r.Context(), *req.BoxUnitID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					http.Error(w, "box unit not found", http.StatusBadRequest)
					return
				}
				logger.Error("pack plan box lookup failed", "packaging_unit_id", *req.BoxUnitID, "error", err)
				http.Error(w, "failed to compute pack plan", http.StatusInternalServerError)
				return
			}
			box = &rec
		}

		plan, err := domain.ComputePackPlan(req.NetWeightKg, packet, box)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidQuantity) || errors.Is(err, domain.ErrInvalidPackaging) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.Error("compute pack plan failed", "error", err)
			http.Error(w, "failed to compute pack plan", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, plan)
	})
}
