// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ferroline/factory-ops/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type itemRequest struct {
	SKU               string          `json:"sku"`
	Name              string          `json:"name"`
	Unit              string          `json:"unit"`
	MinStock          decimal.Decimal `json:"min_stock"`
	DefaultSupplierID *uuid.UUID      `json:"default_supplier_id"`
}

func (req itemRequest) params() domain.ItemParams {
	return domain.ItemParams{
		SKU:               req.SKU,
		Name:              req.Name,
		Unit:              domain.ItemUnit(strings.ToUpper(strings.TrimSpace(req.Unit))),
		MinStock:          req.MinStock,
		DefaultSupplierID: req.DefaultSupplierID,
	}
}

type stockMovementRequest struct {
	ItemID    uuid.UUID       `json:"item_id"`
	Kind      string          `json:"kind"`
	Quantity  decimal.Decimal `json:"quantity"`
	PartnerID *uuid.UUID      `json:"partner_id"`
	Reference string          `json:"reference"`
}

func writeItemError(w http.ResponseWriter, logger *slog.Logger, action string, err error) {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		http.Error(w, "item not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrDuplicateSKU):
		http.Error(w, "sku already in use", http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidItemUnit),
		errors.Is(err, domain.ErrItemFieldsRequired):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Error(action+" failed", "error", err)
		http.Error(w, "failed to "+action, http.StatusInternalServerError)
	}
}

func mountInventoryRoutes(r chi.Router, deps Deps, logger *slog.Logger) {
	r.Post("/items", func(w http.ResponseWriter, r *http.Request) {
		var req itemRequest
		if err := decodeJSONBody(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		rec, err := deps.Items.CreateItem(r.Context(), req.params())
		if err != nil {
			writeItemError(w, logger, "create item", err)
			return
		}

		writeJSON(w, http.StatusCreated, rec)
	})

	r.Get("/items", func(w http.ResponseWriter, r *http.Request) {
		includeArchived := r.URL.Query().Get("include_archived") == "true"

		items, err := deps.Items.ListItems(r.Context(), includeArchived)
		if err != nil {
			logger.Error("list items failed", "error", err)
			http.Error(w, "failed to list items", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"items": items,
		})
	})

	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid item ID", http.StatusBadRequest)
			return
		}

		rec, err := deps.Items.GetItem(r.Context(), id)
		if err != nil {
			writeItemError(w, logger, "get item", err)
			return
		}

		writeJSON(w, http.StatusOK, rec)
	})

	r.Put("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid item ID", http.StatusBadRequest)
			return
		}

		var req itemRequest
		if err := decodeJSONBody(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		rec, err := deps.Items.UpdateItem(r.Context(), id, req.params())
		if err != nil {
			writeItemError(w, logger, "update item", err)
			return
		}

		writeJSON(w, http.StatusOK, rec)
	})

	r.Delete("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid item ID", http.StatusBadRequest)
			return
		}

		if err := deps.Items.ArchiveItem(r.Context(), id); err != nil {
			writeItemError(w, logger, "archive item", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})

	// ---------------- STOCK ----------------

	r.Get("/items/{id}/stock", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid item ID", http.StatusBadRequest)
			return
		}

		summary, err := deps.Stock.GetStockSummary(r.Context(), id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "item not found", http.StatusNotFound)
				return
			}
			logger.Error("get stock summary failed", "item_id", id, "error", err)
			http.Error(w, "failed to get stock", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, summary)
	})

	r.Get("/items/{id}/movements", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid item ID", http.StatusBadRequest)
			return
		}

		limit := 50
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		movements, err := deps.Stock.ListMovements(r.Context(), id, limit)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "item not found", http.StatusNotFound)
				return
			}
			logger.Error("list movements failed", "item_id", id, "error", err)
			http.Error(w, "failed to list movements", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"item_id":   id.String(),
			"movements": movements,
		})
	})

	r.Post("/stock-movements", func(w http.ResponseWriter, r *http.Request) {
		var req stockMovementRequest
		if err := decodeJSONBody(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		rec, err := deps.Stock.RecordMovement(r.Context(), domain.StockMovementParams{
			ItemID:    req.ItemID,
			Kind:      domain.MovementKind(strings.ToUpper(strings.TrimSpace(req.Kind))),
			Quantity:  req.Quantity,
			PartnerID: req.PartnerID,
			Reference: req.Reference,
		})
		if err != nil {
			switch {
			case errors.Is(err, pgx.ErrNoRows):
				http.Error(w, "item not found", http.StatusNotFound)
			case errors.Is(err, domain.ErrNegativeStock):
				http.Error(w, "issue would drive stock negative", http.StatusConflict)
			case errors.Is(err, domain.ErrInvalidMovementKind),
				errors.Is(err, domain.ErrInvalidQuantity):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				logger.Error("record movement failed", "item_id", req.ItemID, "error", err)
				http.Error(w, "failed to record movement", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusCreated, rec)
	})

	r.Get("/stock/low", func(w http.ResponseWriter, r *http.Request) {
		low, err := deps.Stock.ListLowStock(r.Context())
		if err != nil {
			logger.Error("list low stock failed", "error", err)
			http.Error(w, "failed to list low stock", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"items": low,
		})
	})
}
