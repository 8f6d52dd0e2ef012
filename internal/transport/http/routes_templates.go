// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ferroline/factory-ops/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
)

type createTemplateRequest struct {
	Name        string                      `json:"name"`
	Description string                      `json:"description"`
	Steps       []domain.TemplateStepParams `json:"steps"`
}

func mountTemplateRoutes(r chi.Router, deps Deps, logger *slog.Logger) {
	r.Post("/process-templates", func(w http.ResponseWriter, r *http.Request) {
		var req createTemplateRequest
		if err := decodeJSONBody(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		rec, err := deps.Templates.CreateTemplate(r.Context(), domain.CreateTemplateParams{
			Name:        req.Name,
			Description: req.Description,
			Steps:       req.Steps,
		})
		if err != nil {
			if errors.Is(err, domain.ErrTemplateNameRequired) ||
				errors.Is(err, domain.ErrTemplateNeedsSteps) ||
				errors.Is(err, domain.ErrTemplateStepOrder) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.Error("create template failed", "error", err)
			http.Error(w, "failed to create template", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, rec)
	})

	r.Get("/process-templates", func(w http.ResponseWriter, r *http.Request) {
		includeInactive := r.URL.Query().Get("include_inactive") == "true"

		templates, err := deps.Templates.ListTemplates(r.Context(), includeInactive)
		if err != nil {
			logger.Error("list templates failed", "error", err)
			http.Error(w, "failed to list templates", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"templates": templates,
		})
	})

	r.Get("/process-templates/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid template ID", http.StatusBadRequest)
			return
		}

		rec, err := deps.Templates.GetTemplate(r.Context(), id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "template not found", http.StatusNotFound)
				return
			}
			logger.Error("get template failed", "template_id", id, "error", err)
			http.Error(w, "failed to get template", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, rec)
	})

	r.Post("/process-templates/{id}/deactivate", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid template ID", http.StatusBadRequest)
			return
		}

		if err := deps.Templates.DeactivateTemplate(r.Context(), id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "template not found", http.StatusNotFound)
				return
			}
			logger.Error("deactivate template failed", "template_id", id, "error", err)
			http.Error(w, "failed to deactivate template", http.StatusInternalServerError)
			return
		}

		logger.Info("template deactivated via API", "template_id", id)

		writeJSON(w, http.StatusOK, map[string]string{
			"id":     id.String(),
			"active": "false",
		})
	})
}
