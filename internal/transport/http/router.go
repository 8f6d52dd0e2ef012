// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ferroline/factory-ops/internal/domain"
	"github.com/ferroline/factory-ops/internal/metrics"
	"github.com/ferroline/factory-ops/internal/transport/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const headerIdempotencyKey = "Idempotency-Key"

type createAPIKeyRequest struct {
	Name              string `json:"name"`
	MaxOpenLots       int    `json:"max_open_lots"`
	MaxRequestsPerMin int    `json:"max_requests_per_min"`
}

type Deps struct {
	Partners       PartnerStore
	Items          ItemStore
	Stock          StockStore
	Templates      TemplateStore
	LotRuns        LotRunStore
	NonConform     NonConformanceStore
	Packaging      PackagingStore
	Events         EventStreamer
	APIKeyAdmin    APIKeyManager
	APIKeyResolver APIKeyResolver
	Health         HealthChecker
	Logger         *slog.Logger
	AdminToken     string
	Version        string
	Commit         string
	BuildDate      string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Warn("readiness check failed", "error", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- API KEY LIFECYCLE (ADMIN) ----------------

	if deps.APIKeyAdmin != nil {
		r.Route("/api-keys", func(admin chi.Router) {
			admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

			admin.Post("/", func(w http.ResponseWriter, r *http.Request) {
				reqBody, err := decodeCreateAPIKeyRequest(r)
				if err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				created, err := deps.APIKeyAdmin.CreateAPIKey(r.Context(), domain.CreateAPIKeyParams{
					Name:              reqBody.Name,
					MaxOpenLots:       reqBody.MaxOpenLots,
					MaxRequestsPerMin: reqBody.MaxRequestsPerMin,
				})
				if err != nil {
					if errors.Is(err, domain.ErrInvalidAPIKeyName) {
						http.Error(w, "invalid api key name", http.StatusBadRequest)
						return
					}
					logger.Error("create api key failed", "error", err)
					http.Error(w, "failed to create api key", http.StatusInternalServerError)
					return
				}

				writeJSON(w, http.StatusOK, map[string]string{
					"api_key_id": created.ID.String(),
					"token":      created.Token,
				})
			})

			admin.Get("/", func(w http.ResponseWriter, r *http.Request) {
				keys, err := deps.APIKeyAdmin.ListAPIKeys(r.Context())
				if err != nil {
					logger.Error("list api keys failed", "error", err)
					http.Error(w, "failed to list api keys", http.StatusInternalServerError)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{
					"api_keys": keys,
				})
			})

			admin.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
				id, err := uuid.Parse(chi.URLParam(r, "id"))
				if err != nil {
					http.Error(w, "invalid api key ID", http.StatusBadRequest)
					return
				}

				if err := deps.APIKeyAdmin.RevokeAPIKey(r.Context(), id); err != nil {
					if errors.Is(err, pgx.ErrNoRows) {
						http.Error(w, "api key not found", http.StatusNotFound)
						return
					}
					logger.Error("delete api key failed", "api_key_id", id, "error", err)
					http.Error(w, "failed to delete api key", http.StatusInternalServerError)
					return
				}

				w.WriteHeader(http.StatusNoContent)
			})
		})
	}

	// ---------------- TENANT ROUTES (API KEY AUTH) ----------------

	r.Group(func(r chi.Router) {
		if deps.APIKeyResolver != nil {
			r.Use(middleware.APITokenAuth(deps.APIKeyResolver, logger))
		}

		mountPartnerRoutes(r, deps, logger)
		mountInventoryRoutes(r, deps, logger)
		mountTemplateRoutes(r, deps, logger)
		mountLotRunRoutes(r, deps, logger)
		mountPackagingRoutes(r, deps, logger)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var errEmptyBody = errors.New("request body required")

// decodeJSONBody rejects unknown fields and trailing JSON values.
func decodeJSONBody(r *http.Request, dst any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return errEmptyBody
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}
	return nil
}

func decodeCreateAPIKeyRequest(r *http.Request) (createAPIKeyRequest, error) {
	var req createAPIKeyRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return createAPIKeyRequest{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return createAPIKeyRequest{}, domain.ErrInvalidAPIKeyName
	}

	return req, nil
}

func parseIDParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

var errInvalidSinceID = errors.New("invalid since_id")

func resolveEventsCursor(
	ctx context.Context,
	events EventStreamer,
	lotRunID uuid.UUID,
	since string,
) (int64, error) {
	if since == "" {
		return 0, nil
	}

	if seq, err := strconv.ParseInt(since, 10, 64); err == nil {
		if seq < 0 {
			return 0, errInvalidSinceID
		}
		return seq, nil
	}

	eventID, err := uuid.Parse(since)
	if err != nil {
		return 0, errInvalidSinceID
	}

	seq, err := events.ResolveCursorByEventID(ctx, lotRunID, eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errInvalidSinceID
		}
		return 0, err
	}

	return seq, nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
