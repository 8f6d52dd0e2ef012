// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ferroline/factory-ops/internal/auth"
	"github.com/ferroline/factory-ops/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type createLotRunRequest struct {
	TemplateID uuid.UUID       `json:"template_id"`
	ItemID     uuid.UUID       `json:"item_id"`
	LotCode    string          `json:"lot_code"`
	InputQty   decimal.Decimal `json:"input_qty"`
	WebhookURL string          `json:"webhook_url"`
}

type completeStepRequest struct {
	OutputQty decimal.Decimal `json:"output_qty"`
	ScrapQty  decimal.Decimal `json:"scrap_qty"`
	Note      string          `json:"note"`
}

type stepNoteRequest struct {
	Note string `json:"note"`
}

type signoffRequest struct {
	ApprovedBy string `json:"approved_by"`
}

type raiseNCRequest struct {
	StepRunID   uuid.UUID       `json:"step_run_id"`
	Severity    string          `json:"severity"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
}

type resolveNCRequest struct {
	Resolution string `json:"resolution"`
}

// decodeOptionalJSONBody is decodeJSONBody for endpoints where an empty
// body is valid.
func decodeOptionalJSONBody(r *http.Request, dst any) error {
	err := decodeJSONBody(r, dst)
	if errors.Is(err, errEmptyBody) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func decodeCreateLotRunRequest(r *http.Request) (createLotRunRequest, error) {
	var req createLotRunRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return createLotRunRequest{}, err
	}

	req.LotCode = strings.TrimSpace(req.LotCode)
	req.WebhookURL = strings.TrimSpace(req.WebhookURL)
	if req.LotCode == "" {
		return createLotRunRequest{}, errors.New("lot_code required")
	}
	if req.WebhookURL == "" {
		return req, nil
	}

	parsed, err := url.Parse(req.WebhookURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return createLotRunRequest{}, errors.New("invalid webhook_url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return createLotRunRequest{}, errors.New("unsupported webhook_url scheme")
	}

	return req, nil
}

// writeStepTransitionError maps workflow gating failures to 409 and bad
// input to 400; everything else is a 500.
func writeStepTransitionError(w http.ResponseWriter, logger *slog.Logger, action string, lotID uuid.UUID, err error) {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		http.Error(w, "lot run not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrLotTerminal),
		errors.Is(err, domain.ErrStepNotPending),
		errors.Is(err, domain.ErrStepNotInProgress),
		errors.Is(err, domain.ErrStepOrderViolation),
		errors.Is(err, domain.ErrStepNotSkippable),
		errors.Is(err, domain.ErrSignoffStepsOpen),
		errors.Is(err, domain.ErrSignoffNoOutput),
		errors.Is(err, domain.ErrSignoffOpenNC):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrQuantityConservation),
		errors.Is(err, domain.ErrInvalidQuantity):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Error(action+" failed", "lot_run_id", lotID, "error", err)
		http.Error(w, "failed to "+action, http.StatusInternalServerError)
	}
}

func mountLotRunRoutes(r chi.Router, deps Deps, logger *slog.Logger) {
	// ---------------- CREATE LOT RUN ----------------

	r.Post("/lot-runs", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey)); key != "" {
			ctx = auth.WithIdempotencyKey(ctx, key)
		}

		reqBody, err := decodeCreateLotRunRequest(r)
		if err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		lotID, err := deps.LotRuns.CreateLotRun(ctx, domain.CreateLotRunParams{
			TemplateID: reqBody.TemplateID,
			ItemID:     reqBody.ItemID,
			LotCode:    reqBody.LotCode,
			InputQty:   reqBody.InputQty,
			WebhookURL: reqBody.WebhookURL,
		})
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrMaxOpenLotsExceeded):
				if w.Header().Get("Retry-After") == "" {
					w.Header().Set("Retry-After", "1")
				}
				http.Error(w, "max open lot runs exceeded", http.StatusTooManyRequests)
			case errors.Is(err, domain.ErrProcessTemplateNotFound),
				errors.Is(err, domain.ErrTemplateInactive),
				errors.Is(err, domain.ErrInvalidQuantity):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, pgx.ErrNoRows):
				http.Error(w, "item not found", http.StatusBadRequest)
			default:
				logger.Error("create lot run failed", "error", err)
				http.Error(w, "failed to create lot run", http.StatusInternalServerError)
			}
			return
		}

		logger.Info("lot run created via API", "lot_run_id", lotID)

		writeJSON(w, http.StatusOK, map[string]string{
			"lot_run_id": lotID.String(),
		})
	})

	// ---------------- LIST LOT RUNS ----------------

	r.Get("/lot-runs", func(w http.ResponseWriter, r *http.Request) {
		status := domain.LotStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
		if status != "" && !status.Valid() {
			http.Error(w, "invalid status filter", http.StatusBadRequest)
			return
		}

		lots, err := deps.LotRuns.ListLotRuns(r.Context(), status)
		if err != nil {
			logger.Error("list lot runs failed", "error", err)
			http.Error(w, "failed to list lot runs", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"lot_runs": lots,
		})
	})

	// ---------------- GET LOT RUN ----------------

	r.Get("/lot-runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		lotID, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid lot run ID", http.StatusBadRequest)
			return
		}

		rec, err := deps.LotRuns.GetLotRun(r.Context(), lotID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				logger.Warn("lot run not found", "lot_run_id", lotID)
				http.Error(w, "lot run not found", http.StatusNotFound)
				return
			}
			logger.Error("get lot run failed", "lot_run_id", lotID, "error", err)
			http.Error(w, "failed to get lot run", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, rec)
	})

	// ---------------- LIST STEPS ----------------

	r.Get("/lot-runs/{id}/steps", func(w http.ResponseWriter, r *http.Request) {
		lotID, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid lot run ID", http.StatusBadRequest)
			return
		}

		steps, err := deps.LotRuns.ListSteps(r.Context(), lotID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				logger.Warn("lot run not found", "lot_run_id", lotID)
				http.Error(w, "lot run not found", http.StatusNotFound)
				return
			}
			logger.Error("list steps failed", "lot_run_id", lotID, "error", err)
			http.Error(w, "failed to list steps", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			LotRunID string                 `json:"lot_run_id"`
			Steps    []domain.StepRunRecord `json:"steps"`
		}{
			LotRunID: lotID.String(),
			Steps:    steps,
		})
	})

	// ---------------- STEP TRANSITIONS ----------------

	r.Post("/lot-runs/{id}/steps/{stepID}/start", func(w http.ResponseWriter, r *http.Request) {
		lotID, stepID, ok := parseLotAndStepIDs(w, r)
		if !ok {
			return
		}

		if err := deps.LotRuns.StartStep(r.Context(), lotID, stepID); err != nil {
			writeStepTransitionError(w, logger, "start step", lotID, err)
			return
		}

		logger.Info("step started via API", "lot_run_id", lotID, "step_run_id", stepID)

		writeJSON(w, http.StatusOK, map[string]string{
			"step_run_id": stepID.String(),
			"status":      string(domain.StepInProgress),
		})
	})

	r.Post("/lot-runs/{id}/steps/{stepID}/complete", func(w http.ResponseWriter, r *http.Request) {
		lotID, stepID, ok := parseLotAndStepIDs(w, r)
		if !ok {
			return
		}

		var req completeStepRequest
		if err := decodeJSONBody(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		err := deps.LotRuns.CompleteStep(r.Context(), lotID, stepID, domain.CompleteStepParams{
			OutputQty: req.OutputQty,
			ScrapQty:  req.ScrapQty,
			Note:      req.Note,
		})
		if err != nil {
			writeStepTransitionError(w, logger, "complete step", lotID, err)
			return
		}

		logger.Info("step completed via API", "lot_run_id", lotID, "step_run_id", stepID)

		writeJSON(w, http.StatusOK, map[string]string{
			"step_run_id": stepID.String(),
			"status":      string(domain.StepCompleted),
		})
	})

	r.Post("/lot-runs/{id}/steps/{stepID}/skip", func(w http.ResponseWriter, r *http.Request) {
		lotID, stepID, ok := parseLotAndStepIDs(w, r)
		if !ok {
			return
		}

		var req stepNoteRequest
		if err := decodeOptionalJSONBody(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := deps.LotRuns.SkipStep(r.Context(), lotID, stepID, req.Note); err != nil {
			writeStepTransitionError(w, logger, "skip step", lotID, err)
			return
		}

		logger.Info("step skipped via API", "lot_run_id", lotID, "step_run_id", stepID)

		writeJSON(w, http.StatusOK, map[string]string{
			"step_run_id": stepID.String(),
			"status":      string(domain.StepSkipped),
		})
	})

	r.Post("/lot-runs/{id}/steps/{stepID}/fail", func(w http.ResponseWriter, r *http.Request) {
		lotID, stepID, ok := parseLotAndStepIDs(w, r)
		if !ok {
			return
		}

		var req stepNoteRequest
		if err := decodeOptionalJSONBody(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := deps.LotRuns.FailStep(r.Context(), lotID, stepID, req.Note); err != nil {
			writeStepTransitionError(w, logger, "fail step", lotID, err)
			return
		}

		logger.Info("step failed via API", "lot_run_id", lotID, "step_run_id", stepID)

		writeJSON(w, http.StatusOK, map[string]string{
			"step_run_id": stepID.String(),
			"status":      string(domain.StepFailed),
		})
	})

	// ---------------- CANCEL LOT RUN ----------------

	r.Post("/lot-runs/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		lotID, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid lot run ID", http.StatusBadRequest)
			return
		}

		if err := deps.LotRuns.CancelLotRun(r.Context(), lotID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				logger.Warn("lot run not found", "lot_run_id", lotID)
				http.Error(w, "lot run not found", http.StatusNotFound)
				return
			}
			logger.Error("cancel lot run failed", "lot_run_id", lotID, "error", err)
			http.Error(w, "failed to cancel lot run", http.StatusInternalServerError)
			return
		}

		logger.Info("lot run canceled via API", "lot_run_id", lotID)

		// Cancel is a no-op on terminal lots, so echo the stored status
		// rather than assuming CANCELED.
		lot, err := deps.LotRuns.GetLotRun(r.Context(), lotID)
		if err != nil {
			logger.Error("load lot after cancel failed", "lot_run_id", lotID, "error", err)
			http.Error(w, "failed to cancel lot run", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"id":     lotID.String(),
			"status": string(lot.Status),
		})
	})

	// ---------------- SIGNOFF ----------------

	r.Post("/lot-runs/{id}/signoff", func(w http.ResponseWriter, r *http.Request) {
		lotID, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid lot run ID", http.StatusBadRequest)
			return
		}

		var req signoffRequest
		if err := decodeOptionalJSONBody(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := deps.LotRuns.SignoffLotRun(r.Context(), lotID, req.ApprovedBy); err != nil {
			writeStepTransitionError(w, logger, "signoff lot run", lotID, err)
			return
		}

		logger.Info("lot run signed off via API", "lot_run_id", lotID)

		// Signoff skips lots that are already terminal, so report what the
		// lot actually ended up as.
		lot, err := deps.LotRuns.GetLotRun(r.Context(), lotID)
		if err != nil {
			logger.Error("load lot after signoff failed", "lot_run_id", lotID, "error", err)
			http.Error(w, "failed to sign off lot run", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"id":     lotID.String(),
			"status": string(lot.Status),
		})
	})

	// ---------------- STREAM EVENTS (SSE) ----------------

	r.Get("/lot-runs/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		lotID, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid lot run ID", http.StatusBadRequest)
			return
		}

		// Enforce tenant ownership and hide cross-tenant existence.
		if _, err := deps.LotRuns.GetLotRun(r.Context(), lotID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "lot run not found", http.StatusNotFound)
				return
			}
			logger.Error("sse get lot run failed", "lot_run_id", lotID, "error", err)
			http.Error(w, "failed to stream events", http.StatusInternalServerError)
			return
		}

		if deps.Events == nil {
			logger.Error("sse events repository is not configured")
			http.Error(w, "failed to stream events", http.StatusInternalServerError)
			return
		}

		since := strings.TrimSpace(r.URL.Query().Get("since_id"))
		cursor, err := resolveEventsCursor(r.Context(), deps.Events, lotID, since)
		if err != nil {
			if errors.Is(err, errInvalidSinceID) {
				http.Error(w, "invalid since_id", http.StatusBadRequest)
				return
			}
			logger.Error("resolve events cursor failed",
				"lot_run_id", lotID,
				"since_id", since,
				"error", err,
			)
			http.Error(w, "failed to stream events", http.StatusInternalServerError)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		writeEvents := func() error {
			events, err := deps.Events.ListEventsAfter(r.Context(), lotID, cursor)
			if err != nil {
				return err
			}

			for _, ev := range events {
				payload, err := json.Marshal(ev)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(w, "event: lot_update\ndata: %s\n\n", payload); err != nil {
					return err
				}
				flusher.Flush()
				cursor = ev.Seq
			}

			return nil
		}

		if err := writeEvents(); err != nil {
			logger.Error("sse initial write failed", "lot_run_id", lotID, "error", err)
			return
		}

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if err := writeEvents(); err != nil {
					logger.Error("sse write failed", "lot_run_id", lotID, "error", err)
					return
				}
			}
		}
	})

	// ---------------- NON-CONFORMANCES ----------------

	r.Post("/lot-runs/{id}/non-conformances", func(w http.ResponseWriter, r *http.Request) {
		lotID, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid lot run ID", http.StatusBadRequest)
			return
		}

		var req raiseNCRequest
		if err := decodeJSONBody(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		rec, err := deps.NonConform.RaiseNC(r.Context(), lotID, domain.RaiseNCParams{
			StepRunID:   req.StepRunID,
			Severity:    domain.NCSeverity(strings.ToUpper(strings.TrimSpace(req.Severity))),
			Description: req.Description,
			Quantity:    req.Quantity,
		})
		if err != nil {
			switch {
			case errors.Is(err, pgx.ErrNoRows):
				http.Error(w, "lot run not found", http.StatusNotFound)
			case errors.Is(err, domain.ErrNCStepNotStarted),
				errors.Is(err, domain.ErrLotTerminal):
				http.Error(w, err.Error(), http.StatusConflict)
			case errors.Is(err, domain.ErrInvalidNCSeverity),
				errors.Is(err, domain.ErrNCDescriptionRequired):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				logger.Error("raise non-conformance failed", "lot_run_id", lotID, "error", err)
				http.Error(w, "failed to raise non-conformance", http.StatusInternalServerError)
			}
			return
		}

		logger.Info("non-conformance raised via API",
			"lot_run_id", lotID,
			"nc_id", rec.ID,
			"severity", rec.Severity,
		)

		writeJSON(w, http.StatusCreated, rec)
	})

	r.Get("/lot-runs/{id}/non-conformances", func(w http.ResponseWriter, r *http.Request) {
		lotID, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid lot run ID", http.StatusBadRequest)
			return
		}

		ncs, err := deps.NonConform.ListNCs(r.Context(), lotID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "lot run not found", http.StatusNotFound)
				return
			}
			logger.Error("list non-conformances failed", "lot_run_id", lotID, "error", err)
			http.Error(w, "failed to list non-conformances", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"lot_run_id":       lotID.String(),
			"non_conformances": ncs,
		})
	})

	r.Post("/non-conformances/{id}/resolve", func(w http.ResponseWriter, r *http.Request) {
		ncID, err := parseIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid non-conformance ID", http.StatusBadRequest)
			return
		}

		var req resolveNCRequest
		if err := decodeJSONBody(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := deps.NonConform.ResolveNC(r.Context(), ncID, req.Resolution); err != nil {
			switch {
			case errors.Is(err, pgx.ErrNoRows):
				http.Error(w, "non-conformance not found", http.StatusNotFound)
			case errors.Is(err, domain.ErrNCAlreadyResolved):
				http.Error(w, err.Error(), http.StatusConflict)
			case errors.Is(err, domain.ErrNCResolutionRequired):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				logger.Error("resolve non-conformance failed", "nc_id", ncID, "error", err)
				http.Error(w, "failed to resolve non-conformance", http.StatusInternalServerError)
			}
			return
		}

		logger.Info("non-conformance resolved via API", "nc_id", ncID)

		writeJSON(w, http.StatusOK, map[string]string{
			"id":     ncID.String(),
			"status": string(domain.NCResolved),
		})
	})
}

func parseLotAndStepIDs(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	lotID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid lot run ID", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	stepID, err := uuid.Parse(chi.URLParam(r, "stepID"))
	if err != nil {
		http.Error(w, "invalid step run ID", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return lotID, stepID, true
}
