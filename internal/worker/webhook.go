// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ferroline/factory-ops/internal/metrics"
	"github.com/google/uuid"
)

const webhookHeaderSig = "X-Signature"

type webhookEnvelope struct {
	NotificationID uuid.UUID       `json:"notification_id"`
	LotRunID       uuid.UUID       `json:"lot_run_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	SentAt         time.Time       `json:"sent_at"`
}

// deliverNotification performs one signed POST. Scheduling of retries is the
// caller's job; this never loops.
func (w *Worker) deliverNotification(ctx context.Context, n claimedNotification) error {
	url := strings.TrimSpace(n.URL)
	if url == "" {
		return fmt.Errorf("notification %s has no webhook url", n.ID)
	}

	body, err := json.Marshal(webhookEnvelope{
		NotificationID: n.ID,
		LotRunID:       n.LotRunID,
		EventType:      n.EventType,
		Payload:        n.Payload,
		SentAt:         time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signature := signWebhookPayload(w.webhookSecret, body); signature != "" {
		req.Header.Set(webhookHeaderSig, signature)
	}

	metrics.IncWebhookAttempts()
	started := time.Now()
	resp, err := w.httpClient.Do(req)
	metrics.ObserveWebhookDelivery(time.Since(started))
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}

	return nil
}

func signWebhookPayload(secret string, payload []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
