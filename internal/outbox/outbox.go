// Package outbox implements the webhook delivery worker: polling
// pending events, signing with HMAC-SHA256, POSTing with the
// signature/event-type headers, and rescheduling on failure per the
// fixed retry schedule in internal/errors.WebhookBackoff.
package outbox

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	webhook "github.com/crawlrs/crawlrs/internal/domain/webhook"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/logging"
)

// SecretResolver looks up the HMAC signing secret for a tenant.
type SecretResolver interface {
	SigningSecret(ctx context.Context, tenant string) (string, error)
}

// Worker polls and delivers pending webhook events.
type Worker struct {
	store    webhook.Store
	secrets  SecretResolver
	client   *http.Client
	logger   logging.Logger
	interval time.Duration
	batch    int
}

// NewWorker builds a delivery worker; client should already have a 10s
// timeout configured by the caller unless overridden per request.
func NewWorker(store webhook.Store, secrets SecretResolver, client *http.Client) *Worker {
	return &Worker{
		store:    store,
		secrets:  secrets,
		client:   client,
		logger:   logging.NewComponentLogger("outbox"),
		interval: 2 * time.Second,
		batch:    50,
	}
}

// Run polls w.store every w.interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.DeliverDue(ctx); err != nil {
				w.logger.Error("deliver due: %v", err)
			}
		}
	}
}

// DeliverDue delivers every pending event whose next_retry_at has
// elapsed. Exported so tests can drive delivery deterministically.
func (w *Worker) DeliverDue(ctx context.Context) error {
	events, err := w.store.DuePending(ctx, time.Now(), w.batch)
	if err != nil {
		return err
	}
	for _, e := range events {
		w.deliverOne(ctx, e)
	}
	return nil
}

func (w *Worker) deliverOne(ctx context.Context, e *webhook.Event) {
	secret, err := w.secrets.SigningSecret(ctx, e.Tenant)
	if err != nil {
		w.logger.Error("resolving signing secret for tenant %s: %v", e.Tenant, err)
		return
	}

	sig := Sign(secret, e.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.TargetURL, bytes.NewReader(e.Payload))
	if err != nil {
		w.logger.Error("building webhook request for event %s: %v", e.ID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-crawlrs-Signature", "sha256="+sig)
	req.Header.Set("X-crawlrs-Event", e.EventType)

	client := w.client
	if client.Timeout == 0 {
		c := *client
		c.Timeout = 10 * time.Second
		client = &c
	}

	resp, err := client.Do(req)
	if err != nil {
		w.reschedule(ctx, e)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if mErr := w.store.MarkDelivered(ctx, e.ID, time.Now()); mErr != nil {
			w.logger.Error("marking event %s delivered: %v", e.ID, mErr)
		}
		return
	}
	w.reschedule(ctx, e)
}

func (w *Worker) reschedule(ctx context.Context, e *webhook.Event) {
	nextCount := e.RetryCount + 1
	if nextCount > e.MaxRetries {
		if err := w.store.MarkDead(ctx, e.ID); err != nil {
			w.logger.Error("marking event %s dead: %v", e.ID, err)
		}
		return
	}
	nextAt := time.Now().Add(domainerrors.WebhookBackoff(e.RetryCount))
	if err := w.store.MarkRetry(ctx, e.ID, nextCount, nextAt); err != nil {
		w.logger.Error("rescheduling event %s: %v", e.ID, err)
	}
}

// Sign computes the hex-encoded HMAC-SHA256 of payload under secret,
// matching the X-crawlrs-Signature header format this requires.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig (hex, no "sha256=" prefix) matches payload
// signed under secret; used by any internal replay/test tooling.
func Verify(secret string, payload []byte, sig string) bool {
	expected, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}
