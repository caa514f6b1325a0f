package outbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	webhook "github.com/crawlrs/crawlrs/internal/domain/webhook"
	"github.com/crawlrs/crawlrs/internal/infra/webhookstore"
)

type fakeSecrets struct{ secret string }

func (f fakeSecrets) SigningSecret(ctx context.Context, tenant string) (string, error) {
	return f.secret, nil
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	sig := Sign("shh", []byte(`{"a":1}`))
	if !Verify("shh", []byte(`{"a":1}`), sig) {
		t.Fatalf("expected signature to verify")
	}
	if Verify("wrong", []byte(`{"a":1}`), sig) {
		t.Fatalf("expected signature to fail under wrong secret")
	}
}

func TestDeliverDueMarksDeliveredOn2xx(t *testing.T) {
	var gotSig, gotEvent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-crawlrs-Signature")
		gotEvent = r.Header.Get("X-crawlrs-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := webhookstore.NewMemoryStore()
	ctx := context.Background()
	_ = store.Append(ctx, &webhook.Event{
		ID: "e1", Tenant: "t1", EventType: webhook.EventScrapeCompleted,
		ResourceID: "task-1", Payload: []byte(`{"ok":true}`), TargetURL: srv.URL,
	})

	w := NewWorker(store, fakeSecrets{secret: "shh"}, &http.Client{})
	if err := w.DeliverDue(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotEvent != webhook.EventScrapeCompleted {
		t.Fatalf("expected event-type header, got %q", gotEvent)
	}
	if gotSig == "" {
		t.Fatalf("expected a signature header")
	}

	due, _ := store.DuePending(ctx, time.Now(), 10)
	if len(due) != 0 {
		t.Fatalf("expected delivered event no longer due")
	}
}

func TestDeliverDueReschedulesOn5xxThenGoesDead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := webhookstore.NewMemoryStore()
	ctx := context.Background()
	_ = store.Append(ctx, &webhook.Event{
		ID: "e1", Tenant: "t1", EventType: webhook.EventScrapeFailed,
		ResourceID: "task-1", Payload: []byte(`{}`), TargetURL: srv.URL,
		RetryCount: webhook.DefaultMaxRetries, MaxRetries: webhook.DefaultMaxRetries,
	})

	w := NewWorker(store, fakeSecrets{secret: "shh"}, &http.Client{})
	if err := w.DeliverDue(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	due, _ := store.DuePending(ctx, time.Now().Add(time.Hour), 10)
	if len(due) != 0 {
		t.Fatalf("expected event with its retry budget spent to go dead on this failure, found still pending")
	}
}
