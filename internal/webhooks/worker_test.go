package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vrpnav/internal/model"
	"vrpnav/internal/store"
)

func modelSubscription(tenant, url, event string) model.SubscriptionRequest {
	return model.SubscriptionRequest{TenantID: tenant, URL: url, Events: []string{event}, Secret: "shh"}
}

func TestSignAndVerifyHMAC(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	sig := SignHMAC("secret", body)
	if !VerifyHMAC("secret", body, sig) {
		t.Fatal("signature should verify")
	}
	if VerifyHMAC("wrong", body, sig) {
		t.Fatal("wrong secret must not verify")
	}
	if VerifyHMAC("secret", []byte("tampered"), sig) {
		t.Fatal("tampered body must not verify")
	}
	if VerifyHMAC("secret", body, "not-hex") {
		t.Fatal("malformed signature must not verify")
	}
}

func TestNextBackoff(t *testing.T) {
	if nextBackoff(0) != time.Second {
		t.Fatalf("attempt 0: %v", nextBackoff(0))
	}
	if nextBackoff(3) != 8*time.Second {
		t.Fatalf("attempt 3: %v", nextBackoff(3))
	}
	if nextBackoff(-1) != time.Second {
		t.Fatalf("negative attempts: %v", nextBackoff(-1))
	}
	if nextBackoff(100) > time.Hour {
		t.Fatalf("backoff should cap at an hour: %v", nextBackoff(100))
	}
}

func TestWorkerDeliversSignedPayload(t *testing.T) {
	var gotSig, gotEvent string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotEvent = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	m := store.NewMemory()
	ctx := context.Background()
	payload := []byte(`{"runId":"run_1"}`)
	id, err := m.EnqueueWebhook(ctx, "t1", "sub1", "run.completed", srv.URL, "shh", payload)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := NewWorker(m)
	w.processOnce()

	if gotEvent != "run.completed" {
		t.Fatalf("event header: %q", gotEvent)
	}
	if !VerifyHMAC("shh", gotBody, gotSig) {
		t.Fatal("delivered payload signature does not verify")
	}

	items, _, err := m.ListWebhookDeliveries(ctx, "t1", "delivered", "", 10)
	if err != nil || len(items) != 1 || items[0]["id"] != id {
		t.Fatalf("delivery not marked delivered: %v %+v", err, items)
	}
}

func TestWorkerRetriesOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	m := store.NewMemory()
	ctx := context.Background()
	_, _ = m.EnqueueWebhook(ctx, "t1", "sub1", "run.completed", srv.URL, "", []byte(`{}`))

	w := NewWorker(m)
	w.processOnce()

	items, _, _ := m.ListWebhookDeliveries(ctx, "t1", "pending", "", 10)
	if len(items) != 1 {
		t.Fatalf("delivery should stay pending for retry: %+v", items)
	}
	if items[0]["attempts"].(int) != 1 {
		t.Fatalf("attempts not incremented: %+v", items[0])
	}

	// not due again until the backoff elapses
	due, _ := m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 0 {
		t.Fatalf("retry should be scheduled in the future: %+v", due)
	}
}

func TestWorkerFailsAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
	}))
	defer srv.Close()

	m := store.NewMemory()
	ctx := context.Background()
	_, _ = m.EnqueueWebhook(ctx, "t1", "sub1", "run.failed", srv.URL, "", []byte(`{}`))

	w := NewWorker(m)
	w.MaxAttempts = 1
	w.processOnce()

	items, _, _ := m.ListWebhookDeliveries(ctx, "t1", "failed", "", 10)
	if len(items) != 1 {
		t.Fatalf("delivery should be failed after max attempts: %+v", items)
	}
}

func TestPublisherEnqueuesForMatchingSubscriptions(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	_, _ = m.CreateSubscription(ctx, modelSubscription("t1", "https://example.invalid/a", "run.completed"))
	_, _ = m.CreateSubscription(ctx, modelSubscription("t1", "https://example.invalid/b", "run.failed"))

	p := NewPublisher(m)
	p.Emit(ctx, "t1", EventRunCompleted, map[string]any{"runId": "run_1"})

	items, _, _ := m.ListWebhookDeliveries(ctx, "t1", "", "", 10)
	if len(items) != 1 {
		t.Fatalf("expected one enqueued delivery: %+v", items)
	}
	if items[0]["eventType"] != "run.completed" {
		t.Fatalf("event type: %+v", items[0])
	}
}
