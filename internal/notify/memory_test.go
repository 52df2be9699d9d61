package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"boltzflow/internal/model"
	"boltzflow/internal/testutil"
)

func statusEvent() model.StatusEvent {
	return model.StatusEvent{
		CompoundID: uuid.New(),
		RunID:      uuid.New(),
		CampaignID: uuid.New(),
		Status:     model.StatusCompleted,
	}
}

func TestWebhookNotifier_Delivers(t *testing.T) {
	var received atomic.Int32
	var lastType atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		lastType.Store(r.Header.Get("X-Event-Type"))

		var body struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Data["compound_id"] == "" {
			t.Error("payload missing compound_id")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhook(Config{
		CallbackURL: server.URL,
		BufferSize:  100,
		Workers:     2,
		HTTPTimeout: 5 * time.Second,
	}, nil)

	n.StatusChanged(statusEvent())

	testutil.MustWaitFor(t, func() bool {
		return received.Load() >= 1
	}, testutil.WithTimeout(5*time.Second))

	if got := lastType.Load(); got != TypeStatusChanged {
		t.Errorf("X-Event-Type = %v, want %s", got, TypeStatusChanged)
	}
	if stats := n.Stats(); stats.Delivered != 1 {
		t.Errorf("expected 1 delivered, got %d", stats.Delivered)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n.Close(ctx)
}

func TestWebhookNotifier_BufferFull(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhook(Config{
		CallbackURL: server.URL,
		BufferSize:  2,
		Workers:     1,
		HTTPTimeout: 5 * time.Second,
	}, nil)

	for range 10 {
		n.FilesReady(model.FilesReadyEvent{CompoundID: uuid.New(), RunID: uuid.New()})
	}

	testutil.MustWaitFor(t, func() bool {
		return n.Stats().Dropped > 0 || n.Stats().Delivered > 0
	}, testutil.WithTimeout(5*time.Second))

	if stats := n.Stats(); stats.Dropped == 0 {
		t.Error("expected some events to be dropped")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n.Close(ctx)
}

func TestWebhookNotifier_Retry(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhook(Config{
		CallbackURL: server.URL,
		BufferSize:  100,
		Workers:     1,
		HTTPTimeout: 5 * time.Second,
	}, nil)

	n.RunCompleted(model.RunCompletion{RunID: uuid.New(), CampaignID: uuid.New(), RunName: "b1"})

	testutil.MustWaitFor(t, func() bool {
		return n.Stats().Delivered >= 1
	}, testutil.WithTimeout(5*time.Second))

	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if stats := n.Stats(); stats.RetriesTotal < 2 {
		t.Errorf("RetriesTotal = %d, want >= 2", stats.RetriesTotal)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n.Close(ctx)
}

func TestWebhookNotifier_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewWebhook(Config{
		CallbackURL: server.URL,
		BufferSize:  100,
		Workers:     1,
		HTTPTimeout: 5 * time.Second,
	}, nil)

	n.FilesReady(model.FilesReadyEvent{CompoundID: uuid.New(), RunID: uuid.New()})

	testutil.MustWaitFor(t, func() bool {
		return n.Stats().Failed >= 1
	}, testutil.WithTimeout(5*time.Second))

	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n.Close(ctx)
}

func TestWebhookNotifier_CloseDrains(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhook(Config{
		CallbackURL: server.URL,
		BufferSize:  100,
		Workers:     2,
		HTTPTimeout: 5 * time.Second,
	}, nil)

	for range 10 {
		n.StatusChanged(statusEvent())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := received.Load(); got != 10 {
		t.Errorf("received = %d after drain, want 10", got)
	}

	// Dispatch after close is rejected without panic.
	n.StatusChanged(statusEvent())
}

func TestNopNotifier(t *testing.T) {
	t.Parallel()

	n := NewNop()
	n.StatusChanged(statusEvent())
	n.FilesReady(model.FilesReadyEvent{CompoundID: uuid.New()})
	n.RunCompleted(model.RunCompletion{RunID: uuid.New()})

	if stats := n.Stats(); stats != (Stats{}) {
		t.Errorf("nop stats = %+v, want zero", stats)
	}
	if err := n.Close(context.Background()); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
