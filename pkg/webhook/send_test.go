package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSend_Success(t *testing.T) {
	t.Parallel()

	var gotType, gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("X-Event-Type")
		gotSig = r.Header.Get("X-Signature-256")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	event := New("compound.status", "boltzflow", "c-1", "evt-1", map[string]any{"status": "COMPLETED"})
	sender := NewSender(5 * time.Second)

	if err := sender.Send(context.Background(), srv.URL, event, "secret"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotType != "compound.status" {
		t.Errorf("X-Event-Type = %q, want compound.status", gotType)
	}

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}
}

func TestSend_NoSigningKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sig := r.Header.Get("X-Signature-256"); sig != "" {
			t.Errorf("unexpected signature header: %q", sig)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewSender(5 * time.Second)
	event := New("run.completed", "boltzflow", "r-1", "evt-2", nil)
	if err := sender.Send(context.Background(), srv.URL, event, ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
}

func TestSend_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewSender(5 * time.Second)
	err := sender.Send(context.Background(), srv.URL, New("t", "s", "sub", "id", nil), "")

	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if he.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", he.StatusCode)
	}
	if IsClientError(err) {
		t.Error("502 should not be a client error")
	}
}

func TestIsClientError(t *testing.T) {
	t.Parallel()

	if !IsClientError(&HTTPError{StatusCode: 404}) {
		t.Error("404 should be a client error")
	}
	if IsClientError(&HTTPError{StatusCode: 500}) {
		t.Error("500 should not be a client error")
	}
	if IsClientError(errors.New("boom")) {
		t.Error("plain error should not be a client error")
	}
}
