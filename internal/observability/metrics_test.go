package observability

import (
	"context"
	"testing"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	if metrics == nil {
		t.Fatal("Expected metrics to be non-nil")
	}

	if handler == nil {
		t.Fatal("Expected handler to be non-nil")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordHTTPRequest(ctx, "GET", "/livez", 200, 0.001)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/campaigns", 201, 0.050)
	metrics.RecordHTTPRequest(ctx, "GET", "/v1/runs/abc123", 200, 0.010)
	metrics.RecordHTTPRequest(ctx, "GET", "/v1/compounds/xyz789", 404, 0.005)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/compounds/abc123/retry", 200, 0.100)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/runs", 500, 0.001)
}

func TestRecordPredictionMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordSubmission(ctx, true)
	metrics.RecordSubmission(ctx, false)
	metrics.RecordActivated(ctx)
	metrics.RecordPoll(ctx, true)
	metrics.RecordPoll(ctx, false)
	metrics.RecordPollBatch(ctx, 1.25)
	metrics.RecordTimeout(ctx)
	metrics.RecordTerminal(ctx, "COMPLETED")
	metrics.RecordDownload(ctx, true, 3.0)
	metrics.RecordDownload(ctx, false, 30.0)
	metrics.RecordPersist(ctx, true)
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected string
	}{
		{"/livez", "/livez"},
		{"/metrics", "/metrics"},
		{"/v1/campaigns", "/v1/campaigns"},
		{"/v1/campaigns/abc123", "/v1/campaigns/{id}"},
		{"/v1/runs/xyz-789-def", "/v1/runs/{id}"},
		{"/v1/runs/xyz/cancel", "/v1/runs/{id}/cancel"},
		{"/v1/compounds/abc/retry", "/v1/compounds/{id}/retry"},
		{"/other/path", "/other/path"},
	}

	for _, tt := range tests {
		result := normalizePath(tt.input)
		if result != tt.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
