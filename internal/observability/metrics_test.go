package observability

import (
	"context"
	"testing"
	"time"
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
	metrics.RecordHTTPRequest(ctx, "GET", "/api/healthz/", 200, 0.001)
	metrics.RecordHTTPRequest(ctx, "POST", "/api/job/", 200, 0.050)
	metrics.RecordHTTPRequest(ctx, "GET", "/api/job/1700000000", 404, 0.005)
	metrics.RecordHTTPRequest(ctx, "POST", "/api/job/1700000000/stop", 204, 0.001)
}

func TestRecordDomainMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordJobCreated(ctx)
	metrics.RecordJobStart(ctx, true)
	metrics.RecordJobStart(ctx, false)
	metrics.RecordStatusRefresh(ctx, "running")
	metrics.RecordStatusRefresh(ctx, "exited")
	metrics.RecordComposeCommand(ctx, "run", 1500*time.Millisecond, true)
	metrics.RecordComposeCommand(ctx, "up", 20*time.Millisecond, false)
	metrics.RecordFollowUpSpawned(ctx, true)
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected string
	}{
		{"/livez", "/livez"},
		{"/api/job/", "/api/job/"},
		{"/api/job/1700000000", "/api/job/{jobId}"},
		{"/api/job/1700000000/stop", "/api/job/{jobId}/stop"},
		{"/api/params/", "/api/params/"},
	}

	for _, tt := range tests {
		result := normalizePath(tt.input)
		if result != tt.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
