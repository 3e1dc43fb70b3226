package otel

import (
	"context"
	"testing"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	providers, err := NewProviders(ctx, "", "test-service", false)
	if err != nil {
		t.Fatalf("NewProviders empty endpoint: %v", err)
	}
	if providers == nil {
		t.Fatal("providers should not be nil")
	}
	if providers.TracerProvider == nil {
		t.Error("TracerProvider should not be nil")
	}
	if providers.Shutdown == nil {
		t.Fatal("Shutdown should not be nil")
	}
	if err := providers.Shutdown(ctx); err != nil {
		t.Errorf("shutdown should be a no-op for empty endpoint: %v", err)
	}
}

func TestNewProviders_WhitespaceEndpoint(t *testing.T) {
	providers, err := NewProviders(context.Background(), "   ", "test-service", false)
	if err != nil {
		t.Fatalf("NewProviders whitespace endpoint: %v", err)
	}
	if providers == nil {
		t.Fatal("providers should not be nil")
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	ctx := context.Background()
	testCases := []struct {
		name     string
		endpoint string
	}{
		{"invalid characters", "://invalid"},
		{"malformed URL", "http://[invalid"},
		{"missing host", "http://"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewProviders(ctx, tc.endpoint, "test-service", false); err == nil {
				t.Errorf("NewProviders(%q) should return error", tc.endpoint)
			}
		})
	}
}

func TestNewProviders_NormalizesEndpoint(t *testing.T) {
	ctx := context.Background()
	// The OTLP gRPC exporter dials lazily, so provider construction succeeds
	// without a running collector; these exercise the URL normalization paths.
	for _, endpoint := range []string{
		"localhost:4317",
		"http://localhost:4317",
		"https://localhost:4317",
		"http://localhost:4317/v1/traces",
	} {
		providers, err := NewProviders(ctx, endpoint, "test-service", true)
		if err != nil {
			t.Errorf("NewProviders(%q): %v", endpoint, err)
			continue
		}
		_ = providers.TracerProvider
	}
}
