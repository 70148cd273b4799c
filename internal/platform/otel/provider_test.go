package otel_test

import (
	"context"
	"testing"

	"github.com/louisbranch/mindtrain/internal/platform/otel"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("MINDTRAIN_OTEL_ENDPOINT", "")
	t.Setenv("MINDTRAIN_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_NoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("MINDTRAIN_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("MINDTRAIN_OTEL_ENABLED", "false")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_RejectsInvalidSampleRatio(t *testing.T) {
	t.Setenv("MINDTRAIN_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("MINDTRAIN_OTEL_SAMPLE_RATIO", "1.5")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err == nil {
		t.Fatal("expected sample ratio error")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so no actual export happens.
	t.Setenv("MINDTRAIN_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("MINDTRAIN_OTEL_ENABLED", "true")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
