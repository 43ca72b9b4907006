package lifecycle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"inference-router/internal/config"
)

func testConfig(endpoint string) *config.Config {
	return &config.Config{
		Backends: map[string]config.Backend{
			"primary": {ID: "primary", Name: "primary", Endpoint: endpoint, MaxTokens: 100, Temperature: 0.7},
		},
		Routing: config.RoutingConfig{
			PrimaryByIntent: map[string]string{"general": "primary"},
			GeneralBackend:  "primary",
			Retry:           config.RetryConfig{MaxAttempts: 1, BackoffFactor: 2},
		},
		Classifier: config.ClassifierConfig{
			CodeKeywords:      []string{"function"},
			ReasoningKeywords: []string{"why"},
			Thresholds:        config.Thresholds{Low: 0.2, Medium: 0.3, High: 0.6},
		},
		Breaker: config.BreakerConfig{FailureThreshold: 3, TimeoutSeconds: 1, RecoveryTimeoutSeconds: 1, SuccessThreshold: 2},
		Health:  config.HealthConfig{IntervalSeconds: 1, UnhealthyThreshold: 2, HealthyThreshold: 1, ProbeTimeoutSeconds: 1},
		Cache:   config.CacheConfig{TTLSeconds: 60, InProcessCapacity: 10, DegradedMessage: "degraded"},
		Metrics: config.MetricsConfig{Enabled: false},
	}
}

func TestControllerStartStop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	ctrl, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if !ctrl.health.IsHealthy("primary") {
		t.Error("expected the synchronous startup probe to mark the backend healthy")
	}

	if err := ctrl.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
}

func TestControllerStartTwiceFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	ctrl, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("first Start returned error: %v", err)
	}
	defer ctrl.Stop()

	if err := ctrl.Start(ctx); err == nil {
		t.Error("expected second Start call to fail")
	}
}

func TestBreakerStatsAndReset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	ctrl, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	stats := ctrl.BreakerStats()
	if _, ok := stats["model_primary"]; !ok {
		t.Error("expected a breaker registered for backend 'primary'")
	}

	if !ctrl.ResetBreaker("model_primary") {
		t.Error("expected ResetBreaker to succeed for a known breaker")
	}
	if ctrl.ResetBreaker("does-not-exist") {
		t.Error("expected ResetBreaker to fail for an unknown breaker")
	}
}
