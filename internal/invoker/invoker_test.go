package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"inference-router/internal/breaker"
	"inference-router/internal/config"
)

type alwaysHealthy struct{}

func (alwaysHealthy) IsHealthy(string) bool { return true }

type alwaysUnhealthy struct{}

func (alwaysUnhealthy) IsHealthy(string) bool { return false }

func testBreaker() *breaker.Breaker {
	return breaker.New("test", breaker.Config{
		FailureThreshold: 3,
		Timeout:          time.Second,
		RecoveryTimeout:  time.Second,
		SuccessThreshold: 2,
	})
}

func TestInvokeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body payload
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.Stop) == 0 {
			t.Error("expected default stop sequences to be applied")
		}
		if body.TopP != 0.9 {
			t.Errorf("TopP = %v, want default 0.9", body.TopP)
		}
		json.NewEncoder(w).Encode(wireResponse{Text: "hello"})
	}))
	defer server.Close()

	backend := config.Backend{ID: "b1", Endpoint: server.URL, MaxTokens: 100, Temperature: 0.7}
	inv := New(backend, testBreaker(), alwaysHealthy{}, nil, config.RetryConfig{MaxAttempts: 1, BackoffFactor: 2}, zap.NewNop())

	resp, err := inv.Invoke(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if resp.Text != "hello" {
		t.Errorf("Text = %q, want %q", resp.Text, "hello")
	}
}

func TestInvokeUnhealthyShortCircuits(t *testing.T) {
	backend := config.Backend{ID: "b1", Endpoint: "http://unused"}
	inv := New(backend, testBreaker(), alwaysUnhealthy{}, nil, config.RetryConfig{MaxAttempts: 1, BackoffFactor: 2}, zap.NewNop())

	_, err := inv.Invoke(context.Background(), Request{Prompt: "hi"})
	var ierr *Error
	if !errors.As(err, &ierr) || ierr.Kind != KindUnhealthy {
		t.Errorf("err = %v, want Kind=unhealthy", err)
	}
}

func TestInvokeHTTPStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	backend := config.Backend{ID: "b1", Endpoint: server.URL}
	inv := New(backend, testBreaker(), alwaysHealthy{}, nil, config.RetryConfig{MaxAttempts: 1, BackoffFactor: 2}, zap.NewNop())

	_, err := inv.Invoke(context.Background(), Request{Prompt: "hi"})
	var ierr *Error
	if !errors.As(err, &ierr) || ierr.Kind != KindHTTPStatus {
		t.Errorf("err = %v, want Kind=http_status_error", err)
	}
}

func TestInvokeRetriesOnHTTPStatusError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(wireResponse{Text: "ok"})
	}))
	defer server.Close()

	backend := config.Backend{ID: "b1", Endpoint: server.URL}
	inv := New(backend, testBreaker(), alwaysHealthy{}, nil, config.RetryConfig{MaxAttempts: 3, BackoffFactor: 1.01}, zap.NewNop())

	resp, err := inv.Invoke(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("Text = %q, want %q", resp.Text, "ok")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestInvokeReturnsCircuitOpenWhenBreakerOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	br := breaker.New("test", breaker.Config{FailureThreshold: 1, Timeout: time.Second, RecoveryTimeout: time.Hour, SuccessThreshold: 2})
	backend := config.Backend{ID: "b1", Endpoint: server.URL}
	inv := New(backend, br, alwaysHealthy{}, nil, config.RetryConfig{MaxAttempts: 1, BackoffFactor: 2}, zap.NewNop())

	// First call trips the breaker open.
	inv.Invoke(context.Background(), Request{Prompt: "hi"})

	_, err := inv.Invoke(context.Background(), Request{Prompt: "hi"})
	var ierr *Error
	if !errors.As(err, &ierr) || ierr.Kind != KindCircuitOpen {
		t.Errorf("err = %v, want Kind=circuit_open", err)
	}
}
