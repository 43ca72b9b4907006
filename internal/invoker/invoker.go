// Package invoker performs a single backend call: health precheck,
// circuit-breaker-wrapped HTTP POST, retry with exponential backoff,
// and the error-kind taxonomy the fallback router needs to decide what
// to do next. Grounded on agent_router.py's _try_model method.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"inference-router/internal/breaker"
	"inference-router/internal/config"
	"inference-router/internal/metrics"
)

// Request is a generation request bound for a single backend.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	TopP        float64
	Stop        []string
}

// Response is a successful generation result.
type Response struct {
	Text string
}

// Kind classifies why an invocation failed, matching spec.md §7's error
// taxonomy one-to-one so the fallback router can decide whether to
// advance the chain or give up early.
type Kind string

const (
	KindCircuitOpen    Kind = "circuit_open"
	KindTimeout        Kind = "timeout"
	KindTransport      Kind = "transport_error"
	KindHTTPStatus     Kind = "http_status_error"
	KindUnhealthy      Kind = "unhealthy"
	KindUnexpected     Kind = "unexpected"
)

// Error wraps a failed invocation with its classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// payload is the wire body posted to a backend's /generate endpoint,
// matching the field set agent_router.py._try_model builds.
type payload struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
	Stop        []string `json:"stop"`
}

type wireResponse struct {
	Text string `json:"text"`
}

var defaultStop = []string{"<|eot_id|>", "<|end_of_text|>"}

// HealthChecker reports whether a backend is currently marked healthy.
type HealthChecker interface {
	IsHealthy(backendID string) bool
}

// Invoker executes requests against one configured backend.
type Invoker struct {
	client  *http.Client
	breaker *breaker.Breaker
	health  HealthChecker
	metrics *metrics.Metrics
	log     *zap.Logger

	backend config.Backend
	retry   config.RetryConfig
}

// New builds an Invoker bound to one backend, its breaker, and the
// shared health checker/metrics.
func New(backend config.Backend, b *breaker.Breaker, health HealthChecker, m *metrics.Metrics, retry config.RetryConfig, log *zap.Logger) *Invoker {
	return &Invoker{
		client:  &http.Client{},
		breaker: b,
		health:  health,
		metrics: m,
		log:     log,
		backend: backend,
		retry:   retry,
	}
}

// Invoke runs req against the bound backend, applying health precheck,
// retry with exponential backoff, and circuit breaker protection, in
// that order — matching agent_router.py._try_model exactly.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (Response, error) {
	if inv.health != nil && !inv.health.IsHealthy(inv.backend.ID) {
		inv.recordError(KindUnhealthy)
		return Response{}, &Error{Kind: KindUnhealthy, Err: fmt.Errorf("backend %s is unhealthy", inv.backend.ID)}
	}

	body := inv.buildPayload(req)

	maxAttempts := inv.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := inv.retry.BackoffFactor
	if backoff <= 1 {
		backoff = 2.0
	}

	var lastErr *Error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := inv.attempt(ctx, body)
		if err == nil {
			return resp, nil
		}

		var ierr *Error
		if errors.As(err, &ierr) {
			lastErr = ierr
			if ierr.Kind == KindCircuitOpen || ierr.Kind == KindUnexpected {
				inv.recordError(ierr.Kind)
				return Response{}, ierr
			}
			inv.recordError(ierr.Kind)
		} else {
			lastErr = &Error{Kind: KindUnexpected, Err: err}
			inv.recordError(KindUnexpected)
			return Response{}, lastErr
		}

		if attempt < maxAttempts-1 {
			sleep := time.Duration(pow(backoff, float64(attempt)) * float64(time.Second))
			select {
			case <-ctx.Done():
				return Response{}, &Error{Kind: KindTimeout, Err: ctx.Err()}
			case <-time.After(sleep):
			}
		}
	}

	return Response{}, lastErr
}

func (inv *Invoker) attempt(ctx context.Context, body payload) (Response, error) {
	var result Response

	callErr := inv.breaker.Call(ctx, func(callCtx context.Context) error {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindUnexpected, Err: err}
		}

		httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, inv.backend.Endpoint+"/generate", bytes.NewReader(encoded))
		if err != nil {
			return &Error{Kind: KindUnexpected, Err: err}
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := inv.client.Do(httpReq)
		if err != nil {
			return &Error{Kind: KindTransport, Err: err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &Error{Kind: KindTransport, Err: err}
		}

		if resp.StatusCode != http.StatusOK {
			return &Error{Kind: KindHTTPStatus, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(data))}
		}

		var wire wireResponse
		if err := json.Unmarshal(data, &wire); err != nil {
			return &Error{Kind: KindUnexpected, Err: err}
		}

		result = Response{Text: wire.Text}
		return nil
	})

	if callErr == nil {
		return result, nil
	}

	if errors.Is(callErr, breaker.ErrOpen) {
		return Response{}, &Error{Kind: KindCircuitOpen, Err: callErr}
	}
	if errors.Is(callErr, breaker.ErrTimeout) {
		return Response{}, &Error{Kind: KindTimeout, Err: callErr}
	}

	var ierr *Error
	if errors.As(callErr, &ierr) {
		return Response{}, ierr
	}
	return Response{}, &Error{Kind: KindUnexpected, Err: callErr}
}

func (inv *Invoker) buildPayload(req Request) payload {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = inv.backend.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = inv.backend.Temperature
	}
	topP := req.TopP
	if topP == 0 {
		topP = 0.9
	}
	stop := req.Stop
	if len(stop) == 0 {
		stop = defaultStop
	}

	return payload{
		Prompt:      req.Prompt,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
		Stop:        stop,
	}
}

func (inv *Invoker) recordError(kind Kind) {
	if inv.metrics != nil {
		inv.metrics.ErrorsTotal.WithLabelValues(inv.backend.ID, string(kind)).Inc()
	}
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}
