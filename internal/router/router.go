// Package router implements the fallback router: it classifies a
// request's intent, selects a primary backend, invokes it, and on
// failure walks the configured fallback chain before consulting the
// response cache and finally returning a degraded reply. Grounded on
// agent_router.py's generate/_try_model and fallback_chain.py's tiered
// generate method.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"inference-router/internal/cache"
	"inference-router/internal/classifier"
	"inference-router/internal/config"
	"inference-router/internal/invoker"
	"inference-router/internal/metrics"
)

// ErrAllBackendsFailed is returned when the primary, every fallback
// candidate, and the cache tier have all failed to produce a reply.
var ErrAllBackendsFailed = errors.New("router: all backends failed")

// Request is an inbound generation request.
type Request struct {
	SystemPrompt string
	UserPrompt   string

	// PreferredBackend, if non-empty, is resolved through the alias
	// table and used as the primary backend instead of the routing
	// table's intent-based selection (spec.md §4.5 step 2).
	PreferredBackend string

	MaxTokens   int
	Temperature float64
	TopP        float64
	Stop        []string
}

// Metadata describes how a Response was produced, mirroring the
// metadata dict agent_router.py.generate returns.
type Metadata struct {
	BackendID           string
	BackendName         string
	Intent              classifier.Intent
	Confidence          float64
	FallbackUsed        bool
	PrimaryBackend      string
	ExplicitBackendUsed bool
	TotalTime           time.Duration
	TriedBackends       []string
	Cached              bool
	TierUsed            string
}

// Response is the result of a Generate call. When every tier fails,
// Response.Text holds the configured degraded message and Generate
// returns ErrAllBackendsFailed alongside it.
type Response struct {
	Text     string
	Metadata Metadata
}

// Router ties together classification, backend selection, invocation,
// and the cache/degraded fallback tiers.
type Router struct {
	cfg        *config.Config
	classifier *classifier.Classifier
	invokers   map[string]*invoker.Invoker
	cache      cache.Store
	metrics    *metrics.Metrics
	aliases    *config.AliasResolver
	log        *zap.Logger

	mu          sync.Mutex
	totalCount  map[string]int64
	fallbackCount map[string]int64
}

// New builds a Router. invokers must contain one entry per backend ID
// named in cfg.Backends.
func New(cfg *config.Config, cl *classifier.Classifier, invokers map[string]*invoker.Invoker, cacheStore cache.Store, m *metrics.Metrics, aliases *config.AliasResolver, log *zap.Logger) *Router {
	return &Router{
		cfg:           cfg,
		classifier:    cl,
		invokers:      invokers,
		cache:         cacheStore,
		metrics:       m,
		aliases:       aliases,
		log:           log,
		totalCount:    make(map[string]int64),
		fallbackCount: make(map[string]int64),
	}
}

// Generate runs the full classify -> select -> invoke -> fallback ->
// cache -> degraded pipeline.
func (r *Router) Generate(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	intent, confidence := r.classify(req)

	primary, explicit := r.selectPrimary(req, intent)
	if primary == "" {
		return Response{}, fmt.Errorf("router: no backend available for intent %q", intent)
	}

	tried := []string{primary}

	resp, err := r.tryBackend(ctx, primary, req, string(intent))
	if err == nil {
		r.recordOutcome(primary, false)
		r.recordRequest(primary, string(intent), "success")
		r.recordLatency(primary, string(intent), time.Since(start))
		r.cacheWriteBack(ctx, req, resp.Text)
		return Response{
			Text: resp.Text,
			Metadata: Metadata{
				BackendID:           primary,
				BackendName:         r.backendName(primary),
				Intent:              intent,
				Confidence:          confidence,
				FallbackUsed:        false,
				ExplicitBackendUsed: explicit,
				TotalTime:           time.Since(start),
				TriedBackends:       tried,
			},
		}, nil
	}
	r.log.Warn("primary backend failed", zap.String("backend", primary), zap.Error(err))

	for _, candidate := range r.cfg.Routing.FallbackChains[primary] {
		r.recordFallback(primary, candidate)
		tried = append(tried, candidate)

		resp, ferr := r.tryBackend(ctx, candidate, req, string(intent))
		if ferr == nil {
			r.recordOutcome(primary, true)
			r.recordRequest(candidate, string(intent), "success")
			r.recordLatency(candidate, string(intent), time.Since(start))
			r.cacheWriteBack(ctx, req, resp.Text)
			return Response{
				Text: resp.Text,
				Metadata: Metadata{
					BackendID:      candidate,
					BackendName:    r.backendName(candidate),
					Intent:         intent,
					Confidence:     confidence,
					FallbackUsed:   true,
					PrimaryBackend: primary,
					TotalTime:      time.Since(start),
					TriedBackends:  tried,
				},
			}, nil
		}
		r.log.Warn("fallback candidate failed", zap.String("backend", candidate), zap.Error(ferr))
	}

	if text, ok := r.tryCache(ctx, req); ok {
		r.recordOutcome(primary, true)
		return Response{
			Text: text,
			Metadata: Metadata{
				Intent:         intent,
				Confidence:     confidence,
				FallbackUsed:   true,
				PrimaryBackend: primary,
				TotalTime:      time.Since(start),
				TriedBackends:  tried,
				Cached:         true,
				TierUsed:       "cache",
			},
		}, nil
	}

	r.recordOutcome(primary, true)
	if r.metrics != nil {
		r.metrics.ErrorsTotal.WithLabelValues("all", "all_models_failed").Inc()
		r.metrics.RequestsTotal.WithLabelValues("all", string(intent), "failed").Inc()
	}

	return Response{
		Text: r.cfg.Cache.DegradedMessage,
		Metadata: Metadata{
			Intent:         intent,
			Confidence:     confidence,
			FallbackUsed:   true,
			PrimaryBackend: primary,
			TotalTime:      time.Since(start),
			TriedBackends:  tried,
			TierUsed:       "degraded",
		},
	}, ErrAllBackendsFailed
}

func (r *Router) classify(req Request) (classifier.Intent, float64) {
	classifyStart := time.Now()
	combined := req.SystemPrompt + " " + req.UserPrompt
	intent, confidence := r.classifier.Classify(combined)

	if r.metrics != nil {
		r.metrics.ClassificationLatency.Observe(time.Since(classifyStart).Seconds())
		r.metrics.IntentClassificationTotal.WithLabelValues(string(intent), classifier.ConfidenceBucket(confidence)).Inc()
	}
	return intent, confidence
}

// selectPrimary resolves the primary backend: an explicit/preferred
// backend wins if it resolves, otherwise the routing table's
// intent-keyed primary applies, falling back to the general backend.
func (r *Router) selectPrimary(req Request, intent classifier.Intent) (backendID string, explicit bool) {
	if req.PreferredBackend != "" {
		if id, ok := r.aliases.Resolve(req.PreferredBackend); ok {
			return id, true
		}
	}

	if id, ok := r.cfg.Routing.PrimaryByIntent[string(intent)]; ok {
		return id, false
	}
	return r.cfg.Routing.GeneralBackend, false
}

// retryExhaustionKinds are the invoker error kinds that mean the retry
// loop ran to completion without success — the only case that should
// count toward requests_total{status="failed"}. CircuitOpen and
// Unhealthy are early-return paths that never reach the retry loop at
// all (agent_router.py._try_model returns before its "all retry
// attempts failed" requests_total increment for both), so they must
// only bump errors_total, not requests_total.
var retryExhaustionKinds = map[invoker.Kind]bool{
	invoker.KindTimeout:    true,
	invoker.KindTransport:  true,
	invoker.KindHTTPStatus: true,
	invoker.KindUnexpected: true,
}

func (r *Router) tryBackend(ctx context.Context, backendID string, req Request, intent string) (invoker.Response, error) {
	inv, ok := r.invokers[backendID]
	if !ok {
		return invoker.Response{}, fmt.Errorf("router: unknown backend %q", backendID)
	}

	ireq := invoker.Request{
		Prompt:      req.SystemPrompt + "\n" + req.UserPrompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}

	resp, err := inv.Invoke(ctx, ireq)
	if err != nil {
		var ierr *invoker.Error
		if errors.As(err, &ierr) && r.metrics != nil && retryExhaustionKinds[ierr.Kind] {
			r.metrics.RequestsTotal.WithLabelValues(backendID, intent, "failed").Inc()
		}
		return invoker.Response{}, err
	}
	return resp, nil
}

func (r *Router) tryCache(ctx context.Context, req Request) (string, bool) {
	if r.cache == nil {
		return "", false
	}
	key := cache.Key(req.UserPrompt, req.MaxTokens, req.Temperature, req.TopP)
	text, ok := r.cache.Get(ctx, key)
	if r.metrics != nil {
		if ok {
			r.metrics.CacheHitsTotal.Inc()
		} else {
			r.metrics.CacheMissesTotal.Inc()
		}
		r.metrics.CacheSize.Set(float64(r.cache.Size(ctx)))
	}
	return text, ok
}

// cacheWriteBack stores a successful response under its request's cache
// key with the configured TTL, matching fallback_chain.py.generate's
// inline self._cache_response(...) call made right after every
// successful tier-1/tier-2 reply (original_source/fallback_chain.py:236-255).
func (r *Router) cacheWriteBack(ctx context.Context, req Request, text string) {
	if r.cache == nil {
		return
	}
	ttl := time.Duration(r.cfg.Cache.TTLSeconds) * time.Second
	key := cache.Key(req.UserPrompt, req.MaxTokens, req.Temperature, req.TopP)
	if err := r.cache.Put(ctx, key, text, ttl); err != nil {
		r.log.Warn("cache write-back failed", zap.Error(err))
		return
	}
	if r.metrics != nil {
		r.metrics.CacheSize.Set(float64(r.cache.Size(ctx)))
	}
}

func (r *Router) backendName(id string) string {
	if b, ok := r.cfg.Backends[id]; ok {
		return b.Name
	}
	return id
}

func (r *Router) recordRequest(backendID, intent, status string) {
	if r.metrics != nil {
		r.metrics.RequestsTotal.WithLabelValues(backendID, intent, status).Inc()
		r.metrics.ModelRequestsTotal.WithLabelValues(backendID).Inc()
	}
}

func (r *Router) recordLatency(backendID, intent string, d time.Duration) {
	if r.metrics != nil {
		r.metrics.LatencySeconds.WithLabelValues(backendID, intent).Observe(d.Seconds())
	}
}

func (r *Router) recordFallback(from, to string) {
	if r.metrics != nil {
		r.metrics.FallbackRequestsTotal.WithLabelValues(from, to).Inc()
		r.metrics.ModelFallbacksTotal.WithLabelValues(from, "source").Inc()
		r.metrics.ModelFallbacksTotal.WithLabelValues(to, "target").Inc()
	}
}

// recordOutcome updates the per-backend fallback-rate gauge, grounded
// on agent_router.py's fallback_rate metric: the fraction of requests
// whose primary backend needed a fallback.
func (r *Router) recordOutcome(primary string, usedFallback bool) {
	r.mu.Lock()
	r.totalCount[primary]++
	if usedFallback {
		r.fallbackCount[primary]++
	}
	total := r.totalCount[primary]
	fallbacks := r.fallbackCount[primary]
	r.mu.Unlock()

	if r.metrics != nil && total > 0 {
		r.metrics.FallbackRate.WithLabelValues(primary).Set(float64(fallbacks) / float64(total))
	}
}
