// Package health runs the background liveness prober for every
// configured backend, grounded on the ai-aas health_monitor.go shape
// (ticker-based loop, context cancellation, per-backend lock) and on
// agent_router.py's _check_model_health/_health_check_loop hysteresis
// semantics (spec.md §4.2).
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"inference-router/internal/metrics"
)

// status is one backend's mutable health bookkeeping, guarded by its own
// mutex so probes for different backends never contend with each other.
type status struct {
	mu                  sync.RWMutex
	healthy             bool
	consecutiveHealthy  int
	consecutiveUnhealthy int
}

// Prober runs one background loop that, on a fixed interval, probes
// every backend's <endpoint>/health concurrently (one goroutine per
// backend per tick), flipping a backend's health flag only once the
// configured threshold of consecutive results has been observed
// (spec.md §4.2 hysteresis invariant).
type Prober struct {
	client   *http.Client
	log      *zap.Logger
	metrics  *metrics.Metrics

	interval            time.Duration
	probeTimeout        time.Duration
	healthyThreshold    int
	unhealthyThreshold  int

	mu       sync.RWMutex
	statuses map[string]*status
	endpoints map[string]string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures the prober, mirroring config.HealthConfig.
type Config struct {
	Interval           time.Duration
	ProbeTimeout       time.Duration
	HealthyThreshold   int
	UnhealthyThreshold int
}

// New builds a prober for the given backend ID -> endpoint map. Every
// backend starts marked unhealthy (spec.md §9 Open Question: "pessimistic
// until the first successful probe" — see DESIGN.md).
func New(endpoints map[string]string, cfg Config, m *metrics.Metrics, log *zap.Logger) *Prober {
	statuses := make(map[string]*status, len(endpoints))
	for id := range endpoints {
		statuses[id] = &status{healthy: false}
	}

	return &Prober{
		client:             &http.Client{Timeout: cfg.ProbeTimeout},
		log:                log,
		metrics:            m,
		interval:           cfg.Interval,
		probeTimeout:       cfg.ProbeTimeout,
		healthyThreshold:   cfg.HealthyThreshold,
		unhealthyThreshold: cfg.UnhealthyThreshold,
		statuses:           statuses,
		endpoints:          endpoints,
	}
}

// ProbeAllSync runs one synchronous probe pass over every backend. The
// lifecycle controller calls this once at startup before serving any
// traffic. Each pass counts as one probe toward the hysteresis
// thresholds, so a single pass marks a backend healthy only when
// HealthyThreshold is 1; with a higher threshold the backend stays
// unhealthy until enough later probes have passed.
func (p *Prober) ProbeAllSync(ctx context.Context) {
	var wg sync.WaitGroup
	for id, endpoint := range p.endpoints {
		wg.Add(1)
		go func(id, endpoint string) {
			defer wg.Done()
			p.probeOne(ctx, id, endpoint)
		}(id, endpoint)
	}
	wg.Wait()
}

// Start launches the periodic background probe loop. It must only be
// called once; call Stop to terminate it.
func (p *Prober) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(ctx)
}

// Stop cancels the background loop and waits for it to exit.
func (p *Prober) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Prober) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeAllSync(ctx)
		}
	}
}

func (p *Prober) probeOne(ctx context.Context, id, endpoint string) {
	probeCtx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, endpoint+"/health", nil)
	if err != nil {
		p.recordResult(id, false)
		return
	}

	resp, err := p.client.Do(req)
	ok := err == nil
	if err == nil {
		defer resp.Body.Close()
		ok = resp.StatusCode == http.StatusOK
	}

	p.recordResult(id, ok)
}

// recordResult applies the hysteresis rule from spec.md §4.2: a run of
// `threshold` consecutive results in the same direction is required
// before the health flag flips, and only a flip is logged/exported.
func (p *Prober) recordResult(id string, success bool) {
	p.mu.RLock()
	s, ok := p.statuses[id]
	p.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if success {
		s.consecutiveHealthy++
		s.consecutiveUnhealthy = 0
		if !s.healthy && s.consecutiveHealthy >= p.healthyThreshold {
			s.healthy = true
			p.onTransition(id, true)
		}
	} else {
		s.consecutiveUnhealthy++
		s.consecutiveHealthy = 0
		if s.healthy && s.consecutiveUnhealthy >= p.unhealthyThreshold {
			s.healthy = false
			p.onTransition(id, false)
		}
	}
}

func (p *Prober) onTransition(id string, healthy bool) {
	p.log.Info("backend health transition", zap.String("backend", id), zap.Bool("healthy", healthy))
	if p.metrics != nil {
		val := 0.0
		if healthy {
			val = 1.0
		}
		p.metrics.ModelHealth.WithLabelValues(id).Set(val)
	}
}

// IsHealthy reports the current health flag for a backend. An unknown
// backend ID is treated as unhealthy.
func (p *Prober) IsHealthy(id string) bool {
	p.mu.RLock()
	s, ok := p.statuses[id]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}
