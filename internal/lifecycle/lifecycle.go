// Package lifecycle wires every router component together and owns the
// process's startup and graceful-shutdown sequence (spec.md §4.8),
// grounded on the teacher's MonitoringSystem (src/monitoring.go):
// context cancellation + WaitGroup for the background loop, a Start
// that refuses to run twice, and a Stop that drains in-flight work
// before returning.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"inference-router/internal/breaker"
	"inference-router/internal/cache"
	"inference-router/internal/classifier"
	"inference-router/internal/config"
	"inference-router/internal/health"
	"inference-router/internal/invoker"
	"inference-router/internal/metrics"
	"inference-router/internal/router"
)

// Controller owns the full set of router components and their
// startup/shutdown ordering.
type Controller struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics
	health  *health.Prober
	breakers *breaker.Registry
	cacheStore cache.Store
	Router  *router.Router

	mu       sync.Mutex
	running  bool

	// GracePeriod bounds how long Stop waits for in-flight requests
	// before forcing shutdown.
	GracePeriod time.Duration
}

// New assembles every component from cfg without starting any
// background goroutines.
func New(cfg *config.Config, log *zap.Logger) (*Controller, error) {
	m := metrics.New()

	aliases, err := config.NewAliasResolver(cfg)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: %w", err)
	}

	breakerCfg := breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Timeout:          durationFromSeconds(cfg.Breaker.TimeoutSeconds),
		RecoveryTimeout:  durationFromSeconds(cfg.Breaker.RecoveryTimeoutSeconds),
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	}
	breakers := breaker.NewRegistry()

	endpoints := make(map[string]string, len(cfg.Backends))
	for id, b := range cfg.Backends {
		endpoints[id] = b.Endpoint
	}

	healthCfg := health.Config{
		Interval:           durationFromSeconds(cfg.Health.IntervalSeconds),
		ProbeTimeout:       durationFromSeconds(cfg.Health.ProbeTimeoutSeconds),
		HealthyThreshold:   cfg.Health.HealthyThreshold,
		UnhealthyThreshold: cfg.Health.UnhealthyThreshold,
	}
	prober := health.New(endpoints, healthCfg, m, log)

	invokers := make(map[string]*invoker.Invoker, len(cfg.Backends))
	for id, b := range cfg.Backends {
		br := breakers.GetOrCreate("model_"+id, breakerCfg)
		invokers[id] = invoker.New(b, br, prober, m, cfg.Routing.Retry, log)
	}

	cl := classifier.New(classifier.Config{
		CodeKeywords:      cfg.Classifier.CodeKeywords,
		ReasoningKeywords: cfg.Classifier.ReasoningKeywords,
		Thresholds: classifier.Thresholds{
			Low:    cfg.Classifier.Thresholds.Low,
			Medium: cfg.Classifier.Thresholds.Medium,
			High:   cfg.Classifier.Thresholds.High,
		},
	})

	var store cache.Store
	if cfg.Cache.RedisAddr != "" {
		store = cache.NewRedis(cfg.Cache.RedisAddr, cfg.Cache.RedisDB)
	} else {
		store = cache.NewLRU(cfg.Cache.InProcessCapacity)
	}

	r := router.New(cfg, cl, invokers, store, m, aliases, log)

	return &Controller{
		cfg:         cfg,
		log:         log,
		metrics:     m,
		health:      prober,
		breakers:    breakers,
		cacheStore:  store,
		Router:      r,
		GracePeriod: 10 * time.Second,
	}, nil
}

// Start runs the synchronous initial health probe, then launches the
// background health loop and (if enabled) the metrics HTTP server.
// The synchronous probe counts as one probe toward the health
// hysteresis: it lifts a backend out of the pessimistic all-unhealthy
// default only when healthy_threshold is 1; otherwise the backend stays
// unhealthy until enough background probes have passed (spec.md §9
// Open Question decision, see DESIGN.md).
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("lifecycle: already running")
	}
	c.running = true
	c.mu.Unlock()

	c.log.Info("running initial health probe")
	c.health.ProbeAllSync(ctx)

	c.health.Start(ctx)

	if c.cfg.Metrics.Enabled {
		if err := c.metrics.Start(c.cfg.Metrics.Addr, c.cfg.Metrics.Path); err != nil {
			return fmt.Errorf("lifecycle: start metrics: %w", err)
		}
		c.log.Info("metrics server started", zap.String("addr", c.cfg.Metrics.Addr))
	}

	return nil
}

// Stop cancels the background health loop and shuts down the metrics
// server within GracePeriod, giving in-flight requests a chance to
// finish before the process exits.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false

	c.health.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), c.GracePeriod)
	defer cancel()

	if c.cfg.Metrics.Enabled {
		if err := c.metrics.Stop(ctx); err != nil {
			c.log.Warn("metrics server shutdown error", zap.Error(err))
		}
	}

	if err := c.cacheStore.Close(); err != nil {
		c.log.Warn("cache store close error", zap.Error(err))
	}

	return nil
}

// BreakerStats exposes the admin surface named in SPEC_FULL.md §6.
func (c *Controller) BreakerStats() map[string]breaker.Stats {
	return c.breakers.AllStats()
}

// ResetBreaker manually forces a named breaker closed.
func (c *Controller) ResetBreaker(name string) bool {
	b, ok := c.breakers.Get(name)
	if !ok {
		return false
	}
	b.Reset()
	return true
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
