// Package config loads the router's YAML configuration document and
// resolves user-supplied model identifiers (IDs, display names,
// aliases) to canonical backend IDs.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend is one configured inference target, immutable after load.
type Backend struct {
	ID           string   `yaml:"-"`
	Name         string   `yaml:"name"`
	Endpoint     string   `yaml:"endpoint"`
	Description  string   `yaml:"description"`
	Capabilities []string `yaml:"capabilities"`
	MaxTokens    int      `yaml:"max_tokens"`
	Temperature  float64  `yaml:"temperature"`
	Aliases      []string `yaml:"aliases"`
}

// BreakerConfig configures the per-backend circuit breaker (spec.md §4.7).
type BreakerConfig struct {
	FailureThreshold       int     `yaml:"failure_threshold"`
	TimeoutSeconds         float64 `yaml:"timeout_seconds"`
	RecoveryTimeoutSeconds float64 `yaml:"recovery_timeout_seconds"`
	SuccessThreshold       int     `yaml:"success_threshold"`
}

// HealthConfig configures the background health prober (spec.md §4.7).
type HealthConfig struct {
	Enabled             bool    `yaml:"enabled"`
	IntervalSeconds     float64 `yaml:"interval_seconds"`
	UnhealthyThreshold  int     `yaml:"unhealthy_threshold"`
	HealthyThreshold    int     `yaml:"healthy_threshold"`
	ProbeTimeoutSeconds float64 `yaml:"probe_timeout_seconds"`
}

// RetryConfig configures the invoker's retry loop (spec.md §3).
type RetryConfig struct {
	MaxAttempts   int     `yaml:"max_attempts"`
	BackoffFactor float64 `yaml:"backoff_factor"`
}

// RoutingConfig is the static routing policy (spec.md §3 "Routing Policy").
type RoutingConfig struct {
	PrimaryByIntent map[string]string   `yaml:"primary_model"`
	FallbackChains  map[string][]string `yaml:"fallback_chains"`
	Timeouts        map[string]float64  `yaml:"timeouts"`
	Retry           RetryConfig         `yaml:"retry"`
	// GeneralBackend is used when primary_by_intent has no entry for the
	// classified intent (spec.md §4.5 step 3, "defaulting to a single
	// designated general backend").
	GeneralBackend string `yaml:"general_backend"`
}

// Thresholds gates classifier confidence scores (spec.md §4.3/§4.7).
type Thresholds struct {
	Low    float64 `yaml:"low"`
	Medium float64 `yaml:"medium"`
	High   float64 `yaml:"high"`
}

// ClassifierConfig is the intent classifier's keyword sets and thresholds.
type ClassifierConfig struct {
	CodeKeywords      []string   `yaml:"code_keywords"`
	ReasoningKeywords []string   `yaml:"reasoning_keywords"`
	Thresholds        Thresholds `yaml:"thresholds"`
}

// CacheConfig configures the response-cache fallback tier (SPEC_FULL §4.7,
// grounded on fallback_chain.py's redis-backed cache tier — additive to
// spec.md's defaults table, not part of it).
type CacheConfig struct {
	RedisAddr         string `yaml:"redis_addr"`
	RedisDB           int    `yaml:"redis_db"`
	TTLSeconds        int    `yaml:"ttl_seconds"`
	InProcessCapacity int    `yaml:"in_process_capacity"`
	DegradedMessage   string `yaml:"degraded_message"`
}

// MetricsConfig configures the Prometheus scrape endpoint (spec.md §4.6).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Config is the fully parsed, validated configuration document.
type Config struct {
	Backends   map[string]Backend `yaml:"models"`
	Routing    RoutingConfig      `yaml:"routing"`
	Classifier ClassifierConfig   `yaml:"intent_classifier"`
	Breaker    BreakerConfig      `yaml:"breaker"`
	Health     HealthConfig       `yaml:"health_check"`
	Cache      CacheConfig        `yaml:"cache"`
	Metrics    MetricsConfig      `yaml:"metrics"`
}

// Load reads and parses the YAML document at path, fills in defaults,
// resolves backend IDs, and validates every cross-reference. Any error
// here is fatal per spec.md §7 — the process must refuse to start.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	for id, backend := range cfg.Backends {
		backend.ID = id
		cfg.Backends[id] = backend
	}

	applyDefaults(&cfg)

	if _, err := NewAliasResolver(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 3
	}
	if cfg.Breaker.TimeoutSeconds == 0 {
		cfg.Breaker.TimeoutSeconds = 5.0
	}
	if cfg.Breaker.RecoveryTimeoutSeconds == 0 {
		cfg.Breaker.RecoveryTimeoutSeconds = 30.0
	}
	if cfg.Breaker.SuccessThreshold == 0 {
		cfg.Breaker.SuccessThreshold = 2
	}

	if cfg.Health.IntervalSeconds == 0 {
		cfg.Health.IntervalSeconds = 30
	}
	if cfg.Health.UnhealthyThreshold == 0 {
		cfg.Health.UnhealthyThreshold = 3
	}
	if cfg.Health.HealthyThreshold == 0 {
		cfg.Health.HealthyThreshold = 2
	}
	if cfg.Health.ProbeTimeoutSeconds == 0 {
		cfg.Health.ProbeTimeoutSeconds = 5.0
	}

	if cfg.Routing.Retry.MaxAttempts == 0 {
		cfg.Routing.Retry.MaxAttempts = 1
	}
	if cfg.Routing.Retry.BackoffFactor == 0 {
		cfg.Routing.Retry.BackoffFactor = 2.0
	}
	if cfg.Routing.GeneralBackend == "" {
		cfg.Routing.GeneralBackend = cfg.Routing.PrimaryByIntent["general"]
	}

	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 3600
	}
	if cfg.Cache.InProcessCapacity == 0 {
		cfg.Cache.InProcessCapacity = 1000
	}
	if cfg.Cache.DegradedMessage == "" {
		cfg.Cache.DegradedMessage = "Service temporarily unavailable. Please try again later."
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate checks every cross-reference named in spec.md §3's Routing
// Policy invariant: every backend_id referenced in primary_by_intent,
// fallback_chain, and every alias must resolve to a known backend.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("config: at least one backend is required")
	}

	for intent, backendID := range c.Routing.PrimaryByIntent {
		if _, ok := c.Backends[backendID]; !ok {
			return fmt.Errorf("config: primary_model[%s] references unknown backend %q", intent, backendID)
		}
	}

	for source, chain := range c.Routing.FallbackChains {
		if _, ok := c.Backends[source]; !ok {
			return fmt.Errorf("config: fallback_chains references unknown source backend %q", source)
		}
		seen := make(map[string]bool, len(chain))
		for _, candidate := range chain {
			if candidate == source {
				return fmt.Errorf("config: fallback_chains[%s] must not contain its own source", source)
			}
			if seen[candidate] {
				return fmt.Errorf("config: fallback_chains[%s] contains duplicate entry %q", source, candidate)
			}
			seen[candidate] = true
			if _, ok := c.Backends[candidate]; !ok {
				return fmt.Errorf("config: fallback_chains[%s] references unknown backend %q", source, candidate)
			}
		}
	}

	if c.Routing.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be >= 1")
	}
	if c.Routing.Retry.BackoffFactor <= 1 {
		return fmt.Errorf("config: retry.backoff_factor must be > 1")
	}

	return nil
}

// AliasResolver resolves a user-supplied model identifier (backend ID,
// display name, display name with underscores replaced by hyphens, or
// any configured alias — all case-folded) to a canonical backend ID.
type AliasResolver struct {
	byAlias map[string]string
}

// NewAliasResolver builds the immutable alias table described in
// spec.md §4.7. Collisions between two different backends claiming the
// same alias are a load-time error.
func NewAliasResolver(cfg *Config) (*AliasResolver, error) {
	byAlias := make(map[string]string)

	add := func(alias, backendID string) error {
		if alias == "" {
			return nil
		}
		key := strings.ToLower(alias)
		if existing, ok := byAlias[key]; ok && existing != backendID {
			return fmt.Errorf("config: alias %q claimed by both %q and %q", alias, existing, backendID)
		}
		byAlias[key] = backendID
		return nil
	}

	for id, backend := range cfg.Backends {
		if err := add(id, id); err != nil {
			return nil, err
		}
		if err := add(backend.Name, id); err != nil {
			return nil, err
		}
		if err := add(strings.ReplaceAll(backend.Name, "_", "-"), id); err != nil {
			return nil, err
		}
		for _, alias := range backend.Aliases {
			if err := add(alias, id); err != nil {
				return nil, err
			}
		}
	}

	return &AliasResolver{byAlias: byAlias}, nil
}

// Resolve returns the canonical backend ID for identifier, or ("", false)
// if it cannot be resolved. Resolve is idempotent: Resolve(Resolve(s))
// equals Resolve(s) for any previously-resolved s, since the map stores
// canonical IDs as both keys and values.
func (a *AliasResolver) Resolve(identifier string) (string, bool) {
	id, ok := a.byAlias[strings.ToLower(identifier)]
	return id, ok
}
