// Package breaker implements a per-backend circuit breaker with the
// classic three-state machine: CLOSED, OPEN, HALF_OPEN.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the current state of a circuit breaker.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned when a call is rejected because the breaker is open.
var ErrOpen = errors.New("breaker: circuit is open")

// ErrTimeout is returned when the wrapped function exceeds Config.Timeout.
var ErrTimeout = errors.New("breaker: call timed out")

// Config configures a single breaker instance.
type Config struct {
	FailureThreshold int           // consecutive failures in CLOSED before tripping to OPEN
	Timeout          time.Duration // deadline applied to each call
	RecoveryTimeout  time.Duration // time in OPEN before a call is allowed through as a trial
	SuccessThreshold int           // consecutive successes in HALF_OPEN before closing
}

// DefaultConfig mirrors the original circuit_breaker.py defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Timeout:          5 * time.Second,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
	}
}

// Counts holds the cumulative, monotonically increasing statistics of a breaker.
type Counts struct {
	TotalRequests     int64
	TotalSuccesses    int64
	TotalFailures     int64
	TotalTimeouts     int64
	TotalOpenRejects  int64
}

// Stats is a point-in-time snapshot of a breaker, safe to read without holding any lock.
type Stats struct {
	Name              string
	State             State
	FailureCount      int
	SuccessCount      int
	LastFailureTime   time.Time
	LastStateChange   time.Time
	Counts            Counts
	Config            Config
}

// Breaker protects calls to a single backend.
type Breaker struct {
	name   string
	config Config

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	lastStateChange time.Time
	counts          Counts
}

// New creates a breaker in the CLOSED state.
func New(name string, config Config) *Breaker {
	return &Breaker{
		name:            name,
		config:          config,
		state:           Closed,
		lastStateChange: time.Now(),
	}
}

// Call executes fn under breaker protection. If the circuit is OPEN and the
// recovery window hasn't elapsed, it fails immediately with ErrOpen without
// invoking fn. Otherwise fn runs with a deadline of config.Timeout; an
// overrun is classified as ErrTimeout, any other non-nil return is a
// generic failure. Call never retries — retries live above this package.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			b.onFailure(false)
			return err
		}
		b.onSuccess()
		return nil
	case <-callCtx.Done():
		b.onFailure(true)
		return ErrTimeout
	}
}

// before checks and, if necessary, transitions state before a call is attempted.
// Returns ErrOpen if the call must be rejected.
func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counts.TotalRequests++

	switch b.state {
	case Open:
		if time.Since(b.lastFailureTime) < b.config.RecoveryTimeout {
			b.counts.TotalOpenRejects++
			return ErrOpen
		}
		b.transitionLocked(HalfOpen)
		return nil
	default:
		return nil
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counts.TotalSuccesses++

	switch b.state {
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.transitionLocked(Closed)
		}
	case Closed:
		b.failureCount = 0
	}
}

func (b *Breaker) onFailure(timeout bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counts.TotalFailures++
	if timeout {
		b.counts.TotalTimeouts++
	}
	b.lastFailureTime = time.Now()

	switch b.state {
	case HalfOpen:
		b.transitionLocked(Open)
	case Closed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.transitionLocked(Open)
		}
	}
}

// transitionLocked moves to newState and resets the transient counters.
// Must be called with b.mu held.
func (b *Breaker) transitionLocked(newState State) {
	b.state = newState
	b.lastStateChange = time.Now()
	b.failureCount = 0
	b.successCount = 0
}

// Stats returns a snapshot of the breaker's current state and counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Name:            b.name,
		State:           b.state,
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		LastFailureTime: b.lastFailureTime,
		LastStateChange: b.lastStateChange,
		Counts:          b.counts,
		Config:          b.config,
	}
}

// State returns the current state without the rest of the snapshot.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to CLOSED and zeros its transient counters.
// Cumulative counters are left untouched — they are monotonic by contract.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(Closed)
	b.lastFailureTime = time.Time{}
}

// Registry owns one Breaker per backend ID, created once at startup.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// GetOrCreate returns the breaker for name, creating it with config if absent.
func (r *Registry) GetOrCreate(name string, config Config) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = New(name, config)
	r.breakers[name] = b
	return b
}

// Get returns the breaker for name, if it exists.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// AllStats returns a snapshot of every registered breaker, keyed by name.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Stats, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Stats()
	}
	return out
}

// ResetAll forces every registered breaker back to CLOSED.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
