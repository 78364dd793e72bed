package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	"unitygate/internal/metrics"

	"github.com/rs/zerolog/log"
)

// State represents the circuit breaker state
type State int32

const (
	// StateClosed - normal operation, writes flow through
	StateClosed State = iota
	// StateOpen - sink is failing, writes are skipped
	StateOpen
	// StateHalfOpen - a single probe write decides recovery
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes before closing
	SuccessThreshold int
	// Timeout is how long to stay open before probing
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker guards one ledger sink. A sink that keeps failing (full
// disk, revoked permissions) is skipped until Timeout elapses, so a broken
// sink costs one error per probe instead of one per request.
type CircuitBreaker struct {
	name   string
	config Config

	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	probing      bool
	lastFailTime time.Time
	nowFunc      func() time.Time
}

func New(name string, config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	cb := &CircuitBreaker{
		name:    name,
		config:  config,
		nowFunc: time.Now,
	}
	metrics.LedgerSinkState.WithLabelValues(name).Set(float64(StateClosed))
	return cb
}

// Allow reports whether a write may be attempted now.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		elapsed := cb.nowFunc().Sub(cb.lastFailTime)
		if elapsed >= cb.config.Timeout {
			cb.transitionTo(StateHalfOpen)
			cb.probing = true
			return nil
		}
		return fmt.Errorf("sink %s circuit open (retry in %v)", cb.name, (cb.config.Timeout - elapsed).Round(time.Second))
	case StateHalfOpen:
		if cb.probing {
			return fmt.Errorf("sink %s circuit half-open: probe in flight", cb.name)
		}
		cb.probing = true
		return nil
	default:
		return fmt.Errorf("circuit breaker in unknown state")
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.probing = false
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(StateClosed)
			log.Info().Str("sink", cb.name).Msg("ledger sink recovered")
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailTime = cb.nowFunc()
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(StateOpen)
			log.Error().
				Str("sink", cb.name).
				Int("failures", cb.failures).
				Msg("ledger sink circuit opened")
		}
	case StateHalfOpen:
		cb.probing = false
		cb.transitionTo(StateOpen)
		log.Warn().Str("sink", cb.name).Msg("ledger sink circuit reopened after probe failure")
	case StateOpen:
		cb.failures++
	}
}

// transitionTo changes state; caller holds mu.
func (cb *CircuitBreaker) transitionTo(newState State) {
	old := cb.state
	cb.state = newState
	cb.successes = 0
	if newState == StateClosed {
		cb.failures = 0
	}
	metrics.LedgerSinkState.WithLabelValues(cb.name).Set(float64(newState))
	metrics.LedgerSinkTransitions.WithLabelValues(cb.name, old.String(), newState.String()).Inc()
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(StateClosed)
	cb.probing = false
}

// Manager hands out one breaker per sink name.
type Manager struct {
	config   Config
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

func NewManager(config Config) *Manager {
	return &Manager{config: config, breakers: make(map[string]*CircuitBreaker)}
}

func (m *Manager) GetOrCreate(name string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cb := New(name, m.config)
	m.breakers[name] = cb
	log.Debug().
		Str("sink", name).
		Int("failure_threshold", m.config.FailureThreshold).
		Dur("timeout", m.config.Timeout).
		Msg("created circuit breaker")
	return cb
}

// States returns a snapshot of every breaker's state keyed by sink name.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.State()
	}
	return out
}
