package errors

import (
	"context"
	"sync"
	"time"

	"github.com/crawlrs/crawlrs/internal/logging"
)

// CircuitState is one of closed/open/half-open.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// CircuitBreakerConfig configures a rolling-window breaker: it opens on
// N failures within a rolling time window rather than N *consecutive*
// failures, so FailureWindow replaces an implicit "until a success
// resets the counter" behavior.
type CircuitBreakerConfig struct {
	FailureThreshold int           // failures within FailureWindow to open (default: 5)
	FailureWindow    time.Duration // rolling window (default: 60s)
	OpenDuration     time.Duration // time before half-open probe (default: 30s)
	OnStateChange    func(from, to CircuitState, name string)
}

// DefaultCircuitBreakerConfig holds the default tuning for a breaker.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		OpenDuration:     30 * time.Second,
	}
}

// CircuitBreaker implements a three-state breaker with a rolling
// failure window and a single half-open probe slot.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger logging.Logger

	mu               sync.RWMutex
	state            CircuitState
	failures         []time.Time // timestamps within the rolling window
	openedAt         time.Time
	halfOpenInFlight bool
}

// NewCircuitBreaker creates a breaker for a single engine.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logging.NewComponentLogger("circuit-breaker"),
		state:  StateClosed,
	}
}

// Execute runs fn under breaker protection, returning a KindEngineTerminal
// Error immediately (without calling fn) when the breaker is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.Mark(err)
	return err
}

// Allow reports whether a call may proceed. It also performs the
// open-to-half-open-probe transition as a side effect: after
// OpenDuration elapses, exactly one call is allowed through to probe.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if cb.halfOpenInFlight {
			return New(KindEngineTerminal, "breaker probe already in flight for "+cb.name, nil)
		}
		cb.halfOpenInFlight = true
		return nil
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.config.OpenDuration {
			cb.setState(StateHalfOpen)
			cb.halfOpenInFlight = true
			cb.logger.Info("[%s] transitioning to half-open", cb.name)
			return nil
		}
		return New(KindEngineTerminal, "circuit breaker open for "+cb.name, nil)
	default:
		return New(KindInternal, "unknown breaker state", nil)
	}
}

// Mark records the outcome of a call admitted by Allow. Pass nil for
// success.
func (cb *CircuitBreaker) Mark(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.onSuccess()
		return
	}
	cb.onFailure()
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failures = nil
	case StateHalfOpen:
		cb.halfOpenInFlight = false
		cb.setState(StateClosed)
		cb.failures = nil
		cb.logger.Info("[%s] closed (probe succeeded)", cb.name)
	case StateOpen:
		cb.logger.Warn("[%s] unexpected success while open", cb.name)
	}
}

func (cb *CircuitBreaker) onFailure() {
	now := time.Now()
	switch cb.state {
	case StateClosed:
		cb.failures = pruneWindow(append(cb.failures, now), cb.config.FailureWindow, now)
		if len(cb.failures) >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
			cb.openedAt = now
			cb.logger.Warn("[%s] opened (%d failures within %v)", cb.name, len(cb.failures), cb.config.FailureWindow)
		}
	case StateHalfOpen:
		cb.halfOpenInFlight = false
		cb.setState(StateOpen)
		cb.openedAt = now
		cb.failures = []time.Time{now}
		cb.logger.Warn("[%s] reopened (probe failed)", cb.name)
	case StateOpen:
		cb.openedAt = now
	}
}

func pruneWindow(ts []time.Time, window time.Duration, now time.Time) []time.Time {
	cutoff := now.Add(-window)
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func (cb *CircuitBreaker) setState(newState CircuitState) {
	old := cb.state
	cb.state = newState
	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(old, newState, cb.name)
	}
}

// State returns the current state. Uses RLock so concurrent readers (the
// router scoring every engine on each dispatch) never serialize against
// each other, only against a state transition.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the breaker back to closed, used by admin tooling/tests.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = nil
	cb.halfOpenInFlight = false
}

// Manager keys a CircuitBreaker per engine name.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
}

// NewManager creates a breaker manager shared by the engine router.
func NewManager(config CircuitBreakerConfig) *Manager {
	return &Manager{breakers: make(map[string]*CircuitBreaker), config: config}
}

// Get returns (creating if absent) the breaker for name.
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	if b, ok := m.breakers[name]; ok {
		m.mu.RUnlock()
		return b
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := NewCircuitBreaker(name, m.config)
	m.breakers[name] = b
	return b
}

// ResetAll resets every known breaker.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.breakers {
		b.Reset()
	}
}
