package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while the circuit is open
var ErrOpen = errors.New("circuit breaker is open")

// State of a breaker
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker opens after threshold consecutive failures and rejects calls until
// cooldown has passed. After the cooldown a single trial call is let
// through: its success closes the circuit, its failure reopens it.
type Breaker struct {
	mu              sync.Mutex
	state           State
	failures        int
	lastFailureTime time.Time
	trialInFlight   bool

	// Configuration
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// New creates a new circuit breaker
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5 // Default: 5 failures
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second // Default: 30 seconds
	}

	return &Breaker{
		state:     StateClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. Every allowed call must be
// followed by RecordSuccess or RecordFailure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) < b.cooldown {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return ErrOpen
		}
		b.trialInFlight = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the circuit
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = StateClosed
	b.trialInFlight = false
}

// RecordFailure counts a failure and opens the circuit at the threshold. A
// failed trial call reopens it immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureTime = b.now()
	b.trialInFlight = false

	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
	}
}

// Reset manually closes the circuit
func (b *Breaker) Reset() {
	b.RecordSuccess()
}

// GetState returns current state for monitoring
func (b *Breaker) GetState() (State, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state, b.failures
}

// Manager keeps one breaker per dependency
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	// Default configuration
	defaultThreshold int
	defaultCooldown  time.Duration
}

// NewManager creates a new circuit breaker manager
func NewManager(threshold int, cooldown time.Duration) *Manager {
	return &Manager{
		breakers:         make(map[string]*Breaker),
		defaultThreshold: threshold,
		defaultCooldown:  cooldown,
	}
}

// GetBreaker gets or creates the breaker for name
func (m *Manager) GetBreaker(name string) *Breaker {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()

	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists = m.breakers[name]; exists {
		return breaker
	}

	breaker = New(m.defaultThreshold, m.defaultCooldown)
	m.breakers[name] = breaker
	return breaker
}

// Do runs fn through the breaker for name
func (m *Manager) Do(name string, fn func() error) error {
	breaker := m.GetBreaker(name)
	if err := breaker.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		breaker.RecordFailure()
		return err
	}
	breaker.RecordSuccess()
	return nil
}

// GetAllStates returns the state of all circuit breakers for monitoring
func (m *Manager) GetAllStates() map[string]map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]map[string]interface{})
	for name, breaker := range m.breakers {
		state, failures := breaker.GetState()
		states[name] = map[string]interface{}{
			"state":    state,
			"failures": failures,
		}
	}

	return states
}
