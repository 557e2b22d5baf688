package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned by Execute while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
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

// Config tunes a breaker.
type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// Cooldown is how long an open breaker rejects before it lets one
	// trial call through.
	Cooldown time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker counts consecutive failures of one target. A single
// success closes it again.
type CircuitBreaker struct {
	name   string
	config Config
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool

	onStateChange func(name string, from, to State)
}

func New(name string, config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn unless the breaker is open. fn's error is returned as is.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return fmt.Errorf("%s: %w", cb.name, ErrOpen)
	}
	err := fn()
	cb.record(err == nil)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Cooldown {
			return false
		}
		cb.transitionLocked(StateHalfOpen)
		cb.trial = true
		return true
	case StateHalfOpen:
		// one trial at a time
		if cb.trial {
			return false
		}
		cb.trial = true
	}
	return true
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trial = false
	if ok {
		cb.failures = 0
		cb.transitionLocked(StateClosed)
		return
	}
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.config.FailureThreshold {
		cb.openedAt = cb.now()
		cb.transitionLocked(StateOpen)
	}
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, from, to)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker and forgets past failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.trial = false
	cb.transitionLocked(StateClosed)
}

// Group hands out one breaker per name, created on first use.
type Group struct {
	config Config

	mu            sync.Mutex
	breakers      map[string]*CircuitBreaker
	onStateChange func(name string, from, to State)
}

func NewGroup(config Config) *Group {
	return &Group{config: config, breakers: make(map[string]*CircuitBreaker)}
}

// OnStateChange registers a callback for every breaker of the group. It
// runs on its own goroutine.
func (g *Group) OnStateChange(fn func(name string, from, to State)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onStateChange = fn
	for _, cb := range g.breakers {
		cb.mu.Lock()
		cb.onStateChange = fn
		cb.mu.Unlock()
	}
}

func (g *Group) Get(name string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	cb, ok := g.breakers[name]
	if !ok {
		cb = New(name, g.config)
		cb.onStateChange = g.onStateChange
		g.breakers[name] = cb
	}
	return cb
}
