// Package circuitbreaker stops a client from hammering an upstream that keeps
// failing. After Threshold consecutive failures the breaker opens and
// rejects calls for Cooldown, then lets a single probe through.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"lyrics-sync-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // calls pass
	StateOpen                  // calls rejected until the cooldown ends
	StateHalfOpen              // one probe in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker configuration
type Config struct {
	Name      string        // for logging
	Threshold int           // consecutive failures before opening
	Cooldown  time.Duration // how long to stay open before probing
	// ProbeTimeout bounds a half-open probe that never reports back.
	ProbeTimeout time.Duration
}

type CircuitBreaker struct {
	name         string
	threshold    int
	cooldown     time.Duration
	probeTimeout time.Duration

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	probeStart time.Time

	now func() time.Time
}

func New(cfg Config) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		threshold:    cfg.Threshold,
		cooldown:     cfg.Cooldown,
		probeTimeout: cfg.ProbeTimeout,
		now:          time.Now,
	}
}

// Allow reports whether a call may proceed. Once the cooldown has passed the
// first caller becomes the probe and everyone else keeps waiting.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.state = StateHalfOpen
		cb.probeStart = cb.now()
		log.Infof("%s %s cooldown passed, probing", logcolors.LogBreaker, cb.name)
		return true
	case StateHalfOpen:
		if cb.now().Sub(cb.probeStart) >= cb.probeTimeout {
			cb.open()
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		log.Infof("%s %s recovered, closing", logcolors.LogBreaker, cb.name)
	}
	cb.state = StateClosed
	cb.failures = 0
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch {
	case cb.state == StateHalfOpen:
		cb.open()
	case cb.state == StateClosed && cb.failures >= cb.threshold:
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	log.Warnf("%s %s open after %d failures (cooldown: %v)", logcolors.LogBreaker, cb.name, cb.failures, cb.cooldown)
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// TimeUntilRetry returns the remaining cooldown, or 0 when calls may proceed.
func (cb *CircuitBreaker) TimeUntilRetry() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return 0
	}
	return max(cb.cooldown-cb.now().Sub(cb.openedAt), 0)
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.openedAt = time.Time{}
	cb.probeStart = time.Time{}
}
