package backend

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the circuit breaker position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

var (
	// ErrCircuitOpen is returned while the breaker refuses requests.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyProbes is returned when the half-open probe slots are taken.
	ErrTooManyProbes = errors.New("too many half-open requests")
)

// BreakerConfig configures the mutation circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures uint32 `mapstructure:"max_failures"`
	// OpenTimeout is how long the circuit stays open before probing
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
	// MaxHalfOpenRequests is the number of concurrent probes allowed
	MaxHalfOpenRequests uint32 `mapstructure:"max_half_open_requests"`
}

// Validate checks if the breaker configuration is valid
func (c BreakerConfig) Validate() error {
	if c.MaxFailures == 0 {
		return errors.New("MaxFailures must be greater than 0")
	}
	if c.OpenTimeout <= 0 {
		return errors.New("OpenTimeout must be greater than 0")
	}
	if c.MaxHalfOpenRequests == 0 {
		return errors.New("MaxHalfOpenRequests must be greater than 0")
	}
	return nil
}

// DefaultBreakerConfig returns sensible defaults
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:         5,
		OpenTimeout:         30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// Breaker stops issuing mutations to a backend that keeps failing them, so
// optimistic changes are rolled back immediately instead of after a timeout.
type Breaker struct {
	cfg          BreakerConfig
	state        BreakerState
	failures     uint32
	lastFailure  time.Time
	halfOpenReqs uint32
	now          func() time.Time
	mu           sync.Mutex
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Breaker{cfg: cfg, state: BreakerClosed, now: time.Now}, nil
}

// Allow reports whether a request may proceed. Every allowed request must be
// followed by exactly one Record call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) < b.cfg.OpenTimeout {
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.halfOpenReqs = 1
		return nil
	case BreakerHalfOpen:
		if b.halfOpenReqs >= b.cfg.MaxHalfOpenRequests {
			return ErrTooManyProbes
		}
		b.halfOpenReqs++
		return nil
	default:
		return nil
	}
}

// Record reports the outcome of an allowed request and returns the state
// before and after.
func (b *Breaker) Record(success bool) (before, after BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	before = b.state
	if b.state == BreakerHalfOpen && b.halfOpenReqs > 0 {
		b.halfOpenReqs--
	}

	if success {
		b.state = BreakerClosed
		b.failures = 0
		b.halfOpenReqs = 0
		return before, b.state
	}

	b.failures++
	b.lastFailure = b.now()
	switch b.state {
	case BreakerClosed:
		if b.failures >= b.cfg.MaxFailures {
			b.state = BreakerOpen
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.halfOpenReqs = 0
	}
	return before, b.state
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
