package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/logging"
)

// CircuitState is where a breaker sits in its closed, open, half-open cycle
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

var stateNames = map[CircuitState]string{
	StateClosed:   "CLOSED",
	StateOpen:     "OPEN",
	StateHalfOpen: "HALF_OPEN",
}

func (s CircuitState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// CircuitBreakerConfig configures a breaker guarding one upstream API
type CircuitBreakerConfig struct {
	Name          string
	// MaxRequests probes are admitted while half-open; that many successes close the breaker
	MaxRequests   uint32
	// Timeout is the cool-down spent open before probing
	Timeout       time.Duration
	// ReadyToTrip is consulted after each failure while closed
	ReadyToTrip   func(counts Counts) bool
	OnStateChange func(name string, from CircuitState, to CircuitState)
	Now           func() time.Time
}

// Counts are reset on every state change
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) record(success bool) {
	if success {
		c.TotalSuccesses++
		c.ConsecutiveSuccesses++
		c.ConsecutiveFailures = 0
		return
	}
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// CircuitBreaker fails calls fast while an upstream keeps erroring
type CircuitBreaker struct {
	cfg    CircuitBreakerConfig
	logger *logging.Logger

	mu       sync.Mutex
	state    CircuitState
	counts   Counts
	openedAt time.Time
	// epoch changes with every transition so results from calls admitted
	// under an earlier state are discarded
	epoch    uint64
}

// NewCircuitBreaker fills defaults: one half-open probe, a minute of
// cool-down and a trip after five consecutive failures
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Minute
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures >= 5 }
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &CircuitBreaker{cfg: config, logger: logging.GetLogger()}
}

// Execute runs fn unless the breaker is open or its half-open probes are
// used up, in which case a *CircuitBreakerError is returned and fn is skipped
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) (err error) {
	epoch, err := cb.admit()
	if err != nil {
		return err
	}

	completed := false
	defer func() {
		if !completed {
			cb.settle(epoch, false)
		}
	}()

	err = fn(ctx)
	completed = true
	cb.settle(epoch, err == nil)
	return err
}

// State reports the current state, moving open to half-open once the cool-down has passed
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	return cb.state
}

// Counts returns a snapshot of the current state's counters
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh()
	switch {
	case cb.state == StateOpen,
		cb.state == StateHalfOpen && cb.counts.Requests >= cb.cfg.MaxRequests:
		return 0, &CircuitBreakerError{Name: cb.cfg.Name, State: cb.state}
	}
	cb.counts.Requests++
	return cb.epoch, nil
}

func (cb *CircuitBreaker) settle(epoch uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh()
	if epoch != cb.epoch {
		return
	}
	cb.counts.record(success)

	switch cb.state {
	case StateClosed:
		if !success && cb.cfg.ReadyToTrip(cb.counts) {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		if !success {
			cb.transition(StateOpen)
		} else if cb.counts.ConsecutiveSuccesses >= cb.cfg.MaxRequests {
			cb.transition(StateClosed)
		}
	}
}

// refresh must be called with mu held
func (cb *CircuitBreaker) refresh() {
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) > cb.cfg.Timeout {
		cb.transition(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.counts = Counts{}
	cb.epoch++
	if to == StateOpen {
		cb.openedAt = cb.cfg.Now()
	}

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
	cb.logger.Info("Circuit breaker state changed",
		"name", cb.cfg.Name,
		"from", from.String(),
		"to", to.String(),
	)
}

// CircuitBreakerError is returned for calls the breaker refused to make
type CircuitBreakerError struct {
	Name  string
	State CircuitState
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError reports whether err, or anything it wraps, is a breaker refusal
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
