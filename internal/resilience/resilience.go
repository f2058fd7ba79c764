// Package resilience guards calls to unreliable collaborators with a
// shared rate limiter, bounded retry, and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMinInterval      = time.Second
	defaultMaxRetries       = 3
	defaultBaseDelay        = time.Second
	defaultMaxDelay         = 10 * time.Second
	defaultBreakerThreshold = 5
	defaultOpenDuration     = 60 * time.Second
)

// ErrCircuitOpen is returned without attempting the call while the
// breaker cooldown is still running.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State is the mutable guard state shared by every call site of one
// collaborator class. It is explicit and injectable so tests can reset it
// and isolated instances can coexist.
type State struct {
	mu          sync.Mutex
	lastCall    time.Time
	failures    int
	open        bool
	lastFailure time.Time
}

// NewState returns a fresh closed-breaker state.
func NewState() *State {
	return &State{}
}

// Reset clears all limiter and breaker state.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCall = time.Time{}
	s.failures = 0
	s.open = false
	s.lastFailure = time.Time{}
}

// Snapshot is a point-in-time copy of the guard state.
type Snapshot struct {
	Failures    int
	Open        bool
	LastFailure time.Time
	LastCall    time.Time
}

// Snapshot returns a copy of the current state for status displays.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Failures:    s.failures,
		Open:        s.open,
		LastFailure: s.lastFailure,
		LastCall:    s.lastCall,
	}
}

// Config holds the guard tuning for one collaborator class.
type Config struct {
	MinInterval      time.Duration // minimum gap between outbound calls
	MaxRetries       int           // retries after the first attempt
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	BreakerThreshold int // consecutive failures before the breaker opens
	OpenDuration     time.Duration
}

// DefaultConfig returns the guard defaults.
func DefaultConfig() Config {
	return Config{
		MinInterval:      defaultMinInterval,
		MaxRetries:       defaultMaxRetries,
		BaseDelay:        defaultBaseDelay,
		MaxDelay:         defaultMaxDelay,
		BreakerThreshold: defaultBreakerThreshold,
		OpenDuration:     defaultOpenDuration,
	}
}

// Controller executes guarded calls against a shared State.
type Controller struct {
	cfg   Config
	state *State
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSleeper overrides how rate-limit waits are performed.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Controller) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// NewController creates a Controller over the supplied shared state.
func NewController(cfg Config, state *State, opts ...Option) *Controller {
	if state == nil {
		state = NewState()
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = defaultBreakerThreshold
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = defaultOpenDuration
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	c := &Controller{
		cfg:   cfg,
		state: state,
		now:   time.Now,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the shared state this controller mutates.
func (c *Controller) State() *State {
	return c.state
}

// Execute runs fn under the guard: fail fast while the breaker is open,
// wait for a rate-limit slot, retry transient failures with exponential
// backoff, and record the final outcome against the breaker.
func (c *Controller) Execute(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := c.allow(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BaseDelay
	bo.MaxInterval = c.cfg.MaxDelay
	bo.MaxElapsedTime = 0 // attempt count bounds the retry loop
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries)), ctx)

	err := backoff.Retry(func() error {
		if err := c.waitTurn(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if Transient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)

	c.record(err)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// allow checks the breaker. Once the open duration elapses the breaker
// closes unconditionally; the first post-timeout call is attempted and
// only re-opens the breaker if it fails on its own.
func (c *Controller) allow() error {
	s := c.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	if c.now().Sub(s.lastFailure) < c.cfg.OpenDuration {
		return ErrCircuitOpen
	}
	s.open = false
	s.failures = 0
	return nil
}

func (c *Controller) record(err error) {
	s := c.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.failures = 0
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	s.failures++
	s.lastFailure = c.now()
	if s.failures >= c.cfg.BreakerThreshold {
		s.open = true
	}
}

// waitTurn reserves the next rate-limit slot and sleeps until it is due.
func (c *Controller) waitTurn(ctx context.Context) error {
	if c.cfg.MinInterval <= 0 {
		return nil
	}
	s := c.state
	s.mu.Lock()
	now := c.now()
	wait := c.cfg.MinInterval - now.Sub(s.lastCall)
	if wait < 0 {
		wait = 0
	}
	s.lastCall = now.Add(wait)
	s.mu.Unlock()
	if wait == 0 {
		return nil
	}
	return c.sleep(ctx, wait)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
