package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	pkglog "Bulwark/pkg/log"

	"github.com/sony/gobreaker/v2"
)

// State is the externally visible breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "halfOpen"
)

// Action is a guarded call.
type Action func(ctx context.Context) (interface{}, error)

// Fallback runs instead of the action when the circuit is open or the action failed.
// cause is the rejection or the failure that triggered it.
type Fallback func(ctx context.Context, cause error) (interface{}, error)

// Status is a point-in-time snapshot of one breaker.
type Status struct {
	Name       string `json:"name"`
	State      State  `json:"state"`
	ForcedOpen bool   `json:"forcedOpen"`
	Stats      Stats  `json:"stats"`
	Config     Config `json:"config"`
}

// Breaker guards calls to one named dependency.
//
// The half-open single-trial behaviour and the open timer come from gobreaker
// (MaxRequests = 1); the trip decision is taken against the breaker's own rolling window.
type Breaker struct {
	name   string
	cfg    Config
	action Action
	window *rollingWindow
	logger *pkglog.LogHelper
	notify func(name string, from, to State)

	// generation invalidates state callbacks from an engine replaced by Close.
	generation atomic.Uint64

	mu         sync.RWMutex
	engine     *gobreaker.CircuitBreaker[interface{}]
	forcedOpen bool
}

func newBreaker(name string, action Action, cfg Config, logger *pkglog.LogHelper, now func() time.Time, notify func(string, State, State)) *Breaker {
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		action: action,
		window: newRollingWindow(cfg.RollingWindow, cfg.RollingBuckets, now),
		logger: logger,
		notify: notify,
	}
	b.engine = b.newEngine()
	return b
}

func (b *Breaker) newEngine() *gobreaker.CircuitBreaker[interface{}] {
	gen := b.generation.Add(1)
	return gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        b.name,
		MaxRequests: 1,
		Timeout:     b.cfg.ResetTimeout,
		ReadyToTrip: func(gobreaker.Counts) bool {
			return b.shouldTrip()
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if b.generation.Load() != gen {
				return
			}
			b.onStateChange(fromEngineState(from), fromEngineState(to))
		},
	})
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// Config returns the breaker configuration.
func (b *Breaker) Config() Config {
	return b.cfg
}

// Fire runs the action the breaker was created with.
func (b *Breaker) Fire(ctx context.Context) (interface{}, error) {
	return b.Execute(ctx, b.action, nil)
}

// Execute runs action through the breaker. fallback may be nil.
func (b *Breaker) Execute(ctx context.Context, action Action, fallback Fallback) (interface{}, error) {
	if action == nil {
		action = b.action
	}
	if b.cfg.Disabled {
		return b.invoke(ctx, action)
	}

	b.mu.RLock()
	engine, forced := b.engine, b.forcedOpen
	b.mu.RUnlock()

	if forced {
		return b.reject(ctx, fallback)
	}

	result, err := engine.Execute(func() (interface{}, error) {
		v, err := b.invoke(ctx, action)
		b.recordOutcome(err)
		return v, err
	})
	if err == nil {
		return result, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return b.reject(ctx, fallback)
	}
	if fallback != nil {
		return b.runFallback(ctx, err, fallback)
	}
	return nil, err
}

// invoke runs action bounded by the configured timeout.
func (b *Breaker) invoke(ctx context.Context, action Action) (interface{}, error) {
	if b.cfg.Timeout <= 0 {
		return action(ctx)
	}

	errDeadline := timeoutError(b.name)
	callCtx, cancel := context.WithTimeoutCause(ctx, b.cfg.Timeout, errDeadline)
	defer cancel()

	type result struct {
		v   interface{}
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := action(callCtx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-callCtx.Done():
		if cause := context.Cause(callCtx); errors.Is(cause, ErrTimeout) {
			return nil, cause
		}
		return nil, callCtx.Err()
	}
}

func (b *Breaker) recordOutcome(err error) {
	switch {
	case err == nil:
		b.window.record(outcomeSuccess)
		b.logger.Debugw("msg", "circuit breaker call succeeded", "breaker", b.name, "type", "breaker")
	case IsTimeout(err):
		b.window.record(outcomeTimeout)
		b.logger.BreakerWarn("circuit breaker call timed out",
			"breaker", b.name,
			"timeout_ms", b.cfg.Timeout.Milliseconds())
	default:
		b.window.record(outcomeFailure)
		b.logger.BreakerWarn("circuit breaker call failed",
			"breaker", b.name,
			"error", err)
	}
}

func (b *Breaker) shouldTrip() bool {
	s := b.window.snapshot()
	return s.Total >= uint64(b.cfg.VolumeThreshold) && s.ErrorRate >= b.cfg.ErrorThresholdPercentage
}

func (b *Breaker) reject(ctx context.Context, fallback Fallback) (interface{}, error) {
	b.window.record(outcomeReject)
	b.logger.Breaker("circuit breaker rejected call", "breaker", b.name, "state", string(b.State()))

	err := openError(b.name)
	if fallback != nil {
		return b.runFallback(ctx, err, fallback)
	}
	return nil, err
}

func (b *Breaker) runFallback(ctx context.Context, cause error, fallback Fallback) (interface{}, error) {
	b.window.record(outcomeFallback)
	b.logger.Breaker("circuit breaker fallback invoked", "breaker", b.name, "cause", cause)
	return fallback(ctx, cause)
}

// onStateChange is called by the engine while it holds its own lock;
// it must not call back into the engine or take b.mu.
func (b *Breaker) onStateChange(from, to State) {
	switch to {
	case StateOpen:
		s := b.window.snapshot()
		b.logger.BreakerWarn("circuit breaker opened",
			"breaker", b.name,
			"from", string(from),
			"failures", s.Failures,
			"timeouts", s.Timeouts,
			"total", s.Total,
			"error_rate", s.ErrorRate,
			"reset_timeout_ms", b.cfg.ResetTimeout.Milliseconds())
	case StateHalfOpen:
		b.logger.Breaker("circuit breaker half-open, admitting one trial call", "breaker", b.name)
	case StateClosed:
		b.window.reset()
		b.logger.Breaker("circuit breaker closed", "breaker", b.name, "from", string(from))
	}
	if b.notify != nil {
		b.notify(b.name, from, to)
	}
}

// ForceOpen rejects every call until Close is called.
func (b *Breaker) ForceOpen() {
	from := b.State()

	b.mu.Lock()
	b.forcedOpen = true
	b.mu.Unlock()

	b.logger.BreakerWarn("circuit breaker opened manually", "breaker", b.name, "from", string(from))
	if b.notify != nil && from != StateOpen {
		b.notify(b.name, from, StateOpen)
	}
}

// Close resets the breaker to closed with empty statistics.
func (b *Breaker) Close() {
	from := b.State()

	b.mu.Lock()
	b.forcedOpen = false
	b.engine = b.newEngine()
	b.window.reset()
	b.mu.Unlock()

	b.logger.Breaker("circuit breaker closed manually", "breaker", b.name, "from", string(from))
	if b.notify != nil && from != StateClosed {
		b.notify(b.name, from, StateClosed)
	}
}

// State returns the current state. Reading it may move an expired open circuit to half-open.
func (b *Breaker) State() State {
	b.mu.RLock()
	engine, forced := b.engine, b.forcedOpen
	b.mu.RUnlock()

	if forced {
		return StateOpen
	}
	return fromEngineState(engine.State())
}

// Stats returns the rolling window snapshot.
func (b *Breaker) Stats() Stats {
	return b.window.snapshot()
}

// Status returns a snapshot of state, statistics and configuration.
func (b *Breaker) Status() Status {
	state := b.State()

	b.mu.RLock()
	forced := b.forcedOpen
	b.mu.RUnlock()

	return Status{
		Name:       b.name,
		State:      state,
		ForcedOpen: forced,
		Stats:      b.window.snapshot(),
		Config:     b.cfg,
	}
}

func fromEngineState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
