package breaker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	pkglog "Bulwark/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// StateListener observes breaker transitions. Listeners run synchronously on the
// calling goroutine and must not call back into the breaker that notified them.
type StateListener func(name string, from, to State)

// Option configures a Registry.
type Option func(*Registry)

// WithDefaults sets the configuration used for breakers created without one.
func WithDefaults(cfg Config) Option {
	return func(r *Registry) {
		r.defaults = cfg
	}
}

// WithStateListener registers a transition listener.
func WithStateListener(l StateListener) Option {
	return func(r *Registry) {
		r.listeners = append(r.listeners, l)
	}
}

// WithClock overrides the clock used by rolling windows.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// Registry owns every named breaker of a process. Exactly one instance exists per name.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	listenersMu sync.RWMutex
	listeners   []StateListener

	defaults Config
	logger   *pkglog.LogHelper
	now      func() time.Time
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(logger log.Logger, opts ...Option) *Registry {
	r := &Registry{
		breakers: make(map[string]*Breaker),
		defaults: DefaultConfig(),
		logger:   pkglog.NewLogHelper(logger),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddStateListener registers a transition listener after construction.
func (r *Registry) AddStateListener(l StateListener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) notify(name string, from, to State) {
	r.listenersMu.RLock()
	listeners := make([]StateListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.listenersMu.RUnlock()

	for _, l := range listeners {
		l(name, from, to)
	}
}

// CreateBreaker returns the breaker registered under name, creating it with action
// and cfg when absent. cfg nil means registry defaults; zero fields are filled from them.
// When the breaker already exists, action and cfg are ignored.
func (r *Registry) CreateBreaker(name string, action Action, cfg *Config) (*Breaker, error) {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b, nil
	}

	effective := r.defaults
	if cfg != nil {
		effective = cfg.withDefaults(r.defaults)
	}
	if err := effective.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config for breaker %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b, nil
	}
	b = newBreaker(name, action, effective, r.logger, r.now, r.notify)
	r.breakers[name] = b

	r.logger.Breaker("circuit breaker created",
		"breaker", name,
		"timeout_ms", effective.Timeout.Milliseconds(),
		"error_threshold", effective.ErrorThresholdPercentage,
		"reset_timeout_ms", effective.ResetTimeout.Milliseconds(),
		"volume_threshold", effective.VolumeThreshold,
		"enabled", effective.Enabled())

	return b, nil
}

// ReplaceBreaker swaps the breaker stored under name for a fresh instance with cfg.
func (r *Registry) ReplaceBreaker(name string, action Action, cfg Config) (*Breaker, error) {
	effective := cfg.withDefaults(r.defaults)
	if err := effective.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config for breaker %s: %w", name, err)
	}

	b := newBreaker(name, action, effective, r.logger, r.now, r.notify)

	r.mu.Lock()
	r.breakers[name] = b
	r.mu.Unlock()

	r.logger.Breaker("circuit breaker replaced", "breaker", name)
	return b, nil
}

// Wrap guards action with the breaker registered under name and returns the guarded call.
// fallback, if not nil, runs when the circuit is open or the call fails.
func (r *Registry) Wrap(name string, action Action, cfg *Config, fallback Fallback) (Action, error) {
	b, err := r.CreateBreaker(name, action, cfg)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (interface{}, error) {
		return b.Execute(ctx, action, fallback)
	}, nil
}

// Get returns the breaker registered under name.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

func (r *Registry) lookup(name string) (*Breaker, error) {
	b, ok := r.Get(name)
	if !ok {
		return nil, notFoundError(name)
	}
	return b, nil
}

// Open forces the named circuit open until Close is called.
func (r *Registry) Open(name string) error {
	b, err := r.lookup(name)
	if err != nil {
		return err
	}
	b.ForceOpen()
	return nil
}

// Close forces the named circuit closed and clears its statistics.
func (r *Registry) Close(name string) error {
	b, err := r.lookup(name)
	if err != nil {
		return err
	}
	b.Close()
	return nil
}

// GetStatus returns the status of the named breaker.
func (r *Registry) GetStatus(name string) (*Status, error) {
	b, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	s := b.Status()
	return &s, nil
}

// GetAllStatus returns the status of every breaker ordered by name.
func (r *Registry) GetAllStatus() []Status {
	r.mu.RLock()
	all := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		all = append(all, b)
	}
	r.mu.RUnlock()

	statuses := make([]Status, 0, len(all))
	for _, b := range all {
		statuses = append(statuses, b.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// RemoveBreaker drops the named breaker. It reports whether one was registered.
func (r *Registry) RemoveBreaker(name string) bool {
	r.mu.Lock()
	_, ok := r.breakers[name]
	delete(r.breakers, name)
	r.mu.Unlock()

	if ok {
		r.logger.Breaker("circuit breaker removed", "breaker", name)
	}
	return ok
}

// Shutdown drops every breaker.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	count := len(r.breakers)
	r.breakers = make(map[string]*Breaker)
	r.mu.Unlock()

	r.logger.Breaker("circuit breaker registry shut down", "released", count)
}

// Execute runs fn through the breaker registered under name and returns its typed result.
func Execute[T any](ctx context.Context, r *Registry, name string, cfg *Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	action := func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	}
	b, err := r.CreateBreaker(name, action, cfg)
	if err != nil {
		return zero, err
	}

	v, err := b.Execute(ctx, action, nil)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, nil
	}
	return typed, nil
}
