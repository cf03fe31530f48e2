// Package breaker provides a registry of named circuit breakers guarding calls to
// unreliable dependencies. Each breaker keeps rolling statistics over a trailing
// window and moves between closed, open and half-open states.
package breaker

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Config holds the configuration for one named circuit breaker.
type Config struct {
	// Timeout bounds a single call. A call exceeding it counts as a timeout and a failure.
	Timeout time.Duration

	// ErrorThresholdPercentage is the error rate (0-100) at which the circuit opens.
	// Zero in a literal means "use the default"; WithErrorThreshold(0) sets it explicitly.
	ErrorThresholdPercentage float64

	// ResetTimeout is how long the circuit stays open before admitting a trial call.
	ResetTimeout time.Duration

	// RollingWindow is the trailing interval statistics are aggregated over.
	RollingWindow time.Duration

	// RollingBuckets is the number of equal slices RollingWindow is split into.
	RollingBuckets int

	// VolumeThreshold is the minimum number of calls in the window before the circuit may open.
	VolumeThreshold uint32

	// Disabled turns the breaker into a pass-through.
	Disabled bool

	thresholdSet bool
}

// WithErrorThreshold returns c with the error threshold pinned to p, including 0.
func (c Config) WithErrorThreshold(p float64) Config {
	c.ErrorThresholdPercentage = p
	c.thresholdSet = true
	return c
}

// DefaultConfig returns the configuration used when a breaker is created without one.
func DefaultConfig() Config {
	return Config{
		Timeout:                  3 * time.Second,
		ErrorThresholdPercentage: 50,
		ResetTimeout:             30 * time.Second,
		RollingWindow:            10 * time.Second,
		RollingBuckets:           10,
		VolumeThreshold:          5,
	}
}

// DatabaseConfig returns a configuration tuned for database round trips.
func DatabaseConfig() Config {
	return Config{
		Timeout:                  5 * time.Second,
		ErrorThresholdPercentage: 50,
		ResetTimeout:             30 * time.Second,
		RollingWindow:            30 * time.Second,
		RollingBuckets:           10,
		VolumeThreshold:          10,
	}
}

// CacheConfig returns a configuration tuned for cache round trips.
// Cache calls are expected to be fast, so the timeout is short and the circuit recovers quickly.
func CacheConfig() Config {
	return Config{
		Timeout:                  500 * time.Millisecond,
		ErrorThresholdPercentage: 50,
		ResetTimeout:             10 * time.Second,
		RollingWindow:            10 * time.Second,
		RollingBuckets:           10,
		VolumeThreshold:          20,
	}
}

// Enabled reports whether the breaker guards calls.
func (c Config) Enabled() bool {
	return !c.Disabled
}

// BucketWidth returns the duration of a single rolling bucket.
func (c Config) BucketWidth() time.Duration {
	if c.RollingBuckets <= 0 {
		return c.RollingWindow
	}
	return c.RollingWindow / time.Duration(c.RollingBuckets)
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.ErrorThresholdPercentage < 0 || c.ErrorThresholdPercentage > 100 {
		return fmt.Errorf("error threshold must be in [0,100], got %v", c.ErrorThresholdPercentage)
	}
	if c.VolumeThreshold < 1 {
		return fmt.Errorf("volume threshold must be >= 1, got %d", c.VolumeThreshold)
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("reset timeout must be positive, got %s", c.ResetTimeout)
	}
	if c.RollingBuckets < 1 {
		return fmt.Errorf("rolling buckets must be >= 1, got %d", c.RollingBuckets)
	}
	if c.BucketWidth() <= 0 {
		return fmt.Errorf("rolling window %s too small for %d buckets", c.RollingWindow, c.RollingBuckets)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	return nil
}

// withDefaults fills zero-valued fields from base.
func (c Config) withDefaults(base Config) Config {
	if c.Timeout == 0 {
		c.Timeout = base.Timeout
	}
	if c.ErrorThresholdPercentage == 0 && !c.thresholdSet {
		c.ErrorThresholdPercentage = base.ErrorThresholdPercentage
		c.thresholdSet = base.thresholdSet
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = base.ResetTimeout
	}
	if c.RollingWindow == 0 {
		c.RollingWindow = base.RollingWindow
	}
	if c.RollingBuckets == 0 {
		c.RollingBuckets = base.RollingBuckets
	}
	if c.VolumeThreshold == 0 {
		c.VolumeThreshold = base.VolumeThreshold
	}
	return c
}

// MarshalJSON renders durations in milliseconds for operator dashboards.
func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TimeoutMs                int64   `json:"timeoutMs"`
		ErrorThresholdPercentage float64 `json:"errorThresholdPercentage"`
		ResetTimeoutMs           int64   `json:"resetTimeoutMs"`
		RollingWindowMs          int64   `json:"rollingWindowMs"`
		RollingBuckets           int     `json:"rollingBuckets"`
		VolumeThreshold          uint32  `json:"volumeThreshold"`
		Enabled                  bool    `json:"enabled"`
	}{
		TimeoutMs:                c.Timeout.Milliseconds(),
		ErrorThresholdPercentage: c.ErrorThresholdPercentage,
		ResetTimeoutMs:           c.ResetTimeout.Milliseconds(),
		RollingWindowMs:          c.RollingWindow.Milliseconds(),
		RollingBuckets:           c.RollingBuckets,
		VolumeThreshold:          c.VolumeThreshold,
		Enabled:                  c.Enabled(),
	})
}
