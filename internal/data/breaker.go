package data

import (
	"Bulwark/internal/conf"
	"Bulwark/pkg/breaker"

	"github.com/go-kratos/kratos/v2/log"
)

// Breaker names guarding the data stores.
const (
	BreakerMySQL = "mysql"
	BreakerRedis = "redis"
)

// NewBreakerRegistry creates the process-wide breaker registry with the configured defaults.
func NewBreakerRegistry(c *conf.Breaker, logger log.Logger) (*breaker.Registry, func()) {
	reg := breaker.NewRegistry(logger, breaker.WithDefaults(breakerConfig(breaker.DefaultConfig(), c.GetDefaults())))
	return reg, reg.Shutdown
}

// breakerConfig overlays the non-zero configured settings on base.
func breakerConfig(base breaker.Config, s *conf.Breaker_Settings) breaker.Config {
	if s == nil {
		return base
	}
	if d := s.Timeout.AsDuration(); d > 0 {
		base.Timeout = d
	}
	if s.ErrorThresholdPercentage != nil {
		base = base.WithErrorThreshold(*s.ErrorThresholdPercentage)
	}
	if d := s.ResetTimeout.AsDuration(); d > 0 {
		base.ResetTimeout = d
	}
	if d := s.RollingWindow.AsDuration(); d > 0 {
		base.RollingWindow = d
	}
	if s.RollingBuckets > 0 {
		base.RollingBuckets = int(s.RollingBuckets)
	}
	if s.VolumeThreshold > 0 {
		base.VolumeThreshold = s.VolumeThreshold
	}
	base.Disabled = !s.Enabled
	return base
}
