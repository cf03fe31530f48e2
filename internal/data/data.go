// Package data provides data access layer implementations.
// It owns the MySQL, Redis and Kafka clients and guards every round trip with a
// named circuit breaker.
package data

import (
	"errors"

	"Bulwark/internal/conf"
	"Bulwark/pkg/breaker"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewMySQLClient,
	NewBreakerRegistry,
	NewMessagingMetrics,
	NewProducer,
	NewConsumer,
	NewDeadLetterForwarder,
	NewRetrier,
	NewRetryConfig,
)

var (
	// ErrDatabaseUnavailable is returned when no database client was configured.
	ErrDatabaseUnavailable = errors.New("data: database client is nil")
	// ErrCacheUnavailable is returned when no redis client was configured.
	ErrCacheUnavailable = errors.New("data: redis client is nil")
)

// Data contains all data layer dependencies.
type Data struct {
	db       *gorm.DB
	rdb      *redis.Client
	breakers *breaker.Registry

	dbBreaker    breaker.Config
	cacheBreaker breaker.Config
}

// NewData creates a new Data instance with all data layer dependencies.
// A missing Redis client does not prevent application startup (graceful degradation).
func NewData(_ *conf.Data, bc *conf.Breaker, logger log.Logger, db *gorm.DB, rdb *redis.Client, breakers *breaker.Registry) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, reconciliation will be unavailable")
	}

	d := &Data{
		db:           db,
		rdb:          rdb,
		breakers:     breakers,
		dbBreaker:    breakerConfig(breaker.DatabaseConfig(), bc.GetDatabase()),
		cacheBreaker: breakerConfig(breaker.CacheConfig(), bc.GetCache()),
	}

	// 提前创建，健康检查与指标从启动起就能看到两个断路器
	if _, err := breakers.CreateBreaker(BreakerMySQL, nil, &d.dbBreaker); err != nil {
		return nil, nil, err
	}
	if _, err := breakers.CreateBreaker(BreakerRedis, nil, &d.cacheBreaker); err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		// client cleanups are registered by their own providers
	}

	return d, cleanup, nil
}

// DB returns the gorm client.
func (d *Data) DB() *gorm.DB {
	return d.db
}

// Redis returns the redis client.
func (d *Data) Redis() *redis.Client {
	return d.rdb
}

// Breakers returns the breaker registry guarding data access.
func (d *Data) Breakers() *breaker.Registry {
	return d.breakers
}
