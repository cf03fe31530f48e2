package data

import (
	"context"
	"time"

	"Bulwark/internal/conf"
	pkglog "Bulwark/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisPoolSize     = 100
	redisMinIdleConns = 10
	redisDialTimeout  = 3 * time.Second
	redisIdleTimeout  = 5 * time.Minute
)

// redisOptions 对账时 SCAN/MGET 批次与修复写入共用这一个连接池
func redisOptions(c *conf.Data_Redis) *redis.Options {
	network := c.Network
	if network == "" {
		network = "tcp"
	}
	return &redis.Options{
		Network:         network,
		Addr:            c.Addr,
		Password:        c.Password,
		DB:              int(c.Db),
		PoolSize:        redisPoolSize,
		MinIdleConns:    redisMinIdleConns,
		DialTimeout:     redisDialTimeout,
		ReadTimeout:     c.ReadTimeout.AsDuration(),
		WriteTimeout:    c.WriteTimeout.AsDuration(),
		ConnMaxIdleTime: redisIdleTimeout,
	}
}

// NewRedisClient opens the cache client. Without an address the cache side of
// reconciliation is disabled and nil is returned. An unreachable server is not
// fatal: go-redis reconnects lazily and the redis breaker guards every call.
func NewRedisClient(c *conf.Data, logger log.Logger) (*redis.Client, func(), error) {
	logHelper := pkglog.NewLogHelper(logger)

	if c == nil || c.Redis == nil || c.Redis.Addr == "" {
		logHelper.Warnw("msg", "redis not configured, cache checks will fail fast", "type", "redis")
		return nil, func() {}, nil
	}

	rdb := redis.NewClient(redisOptions(c.Redis))

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logHelper.Warnw("msg", "redis unreachable at startup",
			"type", "redis",
			"addr", c.Redis.Addr,
			"error", err)
	} else {
		logHelper.Startup("redis connected", "addr", c.Redis.Addr, "db", c.Redis.Db)
	}

	cleanup := func() {
		if err := rdb.Close(); err != nil {
			logHelper.Errorw("msg", "failed to close redis client", "type", "redis", "error", err)
			return
		}
		logHelper.Redis("redis client closed")
	}
	return rdb, cleanup, nil
}
