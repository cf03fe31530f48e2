package data

import (
	"testing"
	"time"

	"Bulwark/internal/conf"
	"Bulwark/pkg/breaker"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func TestNewData_WithRedis(t *testing.T) {
	// Start miniredis server
	mr := miniredis.RunT(t)
	defer mr.Close()

	c := &conf.Data{
		Redis: &conf.Data_Redis{
			Addr:         mr.Addr(),
			ReadTimeout:  durationpb.New(200 * time.Millisecond),
			WriteTimeout: durationpb.New(200 * time.Millisecond),
		},
	}
	logger := log.DefaultLogger

	rdb, redisCleanup, err := NewRedisClient(c, logger)
	require.NoError(t, err)
	require.NotNil(t, rdb)
	defer redisCleanup()

	reg, regCleanup := NewBreakerRegistry(nil, logger)
	defer regCleanup()

	data, cleanup, err := NewData(c, nil, logger, nil, rdb, reg)
	require.NoError(t, err)
	require.NotNil(t, data)
	defer cleanup()

	assert.Equal(t, rdb, data.Redis())
	assert.Same(t, reg, data.Breakers())
	assert.Nil(t, data.DB())
	assert.Equal(t, breaker.DatabaseConfig(), data.dbBreaker, "presets apply without configuration")
	assert.Equal(t, breaker.CacheConfig(), data.cacheBreaker)

	_, ok := reg.Get(BreakerMySQL)
	assert.True(t, ok, "data breakers are created eagerly")
	_, ok = reg.Get(BreakerRedis)
	assert.True(t, ok)
}

func TestNewData_WithoutRedis(t *testing.T) {
	data, cleanup, err := NewData(&conf.Data{}, nil, log.DefaultLogger, nil, nil, breaker.NewRegistry(log.DefaultLogger))
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, data.Redis())
}

func TestNewData_BreakerOverrides(t *testing.T) {
	bc := &conf.Breaker{
		Cache: &conf.Breaker_Settings{
			Timeout:         durationpb.New(100 * time.Millisecond),
			VolumeThreshold: 3,
			Enabled:         true,
		},
		Database: &conf.Breaker_Settings{Enabled: false},
	}

	data, cleanup, err := NewData(&conf.Data{}, bc, log.DefaultLogger, nil, redis.NewClient(&redis.Options{}), breaker.NewRegistry(log.DefaultLogger))
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, 100*time.Millisecond, data.cacheBreaker.Timeout)
	assert.Equal(t, uint32(3), data.cacheBreaker.VolumeThreshold)
	assert.Equal(t, breaker.CacheConfig().ResetTimeout, data.cacheBreaker.ResetTimeout, "zero fields keep the preset")
	assert.True(t, data.cacheBreaker.Enabled())
	assert.False(t, data.dbBreaker.Enabled())
}
