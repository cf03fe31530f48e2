package data

import (
	"context"
	"fmt"
	"sort"
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

func setupCacheStore(t *testing.T, ttl time.Duration) (*CacheStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	d := &Data{
		rdb:          rdb,
		breakers:     breaker.NewRegistry(log.DefaultLogger),
		cacheBreaker: breaker.CacheConfig(),
	}
	c := &conf.Consistency{CacheTtl: durationpb.New(ttl)}
	return NewCacheStore(c, d, log.DefaultLogger), mr
}

func TestCacheStore_ScanKeys(t *testing.T) {
	store, mr := setupCacheStore(t, 0)
	for i := 0; i < 25; i++ {
		mr.Set(fmt.Sprintf("user:%d", i), "{}")
	}
	mr.Set("order:1", "{}")
	mr.Set("username", "{}")

	var got []string
	err := store.ScanKeys(context.Background(), "user:", 10, func(keys []string) error {
		got = append(got, keys...)
		return nil
	})
	require.NoError(t, err)

	sort.Strings(got)
	assert.Len(t, got, 25)
	assert.NotContains(t, got, "order:1")
	assert.NotContains(t, got, "username")
}

func TestCacheStore_ScanKeysEscapesPattern(t *testing.T) {
	store, mr := setupCacheStore(t, 0)
	mr.Set("cfg[1]*:a", "{}")
	mr.Set("cfg1x:b", "{}")

	var got []string
	require.NoError(t, store.ScanKeys(context.Background(), "cfg[1]*:", 10, func(keys []string) error {
		got = append(got, keys...)
		return nil
	}))
	assert.Equal(t, []string{"cfg[1]*:a"}, got)
}

func TestCacheStore_GetMany(t *testing.T) {
	store, mr := setupCacheStore(t, 0)
	mr.Set("user:1", `{"id":1}`)
	mr.Set("user:3", `{"id":3}`)

	vals, err := store.GetMany(context.Background(), []string{"user:1", "user:2", "user:3"})
	require.NoError(t, err)
	require.Len(t, vals, 3)
	assert.Equal(t, `{"id":1}`, string(vals[0]))
	assert.Nil(t, vals[1], "missing key")
	assert.Equal(t, `{"id":3}`, string(vals[2]))

	vals, err = store.GetMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vals)
}

func TestCacheStore_SetWithTTL(t *testing.T) {
	store, mr := setupCacheStore(t, 5*time.Minute)

	require.NoError(t, store.Set(context.Background(), "user:2", []byte(`{"id":2}`)))

	got, err := mr.Get("user:2")
	require.NoError(t, err)
	assert.Equal(t, `{"id":2}`, got)
	assert.Equal(t, 5*time.Minute, mr.TTL("user:2"))
}

func TestCacheStore_SetWithoutTTL(t *testing.T) {
	store, mr := setupCacheStore(t, 0)

	require.NoError(t, store.Set(context.Background(), "user:2", []byte(`{}`)))
	assert.Zero(t, mr.TTL("user:2"))
}

func TestCacheStore_Delete(t *testing.T) {
	store, mr := setupCacheStore(t, 0)
	mr.Set("user:9", "{}")

	require.NoError(t, store.Delete(context.Background(), "user:9"))
	assert.False(t, mr.Exists("user:9"))
	require.NoError(t, store.Delete(context.Background(), "user:9"), "deleting a missing key is not an error")
}

func TestCacheStore_RedisDown(t *testing.T) {
	store, mr := setupCacheStore(t, 0)
	mr.Close()

	err := store.Set(context.Background(), "user:1", []byte(`{}`))
	assert.Error(t, err)
	err = store.ScanKeys(context.Background(), "user:", 10, func([]string) error { return nil })
	assert.Error(t, err)
}

func TestCacheStore_NoClient(t *testing.T) {
	store := NewCacheStore(nil, &Data{}, log.DefaultLogger)

	assert.ErrorIs(t, store.Set(context.Background(), "k", nil), ErrCacheUnavailable)
	assert.ErrorIs(t, store.Delete(context.Background(), "k"), ErrCacheUnavailable)
	_, err := store.GetMany(context.Background(), []string{"k"})
	assert.ErrorIs(t, err, ErrCacheUnavailable)
	assert.ErrorIs(t, store.ScanKeys(context.Background(), "k", 1, nil), ErrCacheUnavailable)
}
