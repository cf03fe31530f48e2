package data

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Bulwark/internal/conf"
	"Bulwark/pkg/breaker"
	pkglog "Bulwark/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// CacheStore reads and repairs an entity keyspace in Redis.
type CacheStore struct {
	data *Data
	// ttl applies to repaired keys; zero keeps them without expiry
	ttl time.Duration
	log *pkglog.LogHelper
}

// NewCacheStore creates a CacheStore. Repaired keys get consistency.cache_ttl.
func NewCacheStore(c *conf.Consistency, d *Data, logger log.Logger) *CacheStore {
	var ttl time.Duration
	if c != nil {
		ttl = c.CacheTtl.AsDuration()
	}
	return &CacheStore{data: d, ttl: ttl, log: pkglog.NewLogHelper(logger)}
}

type scanPage struct {
	keys   []string
	cursor uint64
}

// ScanKeys walks prefix* with SCAN, never KEYS. SCAN may return a key more
// than once; callers deduplicate.
func (s *CacheStore) ScanKeys(ctx context.Context, prefix string, count int64, visit func([]string) error) error {
	if s.data.rdb == nil {
		return ErrCacheUnavailable
	}
	match := escapeGlob(prefix) + "*"

	var cursor uint64
	for {
		from := cursor
		page, err := breaker.Execute(ctx, s.data.breakers, BreakerRedis, &s.data.cacheBreaker,
			func(ctx context.Context) (scanPage, error) {
				keys, next, err := s.data.rdb.Scan(ctx, from, match, count).Result()
				return scanPage{keys: keys, cursor: next}, err
			})
		if err != nil {
			return fmt.Errorf("scan %s: %w", match, err)
		}
		if len(page.keys) > 0 {
			if err := visit(page.keys); err != nil {
				return err
			}
		}
		cursor = page.cursor
		if cursor == 0 {
			return nil
		}
	}
}

// GetMany fetches keys with one MGET. Missing keys come back as nil.
func (s *CacheStore) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	if s.data.rdb == nil {
		return nil, ErrCacheUnavailable
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := breaker.Execute(ctx, s.data.breakers, BreakerRedis, &s.data.cacheBreaker,
		func(ctx context.Context) ([]interface{}, error) {
			return s.data.rdb.MGet(ctx, keys...).Result()
		})
	if err != nil {
		return nil, fmt.Errorf("mget %d keys: %w", len(keys), err)
	}

	out := make([][]byte, len(keys))
	for i, v := range vals {
		switch t := v.(type) {
		case string:
			out[i] = []byte(t)
		case []byte:
			out[i] = t
		}
	}
	return out, nil
}

// Set writes value under key with the configured TTL.
func (s *CacheStore) Set(ctx context.Context, key string, value []byte) error {
	if s.data.rdb == nil {
		return ErrCacheUnavailable
	}
	_, err := breaker.Execute(ctx, s.data.breakers, BreakerRedis, &s.data.cacheBreaker,
		func(ctx context.Context) (string, error) {
			return s.data.rdb.Set(ctx, key, value, s.ttl).Result()
		})
	if err != nil {
		return fmt.Errorf("cache: failed to set key %s: %w", key, err)
	}
	s.log.Redis("cache key repaired", "key", key, "ttl_ms", s.ttl.Milliseconds())
	return nil
}

// Delete removes key.
func (s *CacheStore) Delete(ctx context.Context, key string) error {
	if s.data.rdb == nil {
		return ErrCacheUnavailable
	}
	_, err := breaker.Execute(ctx, s.data.breakers, BreakerRedis, &s.data.cacheBreaker,
		func(ctx context.Context) (int64, error) {
			return s.data.rdb.Del(ctx, key).Result()
		})
	if err != nil {
		return fmt.Errorf("cache: failed to delete key %s: %w", key, err)
	}
	s.log.Redis("orphan cache key deleted", "key", key)
	return nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob makes prefix match literally in a SCAN MATCH pattern.
func escapeGlob(prefix string) string {
	return globEscaper.Replace(prefix)
}
