package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"Bulwark/internal/biz"
	"Bulwark/internal/model"
	"Bulwark/pkg/breaker"
	"Bulwark/pkg/messaging"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/require"
)

// memEntities 按表名返回固定行
type memEntities map[string][]biz.EntityRow

func (m memEntities) ScanRows(ctx context.Context, table, idField string, batchSize int, visit func([]biz.EntityRow) error) error {
	rows := m[table]
	if len(rows) == 0 {
		return nil
	}
	return visit(rows)
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache(kv map[string]string) *memCache {
	c := &memCache{data: make(map[string][]byte)}
	for k, v := range kv {
		c.data[k] = []byte(v)
	}
	return c
}

func (c *memCache) ScanKeys(ctx context.Context, prefix string, count int64, visit func([]string) error) error {
	c.mu.Lock()
	var keys []string
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()
	sort.Strings(keys)
	if len(keys) == 0 {
		return nil
	}
	return visit(keys)
}

func (c *memCache) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = c.data[k]
	}
	return out, nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

type recordWriter struct {
	mu      sync.Mutex
	written []*messaging.Message
}

func (w *recordWriter) Write(_ context.Context, msgs []*messaging.Message) ([]messaging.DeliveryReport, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	reports := make([]messaging.DeliveryReport, 0, len(msgs))
	for _, m := range msgs {
		w.written = append(w.written, m)
		reports = append(reports, messaging.DeliveryReport{Topic: m.Topic, Offset: int64(len(w.written) - 1)})
	}
	return reports, nil
}

func (w *recordWriter) Close() error { return nil }

func (w *recordWriter) topics() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.written))
	for _, m := range w.written {
		out = append(out, m.Topic)
	}
	return out
}

// memHistory keeps archived runs in memory.
type memHistory struct {
	mu   sync.Mutex
	runs []*model.ConsistencyRunReport
}

func (h *memHistory) Archive(ctx context.Context, run *model.ConsistencyRunReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, run)
}

func (h *memHistory) Recent(ctx context.Context, limit int) ([]*model.ConsistencyRunReport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*model.ConsistencyRunReport, 0, len(h.runs))
	for i := len(h.runs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, h.runs[i])
	}
	return out, nil
}

type fixture struct {
	svc       *AdminService
	scheduler *biz.Scheduler
	breakers  *breaker.Registry
	dlq       *messaging.DeadLetterForwarder
	consumer  *messaging.Consumer
	writer    *recordWriter
	cache     *memCache
}

// newFixture users 表有 1、2 两行，缓存里只有 user:1 与一个孤儿 user:9
func newFixture(t *testing.T) *fixture {
	t.Helper()
	entities := memEntities{
		"users": {
			{"id": int64(1), "name": "alice"},
			{"id": int64(2), "name": "bob"},
		},
	}
	cache := newMemCache(map[string]string{
		"user:1": `{"id":1,"name":"alice"}`,
		"user:9": `{"id":9,"name":"ghost"}`,
	})
	r := biz.NewReconciler(entities, cache, biz.NewLedger(), log.DefaultLogger)
	s := biz.NewScheduler(r, log.DefaultLogger, biz.WithRunHistory(&memHistory{}))
	require.NoError(t, s.Register(biz.ConsistencyCheckConfig{EntityName: "users", CacheKeyPrefix: "user:"}, "", true))
	require.NoError(t, s.Register(biz.ConsistencyCheckConfig{EntityName: "orders", CacheKeyPrefix: "order:"}, "", false))

	breakers := breaker.NewRegistry(log.DefaultLogger)
	t.Cleanup(breakers.Shutdown)
	_, err := breakers.CreateBreaker("mysql", nil, nil)
	require.NoError(t, err)

	writer := &recordWriter{}
	producer := messaging.NewConnectedProducer(writer, log.DefaultLogger)
	dlq := messaging.NewDeadLetterForwarder(producer, log.DefaultLogger)
	consumer := messaging.NewConsumer(nil, "bulwark", log.DefaultLogger)

	return &fixture{
		svc:       NewAdminService(breakers, dlq, producer, consumer, s, r, log.DefaultLogger),
		scheduler: s,
		breakers:  breakers,
		dlq:       dlq,
		consumer:  consumer,
		writer:    writer,
		cache:     cache,
	}
}
