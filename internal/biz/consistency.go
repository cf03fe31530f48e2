package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Bulwark/internal/model"
	pkglog "Bulwark/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/time/rate"
)

// InconsistencyType classifies a cache/database drift.
type InconsistencyType string

const (
	CacheOnly    InconsistencyType = "CACHE_ONLY"
	DBOnly       InconsistencyType = "DB_ONLY"
	DataMismatch InconsistencyType = "DATA_MISMATCH"
)

// EntityRow is one database row keyed by column name.
type EntityRow = model.EntityRow

// EntityStore reads the system of record.
type EntityStore interface {
	// ScanRows visits every row of table ordered by idField, batchSize rows at a time.
	// Each batch is an independent query; no transaction spans the scan.
	ScanRows(ctx context.Context, table, idField string, batchSize int, visit func([]EntityRow) error) error
}

// CacheStore reads and repairs the cache keyspace.
type CacheStore interface {
	// ScanKeys incrementally enumerates keys matching prefix*.
	ScanKeys(ctx context.Context, prefix string, count int64, visit func(keys []string) error) error
	// GetMany returns raw values aligned with keys; a missing key yields nil.
	GetMany(ctx context.Context, keys []string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// ConsistencyCheckConfig describes how to reconcile one entity type.
type ConsistencyCheckConfig struct {
	EntityName string `json:"entityName"`
	// Table defaults to EntityName.
	Table          string `json:"table,omitempty"`
	CacheKeyPrefix string `json:"cacheKeyPrefix"`
	// IDField defaults to "id".
	IDField string `json:"idField"`
	// FieldsToCompare defaults to every database column.
	FieldsToCompare []string `json:"fieldsToCompare,omitempty"`
	AutoFix         bool     `json:"autoFix"`
}

func (c ConsistencyCheckConfig) withDefaults() ConsistencyCheckConfig {
	if c.Table == "" {
		c.Table = c.EntityName
	}
	if c.IDField == "" {
		c.IDField = "id"
	}
	return c
}

// Validate checks the required fields.
func (c ConsistencyCheckConfig) Validate() error {
	if c.EntityName == "" {
		return fmt.Errorf("entity name is required")
	}
	if c.CacheKeyPrefix == "" {
		return fmt.Errorf("cache key prefix is required for %s", c.EntityName)
	}
	return nil
}

// InconsistencyRecord is one detected drift. Type is assigned by the reconciler.
type InconsistencyRecord struct {
	EntityType string            `json:"entityType"`
	EntityID   string            `json:"entityId"`
	Type       InconsistencyType `json:"type"`
	CacheKey   string            `json:"cacheKey"`
	CacheValue *string           `json:"cacheValue"`
	DBValue    *string           `json:"dbValue"`
	Fields     []string          `json:"fields,omitempty"`
	DetectedAt time.Time         `json:"detectedAt"`
	Fixed      bool              `json:"fixed"`
	FixError   string            `json:"fixError,omitempty"`
}

// CheckReport summarizes one CheckConsistency pass.
type CheckReport struct {
	EntityType string        `json:"entityType"`
	DBRows     int           `json:"dbRows"`
	CacheKeys  int           `json:"cacheKeys"`
	Found      int           `json:"found"`
	Fixed      int           `json:"fixed"`
	FixFailed  int           `json:"fixFailed"`
	Duration   time.Duration `json:"durationNs"`
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithBatchSize sets the database batch size and the SCAN count hint.
func WithBatchSize(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithFixRate limits auto-fix writes per second. Zero or negative means unlimited.
func WithFixRate(perSecond float64) ReconcilerOption {
	return func(r *Reconciler) {
		if perSecond <= 0 {
			r.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithReconcilerClock overrides time.Now.
func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

// Reconciler diffs a cache keyspace against its database table, treating the
// database as authoritative.
type Reconciler struct {
	entities EntityStore
	cache    CacheStore
	ledger   *Ledger

	batchSize int
	limiter   *rate.Limiter
	now       func() time.Time
	log       *pkglog.LogHelper
}

// NewReconciler creates a reconciler appending its findings to ledger.
func NewReconciler(entities EntityStore, cache CacheStore, ledger *Ledger, logger log.Logger, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		entities:  entities,
		cache:     cache,
		ledger:    ledger,
		batchSize: 500,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		now:       time.Now,
		log:       pkglog.NewLogHelper(logger),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ledger returns the ledger findings are appended to.
func (r *Reconciler) Ledger() *Ledger {
	return r.ledger
}

// CheckConsistency runs one full pass for cfg.
func (r *Reconciler) CheckConsistency(ctx context.Context, cfg ConsistencyCheckConfig) (*CheckReport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	start := r.now()
	report := &CheckReport{EntityType: cfg.EntityName}

	r.log.Consistency("consistency check started", "entity", cfg.EntityName, "prefix", cfg.CacheKeyPrefix, "auto_fix", cfg.AutoFix)

	rows := make(map[string]EntityRow)
	var order []string
	err := r.entities.ScanRows(ctx, cfg.Table, cfg.IDField, r.batchSize, func(batch []EntityRow) error {
		for _, row := range batch {
			raw, ok := row[cfg.IDField]
			if !ok || raw == nil {
				r.log.Warnw("msg", "row without id skipped", "entity", cfg.EntityName, "id_field", cfg.IDField)
				continue
			}
			id := normalize(raw)
			if _, dup := rows[id]; !dup {
				order = append(order, id)
			}
			rows[id] = row
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s rows: %w", cfg.EntityName, err)
	}
	report.DBRows = len(rows)

	seen := make(map[string]struct{}, len(rows))
	err = r.cache.ScanKeys(ctx, cfg.CacheKeyPrefix, int64(r.batchSize), func(keys []string) error {
		fresh := keys[:0:0]
		for _, k := range keys {
			id := strings.TrimPrefix(k, cfg.CacheKeyPrefix)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			fresh = append(fresh, k)
		}
		if len(fresh) == 0 {
			return nil
		}

		values, err := r.cache.GetMany(ctx, fresh)
		if err != nil {
			return err
		}
		for i, key := range fresh {
			if values[i] == nil {
				// expired between SCAN and MGET; its row, if any, is reported as DB_ONLY
				delete(seen, strings.TrimPrefix(key, cfg.CacheKeyPrefix))
				continue
			}
			report.CacheKeys++
			if rec := r.compare(cfg, key, values[i], rows); rec != nil {
				r.record(ctx, cfg, rec, report)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s cache keys: %w", cfg.EntityName, err)
	}

	for _, id := range order {
		if _, ok := seen[id]; ok {
			continue
		}
		dbValue, err := cacheable(rows[id])
		if err != nil {
			r.log.Warnw("msg", "row not serializable", "entity", cfg.EntityName, "id", id, "error", err)
			continue
		}
		r.record(ctx, cfg, &InconsistencyRecord{
			EntityType: cfg.EntityName,
			EntityID:   id,
			Type:       DBOnly,
			CacheKey:   cfg.CacheKeyPrefix + id,
			DBValue:    strPtr(string(dbValue)),
			DetectedAt: r.now(),
		}, report)
	}

	report.Duration = r.now().Sub(start)
	r.log.Consistency("consistency check finished",
		"entity", cfg.EntityName,
		"db_rows", report.DBRows,
		"cache_keys", report.CacheKeys,
		"found", report.Found,
		"fixed", report.Fixed,
		"fix_failed", report.FixFailed,
		"duration_ms", report.Duration.Milliseconds())
	return report, nil
}

// compare classifies one cache entry; nil means consistent.
func (r *Reconciler) compare(cfg ConsistencyCheckConfig, key string, raw []byte, rows map[string]EntityRow) *InconsistencyRecord {
	id := strings.TrimPrefix(key, cfg.CacheKeyPrefix)
	rec := &InconsistencyRecord{
		EntityType: cfg.EntityName,
		EntityID:   id,
		CacheKey:   key,
		CacheValue: strPtr(string(raw)),
		DetectedAt: r.now(),
	}

	row, ok := rows[id]
	if !ok {
		rec.Type = CacheOnly
		return rec
	}

	dbValue, err := cacheable(row)
	if err != nil {
		r.log.Warnw("msg", "row not serializable", "entity", cfg.EntityName, "id", id, "error", err)
		return nil
	}
	rec.DBValue = strPtr(string(dbValue))

	cached, err := decodeCacheValue(raw)
	if err != nil {
		rec.Type = DataMismatch
		rec.Fields = []string{"*"}
		return rec
	}
	if diff := compareFields(cached, row, cfg.FieldsToCompare); len(diff) > 0 {
		rec.Type = DataMismatch
		rec.Fields = diff
		return rec
	}
	return nil
}

// record optionally fixes rec and appends it to the ledger.
func (r *Reconciler) record(ctx context.Context, cfg ConsistencyCheckConfig, rec *InconsistencyRecord, report *CheckReport) {
	report.Found++
	if cfg.AutoFix {
		if err := r.fix(ctx, rec); err != nil {
			report.FixFailed++
			rec.FixError = err.Error()
			r.log.Warnw("msg", "inconsistency fix failed",
				"type", "consistency",
				"entity", rec.EntityType,
				"id", rec.EntityID,
				"kind", string(rec.Type),
				"error", err)
		} else {
			report.Fixed++
			rec.Fixed = true
		}
	}
	r.ledger.Append(*rec)
}

// fix applies the database-wins policy to one record.
func (r *Reconciler) fix(ctx context.Context, rec *InconsistencyRecord) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	switch rec.Type {
	case CacheOnly:
		return r.cache.Delete(ctx, rec.CacheKey)
	case DBOnly, DataMismatch:
		if rec.DBValue == nil {
			return fmt.Errorf("no database value for %s", rec.CacheKey)
		}
		return r.cache.Set(ctx, rec.CacheKey, []byte(*rec.DBValue))
	}
	return fmt.Errorf("unknown inconsistency type %q", rec.Type)
}

// FixRecord re-applies the fix policy to a pending ledger record.
func (r *Reconciler) FixRecord(ctx context.Context, entityType, entityID string) (*InconsistencyRecord, error) {
	rec, ok := r.ledger.Find(entityType, entityID)
	if !ok {
		return nil, ErrRecordNotFound
	}
	if rec.Fixed {
		return &rec, nil
	}
	if err := r.fix(ctx, &rec); err != nil {
		rec.FixError = err.Error()
		r.ledger.Update(rec)
		return &rec, err
	}
	rec.Fixed = true
	rec.FixError = ""
	r.ledger.Update(rec)
	return &rec, nil
}

func strPtr(s string) *string {
	return &s
}
