// Package biz holds the reconciliation use cases: the reconciler that diffs a
// cache keyspace against its table, the ledger of findings and the scheduler
// that triggers runs.
package biz

import (
	"Bulwark/internal/conf"
	"Bulwark/internal/data"
	"Bulwark/pkg/messaging"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewLedger,
	NewConsistencyReconciler,
	NewConsistencyScheduler,
	// Import data layer providers
	data.NewEntityStore,
	data.NewCacheStore,
	data.NewRunHistoryStore,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(EntityStore), new(*data.EntityStore)),
	wire.Bind(new(CacheStore), new(*data.CacheStore)),
	wire.Bind(new(ReportPublisher), new(*messaging.Producer)),
	wire.Bind(new(RunHistory), new(*data.RunHistoryStore)),
)

// NewConsistencyReconciler builds the reconciler from configuration.
func NewConsistencyReconciler(c *conf.Consistency, entities EntityStore, cache CacheStore, ledger *Ledger, logger log.Logger) *Reconciler {
	var opts []ReconcilerOption
	if c != nil {
		opts = append(opts, WithBatchSize(int(c.BatchSize)), WithFixRate(c.FixRate))
	}
	return NewReconciler(entities, cache, ledger, logger, opts...)
}

// NewConsistencyScheduler builds the scheduler and registers the checks declared
// in configuration. Owning services may register more at startup.
func NewConsistencyScheduler(c *conf.Consistency, r *Reconciler, pub ReportPublisher, history RunHistory, logger log.Logger) (*Scheduler, error) {
	opts := []SchedulerOption{WithRunHistory(history)}
	if c != nil {
		opts = append(opts,
			WithSchedule(c.Cron),
			WithAlertThreshold(int(c.AlertThreshold)),
			WithReportPublisher(pub, c.ReportTopic),
		)
	}
	s := NewScheduler(r, logger, opts...)
	for _, chk := range c.GetChecks() {
		cfg := ConsistencyCheckConfig{
			EntityName:      chk.EntityName,
			Table:           chk.Table,
			CacheKeyPrefix:  chk.CacheKeyPrefix,
			IDField:         chk.IdField,
			FieldsToCompare: chk.FieldsToCompare,
			AutoFix:         chk.AutoFix,
		}
		if err := s.Register(cfg, chk.Cron, chk.Enabled); err != nil {
			return nil, err
		}
	}
	return s, nil
}
