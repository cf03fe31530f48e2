package biz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"Bulwark/internal/model"
	pkglog "Bulwark/pkg/log"
	"Bulwark/pkg/messaging"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	// DefaultSchedule runs the full reconciliation at 03:00 every day.
	DefaultSchedule       = "0 3 * * *"
	DefaultAlertThreshold = 10

	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerRequest  = "request"
)

var (
	// ErrCheckNotFound is returned for an entity that has no registered check.
	ErrCheckNotFound = errors.NotFound("CHECK_NOT_FOUND", "consistency check not registered")
	// ErrInvalidThreshold is returned for a negative alert threshold.
	ErrInvalidThreshold = errors.BadRequest("INVALID_ALERT_THRESHOLD", "alert threshold must be >= 0")
)

// ReportPublisher publishes run reports.
type ReportPublisher interface {
	SendEvent(ctx context.Context, topic string, event interface{}) messaging.SendResult
}

// ScheduledCheck is one registered reconciliation entry.
// An empty CronExpression means the entry runs with the global schedule.
type ScheduledCheck struct {
	Config         ConsistencyCheckConfig `json:"config"`
	CronExpression string                 `json:"cronExpression"`
	Enabled        bool                   `json:"enabled"`
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedule sets the global cron expression. An empty expression disables
// the recurring trigger; manual runs keep working.
func WithSchedule(expr string) SchedulerOption {
	return func(s *Scheduler) {
		s.schedule = expr
	}
}

// WithAlertThreshold sets the initial pending-count alert threshold.
func WithAlertThreshold(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n >= 0 {
			s.alertThreshold = n
		}
	}
}

// WithReportPublisher publishes a run report to topic after every full run.
func WithReportPublisher(pub ReportPublisher, topic string) SchedulerOption {
	return func(s *Scheduler) {
		s.publisher = pub
		s.reportTopic = topic
	}
}

// WithRunHistory archives every full run report to h.
func WithRunHistory(h RunHistory) SchedulerOption {
	return func(s *Scheduler) {
		s.history = h
	}
}

// WithRunTimeout bounds one triggered run.
func WithRunTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// WithSchedulerClock overrides time.Now.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// Scheduler owns the registry of reconciliation entries and triggers runs.
// Runs never overlap: a manual run waits for an in-flight scheduled run.
type Scheduler struct {
	reconciler *Reconciler

	mu             sync.RWMutex
	entries        map[string]*ScheduledCheck
	order          []string
	alertThreshold int
	lastRun        time.Time

	runMu sync.Mutex

	cronMu  sync.Mutex
	cron    *cron.Cron
	cronIDs map[string]cron.EntryID

	schedule    string
	runTimeout  time.Duration
	publisher   ReportPublisher
	reportTopic string
	history     RunHistory
	now         func() time.Time
	log         *pkglog.LogHelper
}

// NewScheduler creates a scheduler running checks through reconciler.
func NewScheduler(reconciler *Reconciler, logger log.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		reconciler:     reconciler,
		entries:        make(map[string]*ScheduledCheck),
		alertThreshold: DefaultAlertThreshold,
		cronIDs:        make(map[string]cron.EntryID),
		schedule:       DefaultSchedule,
		runTimeout:     time.Hour,
		now:            time.Now,
		log:            pkglog.NewLogHelper(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds or replaces the entry for cfg.EntityName.
func (s *Scheduler) Register(cfg ConsistencyCheckConfig, cronExpr string, enabled bool) error {
	if err := cfg.Validate(); err != nil {
		return errors.BadRequest("INVALID_CHECK", err.Error())
	}
	if cronExpr != "" {
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return errors.BadRequest("INVALID_CRON", fmt.Sprintf("invalid cron expression %q: %v", cronExpr, err))
		}
	}

	s.mu.Lock()
	if _, ok := s.entries[cfg.EntityName]; !ok {
		s.order = append(s.order, cfg.EntityName)
	}
	s.entries[cfg.EntityName] = &ScheduledCheck{Config: cfg, CronExpression: cronExpr, Enabled: enabled}
	s.mu.Unlock()

	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.cron != nil {
		s.unscheduleLocked(cfg.EntityName)
		if cronExpr != "" {
			s.scheduleEntryLocked(cfg.EntityName, cronExpr)
		}
	}

	s.log.Scheduler("consistency check registered",
		"entity", cfg.EntityName,
		"cron", cronExpr,
		"enabled", enabled,
		"auto_fix", cfg.AutoFix)
	return nil
}

// Unregister removes an entry. It reports whether the entry existed.
func (s *Scheduler) Unregister(entityName string) bool {
	s.mu.Lock()
	_, ok := s.entries[entityName]
	if ok {
		delete(s.entries, entityName)
		for i, name := range s.order {
			if name == entityName {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if ok {
		s.cronMu.Lock()
		s.unscheduleLocked(entityName)
		s.cronMu.Unlock()
	}
	return ok
}

// SetEnabled toggles an entry.
func (s *Scheduler) SetEnabled(entityName string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entityName]
	if !ok {
		return ErrCheckNotFound
	}
	e.Enabled = enabled
	s.log.Scheduler("consistency check toggled", "entity", entityName, "enabled", enabled)
	return nil
}

// SetAlertThreshold changes the pending-count alert threshold.
func (s *Scheduler) SetAlertThreshold(n int) error {
	if n < 0 {
		return ErrInvalidThreshold
	}
	s.mu.Lock()
	s.alertThreshold = n
	s.mu.Unlock()
	s.log.Scheduler("alert threshold updated", "threshold", n)
	return nil
}

// AlertThreshold returns the pending-count alert threshold.
func (s *Scheduler) AlertThreshold() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alertThreshold
}

// LastRun returns when the last full run completed; zero if none has.
func (s *Scheduler) LastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

// Checks returns copies of the registered entries in registration order.
func (s *Scheduler) Checks() []ScheduledCheck {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ScheduledCheck, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.entries[name])
	}
	return out
}

// Ledger returns the ledger runs write to.
func (s *Scheduler) Ledger() *Ledger {
	return s.reconciler.Ledger()
}

// RunAll clears the ledger and checks every enabled entry in registration order.
// A failing entity is logged and skipped.
func (s *Scheduler) RunAll(ctx context.Context) (*model.ConsistencyRunReport, error) {
	return s.runPass(ctx, TriggerManual, func(*ScheduledCheck) bool { return true })
}

// RunOne checks a single entity, replacing its previous ledger records.
// Disabled entries can still be run by hand.
func (s *Scheduler) RunOne(ctx context.Context, entityName string) (*CheckReport, error) {
	s.mu.RLock()
	e, ok := s.entries[entityName]
	var cfg ConsistencyCheckConfig
	if ok {
		cfg = e.Config
	}
	s.mu.RUnlock()
	if !ok {
		return nil, ErrCheckNotFound
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	ledger := s.reconciler.Ledger()
	ledger.ClearEntity(entityName)
	report, err := s.reconciler.CheckConsistency(ctx, cfg)
	if err != nil {
		s.log.Errorw("msg", "consistency check failed", "type", "scheduler", "entity", entityName, "error", err)
		return nil, err
	}
	s.checkAlert(ledger.Stats().Pending)
	return report, nil
}

// runPass clears the whole ledger, then runs the selected enabled entries sequentially.
func (s *Scheduler) runPass(ctx context.Context, trigger string, selected func(*ScheduledCheck) bool) (*model.ConsistencyRunReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.RLock()
	var configs []ConsistencyCheckConfig
	for _, name := range s.order {
		e := s.entries[name]
		if e.Enabled && selected(e) {
			configs = append(configs, e.Config)
		}
	}
	threshold := s.alertThreshold
	s.mu.RUnlock()

	run := &model.ConsistencyRunReport{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: s.now(),
		Threshold: threshold,
	}
	s.log.Scheduler("consistency run started", "run_id", run.RunID, "trigger", trigger, "entities", len(configs))

	ledger := s.reconciler.Ledger()
	ledger.Clear()
	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		summary := model.EntityRunSummary{EntityName: cfg.EntityName}
		report, err := s.reconciler.CheckConsistency(ctx, cfg)
		if err != nil {
			summary.Error = err.Error()
			s.log.Errorw("msg", "consistency check failed", "type", "scheduler", "entity", cfg.EntityName, "error", err)
		} else {
			summary.Found = report.Found
			summary.Fixed = report.Fixed
			summary.FixFailed = report.FixFailed
			summary.DurationMs = report.Duration.Milliseconds()
		}
		run.Entities = append(run.Entities, summary)
	}

	stats := ledger.Stats()
	run.Total = stats.Total
	run.Fixed = stats.Fixed
	run.Pending = stats.Pending
	run.ByType = make(map[string]int, len(stats.ByType))
	for t, n := range stats.ByType {
		run.ByType[string(t)] = n
	}
	run.Alerted = s.checkAlert(stats.Pending)
	run.FinishedAt = s.now()

	s.mu.Lock()
	s.lastRun = run.FinishedAt
	s.mu.Unlock()

	s.log.Scheduler("consistency run finished",
		"run_id", run.RunID,
		"total", run.Total,
		"fixed", run.Fixed,
		"pending", run.Pending,
		"duration_ms", run.FinishedAt.Sub(run.StartedAt).Milliseconds())

	s.publish(ctx, run)
	if s.history != nil {
		s.history.Archive(ctx, run)
	}
	return run, nil
}

// RecentRuns returns archived run reports, newest first. Without a history
// store only the in-memory ledger exists and the list is empty.
func (s *Scheduler) RecentRuns(ctx context.Context, limit int) ([]*model.ConsistencyRunReport, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.Recent(ctx, limit)
}

// checkAlert raises an alert when pending exceeds the threshold.
func (s *Scheduler) checkAlert(pending int) bool {
	threshold := s.AlertThreshold()
	if pending <= threshold {
		return false
	}
	s.log.Alert("too many pending inconsistencies", "pending", pending, "threshold", threshold)
	return true
}

func (s *Scheduler) publish(ctx context.Context, run *model.ConsistencyRunReport) {
	if s.publisher == nil || s.reportTopic == "" {
		return
	}
	if res := s.publisher.SendEvent(ctx, s.reportTopic, run); !res.Sent {
		s.log.Warnw("msg", "run report not published", "type", "scheduler", "run_id", run.RunID, "error", res.Err)
	}
}

// Start installs the recurring triggers. Entries with their own cron expression
// get a dedicated job; the others run with the global schedule.
func (s *Scheduler) Start() error {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.cron != nil {
		return nil
	}

	cl := cronLogger{h: s.log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if s.schedule != "" {
		if _, err := c.AddFunc(s.schedule, s.scheduledRun); err != nil {
			return fmt.Errorf("failed to register consistency cron job: %w", err)
		}
	}
	s.cron = c

	s.mu.RLock()
	custom := make(map[string]string)
	for name, e := range s.entries {
		if e.CronExpression != "" {
			custom[name] = e.CronExpression
		}
	}
	s.mu.RUnlock()
	names := make([]string, 0, len(custom))
	for name := range custom {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.scheduleEntryLocked(name, custom[name])
	}

	c.Start()
	if s.schedule == "" {
		s.log.Scheduler("global consistency schedule disabled", "custom_jobs", len(names))
	} else {
		s.log.Scheduler("consistency cron started", "schedule", s.schedule, "custom_jobs", len(names))
	}
	return nil
}

// Stop removes the triggers and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cronMu.Lock()
	c := s.cron
	s.cron = nil
	s.cronIDs = make(map[string]cron.EntryID)
	s.cronMu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		s.log.Scheduler("consistency cron stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) scheduledRun() {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()
	_, err := s.runPass(ctx, TriggerSchedule, func(e *ScheduledCheck) bool { return e.CronExpression == "" })
	if err != nil {
		s.log.Errorw("msg", "scheduled consistency run aborted", "type", "scheduler", "error", err)
	}
}

func (s *Scheduler) scheduleEntryLocked(name, expr string) {
	id, err := s.cron.AddFunc(expr, func() {
		s.mu.RLock()
		e, ok := s.entries[name]
		enabled := ok && e.Enabled
		s.mu.RUnlock()
		if !enabled {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
		defer cancel()
		if _, err := s.RunOne(ctx, name); err != nil {
			s.log.Errorw("msg", "scheduled consistency check failed", "type", "scheduler", "entity", name, "error", err)
		}
	})
	if err != nil {
		s.log.Errorw("msg", "failed to register consistency check job", "type", "scheduler", "entity", name, "error", err)
		return
	}
	s.cronIDs[name] = id
}

func (s *Scheduler) unscheduleLocked(name string) {
	if id, ok := s.cronIDs[name]; ok {
		s.cron.Remove(id)
		delete(s.cronIDs, name)
	}
}

// cronLogger routes cron's own logging through the helper.
type cronLogger struct {
	h *pkglog.LogHelper
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.h.Debugw(append([]interface{}{"msg", msg, "type", "scheduler"}, keysAndValues...)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.h.Errorw(append([]interface{}{"msg", msg, "type", "scheduler", "error", err}, keysAndValues...)...)
}
