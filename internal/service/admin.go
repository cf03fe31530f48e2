package service

import (
	"context"
	"time"

	"Bulwark/internal/biz"
	"Bulwark/internal/model"
	"Bulwark/pkg/breaker"
	"Bulwark/pkg/messaging"

	"github.com/go-kratos/kratos/v2/log"
)

// AdminService exposes the operator surface: breakers, dead letters and reconciliation.
type AdminService struct {
	breakers  *breaker.Registry
	dlq       *messaging.DeadLetterForwarder
	producer  *messaging.Producer
	consumer  *messaging.Consumer
	scheduler *biz.Scheduler
	fixer     *biz.Reconciler
	logger    *log.Helper
}

// NewAdminService creates a new AdminService instance.
func NewAdminService(
	breakers *breaker.Registry,
	dlq *messaging.DeadLetterForwarder,
	producer *messaging.Producer,
	consumer *messaging.Consumer,
	scheduler *biz.Scheduler,
	fixer *biz.Reconciler,
	logger log.Logger,
) *AdminService {
	return &AdminService{
		breakers:  breakers,
		dlq:       dlq,
		producer:  producer,
		consumer:  consumer,
		scheduler: scheduler,
		fixer:     fixer,
		logger:    log.NewHelper(logger),
	}
}

// BreakerListReply lists every breaker.
type BreakerListReply struct {
	Breakers []breaker.Status `json:"breakers"`
}

// ListBreakers returns the status of every registered breaker.
func (s *AdminService) ListBreakers(ctx context.Context) (*BreakerListReply, error) {
	return &BreakerListReply{Breakers: s.breakers.GetAllStatus()}, nil
}

// GetBreaker returns one breaker's status.
func (s *AdminService) GetBreaker(ctx context.Context, name string) (*breaker.Status, error) {
	return s.breakers.GetStatus(name)
}

// OpenBreaker forces a breaker open until it is closed by hand.
func (s *AdminService) OpenBreaker(ctx context.Context, name string) (*breaker.Status, error) {
	if err := s.breakers.Open(name); err != nil {
		return nil, err
	}
	s.logger.Warnw("msg", "circuit breaker opened by operator", "breaker", name)
	return s.breakers.GetStatus(name)
}

// CloseBreaker closes a breaker and resets its statistics.
func (s *AdminService) CloseBreaker(ctx context.Context, name string) (*breaker.Status, error) {
	if err := s.breakers.Close(name); err != nil {
		return nil, err
	}
	s.logger.Infow("msg", "circuit breaker closed by operator", "breaker", name)
	return s.breakers.GetStatus(name)
}

// DeadLetterReply reports dead-letter activity.
type DeadLetterReply struct {
	Counters map[string]int64              `json:"counters"`
	Failures map[string]int64              `json:"failures"`
	Summary  []messaging.TopicCount        `json:"summary"`
	Recent   []messaging.DeadLetterMessage `json:"recent,omitempty"`
}

// DeadLetters returns per-topic counters and, when topic is set, its recent entries.
func (s *AdminService) DeadLetters(ctx context.Context, topic string, limit int) (*DeadLetterReply, error) {
	reply := &DeadLetterReply{
		Counters: s.dlq.Counters(),
		Failures: s.dlq.Failures(),
		Summary:  s.dlq.Summary(),
	}
	if topic != "" {
		reply.Recent = s.dlq.Recent(topic, limit)
	}
	return reply, nil
}

// MessagingReply reports transport state.
type MessagingReply struct {
	ProducerConnected bool     `json:"producerConnected"`
	ConsumerRunning   bool     `json:"consumerRunning"`
	ConsumerGroup     string   `json:"consumerGroup"`
	Subscribed        []string `json:"subscribed"`
	Pending           []string `json:"pending"`
}

// Messaging returns producer and consumer state.
func (s *AdminService) Messaging(ctx context.Context) (*MessagingReply, error) {
	subscribed, pending := s.consumer.Topics()
	return &MessagingReply{
		ProducerConnected: s.producer.Connected(),
		ConsumerRunning:   s.consumer.Running(),
		ConsumerGroup:     s.consumer.GroupID(),
		Subscribed:        subscribed,
		Pending:           pending,
	}, nil
}

// InconsistencyListReply lists ledger records.
type InconsistencyListReply struct {
	Records []biz.InconsistencyRecord `json:"records"`
	Count   int                       `json:"count"`
}

// ListInconsistencies queries the ledger.
func (s *AdminService) ListInconsistencies(ctx context.Context, f biz.LedgerFilter) (*InconsistencyListReply, error) {
	recs := s.scheduler.Ledger().Query(f)
	return &InconsistencyListReply{Records: recs, Count: len(recs)}, nil
}

// FixInconsistency retries the fix of one pending record.
func (s *AdminService) FixInconsistency(ctx context.Context, entity, id string) (*biz.InconsistencyRecord, error) {
	rec, err := s.fixer.FixRecord(ctx, entity, id)
	if err != nil {
		s.logger.Warnw("msg", "manual inconsistency fix failed", "entity", entity, "id", id, "error", err)
		return nil, err
	}
	return rec, nil
}

// ConsistencyStatsReply aggregates the ledger.
type ConsistencyStatsReply struct {
	biz.LedgerStats
	LastRun        *time.Time `json:"lastRun"`
	AlertThreshold int        `json:"alertThreshold"`
}

// ConsistencyStats returns ledger totals, the last run time and the alert threshold.
func (s *AdminService) ConsistencyStats(ctx context.Context) (*ConsistencyStatsReply, error) {
	reply := &ConsistencyStatsReply{
		LedgerStats:    s.scheduler.Ledger().Stats(),
		AlertThreshold: s.scheduler.AlertThreshold(),
	}
	if t := s.scheduler.LastRun(); !t.IsZero() {
		reply.LastRun = &t
	}
	return reply, nil
}

// RunConsistency runs every enabled check now.
func (s *AdminService) RunConsistency(ctx context.Context) (*model.ConsistencyRunReport, error) {
	s.logger.Infow("msg", "manual consistency run requested")
	return s.scheduler.RunAll(ctx)
}

// RunEntityConsistency runs one check now.
func (s *AdminService) RunEntityConsistency(ctx context.Context, entity string) (*biz.CheckReport, error) {
	s.logger.Infow("msg", "manual consistency check requested", "entity", entity)
	return s.scheduler.RunOne(ctx, entity)
}

// RunListReply lists archived full runs, newest first.
type RunListReply struct {
	Runs []*model.ConsistencyRunReport `json:"runs"`
}

// ListRuns returns up to limit archived run reports.
func (s *AdminService) ListRuns(ctx context.Context, limit int) (*RunListReply, error) {
	runs, err := s.scheduler.RecentRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []*model.ConsistencyRunReport{}
	}
	return &RunListReply{Runs: runs}, nil
}

// CheckListReply lists registered checks.
type CheckListReply struct {
	Checks []biz.ScheduledCheck `json:"checks"`
}

// ListChecks returns the registered checks.
func (s *AdminService) ListChecks(ctx context.Context) (*CheckListReply, error) {
	return &CheckListReply{Checks: s.scheduler.Checks()}, nil
}

// SetCheckEnabled toggles one check.
func (s *AdminService) SetCheckEnabled(ctx context.Context, entity string, enabled bool) (*CheckListReply, error) {
	if err := s.scheduler.SetEnabled(entity, enabled); err != nil {
		return nil, err
	}
	return s.ListChecks(ctx)
}

// AlertThresholdReply carries the alert threshold.
type AlertThresholdReply struct {
	Threshold int `json:"threshold"`
}

// SetAlertThreshold changes the pending-count alert threshold.
func (s *AdminService) SetAlertThreshold(ctx context.Context, threshold int) (*AlertThresholdReply, error) {
	if err := s.scheduler.SetAlertThreshold(threshold); err != nil {
		return nil, err
	}
	return &AlertThresholdReply{Threshold: s.scheduler.AlertThreshold()}, nil
}
