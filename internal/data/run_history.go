package data

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Bulwark/internal/model"
	"Bulwark/pkg/breaker"
	pkgerrors "Bulwark/pkg/errors"
	pkglog "Bulwark/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	json "github.com/goccy/go-json"
)

// ConsistencyRun is the GORM model for consistency_runs table
type ConsistencyRun struct {
	ID          int64     `gorm:"primaryKey;column:id"`
	RunID       string    `gorm:"column:run_id;type:varchar(36);not null;uniqueIndex"`
	TriggerType string    `gorm:"column:trigger_type;type:varchar(16);not null"`
	StartedAt   time.Time `gorm:"column:started_at;not null"`
	FinishedAt  time.Time `gorm:"column:finished_at;not null;index"`
	Total       int       `gorm:"column:total;not null"`
	Fixed       int       `gorm:"column:fixed;not null"`
	Pending     int       `gorm:"column:pending;not null"`
	Alerted     bool      `gorm:"column:alerted;not null"`
	Report      string    `gorm:"column:report;type:json"` // full report JSON
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (ConsistencyRun) TableName() string {
	return "consistency_runs"
}

const runHistoryBuffer = 64

// RunHistoryStore implements biz.RunHistory on MySQL.
// Writes are queued to a background goroutine so a slow database never delays a run.
type RunHistoryStore struct {
	data    *Data
	runChan chan *ConsistencyRun
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	log     *pkglog.LogHelper
}

// NewRunHistoryStore creates the store and starts its writer.
func NewRunHistoryStore(d *Data, logger log.Logger) (*RunHistoryStore, func()) {
	s := &RunHistoryStore{
		data:    d,
		runChan: make(chan *ConsistencyRun, runHistoryBuffer),
		done:    make(chan struct{}),
		log:     pkglog.NewLogHelper(logger),
	}

	go s.start()

	return s, s.Close
}

// start drains the queue until Close.
func (s *RunHistoryStore) start() {
	defer close(s.done)
	for row := range s.runChan {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.insert(ctx, row)
		cancel()
		if err != nil {
			s.log.Errorw("msg", "failed to archive consistency run",
				"type", "database",
				"run_id", row.RunID,
				"error", err)
			continue
		}
		s.log.Database("consistency run archived", "run_id", row.RunID)
	}
}

func (s *RunHistoryStore) insert(ctx context.Context, row *ConsistencyRun) error {
	if s.data.db == nil {
		return ErrDatabaseUnavailable
	}
	_, err := breaker.Execute(ctx, s.data.breakers, BreakerMySQL, &s.data.dbBreaker, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.data.db.WithContext(ctx).Create(row).Error
	})
	if err != nil && !breaker.IsCircuitOpen(err) && !breaker.IsTimeout(err) {
		return pkgerrors.ClassifyDBError(err)
	}
	return err
}

// Archive queues run. A full queue drops the report with a warning.
func (s *RunHistoryStore) Archive(ctx context.Context, run *model.ConsistencyRunReport) {
	report, err := json.Marshal(run)
	if err != nil {
		s.log.Errorw("msg", "failed to marshal consistency run", "run_id", run.RunID, "error", err)
		return
	}

	row := &ConsistencyRun{
		RunID:       run.RunID,
		TriggerType: run.Trigger,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Total:       run.Total,
		Fixed:       run.Fixed,
		Pending:     run.Pending,
		Alerted:     run.Alerted,
		Report:      string(report),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.log.Warnw("msg", "run history closed, dropping report", "type", "database", "run_id", run.RunID)
		return
	}
	// Send to channel (non-blocking)
	select {
	case s.runChan <- row:
	default:
		s.log.Warnw("msg", "run history queue full, dropping report",
			"type", "database",
			"run_id", run.RunID)
	}
}

// Recent returns up to limit archived runs, newest first. limit <= 0 means 20.
func (s *RunHistoryStore) Recent(ctx context.Context, limit int) ([]*model.ConsistencyRunReport, error) {
	if s.data.db == nil {
		return nil, ErrDatabaseUnavailable
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := breaker.Execute(ctx, s.data.breakers, BreakerMySQL, &s.data.dbBreaker, func(ctx context.Context) ([]ConsistencyRun, error) {
		var rows []ConsistencyRun
		err := s.data.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error
		return rows, err
	})
	if err != nil {
		if breaker.IsCircuitOpen(err) || breaker.IsTimeout(err) {
			return nil, err
		}
		return nil, fmt.Errorf("list consistency runs: %w", pkgerrors.ClassifyDBError(err))
	}

	out := make([]*model.ConsistencyRunReport, 0, len(rows))
	for _, row := range rows {
		var run model.ConsistencyRunReport
		if err := json.Unmarshal([]byte(row.Report), &run); err != nil {
			s.log.Warnw("msg", "skipping unreadable archived run", "type", "database", "run_id", row.RunID, "error", err)
			continue
		}
		out = append(out, &run)
	}
	return out, nil
}

// Close stops accepting reports and waits until the queue is written.
func (s *RunHistoryStore) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.runChan)
	}
	s.mu.Unlock()
	<-s.done
}
