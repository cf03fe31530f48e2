package biz

import (
	"context"
	"testing"
	"time"

	"Bulwark/internal/model"
	"Bulwark/pkg/messaging"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockReportPublisher is a mock implementation of ReportPublisher.
type MockReportPublisher struct {
	mock.Mock
}

func (m *MockReportPublisher) SendEvent(ctx context.Context, topic string, event interface{}) messaging.SendResult {
	args := m.Called(ctx, topic, event)
	return args.Get(0).(messaging.SendResult)
}

// MockRunHistory is a mock implementation of RunHistory.
type MockRunHistory struct {
	mock.Mock
}

func (m *MockRunHistory) Archive(ctx context.Context, run *model.ConsistencyRunReport) {
	m.Called(ctx, run)
}

func (m *MockRunHistory) Recent(ctx context.Context, limit int) ([]*model.ConsistencyRunReport, error) {
	args := m.Called(ctx, limit)
	runs, _ := args.Get(0).([]*model.ConsistencyRunReport)
	return runs, args.Error(1)
}

// tables routes ScanRows by table name.
type tables map[string]*fakeEntities

func (t tables) ScanRows(ctx context.Context, table, idField string, batchSize int, visit func([]EntityRow) error) error {
	f, ok := t[table]
	if !ok {
		return nil
	}
	return f.ScanRows(ctx, table, idField, batchSize, visit)
}

func newTestScheduler(t *testing.T, opts ...SchedulerOption) (*Scheduler, *fakeCache) {
	t.Helper()
	db := tables{
		"users":  {rows: []EntityRow{{"id": int64(1), "name": "alice"}, {"id": int64(2), "name": "bob"}}},
		"orders": {err: errStore},
		"carts":  {rows: []EntityRow{{"id": int64(10)}}},
	}
	cache := newFakeCache(map[string]string{"user:1": `{"id":1,"name":"alice"}`})
	r := newTestReconciler(db, cache)

	opts = append([]SchedulerOption{WithSchedulerClock(func() time.Time { return fixedNow })}, opts...)
	s := NewScheduler(r, log.DefaultLogger, opts...)
	require.NoError(t, s.Register(ConsistencyCheckConfig{EntityName: "users", CacheKeyPrefix: "user:"}, "", true))
	require.NoError(t, s.Register(ConsistencyCheckConfig{EntityName: "orders", CacheKeyPrefix: "order:"}, "", true))
	require.NoError(t, s.Register(ConsistencyCheckConfig{EntityName: "carts", CacheKeyPrefix: "cart:"}, "", false))
	return s, cache
}

func TestScheduler_Register(t *testing.T) {
	s, _ := newTestScheduler(t)

	assert.Error(t, s.Register(ConsistencyCheckConfig{EntityName: "x", CacheKeyPrefix: "x:"}, "every day", true))
	assert.Error(t, s.Register(ConsistencyCheckConfig{EntityName: "x"}, "", true))

	require.NoError(t, s.Register(ConsistencyCheckConfig{EntityName: "users", CacheKeyPrefix: "u:"}, "*/5 * * * *", true))
	checks := s.Checks()
	require.Len(t, checks, 3)
	assert.Equal(t, "users", checks[0].Config.EntityName, "re-register keeps position")
	assert.Equal(t, "u:", checks[0].Config.CacheKeyPrefix)
	assert.Equal(t, "*/5 * * * *", checks[0].CronExpression)

	assert.True(t, s.Unregister("orders"))
	assert.False(t, s.Unregister("orders"))
	assert.Len(t, s.Checks(), 2)
}

func TestScheduler_RunAll(t *testing.T) {
	s, _ := newTestScheduler(t, WithAlertThreshold(5))
	s.Ledger().Append(InconsistencyRecord{EntityType: "stale", EntityID: "1", Type: CacheOnly})

	report, err := s.RunAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TriggerManual, report.Trigger)
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Entities, 2, "disabled entries are skipped")
	assert.Equal(t, "users", report.Entities[0].EntityName)
	assert.Equal(t, 1, report.Entities[0].Found)
	assert.Equal(t, "orders", report.Entities[1].EntityName)
	assert.Contains(t, report.Entities[1].Error, errStore.Error(), "a failing entity does not abort the run")

	assert.Equal(t, []string{"users"}, s.Ledger().Entities(), "previous ledger is cleared")
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, map[string]int{string(DBOnly): 1}, report.ByType)
	assert.False(t, report.Alerted)
	assert.Equal(t, fixedNow, s.LastRun())
}

func TestScheduler_AlertThreshold(t *testing.T) {
	s, _ := newTestScheduler(t)
	assert.Equal(t, DefaultAlertThreshold, s.AlertThreshold())

	assert.ErrorIs(t, s.SetAlertThreshold(-1), ErrInvalidThreshold)
	require.NoError(t, s.SetAlertThreshold(0))

	report, err := s.RunAll(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Alerted, "pending above threshold raises an alert")
	assert.Equal(t, 0, report.Threshold)
}

func TestScheduler_RunOne(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.Ledger().Append(InconsistencyRecord{EntityType: "orders", EntityID: "9", Type: CacheOnly})
	s.Ledger().Append(InconsistencyRecord{EntityType: "users", EntityID: "old", Type: CacheOnly})

	report, err := s.RunOne(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Found)

	users := s.Ledger().Query(LedgerFilter{EntityType: "users"})
	require.Len(t, users, 1)
	assert.Equal(t, "2", users[0].EntityID)
	assert.Len(t, s.Ledger().Query(LedgerFilter{EntityType: "orders"}), 1, "other entities are kept")
	assert.True(t, s.LastRun().IsZero(), "a single entity run is not a full run")

	_, err = s.RunOne(context.Background(), "carts")
	assert.NoError(t, err, "disabled entries can be run by hand")

	_, err = s.RunOne(context.Background(), "orders")
	assert.ErrorIs(t, err, errStore)

	_, err = s.RunOne(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrCheckNotFound)
}

func TestScheduler_SetEnabled(t *testing.T) {
	s, _ := newTestScheduler(t)

	require.NoError(t, s.SetEnabled("carts", true))
	require.NoError(t, s.SetEnabled("orders", false))
	assert.ErrorIs(t, s.SetEnabled("nope", true), ErrCheckNotFound)

	report, err := s.RunAll(context.Background())
	require.NoError(t, err)
	names := make([]string, 0)
	for _, e := range report.Entities {
		names = append(names, e.EntityName)
	}
	assert.Equal(t, []string{"users", "carts"}, names)
}

func TestScheduler_PublishesRunReport(t *testing.T) {
	pub := new(MockReportPublisher)
	pub.On("SendEvent", mock.Anything, "consistency.reports", mock.MatchedBy(func(r *model.ConsistencyRunReport) bool {
		return r.Total == 1 && len(r.Entities) == 2
	})).Return(messaging.SendResult{Sent: true}).Once()

	s, _ := newTestScheduler(t, WithReportPublisher(pub, "consistency.reports"))
	_, err := s.RunAll(context.Background())
	require.NoError(t, err)
	pub.AssertExpectations(t)

	_, err = s.RunOne(context.Background(), "users")
	require.NoError(t, err)
	pub.AssertNumberOfCalls(t, "SendEvent", 1)
}

func TestScheduler_ArchivesFullRuns(t *testing.T) {
	history := new(MockRunHistory)
	history.On("Archive", mock.Anything, mock.MatchedBy(func(r *model.ConsistencyRunReport) bool {
		return r.Trigger == TriggerManual && r.Pending == 1
	})).Once()
	archived := []*model.ConsistencyRunReport{{RunID: "r1"}}
	history.On("Recent", mock.Anything, 5).Return(archived, nil)

	s, _ := newTestScheduler(t, WithRunHistory(history))
	_, err := s.RunAll(context.Background())
	require.NoError(t, err)
	_, err = s.RunOne(context.Background(), "users")
	require.NoError(t, err)
	history.AssertNumberOfCalls(t, "Archive", 1)

	runs, err := s.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, archived, runs)

	bare, _ := newTestScheduler(t)
	runs, err = bare.RecentRuns(context.Background(), 5)
	assert.NoError(t, err)
	assert.Nil(t, runs)
}

func TestScheduler_ScheduledRunClearsWholeLedger(t *testing.T) {
	s, _ := newTestScheduler(t)
	_, err := s.RunAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, s.Ledger().Stats().Pending)

	require.NoError(t, s.SetEnabled("users", false))
	s.Ledger().Append(InconsistencyRecord{EntityType: "gone", EntityID: "1", Type: CacheOnly})

	s.scheduledRun()
	stats := s.Ledger().Stats()
	assert.Equal(t, 0, stats.Total, "records of disabled or unregistered entities are dropped")
	assert.Equal(t, 0, stats.Pending)
	assert.Empty(t, s.Ledger().Entities())
	assert.Equal(t, fixedNow, s.LastRun())
}

func TestScheduler_PublishFailureIsNotAnError(t *testing.T) {
	pub := new(MockReportPublisher)
	pub.On("SendEvent", mock.Anything, "reports", mock.Anything).
		Return(messaging.SendResult{Err: messaging.ErrNotConnected})

	s, _ := newTestScheduler(t, WithReportPublisher(pub, "reports"))
	_, err := s.RunAll(context.Background())
	assert.NoError(t, err)
}

func TestScheduler_StartStop(t *testing.T) {
	s, _ := newTestScheduler(t, WithSchedule(""))
	require.NoError(t, s.Register(ConsistencyCheckConfig{EntityName: "carts", CacheKeyPrefix: "cart:"}, "0 * * * *", true))

	require.NoError(t, s.Start())
	require.NoError(t, s.Start(), "start is idempotent")
	s.cronMu.Lock()
	assert.Len(t, s.cronIDs, 1)
	assert.Len(t, s.cron.Entries(), 1, "empty global schedule installs no global job")
	s.cronMu.Unlock()

	require.NoError(t, s.Register(ConsistencyCheckConfig{EntityName: "users", CacheKeyPrefix: "user:"}, "30 * * * *", true))
	s.Unregister("carts")
	s.cronMu.Lock()
	assert.Len(t, s.cronIDs, 1)
	_, ok := s.cronIDs["users"]
	assert.True(t, ok)
	s.cronMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}

func TestScheduler_StartWithDefaultSchedule(t *testing.T) {
	s, _ := newTestScheduler(t)
	require.NoError(t, s.Start())
	s.cronMu.Lock()
	assert.Len(t, s.cron.Entries(), 1)
	s.cronMu.Unlock()
	require.NoError(t, s.Stop(context.Background()))

	bad, _ := newTestScheduler(t, WithSchedule("not a cron"))
	assert.Error(t, bad.Start())
}
