package service

import (
	"context"
	"testing"
	"time"

	"Bulwark/internal/biz"
	"Bulwark/pkg/messaging"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsistencyRequest_Handle(t *testing.T) {
	f := newFixture(t)
	svc := NewConsistencyRequestService(f.scheduler, log.DefaultLogger)

	err := svc.Handle(context.Background(), &messaging.Message{
		Topic: "consistency.requests",
		Value: []byte(`{"entityName":" users "}`),
	})
	require.NoError(t, err)

	assert.Len(t, f.scheduler.Ledger().Query(biz.LedgerFilter{EntityType: "users"}), 2)
	assert.True(t, f.scheduler.LastRun().IsZero())
}

func TestConsistencyRequest_Rejects(t *testing.T) {
	f := newFixture(t)
	svc := NewConsistencyRequestService(f.scheduler, log.DefaultLogger)

	tests := []struct {
		name  string
		value string
		check func(t *testing.T, err error)
	}{
		{"not json", `run users`, func(t *testing.T, err error) { assert.True(t, kerrors.IsBadRequest(err)) }},
		{"missing name", `{"entity":"users"}`, func(t *testing.T, err error) { assert.True(t, kerrors.IsBadRequest(err)) }},
		{"unknown entity", `{"entityName":"invoices"}`, func(t *testing.T, err error) { assert.ErrorIs(t, err, biz.ErrCheckNotFound) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Handle(context.Background(), &messaging.Message{Value: []byte(tt.value)})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestConsistencyRequest_PoisonMessageIsDeadLettered(t *testing.T) {
	f := newFixture(t)
	svc := NewConsistencyRequestService(f.scheduler, log.DefaultLogger)

	var sleeps []time.Duration
	retrier := messaging.NewRetrier(f.dlq, log.DefaultLogger, messaging.WithSleep(func(d time.Duration) {
		sleeps = append(sleeps, d)
	}))
	cfg := messaging.RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    10 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        time.Second,
	}
	handler := retrier.CreateRetryHandler(svc.Handle, cfg, "bulwark")

	err := handler(context.Background(), &messaging.Message{Topic: "consistency.requests", Value: []byte(`{`)})
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, sleeps)
	assert.Equal(t, int64(1), f.dlq.Counters()["consistency.requests.dlq"])
	assert.Equal(t, []string{"consistency.requests.dlq"}, f.writer.topics())
}
