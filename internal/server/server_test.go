package server

import (
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Bulwark/internal/biz"
	"Bulwark/internal/conf"
	"Bulwark/internal/service"
	"Bulwark/pkg/breaker"
	"Bulwark/pkg/messaging"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/durationpb"
)

func newTestScheduler() *biz.Scheduler {
	r := biz.NewReconciler(nil, nil, biz.NewLedger(), log.DefaultLogger)
	return biz.NewScheduler(r, log.DefaultLogger, biz.WithSchedule(""))
}

func healthStatus(t *testing.T, hs healthpb.HealthServer, svc string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: svc})
	require.NoError(t, err)
	return resp.Status
}

func TestHealthServer_FollowsBreakerState(t *testing.T) {
	breakers := breaker.NewRegistry(log.DefaultLogger)
	defer breakers.Shutdown()
	_, err := breakers.CreateBreaker("mysql", nil, nil)
	require.NoError(t, err)

	hs := NewHealthServer(breakers, log.DefaultLogger)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, healthStatus(t, hs, "breaker/mysql"))

	require.NoError(t, breakers.Open("mysql"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, healthStatus(t, hs, "breaker/mysql"))

	require.NoError(t, breakers.Close("mysql"))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, healthStatus(t, hs, "breaker/mysql"))

	_, err = hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "breaker/redis"})
	assert.Error(t, err, "unknown breakers are not reported")
}

func TestNewGRPCServer(t *testing.T) {
	breakers := breaker.NewRegistry(log.DefaultLogger)
	defer breakers.Shutdown()

	c := &conf.Server{Grpc: &conf.Server_GRPC{Addr: "127.0.0.1:0", Timeout: durationpb.New(time.Second)}}
	srv := NewGRPCServer(c, NewHealthServer(breakers, log.DefaultLogger), log.DefaultLogger)
	require.NotNil(t, srv)

	info := srv.GetServiceInfo()
	assert.Contains(t, info, healthpb.Health_ServiceDesc.ServiceName)
}

func TestNewHTTPServer_Metrics(t *testing.T) {
	breakers := breaker.NewRegistry(log.DefaultLogger)
	defer breakers.Shutdown()
	_, err := breakers.CreateBreaker("redis", nil, nil)
	require.NoError(t, err)

	scheduler := newTestScheduler()
	admin := service.NewAdminService(breakers, nil, nil, nil, scheduler, nil, log.DefaultLogger)
	reg := NewMetricsRegistry()

	srv, err := NewHTTPServer(&conf.Server{}, admin, breakers, scheduler, reg, log.DefaultLogger)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/metrics", nil))
	require.Equal(t, nethttp.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `bulwark_circuit_breaker_state{breaker="redis"} 0`)
	assert.Contains(t, string(body), "bulwark_consistency_alert_threshold 10")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/admin/breakers", nil))
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	_, err = NewHTTPServer(&conf.Server{}, admin, breakers, scheduler, reg, log.DefaultLogger)
	assert.Error(t, err, "collectors register once per registry")
}

func TestJobServer_StartStopWithoutKafka(t *testing.T) {
	consumer := messaging.NewConsumer(nil, "bulwark", log.DefaultLogger)
	retrier := messaging.NewRetrier(nil, log.DefaultLogger)
	scheduler := newTestScheduler()
	requests := service.NewConsistencyRequestService(scheduler, log.DefaultLogger)

	js := NewJobServer(&conf.Consistency{RequestTopic: "consistency.requests"}, consumer, retrier,
		messaging.DefaultRetryConfig(), requests, scheduler, log.DefaultLogger)

	_, pending := consumer.Topics()
	assert.Equal(t, []string{"consistency.requests"}, pending)

	require.NoError(t, js.Start(context.Background()), "a missing broker is not fatal")
	assert.False(t, consumer.Running())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, js.Stop(ctx))
}

func TestJobServer_NoRequestTopic(t *testing.T) {
	consumer := messaging.NewConsumer(nil, "bulwark", log.DefaultLogger)
	scheduler := newTestScheduler()

	NewJobServer(nil, consumer, messaging.NewRetrier(nil, log.DefaultLogger),
		messaging.DefaultRetryConfig(), service.NewConsistencyRequestService(scheduler, log.DefaultLogger),
		scheduler, log.DefaultLogger)

	subscribed, pending := consumer.Topics()
	assert.Empty(t, subscribed)
	assert.Empty(t, pending)
}
