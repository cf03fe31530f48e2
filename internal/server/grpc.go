package server

import (
	"Bulwark/internal/conf"
	"Bulwark/pkg/breaker"
	pkglog "Bulwark/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// BreakerHealthService is the grpc.health.v1 service name reporting one breaker.
func BreakerHealthService(name string) string {
	return "breaker/" + name
}

func servingStatus(s breaker.State) healthpb.HealthCheckResponse_ServingStatus {
	if s == breaker.StateOpen {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// NewHealthServer 每个断路器对应一个 breaker/<name> 服务，打开时为 NOT_SERVING，
// 半开与关闭时为 SERVING。后创建的断路器在第一次状态变化后出现。
func NewHealthServer(breakers *breaker.Registry, logger log.Logger) *health.Server {
	logHelper := pkglog.NewLogHelper(logger)
	hs := health.NewServer()

	for _, st := range breakers.GetAllStatus() {
		hs.SetServingStatus(BreakerHealthService(st.Name), servingStatus(st.State))
	}
	breakers.AddStateListener(func(name string, from, to breaker.State) {
		hs.SetServingStatus(BreakerHealthService(name), servingStatus(to))
		logHelper.Breaker("health status updated",
			"service", BreakerHealthService(name),
			"status", servingStatus(to).String())
	})
	return hs
}

// NewGRPCServer new a gRPC server exposing grpc.health.v1.
func NewGRPCServer(c *conf.Server, hs *health.Server, logger log.Logger) *grpc.Server {
	var opts = []grpc.ServerOption{
		grpc.Middleware(
			recovery.Recovery(),
		),
		// breaker statuses live on hs; kratos would otherwise register its own
		grpc.CustomHealth(),
	}
	if gc := c.GetGrpc(); gc != nil {
		if gc.Network != "" {
			opts = append(opts, grpc.Network(gc.Network))
		}
		if gc.Addr != "" {
			opts = append(opts, grpc.Address(gc.Addr))
		}
		if gc.Timeout != nil && gc.Timeout.AsDuration() > 0 {
			opts = append(opts, grpc.Timeout(gc.Timeout.AsDuration()))
		}
	}
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}
