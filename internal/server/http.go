package server

import (
	"Bulwark/internal/biz"
	"Bulwark/internal/conf"
	"Bulwark/internal/server/middleware"
	"Bulwark/internal/service"
	"Bulwark/pkg/breaker"
	pkglog "Bulwark/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricsRegistry creates the process registry with the Go runtime collectors.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewHTTPServer new an HTTP server serving the admin routes and /metrics.
func NewHTTPServer(
	c *conf.Server,
	admin *service.AdminService,
	breakers *breaker.Registry,
	scheduler *biz.Scheduler,
	reg *prometheus.Registry,
	logger log.Logger,
) (*http.Server, error) {
	// 创建增强的日志辅助器
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper), // 请求日志中间件：记录请求方法、路径、耗时
		),
	}
	if hc := c.GetHttp(); hc != nil {
		if hc.Network != "" {
			opts = append(opts, http.Network(hc.Network))
		}
		if hc.Addr != "" {
			opts = append(opts, http.Address(hc.Addr))
		}
		if hc.Timeout != nil && hc.Timeout.AsDuration() > 0 {
			opts = append(opts, http.Timeout(hc.Timeout.AsDuration()))
		}
	}
	srv := http.NewServer(opts...)

	if err := reg.Register(breaker.NewCollector(breakers)); err != nil {
		return nil, err
	}
	if err := reg.Register(biz.NewConsistencyCollector(scheduler)); err != nil {
		return nil, err
	}
	srv.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	// Register HTTP services
	service.RegisterAdminHTTPServer(srv, admin)

	return srv, nil
}
