// Package middleware provides HTTP middleware for request logging.
package middleware

import (
	"context"
	"strings"
	"time"

	pkglog "Bulwark/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// SlowRequestThreshold 超过该耗时的管理请求额外记录一条告警
const SlowRequestThreshold = 10 * time.Second

// Logging 返回一个记录管理接口请求日志的中间件
// 自动生成 Request ID 并注入 Context，同时检测慢请求
//
// 日志输出示例:
//
//	🟢 POST /admin/consistency/run - 200 (542ms)
//	🐌 Slow request detected | POST /admin/consistency/run | 13438ms
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			start := time.Now()
			info := describe(ctx)
			ctx = pkglog.WithRequestID(ctx, info.requestID)
			if tr, ok := transport.FromServerContext(ctx); ok {
				tr.ReplyHeader().Set("X-Request-ID", info.requestID)
			}

			reply, err := handler(ctx, req)

			elapsed := time.Since(start)
			logger.Request(info.method, info.path, extractHTTPStatus(err), elapsed.Milliseconds(),
				"request_id", info.requestID,
				"ip", info.ip,
				"user_agent", info.userAgent,
			)
			if elapsed > SlowRequestThreshold {
				logger.Warnw("msg", "Slow request detected",
					"type", "slow_request",
					"request_id", info.requestID,
					"method", info.method,
					"path", info.path,
					"duration_ms", elapsed.Milliseconds())
			}
			return reply, err
		}
	}
}

type requestInfo struct {
	method    string
	path      string
	ip        string
	userAgent string
	requestID string
}

// describe 读取传输层信息；非 HTTP 调用只有 kind 与 operation
func describe(ctx context.Context) requestInfo {
	var info requestInfo
	if tr, ok := transport.FromServerContext(ctx); ok {
		info.method, info.path = tr.Kind().String(), tr.Operation()
		if ht, ok := tr.(http.Transporter); ok {
			r := ht.Request()
			info.method = r.Method
			info.path = r.URL.Path
			if r.URL.RawQuery != "" {
				info.path += "?" + r.URL.RawQuery
			}
			info.ip = extractClientIP(r)
			info.userAgent = r.Header.Get("User-Agent")
			info.requestID = r.Header.Get("X-Request-ID")
		}
	}
	if info.requestID == "" {
		info.requestID = pkglog.GenerateRequestID()
	}
	return info
}

// extractClientIP 从请求中提取客户端真实 IP
// 优先级: X-Real-IP > X-Forwarded-For > RemoteAddr
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}

	return req.RemoteAddr
}

// extractHTTPStatus 从 Kratos 错误中提取 HTTP 状态码，未知错误为 500
func extractHTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	return int(errors.FromError(err).Code)
}
