package log

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// LogHelper 扩展 Kratos log.Helper，每个方法带上 "type" 字段
type LogHelper struct {
	*log.Helper
}

// NewLogHelper wraps logger.
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{Helper: log.NewHelper(logger)}
}

func typed(logType, msg string, kvs []interface{}) []interface{} {
	all := make([]interface{}, 0, len(kvs)+4)
	all = append(all, "msg", msg)
	all = append(all, kvs...)
	return append(all, "type", logType)
}

// Breaker 断路器状态变化与调用结果（🔌）
func (h *LogHelper) Breaker(msg string, kvs ...interface{}) {
	h.Infow(typed("breaker", msg, kvs)...)
}

// BreakerWarn 断路器拒绝、超时、失败（🔌）
func (h *LogHelper) BreakerWarn(msg string, kvs ...interface{}) {
	h.Warnw(typed("breaker", msg, kvs)...)
}

// Messaging 生产者/消费者生命周期（📨）
func (h *LogHelper) Messaging(msg string, kvs ...interface{}) {
	h.Infow(typed("messaging", msg, kvs)...)
}

// MessagingWarn 发送失败、处理失败等可降级问题（📨）
func (h *LogHelper) MessagingWarn(msg string, kvs ...interface{}) {
	h.Warnw(typed("messaging", msg, kvs)...)
}

// Retry 重试过程（🔁）
func (h *LogHelper) Retry(msg string, kvs ...interface{}) {
	h.Warnw(typed("retry", msg, kvs)...)
}

// DeadLetter 消息进入死信队列（🪦）
func (h *LogHelper) DeadLetter(msg string, kvs ...interface{}) {
	h.Warnw(typed("dead_letter", msg, kvs)...)
}

// Consistency 对账过程（🧮）
func (h *LogHelper) Consistency(msg string, kvs ...interface{}) {
	h.Infow(typed("consistency", msg, kvs)...)
}

// Scheduler 定时任务（🎯）
func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	h.Infow(typed("scheduler", msg, kvs)...)
}

// Alert 需要外部通知渠道接手的高优先级告警（🚨）
func (h *LogHelper) Alert(msg string, kvs ...interface{}) {
	all := typed("alert", msg, kvs)
	h.Errorw(append(all, "alert", true)...)
}

// MessageLoss 最后一道防线失败，消息可能丢失（💥）
func (h *LogHelper) MessageLoss(msg string, kvs ...interface{}) {
	all := typed("message_loss", msg, kvs)
	h.Errorw(append(all, "alert", true)...)
}

// Database 数据库操作（💾）
func (h *LogHelper) Database(msg string, kvs ...interface{}) {
	h.Debugw(typed("database", msg, kvs)...)
}

// Redis 缓存操作（📦）
func (h *LogHelper) Redis(msg string, kvs ...interface{}) {
	h.Debugw(typed("redis", msg, kvs)...)
}

// Startup 启动信息（🚀）
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.Infow(typed("startup", msg, kvs)...)
}

// Request 管理接口请求日志，按状态码选表情
func (h *LogHelper) Request(method, path string, status int, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, path, status, durationMs)
	all := typed("request", msg, kvs)
	all = append(all, "method", method, "path", path, "status", status, "duration_ms", durationMs)
	if status >= 500 {
		h.Errorw(all...)
		return
	}
	h.Infow(all...)
}
