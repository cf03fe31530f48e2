package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type contextKey string

const (
	messageContextKey contextKey = "bulwark_message_context"
	requestIDKey      contextKey = "bulwark_request_id"
)

// MessageContext 当前正在处理的消息的位置信息，由消费者注入 handler 的 Context
type MessageContext struct {
	Topic     string
	Partition int32
	Offset    int64
	Group     string
}

// WithMessageContext stores mc in ctx.
func WithMessageContext(ctx context.Context, mc MessageContext) context.Context {
	return context.WithValue(ctx, messageContextKey, mc)
}

// MessageContextFrom returns the message position stored in ctx.
func MessageContextFrom(ctx context.Context) (MessageContext, bool) {
	mc, ok := ctx.Value(messageContextKey).(MessageContext)
	return mc, ok
}

// Keyvals renders mc as log key/value pairs.
func (mc MessageContext) Keyvals() []interface{} {
	return []interface{}{
		"topic", mc.Topic,
		"partition", mc.Partition,
		"offset", mc.Offset,
		"group", mc.Group,
	}
}

var (
	randSource  = rand.NewSource(time.Now().UnixNano())
	randMu      sync.Mutex
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateRequestID returns a 10 character base36 id, e.g. mgrn0zfqda.
func GenerateRequestID() string {
	randMu.Lock()
	defer randMu.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithRequestID stores an admin request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the request id stored in ctx, or "unknown".
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return id
	}
	return "unknown"
}
