// Package messaging implements the reliable delivery pipeline: a best-effort
// producer, a deferred-subscribe consumer, bounded retry and dead-lettering.
package messaging

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// Header names carried on the wire.
const (
	HeaderRetryCount = "x-retry-count"

	HeaderDLQOriginalTopic = "x-dlq-original-topic"
	HeaderDLQRetryCount    = "x-dlq-retry-count"
	HeaderDLQFailedAt      = "x-dlq-failed-at"
	HeaderDLQError         = "x-dlq-error"
)

// DeadLetterSuffix is appended to a topic name to derive its dead-letter topic.
const DeadLetterSuffix = ".dlq"

// ErrNotConnected is returned when the transport was never established.
var ErrNotConnected = errors.New("messaging: transport not connected")

// Message is a transport-neutral record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Header returns the named header value.
func (m *Message) Header(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	v, ok := m.Headers[key]
	return v, ok
}

// SetHeader sets a header, allocating the map when needed.
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// RetryCount reads x-retry-count; absent or malformed values count as zero.
func (m *Message) RetryCount() int {
	v, ok := m.Header(HeaderRetryCount)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Handler processes one message.
type Handler func(ctx context.Context, msg *Message) error

// DeliveryReport is the broker acknowledgement for one produced message.
type DeliveryReport struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
}

// Writer publishes messages to the broker.
type Writer interface {
	Write(ctx context.Context, msgs []*Message) ([]DeliveryReport, error)
	Close() error
}

// Reader polls messages from the broker. Read returns (nil, nil) when
// nothing arrived within timeout. Commit marks msg consumed; the group resumes
// after the last committed message.
type Reader interface {
	Subscribe(topics []string) error
	Read(ctx context.Context, timeout time.Duration) (*Message, error)
	Commit(msg *Message) error
	Close() error
}
