package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	pkglog "Bulwark/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Dialer opens the underlying transport.
type Dialer func(ctx context.Context) (Writer, error)

// SendResult reports the outcome of a publish. A failed send never panics and
// never returns an error value to branch on blindly: Sent=false means the
// messages may be lost.
type SendResult struct {
	Sent    bool
	Reports []DeliveryReport
	Err     error
}

// Event is implemented by payloads that carry their own id, used as the message key.
type Event interface {
	EventID() string
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithProducerMetrics records publish outcomes.
func WithProducerMetrics(m *Metrics) ProducerOption {
	return func(p *Producer) {
		p.metrics = m
	}
}

// Producer publishes with at-least-once, best-effort semantics. When the transport
// is down every publish is a logged no-op: availability wins over delivery.
type Producer struct {
	mu     sync.RWMutex
	writer Writer
	dial   Dialer

	metrics *Metrics
	log     *pkglog.LogHelper
}

// NewProducer creates a disconnected producer; call Connect to open the transport.
func NewProducer(dial Dialer, logger log.Logger, opts ...ProducerOption) *Producer {
	p := &Producer{
		dial: dial,
		log:  pkglog.NewLogHelper(logger),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewConnectedProducer wraps an already open writer.
func NewConnectedProducer(w Writer, logger log.Logger, opts ...ProducerOption) *Producer {
	p := NewProducer(nil, logger, opts...)
	p.writer = w
	return p
}

// Connect opens the transport. Failure leaves the producer disconnected and is
// returned for the caller to log; it is never fatal.
func (p *Producer) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writer != nil {
		return nil
	}
	if p.dial == nil {
		return ErrNotConnected
	}
	w, err := p.dial(ctx)
	if err != nil {
		p.log.MessagingWarn("producer connect failed, publishing disabled", "error", err)
		return err
	}
	p.writer = w
	p.log.Messaging("producer connected")
	return nil
}

// Connected reports whether a transport is open.
func (p *Producer) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.writer != nil
}

// Send publishes msgs to topic. Message.Topic is overwritten with topic.
func (p *Producer) Send(ctx context.Context, topic string, msgs ...*Message) SendResult {
	if len(msgs) == 0 {
		return SendResult{Sent: true}
	}

	p.mu.RLock()
	w := p.writer
	p.mu.RUnlock()

	if w == nil {
		p.log.MessagingWarn("producer not connected, message dropped", "topic", topic, "count", len(msgs))
		p.metrics.observePublish(topic, len(msgs), false)
		return SendResult{Err: ErrNotConnected}
	}

	now := time.Now()
	for _, m := range msgs {
		m.Topic = topic
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
	}

	reports, err := w.Write(ctx, msgs)
	if err != nil {
		p.log.MessagingWarn("publish failed", "topic", topic, "count", len(msgs), "error", err)
		p.metrics.observePublish(topic, len(msgs), false)
		return SendResult{Reports: reports, Err: err}
	}

	p.metrics.observePublish(topic, len(msgs), true)
	p.log.Debugw("msg", "published", "topic", topic, "count", len(msgs))
	return SendResult{Sent: true, Reports: reports}
}

// SendEvent publishes event as one JSON message keyed by its id, or a fresh UUID
// when the event has none.
func (p *Producer) SendEvent(ctx context.Context, topic string, event interface{}) SendResult {
	value, err := json.Marshal(event)
	if err != nil {
		p.log.MessagingWarn("event serialization failed", "topic", topic, "error", err)
		return SendResult{Err: fmt.Errorf("marshal event: %w", err)}
	}
	return p.Send(ctx, topic, &Message{
		Key:     []byte(eventKey(event)),
		Value:   value,
		Headers: map[string]string{"content-type": "application/json"},
	})
}

func eventKey(event interface{}) string {
	switch e := event.(type) {
	case Event:
		if id := e.EventID(); id != "" {
			return id
		}
	case map[string]interface{}:
		if id, ok := e["id"]; ok && id != nil {
			if s := fmt.Sprint(id); s != "" {
				return s
			}
		}
	}
	return uuid.NewString()
}

// Close flushes and closes the transport.
func (p *Producer) Close() error {
	p.mu.Lock()
	w := p.writer
	p.writer = nil
	p.mu.Unlock()

	if w == nil {
		return nil
	}
	p.log.Messaging("producer closing")
	return w.Close()
}
