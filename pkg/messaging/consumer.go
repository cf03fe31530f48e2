package messaging

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	pkglog "Bulwark/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/singleflight"
)

const defaultPollTimeout = 100 * time.Millisecond

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithPollTimeout sets how long one poll waits for a message.
func WithPollTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.pollTimeout = d
		}
	}
}

// WithConsumerMetrics records dispatch outcomes.
func WithConsumerMetrics(m *Metrics) ConsumerOption {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// Consumer dispatches messages from one poll loop to per-topic handlers.
//
// Subscribe only records the handler; the broker subscription happens once, in
// StartConsuming, for every topic recorded so far. Topics added after the loop
// started are held until the consumer is stopped and started again.
type Consumer struct {
	reader      Reader
	groupID     string
	pollTimeout time.Duration

	mu         sync.Mutex
	handlers   map[string]Handler
	pending    map[string]struct{}
	subscribed []string
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}

	start   singleflight.Group
	metrics *Metrics
	log     *pkglog.LogHelper
}

// NewConsumer creates a consumer in groupID. A nil reader yields a consumer
// that accepts registrations but never starts.
func NewConsumer(reader Reader, groupID string, logger log.Logger, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader:      reader,
		groupID:     groupID,
		pollTimeout: defaultPollTimeout,
		handlers:    make(map[string]Handler),
		pending:     make(map[string]struct{}),
		log:         pkglog.NewLogHelper(logger),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GroupID returns the consumer group.
func (c *Consumer) GroupID() string {
	return c.groupID
}

// Subscribe registers handler for topic and marks the topic pending.
func (c *Consumer) Subscribe(topic string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[topic] = handler
	if c.isSubscribed(topic) {
		return
	}
	c.pending[topic] = struct{}{}

	if c.running {
		c.log.MessagingWarn("subscribe after consumer start, topic receives nothing until restart",
			"topic", topic, "group", c.groupID)
	}
}

func (c *Consumer) isSubscribed(topic string) bool {
	for _, t := range c.subscribed {
		if t == topic {
			return true
		}
	}
	return false
}

// StartConsuming subscribes every pending topic and starts the poll loop.
// Concurrent callers share one start; calls after a successful start return nil.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.Running() {
		return nil
	}

	ch := c.start.DoChan("start", func() (interface{}, error) {
		return nil, c.doStart()
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Consumer) doStart() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	topics := make([]string, 0, len(c.pending))
	for t := range c.pending {
		topics = append(topics, t)
	}
	c.mu.Unlock()
	sort.Strings(topics)

	if c.reader == nil {
		c.log.MessagingWarn("consumer not connected, messages will not be consumed",
			"group", c.groupID, "topics", topics)
		return ErrNotConnected
	}
	if len(topics) == 0 {
		c.log.MessagingWarn("no topics registered, consumer not started", "group", c.groupID)
		return nil
	}

	if err := c.reader.Subscribe(topics); err != nil {
		return fmt.Errorf("subscribe %v: %w", topics, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.subscribed = topics
	for _, t := range topics {
		delete(c.pending, t)
	}
	c.running = true
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.run(loopCtx, done)

	c.log.Messaging("consumer started", "group", c.groupID, "topics", topics)
	return nil
}

func (c *Consumer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := c.reader.Read(ctx, c.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.MessagingWarn("poll failed", "group", c.groupID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.pollTimeout):
			}
			continue
		}
		if msg == nil {
			continue
		}
		c.dispatch(ctx, msg)
		// 处理（含重试与死信）结束后才提交，崩溃时重投
		if err := c.reader.Commit(msg); err != nil {
			c.log.MessagingWarn("offset commit failed",
				"group", c.groupID,
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err)
		}
	}
}

// dispatch runs the handler for msg; failures stay isolated to this message.
func (c *Consumer) dispatch(ctx context.Context, msg *Message) {
	c.mu.Lock()
	handler, ok := c.handlers[msg.Topic]
	c.mu.Unlock()
	if !ok {
		c.metrics.observeConsume(msg.Topic, "dropped")
		return
	}

	mc := pkglog.MessageContext{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset, Group: c.groupID}
	if err := invoke(pkglog.WithMessageContext(ctx, mc), handler, msg); err != nil {
		c.metrics.observeConsume(msg.Topic, "error")
		c.log.MessagingWarn("message handler failed", append(mc.Keyvals(), "error", err)...)
		return
	}
	c.metrics.observeConsume(msg.Topic, "ok")
}

// Running reports whether the poll loop is active.
func (c *Consumer) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Topics lists subscribed and pending topics.
func (c *Consumer) Topics() (subscribed, pending []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subscribed = append([]string(nil), c.subscribed...)
	for t := range c.pending {
		pending = append(pending, t)
	}
	sort.Strings(pending)
	return subscribed, pending
}

// Stop ends the poll loop after the in-flight message, including any retry
// sequence it is in, completes. Subscribed topics become pending again so the
// next StartConsuming picks up late registrations.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	for _, t := range c.subscribed {
		c.pending[t] = struct{}{}
	}
	c.subscribed = nil
	c.running = false
	c.mu.Unlock()

	c.log.Messaging("consumer stopped", "group", c.groupID)
	return nil
}

// Close stops the loop and releases the reader.
func (c *Consumer) Close(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil {
		return err
	}
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
