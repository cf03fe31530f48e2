package messaging

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	pkglog "Bulwark/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// RetryConfig bounds handler retries. backoff(n) = min(initial*multiplier^(n-1), max).
type RetryConfig struct {
	MaxRetries        int           `json:"maxRetries"`
	InitialBackoff    time.Duration `json:"initialBackoff"`
	BackoffMultiplier float64       `json:"backoffMultiplier"`
	MaxBackoff        time.Duration `json:"maxBackoff"`
}

// DefaultRetryConfig allows three retries waiting 1s, 2s, 4s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        30 * time.Second,
	}
}

// Validate checks the config ranges.
func (c RetryConfig) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return fmt.Errorf("max retries must be >= 0, got %d", c.MaxRetries)
	case c.InitialBackoff <= 0:
		return fmt.Errorf("initial backoff must be > 0, got %s", c.InitialBackoff)
	case c.BackoffMultiplier < 1:
		return fmt.Errorf("backoff multiplier must be >= 1, got %v", c.BackoffMultiplier)
	case c.MaxBackoff < c.InitialBackoff:
		return fmt.Errorf("max backoff %s is below initial backoff %s", c.MaxBackoff, c.InitialBackoff)
	}
	return nil
}

// Backoff returns the wait before retry n (n >= 1).
func (c RetryConfig) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(n-1))
	if d >= float64(c.MaxBackoff) || math.IsInf(d, 0) || math.IsNaN(d) {
		return c.MaxBackoff
	}
	return time.Duration(d)
}

// DeadLetterSender receives messages whose retries are exhausted.
type DeadLetterSender interface {
	SendToDeadLetterQueue(ctx context.Context, dl *DeadLetterMessage) error
}

// RetryResult describes one ProcessWithRetry run.
type RetryResult struct {
	// Attempts is the number of handler invocations made by this run.
	Attempts int
	// RetryCount is the lifetime attempt count carried in x-retry-count.
	RetryCount   int
	Succeeded    bool
	DeadLettered bool
	LastErr      error
	// DeadLetterErr is set when forwarding to the dead-letter queue failed.
	DeadLetterErr error
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithSleep replaces time.Sleep, for tests.
func WithSleep(sleep func(time.Duration)) RetrierOption {
	return func(r *Retrier) {
		r.sleep = sleep
	}
}

// WithRetryMetrics records retries.
func WithRetryMetrics(m *Metrics) RetrierOption {
	return func(r *Retrier) {
		r.metrics = m
	}
}

// Retrier runs handlers with bounded exponential backoff and hands exhausted
// messages to the dead-letter sender. Backoff sleeps are not cancellable: once
// started, a retry sequence ends in success or a dead letter.
type Retrier struct {
	dlq     DeadLetterSender
	sleep   func(time.Duration)
	metrics *Metrics
	log     *pkglog.LogHelper
}

// NewRetrier creates a Retrier forwarding to dlq.
func NewRetrier(dlq DeadLetterSender, logger log.Logger, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		dlq:   dlq,
		sleep: time.Sleep,
		log:   pkglog.NewLogHelper(logger),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ProcessWithRetry invokes handler until it succeeds or the retry budget in cfg
// is spent, counting from the x-retry-count header of msg.
func (r *Retrier) ProcessWithRetry(ctx context.Context, msg *Message, handler Handler, cfg RetryConfig, groupID string) RetryResult {
	retryCount := msg.RetryCount()
	res := RetryResult{}

	for {
		res.Attempts++
		err := invoke(ctx, handler, msg)
		if err == nil {
			res.Succeeded = true
			res.RetryCount = retryCount
			if retryCount > 0 {
				r.log.Messaging("message processed after retries",
					"topic", msg.Topic, "offset", msg.Offset, "retries", retryCount)
			}
			return res
		}

		res.LastErr = err
		retryCount++
		msg.SetHeader(HeaderRetryCount, strconv.Itoa(retryCount))

		if retryCount > cfg.MaxRetries {
			break
		}

		wait := cfg.Backoff(retryCount)
		r.metrics.observeRetry(msg.Topic)
		r.log.Retry("handler failed, retrying",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"retry", retryCount,
			"max_retries", cfg.MaxRetries,
			"backoff_ms", wait.Milliseconds(),
			"error", err)
		r.sleep(wait)
	}

	res.RetryCount = retryCount
	res.DeadLettered = true
	r.log.MessagingWarn("retries exhausted, forwarding to dead letter queue",
		"topic", msg.Topic, "offset", msg.Offset, "retry_count", retryCount, "error", res.LastErr)

	if r.dlq == nil {
		res.DeadLetterErr = errors.New("no dead letter sender configured")
		r.log.MessageLoss("no dead letter sender, possible message loss",
			"topic", msg.Topic, "offset", msg.Offset, "error", res.LastErr)
		return res
	}

	res.DeadLetterErr = r.dlq.SendToDeadLetterQueue(ctx, &DeadLetterMessage{
		OriginalTopic:     msg.Topic,
		OriginalPartition: msg.Partition,
		OriginalOffset:    msg.Offset,
		Key:               msg.Key,
		Value:             msg.Value,
		Headers:           msg.Headers,
		Error:             res.LastErr.Error(),
		RetryCount:        retryCount,
		FailedAt:          time.Now().UTC(),
		ConsumerGroupID:   groupID,
	})
	return res
}

// CreateRetryHandler wraps handler so a consumer can dispatch to it directly.
// The handler error is absorbed; only a failed dead-letter forward surfaces.
func (r *Retrier) CreateRetryHandler(handler Handler, cfg RetryConfig, groupID string) Handler {
	return func(ctx context.Context, msg *Message) error {
		res := r.ProcessWithRetry(ctx, msg, handler, cfg, groupID)
		return res.DeadLetterErr
	}
}

// invoke turns a handler panic into an error.
func invoke(ctx context.Context, handler Handler, msg *Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return handler(ctx, msg)
}
