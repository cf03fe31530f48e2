package messaging

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	pkglog "Bulwark/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultAlertEvery     = 100
	defaultRecentCapacity = 256
	maxErrorHeaderLen     = 256
)

// DeadLetterTopic derives the dead-letter topic for topic.
func DeadLetterTopic(topic string) string {
	return topic + DeadLetterSuffix
}

// DeadLetterMessage is the diagnostic record written to the dead-letter topic.
// RetryCount is the number of attempts actually made.
type DeadLetterMessage struct {
	OriginalTopic     string            `json:"originalTopic"`
	OriginalPartition int32             `json:"originalPartition"`
	OriginalOffset    int64             `json:"originalOffset"`
	Key               []byte            `json:"-"`
	Value             []byte            `json:"-"`
	Headers           map[string]string `json:"headers,omitempty"`
	Error             string            `json:"error"`
	RetryCount        int               `json:"retryCount"`
	FailedAt          time.Time         `json:"failedAt"`
	ConsumerGroupID   string            `json:"consumerGroupId"`
}

// encodeBytes keeps the original bytes intact: UTF-8 text is embedded as is,
// anything else is base64 encoded and flagged.
func encodeBytes(b []byte) (string, string) {
	if utf8.Valid(b) {
		return string(b), "utf8"
	}
	return base64.StdEncoding.EncodeToString(b), "base64"
}

func decodeBytes(s, encoding string) ([]byte, error) {
	if encoding == "base64" {
		return base64.StdEncoding.DecodeString(s)
	}
	return []byte(s), nil
}

// MarshalJSON renders the wire payload.
func (d DeadLetterMessage) MarshalJSON() ([]byte, error) {
	type plain DeadLetterMessage
	value, valueEncoding := encodeBytes(d.Value)
	var key, keyEncoding string
	if len(d.Key) > 0 {
		key, keyEncoding = encodeBytes(d.Key)
	}
	return json.Marshal(struct {
		*plain
		Key           string `json:"key,omitempty"`
		KeyEncoding   string `json:"keyEncoding,omitempty"`
		Value         string `json:"value"`
		ValueEncoding string `json:"valueEncoding"`
	}{(*plain)(&d), key, keyEncoding, value, valueEncoding})
}

// UnmarshalJSON restores the original bytes. A missing encoding means utf8.
func (d *DeadLetterMessage) UnmarshalJSON(data []byte) error {
	type plain DeadLetterMessage
	aux := struct {
		*plain
		Key           string `json:"key,omitempty"`
		KeyEncoding   string `json:"keyEncoding,omitempty"`
		Value         string `json:"value"`
		ValueEncoding string `json:"valueEncoding"`
	}{plain: (*plain)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	d.Key = nil
	if aux.Key != "" {
		k, err := decodeBytes(aux.Key, aux.KeyEncoding)
		if err != nil {
			return fmt.Errorf("decode key: %w", err)
		}
		d.Key = k
	}
	v, err := decodeBytes(aux.Value, aux.ValueEncoding)
	if err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	d.Value = v
	return nil
}

// Publisher is the producer surface the forwarder needs.
type Publisher interface {
	Send(ctx context.Context, topic string, msgs ...*Message) SendResult
}

// DeadLetterOption configures a DeadLetterForwarder.
type DeadLetterOption func(*DeadLetterForwarder)

// WithAlertEvery sets how many dead letters per topic trigger an alert line.
func WithAlertEvery(n int64) DeadLetterOption {
	return func(f *DeadLetterForwarder) {
		if n > 0 {
			f.alertEvery = n
		}
	}
}

// WithRecentCapacity bounds the recent-entry index.
func WithRecentCapacity(n int) DeadLetterOption {
	return func(f *DeadLetterForwarder) {
		if n > 0 {
			f.recentCapacity = n
		}
	}
}

// WithDeadLetterMetrics records forward outcomes.
func WithDeadLetterMetrics(m *Metrics) DeadLetterOption {
	return func(f *DeadLetterForwarder) {
		f.metrics = m
	}
}

// DeadLetterForwarder republishes exhausted messages to "<topic>.dlq" and keeps
// per dead-letter topic counters.
type DeadLetterForwarder struct {
	publisher Publisher

	mu       sync.Mutex
	counters map[string]int64
	failures map[string]int64

	recent         *lru.Cache[string, DeadLetterMessage]
	recentCapacity int
	alertEvery     int64

	metrics *Metrics
	log     *pkglog.LogHelper
}

// NewDeadLetterForwarder creates a forwarder publishing through p.
func NewDeadLetterForwarder(p Publisher, logger log.Logger, opts ...DeadLetterOption) *DeadLetterForwarder {
	f := &DeadLetterForwarder{
		publisher:      p,
		counters:       make(map[string]int64),
		failures:       make(map[string]int64),
		recentCapacity: defaultRecentCapacity,
		alertEvery:     defaultAlertEvery,
		log:            pkglog.NewLogHelper(logger),
	}
	for _, opt := range opts {
		opt(f)
	}
	// size is always positive here, NewCache only fails on size <= 0
	f.recent, _ = lru.New[string, DeadLetterMessage](f.recentCapacity)
	return f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// SendToDeadLetterQueue publishes dl. A publish failure is logged as possible
// message loss and returned; there is no further fallback.
func (f *DeadLetterForwarder) SendToDeadLetterQueue(ctx context.Context, dl *DeadLetterMessage) error {
	if dl.FailedAt.IsZero() {
		dl.FailedAt = time.Now().UTC()
	}
	topic := DeadLetterTopic(dl.OriginalTopic)

	payload, err := json.Marshal(dl)
	if err != nil {
		f.log.MessageLoss("dead letter serialization failed, possible message loss",
			"topic", dl.OriginalTopic, "offset", dl.OriginalOffset, "error", err)
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	msg := &Message{
		Key:   dl.Key,
		Value: payload,
		Headers: map[string]string{
			HeaderDLQOriginalTopic: dl.OriginalTopic,
			HeaderDLQRetryCount:    strconv.Itoa(dl.RetryCount),
			HeaderDLQFailedAt:      dl.FailedAt.UTC().Format(time.RFC3339Nano),
			HeaderDLQError:         truncate(dl.Error, maxErrorHeaderLen),
		},
	}

	res := f.publisher.Send(ctx, topic, msg)
	f.metrics.observeDeadLetter(dl.OriginalTopic, res.Sent)
	if !res.Sent {
		f.mu.Lock()
		f.failures[topic]++
		f.mu.Unlock()
		f.log.MessageLoss("dead letter publish failed, possible message loss",
			"topic", dl.OriginalTopic,
			"partition", dl.OriginalPartition,
			"offset", dl.OriginalOffset,
			"group", dl.ConsumerGroupID,
			"cause", dl.Error,
			"error", res.Err)
		if res.Err == nil {
			return ErrNotConnected
		}
		return res.Err
	}

	f.mu.Lock()
	f.counters[topic]++
	count := f.counters[topic]
	f.mu.Unlock()

	f.recent.Add(fmt.Sprintf("%s/%d/%d", dl.OriginalTopic, dl.OriginalPartition, dl.OriginalOffset), *dl)

	f.log.DeadLetter("message sent to dead letter queue",
		"dlq_topic", topic,
		"topic", dl.OriginalTopic,
		"partition", dl.OriginalPartition,
		"offset", dl.OriginalOffset,
		"retry_count", dl.RetryCount,
		"group", dl.ConsumerGroupID,
		"cause", truncate(dl.Error, maxErrorHeaderLen))

	if count%f.alertEvery == 0 {
		f.log.Alert("dead letter queue threshold reached",
			"dlq_topic", topic, "count", count, "alert_every", f.alertEvery)
	}
	return nil
}

// Counters returns a snapshot of forwarded messages per dead-letter topic.
func (f *DeadLetterForwarder) Counters() map[string]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.counters))
	for k, v := range f.counters {
		out[k] = v
	}
	return out
}

// Failures returns a snapshot of failed forwards per dead-letter topic.
func (f *DeadLetterForwarder) Failures() map[string]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.failures))
	for k, v := range f.failures {
		out[k] = v
	}
	return out
}

// Recent returns up to limit recently forwarded messages, newest first.
// An empty topic matches every original topic.
func (f *DeadLetterForwarder) Recent(topic string, limit int) []DeadLetterMessage {
	values := f.recent.Values()
	out := make([]DeadLetterMessage, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		if topic != "" && values[i].OriginalTopic != topic {
			continue
		}
		out = append(out, values[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// TopicCount is one row of the counters listing.
type TopicCount struct {
	Topic    string `json:"topic"`
	Count    int64  `json:"count"`
	Failures int64  `json:"failures"`
}

// Summary lists counters ordered by topic.
func (f *DeadLetterForwarder) Summary() []TopicCount {
	f.mu.Lock()
	topics := make(map[string]struct{}, len(f.counters)+len(f.failures))
	for t := range f.counters {
		topics[t] = struct{}{}
	}
	for t := range f.failures {
		topics[t] = struct{}{}
	}
	rows := make([]TopicCount, 0, len(topics))
	for t := range topics {
		rows = append(rows, TopicCount{Topic: t, Count: f.counters[t], Failures: f.failures[t]})
	}
	f.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].Topic < rows[j].Topic })
	return rows
}
