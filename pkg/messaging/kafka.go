package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pkglog "Bulwark/pkg/log"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/go-kratos/kratos/v2/log"
)

// KafkaConfig configures the confluent transport.
type KafkaConfig struct {
	Brokers         []string
	ClientID        string
	GroupID         string
	DeliveryTimeout time.Duration
	ConnectTimeout  time.Duration
}

func (c KafkaConfig) bootstrap() string {
	return strings.Join(c.Brokers, ",")
}

func (c KafkaConfig) withDefaults() KafkaConfig {
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	return c
}

// KafkaWriter is a Writer over a confluent producer.
type KafkaWriter struct {
	producer        *kafka.Producer
	deliveryTimeout time.Duration
	log             *pkglog.LogHelper
}

// NewKafkaWriter creates a producer and verifies the cluster answers a metadata request.
func NewKafkaWriter(cfg KafkaConfig, logger log.Logger) (*KafkaWriter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNotConnected
	}
	cfg = cfg.withDefaults()

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.bootstrap(),
		"client.id":          cfg.ClientID,
		"acks":               "all",
		"retries":            3,
		"linger.ms":          10,
		"enable.idempotence": true,
		"compression.type":   "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	if _, err := producer.GetMetadata(nil, false, int(cfg.ConnectTimeout.Milliseconds())); err != nil {
		producer.Close()
		return nil, fmt.Errorf("kafka metadata probe failed: %w", err)
	}

	w := &KafkaWriter{
		producer:        producer,
		deliveryTimeout: cfg.DeliveryTimeout,
		log:             pkglog.NewLogHelper(logger),
	}
	go w.handleEvents()
	return w, nil
}

// handleEvents drains client-level events; per-message reports use their own channel.
func (w *KafkaWriter) handleEvents() {
	for e := range w.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				w.log.MessagingWarn("kafka delivery failed", "topic", topicOf(ev), "error", ev.TopicPartition.Error)
			}
		case kafka.Error:
			w.log.MessagingWarn("kafka client error", "error", ev, "code", ev.Code().String())
		}
	}
}

// Write produces msgs and waits for every delivery report.
func (w *KafkaWriter) Write(ctx context.Context, msgs []*Message) ([]DeliveryReport, error) {
	deliveries := make(chan kafka.Event, len(msgs))

	produced := 0
	for _, m := range msgs {
		if err := w.producer.Produce(toKafkaMessage(m), deliveries); err != nil {
			return nil, fmt.Errorf("produce to %s: %w", m.Topic, err)
		}
		produced++
	}

	timer := time.NewTimer(w.deliveryTimeout)
	defer timer.Stop()

	reports := make([]DeliveryReport, 0, produced)
	for len(reports) < produced {
		select {
		case e := <-deliveries:
			km, ok := e.(*kafka.Message)
			if !ok {
				continue
			}
			if km.TopicPartition.Error != nil {
				return reports, fmt.Errorf("delivery to %s failed: %w", topicOf(km), km.TopicPartition.Error)
			}
			reports = append(reports, DeliveryReport{
				Topic:     topicOf(km),
				Partition: km.TopicPartition.Partition,
				Offset:    int64(km.TopicPartition.Offset),
			})
		case <-timer.C:
			return reports, fmt.Errorf("delivery not confirmed within %s", w.deliveryTimeout)
		case <-ctx.Done():
			return reports, ctx.Err()
		}
	}
	return reports, nil
}

// Close flushes pending messages and closes the producer.
func (w *KafkaWriter) Close() error {
	w.producer.Flush(15 * 1000)
	w.producer.Close()
	return nil
}

// KafkaReader is a Reader over a confluent consumer.
type KafkaReader struct {
	consumer *kafka.Consumer
}

// NewKafkaReader creates a consumer in cfg.GroupID. Offsets are stored only by
// Commit, which the poll loop calls once the handler (and any retry sequence)
// returns; the periodic auto-commit then flushes stored offsets. A crash
// mid-retry redelivers the message.
func NewKafkaReader(cfg KafkaConfig) (*KafkaReader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNotConnected
	}
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":        cfg.bootstrap(),
		"client.id":                cfg.ClientID,
		"group.id":                 cfg.GroupID,
		"auto.offset.reset":        "earliest",
		"enable.auto.commit":       true,
		"enable.auto.offset.store": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return &KafkaReader{consumer: consumer}, nil
}

// Subscribe replaces the current subscription with topics.
func (r *KafkaReader) Subscribe(topics []string) error {
	return r.consumer.SubscribeTopics(topics, nil)
}

// Read polls one message.
func (r *KafkaReader) Read(ctx context.Context, timeout time.Duration) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	km, err := r.consumer.ReadMessage(timeout)
	if err != nil {
		var kerr kafka.Error
		if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
			return nil, nil
		}
		return nil, err
	}
	return fromKafkaMessage(km), nil
}

// Commit stores the offset after msg for the next auto-commit.
func (r *KafkaReader) Commit(msg *Message) error {
	topic := msg.Topic
	_, err := r.consumer.StoreOffsets([]kafka.TopicPartition{{
		Topic:     &topic,
		Partition: msg.Partition,
		Offset:    kafka.Offset(msg.Offset + 1),
	}})
	return err
}

// Close leaves the group and closes the consumer.
func (r *KafkaReader) Close() error {
	return r.consumer.Close()
}

func topicOf(km *kafka.Message) string {
	if km.TopicPartition.Topic == nil {
		return ""
	}
	return *km.TopicPartition.Topic
}

func toKafkaMessage(m *Message) *kafka.Message {
	topic := m.Topic
	km := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            m.Key,
		Value:          m.Value,
		Timestamp:      m.Timestamp,
	}
	for k, v := range m.Headers {
		km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return km
}

func fromKafkaMessage(km *kafka.Message) *Message {
	m := &Message{
		Topic:     topicOf(km),
		Partition: km.TopicPartition.Partition,
		Offset:    int64(km.TopicPartition.Offset),
		Key:       km.Key,
		Value:     km.Value,
		Timestamp: km.Timestamp,
	}
	if len(km.Headers) > 0 {
		m.Headers = make(map[string]string, len(km.Headers))
		for _, h := range km.Headers {
			m.Headers[h.Key] = string(h.Value)
		}
	}
	return m
}
