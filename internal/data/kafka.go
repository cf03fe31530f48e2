package data

import (
	"context"
	"time"

	"Bulwark/internal/conf"
	"Bulwark/pkg/messaging"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
)

// NewMessagingMetrics registers the messaging counters on reg.
func NewMessagingMetrics(reg *prometheus.Registry) *messaging.Metrics {
	return messaging.NewMetrics(reg)
}

func kafkaConfig(c *conf.Data_Kafka) messaging.KafkaConfig {
	if c == nil {
		return messaging.KafkaConfig{}
	}
	return messaging.KafkaConfig{
		Brokers:         c.Brokers,
		ClientID:        c.ClientId,
		GroupID:         c.GroupId,
		DeliveryTimeout: c.DeliveryTimeout.AsDuration(),
		ConnectTimeout:  c.ConnectTimeout.AsDuration(),
	}
}

// NewProducer creates the shared producer and tries to connect once.
// Kafka being down does not prevent application startup: publishes become logged no-ops.
func NewProducer(c *conf.Data, m *messaging.Metrics, logger log.Logger) (*messaging.Producer, func()) {
	helper := log.NewHelper(logger)
	kc := kafkaConfig(c.GetKafka())

	p := messaging.NewProducer(func(ctx context.Context) (messaging.Writer, error) {
		return messaging.NewKafkaWriter(kc, logger)
	}, logger, messaging.WithProducerMetrics(m))

	timeout := kc.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.Connect(ctx); err != nil {
		helper.Warnf("Kafka producer unavailable: %v (application will continue without publishing)", err)
	}

	cleanup := func() {
		helper.Info("closing Kafka producer")
		if err := p.Close(); err != nil {
			helper.Errorf("failed to close Kafka producer: %v", err)
		}
	}
	return p, cleanup
}

// NewConsumer creates the shared consumer. Without a reachable broker the
// consumer still accepts subscriptions but StartConsuming reports ErrNotConnected.
func NewConsumer(c *conf.Data, m *messaging.Metrics, logger log.Logger) (*messaging.Consumer, func()) {
	helper := log.NewHelper(logger)
	kc := c.GetKafka()
	cfg := kafkaConfig(kc)

	var opts []messaging.ConsumerOption
	opts = append(opts, messaging.WithConsumerMetrics(m))
	if kc != nil {
		opts = append(opts, messaging.WithPollTimeout(kc.PollTimeout.AsDuration()))
	}

	var reader messaging.Reader
	if r, err := messaging.NewKafkaReader(cfg); err != nil {
		helper.Warnf("Kafka consumer unavailable: %v (application will continue without consuming)", err)
	} else {
		reader = r
	}

	consumer := messaging.NewConsumer(reader, cfg.GroupID, logger, opts...)
	cleanup := func() {
		helper.Info("closing Kafka consumer")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := consumer.Close(ctx); err != nil {
			helper.Errorf("failed to close Kafka consumer: %v", err)
		}
	}
	return consumer, cleanup
}

// NewDeadLetterForwarder creates the forwarder publishing through p.
func NewDeadLetterForwarder(c *conf.DeadLetter, p *messaging.Producer, m *messaging.Metrics, logger log.Logger) *messaging.DeadLetterForwarder {
	opts := []messaging.DeadLetterOption{messaging.WithDeadLetterMetrics(m)}
	if c != nil {
		opts = append(opts,
			messaging.WithAlertEvery(c.AlertEvery),
			messaging.WithRecentCapacity(int(c.RecentCapacity)))
	}
	return messaging.NewDeadLetterForwarder(p, logger, opts...)
}

// NewRetrier creates the retrier forwarding exhausted messages to dlq.
func NewRetrier(dlq *messaging.DeadLetterForwarder, m *messaging.Metrics, logger log.Logger) *messaging.Retrier {
	return messaging.NewRetrier(dlq, logger, messaging.WithRetryMetrics(m))
}

// NewRetryConfig converts the retry section. Zero fields keep the defaults.
func NewRetryConfig(c *conf.Retry) messaging.RetryConfig {
	cfg := messaging.DefaultRetryConfig()
	if c == nil {
		return cfg
	}
	if c.MaxRetries > 0 {
		cfg.MaxRetries = int(c.MaxRetries)
	}
	if d := c.InitialBackoff.AsDuration(); d > 0 {
		cfg.InitialBackoff = d
	}
	if c.BackoffMultiplier > 0 {
		cfg.BackoffMultiplier = c.BackoffMultiplier
	}
	if d := c.MaxBackoff.AsDuration(); d > 0 {
		cfg.MaxBackoff = d
	}
	return cfg
}
