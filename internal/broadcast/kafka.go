package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/types"
)

// Kafka publishes every outcome as JSON, keyed by session id so one
// session's outcomes stay ordered within a partition.
type Kafka struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

func NewKafka(brokers []string, topic string, logger *slog.Logger) (*Kafka, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka: brokers and topic are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RecordDeliveryTimeout(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &Kafka{client: cl, topic: topic, logger: logger}, nil
}

// Ping checks that at least one broker answers.
func (k *Kafka) Ping(ctx context.Context) error {
	return k.client.Ping(ctx)
}

// Publish enqueues the outcome and returns without waiting for the broker.
// Delivery failures are logged.
func (k *Kafka) Publish(ctx context.Context, o domain.Outcome) error {
	value, err := json.Marshal(types.NewOutcome(o))
	if err != nil {
		return err
	}
	rec := &kgo.Record{Key: []byte(o.Key.SessionID), Value: value}
	k.client.Produce(context.WithoutCancel(ctx), rec, func(r *kgo.Record, err error) {
		if err != nil {
			k.logger.Warn("kafka produce failed", "topic", k.topic, "session", o.Key.String(), "err", err)
		}
	})
	return nil
}

// Close flushes buffered records, waiting at most until ctx is done.
func (k *Kafka) Close(ctx context.Context) {
	if err := k.client.Flush(ctx); err != nil {
		k.logger.Warn("kafka flush failed", "err", err)
	}
	k.client.Close()
}
