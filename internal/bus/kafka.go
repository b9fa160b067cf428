package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/velosdrop/velosdrop-sub001/internal/apperrors"
)

// kafkaEnvelope is the on-wire record. The logical topic rides in the
// payload and doubles as the partition key, so all events for one logical
// topic stay on one partition and arrive in publish order.
type kafkaEnvelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

// KafkaBus is a Bus carried over a single Kafka topic. Publishing writes to
// Kafka; subscriptions are served from the local dispatch table, fed by Run
// consuming the shared topic.
type KafkaBus struct {
	writer *kafka.Writer
	local  *MemoryBus
	topic  string
	group  string
	logger *slog.Logger
}

func NewKafkaBus(brokers []string, topic, group string, logger *slog.Logger) *KafkaBus {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	// each process must consume the full stream; a group id shared across
	// replicas would split the partitions between them
	group = group + "-" + uuid.NewString()
	return &KafkaBus{writer: w, local: NewMemoryBus(), topic: topic, group: group, logger: logger}
}

func (b *KafkaBus) Publish(ctx context.Context, topic string, ev Event) error {
	env := kafkaEnvelope{Topic: topic, Type: string(ev.Type), Data: ev.Data}
	v, err := json.Marshal(env)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := b.writer.WriteMessages(wctx, kafka.Message{Key: []byte(topic), Value: v}); err != nil {
		return apperrors.Channel(topic, err)
	}
	return nil
}

func (b *KafkaBus) Subscribe(topic string, h Handler) (CancelFunc, error) {
	return b.local.Subscribe(topic, h)
}

// Run consumes the shared Kafka topic and fans records out to local
// subscribers. Blocks until ctx is cancelled. Read errors back off
// exponentially up to 30s.
func (b *KafkaBus) Run(ctx context.Context, brokers []string) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   b.topic,
		GroupID: b.group,
	})
	defer r.Close()

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		var env kafkaEnvelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			b.logger.Warn("invalid bus record", "error", err)
			continue
		}
		t, err := ParseEventType(env.Type)
		if err != nil {
			b.logger.Warn("invalid bus record", "error", err)
			continue
		}
		_ = b.local.Publish(ctx, env.Topic, Event{Type: t, Data: env.Data})
	}
}

func (b *KafkaBus) Close() error {
	if b.writer == nil {
		return nil
	}
	return b.writer.Close()
}
