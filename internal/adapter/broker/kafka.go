package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v5"

	"github.com/rl1809/order-core/internal/core/domain"
)

const (
	headerEventType = "event_type"
	headerEventID   = "event_id"
)

func kafkaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_6_0_0
	cfg.Net.DialTimeout = 5 * time.Second
	return cfg
}

func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := kafkaConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return sarama.NewSyncProducer(brokers, cfg)
}

// NewGroup starts new groups from the oldest offset so events published
// before the first deployment are still consumed.
func NewGroup(brokers []string, groupID string) (sarama.ConsumerGroup, error) {
	cfg := kafkaConfig()
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	return sarama.NewConsumerGroup(brokers, groupID, cfg)
}

// KafkaPublisher sends each entry to the topic named by its routing key, keyed
// by aggregate id so one aggregate's events stay on one partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	routes   Routes
}

func NewKafkaPublisher(producer sarama.SyncProducer, routes Routes) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, routes: routes}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e domain.OutboxEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.routes.Lookup(e.EventType).RoutingKey,
		Key:   sarama.StringEncoder(e.AggregateID),
		Value: sarama.ByteEncoder(e.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerEventType), Value: []byte(e.EventType)},
			{Key: []byte(headerEventID), Value: []byte(e.ID)},
		},
		Timestamp: e.CreatedAt,
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send %s: %w", e.ID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// Consumer consumes topics with a single envelope handler.
type Consumer struct {
	Group  sarama.ConsumerGroup
	Topics []string
	Handle EnvelopeFunc
	Logger *slog.Logger
}

func NewConsumer(group sarama.ConsumerGroup, topics []string, h EnvelopeFunc, log *slog.Logger) *Consumer {
	return &Consumer{
		Group:  group,
		Topics: topics,
		Handle: h,
		Logger: log,
	}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	handler := &cgHandler{handle: c.Handle, log: c.Logger}
	for {
		if err := c.Group.Consume(ctx, c.Topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		// When Consume returns, it's because ctx was cancelled or a rebalance happened.
		if ctx.Err() != nil {
			return nil
		}
	}
}

type cgHandler struct {
	handle EnvelopeFunc
	log    *slog.Logger
}

func (h *cgHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *cgHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *cgHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.process(sess.Context(), msg); err != nil {
			// Session ended mid-retry; the uncommitted offset is redelivered.
			return nil
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

// process retries a failing handler until it succeeds or the session ends.
// Skipping would commit past the message once a later offset is marked.
func (h *cgHandler) process(ctx context.Context, msg *sarama.ConsumerMessage) error {
	env, err := domain.DecodeEnvelope(msg.Value)
	if err != nil {
		h.log.Error("kafka decode error, skipping", "topic", msg.Topic, "offset", msg.Offset, "err", err)
		return nil
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		err := h.handle(ctx, env)
		if errors.Is(err, domain.ErrValidation) {
			return struct{}{}, backoff.Permanent(err)
		}
		if err != nil {
			h.log.Warn("handler error", "event_id", env.ID, "key", string(msg.Key), "offset", msg.Offset, "err", err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(0),
	)
	if errors.Is(err, domain.ErrValidation) {
		h.log.Error("dropping invalid event", "event_id", env.ID, "err", err)
		return nil
	}
	return err
}
