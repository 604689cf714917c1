package main

import (
	"context"
	"fmt"

	"github.com/rl1809/order-core/configs"
	"github.com/rl1809/order-core/internal/adapter/broker"
	"github.com/rl1809/order-core/internal/logging"
	"github.com/rl1809/order-core/internal/port"
)

// eventBus is the outbox's publishing side plus the saga's consuming side of
// the configured broker.
type eventBus struct {
	publisher port.EventPublisher
	// consume blocks until ctx is done. Nil when delivery is in-process.
	consume func(ctx context.Context) error
	close   func()
}

func setupBroker(ctx context.Context, cfg configs.Config, handle broker.EnvelopeFunc) (*eventBus, error) {
	routes := cfg.Routes()
	log := logging.New("broker")

	switch cfg.Broker.Kind {
	case "rabbitmq":
		conn, err := broker.Dial(ctx, cfg.Rabbit.URL, cfg.Broker.DialFor)
		if err != nil {
			return nil, err
		}
		pubCh, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("open publish channel: %w", err)
		}
		publisher, err := broker.NewRabbitPublisher(pubCh, routes)
		if err != nil {
			conn.Close()
			return nil, err
		}
		subCh, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("open consume channel: %w", err)
		}

		router := broker.NewRouter(subCh, broker.WithPrefetch(cfg.Rabbit.Prefetch), broker.WithLogger(log))
		router.Register(broker.SagaQueue, broker.EnvelopeHandler{HandleFunc: handle})

		log.Info("connected to rabbitmq", "exchanges", routes.Exchanges())
		return &eventBus{
			publisher: publisher,
			consume:   router.Run,
			close:     func() { _ = conn.Close() },
		}, nil

	case "kafka":
		producer, err := broker.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		group, err := broker.NewGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
		if err != nil {
			producer.Close()
			return nil, fmt.Errorf("kafka consumer group: %w", err)
		}
		publisher := broker.NewKafkaPublisher(producer, routes)
		consumer := broker.NewConsumer(group, routes.Topics(broker.SagaQueue), handle, log)

		log.Info("connected to kafka", "brokers", cfg.Kafka.Brokers, "topics", consumer.Topics)
		return &eventBus{
			publisher: publisher,
			consume:   consumer.Run,
			close: func() {
				_ = group.Close()
				_ = publisher.Close()
			},
		}, nil

	case "local":
		log.Warn("broker.kind=local: events are delivered in-process")
		return &eventBus{
			publisher: broker.LocalPublisher{HandleFunc: handle},
			close:     func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown broker kind %q", cfg.Broker.Kind)
}
