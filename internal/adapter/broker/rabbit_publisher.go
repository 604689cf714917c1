package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rl1809/order-core/internal/core/domain"
)

var ErrNacked = errors.New("broker rejected message")

// Dial connects to RabbitMQ, retrying with exponential backoff for up to maxWait.
func Dial(ctx context.Context, url string, maxWait time.Duration) (*amqp.Connection, error) {
	conn, err := backoff.Retry(ctx, func() (*amqp.Connection, error) {
		return amqp.Dial(url)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxWait),
	)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	return conn, nil
}

// DeclareTopology declares a durable topic exchange per route and binds each
// consumed routing key to its durable queue.
func DeclareTopology(ch *amqp.Channel, routes Routes) error {
	for _, name := range routes.Exchanges() {
		if err := ch.ExchangeDeclare(
			name,
			"topic",
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}

	for queue, bound := range routes.Bindings() {
		q, err := ch.QueueDeclare(
			queue,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		for _, route := range bound {
			if err := ch.QueueBind(q.Name, route.RoutingKey, route.Exchange, false, nil); err != nil {
				return fmt.Errorf("bind %s to %s/%s: %w", q.Name, route.Exchange, route.RoutingKey, err)
			}
		}
	}
	return nil
}

// RabbitPublisher publishes outbox entries with publisher confirms and waits
// for the broker's ack before returning.
type RabbitPublisher struct {
	mu     sync.Mutex
	ch     *amqp.Channel
	routes Routes
}

func NewRabbitPublisher(ch *amqp.Channel, routes Routes) (*RabbitPublisher, error) {
	if err := DeclareTopology(ch, routes); err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}
	return &RabbitPublisher{ch: ch, routes: routes}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, e domain.OutboxEntry) error {
	route := p.routes.Lookup(e.EventType)

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         string(e.EventType),
		Timestamp:    e.CreatedAt,
		Headers: amqp.Table{
			"aggregate_id":   e.AggregateID,
			"aggregate_type": e.AggregateType,
		},
		Body: e.Payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(
		ctx,
		route.Exchange,
		route.RoutingKey,
		false, // mandatory
		false, // immediate
		pub,
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.ID, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm %s: %w", e.ID, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: %w", e.ID, ErrNacked)
	}
	return nil
}
