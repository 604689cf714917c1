package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rl1809/order-core/internal/core/domain"
)

// EnvelopeFunc handles one decoded event.
type EnvelopeFunc func(ctx context.Context, env domain.Envelope) error

// EnvelopeHandler adapts an EnvelopeFunc into a raw Delivery handler.
// Undecodable bodies surface as ValidationError so the router drops them.
type EnvelopeHandler struct {
	HandleFunc EnvelopeFunc
}

func (h EnvelopeHandler) Handle(ctx context.Context, d amqp.Delivery) error {
	env, err := domain.DecodeEnvelope(d.Body)
	if err != nil {
		return err
	}
	return h.HandleFunc(ctx, env)
}

// LocalPublisher delivers outbox entries straight to an in-process handler.
// A handler error fails the publish so the outbox retries it.
type LocalPublisher struct {
	HandleFunc EnvelopeFunc
}

func (p LocalPublisher) Publish(ctx context.Context, e domain.OutboxEntry) error {
	env, err := domain.DecodeEnvelope(e.Payload)
	if err != nil {
		return err
	}
	return p.HandleFunc(ctx, env)
}
