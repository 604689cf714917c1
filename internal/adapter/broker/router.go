package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rl1809/order-core/internal/core/domain"
)

// Handler processes a single delivery. It should be idempotent.
// Return nil => ACK; return error => NACK (requeue behavior controlled by Router).
type Handler interface {
	Handle(ctx context.Context, d amqp.Delivery) error
}

// Router manages multiple consumers (one per registered queue) on a single AMQP channel.
type Router struct {
	ch            *amqp.Channel
	prefetch      int
	callTimeout   time.Duration
	requeueOnErr  bool
	log           *slog.Logger
	registrations []registration
}

type registration struct {
	queueName   string
	handler     Handler
	consumerTag string
}

type RouterOption func(*Router)

func WithPrefetch(n int) RouterOption          { return func(r *Router) { r.prefetch = n } }
func WithTimeout(d time.Duration) RouterOption { return func(r *Router) { r.callTimeout = d } }
func WithRequeue(b bool) RouterOption          { return func(r *Router) { r.requeueOnErr = b } }
func WithLogger(l *slog.Logger) RouterOption   { return func(r *Router) { r.log = l } }

// NewRouter constructs a Router. Defaults: prefetch=50, timeout=10s, requeueOnErr=true.
func NewRouter(ch *amqp.Channel, opts ...RouterOption) *Router {
	r := &Router{
		ch:           ch,
		prefetch:     50,
		callTimeout:  10 * time.Second,
		requeueOnErr: true,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register associates a queue with a handler. Call multiple times for multiple queues.
func (r *Router) Register(queueName string, h Handler) {
	r.registrations = append(r.registrations, registration{
		queueName:   queueName,
		handler:     h,
		consumerTag: "c_" + queueName,
	})
}

// Run consumes every registered queue until ctx is cancelled or the channel
// closes. In-flight deliveries finish before Run returns.
func (r *Router) Run(ctx context.Context) error {
	if err := r.ch.Qos(r.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	closed := r.ch.NotifyClose(make(chan *amqp.Error, 1))

	var wg sync.WaitGroup
	for _, reg := range r.registrations {
		deliveries, err := r.ch.Consume(
			reg.queueName,
			reg.consumerTag,
			false, // manual ack
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("consume %s: %w", reg.queueName, err)
		}

		wg.Add(1)
		go func(reg registration, msgs <-chan amqp.Delivery) {
			defer wg.Done()
			r.consume(ctx, reg, msgs)
		}(reg, deliveries)
	}

	var err error
	select {
	case <-ctx.Done():
		for _, reg := range r.registrations {
			_ = r.ch.Cancel(reg.consumerTag, false)
		}
	case amqpErr := <-closed:
		if amqpErr != nil {
			err = fmt.Errorf("amqp channel closed: %w", amqpErr)
		}
	}
	wg.Wait()
	return err
}

func (r *Router) consume(ctx context.Context, reg registration, msgs <-chan amqp.Delivery) {
	log := r.log.With("queue", reg.queueName, "tag", reg.consumerTag)
	for d := range msgs {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.callTimeout)
		err := reg.handler.Handle(callCtx, d)
		cancel()

		switch {
		case err == nil:
			_ = d.Ack(false)
		case errors.Is(err, domain.ErrValidation):
			log.Error("dropping undecodable delivery", "rk", d.RoutingKey, "message_id", d.MessageId, "err", err)
			_ = d.Nack(false, false)
		default:
			log.Warn("handler error", "rk", d.RoutingKey, "message_id", d.MessageId, "err", err, "requeue", r.requeueOnErr)
			_ = d.Nack(false, r.requeueOnErr)
		}
	}
	log.Info("consumer stopped")
}
