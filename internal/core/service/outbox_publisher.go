package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rl1809/order-core/internal/core/domain"
	"github.com/rl1809/order-core/internal/metrics"
	"github.com/rl1809/order-core/internal/port"
)

type OutboxPublisherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// AlertAfter is the number of failed passes after which an entry is
	// reported as stuck. It keeps being retried at MaxBackoff.
	AlertAfter  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// PublishTries bounds the quick in-process retries within one pass.
	PublishTries uint
}

func (c *OutboxPublisherConfig) withDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.AlertAfter <= 0 {
		c.AlertAfter = 10
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.PublishTries == 0 {
		c.PublishTries = 3
	}
}

// OutboxPublisher relays committed outbox entries to the broker. Entries of
// one aggregate are published in insertion order: once an entry of an
// aggregate fails or is waiting for its retry time, later entries of that
// aggregate are held back until it is published. Entries are never given up
// on, so an aggregate's events are never delivered with a gap.
type OutboxPublisher struct {
	outbox    port.OutboxRepository
	publisher port.EventPublisher
	cfg       OutboxPublisherConfig
	log       *slog.Logger
	now       func() time.Time
}

func NewOutboxPublisher(outbox port.OutboxRepository, publisher port.EventPublisher, cfg OutboxPublisherConfig, log *slog.Logger) *OutboxPublisher {
	cfg.withDefaults()
	return &OutboxPublisher{
		outbox:    outbox,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Run drains the outbox every poll interval until ctx is cancelled.
func (p *OutboxPublisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.log.Info("outbox publisher started", "poll_interval", p.cfg.PollInterval, "batch_size", p.cfg.BatchSize)
	for {
		if n, err := p.Drain(ctx); err != nil {
			p.log.Error("outbox drain failed", "err", err, "published", n)
		} else if n > 0 {
			p.log.Debug("outbox drained", "published", n)
		}

		select {
		case <-ctx.Done():
			p.log.Info("outbox publisher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Drain makes one pass over the pending entries and returns how many were
// published.
func (p *OutboxPublisher) Drain(ctx context.Context) (int, error) {
	entries, err := p.outbox.FetchPending(ctx, p.now().UTC(), p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending: %w", err)
	}

	blocked := make(map[string]struct{})
	published := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return published, nil
		}
		if _, ok := blocked[e.AggregateID]; ok {
			continue
		}
		if !e.Due(p.now().UTC()) {
			blocked[e.AggregateID] = struct{}{}
			continue
		}

		if err := p.publish(ctx, e); err != nil {
			blocked[e.AggregateID] = struct{}{}
			if ferr := p.recordFailure(ctx, e, err); ferr != nil {
				return published, ferr
			}
			continue
		}

		if err := p.outbox.MarkPublished(ctx, e.ID, p.now().UTC()); err != nil {
			// The entry stays PENDING and is sent again; consumers drop the duplicate.
			return published, fmt.Errorf("mark published %s: %w", e.ID, err)
		}
		published++
		metrics.OutboxPublished.WithLabelValues(string(e.EventType)).Inc()
	}

	if n, err := p.outbox.CountPending(ctx); err == nil {
		metrics.OutboxBacklog.Set(float64(n))
	}
	return published, nil
}

func (p *OutboxPublisher) publish(ctx context.Context, e domain.OutboxEntry) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 50 * time.Millisecond
	eb.MaxInterval = time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, p.publisher.Publish(ctx, e)
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(p.cfg.PublishTries),
		backoff.WithMaxElapsedTime(p.cfg.PollInterval*5),
	)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrPublish, e.EventType, e.ID, err)
	}
	return nil
}

func (p *OutboxPublisher) recordFailure(ctx context.Context, e domain.OutboxEntry, cause error) error {
	attempts := e.Attempts + 1
	next := p.now().UTC().Add(p.retryDelay(attempts))
	if attempts >= p.cfg.AlertAfter {
		p.log.Error("outbox entry stuck", "id", e.ID, "event_type", e.EventType, "aggregate_id", e.AggregateID,
			"attempts", attempts, "next_attempt_at", next, "err", cause)
		metrics.OutboxFailures.WithLabelValues(string(e.EventType), "stuck").Inc()
	} else {
		p.log.Warn("outbox publish failed", "id", e.ID, "event_type", e.EventType,
			"attempts", attempts, "next_attempt_at", next, "err", cause)
		metrics.OutboxFailures.WithLabelValues(string(e.EventType), "retry").Inc()
	}
	if err := p.outbox.MarkRetry(ctx, e.ID, next, cause.Error()); err != nil {
		return fmt.Errorf("mark retry %s: %w", e.ID, err)
	}
	return nil
}

// retryDelay is BaseBackoff * 2^(attempts-1), capped at MaxBackoff.
func (p *OutboxPublisher) retryDelay(attempts int) time.Duration {
	d := p.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.cfg.MaxBackoff {
			return p.cfg.MaxBackoff
		}
	}
	if d > p.cfg.MaxBackoff {
		return p.cfg.MaxBackoff
	}
	return d
}
