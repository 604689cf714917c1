package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/order-core/internal/core/domain"
	"github.com/rl1809/order-core/internal/port"
)

// OrderNumberGenerator draws the per-month sequence from a durable counter.
type OrderNumberGenerator struct {
	seq port.SequenceSource
	now func() time.Time
}

func NewOrderNumberGenerator(seq port.SequenceSource) *OrderNumberGenerator {
	return &OrderNumberGenerator{seq: seq, now: time.Now}
}

func (g *OrderNumberGenerator) Next(ctx context.Context) (domain.OrderNumber, error) {
	now := g.now().UTC()
	n, err := g.seq.Next(ctx, domain.SequencePeriod(now))
	if err != nil {
		return "", fmt.Errorf("next order sequence: %w", err)
	}
	return domain.NewOrderNumber(now, n)
}
