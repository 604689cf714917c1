package port

import (
	"context"

	"github.com/rl1809/order-core/internal/core/domain"
)

type EventPublisher interface {
	// Publish delivers the entry and returns once the broker acknowledged it
	Publish(ctx context.Context, entry domain.OutboxEntry) error
}
