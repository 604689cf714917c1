package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/rl1809/order-core/internal/core/domain"
)

func insertOutbox(ctx context.Context, q DBTX, e domain.OutboxEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO outbox (id, event_type, aggregate_id, aggregate_type, payload, status, attempts, next_attempt_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.EventType), e.AggregateID, e.AggregateType, string(e.Payload),
		string(e.Status), e.Attempts, e.NextAttemptAt.UTC(), e.CreatedAt.UTC(),
	)
	return err
}

// OutboxRepository is used by the publisher outside any unit of work.
type OutboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// FetchPending leaves out aggregates whose head entry is backing off, so a
// batch full of waiting entries cannot starve the rest of the outbox.
func (r *OutboxRepository) FetchPending(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEntry, error) {
	pending := string(domain.OutboxStatusPending)
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, id, event_type, aggregate_id, aggregate_type, payload, status, attempts,
			next_attempt_at, last_error, created_at, published_at
		FROM outbox
		WHERE status = ? AND aggregate_id NOT IN (
			SELECT aggregate_id FROM outbox WHERE status = ? AND next_attempt_at > ?
		)
		ORDER BY seq LIMIT ?`, pending, pending, now.UTC(), limit)
	if err != nil {
		return nil, persistErr("query outbox", err)
	}
	defer rows.Close()

	var entries []domain.OutboxEntry
	for rows.Next() {
		var o outboxRow
		if err := rows.Scan(&o.Seq, &o.ID, &o.EventType, &o.AggregateID, &o.AggregateType, &o.Payload,
			&o.Status, &o.Attempts, &o.NextAttemptAt, &o.LastError, &o.CreatedAt, &o.PublishedAt); err != nil {
			return nil, persistErr("scan outbox", err)
		}
		entries = append(entries, o.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate outbox", err)
	}
	return entries, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, published_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.OutboxStatusPublished), at.UTC(), id, string(domain.OutboxStatusPending))
	if err != nil {
		return persistErr("mark outbox published", err)
	}
	return nil
}

func (r *OutboxRepository) MarkRetry(ctx context.Context, id string, next time.Time, lastErr string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET attempts = attempts + 1, next_attempt_at = ?, last_error = ?
		WHERE id = ? AND status = ?`,
		next.UTC(), truncateError(lastErr), id, string(domain.OutboxStatusPending))
	if err != nil {
		return persistErr("mark outbox retry", err)
	}
	return nil
}

func (r *OutboxRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox WHERE status = ?",
		string(domain.OutboxStatusPending)).Scan(&n)
	if err != nil {
		return 0, persistErr("count outbox", err)
	}
	return n, nil
}
