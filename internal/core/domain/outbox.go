package domain

import "time"

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusPublished OutboxStatus = "PUBLISHED"
)

// OutboxEntry is one serialized event waiting for the publisher. It is
// written in the same transaction as the aggregate and changed only by the
// publisher afterwards.
type OutboxEntry struct {
	Seq           int64
	ID            string
	EventType     EventType
	AggregateID   string
	AggregateType string
	Payload       []byte
	Status        OutboxStatus
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

func NewOutboxEntry(e Event) (OutboxEntry, error) {
	body, err := e.Marshal()
	if err != nil {
		return OutboxEntry{}, err
	}
	return OutboxEntry{
		ID:            e.ID,
		EventType:     e.Type,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		Payload:       body,
		Status:        OutboxStatusPending,
		NextAttemptAt: e.OccurredAt,
		CreatedAt:     e.OccurredAt,
	}, nil
}

// Due reports whether the entry may be attempted at now.
func (e OutboxEntry) Due(now time.Time) bool {
	return e.Status == OutboxStatusPending && !e.NextAttemptAt.After(now)
}
