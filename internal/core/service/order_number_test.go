package service

import (
	"context"
	"testing"
	"time"

	"github.com/rl1809/order-core/internal/core/domain"
)

func TestOrderNumberGenerator_PeriodScopedSequence(t *testing.T) {
	seq := newMockSequence()
	g := NewOrderNumberGenerator(seq)

	g.now = func() time.Time { return time.Date(2026, time.January, 31, 23, 59, 0, 0, time.UTC) }
	n1, _ := g.Next(context.Background())
	n2, _ := g.Next(context.Background())

	g.now = func() time.Time { return time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC) }
	n3, err := g.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []domain.OrderNumber{"ORD-2026-01-000001", "ORD-2026-01-000002", "ORD-2026-02-000001"}
	for i, got := range []domain.OrderNumber{n1, n2, n3} {
		if got != want[i] {
			t.Errorf("expected %s, got %s", want[i], got)
		}
	}
}

func TestOrderNumberGenerator_Exhausted(t *testing.T) {
	seq := newMockSequence()
	seq.values["2026-03"] = domain.MaxOrderSequence
	g := NewOrderNumberGenerator(seq)
	g.now = func() time.Time { return time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC) }

	if _, err := g.Next(context.Background()); err == nil {
		t.Error("expected error once the monthly sequence is exhausted")
	}
}
