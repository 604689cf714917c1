package service

import (
	"context"
	"testing"

	"github.com/rl1809/order-core/internal/core/domain"
)

func TestReaper_CancelsExpiredAndReleasesStock(t *testing.T) {
	f := newOrderFixture()
	order, _ := placeDock(t, f, "user-1")
	f.deliverAll(t)

	if got := f.reserver.stockOf("DOCK-1"); got != 0 {
		t.Fatalf("expected stock held, got %d", got)
	}

	reaper := NewReservationReaper(f.reserver, f.orders, 10, discardLogger)

	n, err := reaper.Sweep(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected nothing expired yet, got n=%d err=%v", n, err)
	}

	f.reserver.expireAll()
	n, err = reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 released, got %d", n)
	}

	snap := f.store.order(order.ID)
	if snap.Status != domain.OrderStatusCancelled || snap.CancellationReason != ReasonReservationExpired {
		t.Errorf("expected cancelled for expiry, got %s %q", snap.Status, snap.CancellationReason)
	}
	if got := f.reserver.stockOf("DOCK-1"); got != 1 {
		t.Errorf("expected stock returned, got %d", got)
	}
}

func TestReaper_ConfirmedReservationsNeverExpire(t *testing.T) {
	f := newOrderFixture()
	order, _ := placeDock(t, f, "user-1")
	f.deliverAll(t)
	_, _ = f.orders.ProcessOrder(context.Background(), order.ID)
	f.deliverAll(t)

	f.reserver.expireAll()
	reaper := NewReservationReaper(f.reserver, f.orders, 10, discardLogger)
	n, err := reaper.Sweep(context.Background())
	if err != nil || n != 0 {
		t.Errorf("expected nothing to reap, got n=%d err=%v", n, err)
	}
	if got := f.store.order(order.ID).Status; got != domain.OrderStatusProcessing {
		t.Errorf("expected PROCESSING, got %s", got)
	}
}

func TestReaper_KeepsStockForOrderProcessedBeforeConfirm(t *testing.T) {
	f := newOrderFixture()
	order, _ := placeDock(t, f, "user-1")
	f.deliverAll(t)

	// order.processing is still in the outbox when the reservation expires.
	if _, err := f.orders.ProcessOrder(context.Background(), order.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	f.reserver.expireAll()

	reaper := NewReservationReaper(f.reserver, f.orders, 10, discardLogger)
	n, err := reaper.Sweep(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected nothing released, got n=%d err=%v", n, err)
	}

	snap := f.store.order(order.ID)
	if snap.Status != domain.OrderStatusProcessing || snap.CancellationReason != "" {
		t.Errorf("expected PROCESSING untouched, got %s %q", snap.Status, snap.CancellationReason)
	}
	if got := f.reserver.stockOf("DOCK-1"); got != 0 {
		t.Errorf("expected stock still held, got %d", got)
	}
	if !f.reserver.confirmed[order.ID] {
		t.Error("expected the reservation to leave the expiry index")
	}

	n, err = reaper.Sweep(context.Background())
	if err != nil || n != 0 {
		t.Errorf("expected the order to be gone from the expiry index, got n=%d err=%v", n, err)
	}
}
