package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-core/internal/core/domain"
	"github.com/rl1809/order-core/internal/port"
)

var testAddress = domain.Address{Line1: "1 Market St", City: "San Francisco", PostalCode: "94105", Country: "US"}

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(ctx, db, SQLite))
	return NewStore(db, SQLite)
}

func laptopItem() domain.CartItem {
	return domain.CartItem{
		ProductID:   "prod-laptop",
		ProductName: "Laptop 14",
		SKU:         "LAP-14",
		Quantity:    2,
		UnitPrice:   decimal.RequireFromString("850.00"),
		Currency:    "USD",
	}
}

func saveNewCart(t *testing.T, s *Store, userID string) *domain.Cart {
	t.Helper()
	cart, err := domain.NewCart(userID)
	require.NoError(t, err)
	_, err = cart.AddItem(laptopItem())
	require.NoError(t, err)

	err = s.UnitOfWork().Run(context.Background(), func(ctx context.Context, tx port.Tx) error {
		return tx.Carts().Save(ctx, cart)
	})
	require.NoError(t, err)
	return cart
}

func newOrderFrom(t *testing.T, cart *domain.Cart, number domain.OrderNumber) *domain.Order {
	t.Helper()
	var items []domain.OrderItemParams
	for _, it := range cart.Items() {
		items = append(items, domain.OrderItemParams{
			ProductID: it.ProductID, ProductName: it.ProductName, SKU: it.SKU,
			Quantity: it.Quantity, UnitPrice: it.UnitPrice, Currency: it.Currency,
		})
	}
	order, err := domain.NewOrder(domain.OrderParams{
		UserID: cart.UserID(), CartID: cart.ID(), Number: number, Items: items,
		ShippingAddress: testAddress, BillingAddress: testAddress,
	})
	require.NoError(t, err)
	return order
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newSQLiteStore(t)

	require.NoError(t, Migrate(context.Background(), s.DB(), SQLite))
	assert.Equal(t, 1, countRows(t, s, "schema_version"))
}

func TestCartRepository_RoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	cart := saveNewCart(t, s, "user-1")

	got, err := s.Carts().FindActiveByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, cart.ID(), got.ID())
	assert.Equal(t, 1, got.Version())
	require.Len(t, got.Items(), 1)
	item := got.Items()[0]
	assert.Equal(t, "LAP-14", item.SKU)
	assert.Equal(t, 2, item.Quantity)
	assert.True(t, item.UnitPrice.Equal(decimal.RequireFromString("850")), "price %s", item.UnitPrice)
	assert.True(t, got.Subtotal().Equal(decimal.RequireFromString("1700")))

	none, err := s.Carts().FindActiveByUser(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = s.Carts().FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCartRepository_StaleVersionConflicts(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	cart := saveNewCart(t, s, "user-1")

	first, err := s.Carts().FindByID(ctx, cart.ID())
	require.NoError(t, err)
	second, err := s.Carts().FindByID(ctx, cart.ID())
	require.NoError(t, err)

	require.NoError(t, first.UpdateItemQuantity(first.Items()[0].ID, 5))
	require.NoError(t, s.UnitOfWork().Run(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.Carts().Save(ctx, first)
	}))

	require.NoError(t, second.Clear())
	err = s.UnitOfWork().Run(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.Carts().Save(ctx, second)
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := s.Carts().FindByID(ctx, cart.ID())
	require.NoError(t, err)
	assert.Equal(t, 5, got.Items()[0].Quantity)
	assert.Equal(t, 2, got.Version())
}

func TestCartRepository_OneActiveCartPerUser(t *testing.T) {
	s := newSQLiteStore(t)
	saveNewCart(t, s, "user-1")

	dup, err := domain.NewCart("user-1")
	require.NoError(t, err)
	err = s.UnitOfWork().Run(context.Background(), func(ctx context.Context, tx port.Tx) error {
		return tx.Carts().Save(ctx, dup)
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestCartRepository_ConvertedCartFreesSlot(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	cart := saveNewCart(t, s, "user-1")

	require.NoError(t, s.UnitOfWork().Run(ctx, func(ctx context.Context, tx port.Tx) error {
		c, err := tx.Carts().FindByID(ctx, cart.ID())
		if err != nil {
			return err
		}
		if err := c.Convert("order-1"); err != nil {
			return err
		}
		return tx.Carts().Save(ctx, c)
	}))

	saveNewCart(t, s, "user-1")
}

func TestCartRepository_ListStaleActive(t *testing.T) {
	s := newSQLiteStore(t)
	old := saveNewCart(t, s, "user-old")
	saveNewCart(t, s, "user-new")

	_, err := s.DB().Exec("UPDATE cart SET updated_at = ? WHERE id = ?",
		time.Now().UTC().Add(-48*time.Hour), old.ID())
	require.NoError(t, err)

	ids, err := s.Carts().ListStaleActive(context.Background(), time.Now().UTC().Add(-24*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID()}, ids)
}

func TestOrderRepository_RoundTripAndHistory(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	first := newOrderFrom(t, saveNewCart(t, s, "user-1"), "ORD-2026-10-000001")
	require.NoError(t, s.UnitOfWork().Run(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.Orders().Save(ctx, first)
	}))

	// The first cart is still ACTIVE, so the second order needs its own user slot.
	_, err := s.DB().Exec("UPDATE cart SET status = 'CONVERTED'")
	require.NoError(t, err)
	second := newOrderFrom(t, saveNewCart(t, s, "user-1"), "ORD-2026-10-000002")
	require.NoError(t, s.UnitOfWork().Run(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.Orders().Save(ctx, second)
	}))

	got, err := s.Orders().FindByID(ctx, first.ID())
	require.NoError(t, err)
	assert.Equal(t, first.Number(), got.Number())
	assert.Equal(t, domain.OrderStatusPending, got.Status())
	assert.Equal(t, testAddress, got.ShippingAddress())
	assert.True(t, got.TotalAmount().Equal(decimal.RequireFromString("1700")))
	require.Len(t, got.Items(), 1)
	assert.Equal(t, first.Items()[0].ID(), got.Items()[0].ID())

	exists, err := s.Orders().ExistsForCart(ctx, first.CartID())
	require.NoError(t, err)
	assert.True(t, exists)

	history, err := s.Orders().ListByUser(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID(), history[0].ID())

	page, err := s.Orders().ListByUser(ctx, "user-1", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, first.ID(), page[0].ID())
}

func TestOrderRepository_StatusUpdate(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	order := newOrderFrom(t, saveNewCart(t, s, "user-1"), "ORD-2026-10-000001")
	require.NoError(t, s.UnitOfWork().Run(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.Orders().Save(ctx, order)
	}))

	for _, step := range []func(*domain.Order) error{
		(*domain.Order).Process, (*domain.Order).Ship, (*domain.Order).Deliver,
	} {
		require.NoError(t, s.UnitOfWork().Run(ctx, func(ctx context.Context, tx port.Tx) error {
			o, err := tx.Orders().FindByID(ctx, order.ID())
			if err != nil {
				return err
			}
			if err := step(o); err != nil {
				return err
			}
			return tx.Orders().Save(ctx, o)
		}))
	}

	got, err := s.Orders().FindByID(ctx, order.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, got.Status())
	assert.NotNil(t, got.DeliveredAt())
	assert.Equal(t, 4, got.Version())
}

func TestOrderRepository_DuplicateNumberConflicts(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	cart := saveNewCart(t, s, "user-1")
	require.NoError(t, s.UnitOfWork().Run(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.Orders().Save(ctx, newOrderFrom(t, cart, "ORD-2026-10-000001"))
	}))

	err := s.UnitOfWork().Run(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.Orders().Save(ctx, newOrderFrom(t, cart, "ORD-2026-10-000002"))
	})
	assert.ErrorIs(t, err, domain.ErrConflict, "one order per cart")
}

func TestUnitOfWork_CommitWritesOutboxInOrder(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	cart := saveNewCart(t, s, "user-1")
	order := newOrderFrom(t, cart, "ORD-2026-10-000001")

	require.NoError(t, s.UnitOfWork().Run(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.Orders().Save(ctx, order)
	}))

	entries, err := s.Outbox().FetchPending(ctx, time.Now(), 10)
	require.NoError(t, err)

	var types []domain.EventType
	for _, e := range entries {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventCartItemAdded, domain.EventOrderPlaced, domain.EventInventoryReservationRequested,
	}, types)

	env, err := domain.DecodeEnvelope(entries[1].Payload)
	require.NoError(t, err)
	var placed domain.OrderPlaced
	require.NoError(t, env.DecodePayload(&placed))
	assert.Equal(t, order.ID(), placed.OrderID)
	assert.Equal(t, order.ID(), entries[1].AggregateID)
	assert.Equal(t, domain.AggregateOrder, entries[1].AggregateType)
}

func TestUnitOfWork_RollbackLeavesNothingBehind(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	cart := saveNewCart(t, s, "user-1")
	outboxBefore := countRows(t, s, "outbox")
	boom := errors.New("boom")

	err := s.UnitOfWork().Run(ctx, func(ctx context.Context, tx port.Tx) error {
		order := newOrderFrom(t, cart, "ORD-2026-10-000001")
		if err := tx.Orders().Save(ctx, order); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 0, countRows(t, s, "orders"))
	assert.Equal(t, 0, countRows(t, s, "order_item"))
	assert.Equal(t, outboxBefore, countRows(t, s, "outbox"))
}

func TestUnitOfWork_PanicRollsBack(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	cart, err := domain.NewCart("user-1")
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = s.UnitOfWork().Run(ctx, func(ctx context.Context, tx port.Tx) error {
			if err := tx.Carts().Save(ctx, cart); err != nil {
				return err
			}
			panic("handler bug")
		})
	})

	assert.Equal(t, 0, countRows(t, s, "cart"))
	// The connection is usable again after the rollback.
	saveNewCart(t, s, "user-1")
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	saveNewCart(t, s, "user-1")
	saveNewCart(t, s, "user-2")
	outbox := s.Outbox()
	now := time.Now().UTC()

	entries, err := outbox.FetchPending(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Less(t, entries[0].Seq, entries[1].Seq)

	next := now.Add(time.Minute)
	require.NoError(t, outbox.MarkRetry(ctx, entries[0].ID, next, "broker down"))
	require.NoError(t, outbox.MarkPublished(ctx, entries[1].ID, now))

	pending, err := outbox.FetchPending(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "an aggregate waiting for its retry is not fetched")

	pending, err = outbox.FetchPending(ctx, next, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "broker down", pending[0].LastError)
	assert.True(t, pending[0].Due(next))

	n, err := outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOutboxRepository_WaitingHeadDoesNotStarveBatch(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	saveNewCart(t, s, "user-1")
	saveNewCart(t, s, "user-2")
	third := saveNewCart(t, s, "user-3")
	outbox := s.Outbox()
	now := time.Now().UTC()

	entries, err := outbox.FetchPending(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries[:2] {
		require.NoError(t, outbox.MarkRetry(ctx, e.ID, now.Add(time.Hour), "exchange missing"))
	}

	batch, err := outbox.FetchPending(ctx, now, 2)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, third.ID(), batch[0].AggregateID)
}

func TestSQLSequence_PerPeriod(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	seq := s.Sequence()

	for want := int64(1); want <= 3; want++ {
		got, err := seq.Next(ctx, "2026-10")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := seq.Next(ctx, "2026-11")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestCatalogRepository(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	catalog := s.Catalog()

	require.NoError(t, catalog.UpsertProduct(ctx, domain.Product{
		ID: "prod-laptop", Name: "Laptop 14", SKU: "LAP-14",
		BasePrice: decimal.RequireFromString("850.00"), Currency: "USD",
		Variants: []domain.ProductVariant{
			{ID: "var-32gb", Name: "32GB", SKU: "LAP-14-32", Price: decimal.RequireFromString("1100.00")},
		},
	}))

	p, err := catalog.GetProductByID(ctx, "prod-laptop")
	require.NoError(t, err)
	assert.Equal(t, "LAP-14", p.SKU)
	require.Len(t, p.Variants, 1)
	assert.True(t, p.Variants[0].Price.Equal(decimal.RequireFromString("1100")))

	_, err = catalog.GetProductByID(ctx, "prod-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPersistErr_Classification(t *testing.T) {
	deadlock := persistErr("update cart", &mysql.MySQLError{Number: mysqlDeadlockDetected, Message: "Deadlock found"})
	assert.ErrorIs(t, deadlock, domain.ErrConflict)
	assert.NotErrorIs(t, deadlock, domain.ErrPersistence)

	other := persistErr("update cart", errors.New("connection reset"))
	assert.ErrorIs(t, other, domain.ErrPersistence)
	assert.NotErrorIs(t, other, domain.ErrConflict)

	assert.True(t, MySQL.isUniqueViolation(&mysql.MySQLError{Number: mysqlDuplicateEntry}))
	assert.False(t, MySQL.isUniqueViolation(errors.New("UNIQUE constraint failed: cart.active_user_id")))
	assert.True(t, SQLite.isUniqueViolation(errors.New("UNIQUE constraint failed: cart.active_user_id")))
}
