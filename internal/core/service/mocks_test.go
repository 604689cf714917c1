package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/order-core/internal/core/domain"
	"github.com/rl1809/order-core/internal/port"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type cartRecord struct {
	id        string
	userID    string
	status    domain.CartStatus
	items     []domain.CartItem
	createdAt time.Time
	updatedAt time.Time
	version   int
}

func cartRecordOf(c *domain.Cart) cartRecord {
	return cartRecord{
		id: c.ID(), userID: c.UserID(), status: c.Status(), items: c.Items(),
		createdAt: c.CreatedAt(), updatedAt: c.UpdatedAt(), version: c.Version(),
	}
}

func (r cartRecord) restore() *domain.Cart {
	items := make([]domain.CartItem, len(r.items))
	copy(items, r.items)
	return domain.RestoreCart(r.id, r.userID, r.status, items, r.createdAt, r.updatedAt, r.version)
}

func orderSnapshotOf(o *domain.Order) domain.OrderSnapshot {
	return domain.OrderSnapshot{
		ID: o.ID(), Number: o.Number(), UserID: o.UserID(), CartID: o.CartID(), Status: o.Status(),
		Items: o.Items(), ShippingAddress: o.ShippingAddress(), BillingAddress: o.BillingAddress(),
		CancellationReason: o.CancellationReason(), DeliveredAt: o.DeliveredAt(),
		CreatedAt: o.CreatedAt(), UpdatedAt: o.UpdatedAt(), Version: o.Version(),
	}
}

// memStore is an in-memory unit of work. Run holds the lock for the whole
// transaction and only publishes staged state and events when fn succeeds.
type memStore struct {
	mu     sync.Mutex
	carts  map[string]cartRecord
	orders map[string]domain.OrderSnapshot
	outbox []domain.Event
	runs   int

	// saveConflicts makes the next N cart saves fail with ConflictError.
	saveConflicts int
}

func newMemStore() *memStore {
	return &memStore{
		carts:  make(map[string]cartRecord),
		orders: make(map[string]domain.OrderSnapshot),
	}
}

func (s *memStore) Run(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++

	tx := &memTx{store: s, carts: make(map[string]cartRecord), orders: make(map[string]domain.OrderSnapshot)}
	for k, v := range s.carts {
		tx.carts[k] = v
	}
	for k, v := range s.orders {
		tx.orders[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, a := range tx.tracked {
		s.outbox = append(s.outbox, a.PullEvents()...)
	}
	s.carts, s.orders = tx.carts, tx.orders
	return nil
}

func (s *memStore) events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Event, len(s.outbox))
	copy(out, s.outbox)
	return out
}

func (s *memStore) eventTypes() []domain.EventType {
	var out []domain.EventType
	for _, e := range s.events() {
		out = append(out, e.Type)
	}
	return out
}

func (s *memStore) cart(id string) cartRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.carts[id]
}

func (s *memStore) order(id string) domain.OrderSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *memStore) putCart(c *domain.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.SetVersion(1)
	s.carts[c.ID()] = cartRecordOf(c)
}

func (s *memStore) putOrder(o *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.SetVersion(1)
	s.orders[o.ID()] = orderSnapshotOf(o)
}

// envelope serializes the n-th recorded event the way the outbox would.
func (s *memStore) envelope(n int) domain.Envelope {
	body, err := s.events()[n].Marshal()
	if err != nil {
		panic(err)
	}
	env, err := domain.DecodeEnvelope(body)
	if err != nil {
		panic(err)
	}
	return env
}

// Carts and Orders give read access outside a transaction.
func (s *memStore) Carts() port.CartRepository {
	return committedCarts{s}
}

func (s *memStore) Orders() port.OrderRepository {
	return committedOrders{s}
}

type memTx struct {
	store   *memStore
	carts   map[string]cartRecord
	orders  map[string]domain.OrderSnapshot
	tracked []domain.Aggregate
}

func (tx *memTx) Carts() port.CartRepository   { return txCarts{tx} }
func (tx *memTx) Orders() port.OrderRepository { return txOrders{tx} }

type txCarts struct{ tx *memTx }

func (r txCarts) FindActiveByUser(_ context.Context, userID string) (*domain.Cart, error) {
	return findActive(r.tx.carts, userID), nil
}

func (r txCarts) FindByID(_ context.Context, id string) (*domain.Cart, error) {
	rec, ok := r.tx.carts[id]
	if !ok {
		return nil, domain.NewNotFoundError("cart", id)
	}
	return rec.restore(), nil
}

func (r txCarts) Save(_ context.Context, c *domain.Cart) error {
	if r.tx.store.saveConflicts > 0 {
		r.tx.store.saveConflicts--
		return domain.NewConflictError("injected")
	}
	cur, exists := r.tx.carts[c.ID()]
	if !exists && c.Version() != 0 || exists && cur.version != c.Version() {
		return domain.NewConflictError("stale cart version")
	}
	if c.Status() == domain.CartStatusActive {
		if other := findActive(r.tx.carts, c.UserID()); other != nil && other.ID() != c.ID() {
			return domain.NewConflictError("user already has an active cart")
		}
	}
	c.SetVersion(c.Version() + 1)
	r.tx.carts[c.ID()] = cartRecordOf(c)
	r.tx.tracked = append(r.tx.tracked, c)
	return nil
}

func (r txCarts) ListStaleActive(_ context.Context, before time.Time, limit int) ([]string, error) {
	return listStale(r.tx.carts, before, limit), nil
}

type txOrders struct{ tx *memTx }

func (r txOrders) FindByID(_ context.Context, id string) (*domain.Order, error) {
	snap, ok := r.tx.orders[id]
	if !ok {
		return nil, domain.NewNotFoundError("order", id)
	}
	return domain.RestoreOrder(snap), nil
}

func (r txOrders) Save(_ context.Context, o *domain.Order) error {
	cur, exists := r.tx.orders[o.ID()]
	if !exists && o.Version() != 0 || exists && cur.Version != o.Version() {
		return domain.NewConflictError("stale order version")
	}
	o.SetVersion(o.Version() + 1)
	r.tx.orders[o.ID()] = orderSnapshotOf(o)
	r.tx.tracked = append(r.tx.tracked, o)
	return nil
}

func (r txOrders) ExistsForCart(_ context.Context, cartID string) (bool, error) {
	for _, o := range r.tx.orders {
		if o.CartID == cartID {
			return true, nil
		}
	}
	return false, nil
}

func (r txOrders) ListByUser(_ context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	return listOrders(r.tx.orders, userID, limit, offset), nil
}

type committedCarts struct{ s *memStore }

func (r committedCarts) FindActiveByUser(_ context.Context, userID string) (*domain.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return findActive(r.s.carts, userID), nil
}

func (r committedCarts) FindByID(_ context.Context, id string) (*domain.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.carts[id]
	if !ok {
		return nil, domain.NewNotFoundError("cart", id)
	}
	return rec.restore(), nil
}

func (r committedCarts) Save(context.Context, *domain.Cart) error {
	return errors.New("save outside a unit of work")
}

func (r committedCarts) ListStaleActive(_ context.Context, before time.Time, limit int) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return listStale(r.s.carts, before, limit), nil
}

type committedOrders struct{ s *memStore }

func (r committedOrders) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	snap, ok := r.s.orders[id]
	if !ok {
		return nil, domain.NewNotFoundError("order", id)
	}
	return domain.RestoreOrder(snap), nil
}

func (r committedOrders) Save(context.Context, *domain.Order) error {
	return errors.New("save outside a unit of work")
}

func (r committedOrders) ExistsForCart(_ context.Context, cartID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.orders {
		if o.CartID == cartID {
			return true, nil
		}
	}
	return false, nil
}

func (r committedOrders) ListByUser(_ context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return listOrders(r.s.orders, userID, limit, offset), nil
}

func findActive(carts map[string]cartRecord, userID string) *domain.Cart {
	for _, rec := range carts {
		if rec.userID == userID && rec.status == domain.CartStatusActive {
			return rec.restore()
		}
	}
	return nil
}

func listStale(carts map[string]cartRecord, before time.Time, limit int) []string {
	var ids []string
	for id, rec := range carts {
		if rec.status == domain.CartStatusActive && rec.updatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

func listOrders(orders map[string]domain.OrderSnapshot, userID string, limit, offset int) []*domain.Order {
	var all []domain.OrderSnapshot
	for _, o := range orders {
		if o.UserID == userID {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Number > all[j].Number })
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]*domain.Order, 0, len(all))
	for _, o := range all {
		out = append(out, domain.RestoreOrder(o))
	}
	return out
}

// mockCatalog serves a fixed product list.
type mockCatalog struct {
	products map[string]domain.Product
}

func newMockCatalog(products ...domain.Product) *mockCatalog {
	m := &mockCatalog{products: make(map[string]domain.Product)}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *mockCatalog) GetProductByID(_ context.Context, id string) (domain.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return domain.Product{}, domain.NewNotFoundError("product", id)
	}
	return p, nil
}

var laptopProduct = domain.Product{
	ID:        "prod-laptop",
	Name:      "Business Laptop",
	SKU:       "LAP-14",
	BasePrice: decimal.RequireFromString("850.00"),
	Currency:  "USD",
	Variants: []domain.ProductVariant{
		{ID: "var-32gb", Name: "32GB", SKU: "LAP-14-32", Price: decimal.RequireFromString("1100.00")},
	},
}

var dockProduct = domain.Product{
	ID:        "prod-dock",
	Name:      "USB-C Dock",
	SKU:       "DOCK-1",
	BasePrice: decimal.RequireFromString("120.00"),
	Currency:  "USD",
}

// mockSequence hands out 1, 2, 3... per period.
type mockSequence struct {
	mu     sync.Mutex
	values map[string]int64
	err    error
}

func newMockSequence() *mockSequence {
	return &mockSequence{values: make(map[string]int64)}
}

func (m *mockSequence) Next(_ context.Context, period string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.values[period]++
	return m.values[period], nil
}

type mockReservation struct {
	lines     []domain.ReservationLine
	expiresAt time.Time
}

// mockReserver keeps stock per SKU like the Redis reservation scripts.
type mockReserver struct {
	mu           sync.Mutex
	stock        map[string]int
	reservations map[string]mockReservation
	confirmed    map[string]bool
	reserveErr   error
	// blockReserve makes Reserve wait for ctx to end.
	blockReserve bool
}

func newMockReserver(stock map[string]int) *mockReserver {
	return &mockReserver{
		stock:        stock,
		reservations: make(map[string]mockReservation),
		confirmed:    make(map[string]bool),
	}
}

func (m *mockReserver) Reserve(ctx context.Context, orderID string, lines []domain.ReservationLine, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	block := m.blockReserve
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserveErr != nil {
		return false, m.reserveErr
	}
	if _, ok := m.reservations[orderID]; ok {
		return true, nil
	}
	for _, l := range lines {
		if m.stock[l.SKU] < l.Quantity {
			return false, nil
		}
	}
	for _, l := range lines {
		m.stock[l.SKU] -= l.Quantity
	}
	m.reservations[orderID] = mockReservation{lines: lines, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (m *mockReserver) Release(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[orderID]
	if !ok {
		return nil
	}
	for _, l := range r.lines {
		m.stock[l.SKU] += l.Quantity
	}
	delete(m.reservations, orderID)
	return nil
}

func (m *mockReserver) Confirm(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reservations, orderID)
	m.confirmed[orderID] = true
	return nil
}

func (m *mockReserver) Expired(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, r := range m.reservations {
		if !now.Before(r.expiresAt) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *mockReserver) stockOf(sku string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[sku]
}

func (m *mockReserver) expireAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.reservations {
		r.expiresAt = time.Now().Add(-time.Second)
		m.reservations[id] = r
	}
}

type mockDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMockDedupe() *mockDedupe {
	return &mockDedupe{seen: make(map[string]bool)}
}

// Seen and MarkProcessed fail on a done ctx, as a Redis round trip would.
func (m *mockDedupe) Seen(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[eventID], nil
}

func (m *mockDedupe) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[eventID] {
		return false, nil
	}
	m.seen[eventID] = true
	return true, nil
}

// mockOutbox stores entries in sequence order.
type mockOutbox struct {
	mu      sync.Mutex
	entries []domain.OutboxEntry
}

func (m *mockOutbox) add(events ...domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		entry, err := domain.NewOutboxEntry(e)
		if err != nil {
			panic(err)
		}
		entry.Seq = int64(len(m.entries) + 1)
		entry.NextAttemptAt = time.Time{}
		m.entries = append(m.entries, entry)
	}
}

func (m *mockOutbox) get(id string) domain.OutboxEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			return e
		}
	}
	return domain.OutboxEntry{}
}

func (m *mockOutbox) FetchPending(_ context.Context, now time.Time, limit int) ([]domain.OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	waiting := make(map[string]bool)
	for _, e := range m.entries {
		if e.Status == domain.OutboxStatusPending && e.NextAttemptAt.After(now) {
			waiting[e.AggregateID] = true
		}
	}
	var out []domain.OutboxEntry
	for _, e := range m.entries {
		if len(out) == limit {
			break
		}
		if e.Status == domain.OutboxStatusPending && !waiting[e.AggregateID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockOutbox) update(id string, fn func(*domain.OutboxEntry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].ID == id {
			fn(&m.entries[i])
		}
	}
}

func (m *mockOutbox) MarkPublished(_ context.Context, id string, at time.Time) error {
	m.update(id, func(e *domain.OutboxEntry) {
		e.Status = domain.OutboxStatusPublished
		e.PublishedAt = &at
	})
	return nil
}

func (m *mockOutbox) MarkRetry(_ context.Context, id string, next time.Time, lastErr string) error {
	m.update(id, func(e *domain.OutboxEntry) {
		e.Attempts++
		e.NextAttemptAt = next
		e.LastError = lastErr
	})
	return nil
}

func (m *mockOutbox) CountPending(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Status == domain.OutboxStatusPending {
			n++
		}
	}
	return n, nil
}

// mockPublisher fails every publish for the event types in failTypes.
type mockPublisher struct {
	mu        sync.Mutex
	published []domain.OutboxEntry
	calls     int
	failTypes map[domain.EventType]bool
}

func (m *mockPublisher) Publish(_ context.Context, e domain.OutboxEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failTypes[e.EventType] {
		return errors.New("broker unavailable")
	}
	m.published = append(m.published, e)
	return nil
}

func (m *mockPublisher) publishedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, e := range m.published {
		ids = append(ids, e.ID)
	}
	return ids
}
