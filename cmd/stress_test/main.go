package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-core/internal/adapter/broker"
	"github.com/rl1809/order-core/internal/adapter/storage"
	"github.com/rl1809/order-core/internal/core/domain"
	"github.com/rl1809/order-core/internal/core/service"
)

const (
	defaultDSN     = "root:root@tcp(localhost:3306)/ordercore?parseTime=true&loc=UTC"
	defaultRedis   = "localhost:6379"
	productID      = "stress-widget"
	sku            = "STRESS-WIDGET-1"
	initialStock   = 20
	cartRequests   = 50
	totalBuyers    = 50
	requestTimeout = 10 * time.Second
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	ctx := context.Background()
	runID := time.Now().UnixNano()

	// Initialize MySQL
	db, err := storage.Open(ctx, storage.MySQL, getenv("MYSQL_DSN", defaultDSN))
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(50)
	if err := storage.Migrate(ctx, db, storage.MySQL); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: getenv("REDIS_ADDR", defaultRedis), PoolSize: 100})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	store := storage.NewStore(db, storage.MySQL)
	cache := storage.NewRedisAdapter(rdb)
	if err := store.Catalog().UpsertProduct(ctx, domain.Product{
		ID: productID, Name: "Stress Widget", SKU: sku,
		BasePrice: decimal.RequireFromString("850.00"), Currency: "USD",
	}); err != nil {
		log.Fatalf("failed to seed product: %v", err)
	}
	if err := cache.SetStock(ctx, sku, initialStock); err != nil {
		log.Fatalf("failed to set stock: %v", err)
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	carts := service.NewCartService(store.UnitOfWork(), store.Carts(), store.Catalog())
	orders := service.NewOrderService(store.UnitOfWork(), store.Orders(), store.Catalog(),
		service.NewOrderNumberGenerator(cache))
	saga := service.NewOrderSaga(store.UnitOfWork(), store.Orders(), cache, cache, orders, 30*time.Minute, quiet)
	outbox := service.NewOutboxPublisher(store.Outbox(), broker.LocalPublisher{HandleFunc: saga.Handle},
		service.OutboxPublisherConfig{BatchSize: 1000, PublishTries: 1}, quiet)

	passed := true
	passed = concurrentAddToCart(ctx, carts, fmt.Sprintf("stress-cart-%d", runID)) && passed
	passed = concurrentCheckout(ctx, carts, orders, outbox, cache, runID) && passed

	if !passed {
		os.Exit(1)
	}
}

// concurrentAddToCart hammers one user's cart. Every request must land in the
// same single ACTIVE cart.
func concurrentAddToCart(ctx context.Context, carts *service.CartService, user string) bool {
	var successCount, failCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < cartRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
			defer cancel()

			_, err := carts.AddToCart(reqCtx, service.AddToCartInput{UserID: user, ProductID: productID, Quantity: 1})
			if err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
				log.Printf("add to cart: %v", err)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	view, err := carts.GetCart(ctx, user)
	if err != nil {
		log.Printf("get cart: %v", err)
		return false
	}

	fmt.Println("========== ADD TO CART (one user) ==========")
	fmt.Printf("Requests:         %d\n", cartRequests)
	fmt.Printf("Successful:       %d\n", successCount.Load())
	fmt.Printf("Failed:           %d\n", failCount.Load())
	fmt.Printf("Cart lines:       %d\n", len(view.Items))
	fmt.Printf("Cart quantity:    %d\n", view.ItemCount)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("============================================")

	if len(view.Items) == 1 && view.ItemCount == int(successCount.Load()) {
		fmt.Println("PASS: every successful add landed in the single active cart")
		return true
	}
	fmt.Printf("FAIL: expected 1 line with quantity %d\n", successCount.Load())
	return false
}

// concurrentCheckout places one order per buyer at the same time, then relays
// the outbox so the saga reserves stock. Exactly initialStock orders survive.
func concurrentCheckout(
	ctx context.Context,
	carts *service.CartService,
	orders *service.OrderService,
	outbox *service.OutboxPublisher,
	cache *storage.RedisAdapter,
	runID int64,
) bool {
	buyers := make([]string, totalBuyers)
	for i := range buyers {
		buyers[i] = fmt.Sprintf("stress-buyer-%d-%d", runID, i)
		if _, err := carts.AddToCart(ctx, service.AddToCartInput{UserID: buyers[i], ProductID: productID, Quantity: 1}); err != nil {
			log.Printf("seed cart: %v", err)
			return false
		}
	}

	shipTo := domain.Address{Line1: "1 Load Test Ave", City: "Austin", PostalCode: "78701", Country: "US"}
	placed := make([]service.OrderView, totalBuyers)
	var failCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i, user := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
			defer cancel()

			view, err := orders.PlaceOrder(reqCtx, service.PlaceOrderInput{UserID: user, ShippingAddress: shipTo})
			if err != nil {
				failCount.Add(1)
				log.Printf("place order: %v", err)
				return
			}
			placed[i] = view
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	// Placement events first, then the compensations they trigger.
	for i := 0; i < 2; i++ {
		if _, err := outbox.Drain(ctx); err != nil {
			log.Printf("drain outbox: %v", err)
			return false
		}
	}

	numbers := make(map[domain.OrderNumber]bool)
	var pending, cancelled int
	for _, v := range placed {
		if v.ID == "" {
			continue
		}
		numbers[v.OrderNumber] = true
		got, err := orders.GetOrderByID(ctx, v.UserID, v.ID)
		if err != nil {
			log.Printf("get order: %v", err)
			return false
		}
		switch got.Status {
		case domain.OrderStatusPending:
			pending++
		case domain.OrderStatusCancelled:
			cancelled++
		}
	}
	finalStock, err := cache.Stock(ctx, sku)
	if err != nil {
		log.Printf("read stock: %v", err)
		return false
	}

	fmt.Println("========== CHECKOUT (many buyers) ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Buyers:           %d\n", totalBuyers)
	fmt.Printf("Place failures:   %d\n", failCount.Load())
	fmt.Printf("Unique numbers:   %d\n", len(numbers))
	fmt.Printf("Reserved:         %d\n", pending)
	fmt.Printf("Compensated:      %d\n", cancelled)
	fmt.Printf("Final Stock:      %d\n", finalStock)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("============================================")

	ok := true
	if failCount.Load() != 0 || len(numbers) != totalBuyers {
		fmt.Printf("FAIL: expected %d orders with unique numbers\n", totalBuyers)
		ok = false
	}
	if pending != initialStock || cancelled != totalBuyers-initialStock {
		fmt.Printf("FAIL: expected %d reserved/%d compensated, got %d/%d\n",
			initialStock, totalBuyers-initialStock, pending, cancelled)
		ok = false
	}
	if finalStock != 0 {
		fmt.Printf("FAIL: expected stock 0, got %d\n", finalStock)
		ok = false
	}
	if ok {
		fmt.Printf("PASS: exactly %d orders reserved stock, numbers unique, stock depleted\n", initialStock)
	}
	return ok
}
