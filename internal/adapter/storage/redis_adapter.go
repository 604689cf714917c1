package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/order-core/internal/core/domain"
)

const (
	stockKeyPrefix       = "stock:"
	reservationKeyPrefix = "reservation:"
	pendingReservations  = "reservations:pending"
	processedKeyPrefix   = "event:processed:"
	sequenceKeyPrefix    = "order:seq:"
	idempotencyKeyTTL    = 24 * time.Hour
)

// KEYS: reservation hash, pending zset, then one stock key per line.
// ARGV: order id, expiry score, then sku and quantity for each line.
var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 1
end

local lines = #KEYS - 2
for i = 1, lines do
	local quantity = tonumber(ARGV[2 + 2 * i])
	local current = redis.call('GET', KEYS[2 + i])
	if not current or tonumber(current) < quantity then
		return 0
	end
end

for i = 1, lines do
	local quantity = tonumber(ARGV[2 + 2 * i])
	redis.call('DECRBY', KEYS[2 + i], quantity)
	redis.call('HINCRBY', KEYS[1], ARGV[1 + 2 * i], quantity)
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// KEYS: reservation hash, pending zset. ARGV: order id, stock key prefix.
var releaseScript = redis.NewScript(`
local held = redis.call('HGETALL', KEYS[1])
for i = 1, #held, 2 do
	redis.call('INCRBY', ARGV[2] .. held[i], held[i + 1])
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return #held / 2
`)

// RedisAdapter holds stock counters and reservations, remembers processed
// event ids and issues order sequence numbers.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) Reserve(ctx context.Context, orderID string, lines []domain.ReservationLine, ttl time.Duration) (bool, error) {
	if len(lines) == 0 {
		return false, domain.NewValidationError("lines", "at least one line required")
	}

	perSKU := make(map[string]int, len(lines))
	for _, l := range lines {
		perSKU[l.SKU] += l.Quantity
	}
	skus := make([]string, 0, len(perSKU))
	for sku := range perSKU {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	keys := []string{reservationKeyPrefix + orderID, pendingReservations}
	args := []any{orderID, time.Now().Add(ttl).UnixMilli()}
	for _, sku := range skus {
		keys = append(keys, stockKeyPrefix+sku)
		args = append(args, sku, perSKU[sku])
	}

	result, err := reserveScript.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("reserve stock for order %s: %w", orderID, err)
	}
	return result == 1, nil
}

func (r *RedisAdapter) Release(ctx context.Context, orderID string) error {
	keys := []string{reservationKeyPrefix + orderID, pendingReservations}
	if err := releaseScript.Run(ctx, r.client, keys, orderID, stockKeyPrefix).Err(); err != nil {
		return fmt.Errorf("release reservation for order %s: %w", orderID, err)
	}
	return nil
}

func (r *RedisAdapter) Confirm(ctx context.Context, orderID string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, reservationKeyPrefix+orderID)
		p.ZRem(ctx, pendingReservations, orderID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("confirm reservation for order %s: %w", orderID, err)
	}
	return nil
}

func (r *RedisAdapter) Expired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, pendingReservations, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	return ids, nil
}

// Held returns the quantities reserved for an order keyed by SKU.
func (r *RedisAdapter) Held(ctx context.Context, orderID string) (map[string]int, error) {
	raw, err := r.client.HGetAll(ctx, reservationKeyPrefix+orderID).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(raw))
	for sku, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("reservation %s: bad quantity for %s: %w", orderID, sku, err)
		}
		out[sku] = n
	}
	return out, nil
}

func (r *RedisAdapter) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := r.client.Exists(ctx, processedKeyPrefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisAdapter) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, processedKeyPrefix+eventID, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) Next(ctx context.Context, period string) (int64, error) {
	v, err := r.client.Incr(ctx, sequenceKeyPrefix+period).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: next order sequence: %w", domain.ErrPersistence, err)
	}
	return v, nil
}

func (r *RedisAdapter) SetStock(ctx context.Context, sku string, quantity int) error {
	return r.client.Set(ctx, stockKeyPrefix+sku, quantity, 0).Err()
}

// Stock returns the available quantity, zero for an unknown SKU.
func (r *RedisAdapter) Stock(ctx context.Context, sku string) (int, error) {
	n, err := r.client.Get(ctx, stockKeyPrefix+sku).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
