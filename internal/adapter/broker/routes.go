package broker

import (
	"sort"

	"github.com/rl1809/order-core/internal/core/domain"
)

const (
	CartExchange      = "cart.events"
	OrderExchange     = "order.events"
	InventoryExchange = "inventory.events"

	// SagaQueue receives every event the order saga reacts to.
	SagaQueue = "order.saga.q"
)

// Route says where an event type is published. Queue is the queue bound to
// the routing key for in-process consumers, empty when nothing here consumes it.
// On Kafka the routing key doubles as the topic name.
type Route struct {
	Exchange   string
	RoutingKey string
	Queue      string
}

type Routes map[domain.EventType]Route

func DefaultRoutes() Routes {
	return Routes{
		domain.EventCartItemAdded:   {Exchange: CartExchange, RoutingKey: string(domain.EventCartItemAdded)},
		domain.EventCartItemUpdated: {Exchange: CartExchange, RoutingKey: string(domain.EventCartItemUpdated)},
		domain.EventCartItemRemoved: {Exchange: CartExchange, RoutingKey: string(domain.EventCartItemRemoved)},
		domain.EventCartCleared:     {Exchange: CartExchange, RoutingKey: string(domain.EventCartCleared)},
		domain.EventCartConverted:   {Exchange: CartExchange, RoutingKey: string(domain.EventCartConverted)},
		domain.EventCartAbandoned:   {Exchange: CartExchange, RoutingKey: string(domain.EventCartAbandoned)},

		domain.EventOrderPlaced: {Exchange: OrderExchange, RoutingKey: string(domain.EventOrderPlaced), Queue: SagaQueue},
		domain.EventInventoryReservationRequested: {
			Exchange: InventoryExchange, RoutingKey: string(domain.EventInventoryReservationRequested), Queue: SagaQueue,
		},
		domain.EventOrderProcessing: {Exchange: OrderExchange, RoutingKey: string(domain.EventOrderProcessing), Queue: SagaQueue},
		domain.EventOrderShipped:    {Exchange: OrderExchange, RoutingKey: string(domain.EventOrderShipped)},
		domain.EventOrderDelivered:  {Exchange: OrderExchange, RoutingKey: string(domain.EventOrderDelivered)},
		domain.EventOrderCancelled:  {Exchange: OrderExchange, RoutingKey: string(domain.EventOrderCancelled), Queue: SagaQueue},
	}
}

// WithOverrides returns a copy of r with the given routes replaced. Empty
// fields in an override keep the default value.
func (r Routes) WithOverrides(overrides map[string]Route) Routes {
	out := make(Routes, len(r)+len(overrides))
	for k, v := range r {
		out[k] = v
	}
	for k, o := range overrides {
		t := domain.EventType(k)
		cur := out[t]
		if o.Exchange != "" {
			cur.Exchange = o.Exchange
		}
		if o.RoutingKey != "" {
			cur.RoutingKey = o.RoutingKey
		}
		if o.Queue != "" {
			cur.Queue = o.Queue
		}
		if cur.Exchange == "" {
			cur.Exchange = OrderExchange
		}
		if cur.RoutingKey == "" {
			cur.RoutingKey = k
		}
		out[t] = cur
	}
	return out
}

// Lookup falls back to the order exchange keyed by the event type.
func (r Routes) Lookup(t domain.EventType) Route {
	if route, ok := r[t]; ok {
		return route
	}
	return Route{Exchange: OrderExchange, RoutingKey: string(t)}
}

func (r Routes) Exchanges() []string {
	seen := make(map[string]bool)
	var out []string
	for _, route := range r {
		if !seen[route.Exchange] {
			seen[route.Exchange] = true
			out = append(out, route.Exchange)
		}
	}
	sort.Strings(out)
	return out
}

// Bindings groups the consumed routes by queue.
func (r Routes) Bindings() map[string][]Route {
	out := make(map[string][]Route)
	for _, route := range r {
		if route.Queue != "" {
			out[route.Queue] = append(out[route.Queue], route)
		}
	}
	for q := range out {
		sort.Slice(out[q], func(i, j int) bool { return out[q][i].RoutingKey < out[q][j].RoutingKey })
	}
	return out
}

// Topics lists the routing keys consumed through queue.
func (r Routes) Topics(queue string) []string {
	var out []string
	for _, route := range r.Bindings()[queue] {
		out = append(out, route.RoutingKey)
	}
	return out
}
