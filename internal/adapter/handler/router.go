package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/order-core/internal/adapter/handler/middleware"
)

// PermOrdersAdmin grants the fulfilment transitions.
const PermOrdersAdmin = "orders.admin"

func NewRouter(h *HTTPHandler, auth *middleware.Auth, log *slog.Logger, probes ...Probe) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Metrics(), middleware.Logging(log))

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if failed := checkAll(ctx, probes); len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1", auth.Require())
	{
		v1.GET("/cart", h.GetCart)
		v1.POST("/cart/items", h.AddToCart)
		v1.PATCH("/cart/items/:itemId", h.UpdateCartItem)
		v1.DELETE("/cart/items/:itemId", h.RemoveFromCart)
		v1.DELETE("/cart", h.ClearCart)

		v1.POST("/orders", h.PlaceOrder)
		v1.GET("/orders", h.ListOrders)
		v1.GET("/orders/:id", h.GetOrder)
		v1.POST("/orders/:id/cancel", h.CancelOrder)
		v1.POST("/orders/:id/reorder", h.Reorder)
	}

	admin := r.Group("/v1/admin", auth.Require(PermOrdersAdmin))
	{
		admin.POST("/orders/:id/process", h.ProcessOrder)
		admin.POST("/orders/:id/ship", h.ShipOrder)
		admin.POST("/orders/:id/deliver", h.DeliverOrder)
	}

	return r
}
