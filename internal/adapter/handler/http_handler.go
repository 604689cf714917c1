package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rl1809/order-core/internal/adapter/handler/middleware"
	"github.com/rl1809/order-core/internal/core/domain"
	"github.com/rl1809/order-core/internal/core/service"
)

const defaultRequestTimeout = 5 * time.Second

type HTTPHandler struct {
	carts   *service.CartService
	orders  *service.OrderService
	timeout time.Duration
}

func NewHTTPHandler(carts *service.CartService, orders *service.OrderService, timeout time.Duration) *HTTPHandler {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPHandler{carts: carts, orders: orders, timeout: timeout}
}

type addToCartReq struct {
	ProductID string `json:"product_id" binding:"required"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity" binding:"required"`
}

type updateCartItemReq struct {
	Quantity int `json:"quantity" binding:"required"`
}

type placeOrderReq struct {
	ShippingAddress domain.Address `json:"shipping_address"`
	BillingAddress  domain.Address `json:"billing_address"`
}

type cancelOrderReq struct {
	Reason string `json:"reason"`
}

func (h *HTTPHandler) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

func (h *HTTPHandler) GetCart(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	view, err := h.carts.GetCart(ctx, middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *HTTPHandler) AddToCart(c *gin.Context) {
	var req addToCartReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	view, err := h.carts.AddToCart(ctx, service.AddToCartInput{
		UserID:    middleware.UserID(c),
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *HTTPHandler) UpdateCartItem(c *gin.Context) {
	var req updateCartItemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	view, err := h.carts.UpdateCartItem(ctx, middleware.UserID(c), c.Param("itemId"), req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *HTTPHandler) RemoveFromCart(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	view, err := h.carts.RemoveFromCart(ctx, middleware.UserID(c), c.Param("itemId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *HTTPHandler) ClearCart(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	view, err := h.carts.ClearCart(ctx, middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// PlaceOrder answers 201 once the order and its events are committed. Stock
// is reserved asynchronously, so the order may still be cancelled later.
func (h *HTTPHandler) PlaceOrder(c *gin.Context) {
	var req placeOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	view, err := h.orders.PlaceOrder(ctx, service.PlaceOrderInput{
		UserID:          middleware.UserID(c),
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Location", "/v1/orders/"+view.ID)
	c.JSON(http.StatusCreated, view)
}

func (h *HTTPHandler) ListOrders(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		badRequest(c, err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	orders, err := h.orders.GetOrderHistory(ctx, middleware.UserID(c), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *HTTPHandler) GetOrder(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	view, err := h.orders.GetOrderByID(ctx, middleware.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *HTTPHandler) CancelOrder(c *gin.Context) {
	var req cancelOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	view, err := h.orders.CancelOrder(ctx, middleware.UserID(c), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *HTTPHandler) Reorder(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	view, err := h.orders.Reorder(ctx, middleware.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *HTTPHandler) ProcessOrder(c *gin.Context) {
	h.transition(c, h.orders.ProcessOrder)
}

func (h *HTTPHandler) ShipOrder(c *gin.Context) {
	h.transition(c, h.orders.ShipOrder)
}

func (h *HTTPHandler) DeliverOrder(c *gin.Context) {
	h.transition(c, h.orders.DeliverOrder)
}

func (h *HTTPHandler) transition(c *gin.Context, fn func(context.Context, string) (service.OrderView, error)) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	view, err := fn(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(key, "must be an integer")
	}
	return n, nil
}
