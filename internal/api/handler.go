package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxWebhookBody = 512 << 10

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP surface
type Options struct {
	Auth                  AuthConfig
	AllowedOrigins        []string
	CheckoutRatePerMinute int
	CheckoutBurst         int
	Dependencies          map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	cart         *service.CartService
	checkout     *service.CheckoutService
	materializer *service.Materializer
	webhook      *service.WebhookService
	opts         Options
	limiter      *ipRateLimiter
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	cart *service.CartService,
	checkout *service.CheckoutService,
	materializer *service.Materializer,
	webhook *service.WebhookService,
	opts Options,
) *Handler {
	return &Handler{
		cart:         cart,
		checkout:     checkout,
		materializer: materializer,
		webhook:      webhook,
		opts:         opts,
		limiter:      newIPRateLimiter(opts.CheckoutRatePerMinute, opts.CheckoutBurst),
		logger:       util.ComponentLogger("http"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	if len(h.opts.AllowedOrigins) > 0 {
		router.Use(corsMiddleware(h.opts.AllowedOrigins))
	}

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/stripe", h.stripeWebhook)

	v1 := router.Group("/api/v1", buyerAuth(h.opts.Auth))
	{
		v1.GET("/cart", h.getCart)
		v1.POST("/cart", h.addCartItem)
		v1.PUT("/cart", h.updateCartItem)
		v1.DELETE("/cart", h.removeCartItem)

		v1.POST("/checkout", h.limiter.middleware(), h.createCheckout)

		v1.POST("/orders/confirm", h.confirmOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, dep := range h.opts.Dependencies {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, label := http.StatusOK, "ready"
	if !ready {
		status, label = http.StatusServiceUnavailable, "not_ready"
	}
	c.JSON(status, gin.H{
		"status": label,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

type cartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity"`
}

func (h *Handler) getCart(c *gin.Context) {
	cart, err := h.cart.Get(c.Request.Context(), buyerID(c))
	if err != nil {
		writeError(c, "Failed to load cart", err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req cartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.cart.Add(c.Request.Context(), buyerID(c), req.ProductID, req.Quantity); err != nil {
		writeError(c, "Failed to add item to cart", err)
		return
	}
	h.getCart(c)
}

func (h *Handler) updateCartItem(c *gin.Context) {
	var req cartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.cart.SetQuantity(c.Request.Context(), buyerID(c), req.ProductID, req.Quantity); err != nil {
		writeError(c, "Failed to update cart item", err)
		return
	}
	h.getCart(c)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Query("product_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	if err := h.cart.Remove(c.Request.Context(), buyerID(c), productID); err != nil {
		writeError(c, "Failed to remove cart item", err)
		return
	}
	h.getCart(c)
}

type checkoutRequest struct {
	Shipping models.ShippingAddress `json:"shipping"`
}

// createCheckout snapshots the buyer's cart and opens a processor session
func (h *Handler) createCheckout(c *gin.Context) {
	var req checkoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
			return
		}
	}

	resp, err := h.checkout.CheckoutFromCart(c.Request.Context(), buyerID(c), req.Shipping)
	if err != nil {
		writeError(c, "Failed to start checkout", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type confirmRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// confirmOrder is the buyer-side trigger after the processor redirects back
func (h *Handler) confirmOrder(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.materializer.Confirm(c.Request.Context(), buyerID(c), req.SessionID)
	if err != nil {
		message := finalizeFailedMessage
		switch {
		case errors.Is(err, service.ErrPaymentNotConfirmed):
			message = "Payment not confirmed"
		case errors.Is(err, service.ErrOrderNotFound):
			message = "Order not found"
		default:
			h.logger.Error("Order confirmation failed",
				zap.String("buyer_id", buyerID(c)),
				zap.String("session_ref", req.SessionID),
				zap.Error(err))
		}
		writeError(c, message, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.materializer.ListOrders(c.Request.Context(), buyerID(c))
	if err != nil {
		writeError(c, "Failed to list orders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, err := h.materializer.GetOrder(c.Request.Context(), buyerID(c), orderID)
	if err != nil {
		writeError(c, "Order not found", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// stripeWebhook acknowledges every authentic delivery
func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			util.WebhookEventsTotal.WithLabelValues("unknown", "too_large").Inc()
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	if err := h.webhook.HandleEvent(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
