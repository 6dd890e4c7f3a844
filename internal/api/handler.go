package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	orderService       *service.OrderService
	webhookProcessor   *service.WebhookProcessor
	fulfillmentService *service.FulfillmentService
	addressService     *service.AddressService
	adminToken         string
	logger             *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orderService *service.OrderService,
	webhookProcessor *service.WebhookProcessor,
	fulfillmentService *service.FulfillmentService,
	addressService *service.AddressService,
	adminToken string,
) *Handler {
	return &Handler{
		orderService:       orderService,
		webhookProcessor:   webhookProcessor,
		fulfillmentService: fulfillmentService,
		addressService:     addressService,
		adminToken:         adminToken,
		logger:             util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/checkout", h.checkout)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)

		v1.POST("/webhooks/payment", h.paymentWebhook)

		addresses := v1.Group("/addresses", requireUserID())
		{
			addresses.GET("", h.listAddresses)
			addresses.POST("", h.createAddress)
			addresses.PUT("/:id", h.updateAddress)
			addresses.DELETE("/:id", h.deleteAddress)
		}

		admin := v1.Group("/admin", h.requireAdmin())
		{
			admin.POST("/orders/:id/ship", h.shipOrder)
			admin.POST("/orders/:id/tracking/refresh", h.refreshTracking)
			admin.POST("/orders/:id/cancel", h.cancelOrder)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// checkout handles cart checkout: it creates the pending order and returns
// the payment redirect URL.
func (h *Handler) checkout(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.UserID == nil {
		if userID, ok := userIDFromHeader(c); ok {
			req.UserID = &userID
		}
	}

	resp, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err, "Failed to create order")
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, items, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err, "Failed to get order")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

// listOrders returns the calling user's orders
func (h *Handler) listOrders(c *gin.Context) {
	userID, ok := userIDFromHeader(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid X-User-ID header"})
		return
	}

	orders, err := h.orderService.ListOrders(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err, "Failed to list orders")
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// paymentWebhook receives payment gateway notifications. A bad signature is
// rejected with 400 so the gateway retries; everything the processor chose
// to acknowledge returns 200.
func (h *Handler) paymentWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	err = h.webhookProcessor.HandleNotification(c.Request.Context(), payload, c.GetHeader(gateway.SignatureHeader))
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
			return
		}
		h.logger.Error("Webhook processing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

type shipOrderRequest struct {
	Carrier        string `json:"carrier" binding:"required"`
	TrackingNumber string `json:"tracking_number" binding:"required"`
}

// shipOrder handles the admin ship action
func (h *Handler) shipOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	var req shipOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.fulfillmentService.ShipOrder(c.Request.Context(), orderID, req.Carrier, req.TrackingNumber)
	if err != nil {
		h.respondError(c, err, "Failed to ship order")
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// refreshTracking handles an on-demand tracking refresh
func (h *Handler) refreshTracking(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	resp, err := h.fulfillmentService.RefreshTracking(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err, "Failed to refresh tracking")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// cancelOrder handles the admin cancel action
func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.fulfillmentService.CancelOrder(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err, "Failed to cancel order")
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// listAddresses returns the calling user's address book
func (h *Handler) listAddresses(c *gin.Context) {
	addrs, err := h.addressService.ListAddresses(c.Request.Context(), mustUserID(c))
	if err != nil {
		h.respondError(c, err, "Failed to list addresses")
		return
	}
	c.JSON(http.StatusOK, gin.H{"addresses": addrs})
}

// createAddress adds an address to the calling user's book
func (h *Handler) createAddress(c *gin.Context) {
	var req service.AddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	addr, err := h.addressService.CreateAddress(c.Request.Context(), mustUserID(c), &req)
	if err != nil {
		h.respondError(c, err, "Failed to create address")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"address": addr})
}

// updateAddress modifies an address owned by the calling user
func (h *Handler) updateAddress(c *gin.Context) {
	addressID, ok := pathID(c)
	if !ok {
		return
	}

	var req service.AddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	addr, err := h.addressService.UpdateAddress(c.Request.Context(), mustUserID(c), addressID, &req)
	if err != nil {
		h.respondError(c, err, "Failed to update address")
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr})
}

// deleteAddress removes an address owned by the calling user
func (h *Handler) deleteAddress(c *gin.Context) {
	addressID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.addressService.DeleteAddress(c.Request.Context(), mustUserID(c), addressID); err != nil {
		h.respondError(c, err, "Failed to delete address")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// respondError maps service errors to HTTP status codes.
func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrThrottled):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrTrackingUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Error(fallback, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// requireAdmin guards admin routes with a static bearer token.
func (h *Handler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.adminToken == "" || c.GetHeader("Authorization") != "Bearer "+h.adminToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// requireUserID ensures routes that operate on a user's own resources carry
// a parseable X-User-ID header.
func requireUserID() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromHeader(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid X-User-ID header"})
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

func userIDFromHeader(c *gin.Context) (int64, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		return 0, false
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, false
	}
	return userID, true
}

func mustUserID(c *gin.Context) int64 {
	return c.GetInt64("user_id")
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
