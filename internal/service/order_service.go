package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/redisclient"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	minItemQuantity = 1
	maxItemQuantity = 1000
)

// OrderService handles checkout and order reads
type OrderService struct {
	store          *store.Store
	cache          *redisclient.Client
	eventPublisher *broker.EventPublisher
	payments       *gateway.PaymentClient
	logger         *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	store *store.Store,
	cache *redisclient.Client,
	eventPublisher *broker.EventPublisher,
	payments *gateway.PaymentClient,
) *OrderService {
	return &OrderService{
		store:          store,
		cache:          cache,
		eventPublisher: eventPublisher,
		payments:       payments,
		logger:         util.GetLogger(),
	}
}

// CreateOrderRequest represents a checkout request. Client-supplied prices
// are never accepted; only product ids and quantities are read.
type CreateOrderRequest struct {
	UserID *int64             `json:"user_id,omitempty"`
	Email  *string            `json:"email,omitempty" binding:"omitempty,email"`
	Items  []OrderItemRequest `json:"items" binding:"required,min=1"`
}

// OrderItemRequest represents an item in a checkout request
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required"`
}

// CreateOrderResponse represents the response after creating an order
type CreateOrderResponse struct {
	OrderID            int64  `json:"order_id"`
	PaymentRedirectURL string `json:"payment_redirect_url"`
}

// CreateOrder validates the cart, snapshots server-side prices, creates the
// payment session and persists the pending order with its reservations.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	if err := validateItems(req.Items); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	products, err := s.loadProducts(ctx, req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	totalCents := calculateTotal(req.Items, products)

	// The session is created before the order so the redirect URL is known;
	// the gateway call must not run inside a database transaction.
	checkoutItems := make([]gateway.CheckoutItem, 0, len(req.Items))
	for _, item := range req.Items {
		product := products[item.ProductID]
		checkoutItems = append(checkoutItems, gateway.CheckoutItem{
			Name:           product.Name,
			UnitPriceCents: product.PriceCents,
			Quantity:       item.Quantity,
		})
	}

	session, err := s.payments.CreateCheckoutSession(ctx, checkoutItems, req.Email)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("gateway_error").Inc()
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	orderItems := make([]models.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		orderItems = append(orderItems, models.OrderItem{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceCents: products[item.ProductID].PriceCents,
		})
	}

	order, err := s.store.CreateOrder(ctx, store.CreateOrderParams{
		UserID:           req.UserID,
		Email:            req.Email,
		TotalCents:       totalCents,
		PaymentSessionID: session.ID,
		Items:            orderItems,
	})
	if err != nil {
		var stockErr *store.InsufficientStockError
		if errors.As(err, &stockErr) {
			util.InventoryReservationsFailed.WithLabelValues("insufficient_stock").Inc()
			util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
			return nil, fmt.Errorf("%w: %s", ErrConflict, stockErr.Error())
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("session_id", session.ID),
		zap.Int64("total_cents", totalCents))

	eventItems := make([]models.OrderItemData, 0, len(orderItems))
	for _, item := range orderItems {
		eventItems = append(eventItems, models.OrderItemData{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID:    order.ID,
		Email:      order.Email,
		TotalCents: totalCents,
		Items:      eventItems,
	}
	if err := s.eventPublisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	return &CreateOrderResponse{
		OrderID:            order.ID,
		PaymentRedirectURL: session.URL,
	}, nil
}

// GetOrder retrieves an order with its items
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
		}
		return nil, nil, err
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}

// ListOrders returns a user's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.GetOrdersByUserID(ctx, userID)
}

// loadProducts resolves every requested product, cache first then DB, and
// fails on any unknown id.
func (s *OrderService) loadProducts(ctx context.Context, items []OrderItemRequest) (map[int64]*models.Product, error) {
	productMap := make(map[int64]*models.Product, len(items))

	var missing []int64
	for _, item := range items {
		if _, ok := productMap[item.ProductID]; ok {
			continue
		}
		if product, ok := s.cache.GetProduct(ctx, item.ProductID); ok {
			productMap[item.ProductID] = product
			continue
		}
		missing = append(missing, item.ProductID)
	}

	if len(missing) > 0 {
		products, err := s.store.GetProductsByIDs(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("failed to load products: %w", err)
		}
		for i := range products {
			productMap[products[i].ID] = &products[i]
		}
		if err := s.cache.SetProducts(ctx, products); err != nil {
			s.logger.Warn("Failed to cache products", zap.Error(err))
		}
	}

	for _, item := range items {
		if _, ok := productMap[item.ProductID]; !ok {
			return nil, fmt.Errorf("%w: unknown product %d", ErrValidation, item.ProductID)
		}
	}

	return productMap, nil
}

// validateItems rejects empty carts and out-of-range quantities before any
// transaction opens.
func validateItems(items []OrderItemRequest) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: no items to checkout", ErrValidation)
	}
	for _, item := range items {
		if item.ProductID <= 0 {
			return fmt.Errorf("%w: invalid product id %d", ErrValidation, item.ProductID)
		}
		if item.Quantity < minItemQuantity || item.Quantity > maxItemQuantity {
			return fmt.Errorf("%w: quantity for product %d must be between %d and %d",
				ErrValidation, item.ProductID, minItemQuantity, maxItemQuantity)
		}
	}
	return nil
}

// calculateTotal sums the order from server-trusted prices.
func calculateTotal(items []OrderItemRequest, products map[int64]*models.Product) int64 {
	var total int64
	for _, item := range items {
		total += products[item.ProductID].PriceCents * int64(item.Quantity)
	}
	return total
}
