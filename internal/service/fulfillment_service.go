package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FulfillmentService handles the admin-driven half of the order lifecycle:
// shipping and tracking refreshes.
type FulfillmentService struct {
	store          *store.Store
	tracker        *gateway.TrackingClient
	eventPublisher *broker.EventPublisher
	cooldown       time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

// NewFulfillmentService creates a new fulfillment service
func NewFulfillmentService(
	store *store.Store,
	tracker *gateway.TrackingClient,
	eventPublisher *broker.EventPublisher,
	cooldown time.Duration,
) *FulfillmentService {
	return &FulfillmentService{
		store:          store,
		tracker:        tracker,
		eventPublisher: eventPublisher,
		cooldown:       cooldown,
		logger:         util.GetLogger(),
		now:            time.Now,
	}
}

// ShipOrder transitions a paid order to shipped with the given carrier and
// tracking number. Unlike notification-driven transitions, a guard failure
// here is a genuine race the caller must be told about: the second shipper
// gets a conflict and the original tracking data is never overwritten.
func (s *FulfillmentService) ShipOrder(ctx context.Context, orderID int64, carrier, trackingNumber string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.ShipOrder")
	defer span.End()

	carrier = strings.TrimSpace(carrier)
	trackingNumber = strings.TrimSpace(trackingNumber)

	if trackingNumber == "" {
		return nil, fmt.Errorf("%w: tracking number is required", ErrValidation)
	}
	if _, ok := gateway.Carriers[carrier]; !ok {
		return nil, fmt.Errorf("%w: unknown carrier %q", ErrValidation, carrier)
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
		}
		return nil, err
	}

	// Initial tracking lookup is best-effort and runs outside any database
	// transaction; without an API key we ship in manual mode.
	var details []byte
	var syncedAt *time.Time
	if info, err := s.tracker.FetchTrackingInfo(ctx, carrier, trackingNumber); err != nil {
		s.logger.Warn("Tracking lookup failed at ship time, using manual mode",
			zap.Int64("order_id", orderID), zap.Error(err))
	} else if info != nil {
		if details, err = json.Marshal(info); err != nil {
			return nil, fmt.Errorf("failed to marshal tracking details: %w", err)
		}
		t := s.now()
		syncedAt = &t
	}

	shipped, err := s.store.MarkOrderShipped(ctx, orderID, carrier, trackingNumber, details, syncedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to ship order: %w", err)
	}
	if !shipped {
		return nil, fmt.Errorf("%w: order %d is not in %s status", ErrConflict, orderID, models.OrderStatusPaid)
	}

	util.OrdersShippedTotal.Inc()
	s.logger.Info("Order shipped",
		zap.Int64("order_id", orderID),
		zap.String("carrier", carrier),
		zap.String("tracking_number", trackingNumber))

	order, err = s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	event := &models.OrderShippedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderShipped,
			Timestamp: time.Now(),
		},
		OrderID:        orderID,
		Email:          order.Email,
		Carrier:        carrier,
		TrackingNumber: trackingNumber,
		TrackingURL:    gateway.TrackingURL(carrier, trackingNumber),
		ShippedAt:      s.now(),
	}
	if err := s.eventPublisher.PublishOrderShipped(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderShipped event", zap.Error(err))
	}

	return order, nil
}

// RefreshTrackingResponse carries the refresh outcome.
type RefreshTrackingResponse struct {
	Status   models.OrderStatus    `json:"status"`
	Tracking *gateway.TrackingInfo `json:"tracking"`
}

// RefreshTracking re-queries the carrier for a shipped order. Refreshes
// inside the cooldown window are refused rather than queued; a lookup that
// reports delivery advances shipped -> delivered.
func (s *FulfillmentService) RefreshTracking(ctx context.Context, orderID int64) (*RefreshTrackingResponse, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.RefreshTracking")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
		}
		return nil, err
	}

	if order.Status != models.OrderStatusShipped && order.Status != models.OrderStatusDelivered {
		return nil, fmt.Errorf("%w: cannot refresh tracking when status is %s", ErrValidation, order.Status)
	}
	if order.TrackingNumber == nil || order.Carrier == nil {
		return nil, fmt.Errorf("%w: order %d has no tracking info", ErrValidation, orderID)
	}

	if withinCooldown(order.TrackingLastSync, s.cooldown, s.now()) {
		util.TrackingRefreshesTotal.WithLabelValues("throttled").Inc()
		return nil, fmt.Errorf("%w: wait before refreshing again", ErrThrottled)
	}

	info, err := s.tracker.FetchTrackingInfo(ctx, *order.Carrier, *order.TrackingNumber)
	if err != nil || info == nil {
		util.TrackingRefreshesTotal.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: carrier lookup failed", ErrTrackingUnavailable)
	}

	newStatus := order.Status
	if order.Status == models.OrderStatusShipped && info.Status == gateway.TrackingDelivered {
		newStatus = models.OrderStatusDelivered
	}

	details, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tracking details: %w", err)
	}

	updated, err := s.store.UpdateOrderTracking(ctx, orderID, order.Status, newStatus, details, *order.TrackingNumber, *order.Carrier)
	if err != nil {
		return nil, fmt.Errorf("failed to update tracking: %w", err)
	}
	if !updated {
		util.TrackingRefreshesTotal.WithLabelValues("conflict").Inc()
		return nil, fmt.Errorf("%w: order changed underneath the refresh, reload and retry", ErrConflict)
	}

	util.TrackingRefreshesTotal.WithLabelValues("ok").Inc()

	if newStatus == models.OrderStatusDelivered && order.Status == models.OrderStatusShipped {
		util.OrdersDeliveredTotal.Inc()
		s.logger.Info("Order delivered", zap.Int64("order_id", orderID))

		event := &models.OrderDeliveredEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderDelivered,
				Timestamp: time.Now(),
			},
			OrderID: orderID,
			Email:   order.Email,
		}
		if err := s.eventPublisher.PublishOrderDelivered(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderDelivered event", zap.Error(err))
		}
	}

	return &RefreshTrackingResponse{Status: newStatus, Tracking: info}, nil
}

// CancelOrder is the manual-override primitive. It performs a guarded
// transition from the order's current status to cancelled and reports a
// conflict when the order moved underneath the operator.
func (s *FulfillmentService) CancelOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
		}
		return nil, err
	}

	if !models.CanTransition(order.Status, models.OrderStatusCancelled) {
		return nil, fmt.Errorf("%w: cannot cancel order in %s status", ErrConflict, order.Status)
	}

	cancelled, err := s.store.TransitionOrder(ctx, orderID, order.Status, models.OrderStatusCancelled)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return nil, fmt.Errorf("%w: order %d moved, reload and retry", ErrConflict, orderID)
	}

	// A cancelled pending order still holds its reservation.
	released, clamped, err := s.store.ReleaseStock(ctx, orderID)
	if err != nil {
		s.logger.Error("Inventory release failed on cancel",
			zap.Int64("order_id", orderID), zap.Error(err))
	} else if released {
		util.InventoryReleasesTotal.Inc()
	}
	for _, productID := range clamped {
		util.InventoryClampsTotal.Inc()
		s.logger.Error("Inventory counter clamped at zero, counters have drifted",
			zap.Int64("order_id", orderID),
			zap.Int64("product_id", productID))
	}

	s.logger.Info("Order cancelled", zap.Int64("order_id", orderID))
	return s.store.GetOrderByID(ctx, orderID)
}

// withinCooldown reports whether a refresh at now falls inside the cooldown
// window measured from the last successful sync.
func withinCooldown(lastSync *time.Time, cooldown time.Duration, now time.Time) bool {
	if lastSync == nil {
		return false
	}
	return now.Sub(*lastSync) < cooldown
}
