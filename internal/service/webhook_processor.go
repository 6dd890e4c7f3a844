package service

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebhookProcessor is the single ingress point for payment gateway
// notifications. Deliveries are at-least-once and arbitrarily reordered, so
// every side effect keys off "the guarded transition just fired", never off
// the notification itself.
type WebhookProcessor struct {
	store          *store.Store
	payments       *gateway.PaymentClient
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewWebhookProcessor creates a new webhook processor
func NewWebhookProcessor(
	store *store.Store,
	payments *gateway.PaymentClient,
	eventPublisher *broker.EventPublisher,
) *WebhookProcessor {
	return &WebhookProcessor{
		store:          store,
		payments:       payments,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// HandleNotification verifies and processes one webhook delivery. A non-nil
// error means the delivery must NOT be acknowledged: either the signature
// failed (gateway.ErrInvalidSignature) or a fatal storage error occurred
// before any state was committed, in which case a retry is safe.
func (p *WebhookProcessor) HandleNotification(ctx context.Context, payload []byte, signatureHeader string) error {
	ctx, span := util.StartSpan(ctx, "WebhookProcessor.HandleNotification")
	defer span.End()

	start := time.Now()
	defer func() {
		util.WebhookProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	if err := p.payments.VerifySignature(payload, signatureHeader); err != nil {
		util.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		return err
	}

	event, err := gateway.ParseWebhookEvent(payload)
	if err != nil {
		// The signature matched, so the payload is intact but not a shape
		// we understand. Acknowledge it; retrying cannot help.
		p.logger.Warn("Unparseable webhook payload", zap.Error(err))
		util.WebhookEventsTotal.WithLabelValues("unknown", "ignored").Inc()
		return nil
	}

	switch event.Type {
	case gateway.EventCheckoutCompleted:
		return p.handleCompleted(ctx, event)
	case gateway.EventCheckoutExpired:
		return p.handleExpired(ctx, event)
	default:
		p.logger.Info("Unhandled webhook event type", zap.String("type", event.Type))
		util.WebhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
		return nil
	}
}

func (p *WebhookProcessor) handleCompleted(ctx context.Context, event *gateway.WebhookEvent) error {
	session := event.Data.Object

	if session.PaymentStatus != "paid" {
		p.logger.Info("Completion event without paid status, ignoring",
			zap.String("session_id", session.ID),
			zap.String("payment_status", session.PaymentStatus))
		util.WebhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
		return nil
	}

	order, err := p.store.GetOrderBySessionID(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to correlate session: %w", err)
	}
	if order == nil {
		p.logger.Warn("Completion event for unknown session", zap.String("session_id", session.ID))
		util.WebhookEventsTotal.WithLabelValues(event.Type, "unmatched").Inc()
		return nil
	}

	transitioned, err := p.store.TransitionOrder(ctx, order.ID, models.OrderStatusPending, models.OrderStatusPaid)
	if err != nil {
		return fmt.Errorf("failed to transition order: %w", err)
	}
	if !transitioned {
		// Duplicate delivery or a lost race with expiration: a no-op
		// success either way. If the order did reach paid, a crash of an
		// earlier delivery between its transition and its deduction may
		// have left the reservation undeducted, so the flag-guarded
		// deduction runs here too and the redelivery completes it.
		current, err := p.store.GetOrderByID(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("failed to reload order: %w", err)
		}
		if current.Status == models.OrderStatusPaid {
			p.deduct(ctx, order.ID)
		}
		p.logger.Info("Order already moved, completion is a no-op",
			zap.Int64("order_id", order.ID),
			zap.String("session_id", session.ID))
		util.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
		return nil
	}

	util.OrdersPaidTotal.Inc()
	util.WebhookEventsTotal.WithLabelValues(event.Type, "applied").Inc()
	p.logger.Info("Order paid", zap.Int64("order_id", order.ID), zap.String("session_id", session.ID))

	p.deduct(ctx, order.ID)

	// Everything past this point is best-effort: its failure is logged but
	// never propagates into the acknowledgment.
	p.persistShipping(ctx, order, session)

	paidEvent := &models.OrderPaidEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPaid,
			Timestamp: time.Now(),
		},
		OrderID:    order.ID,
		SessionID:  session.ID,
		Email:      orderEmail(order, session.CustomerEmail),
		TotalCents: order.TotalCents,
	}
	if err := p.eventPublisher.PublishOrderPaid(ctx, paidEvent); err != nil {
		p.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
	}

	return nil
}

func (p *WebhookProcessor) handleExpired(ctx context.Context, event *gateway.WebhookEvent) error {
	session := event.Data.Object

	order, err := p.store.GetOrderBySessionID(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to correlate session: %w", err)
	}
	if order == nil {
		p.logger.Warn("Expiration event for unknown session", zap.String("session_id", session.ID))
		util.WebhookEventsTotal.WithLabelValues(event.Type, "unmatched").Inc()
		return nil
	}

	transitioned, err := p.store.TransitionOrder(ctx, order.ID, models.OrderStatusPending, models.OrderStatusExpired)
	if err != nil {
		return fmt.Errorf("failed to transition order: %w", err)
	}
	if !transitioned {
		// Same recovery shape as completion: a crash between an earlier
		// delivery's transition and its release leaves the reservation
		// held, and the redelivery releases it here.
		current, err := p.store.GetOrderByID(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("failed to reload order: %w", err)
		}
		if current.Status == models.OrderStatusExpired {
			p.release(ctx, order.ID)
		}
		p.logger.Info("Order already moved, expiration is a no-op",
			zap.Int64("order_id", order.ID),
			zap.String("session_id", session.ID))
		util.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
		return nil
	}

	util.OrdersExpiredTotal.Inc()
	util.WebhookEventsTotal.WithLabelValues(event.Type, "applied").Inc()
	p.logger.Info("Order expired", zap.Int64("order_id", order.ID), zap.String("session_id", session.ID))

	p.release(ctx, order.ID)

	expiredEvent := &models.OrderExpiredEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderExpired,
			Timestamp: time.Now(),
		},
		OrderID:   order.ID,
		SessionID: session.ID,
	}
	if err := p.eventPublisher.PublishOrderExpired(ctx, expiredEvent); err != nil {
		p.logger.Error("Failed to publish OrderExpired event", zap.Error(err))
	}

	return nil
}

// persistShipping snapshots the shipping contact the gateway collected onto
// the order. Best-effort: a failure here never fails the acknowledgment.
func (p *WebhookProcessor) persistShipping(ctx context.Context, order *models.Order, session gateway.SessionObject) {
	shipping := session.Shipping
	if shipping == nil || shipping.Address.Line1 == "" {
		return
	}

	snap := store.ShippingSnapshot{
		Name:       optional(shipping.Name),
		Phone:      optional(shipping.Phone),
		Line1:      optional(shipping.Address.Line1),
		Line2:      optional(shipping.Address.Line2),
		City:       optional(shipping.Address.City),
		State:      optional(shipping.Address.State),
		PostalCode: optional(shipping.Address.PostalCode),
		Country:    optional(shipping.Address.Country),
	}
	if err := p.store.SetShippingSnapshot(ctx, order.ID, snap); err != nil {
		p.logger.Error("Failed to persist shipping snapshot",
			zap.Int64("order_id", order.ID), zap.Error(err))
		return
	}

	// Known customers also get the address saved to their book; the store
	// keeps the one-default invariant regardless of timing.
	if order.UserID == nil {
		return
	}
	_, err := p.store.CreateAddress(ctx, *order.UserID, store.AddressInput{
		Name:       shipping.Name,
		Line1:      shipping.Address.Line1,
		Line2:      optional(shipping.Address.Line2),
		City:       shipping.Address.City,
		State:      optional(shipping.Address.State),
		PostalCode: shipping.Address.PostalCode,
		Country:    shipping.Address.Country,
		Phone:      optional(shipping.Phone),
	})
	if err != nil {
		p.logger.Warn("Failed to save address to book",
			zap.Int64("order_id", order.ID),
			zap.Int64("user_id", *order.UserID),
			zap.Error(err))
	}
}

// deduct runs the at-most-once inventory deduction for a paid order. The
// flag CAS inside DeductStock makes repeated calls harmless.
func (p *WebhookProcessor) deduct(ctx context.Context, orderID int64) {
	deducted, clamped, err := p.store.DeductStock(ctx, orderID)
	if err != nil {
		p.logger.Error("Inventory deduction failed",
			zap.Int64("order_id", orderID), zap.Error(err))
	} else if deducted {
		util.InventoryDeductionsTotal.Inc()
	}
	p.logClamps(orderID, clamped)
}

// release returns an expired order's reservation to available stock. Shares
// the at-most-once flag with deduct, so repeats and crashes are harmless.
func (p *WebhookProcessor) release(ctx context.Context, orderID int64) {
	released, clamped, err := p.store.ReleaseStock(ctx, orderID)
	if err != nil {
		p.logger.Error("Inventory release failed",
			zap.Int64("order_id", orderID), zap.Error(err))
	} else if released {
		util.InventoryReleasesTotal.Inc()
	}
	p.logClamps(orderID, clamped)
}

func (p *WebhookProcessor) logClamps(orderID int64, clamped []int64) {
	for _, productID := range clamped {
		util.InventoryClampsTotal.Inc()
		p.logger.Error("Inventory counter clamped at zero, counters have drifted",
			zap.Int64("order_id", orderID),
			zap.Int64("product_id", productID))
	}
}

func orderEmail(order *models.Order, fallback *string) *string {
	if order.Email != nil && *order.Email != "" {
		return order.Email
	}
	return fallback
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
