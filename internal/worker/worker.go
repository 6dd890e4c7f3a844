package worker

import (
	"context"
	"fmt"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// NotificationWorker consumes lifecycle events and sends customer emails.
// Kafka delivery is at-least-once, so every handler checks the
// processed_events table before sending and records the event id after.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        *store.Store
	emailer      *gateway.EmailSender
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(
	consumer *broker.Consumer,
	store *store.Store,
	emailer *gateway.EmailSender,
) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		store:    store,
		emailer:  emailer,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderPaid(w.handleOrderPaid)
	eventHandler.OnOrderShipped(w.handleOrderShipped)
	eventHandler.OnOrderDelivered(w.handleOrderDelivered)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	if event.Email == nil {
		return nil
	}
	return w.sendOnce(ctx, event.EventID, event.EventType, func(ctx context.Context) error {
		return w.emailer.SendOrderConfirmation(ctx, *event.Email, event.OrderID, event.TotalCents)
	})
}

func (w *NotificationWorker) handleOrderShipped(ctx context.Context, event *models.OrderShippedEvent) error {
	if event.Email == nil {
		return nil
	}
	return w.sendOnce(ctx, event.EventID, event.EventType, func(ctx context.Context) error {
		return w.emailer.SendShipmentNotification(ctx, *event.Email,
			event.OrderID, event.Carrier, event.TrackingNumber, event.TrackingURL)
	})
}

func (w *NotificationWorker) handleOrderDelivered(ctx context.Context, event *models.OrderDeliveredEvent) error {
	if event.Email == nil {
		return nil
	}
	return w.sendOnce(ctx, event.EventID, event.EventType, func(ctx context.Context) error {
		subject := fmt.Sprintf("Your order #%d has been delivered", event.OrderID)
		html := fmt.Sprintf("<p>Order <strong>#%d</strong> was delivered. Thanks for shopping with us!</p>", event.OrderID)
		return w.emailer.Send(ctx, *event.Email, subject, html)
	})
}

// sendOnce runs send exactly once per event id. A redelivered event that was
// already handled is acknowledged without sending another email.
func (w *NotificationWorker) sendOnce(ctx context.Context, eventID, eventType string, send func(context.Context) error) error {
	processed, err := w.store.IsEventProcessed(ctx, eventID)
	if err != nil {
		return err
	}
	if processed {
		w.logger.Debug("Skipping already processed event",
			zap.String("event_id", eventID),
			zap.String("event_type", eventType))
		return nil
	}

	if err := send(ctx); err != nil {
		w.logger.Error("Failed to send notification email",
			zap.String("event_id", eventID),
			zap.String("event_type", eventType),
			zap.Error(err))
		return err
	}

	return w.store.MarkEventProcessed(ctx, eventID, eventType)
}
