package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// RatingKey partitions review events by target so one consumer sees every
// write for a target in order.
func RatingKey(targetType models.TargetType, targetID int64) string {
	return fmt.Sprintf("rating-%s-%d", targetType, targetID)
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, models.OrderItemData{ItemID: it.ItemID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:   order.ID,
		UserID:    order.UserID,
		Total:     order.Total,
		Items:     items,
	}
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// PublishOrderPaid publishes OrderPaid event
func (ep *EventPublisher) PublishOrderPaid(ctx context.Context, order *models.Order) error {
	event := &models.OrderPaidEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeOrderPaid),
		OrderID:       order.ID,
		UserID:        order.UserID,
		TransactionID: order.PaymentDetails.TransactionID,
		Amount:        order.PaymentDetails.Amount,
		Currency:      order.PaymentDetails.Currency,
	}
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// PublishOrderPaymentFailed publishes OrderPaymentFailed event
func (ep *EventPublisher) PublishOrderPaymentFailed(ctx context.Context, order *models.Order) error {
	event := &models.OrderPaymentFailedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeOrderPaymentFailed),
		OrderID:       order.ID,
		UserID:        order.UserID,
		TransactionID: order.PaymentDetails.TransactionID,
		Reason:        order.PaymentDetails.Error,
	}
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, orderID int64, from, to models.OrderStatus) error {
	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   orderID,
		From:      from,
		To:        to,
	}
	return ep.producer.PublishEvent(ctx, orderKey(orderID), event)
}

// PublishReviewSubmitted publishes ReviewSubmitted event
func (ep *EventPublisher) PublishReviewSubmitted(ctx context.Context, review *models.Review) error {
	event := &models.ReviewSubmittedEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypeReviewSubmitted),
		ReviewID:   review.ID,
		UserID:     review.UserID,
		TargetType: review.TargetType,
		TargetID:   review.TargetID,
		Rating:     review.Rating,
	}
	return ep.producer.PublishEvent(ctx, RatingKey(review.TargetType, review.TargetID), event)
}

// PublishLessonCompleted publishes LessonCompleted event
func (ep *EventPublisher) PublishLessonCompleted(ctx context.Context, enrollment *models.Enrollment, lessonID int64) error {
	event := &models.LessonCompletedEvent{
		BaseEvent:       models.NewBaseEvent(models.EventTypeLessonCompleted),
		EnrollmentID:    enrollment.ID,
		UserID:          enrollment.UserID,
		CourseID:        enrollment.CourseID,
		LessonID:        lessonID,
		ProgressPercent: enrollment.ProgressPercent,
	}
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("enrollment-%d", enrollment.ID), event)
}

// PublishPaymentReconciliation queues a verified processor event for retry
func (ep *EventPublisher) PublishPaymentReconciliation(ctx context.Context, event *models.PaymentReconciliationEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// EventHandler routes incoming events by type
type EventHandler struct {
	handlers map[string]func(context.Context, []byte) error
	logger   *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{
		handlers: make(map[string]func(context.Context, []byte) error),
		logger:   util.GetLogger(),
	}
}

// On registers the handler for one event type. The raw message value is
// passed through so the handler decodes its own event struct.
func (eh *EventHandler) On(eventType string, handler func(context.Context, []byte) error) {
	eh.handlers[eventType] = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		eh.logger.Warn("Dropping undecodable event", zap.Error(err))
		return nil
	}

	handler, ok := eh.handlers[baseEvent.EventType]
	if !ok {
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))
	return handler(ctx, msg.Value)
}
