package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeOrderCreated                  = "ORDER_CREATED"
	EventTypeOrderPaid                     = "ORDER_PAID"
	EventTypeOrderPaymentFailed            = "ORDER_PAYMENT_FAILED"
	EventTypeOrderStatusChanged            = "ORDER_STATUS_CHANGED"
	EventTypeReviewSubmitted               = "REVIEW_SUBMITTED"
	EventTypeLessonCompleted               = "LESSON_COMPLETED"
	EventTypePaymentReconciliationRequired = "PAYMENT_RECONCILIATION_REQUIRED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// OrderCreatedEvent published when an order is created
type OrderCreatedEvent struct {
	BaseEvent
	OrderID int64           `json:"order_id"`
	UserID  int64           `json:"user_id"`
	Total   int64           `json:"total"`
	Items   []OrderItemData `json:"items"`
}

// OrderPaidEvent published when a charge succeeded for an order
type OrderPaidEvent struct {
	BaseEvent
	OrderID       int64  `json:"order_id"`
	UserID        int64  `json:"user_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
}

// OrderPaymentFailedEvent published when a charge failed for a pending order
type OrderPaymentFailedEvent struct {
	BaseEvent
	OrderID       int64  `json:"order_id"`
	UserID        int64  `json:"user_id"`
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

// OrderStatusChangedEvent published on fulfillment transitions
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID int64       `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
}

// ReviewSubmittedEvent published on every review write, keyed by target
type ReviewSubmittedEvent struct {
	BaseEvent
	ReviewID   int64      `json:"review_id"`
	UserID     int64      `json:"user_id"`
	TargetType TargetType `json:"target_type"`
	TargetID   int64      `json:"target_id"`
	Rating     int        `json:"rating"`
}

// LessonCompletedEvent published the first time a lesson is completed
type LessonCompletedEvent struct {
	BaseEvent
	EnrollmentID    int64 `json:"enrollment_id"`
	UserID          int64 `json:"user_id"`
	CourseID        int64 `json:"course_id"`
	LessonID        int64 `json:"lesson_id"`
	ProgressPercent int   `json:"progress_percent"`
}

// PaymentReconciliationEvent carries a verified processor event whose
// application to the order failed and must be retried out of band. Attempt
// counts the failed reconciliation passes so far.
type PaymentReconciliationEvent struct {
	BaseEvent
	ProcessorEventID string         `json:"processor_event_id"`
	ProcessorType    string         `json:"processor_type"`
	OrderID          int64          `json:"order_id"`
	Outcome          PaymentOutcome `json:"outcome"`
	TransactionID    string         `json:"transaction_id"`
	Amount           int64          `json:"amount"`
	Currency         string         `json:"currency"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Cause            string         `json:"cause"`
	Attempt          int            `json:"attempt"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ItemID    int64 `json:"item_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}
