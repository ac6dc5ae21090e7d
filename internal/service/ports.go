package service

import (
	"context"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/processor"
)

// OrderStore is the persistence the order lifecycle needs
type OrderStore interface {
	GetItemsByIDs(ctx context.Context, ids []int64) ([]models.Item, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	UpdateOrderStatusFrom(ctx context.Context, id int64, from, to models.OrderStatus, details models.PaymentDetails) (bool, error)
	SetPaymentIntent(ctx context.Context, id int64, method, intentID string) error
}

// EventStore remembers processed processor event ids
type EventStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

type EnrollmentStore interface {
	GetCourseByID(ctx context.Context, id int64) (*models.Course, error)
	CountLessons(ctx context.Context, courseID int64) (int, error)
	LessonBelongsToCourse(ctx context.Context, courseID, lessonID int64) (bool, error)
	EnrollOnce(ctx context.Context, e *models.Enrollment) (*models.Enrollment, bool, error)
	GetEnrollment(ctx context.Context, userID, courseID int64) (*models.Enrollment, error)
	UpdateEnrollmentTx(ctx context.Context, userID, courseID int64, fn func(*models.Enrollment) error) (*models.Enrollment, error)
}

type ReviewStore interface {
	TargetExists(ctx context.Context, targetType models.TargetType, id int64) (bool, error)
	UpsertReview(ctx context.Context, r *models.Review) error
	ListReviews(ctx context.Context, targetType models.TargetType, targetID int64) ([]models.Review, error)
}

// RatingStore reads the review set of a target and writes its aggregate
type RatingStore interface {
	ListRatings(ctx context.Context, targetType models.TargetType, targetID int64) ([]int, error)
	UpdateRatingAggregate(ctx context.Context, targetType models.TargetType, id int64, agg models.RatingAggregate) error
}

// Locker is a lease-style mutual exclusion keyed by string
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// IdempotencyCache is the fast-path record of handled webhook events
type IdempotencyCache interface {
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Publisher emits domain events. Failures are logged by callers and never
// roll back the state change that triggered them.
type Publisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishOrderPaid(ctx context.Context, order *models.Order) error
	PublishOrderPaymentFailed(ctx context.Context, order *models.Order) error
	PublishOrderStatusChanged(ctx context.Context, orderID int64, from, to models.OrderStatus) error
	PublishReviewSubmitted(ctx context.Context, review *models.Review) error
	PublishLessonCompleted(ctx context.Context, enrollment *models.Enrollment, lessonID int64) error
	PublishPaymentReconciliation(ctx context.Context, event *models.PaymentReconciliationEvent) error
}

// PaymentGateway is the processor as seen by the payment service
type PaymentGateway interface {
	Currency() string
	CreatePaymentIntent(ctx context.Context, req processor.IntentRequest) (*processor.Intent, error)
	ParseWebhook(payload []byte, sigHeader string) (*processor.PaymentEvent, error)
}
