package models

import (
	"math"
	"time"

	"github.com/lib/pq"
)

// Item represents a marketplace catalog item. Price is in minor units.
type Item struct {
	ID        int64     `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	Price     int64     `db:"price" json:"price"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	RatingAggregate
}

// Course represents a course with an ordered list of lessons
type Course struct {
	ID        int64     `db:"id" json:"id"`
	OwnerID   int64     `db:"owner_id" json:"ownerId"`
	Title     string    `db:"title" json:"title"`
	Price     int64     `db:"price" json:"price"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	RatingAggregate
}

type Lesson struct {
	ID       int64  `db:"id" json:"id"`
	CourseID int64  `db:"course_id" json:"courseId"`
	Title    string `db:"title" json:"title"`
	Position int    `db:"position" json:"position"`
}

type Post struct {
	ID        int64     `db:"id" json:"id"`
	AuthorID  int64     `db:"author_id" json:"authorId"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	RatingAggregate
}

// RatingAggregate is the pair of denormalized rating fields carried by every
// ratable entity. It is always recomputed from the full review set.
type RatingAggregate struct {
	AverageRating float64 `db:"average_rating" json:"averageRating"`
	ReviewCount   int     `db:"review_count" json:"reviewCount"`
}

// Order represents one purchase transaction
type Order struct {
	ID              int64       `db:"id" json:"id"`
	UserID          int64       `db:"user_id" json:"userId"`
	Total           int64       `db:"total" json:"total"`
	Status          OrderStatus `db:"status" json:"status"`
	ShippingAddress `json:"shipping"`
	PaymentDetails  `json:"paymentDetails"`
	Items           []OrderItem `db:"-" json:"items"`
	CreatedAt       time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updatedAt"`
}

// OrderItem is one line of an order. UnitPrice is the catalog price captured
// when the order was created.
type OrderItem struct {
	ID        int64 `db:"id" json:"id"`
	OrderID   int64 `db:"order_id" json:"orderId"`
	ItemID    int64 `db:"item_id" json:"itemId"`
	Quantity  int   `db:"quantity" json:"quantity"`
	UnitPrice int64 `db:"unit_price" json:"price"`
}

// ExtendedPrice returns quantity times the captured unit price
func (i OrderItem) ExtendedPrice() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// ShippingAddress is snapshotted onto the order row
type ShippingAddress struct {
	Name       string `db:"shipping_name" json:"name"`
	Address    string `db:"shipping_address" json:"address"`
	City       string `db:"shipping_city" json:"city"`
	Country    string `db:"shipping_country" json:"country"`
	PostalCode string `db:"shipping_postal_code" json:"postalCode"`
}

// PaymentDetails records what the processor reported about the charge
type PaymentDetails struct {
	Method        string     `db:"payment_method" json:"method,omitempty"`
	TransactionID string     `db:"payment_transaction_id" json:"transactionId,omitempty"`
	Amount        int64      `db:"payment_amount" json:"amount,omitempty"`
	Currency      string     `db:"payment_currency" json:"currency,omitempty"`
	PaidAt        *time.Time `db:"paid_at" json:"paidAt,omitempty"`
	Error         string     `db:"payment_error" json:"error,omitempty"`
}

// Enrollment is one user's relationship to one course
type Enrollment struct {
	ID                 int64         `db:"id" json:"id"`
	UserID             int64         `db:"user_id" json:"userId"`
	CourseID           int64         `db:"course_id" json:"courseId"`
	CompletedLessonIDs pq.Int64Array `db:"completed_lesson_ids" json:"completedLessonIds"`
	ProgressPercent    int           `db:"progress_percent" json:"progressPercent"`
	StartedAt          time.Time     `db:"started_at" json:"startedAt"`
	LastAccessedAt     time.Time     `db:"last_accessed_at" json:"lastAccessedAt"`
	CreatedAt          time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updatedAt"`
}

// HasCompleted reports whether the lesson is in the completed set
func (e *Enrollment) HasCompleted(lessonID int64) bool {
	for _, id := range e.CompletedLessonIDs {
		if id == lessonID {
			return true
		}
	}
	return false
}

// MarkCompleted adds the lesson to the completed set and reports whether it
// was newly added.
func (e *Enrollment) MarkCompleted(lessonID int64) bool {
	if e.HasCompleted(lessonID) {
		return false
	}
	e.CompletedLessonIDs = append(e.CompletedLessonIDs, lessonID)
	return true
}

// TargetType names the kind of entity a review is attached to
type TargetType string

const (
	TargetCourse TargetType = "Course"
	TargetPost   TargetType = "Post"
	TargetItem   TargetType = "Item"
)

func (t TargetType) Valid() bool {
	switch t {
	case TargetCourse, TargetPost, TargetItem:
		return true
	}
	return false
}

// Review is one rating left by one user on one target
type Review struct {
	ID         int64      `db:"id" json:"id"`
	UserID     int64      `db:"user_id" json:"userId"`
	TargetType TargetType `db:"target_type" json:"targetType"`
	TargetID   int64      `db:"target_id" json:"targetId"`
	Rating     int        `db:"rating" json:"rating"`
	Text       string     `db:"text" json:"text"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updatedAt"`
}

// MaxLineQuantity is the largest quantity one order line may carry; it matches
// the INTEGER column of order_items.
const MaxLineQuantity = math.MaxInt32

// Rating bounds
const (
	MinRating = 1
	MaxRating = 5
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
