// Package memory is an in-process implementation of the persistence and
// locking contracts used by the services. It backs unit tests and local runs
// with DATABASE_URL=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketplace-service/internal/apperrors"
	"marketplace-service/internal/models"

	"github.com/lib/pq"
)

type reviewKey struct {
	userID     int64
	targetType models.TargetType
	targetID   int64
}

type enrollmentKey struct {
	userID   int64
	courseID int64
}

type Store struct {
	mu sync.Mutex

	nextID int64

	items       map[int64]*models.Item
	courses     map[int64]*models.Course
	lessons     map[int64]*models.Lesson
	posts       map[int64]*models.Post
	orders      map[int64]*models.Order
	enrollments map[enrollmentKey]*models.Enrollment
	reviews     map[reviewKey]*models.Review
	processed   map[string]string

	// clock is overridable so ordering by creation time is deterministic
	clock func() time.Time
}

func NewStore() *Store {
	return &Store{
		items:       make(map[int64]*models.Item),
		courses:     make(map[int64]*models.Course),
		lessons:     make(map[int64]*models.Lesson),
		posts:       make(map[int64]*models.Post),
		orders:      make(map[int64]*models.Order),
		enrollments: make(map[enrollmentKey]*models.Enrollment),
		reviews:     make(map[reviewKey]*models.Review),
		processed:   make(map[string]string),
		clock:       time.Now,
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// now returns strictly increasing timestamps
func (s *Store) now() time.Time {
	return s.clock().Add(time.Duration(s.nextID) * time.Microsecond)
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error { return nil }

// Seeding

// AddItem inserts a catalog item and returns its id
func (s *Store) AddItem(title string, price int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.id()
	s.items[id] = &models.Item{ID: id, Title: title, Price: price, CreatedAt: s.now()}
	return id
}

// SetItemPrice changes a catalog price in place
func (s *Store) SetItemPrice(id, price int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if it, ok := s.items[id]; ok {
		it.Price = price
	}
}

// AddCourse inserts a course with n lessons and returns the course id and lesson ids
func (s *Store) AddCourse(ownerID int64, title string, n int) (int64, []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.id()
	s.courses[id] = &models.Course{ID: id, OwnerID: ownerID, Title: title, CreatedAt: s.now()}

	lessonIDs := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		lessonIDs = append(lessonIDs, s.addLesson(id, i))
	}
	return id, lessonIDs
}

// AddLesson appends a lesson to an existing course
func (s *Store) AddLesson(courseID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, l := range s.lessons {
		if l.CourseID == courseID {
			n++
		}
	}
	return s.addLesson(courseID, n)
}

func (s *Store) addLesson(courseID int64, position int) int64 {
	id := s.id()
	s.lessons[id] = &models.Lesson{ID: id, CourseID: courseID, Position: position}
	return id
}

// AddPost inserts a post and returns its id
func (s *Store) AddPost(authorID int64, title string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.id()
	s.posts[id] = &models.Post{ID: id, AuthorID: authorID, Title: title, CreatedAt: s.now()}
	return id
}

// Catalog

func (s *Store) GetItemsByIDs(ctx context.Context, ids []int64) ([]models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (s *Store) GetCourseByID(ctx context.Context, id int64) (*models.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.courses[id]
	if !ok {
		return nil, apperrors.NotFound("course", id)
	}
	cp := *c
	return &cp, nil
}

func (s *Store) CountLessons(ctx context.Context, courseID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, l := range s.lessons {
		if l.CourseID == courseID {
			n++
		}
	}
	return n, nil
}

func (s *Store) LessonBelongsToCourse(ctx context.Context, courseID, lessonID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lessons[lessonID]
	return ok && l.CourseID == courseID, nil
}

func (s *Store) aggregate(t models.TargetType, id int64) (*models.RatingAggregate, error) {
	switch t {
	case models.TargetCourse:
		if c, ok := s.courses[id]; ok {
			return &c.RatingAggregate, nil
		}
	case models.TargetPost:
		if p, ok := s.posts[id]; ok {
			return &p.RatingAggregate, nil
		}
	case models.TargetItem:
		if it, ok := s.items[id]; ok {
			return &it.RatingAggregate, nil
		}
	default:
		return nil, apperrors.Validation("unknown target type: %s", t)
	}
	return nil, apperrors.NotFound(string(t), id)
}

func (s *Store) TargetExists(ctx context.Context, t models.TargetType, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.aggregate(t, id)
	if apperrors.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) UpdateRatingAggregate(ctx context.Context, t models.TargetType, id int64, agg models.RatingAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.aggregate(t, id)
	if err != nil {
		return err
	}
	*cur = agg
	return nil
}

func (s *Store) GetRatingAggregate(ctx context.Context, t models.TargetType, id int64) (*models.RatingAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.aggregate(t, id)
	if err != nil {
		return nil, err
	}
	cp := *cur
	return &cp, nil
}

// Orders

func copyOrder(o *models.Order) models.Order {
	cp := *o
	cp.Items = append([]models.OrderItem{}, o.Items...)
	if o.PaymentDetails.PaidAt != nil {
		t := *o.PaymentDetails.PaidAt
		cp.PaymentDetails.PaidAt = &t
	}
	return cp
}

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order.ID = s.id()
	order.CreatedAt = s.now()
	order.UpdatedAt = order.CreatedAt
	for i := range order.Items {
		order.Items[i].ID = s.id()
		order.Items[i].OrderID = order.ID
	}

	stored := copyOrder(order)
	s.orders[order.ID] = &stored
	return nil
}

func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	cp := copyOrder(o)
	return &cp, nil
}

func (s *Store) listOrders(keep func(*models.Order) bool) []models.Order {
	out := []models.Order{}
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listOrders(func(o *models.Order) bool { return o.UserID == userID }), nil
}

func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listOrders(func(*models.Order) bool { return true }), nil
}

func (s *Store) UpdateOrderStatusFrom(ctx context.Context, id int64, from, to models.OrderStatus, details models.PaymentDetails) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.PaymentDetails = details
	o.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) SetPaymentIntent(ctx context.Context, id int64, method, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return apperrors.NotFound("order", id)
	}
	o.PaymentDetails.Method = method
	o.PaymentDetails.TransactionID = intentID
	o.UpdatedAt = s.now()
	return nil
}

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.processed[eventID]
	return ok, nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[eventID]; !ok {
		s.processed[eventID] = eventType
	}
	return nil
}

// Enrollments

func copyEnrollment(e *models.Enrollment) *models.Enrollment {
	cp := *e
	cp.CompletedLessonIDs = append(pq.Int64Array{}, e.CompletedLessonIDs...)
	return &cp
}

func (s *Store) EnrollOnce(ctx context.Context, e *models.Enrollment) (*models.Enrollment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := enrollmentKey{e.UserID, e.CourseID}
	if existing, ok := s.enrollments[key]; ok {
		return copyEnrollment(existing), false, nil
	}

	stored := copyEnrollment(e)
	stored.ID = s.id()
	now := s.now()
	stored.StartedAt = now
	stored.LastAccessedAt = now
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.enrollments[key] = stored
	return copyEnrollment(stored), true, nil
}

func (s *Store) GetEnrollment(ctx context.Context, userID, courseID int64) (*models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.enrollments[enrollmentKey{userID, courseID}]
	if !ok {
		return nil, apperrors.NotFound("enrollment", nil)
	}
	return copyEnrollment(e), nil
}

// UpdateEnrollmentTx holds the store lock for the whole read-modify-write, so
// fn must not call back into the store.
func (s *Store) UpdateEnrollmentTx(ctx context.Context, userID, courseID int64, fn func(*models.Enrollment) error) (*models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := enrollmentKey{userID, courseID}
	e, ok := s.enrollments[key]
	if !ok {
		return nil, apperrors.NotFound("enrollment", nil)
	}

	work := copyEnrollment(e)
	if err := fn(work); err != nil {
		return nil, err
	}
	work.UpdatedAt = s.now()
	s.enrollments[key] = work
	return copyEnrollment(work), nil
}

// Reviews

func (s *Store) UpsertReview(ctx context.Context, r *models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := reviewKey{r.UserID, r.TargetType, r.TargetID}
	now := s.now()
	if existing, ok := s.reviews[key]; ok {
		existing.Rating = r.Rating
		existing.Text = r.Text
		existing.UpdatedAt = now
		*r = *existing
		return nil
	}

	r.ID = s.id()
	r.CreatedAt = now
	r.UpdatedAt = now
	stored := *r
	s.reviews[key] = &stored
	return nil
}

func (s *Store) targetReviews(t models.TargetType, id int64) []models.Review {
	out := []models.Review{}
	for _, r := range s.reviews {
		if r.TargetType == t && r.TargetID == id {
			out = append(out, *r)
		}
	}
	return out
}

func (s *Store) ListReviews(ctx context.Context, t models.TargetType, id int64) ([]models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.targetReviews(t, id)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ListRatings(ctx context.Context, t models.TargetType, id int64) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reviews := s.targetReviews(t, id)
	ratings := make([]int, 0, len(reviews))
	for _, r := range reviews {
		ratings = append(ratings, r.Rating)
	}
	return ratings, nil
}
