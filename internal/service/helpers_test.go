package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketplace-service/internal/apperrors"
	"marketplace-service/internal/models"
	"marketplace-service/internal/processor"
	"marketplace-service/internal/store/memory"

	"github.com/stretchr/testify/mock"
)

type mockPublisher struct {
	mock.Mock
}

func newMockPublisher() *mockPublisher {
	p := &mockPublisher{}
	p.On("PublishOrderCreated", mock.Anything, mock.Anything).Return(nil).Maybe()
	p.On("PublishOrderPaid", mock.Anything, mock.Anything).Return(nil).Maybe()
	p.On("PublishOrderPaymentFailed", mock.Anything, mock.Anything).Return(nil).Maybe()
	p.On("PublishOrderStatusChanged", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	p.On("PublishReviewSubmitted", mock.Anything, mock.Anything).Return(nil).Maybe()
	p.On("PublishLessonCompleted", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	p.On("PublishPaymentReconciliation", mock.Anything, mock.Anything).Return(nil).Maybe()
	return p
}

func (m *mockPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	return m.Called(ctx, order).Error(0)
}

func (m *mockPublisher) PublishOrderPaid(ctx context.Context, order *models.Order) error {
	return m.Called(ctx, order).Error(0)
}

func (m *mockPublisher) PublishOrderPaymentFailed(ctx context.Context, order *models.Order) error {
	return m.Called(ctx, order).Error(0)
}

func (m *mockPublisher) PublishOrderStatusChanged(ctx context.Context, orderID int64, from, to models.OrderStatus) error {
	return m.Called(ctx, orderID, from, to).Error(0)
}

func (m *mockPublisher) PublishReviewSubmitted(ctx context.Context, review *models.Review) error {
	return m.Called(ctx, review).Error(0)
}

func (m *mockPublisher) PublishLessonCompleted(ctx context.Context, enrollment *models.Enrollment, lessonID int64) error {
	return m.Called(ctx, enrollment, lessonID).Error(0)
}

func (m *mockPublisher) PublishPaymentReconciliation(ctx context.Context, event *models.PaymentReconciliationEvent) error {
	return m.Called(ctx, event).Error(0)
}

// fakeGateway returns whatever event was registered for a signature header;
// any other header fails verification.
type fakeGateway struct {
	mu      sync.Mutex
	events  map[string]*processor.PaymentEvent
	intents []processor.IntentRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{events: make(map[string]*processor.PaymentEvent)}
}

func (g *fakeGateway) sign(evt *processor.PaymentEvent) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	sig := "sig-" + evt.ID
	g.events[sig] = evt
	return sig
}

func (g *fakeGateway) Currency() string { return "usd" }

func (g *fakeGateway) CreatePaymentIntent(ctx context.Context, req processor.IntentRequest) (*processor.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.intents = append(g.intents, req)
	return &processor.Intent{ID: "pi_test", ClientSecret: "pi_test_secret"}, nil
}

func (g *fakeGateway) ParseWebhook(payload []byte, sigHeader string) (*processor.PaymentEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	evt, ok := g.events[sigHeader]
	if !ok {
		return nil, apperrors.Signature(errors.New("no valid signature found"))
	}
	cp := *evt
	return &cp, nil
}

// flakyOrderStore fails conditional status updates while broken is set
type flakyOrderStore struct {
	*memory.Store
	mu     sync.Mutex
	broken bool
}

func (f *flakyOrderStore) setBroken(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken = b
}

func (f *flakyOrderStore) UpdateOrderStatusFrom(ctx context.Context, id int64, from, to models.OrderStatus, details models.PaymentDetails) (bool, error) {
	f.mu.Lock()
	broken := f.broken
	f.mu.Unlock()

	if broken {
		return false, context.DeadlineExceeded
	}
	return f.Store.UpdateOrderStatusFrom(ctx, id, from, to, details)
}

// stallingOrderStore holds conditional status updates until the caller's
// context expires, like a database that stopped answering
type stallingOrderStore struct {
	*memory.Store
}

func (s *stallingOrderStore) UpdateOrderStatusFrom(ctx context.Context, id int64, from, to models.OrderStatus, details models.PaymentDetails) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

type fixture struct {
	store       *memory.Store
	locker      *memory.Locker
	publisher   *mockPublisher
	gateway     *fakeGateway
	aggregates  *AggregateRecomputer
	orders      *OrderService
	payments    *PaymentService
	enrollments *EnrollmentService
	reviews     *ReviewService
	reconciler  *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:     memory.NewStore(),
		locker:    memory.NewLocker(),
		publisher: newMockPublisher(),
		gateway:   newFakeGateway(),
	}
	f.aggregates = NewAggregateRecomputer(f.store, f.locker, time.Second, 200*time.Millisecond)
	f.orders = NewOrderService(f.store, f.publisher)
	f.payments = NewPaymentService(f.orders, f.store, f.locker, f.gateway, f.publisher, time.Second, time.Hour)
	f.enrollments = NewEnrollmentService(f.store, f.aggregates, f.publisher)
	f.reviews = NewReviewService(f.store, f.aggregates, f.publisher)
	f.reconciler = NewReconciler(f.payments, f.aggregates, f.publisher, 3, time.Millisecond)
	return f
}

// pendingOrder creates the 2 x $10 + 1 x $5 order used across tests
func (f *fixture) pendingOrder(t *testing.T, userID int64) *models.Order {
	t.Helper()

	a := f.store.AddItem("notebook", 1000)
	b := f.store.AddItem("pen", 500)
	order, err := f.orders.CreateOrder(context.Background(), userID, &CreateOrderRequest{
		LineItems: []LineItemRequest{{ItemID: a, Quantity: 2}, {ItemID: b, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func chargeEvent(id string, kind processor.EventKind, orderID int64) *processor.PaymentEvent {
	evt := &processor.PaymentEvent{
		ID:            id,
		Kind:          kind,
		OrderID:       orderID,
		TransactionID: "pi_" + id,
		Amount:        2500,
		Currency:      "usd",
	}
	switch kind {
	case processor.KindChargeSucceeded:
		evt.Type = processor.EventPaymentIntentSucceeded
	case processor.KindChargeFailed:
		evt.Type = processor.EventPaymentIntentFailed
		evt.ErrorMessage = "Your card was declined."
	default:
		evt.Type = "customer.created"
	}
	return evt
}
