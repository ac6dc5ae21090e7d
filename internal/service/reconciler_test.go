package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"marketplace-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func reconciliationPayload(t *testing.T, orderID int64, attempt int) []byte {
	t.Helper()

	raw, err := json.Marshal(&models.PaymentReconciliationEvent{
		BaseEvent:        models.NewBaseEvent(models.EventTypePaymentReconciliationRequired),
		ProcessorEventID: "evt_1",
		ProcessorType:    "payment_intent.succeeded",
		OrderID:          orderID,
		Outcome:          models.PaymentSucceeded,
		TransactionID:    "pi_1",
		Amount:           2500,
		Currency:         "usd",
		Cause:            "context deadline exceeded",
		Attempt:          attempt,
	})
	require.NoError(t, err)
	return raw
}

func TestReconcilerRequeuesThenApplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.pendingOrder(t, 7)

	flaky := &flakyOrderStore{Store: f.store, broken: true}
	orders := NewOrderService(flaky, f.publisher)
	payments := NewPaymentService(orders, f.store, f.locker, f.gateway, f.publisher, time.Second, time.Hour)

	var requeued *models.PaymentReconciliationEvent
	publisher := &mockPublisher{}
	publisher.On("PublishPaymentReconciliation", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { requeued = args.Get(1).(*models.PaymentReconciliationEvent) }).
		Return(nil).Once()
	reconciler := NewReconciler(payments, f.aggregates, publisher, 3, time.Millisecond)

	require.NoError(t, reconciler.HandlePaymentReconciliation(ctx, reconciliationPayload(t, order.ID, 0)))
	require.NotNil(t, requeued, "a failed pass must put the event back on the topic")
	assert.Equal(t, 1, requeued.Attempt)
	assert.Equal(t, "evt_1", requeued.ProcessorEventID)

	flaky.setBroken(false)
	raw, err := json.Marshal(requeued)
	require.NoError(t, err)
	require.NoError(t, reconciler.HandlePaymentReconciliation(ctx, raw))

	stored, err := f.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	publisher.AssertExpectations(t)
}

func TestReconcilerGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.pendingOrder(t, 7)

	flaky := &flakyOrderStore{Store: f.store, broken: true}
	orders := NewOrderService(flaky, f.publisher)
	payments := NewPaymentService(orders, f.store, f.locker, f.gateway, f.publisher, time.Second, time.Hour)

	publisher := &mockPublisher{}
	reconciler := NewReconciler(payments, f.aggregates, publisher, 3, time.Millisecond)

	require.NoError(t, reconciler.HandlePaymentReconciliation(ctx, reconciliationPayload(t, order.ID, 2)))
	publisher.AssertNotCalled(t, "PublishPaymentReconciliation", mock.Anything, mock.Anything)

	stored, err := f.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
}

func TestReconcilerReportsFailedRequeue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.pendingOrder(t, 7)

	flaky := &flakyOrderStore{Store: f.store, broken: true}
	orders := NewOrderService(flaky, f.publisher)
	payments := NewPaymentService(orders, f.store, f.locker, f.gateway, f.publisher, time.Second, time.Hour)

	publisher := &mockPublisher{}
	publisher.On("PublishPaymentReconciliation", mock.Anything, mock.Anything).
		Return(context.DeadlineExceeded).Once()
	reconciler := NewReconciler(payments, f.aggregates, publisher, 3, time.Millisecond)

	assert.Error(t, reconciler.HandlePaymentReconciliation(ctx, reconciliationPayload(t, order.ID, 0)))
	publisher.AssertExpectations(t)
}
