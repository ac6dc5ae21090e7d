package service

import (
	"context"
	"testing"
	"time"

	"marketplace-service/internal/apperrors"
	"marketplace-service/internal/models"
	"marketplace-service/internal/processor"
	"marketplace-service/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.pendingOrder(t, 7)
	f.gateway.sign(chargeEvent("evt_1", processor.KindChargeSucceeded, order.ID))

	_, err := f.payments.HandleWebhook(ctx, []byte(`{}`), "forged")
	assert.True(t, apperrors.IsSignature(err))

	stored, err := f.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
}

func TestHandleWebhookPaysOrderOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.pendingOrder(t, 7)
	sig := f.gateway.sign(chargeEvent("evt_1", processor.KindChargeSucceeded, order.ID))

	outcome, err := f.payments.HandleWebhook(ctx, []byte(`{}`), sig)
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, outcome)

	stored, err := f.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	assert.NotNil(t, stored.PaymentDetails.PaidAt)
	assert.Equal(t, "pi_evt_1", stored.PaymentDetails.TransactionID)
	assert.Equal(t, int64(2500), stored.PaymentDetails.Amount)

	outcome, err = f.payments.HandleWebhook(ctx, []byte(`{}`), sig)
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, outcome)

	again, err := f.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.PaymentDetails, again.PaymentDetails)
	f.publisher.AssertNumberOfCalls(t, "PublishOrderPaid", 1)
}

func TestHandleWebhookSameOutcomeUnderNewEventID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.pendingOrder(t, 7)

	for _, id := range []string{"evt_1", "evt_1_retry"} {
		sig := f.gateway.sign(chargeEvent(id, processor.KindChargeSucceeded, order.ID))
		_, err := f.payments.HandleWebhook(ctx, []byte(`{}`), sig)
		require.NoError(t, err)
	}

	stored, err := f.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	f.publisher.AssertNumberOfCalls(t, "PublishOrderPaid", 1)
}

func TestHandleWebhookLateFailureKeepsPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.pendingOrder(t, 7)

	_, err := f.payments.HandleWebhook(ctx, nil, f.gateway.sign(chargeEvent("evt_ok", processor.KindChargeSucceeded, order.ID)))
	require.NoError(t, err)

	outcome, err := f.payments.HandleWebhook(ctx, nil, f.gateway.sign(chargeEvent("evt_fail", processor.KindChargeFailed, order.ID)))
	require.NoError(t, err)
	assert.Equal(t, WebhookRejected, outcome)

	stored, err := f.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)

	processed, err := f.store.IsEventProcessed(ctx, "evt_fail")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestHandleWebhookAcknowledgesUnmappableEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		evt  *processor.PaymentEvent
		want WebhookOutcome
	}{
		{"ignored type", chargeEvent("evt_a", processor.KindIgnored, 0), WebhookIgnored},
		{"no order metadata", chargeEvent("evt_b", processor.KindChargeSucceeded, 0), WebhookOrderMissing},
		{"unknown order", chargeEvent("evt_c", processor.KindChargeSucceeded, 404), WebhookOrderMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := f.payments.HandleWebhook(ctx, nil, f.gateway.sign(tt.evt))
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome)
		})
	}
}

func TestHandleWebhookQueuesReconciliationOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.pendingOrder(t, 7)

	flaky := &flakyOrderStore{Store: f.store, broken: true}
	orders := NewOrderService(flaky, f.publisher)
	payments := NewPaymentService(orders, f.store, f.locker, f.gateway, f.publisher, time.Second, time.Hour)

	var queued *models.PaymentReconciliationEvent
	publisher := &mockPublisher{}
	publisher.On("PublishPaymentReconciliation", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { queued = args.Get(1).(*models.PaymentReconciliationEvent) }).
		Return(nil).Once()
	publisher.On("PublishOrderPaid", mock.Anything, mock.Anything).Return(nil).Maybe()
	payments.publisher = publisher
	orders.publisher = publisher

	outcome, err := payments.HandleWebhook(ctx, nil, f.gateway.sign(chargeEvent("evt_1", processor.KindChargeSucceeded, order.ID)))
	require.NoError(t, err)
	assert.Equal(t, WebhookReconciliation, outcome)
	require.NotNil(t, queued)
	assert.Equal(t, "evt_1", queued.ProcessorEventID)
	assert.Equal(t, models.PaymentSucceeded, queued.Outcome)
	assert.Equal(t, order.ID, queued.OrderID)

	processed, err := f.store.IsEventProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, processed, "unapplied events stay eligible for retry")

	assert.Error(t, payments.Reconcile(ctx, queued), "still broken")

	flaky.setBroken(false)
	require.NoError(t, payments.Reconcile(ctx, queued))

	stored, err := f.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)

	processed, err = f.store.IsEventProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, processed)
	publisher.AssertExpectations(t)
}

func TestHandleWebhookQueuesReconciliationAfterTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.pendingOrder(t, 7)

	stalled := &stallingOrderStore{Store: f.store}
	orders := NewOrderService(stalled, f.publisher)
	payments := NewPaymentService(orders, f.store, f.locker, f.gateway, f.publisher, 50*time.Millisecond, time.Hour)

	var publishErr error
	publisher := &mockPublisher{}
	publisher.On("PublishPaymentReconciliation", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { publishErr = args.Get(0).(context.Context).Err() }).
		Return(nil).Once()
	payments.publisher = publisher

	outcome, err := payments.HandleWebhook(ctx, nil, f.gateway.sign(chargeEvent("evt_1", processor.KindChargeSucceeded, order.ID)))
	require.NoError(t, err)
	assert.Equal(t, WebhookReconciliation, outcome)
	assert.NoError(t, publishErr, "reconciliation must be queued on a live context")
	publisher.AssertExpectations(t)
}

func TestHandleWebhookFallsBackToDatabaseDedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.pendingOrder(t, 7)

	locker := memory.NewLocker()
	locker.FailOn = context.DeadlineExceeded
	payments := NewPaymentService(f.orders, f.store, locker, f.gateway, f.publisher, time.Second, time.Hour)

	sig := f.gateway.sign(chargeEvent("evt_1", processor.KindChargeSucceeded, order.ID))
	outcome, err := payments.HandleWebhook(ctx, nil, sig)
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, outcome)

	outcome, err = payments.HandleWebhook(ctx, nil, sig)
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, outcome)
}

func TestHandleWebhookSurvivesCancelledRequest(t *testing.T) {
	f := newFixture(t)
	order := f.pendingOrder(t, 7)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := f.payments.HandleWebhook(ctx, nil, f.gateway.sign(chargeEvent("evt_1", processor.KindChargeSucceeded, order.ID)))
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, outcome)
}

func TestCreatePaymentIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.pendingOrder(t, 7)

	_, err := f.payments.CreatePaymentIntent(ctx, 8, order.ID)
	assert.True(t, apperrors.IsAuthorization(err))

	_, err = f.payments.CreatePaymentIntent(ctx, 7, 404)
	assert.True(t, apperrors.IsNotFound(err))

	resp, err := f.payments.CreatePaymentIntent(ctx, 7, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_test_secret", resp.ClientSecret)
	assert.Equal(t, int64(2500), resp.Amount)

	require.Len(t, f.gateway.intents, 1)
	assert.Equal(t, order.ID, f.gateway.intents[0].OrderID)
	assert.Equal(t, int64(7), f.gateway.intents[0].UserID)

	status, err := f.payments.PaymentStatus(ctx, 7, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_test", status.PaymentDetails.TransactionID)
	assert.Equal(t, "stripe", status.PaymentDetails.Method)

	_, err = f.orders.ApplyPaymentResult(ctx, order.ID, PaymentResult{Outcome: models.PaymentSucceeded})
	require.NoError(t, err)

	_, err = f.payments.CreatePaymentIntent(ctx, 7, order.ID)
	assert.True(t, apperrors.IsIllegalTransition(err))
}
