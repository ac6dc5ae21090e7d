package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnPayment(t *testing.T) {
	tests := []struct {
		name    string
		from    OrderStatus
		outcome PaymentOutcome
		want    OrderStatus
		action  TransitionAction
	}{
		{"pending succeeds", OrderStatusPending, PaymentSucceeded, OrderStatusPaid, TransitionApply},
		{"pending fails", OrderStatusPending, PaymentFailed, OrderStatusPaymentFailed, TransitionApply},
		{"duplicate success", OrderStatusPaid, PaymentSucceeded, OrderStatusPaid, TransitionNoOp},
		{"late failure after paid", OrderStatusPaid, PaymentFailed, OrderStatusPaid, TransitionReject},
		{"failure after shipped", OrderStatusShipped, PaymentFailed, OrderStatusShipped, TransitionReject},
		{"success after shipped", OrderStatusShipped, PaymentSucceeded, OrderStatusShipped, TransitionNoOp},
		{"retry after failure", OrderStatusPaymentFailed, PaymentSucceeded, OrderStatusPaid, TransitionApply},
		{"duplicate failure", OrderStatusPaymentFailed, PaymentFailed, OrderStatusPaymentFailed, TransitionNoOp},
		{"success on cancelled", OrderStatusCancelled, PaymentSucceeded, OrderStatusCancelled, TransitionReject},
		{"unknown outcome", OrderStatusPending, PaymentOutcome("refunded"), OrderStatusPending, TransitionReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, action := tt.from.OnPayment(tt.outcome)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.action, action)
		})
	}
}

func TestNoTransitionReentersPending(t *testing.T) {
	all := []OrderStatus{
		OrderStatusPending, OrderStatusPaid, OrderStatusPaymentFailed,
		OrderStatusShipped, OrderStatusCompleted, OrderStatusCancelled,
	}
	for _, from := range all {
		assert.False(t, from.CanFulfill(OrderStatusPending), "fulfillment from %s", from)
		for _, outcome := range []PaymentOutcome{PaymentSucceeded, PaymentFailed} {
			next, action := from.OnPayment(outcome)
			if action == TransitionApply {
				assert.NotEqual(t, OrderStatusPending, next)
			}
		}
	}
}

func TestCanFulfill(t *testing.T) {
	assert.True(t, OrderStatusPaid.CanFulfill(OrderStatusShipped))
	assert.True(t, OrderStatusShipped.CanFulfill(OrderStatusCompleted))
	assert.True(t, OrderStatusPending.CanFulfill(OrderStatusCancelled))
	assert.False(t, OrderStatusPending.CanFulfill(OrderStatusShipped))
	assert.False(t, OrderStatusCompleted.CanFulfill(OrderStatusCancelled))
	assert.False(t, OrderStatusPaymentFailed.CanFulfill(OrderStatusPaid))
}

func TestEnrollmentMarkCompleted(t *testing.T) {
	e := &Enrollment{}

	assert.True(t, e.MarkCompleted(7))
	assert.False(t, e.MarkCompleted(7))
	assert.True(t, e.HasCompleted(7))
	assert.Len(t, e.CompletedLessonIDs, 1)
}

func TestTargetTypeValid(t *testing.T) {
	assert.True(t, TargetCourse.Valid())
	assert.True(t, TargetItem.Valid())
	assert.False(t, TargetType("course").Valid())
}
