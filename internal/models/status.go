package models

// OrderStatus is a state of the order lifecycle
type OrderStatus string

// Order statuses
const (
	OrderStatusPending       OrderStatus = "pending"
	OrderStatusPaid          OrderStatus = "paid"
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
	OrderStatusShipped       OrderStatus = "shipped"
	OrderStatusCompleted     OrderStatus = "completed"
	OrderStatusCancelled     OrderStatus = "cancelled"
)

// PaymentOutcome is the processor-reported result of a charge
type PaymentOutcome string

const (
	PaymentSucceeded PaymentOutcome = "succeeded"
	PaymentFailed    PaymentOutcome = "failed"
)

func (o PaymentOutcome) Valid() bool {
	return o == PaymentSucceeded || o == PaymentFailed
}

// TransitionAction says what a payment result does to an order in a given status
type TransitionAction int

const (
	// TransitionApply moves the order to the returned status.
	TransitionApply TransitionAction = iota
	// TransitionNoOp leaves the order as it is and is not an error.
	TransitionNoOp
	// TransitionReject leaves the order as it is and is reported as illegal.
	TransitionReject
)

// fulfillment axis, driven by admin actions
var fulfillmentTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusCancelled},
	OrderStatusPaid:    {OrderStatusShipped, OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusShipped: {OrderStatusCompleted},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusPaymentFailed,
		OrderStatusShipped, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentSettled reports whether the order has a recorded successful charge
func (s OrderStatus) PaymentSettled() bool {
	return s == OrderStatusPaid || s == OrderStatusShipped || s == OrderStatusCompleted
}

// AcceptsPaymentIntent reports whether a new charge may be started for the order
func (s OrderStatus) AcceptsPaymentIntent() bool {
	return s == OrderStatusPending || s == OrderStatusPaymentFailed
}

// CanFulfill reports whether an admin may move the order from s to next
func (s OrderStatus) CanFulfill(next OrderStatus) bool {
	for _, allowed := range fulfillmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OnPayment resolves a processor outcome against the current status.
// A success is never downgraded by a later failure, and repeated deliveries
// of an already applied outcome are no-ops.
func (s OrderStatus) OnPayment(outcome PaymentOutcome) (OrderStatus, TransitionAction) {
	switch outcome {
	case PaymentSucceeded:
		switch {
		case s == OrderStatusPending || s == OrderStatusPaymentFailed:
			return OrderStatusPaid, TransitionApply
		case s.PaymentSettled():
			return s, TransitionNoOp
		}
	case PaymentFailed:
		switch {
		case s == OrderStatusPending:
			return OrderStatusPaymentFailed, TransitionApply
		case s == OrderStatusPaymentFailed || s == OrderStatusCancelled:
			return s, TransitionNoOp
		case s.PaymentSettled():
			return s, TransitionReject
		}
	}
	return s, TransitionReject
}
