package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"marketplace-service/internal/apperrors"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// conditional status updates retried when the row moved underneath us
const maxTransitionAttempts = 3

// OrderService owns order creation and every status transition
type OrderService struct {
	store     OrderStore
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(store OrderStore, publisher Publisher) *OrderService {
	return &OrderService{
		store:     store,
		publisher: publisher,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	LineItems []LineItemRequest       `json:"lineItems"`
	Shipping  *models.ShippingAddress `json:"shipping"`
}

// LineItemRequest references a catalog item. Prices are never taken from the client.
type LineItemRequest struct {
	ItemID   int64 `json:"itemId"`
	Quantity int   `json:"quantity"`
}

// UpdateStatusRequest is the admin fulfillment action
type UpdateStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

// PaymentResult is a processor outcome to apply to an order
type PaymentResult struct {
	Outcome       models.PaymentOutcome
	TransactionID string
	Amount        int64
	Currency      string
	ErrorMessage  string
	EventID       string
}

// CreateOrder prices the line items from the catalog and persists a pending order
func (s *OrderService) CreateOrder(ctx context.Context, userID int64, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder", attribute.Int64("user_id", userID))
	defer span.End()

	lines, err := mergeLineItems(req.LineItems)
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	items, err := s.validateOrderItems(ctx, lines)
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues("unknown_items").Inc()
		return nil, err
	}

	order := &models.Order{
		UserID: userID,
		Status: models.OrderStatusPending,
		Items:  make([]models.OrderItem, 0, len(lines)),
	}
	if req.Shipping != nil {
		order.ShippingAddress = *req.Shipping
	}
	for _, line := range lines {
		order.Items = append(order.Items, models.OrderItem{
			ItemID:    line.ItemID,
			Quantity:  line.Quantity,
			UnitPrice: items[line.ItemID].Price,
		})
	}
	order.Total, err = s.calculateTotal(order.Items)
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		util.OrdersRejectedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
		zap.Int64("total", order.Total))

	if err := s.publisher.PublishOrderCreated(ctx, order); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	return order, nil
}

// mergeLineItems rejects empty or non-positive input and folds repeated item
// ids into one line, keeping first-seen order.
func mergeLineItems(in []LineItemRequest) ([]LineItemRequest, error) {
	if len(in) == 0 {
		return nil, apperrors.Validation("order must contain at least one line item")
	}

	index := make(map[int64]int, len(in))
	out := make([]LineItemRequest, 0, len(in))
	for _, li := range in {
		if li.ItemID <= 0 {
			return nil, apperrors.Validation("invalid item id: %d", li.ItemID)
		}
		if li.Quantity < 1 {
			return nil, apperrors.Validation("quantity for item %d must be at least 1", li.ItemID)
		}
		if li.Quantity > models.MaxLineQuantity {
			return nil, apperrors.Validation("quantity for item %d must be at most %d", li.ItemID, models.MaxLineQuantity)
		}
		if i, ok := index[li.ItemID]; ok {
			if out[i].Quantity > models.MaxLineQuantity-li.Quantity {
				return nil, apperrors.Validation("quantity for item %d must be at most %d", li.ItemID, models.MaxLineQuantity)
			}
			out[i].Quantity += li.Quantity
			continue
		}
		index[li.ItemID] = len(out)
		out = append(out, li)
	}
	return out, nil
}

// validateOrderItems validates that all items exist
func (s *OrderService) validateOrderItems(ctx context.Context, lines []LineItemRequest) (map[int64]*models.Item, error) {
	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ItemID
	}

	items, err := s.store.GetItemsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}

	byID := make(map[int64]*models.Item, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
	}

	var missing []int64
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		return nil, apperrors.Validation("unknown items: %v", missing)
	}

	return byID, nil
}

// calculateTotal sums the extended prices of the captured line items. A total
// that does not fit in int64 minor units is a validation error.
func (s *OrderService) calculateTotal(items []models.OrderItem) (int64, error) {
	var total int64
	for _, item := range items {
		if item.UnitPrice < 0 || item.Quantity < 1 {
			return 0, apperrors.Validation("invalid line for item %d", item.ItemID)
		}
		if item.UnitPrice > math.MaxInt64/int64(item.Quantity) {
			return 0, apperrors.Validation("order total is too large")
		}
		line := item.ExtendedPrice()
		if total > math.MaxInt64-line {
			return 0, apperrors.Validation("order total is too large")
		}
		total += line
	}
	return total, nil
}

// GetOrderForUser returns the order if it belongs to the caller
func (s *OrderService) GetOrderForUser(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrderForUser", attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperrors.Forbidden("order %d does not belong to the caller", orderID)
	}
	return order, nil
}

// ListMyOrders returns the caller's orders newest first
func (s *OrderService) ListMyOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListMyOrders")
	defer span.End()

	return s.store.ListOrdersByUser(ctx, userID)
}

// ListAllOrders returns every order newest first
func (s *OrderService) ListAllOrders(ctx context.Context) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListAllOrders")
	defer span.End()

	return s.store.ListOrders(ctx)
}

// UpdateFulfillmentStatus applies an admin transition on the fulfillment axis.
// Setting the current status again is a no-op.
func (s *OrderService) UpdateFulfillmentStatus(ctx context.Context, orderID int64, next models.OrderStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateFulfillmentStatus",
		attribute.Int64("order_id", orderID),
		attribute.String("status", string(next)))
	defer span.End()

	if !next.Valid() {
		return nil, apperrors.Validation("unknown order status: %q", next)
	}

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		order, err := s.store.GetOrderByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if order.Status == next {
			return order, nil
		}

		from := order.Status
		if !from.CanFulfill(next) {
			util.IllegalTransitionsTotal.WithLabelValues("admin").Inc()
			return nil, apperrors.IllegalTransition("order", string(from), string(next))
		}

		ok, err := s.store.UpdateOrderStatusFrom(ctx, orderID, from, next, order.PaymentDetails)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		order.Status = next
		util.OrderStatusTransitionsTotal.WithLabelValues(string(from), string(next)).Inc()
		s.logger.Info("Order status changed",
			zap.Int64("order_id", orderID),
			zap.String("from", string(from)),
			zap.String("to", string(next)))

		if err := s.publisher.PublishOrderStatusChanged(ctx, orderID, from, next); err != nil {
			s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
		}
		return order, nil
	}

	return nil, fmt.Errorf("order %d kept changing during status update", orderID)
}

// ApplyPaymentResult moves the order along the payment axis. Re-applying an
// outcome the order already reflects is a no-op that returns the current
// order; a failure never downgrades a settled payment.
func (s *OrderService) ApplyPaymentResult(ctx context.Context, orderID int64, result PaymentResult) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ApplyPaymentResult",
		attribute.Int64("order_id", orderID),
		attribute.String("outcome", string(result.Outcome)))
	defer span.End()

	if !result.Outcome.Valid() {
		return nil, apperrors.Validation("unknown payment outcome: %q", result.Outcome)
	}

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		order, err := s.store.GetOrderByID(ctx, orderID)
		if err != nil {
			return nil, err
		}

		from := order.Status
		next, action := from.OnPayment(result.Outcome)

		switch action {
		case models.TransitionNoOp:
			s.logger.Info("Payment result already reflected, ignoring",
				zap.Int64("order_id", orderID),
				zap.String("status", string(from)),
				zap.String("outcome", string(result.Outcome)),
				zap.String("event_id", result.EventID))
			return order, nil

		case models.TransitionReject:
			util.IllegalTransitionsTotal.WithLabelValues("processor").Inc()
			s.logger.Error("Payment result rejected by order state, needs manual reconciliation",
				zap.Int64("order_id", orderID),
				zap.String("status", string(from)),
				zap.String("outcome", string(result.Outcome)),
				zap.String("transaction_id", result.TransactionID),
				zap.String("event_id", result.EventID))
			return order, apperrors.IllegalTransition("order", string(from), string(result.Outcome))
		}

		details := s.paymentDetails(order.PaymentDetails, result)
		ok, err := s.store.UpdateOrderStatusFrom(ctx, orderID, from, next, details)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.Debug("Order changed during payment update, retrying",
				zap.Int64("order_id", orderID), zap.Int("attempt", attempt+1))
			continue
		}

		order.Status = next
		order.PaymentDetails = details
		util.OrderStatusTransitionsTotal.WithLabelValues(string(from), string(next)).Inc()
		s.afterPayment(ctx, order, from)
		return order, nil
	}

	return nil, fmt.Errorf("order %d kept changing during payment update", orderID)
}

func (s *OrderService) paymentDetails(cur models.PaymentDetails, result PaymentResult) models.PaymentDetails {
	details := cur
	if details.Method == "" {
		details.Method = "stripe"
	}
	if result.TransactionID != "" {
		details.TransactionID = result.TransactionID
	}
	details.Amount = result.Amount
	details.Currency = result.Currency

	if result.Outcome == models.PaymentSucceeded {
		paidAt := s.now().UTC()
		details.PaidAt = &paidAt
		details.Error = ""
	} else {
		details.Error = result.ErrorMessage
		if details.Error == "" {
			details.Error = "payment failed"
		}
	}
	return details
}

func (s *OrderService) afterPayment(ctx context.Context, order *models.Order, from models.OrderStatus) {
	fields := []zap.Field{
		zap.Int64("order_id", order.ID),
		zap.String("from", string(from)),
		zap.String("transaction_id", order.PaymentDetails.TransactionID),
	}

	switch order.Status {
	case models.OrderStatusPaid:
		util.OrdersPaidTotal.Inc()
		s.logger.Info("Order paid", fields...)
		if err := s.publisher.PublishOrderPaid(ctx, order); err != nil {
			s.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
		}
	case models.OrderStatusPaymentFailed:
		util.OrdersPaymentFailedTotal.Inc()
		s.logger.Warn("Order payment failed", append(fields, zap.String("reason", order.PaymentDetails.Error))...)
		if err := s.publisher.PublishOrderPaymentFailed(ctx, order); err != nil {
			s.logger.Error("Failed to publish OrderPaymentFailed event", zap.Error(err))
		}
	}
}

// RecordPaymentIntent stores the processor intent started for the order
func (s *OrderService) RecordPaymentIntent(ctx context.Context, orderID int64, method, intentID string) error {
	return s.store.SetPaymentIntent(ctx, orderID, method, intentID)
}
