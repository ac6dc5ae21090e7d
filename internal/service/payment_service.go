package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-service/internal/apperrors"
	"marketplace-service/internal/models"
	"marketplace-service/internal/processor"
	"marketplace-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const paymentMethodStripe = "stripe"

// WebhookOutcome classifies how a verified webhook delivery was handled. Every
// outcome is acknowledged to the processor.
type WebhookOutcome string

const (
	WebhookApplied        WebhookOutcome = "applied"
	WebhookIgnored        WebhookOutcome = "ignored"
	WebhookDuplicate      WebhookOutcome = "duplicate"
	WebhookOrderMissing   WebhookOutcome = "order_missing"
	WebhookRejected       WebhookOutcome = "rejected"
	WebhookMalformed      WebhookOutcome = "malformed"
	WebhookReconciliation WebhookOutcome = "reconciliation"
)

// PaymentService starts charges and reconciles processor callbacks with orders
type PaymentService struct {
	orders    *OrderService
	events    EventStore
	cache     IdempotencyCache
	gateway   PaymentGateway
	publisher Publisher
	timeout   time.Duration
	eventTTL  time.Duration
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service. cache may be nil.
func NewPaymentService(
	orders *OrderService,
	events EventStore,
	cache IdempotencyCache,
	gateway PaymentGateway,
	publisher Publisher,
	timeout time.Duration,
	eventTTL time.Duration,
) *PaymentService {
	return &PaymentService{
		orders:    orders,
		events:    events,
		cache:     cache,
		gateway:   gateway,
		publisher: publisher,
		timeout:   timeout,
		eventTTL:  eventTTL,
		logger:    util.GetLogger(),
	}
}

// CreateIntentRequest represents a request to start paying an order
type CreateIntentRequest struct {
	OrderID int64 `json:"orderId" binding:"required,gt=0"`
}

// IntentResponse is handed to the client to confirm the charge
type IntentResponse struct {
	ClientSecret string `json:"clientSecret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// PaymentStatusResponse is the buyer's view of an order's payment
type PaymentStatusResponse struct {
	OrderID        int64                 `json:"orderId"`
	Status         models.OrderStatus    `json:"status"`
	Total          int64                 `json:"total"`
	PaymentDetails models.PaymentDetails `json:"paymentDetails"`
}

// CreatePaymentIntent starts a processor charge for the caller's order
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, userID, orderID int64) (*IntentResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePaymentIntent", attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.orders.GetOrderForUser(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.AcceptsPaymentIntent() {
		return nil, apperrors.IllegalTransition("order", string(order.Status), "payment_intent")
	}

	start := time.Now()
	intent, err := s.gateway.CreatePaymentIntent(ctx, processor.IntentRequest{
		OrderID:  order.ID,
		UserID:   order.UserID,
		Amount:   order.Total,
		Currency: s.gateway.Currency(),
	})
	util.PaymentIntentLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.PaymentIntentsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	util.PaymentIntentsTotal.WithLabelValues("created").Inc()

	if err := s.orders.RecordPaymentIntent(ctx, order.ID, paymentMethodStripe, intent.ID); err != nil {
		return nil, fmt.Errorf("failed to record payment intent: %w", err)
	}

	s.logger.Info("Payment intent created",
		zap.Int64("order_id", order.ID),
		zap.String("intent_id", intent.ID),
		zap.Int64("amount", order.Total))

	return &IntentResponse{
		ClientSecret: intent.ClientSecret,
		Amount:       order.Total,
		Currency:     s.gateway.Currency(),
	}, nil
}

// PaymentStatus returns the payment view of the caller's order
func (s *PaymentService) PaymentStatus(ctx context.Context, userID, orderID int64) (*PaymentStatusResponse, error) {
	order, err := s.orders.GetOrderForUser(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return &PaymentStatusResponse{
		OrderID:        order.ID,
		Status:         order.Status,
		Total:          order.Total,
		PaymentDetails: order.PaymentDetails,
	}, nil
}

// HandleWebhook authenticates a processor delivery and applies it to the order.
// Only a signature failure is returned as an error; once the payload is
// verified every other outcome is acknowledged, and anything that could not be
// applied is logged and queued for reconciliation.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (WebhookOutcome, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleWebhook")
	defer span.End()

	evt, err := s.gateway.ParseWebhook(payload, sigHeader)
	if err != nil {
		if apperrors.IsSignature(err) {
			util.WebhookEventsTotal.WithLabelValues("invalid_signature").Inc()
			s.logger.Warn("Rejected webhook with invalid signature", zap.Error(err))
			return "", err
		}
		s.logger.Error("Verified webhook payload could not be decoded", zap.Error(err))
		return s.done(WebhookMalformed), nil
	}

	span.SetAttributes(attribute.String("event_id", evt.ID), attribute.String("event_type", evt.Type))
	log := s.logger.With(zap.String("event_id", evt.ID), zap.String("event_type", evt.Type))

	if evt.Kind == processor.KindIgnored {
		log.Debug("Ignoring webhook event type")
		return s.done(WebhookIgnored), nil
	}

	start := time.Now()
	defer func() {
		util.WebhookProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	// Persistence below must not be cut short by the processor hanging up.
	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if s.alreadyProcessed(workCtx, evt.ID) {
		log.Info("Webhook event already processed")
		return s.done(WebhookDuplicate), nil
	}

	if evt.OrderID == 0 {
		log.Warn("Webhook event carries no usable order id", zap.String("order_ref", evt.OrderRef))
		s.markProcessed(ctx, evt.ID, evt.Type)
		return s.done(WebhookOrderMissing), nil
	}

	result := paymentResultFromEvent(evt)
	_, err = s.orders.ApplyPaymentResult(workCtx, evt.OrderID, result)
	switch {
	case err == nil:
		s.markProcessed(ctx, evt.ID, evt.Type)
		return s.done(WebhookApplied), nil

	case apperrors.IsNotFound(err):
		log.Warn("Webhook event references a missing order", zap.Int64("order_id", evt.OrderID))
		s.markProcessed(ctx, evt.ID, evt.Type)
		return s.done(WebhookOrderMissing), nil

	case apperrors.IsIllegalTransition(err):
		s.markProcessed(ctx, evt.ID, evt.Type)
		return s.done(WebhookRejected), nil

	case apperrors.IsValidation(err):
		log.Error("Webhook event could not be mapped to a payment result", zap.Error(err))
		s.markProcessed(ctx, evt.ID, evt.Type)
		return s.done(WebhookMalformed), nil
	}

	log.Error("Failed to apply webhook event, acknowledging for reconciliation",
		zap.Int64("order_id", evt.OrderID),
		zap.String("transaction_id", evt.TransactionID),
		zap.Error(err))
	util.ReconciliationPendingTotal.Inc()
	s.requestReconciliation(ctx, evt, result, err)
	return s.done(WebhookReconciliation), nil
}

func (s *PaymentService) done(outcome WebhookOutcome) WebhookOutcome {
	util.WebhookEventsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func paymentResultFromEvent(evt *processor.PaymentEvent) PaymentResult {
	outcome := models.PaymentFailed
	if evt.Kind == processor.KindChargeSucceeded {
		outcome = models.PaymentSucceeded
	}
	return PaymentResult{
		Outcome:       outcome,
		TransactionID: evt.TransactionID,
		Amount:        evt.Amount,
		Currency:      evt.Currency,
		ErrorMessage:  evt.ErrorMessage,
		EventID:       evt.ID,
	}
}

func processedKey(eventID string) string {
	return "webhook:" + eventID
}

// alreadyProcessed consults the cache first and the database second. Lookup
// errors count as not processed; the state machine absorbs a second apply.
func (s *PaymentService) alreadyProcessed(ctx context.Context, eventID string) bool {
	if s.cache != nil {
		seen, err := s.cache.CheckIdempotencyKey(ctx, processedKey(eventID))
		if err != nil {
			s.logger.Warn("Idempotency cache lookup failed", zap.String("event_id", eventID), zap.Error(err))
		} else if seen {
			return true
		}
	}

	processed, err := s.events.IsEventProcessed(ctx, eventID)
	if err != nil {
		s.logger.Warn("Processed event lookup failed", zap.String("event_id", eventID), zap.Error(err))
		return false
	}
	return processed
}

// afterWork bounds follow-up writes with a budget of their own, so bookkeeping
// still happens when the apply itself ran out of time.
func (s *PaymentService) afterWork(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

func (s *PaymentService) markProcessed(ctx context.Context, eventID, eventType string) {
	ctx, cancel := s.afterWork(ctx)
	defer cancel()

	if err := s.events.MarkEventProcessed(ctx, eventID, eventType); err != nil {
		s.logger.Error("Failed to mark event processed", zap.String("event_id", eventID), zap.Error(err))
	}
	if s.cache != nil {
		if err := s.cache.SetIdempotencyKey(ctx, processedKey(eventID), eventType, s.eventTTL); err != nil {
			s.logger.Warn("Failed to cache processed event", zap.String("event_id", eventID), zap.Error(err))
		}
	}
}

func (s *PaymentService) requestReconciliation(ctx context.Context, evt *processor.PaymentEvent, result PaymentResult, cause error) {
	ctx, cancel := s.afterWork(ctx)
	defer cancel()

	event := &models.PaymentReconciliationEvent{
		BaseEvent:        models.NewBaseEvent(models.EventTypePaymentReconciliationRequired),
		ProcessorEventID: evt.ID,
		ProcessorType:    evt.Type,
		OrderID:          evt.OrderID,
		Outcome:          result.Outcome,
		TransactionID:    result.TransactionID,
		Amount:           result.Amount,
		Currency:         result.Currency,
		ErrorMessage:     result.ErrorMessage,
		Cause:            cause.Error(),
	}
	if err := s.publisher.PublishPaymentReconciliation(ctx, event); err != nil {
		s.logger.Error("Failed to queue webhook event for reconciliation, manual action required",
			zap.String("event_id", evt.ID),
			zap.Int64("order_id", evt.OrderID),
			zap.String("outcome", string(result.Outcome)),
			zap.String("transaction_id", result.TransactionID),
			zap.Error(err))
	}
}

// Reconcile re-applies a queued processor event. An error means the event was
// not applied; requeueing is up to the caller.
func (s *PaymentService) Reconcile(ctx context.Context, event *models.PaymentReconciliationEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.Reconcile",
		attribute.String("event_id", event.ProcessorEventID),
		attribute.Int64("order_id", event.OrderID))
	defer span.End()

	processed, err := s.events.IsEventProcessed(ctx, event.ProcessorEventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		util.ReconciliationResolvedTotal.WithLabelValues("duplicate").Inc()
		s.logger.Info("Event already processed", zap.String("event_id", event.ProcessorEventID))
		return nil
	}

	_, err = s.orders.ApplyPaymentResult(ctx, event.OrderID, PaymentResult{
		Outcome:       event.Outcome,
		TransactionID: event.TransactionID,
		Amount:        event.Amount,
		Currency:      event.Currency,
		ErrorMessage:  event.ErrorMessage,
		EventID:       event.ProcessorEventID,
	})
	switch {
	case err == nil:
		util.ReconciliationResolvedTotal.WithLabelValues("applied").Inc()
	case apperrors.IsNotFound(err), apperrors.IsIllegalTransition(err), apperrors.IsValidation(err):
		util.ReconciliationResolvedTotal.WithLabelValues("dropped").Inc()
		s.logger.Warn("Reconciliation dropped event",
			zap.String("event_id", event.ProcessorEventID),
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
	default:
		util.ReconciliationResolvedTotal.WithLabelValues("retry").Inc()
		return fmt.Errorf("reconcile event %s: %w", event.ProcessorEventID, err)
	}

	s.markProcessed(ctx, event.ProcessorEventID, event.ProcessorType)
	return nil
}
