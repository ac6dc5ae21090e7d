package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// Reconciler handles the events consumed by the background workers
type Reconciler struct {
	payments    *PaymentService
	aggregates  *AggregateRecomputer
	publisher   Publisher
	maxAttempts int
	retryDelay  time.Duration
	logger      *zap.Logger
}

// NewReconciler creates a new reconciler. A payment event that keeps failing is
// requeued up to maxAttempts times, waiting attempt*retryDelay before each requeue.
func NewReconciler(payments *PaymentService, aggregates *AggregateRecomputer, publisher Publisher, maxAttempts int, retryDelay time.Duration) *Reconciler {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Reconciler{
		payments:    payments,
		aggregates:  aggregates,
		publisher:   publisher,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		logger:      util.GetLogger(),
	}
}

// HandlePaymentReconciliation retries a webhook event that could not be applied
// inline. The consumer commits past whatever this returns, so a failed pass
// puts the event back on the topic instead of relying on redelivery.
func (r *Reconciler) HandlePaymentReconciliation(ctx context.Context, raw []byte) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandlePaymentReconciliation")
	defer span.End()

	var event models.PaymentReconciliationEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return fmt.Errorf("failed to unmarshal PaymentReconciliation event: %w", err)
	}

	log := r.logger.With(
		zap.String("event_id", event.ProcessorEventID),
		zap.Int64("order_id", event.OrderID),
		zap.Int("attempt", event.Attempt+1))
	log.Info("Reconciling webhook event", zap.String("cause", event.Cause))

	err := r.payments.Reconcile(ctx, &event)
	if err == nil {
		return nil
	}

	event.Attempt++
	event.Cause = err.Error()
	if event.Attempt >= r.maxAttempts {
		util.ReconciliationResolvedTotal.WithLabelValues("exhausted").Inc()
		log.Error("Giving up on webhook event, manual action required",
			zap.String("outcome", string(event.Outcome)),
			zap.String("transaction_id", event.TransactionID),
			zap.Error(err))
		return nil
	}

	log.Warn("Reconciliation failed, requeueing", zap.Error(err))
	select {
	case <-time.After(r.retryDelay * time.Duration(event.Attempt)):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := r.publisher.PublishPaymentReconciliation(ctx, &event); err != nil {
		log.Error("Failed to requeue webhook event, manual action required", zap.Error(err))
		return fmt.Errorf("requeue reconciliation event %s: %w", event.ProcessorEventID, err)
	}
	return nil
}

// HandleReviewSubmitted recomputes the rating aggregate of the reviewed target.
// Events for one target share a partition, so this pass runs single-writer per
// target and corrects any lost update from concurrent inline recomputes.
func (r *Reconciler) HandleReviewSubmitted(ctx context.Context, raw []byte) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleReviewSubmitted")
	defer span.End()

	var event models.ReviewSubmittedEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return fmt.Errorf("failed to unmarshal ReviewSubmitted event: %w", err)
	}

	_, err := r.aggregates.RecomputeRating(ctx, event.TargetType, event.TargetID)
	return err
}
