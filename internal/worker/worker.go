package worker

import (
	"context"

	"marketplace-service/internal/broker"
	"marketplace-service/internal/models"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// ReconciliationWorker retries webhook events that were acknowledged without
// being applied
type ReconciliationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewReconciliationWorker creates a new reconciliation worker
func NewReconciliationWorker(consumer *broker.Consumer, reconciler *service.Reconciler) *ReconciliationWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.On(models.EventTypePaymentReconciliationRequired, reconciler.HandlePaymentReconciliation)

	return &ReconciliationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *ReconciliationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting reconciliation worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ReconciliationWorker) Stop() error {
	w.logger.Info("Stopping reconciliation worker")
	return w.consumer.Close()
}

// AggregateWorker re-runs rating recomputation for every review write
type AggregateWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewAggregateWorker creates a new aggregate worker
func NewAggregateWorker(consumer *broker.Consumer, reconciler *service.Reconciler) *AggregateWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.On(models.EventTypeReviewSubmitted, reconciler.HandleReviewSubmitted)

	return &AggregateWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *AggregateWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting aggregate worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AggregateWorker) Stop() error {
	w.logger.Info("Stopping aggregate worker")
	return w.consumer.Close()
}
