package service

import (
	"context"
	"fmt"
	"strings"

	"marketplace-service/internal/apperrors"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ReviewService owns reviews: one per (user, target), overwritten on resubmit
type ReviewService struct {
	store      ReviewStore
	aggregates *AggregateRecomputer
	publisher  Publisher
	logger     *zap.Logger
}

// NewReviewService creates a new review service
func NewReviewService(store ReviewStore, aggregates *AggregateRecomputer, publisher Publisher) *ReviewService {
	return &ReviewService{
		store:      store,
		aggregates: aggregates,
		publisher:  publisher,
		logger:     util.GetLogger(),
	}
}

// SubmitReviewRequest represents a request to rate a target
type SubmitReviewRequest struct {
	TargetType models.TargetType `json:"targetType" binding:"required"`
	TargetID   int64             `json:"targetId" binding:"required,gt=0"`
	Rating     int               `json:"rating" binding:"required"`
	Text       string            `json:"text" binding:"max=5000"`
}

// SubmitReview creates or overwrites the caller's review of a target and
// refreshes the target's rating aggregate.
func (s *ReviewService) SubmitReview(ctx context.Context, userID int64, req *SubmitReviewRequest) (*models.Review, error) {
	ctx, span := util.StartSpan(ctx, "ReviewService.SubmitReview",
		attribute.String("target_type", string(req.TargetType)),
		attribute.Int64("target_id", req.TargetID))
	defer span.End()

	if !req.TargetType.Valid() {
		return nil, apperrors.Validation("invalid target type: %q", req.TargetType)
	}
	if req.Rating < models.MinRating || req.Rating > models.MaxRating {
		return nil, apperrors.Validation("rating must be between %d and %d", models.MinRating, models.MaxRating)
	}

	exists, err := s.store.TargetExists(ctx, req.TargetType, req.TargetID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up review target: %w", err)
	}
	if !exists {
		return nil, apperrors.NotFound(strings.ToLower(string(req.TargetType)), req.TargetID)
	}

	review := &models.Review{
		UserID:     userID,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		Rating:     req.Rating,
		Text:       req.Text,
	}
	if err := s.store.UpsertReview(ctx, review); err != nil {
		return nil, err
	}

	util.ReviewsSubmittedTotal.WithLabelValues(string(review.TargetType)).Inc()

	// The review is stored either way; a failed recompute is corrected by the
	// aggregate worker or the next write to this target.
	if _, err := s.aggregates.RecomputeRating(ctx, review.TargetType, review.TargetID); err != nil {
		s.logger.Error("Failed to recompute rating aggregate",
			zap.String("target_type", string(review.TargetType)),
			zap.Int64("target_id", review.TargetID),
			zap.Error(err))
	}

	if err := s.publisher.PublishReviewSubmitted(ctx, review); err != nil {
		s.logger.Error("Failed to publish ReviewSubmitted event", zap.Error(err))
	}

	s.logger.Info("Review submitted",
		zap.Int64("review_id", review.ID),
		zap.Int64("user_id", userID),
		zap.String("target_type", string(review.TargetType)),
		zap.Int64("target_id", review.TargetID))
	return review, nil
}

// ListReviews returns a target's reviews newest first
func (s *ReviewService) ListReviews(ctx context.Context, targetType models.TargetType, targetID int64) ([]models.Review, error) {
	ctx, span := util.StartSpan(ctx, "ReviewService.ListReviews")
	defer span.End()

	if !targetType.Valid() {
		return nil, apperrors.Validation("invalid target type: %q", targetType)
	}
	return s.store.ListReviews(ctx, targetType, targetID)
}
