package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const lockRetryInterval = 25 * time.Millisecond

// RatingAggregate computes mean and count over a full review set. The mean of
// an empty set is 0.
func RatingAggregate(ratings []int) models.RatingAggregate {
	if len(ratings) == 0 {
		return models.RatingAggregate{}
	}

	sum := 0
	for _, r := range ratings {
		sum += r
	}
	return models.RatingAggregate{
		AverageRating: float64(sum) / float64(len(ratings)),
		ReviewCount:   len(ratings),
	}
}

// ProgressPercent is round(100 * completed / max(1, total)) clamped to [0, 100]
func ProgressPercent(completed, total int) int {
	if total < 1 {
		total = 1
	}
	pct := int(math.Round(100 * float64(completed) / float64(total)))
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// AggregateRecomputer refreshes denormalized aggregates from their source rows.
// Rating recomputes for one target are serialized through a short lease; when
// the lease cannot be had within lockWait the recompute runs anyway and the
// next write for the target corrects any lost update.
type AggregateRecomputer struct {
	store    RatingStore
	locker   Locker
	lockTTL  time.Duration
	lockWait time.Duration
	logger   *zap.Logger
}

// NewAggregateRecomputer creates a new aggregate recomputer. locker may be nil.
func NewAggregateRecomputer(store RatingStore, locker Locker, lockTTL, lockWait time.Duration) *AggregateRecomputer {
	return &AggregateRecomputer{
		store:    store,
		locker:   locker,
		lockTTL:  lockTTL,
		lockWait: lockWait,
		logger:   util.GetLogger(),
	}
}

func ratingLockKey(targetType models.TargetType, targetID int64) string {
	return fmt.Sprintf("rating:%s:%d", targetType, targetID)
}

// RecomputeRating reads every rating of the target and writes mean and count
// in a single update.
func (a *AggregateRecomputer) RecomputeRating(ctx context.Context, targetType models.TargetType, targetID int64) (models.RatingAggregate, error) {
	ctx, span := util.StartSpan(ctx, "AggregateRecomputer.RecomputeRating",
		attribute.String("target_type", string(targetType)),
		attribute.Int64("target_id", targetID))
	defer span.End()

	start := time.Now()
	defer func() {
		util.AggregateRecomputeLatency.WithLabelValues(string(targetType)).Observe(time.Since(start).Seconds())
	}()

	key := ratingLockKey(targetType, targetID)
	if token, ok := a.acquire(ctx, key); ok {
		defer func() {
			if err := a.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
				a.logger.Warn("Failed to release rating lock", zap.String("key", key), zap.Error(err))
			}
		}()
	}

	ratings, err := a.store.ListRatings(ctx, targetType, targetID)
	if err != nil {
		return models.RatingAggregate{}, fmt.Errorf("failed to list ratings: %w", err)
	}

	agg := RatingAggregate(ratings)
	if err := a.store.UpdateRatingAggregate(ctx, targetType, targetID, agg); err != nil {
		return models.RatingAggregate{}, err
	}

	a.logger.Debug("Rating aggregate recomputed",
		zap.String("target_type", string(targetType)),
		zap.Int64("target_id", targetID),
		zap.Float64("average_rating", agg.AverageRating),
		zap.Int("review_count", agg.ReviewCount))
	return agg, nil
}

// acquire polls for the lease until lockWait elapses
func (a *AggregateRecomputer) acquire(ctx context.Context, key string) (string, bool) {
	if a.locker == nil {
		return "", false
	}

	deadline := time.Now().Add(a.lockWait)
	contended := false
	for {
		token, ok, err := a.locker.AcquireLock(ctx, key, a.lockTTL)
		if err != nil {
			util.AggregateLockContendedTotal.WithLabelValues("error").Inc()
			a.logger.Warn("Rating lock unavailable, recomputing unserialized", zap.String("key", key), zap.Error(err))
			return "", false
		}
		if ok {
			if contended {
				util.AggregateLockContendedTotal.WithLabelValues("waited").Inc()
			}
			return token, true
		}
		contended = true

		if time.Now().After(deadline) {
			util.AggregateLockContendedTotal.WithLabelValues("timeout").Inc()
			a.logger.Warn("Rating lock wait exceeded, recomputing unserialized", zap.String("key", key))
			return "", false
		}

		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(lockRetryInterval):
		}
	}
}

// RecomputeProgress sets the enrollment's percentage from its completed set
// and the course's current lesson count.
func (a *AggregateRecomputer) RecomputeProgress(e *models.Enrollment, totalLessons int) int {
	e.ProgressPercent = ProgressPercent(len(e.CompletedLessonIDs), totalLessons)
	return e.ProgressPercent
}
