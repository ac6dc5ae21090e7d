package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-service/internal/apperrors"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// EnrollmentService owns enrollments and their lesson progress
type EnrollmentService struct {
	store      EnrollmentStore
	aggregates *AggregateRecomputer
	publisher  Publisher
	logger     *zap.Logger
	now        func() time.Time
}

// NewEnrollmentService creates a new enrollment service
func NewEnrollmentService(store EnrollmentStore, aggregates *AggregateRecomputer, publisher Publisher) *EnrollmentService {
	return &EnrollmentService{
		store:      store,
		aggregates: aggregates,
		publisher:  publisher,
		logger:     util.GetLogger(),
		now:        time.Now,
	}
}

// Progress is the read model of an enrollment's completion
type Progress struct {
	ProgressPercent    int     `json:"progressPercent"`
	CompletedLessonIDs []int64 `json:"completedLessonIds"`
}

// Enroll returns the caller's enrollment in the course, creating it on first
// call. The bool reports whether it was created by this call.
func (s *EnrollmentService) Enroll(ctx context.Context, userID, courseID int64) (*models.Enrollment, bool, error) {
	ctx, span := util.StartSpan(ctx, "EnrollmentService.Enroll",
		attribute.Int64("user_id", userID),
		attribute.Int64("course_id", courseID))
	defer span.End()

	if _, err := s.store.GetCourseByID(ctx, courseID); err != nil {
		return nil, false, err
	}

	total, err := s.store.CountLessons(ctx, courseID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to count lessons: %w", err)
	}

	e := &models.Enrollment{
		UserID:             userID,
		CourseID:           courseID,
		CompletedLessonIDs: pq.Int64Array{},
	}
	s.aggregates.RecomputeProgress(e, total)

	stored, created, err := s.store.EnrollOnce(ctx, e)
	if err != nil {
		return nil, false, err
	}

	if created {
		util.EnrollmentsCreatedTotal.Inc()
		s.logger.Info("Enrollment created",
			zap.Int64("enrollment_id", stored.ID),
			zap.Int64("user_id", userID),
			zap.Int64("course_id", courseID))
	}
	return stored, created, nil
}

// CompleteLesson adds the lesson to the caller's completed set and recomputes
// progress against the course's current lesson count. Repeating a completion
// only refreshes the access time.
func (s *EnrollmentService) CompleteLesson(ctx context.Context, userID, courseID, lessonID int64) (*models.Enrollment, error) {
	ctx, span := util.StartSpan(ctx, "EnrollmentService.CompleteLesson",
		attribute.Int64("user_id", userID),
		attribute.Int64("course_id", courseID),
		attribute.Int64("lesson_id", lessonID))
	defer span.End()

	if _, err := s.store.GetCourseByID(ctx, courseID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetEnrollment(ctx, userID, courseID); err != nil {
		return nil, err
	}

	belongs, err := s.store.LessonBelongsToCourse(ctx, courseID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up lesson: %w", err)
	}
	if !belongs {
		return nil, apperrors.NotFound("lesson", lessonID)
	}

	total, err := s.store.CountLessons(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to count lessons: %w", err)
	}

	added := false
	updated, err := s.store.UpdateEnrollmentTx(ctx, userID, courseID, func(e *models.Enrollment) error {
		added = e.MarkCompleted(lessonID)
		e.LastAccessedAt = s.now().UTC()
		s.aggregates.RecomputeProgress(e, total)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if added {
		util.LessonsCompletedTotal.Inc()
		if err := s.publisher.PublishLessonCompleted(ctx, updated, lessonID); err != nil {
			s.logger.Error("Failed to publish LessonCompleted event", zap.Error(err))
		}
	}

	s.logger.Info("Lesson completion recorded",
		zap.Int64("enrollment_id", updated.ID),
		zap.Int64("lesson_id", lessonID),
		zap.Bool("newly_completed", added),
		zap.Int("progress_percent", updated.ProgressPercent))
	return updated, nil
}

// GetEnrollment returns the caller's enrollment in the course
func (s *EnrollmentService) GetEnrollment(ctx context.Context, userID, courseID int64) (*models.Enrollment, error) {
	ctx, span := util.StartSpan(ctx, "EnrollmentService.GetEnrollment")
	defer span.End()

	return s.store.GetEnrollment(ctx, userID, courseID)
}

// GetProgress returns the caller's completion state in the course
func (s *EnrollmentService) GetProgress(ctx context.Context, userID, courseID int64) (*Progress, error) {
	e, err := s.GetEnrollment(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}

	completed := make([]int64, len(e.CompletedLessonIDs))
	copy(completed, e.CompletedLessonIDs)
	return &Progress{ProgressPercent: e.ProgressPercent, CompletedLessonIDs: completed}, nil
}
