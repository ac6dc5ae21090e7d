package store

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace-service/internal/apperrors"
	"marketplace-service/internal/models"
)

// EnrollOnce inserts the enrollment unless one already exists for the
// (user, course) pair, in which case the stored row is returned untouched.
func (s *Store) EnrollOnce(ctx context.Context, e *models.Enrollment) (*models.Enrollment, bool, error) {
	var created models.Enrollment
	err := s.db.GetContext(ctx, &created, `
		INSERT INTO enrollments (user_id, course_id, completed_lesson_ids, progress_percent)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, course_id) DO NOTHING
		RETURNING *`,
		e.UserID, e.CourseID, e.CompletedLessonIDs, e.ProgressPercent)
	if err == nil {
		return &created, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to insert enrollment: %w", err)
	}

	existing, err := s.GetEnrollment(ctx, e.UserID, e.CourseID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetEnrollment retrieves the enrollment for a (user, course) pair
func (s *Store) GetEnrollment(ctx context.Context, userID, courseID int64) (*models.Enrollment, error) {
	var e models.Enrollment
	err := s.db.GetContext(ctx, &e,
		"SELECT * FROM enrollments WHERE user_id = $1 AND course_id = $2", userID, courseID)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("enrollment", nil)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// UpdateEnrollmentTx locks the enrollment row, lets fn mutate it and writes
// the completed set, progress and access time back before committing.
func (s *Store) UpdateEnrollmentTx(ctx context.Context, userID, courseID int64, fn func(*models.Enrollment) error) (*models.Enrollment, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var e models.Enrollment
	err = tx.GetContext(ctx, &e,
		"SELECT * FROM enrollments WHERE user_id = $1 AND course_id = $2 FOR UPDATE", userID, courseID)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("enrollment", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock enrollment: %w", err)
	}

	if err := fn(&e); err != nil {
		return nil, err
	}

	err = tx.QueryRowxContext(ctx, `
		UPDATE enrollments SET
			completed_lesson_ids = $1,
			progress_percent = $2,
			last_accessed_at = $3,
			updated_at = NOW()
		WHERE id = $4
		RETURNING updated_at`,
		e.CompletedLessonIDs, e.ProgressPercent, e.LastAccessedAt, e.ID,
	).Scan(&e.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update enrollment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &e, nil
}
