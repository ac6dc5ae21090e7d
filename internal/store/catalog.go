package store

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace-service/internal/apperrors"
	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// ratable entities and the table holding their aggregate columns
var targetTables = map[models.TargetType]string{
	models.TargetCourse: "courses",
	models.TargetPost:   "posts",
	models.TargetItem:   "items",
}

func targetTable(t models.TargetType) (string, error) {
	table, ok := targetTables[t]
	if !ok {
		return "", apperrors.Validation("unknown target type: %s", t)
	}
	return table, nil
}

// GetItemsByIDs retrieves multiple catalog items by IDs
func (s *Store) GetItemsByIDs(ctx context.Context, ids []int64) ([]models.Item, error) {
	if len(ids) == 0 {
		return []models.Item{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM items WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var items []models.Item
	err = s.db.SelectContext(ctx, &items, query, args...)
	return items, err
}

// GetCourseByID retrieves a course by ID
func (s *Store) GetCourseByID(ctx context.Context, id int64) (*models.Course, error) {
	var course models.Course
	err := s.db.GetContext(ctx, &course, "SELECT * FROM courses WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("course", id)
	}
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// CountLessons returns the course's current lesson count
func (s *Store) CountLessons(ctx context.Context, courseID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM lessons WHERE course_id = $1", courseID)
	return n, err
}

// LessonBelongsToCourse checks that the lesson exists and is part of the course
func (s *Store) LessonBelongsToCourse(ctx context.Context, courseID, lessonID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM lessons WHERE id = $1 AND course_id = $2)", lessonID, courseID)
	return exists, err
}

// TargetExists checks that a ratable entity exists
func (s *Store) TargetExists(ctx context.Context, targetType models.TargetType, id int64) (bool, error) {
	table, err := targetTable(targetType)
	if err != nil {
		return false, err
	}

	var exists bool
	err = s.db.GetContext(ctx, &exists,
		fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)", table), id)
	return exists, err
}

// UpdateRatingAggregate writes both aggregate fields in one statement
func (s *Store) UpdateRatingAggregate(ctx context.Context, targetType models.TargetType, id int64, agg models.RatingAggregate) error {
	table, err := targetTable(targetType)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET average_rating = $1, review_count = $2 WHERE id = $3", table),
		agg.AverageRating, agg.ReviewCount, id)
	if err != nil {
		return fmt.Errorf("failed to update rating aggregate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound(string(targetType), id)
	}
	return nil
}

// GetRatingAggregate reads the denormalized aggregate of a target
func (s *Store) GetRatingAggregate(ctx context.Context, targetType models.TargetType, id int64) (*models.RatingAggregate, error) {
	table, err := targetTable(targetType)
	if err != nil {
		return nil, err
	}

	var agg models.RatingAggregate
	err = s.db.GetContext(ctx, &agg,
		fmt.Sprintf("SELECT average_rating, review_count FROM %s WHERE id = $1", table), id)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound(string(targetType), id)
	}
	if err != nil {
		return nil, err
	}
	return &agg, nil
}
