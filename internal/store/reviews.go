package store

import (
	"context"
	"fmt"

	"marketplace-service/internal/models"
)

// UpsertReview creates the review or overwrites rating and text of the
// existing one for the same (user, target).
func (s *Store) UpsertReview(ctx context.Context, r *models.Review) error {
	query := `
		INSERT INTO reviews (user_id, target_type, target_id, rating, text)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, target_type, target_id)
		DO UPDATE SET rating = EXCLUDED.rating, text = EXCLUDED.text, updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		r.UserID, r.TargetType, r.TargetID, r.Rating, r.Text,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert review: %w", err)
	}
	return nil
}

// ListReviews retrieves a target's reviews, newest first
func (s *Store) ListReviews(ctx context.Context, targetType models.TargetType, targetID int64) ([]models.Review, error) {
	reviews := []models.Review{}
	err := s.db.SelectContext(ctx, &reviews, `
		SELECT * FROM reviews
		WHERE target_type = $1 AND target_id = $2
		ORDER BY created_at DESC, id DESC`,
		targetType, targetID)
	return reviews, err
}

// ListRatings returns every rating recorded for a target
func (s *Store) ListRatings(ctx context.Context, targetType models.TargetType, targetID int64) ([]int, error) {
	ratings := []int{}
	err := s.db.SelectContext(ctx, &ratings,
		"SELECT rating FROM reviews WHERE target_type = $1 AND target_id = $2",
		targetType, targetID)
	return ratings, err
}
