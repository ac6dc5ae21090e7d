package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"marketplace-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHandlerRoutesByType(t *testing.T) {
	eh := NewEventHandler()

	var got models.ReviewSubmittedEvent
	eh.On(models.EventTypeReviewSubmitted, func(_ context.Context, raw []byte) error {
		return json.Unmarshal(raw, &got)
	})

	event := models.ReviewSubmittedEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypeReviewSubmitted),
		TargetType: models.TargetCourse,
		TargetID:   4,
		Rating:     5,
	}
	value, err := json.Marshal(event)
	require.NoError(t, err)

	err = eh.HandleMessage(context.Background(), kafka.Message{Value: value})
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.TargetID)
	assert.Equal(t, models.TargetCourse, got.TargetType)
}

func TestEventHandlerIgnoresUnregisteredAndGarbage(t *testing.T) {
	eh := NewEventHandler()
	eh.On(models.EventTypeOrderPaid, func(context.Context, []byte) error {
		return errors.New("should not be called")
	})

	value, _ := json.Marshal(models.NewBaseEvent(models.EventTypeLessonCompleted))
	assert.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: value}))
	assert.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")}))
}

func TestEventHandlerPropagatesHandlerError(t *testing.T) {
	eh := NewEventHandler()
	eh.On(models.EventTypeOrderPaid, func(context.Context, []byte) error {
		return errors.New("db down")
	})

	value, _ := json.Marshal(models.NewBaseEvent(models.EventTypeOrderPaid))
	assert.EqualError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: value}), "db down")
}

func TestRatingKey(t *testing.T) {
	assert.Equal(t, "rating-Course-12", RatingKey(models.TargetCourse, 12))
}
