package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence/internal/geo"
	"presence/internal/session"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	q := NewInMemory(4)
	messages, err := q.Consume(ctx)
	require.NoError(t, err)

	loc := geo.Coordinate{Latitude: 12.9716, Longitude: 77.5950}
	rec := session.Record{
		ParticipantID:     "stu-1",
		MarkedAt:          time.Now().UTC().Truncate(time.Millisecond),
		Location:          &loc,
		BiometricVerified: true,
	}
	msg, err := NewMarkedMessage("sess-1", "course-1", rec)
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, msg))

	got := <-messages
	require.Equal(t, TypeMarked, got.Type)

	evt, err := DecodeMarked(got)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", evt.SessionID)
	assert.Equal(t, "course-1", evt.CourseID)
	assert.Equal(t, rec.ParticipantID, evt.Record.ParticipantID)
	require.NotNil(t, evt.Record.Location)
	assert.Equal(t, loc, *evt.Record.Location)
}

func TestInMemoryPublishHonorsCancellation(t *testing.T) {
	q := NewInMemory(1)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, Message{Type: TypeMarked}))

	// Queue full and nobody consuming: publish must give up with the context.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Publish(cancelled, Message{Type: TypeMarked}), context.Canceled)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeMarked(Message{Type: TypeMarked, Body: []byte("not json")})
	assert.Error(t, err)

	_, err = DecodeSession(Message{Type: TypeSessionClosed, Body: []byte("{")})
	assert.Error(t, err)
}
