package marking

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence/internal/geo"
	"presence/internal/session"
)

var (
	classroomOrigin = geo.Coordinate{Latitude: 12.9716, Longitude: 77.5946}
	nearbySpot      = geo.Coordinate{Latitude: 12.9716, Longitude: 77.5950} // ~44m out
	acrossTown      = geo.Coordinate{Latitude: 12.9800, Longitude: 77.6100} // >1km out
)

func alwaysMatch(ctx context.Context, captured, reference string) (MatchResult, error) {
	d := 0.3
	return MatchResult{IsMatch: true, Distance: &d}, nil
}

func startTestSession(t *testing.T, st *session.Store) *session.Session {
	t.Helper()
	sess, err := st.StartSession(session.Config{
		CourseID: "course-1",
		OwnerID:  "staff-1",
		Subject:  "Networks",
		Origin:   classroomOrigin,
	})
	require.NoError(t, err)
	return sess
}

func TestMarkWithVerificationSuccessInsideGeofence(t *testing.T) {
	st := session.NewStore()
	sess := startTestSession(t, st)
	w := NewWorkflow(st, VerifierFunc(alwaysMatch))

	loc := nearbySpot
	outcome, err := w.MarkWithVerification(context.Background(), sess.ID, "stu-1", "captured.jpg", "reference.jpg", &loc)
	require.NoError(t, err)

	assert.Equal(t, sess.ID, outcome.SessionID)
	assert.Equal(t, "stu-1", outcome.ParticipantID)
	assert.True(t, outcome.GeofenceChecked)
	require.NotNil(t, outcome.DistanceMeters)
	assert.Greater(t, *outcome.DistanceMeters, 40.0)
	assert.Less(t, *outcome.DistanceMeters, 50.0)

	records := sess.Attendance()
	require.Len(t, records, 1)
	assert.True(t, records[0].BiometricVerified)
	require.NotNil(t, records[0].Location)
	assert.Equal(t, nearbySpot, *records[0].Location)
}

func TestMarkWithVerificationOutsideGeofence(t *testing.T) {
	st := session.NewStore()
	sess := startTestSession(t, st)
	w := NewWorkflow(st, VerifierFunc(alwaysMatch))

	loc := acrossTown
	_, err := w.MarkWithVerification(context.Background(), sess.ID, "stu-1", "captured.jpg", "reference.jpg", &loc)

	var geofence *OutsideGeofenceError
	require.ErrorAs(t, err, &geofence)
	assert.Greater(t, geofence.DistanceMeters, 1000.0)
	assert.Equal(t, session.DefaultRadiusMeters, geofence.RadiusMeters)
	assert.Empty(t, sess.Attendance())
}

func TestMarkWithVerificationSkipsGeofenceWithoutLocation(t *testing.T) {
	st := session.NewStore()
	sess := startTestSession(t, st)
	w := NewWorkflow(st, VerifierFunc(alwaysMatch))

	outcome, err := w.MarkWithVerification(context.Background(), sess.ID, "stu-1", "captured.jpg", "reference.jpg", nil)
	require.NoError(t, err)

	assert.False(t, outcome.GeofenceChecked)
	assert.Nil(t, outcome.DistanceMeters)

	records := sess.Attendance()
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Location)
	assert.Nil(t, records[0].DistanceMeters)
}

func TestMarkWithVerificationVerifierErrorIsUnavailable(t *testing.T) {
	st := session.NewStore()
	sess := startTestSession(t, st)
	w := NewWorkflow(st, VerifierFunc(func(ctx context.Context, captured, reference string) (MatchResult, error) {
		return MatchResult{}, errors.New("model not loaded")
	}))

	_, err := w.MarkWithVerification(context.Background(), sess.ID, "stu-1", "captured.jpg", "reference.jpg", nil)

	assert.ErrorIs(t, err, ErrVerificationUnavailable)
	assert.NotErrorIs(t, err, ErrFaceMismatch)
	assert.Empty(t, sess.Attendance(), "no record may be committed when verification never ran")
}

func TestMarkWithVerificationMismatch(t *testing.T) {
	st := session.NewStore()
	sess := startTestSession(t, st)
	w := NewWorkflow(st, VerifierFunc(func(ctx context.Context, captured, reference string) (MatchResult, error) {
		return MatchResult{IsMatch: false}, nil
	}))

	_, err := w.MarkWithVerification(context.Background(), sess.ID, "stu-1", "captured.jpg", "reference.jpg", nil)

	assert.ErrorIs(t, err, ErrFaceMismatch)
	assert.Empty(t, sess.Attendance())
}

func TestMarkWithVerificationUnknownOrClosedSession(t *testing.T) {
	st := session.NewStore()
	w := NewWorkflow(st, VerifierFunc(alwaysMatch))

	_, err := w.MarkWithVerification(context.Background(), "missing", "stu-1", "captured.jpg", "reference.jpg", nil)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	sess := startTestSession(t, st)
	_, err = st.CloseSession(sess.ID)
	require.NoError(t, err)

	_, err = w.MarkWithVerification(context.Background(), sess.ID, "stu-1", "captured.jpg", "reference.jpg", nil)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestMarkWithVerificationClosedDuringVerification(t *testing.T) {
	st := session.NewStore()
	sess := startTestSession(t, st)

	// The session closes while the biometric call is in flight; the
	// authoritative check inside MarkPresent catches it.
	w := NewWorkflow(st, VerifierFunc(func(ctx context.Context, captured, reference string) (MatchResult, error) {
		sess.Close()
		return MatchResult{IsMatch: true}, nil
	}))

	_, err := w.MarkWithVerification(context.Background(), sess.ID, "stu-1", "captured.jpg", "reference.jpg", nil)
	assert.ErrorIs(t, err, session.ErrSessionClosed)
	assert.Empty(t, sess.Attendance())
}

func TestConcurrentMarkingSameParticipant(t *testing.T) {
	st := session.NewStore()
	sess := startTestSession(t, st)
	w := NewWorkflow(st, VerifierFunc(alwaysMatch))

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loc := nearbySpot
			_, err := w.MarkWithVerification(context.Background(), sess.ID, "stu-1", "captured.jpg", "reference.jpg", &loc)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, duplicates int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, session.ErrDuplicateMarking):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, duplicates)
	assert.Len(t, sess.Attendance(), 1)
}
