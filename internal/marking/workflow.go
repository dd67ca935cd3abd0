package marking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"presence/internal/geo"
	"presence/internal/session"
)

// Errors produced by the verification steps of the workflow. Session
// lifecycle errors (closed, duplicate, not found) come from the session
// package and are propagated as-is.
var (
	// ErrVerificationUnavailable marks a transient verifier failure; the
	// comparison never ran, so the outcome says nothing about the face.
	ErrVerificationUnavailable = errors.New("biometric verification unavailable")

	// ErrFaceMismatch means the verifier ran and declared no match.
	ErrFaceMismatch = errors.New("face did not match registered photo")
)

// OutsideGeofenceError reports a reported location beyond the session
// radius. It carries the measured distance so the caller can tell the
// participant how far away they were.
type OutsideGeofenceError struct {
	DistanceMeters float64
	RadiusMeters   float64
}

func (e *OutsideGeofenceError) Error() string {
	return fmt.Sprintf("outside attendance radius (%.0fm away, radius %.0fm)", e.DistanceMeters, e.RadiusMeters)
}

// Outcome summarizes a successful marking for observability. DistanceMeters
// is nil when the participant did not report a location.
type Outcome struct {
	SessionID       string
	ParticipantID   string
	MarkedAt        time.Time
	DistanceMeters  *float64
	GeofenceChecked bool
}

// Workflow orchestrates one verified marking attempt: session lookup,
// biometric check, geofence check, then the atomic commit.
type Workflow struct {
	store    *session.Store
	verifier Verifier
}

// NewWorkflow wires the workflow to a session registry and a verifier.
func NewWorkflow(store *session.Store, verifier Verifier) *Workflow {
	return &Workflow{store: store, verifier: verifier}
}

// MarkWithVerification runs the full marking sequence. Each failure is a
// distinct typed error so callers can render distinct messages.
//
// The open check here is a cheap rejection before the expensive biometric
// call; the authoritative check happens inside MarkPresent under the
// session lock. The verifier runs before any lock is taken so one slow
// comparison never stalls other marking attempts against the same session.
func (w *Workflow) MarkWithVerification(ctx context.Context, sessionID, participantID, capturedImage, referenceImage string, loc *geo.Coordinate) (Outcome, error) {
	sess, err := w.store.Get(sessionID)
	if err != nil {
		return Outcome{}, err
	}
	if !sess.Open() {
		return Outcome{}, session.ErrSessionNotFound
	}

	match, err := w.verifier.Verify(ctx, capturedImage, referenceImage)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	if !match.IsMatch {
		return Outcome{}, ErrFaceMismatch
	}

	// Location verification is optional: when the participant reports no
	// coordinates the geofence check is skipped, not failed.
	var distance *float64
	if loc != nil {
		d := geo.Distance(sess.Config.Origin, *loc)
		if d > sess.Config.RadiusMeters {
			return Outcome{}, &OutsideGeofenceError{DistanceMeters: d, RadiusMeters: sess.Config.RadiusMeters}
		}
		distance = &d
	}

	rec := session.Record{
		ParticipantID:     participantID,
		MarkedAt:          time.Now().UTC(),
		Location:          loc,
		DistanceMeters:    distance,
		BiometricVerified: true,
	}
	if err := sess.MarkPresent(rec); err != nil {
		return Outcome{}, err
	}

	return Outcome{
		SessionID:       sessionID,
		ParticipantID:   participantID,
		MarkedAt:        rec.MarkedAt,
		DistanceMeters:  distance,
		GeofenceChecked: loc != nil,
	}, nil
}
