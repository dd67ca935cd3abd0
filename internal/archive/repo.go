package archive

import (
	"context"
	"database/sql"
	"errors"

	"presence/internal/geo"
	"presence/internal/session"
)

// ErrDuplicateRecord is returned when a presence record for the same
// (session, participant) pair already exists in durable storage. A crash
// retry hitting this is working as intended: the first commit won.
var ErrDuplicateRecord = errors.New("presence record already archived")

// Repository mirrors the in-memory engine into Postgres. The engine stays
// authoritative while a session is live; the archive preserves sessions and
// records across restarts.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the archive tables when missing. The composite
// primary key on presence_records is what makes a post-crash marking retry
// surface as a duplicate instead of a second row.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			course_id    TEXT NOT NULL,
			owner_id     TEXT NOT NULL,
			subject      TEXT NOT NULL,
			origin_lat   DOUBLE PRECISION NOT NULL,
			origin_lon   DOUBLE PRECISION NOT NULL,
			radius_m     DOUBLE PRECISION NOT NULL,
			state        TEXT NOT NULL,
			started_at   TIMESTAMPTZ NOT NULL,
			ended_at     TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS presence_records (
			session_id         TEXT NOT NULL REFERENCES sessions(id),
			participant_id     TEXT NOT NULL,
			marked_at          TIMESTAMPTZ NOT NULL,
			latitude           DOUBLE PRECISION,
			longitude          DOUBLE PRECISION,
			distance_m         DOUBLE PRECISION,
			biometric_verified BOOLEAN NOT NULL,
			PRIMARY KEY (session_id, participant_id)
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_course ON sessions(course_id);
		CREATE INDEX IF NOT EXISTS idx_records_marked  ON presence_records(marked_at);
	`)
	return err
}

// SaveSession upserts a session snapshot.
func (r *Repository) SaveSession(ctx context.Context, h session.Handle) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, course_id, owner_id, subject, origin_lat, origin_lon, radius_m, state, started_at, ended_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			ended_at = EXCLUDED.ended_at
	`, h.ID, h.CourseID, h.OwnerID, h.Subject, h.Origin.Latitude, h.Origin.Longitude,
		h.RadiusMeters, string(h.State), h.StartedAt, h.EndedAt)
	return err
}

// InsertRecord writes a committed presence record. The insert is atomic per
// call; an existing (session, participant) row yields ErrDuplicateRecord.
func (r *Repository) InsertRecord(ctx context.Context, sessionID string, rec session.Record) error {
	var lat, lon *float64
	if rec.Location != nil {
		lat = &rec.Location.Latitude
		lon = &rec.Location.Longitude
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO presence_records (session_id, participant_id, marked_at, latitude, longitude, distance_m, biometric_verified)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (session_id, participant_id) DO NOTHING
	`, sessionID, rec.ParticipantID, rec.MarkedAt, lat, lon, rec.DistanceMeters, rec.BiometricVerified)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicateRecord
	}
	return nil
}

// ListRecords returns the archived records of a session ordered by marking
// time.
func (r *Repository) ListRecords(ctx context.Context, sessionID string) ([]session.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT participant_id, marked_at, latitude, longitude, distance_m, biometric_verified
		FROM presence_records
		WHERE session_id = $1
		ORDER BY marked_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Record
	for rows.Next() {
		var rec session.Record
		var lat, lon sql.NullFloat64
		var dist sql.NullFloat64
		if err := rows.Scan(&rec.ParticipantID, &rec.MarkedAt, &lat, &lon, &dist, &rec.BiometricVerified); err != nil {
			return nil, err
		}
		if lat.Valid && lon.Valid {
			rec.Location = &geo.Coordinate{Latitude: lat.Float64, Longitude: lon.Float64}
		}
		if dist.Valid {
			d := dist.Float64
			rec.DistanceMeters = &d
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListSessions returns the archived sessions of a course, newest first.
func (r *Repository) ListSessions(ctx context.Context, courseID string) ([]session.Handle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, course_id, owner_id, subject, origin_lat, origin_lon, radius_m, state, started_at, ended_at
		FROM sessions
		WHERE course_id = $1
		ORDER BY started_at DESC
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Handle
	for rows.Next() {
		var h session.Handle
		var state string
		var endedAt sql.NullTime
		if err := rows.Scan(&h.ID, &h.CourseID, &h.OwnerID, &h.Subject, &h.Origin.Latitude,
			&h.Origin.Longitude, &h.RadiusMeters, &state, &h.StartedAt, &endedAt); err != nil {
			return nil, err
		}
		h.State = session.State(state)
		if endedAt.Valid {
			t := endedAt.Time
			h.EndedAt = &t
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
