package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"presence/internal/geo"
)

// DefaultRadiusMeters is applied when a session is started without an
// explicit geofence radius.
const DefaultRadiusMeters = 100.0

// State is the lifecycle state of an attendance session.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// Config holds the immutable parameters of a session. It is set once when
// the session starts and never changes afterwards.
type Config struct {
	CourseID     string         `json:"course_id"`
	OwnerID      string         `json:"owner_id"`
	Subject      string         `json:"subject"`
	Origin       geo.Coordinate `json:"origin"`
	RadiusMeters float64        `json:"radius_meters"`
	StartedAt    time.Time      `json:"started_at"`
}

func (c Config) validate() error {
	if c.CourseID == "" {
		return fmt.Errorf("%w: course id required", ErrInvalidConfig)
	}
	if c.OwnerID == "" {
		return fmt.Errorf("%w: owner id required", ErrInvalidConfig)
	}
	if c.Subject == "" {
		return fmt.Errorf("%w: subject required", ErrInvalidConfig)
	}
	if c.RadiusMeters < 0 {
		return fmt.Errorf("%w: radius must be positive", ErrInvalidConfig)
	}
	if c.Origin.Latitude < -90 || c.Origin.Latitude > 90 {
		return fmt.Errorf("%w: latitude out of range", ErrInvalidConfig)
	}
	if c.Origin.Longitude < -180 || c.Origin.Longitude > 180 {
		return fmt.Errorf("%w: longitude out of range", ErrInvalidConfig)
	}
	return nil
}

// Record captures one participant's marked-present event. Records are
// immutable after creation; the engine never updates or deletes them.
type Record struct {
	ParticipantID     string          `json:"participant_id"`
	MarkedAt          time.Time       `json:"marked_at"`
	Location          *geo.Coordinate `json:"location,omitempty"`
	DistanceMeters    *float64        `json:"distance_meters,omitempty"`
	BiometricVerified bool            `json:"biometric_verified"`
}

// Session is the attendance state machine for one sitting of a course. It
// owns its records exclusively; MarkPresent is the sole mutation entry point
// and is guarded by a per-session mutex so that marking attempts against
// different sessions never contend.
type Session struct {
	ID     string
	Config Config

	mu      sync.Mutex
	state   State
	endedAt time.Time
	records map[string]Record
}

// New builds a session in state Open. A zero radius gets the default;
// an explicitly negative radius is rejected as invalid config.
func New(id string, cfg Config) (*Session, error) {
	if cfg.RadiusMeters == 0 {
		cfg.RadiusMeters = DefaultRadiusMeters
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Session{
		ID:      id,
		Config:  cfg,
		state:   StateOpen,
		records: make(map[string]Record),
	}, nil
}

// MarkPresent commits a presence record. The state check runs before the
// duplicate check: a request arriving after close must be rejected as
// closed even if the participant is already present, since clients decide
// whether to retry based on which rejection they get.
func (s *Session) MarkPresent(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return ErrSessionClosed
	}
	if _, exists := s.records[rec.ParticipantID]; exists {
		return ErrDuplicateMarking
	}
	if rec.MarkedAt.IsZero() {
		rec.MarkedAt = time.Now().UTC()
	}
	s.records[rec.ParticipantID] = rec
	return nil
}

// Close transitions the session to Closed and stamps the end time. Closing
// an already-closed session is a no-op apart from refreshing the end time,
// matching the behavior attendance takers expect from repeated end requests.
// It returns the effective end time.
func (s *Session) Close() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	s.endedAt = time.Now().UTC()
	return s.endedAt
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open reports whether the session still accepts markings.
func (s *Session) Open() bool {
	return s.State() == StateOpen
}

// EndedAt returns the close timestamp, if the session has been closed.
func (s *Session) EndedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt, !s.endedAt.IsZero()
}

// Attendance returns a snapshot of the committed records ordered by marking
// time. The snapshot is taken under the session lock, so it reflects either
// the pre- or post-state of any concurrent commit, never a partial record.
func (s *Session) Attendance() []Record {
	s.mu.Lock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].MarkedAt.Equal(out[j].MarkedAt) {
			return out[i].ParticipantID < out[j].ParticipantID
		}
		return out[i].MarkedAt.Before(out[j].MarkedAt)
	})
	return out
}

// Handle is a read-only summary of a session, safe to serialize.
type Handle struct {
	ID           string         `json:"id"`
	CourseID     string         `json:"course_id"`
	OwnerID      string         `json:"owner_id"`
	Subject      string         `json:"subject"`
	Origin       geo.Coordinate `json:"origin"`
	RadiusMeters float64        `json:"radius_meters"`
	State        State          `json:"state"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
}

// Handle returns the session's current summary.
func (s *Session) Handle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := Handle{
		ID:           s.ID,
		CourseID:     s.Config.CourseID,
		OwnerID:      s.Config.OwnerID,
		Subject:      s.Config.Subject,
		Origin:       s.Config.Origin,
		RadiusMeters: s.Config.RadiusMeters,
		State:        s.state,
		StartedAt:    s.Config.StartedAt,
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		h.EndedAt = &ended
	}
	return h
}
