package session

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Store is the concurrency-safe registry of sessions. Its lock guards only
// the index maps and is distinct from each session's internal lock, so
// looking up one session never blocks marking against another.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	active   map[string]string // courseID -> open session id
}

// NewStore creates an empty registry.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		active:   make(map[string]string),
	}
}

// StartSession atomically checks that no open session exists for the course
// and creates one. Two staff members starting simultaneously race on the
// store lock; exactly one wins, the other gets ErrActiveSessionExists.
func (st *Store) StartSession(cfg Config) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.active[cfg.CourseID]; exists {
		return nil, ErrActiveSessionExists
	}

	sess, err := New(uuid.NewString(), cfg)
	if err != nil {
		return nil, err
	}

	st.sessions[sess.ID] = sess
	st.active[cfg.CourseID] = sess.ID
	return sess, nil
}

// Get returns the session with the given id.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if sess, ok := st.sessions[id]; ok {
		return sess, nil
	}
	return nil, ErrSessionNotFound
}

// ActiveForCourse returns the open session for a course, if any.
func (st *Store) ActiveForCourse(courseID string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if id, ok := st.active[courseID]; ok {
		return st.sessions[id], nil
	}
	return nil, ErrSessionNotFound
}

// ActiveForCourses returns the open sessions for a set of courses, ordered
// by course id for stable output. Courses without an open session are
// skipped.
func (st *Store) ActiveForCourses(courseIDs []string) []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	seen := make(map[string]bool, len(courseIDs))
	var out []*Session
	for _, courseID := range courseIDs {
		if seen[courseID] {
			continue
		}
		seen[courseID] = true
		if id, ok := st.active[courseID]; ok {
			out = append(out, st.sessions[id])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Config.CourseID < out[j].Config.CourseID
	})
	return out
}

// Active returns every open session, ordered by course id.
func (st *Store) Active() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]*Session, 0, len(st.active))
	for _, id := range st.active {
		out = append(out, st.sessions[id])
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Config.CourseID < out[j].Config.CourseID
	})
	return out
}

// ForCourse returns every session of a course, open or closed, newest first.
func (st *Store) ForCourse(courseID string) []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var out []*Session
	for _, sess := range st.sessions {
		if sess.Config.CourseID == courseID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Config.StartedAt.After(out[j].Config.StartedAt)
	})
	return out
}

// CloseSession closes the session and releases the course's active slot.
// The session is closed before the index entry is removed, so a concurrent
// StartSession for the same course cannot observe a window with two open
// sessions.
func (st *Store) CloseSession(id string) (*Session, error) {
	sess, err := st.Get(id)
	if err != nil {
		return nil, err
	}

	sess.Close()

	st.mu.Lock()
	if st.active[sess.Config.CourseID] == id {
		delete(st.active, sess.Config.CourseID)
	}
	st.mu.Unlock()

	return sess, nil
}
