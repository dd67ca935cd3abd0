package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"presence/internal/archive"
	"presence/internal/auth"
	"presence/internal/config"
	"presence/internal/geo"
	"presence/internal/marking"
	"presence/internal/metrics"
	"presence/internal/queue"
	"presence/internal/session"
)

// Handler binds the presence engine to HTTP.
type Handler struct {
	store    *session.Store
	workflow *marking.Workflow
	archive  *archive.Repository // nil when the database is not reachable
	queue    queue.Queue
	metrics  *metrics.Metrics
	cfg      config.App
}

// New wires the handler.
func New(store *session.Store, workflow *marking.Workflow, arch *archive.Repository, q queue.Queue, m *metrics.Metrics, cfg config.App) *Handler {
	return &Handler{store: store, workflow: workflow, archive: arch, queue: q, metrics: m, cfg: cfg}
}

// ---------- Auth ----------

type tokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

// IssueToken is the dev credential exchange: it hands out signed tokens for
// a user id and role. Production deployments front this with a real
// identity provider.
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role != auth.RoleStaff && req.Role != auth.RoleStudent {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be staff or student"})
		return
	}

	tokens, err := auth.Issue(req.UserID, req.Role, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// ---------- Sessions ----------

type startSessionRequest struct {
	CourseID     string   `json:"course_id" binding:"required"`
	Subject      string   `json:"subject" binding:"required"`
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	RadiusMeters *float64 `json:"radius_meters"`
}

// StartSession opens a new attendance session for a course. At most one
// session per course may be open; a second start gets 409.
func (h *Handler) StartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, _ := auth.FromContext(c)

	cfg := session.Config{
		CourseID: req.CourseID,
		OwnerID:  claims.Subject,
		Subject:  req.Subject,
		Origin:   geo.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude},
	}
	if req.RadiusMeters != nil {
		cfg.RadiusMeters = *req.RadiusMeters
	}

	sess, err := h.store.StartSession(cfg)
	if err != nil {
		h.renderError(c, err)
		return
	}

	h.metrics.SessionsStarted.Inc()
	h.publishSession(c.Request.Context(), queue.TypeSessionStarted, sess.Handle())

	c.JSON(http.StatusCreated, gin.H{"session": sess.Handle()})
}

// CloseSession ends a session. Closing twice is accepted; the end time
// reflects the latest close.
func (h *Handler) CloseSession(c *gin.Context) {
	sess, err := h.store.CloseSession(c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}

	h.metrics.SessionsClosed.Inc()
	h.publishSession(c.Request.Context(), queue.TypeSessionClosed, sess.Handle())

	c.JSON(http.StatusOK, gin.H{"session": sess.Handle()})
}

// ActiveSessions lists open sessions, optionally filtered to a set of
// courses via repeated course_id query parameters.
func (h *Handler) ActiveSessions(c *gin.Context) {
	courseIDs := c.QueryArray("course_id")

	var sessions []*session.Session
	if len(courseIDs) == 0 {
		sessions = h.store.Active()
	} else {
		sessions = h.store.ActiveForCourses(courseIDs)
	}

	handles := make([]session.Handle, 0, len(sessions))
	for _, sess := range sessions {
		handles = append(handles, sess.Handle())
	}
	c.JSON(http.StatusOK, gin.H{"sessions": handles})
}

// CourseSessions lists every session of a course, open or closed. When the
// archive is configured, sessions that predate the current process are
// merged in from durable storage.
func (h *Handler) CourseSessions(c *gin.Context) {
	courseID := c.Param("id")

	handles := []session.Handle{}
	inMemory := make(map[string]bool)
	for _, sess := range h.store.ForCourse(courseID) {
		handle := sess.Handle()
		handles = append(handles, handle)
		inMemory[handle.ID] = true
	}

	if h.archive != nil {
		archived, err := h.archive.ListSessions(c.Request.Context(), courseID)
		if err != nil {
			log.Printf("archive list sessions failed: %v", err)
		} else {
			for _, handle := range archived {
				if !inMemory[handle.ID] {
					handles = append(handles, handle)
				}
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"sessions": handles})
}

// Attendance returns the presence records of a session ordered by marking
// time. Sessions no longer held in memory are served from the archive.
func (h *Handler) Attendance(c *gin.Context) {
	id := c.Param("id")

	sess, err := h.store.Get(id)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"attendance": sess.Attendance()})
		return
	}

	if h.archive != nil {
		records, aerr := h.archive.ListRecords(c.Request.Context(), id)
		if aerr == nil && len(records) > 0 {
			c.JSON(http.StatusOK, gin.H{"attendance": records})
			return
		}
	}

	h.renderError(c, err)
}

// ---------- Marking ----------

type markRequest struct {
	CapturedImage  string   `json:"captured_image" binding:"required"`
	ReferenceImage string   `json:"reference_image" binding:"required"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
}

// Mark runs the verified marking workflow for the authenticated participant.
// Location is optional; the geofence check only runs when both coordinates
// are reported.
func (h *Handler) Mark(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, _ := auth.FromContext(c)

	var loc *geo.Coordinate
	if req.Latitude != nil && req.Longitude != nil {
		loc = &geo.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}
	}

	outcome, err := h.workflow.MarkWithVerification(
		c.Request.Context(), c.Param("id"), claims.Subject,
		req.CapturedImage, req.ReferenceImage, loc,
	)
	if err != nil {
		h.metrics.ObserveMarking(outcomeLabel(err))
		h.renderError(c, err)
		return
	}

	h.metrics.ObserveMarking("success")
	if sess, gerr := h.store.Get(outcome.SessionID); gerr == nil {
		rec := session.Record{
			ParticipantID:     outcome.ParticipantID,
			MarkedAt:          outcome.MarkedAt,
			Location:          loc,
			DistanceMeters:    outcome.DistanceMeters,
			BiometricVerified: true,
		}
		h.publishMarked(c.Request.Context(), outcome.SessionID, sess.Config.CourseID, rec)
	}

	resp := gin.H{
		"session_id":     outcome.SessionID,
		"participant_id": outcome.ParticipantID,
		"marked_at":      outcome.MarkedAt,
	}
	if outcome.DistanceMeters != nil {
		resp["distance_meters"] = *outcome.DistanceMeters
	}
	c.JSON(http.StatusOK, resp)
}

// ---------- Helpers ----------

func (h *Handler) publishSession(ctx context.Context, msgType string, handle session.Handle) {
	if h.queue == nil {
		return
	}
	msg, err := queue.NewSessionMessage(msgType, handle)
	if err == nil {
		err = h.queue.Publish(ctx, msg)
	}
	if err != nil {
		log.Printf("queue publish %s failed: %v", msgType, err)
	}
}

func (h *Handler) publishMarked(ctx context.Context, sessionID, courseID string, rec session.Record) {
	if h.queue == nil {
		return
	}
	msg, err := queue.NewMarkedMessage(sessionID, courseID, rec)
	if err == nil {
		err = h.queue.Publish(ctx, msg)
	}
	if err != nil {
		log.Printf("queue publish marked failed: %v", err)
	}
}

// outcomeLabel maps workflow errors to metric labels.
func outcomeLabel(err error) string {
	var geofence *marking.OutsideGeofenceError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, session.ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, session.ErrDuplicateMarking):
		return "duplicate"
	case errors.Is(err, marking.ErrFaceMismatch):
		return "face_mismatch"
	case errors.Is(err, marking.ErrVerificationUnavailable):
		return "verification_unavailable"
	case errors.As(err, &geofence):
		return "outside_geofence"
	default:
		return "error"
	}
}

// renderError translates engine errors to HTTP responses. Every rejection
// carries enough detail for the client to tell the participant what failed.
func (h *Handler) renderError(c *gin.Context, err error) {
	var geofence *marking.OutsideGeofenceError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found or not active"})
	case errors.Is(err, session.ErrActiveSessionExists):
		c.JSON(http.StatusConflict, gin.H{"error": "an active session already exists for this course"})
	case errors.Is(err, session.ErrSessionClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "session is closed"})
	case errors.Is(err, session.ErrDuplicateMarking):
		c.JSON(http.StatusConflict, gin.H{"error": "attendance already marked"})
	case errors.Is(err, session.ErrInvalidConfig):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, marking.ErrFaceMismatch):
		c.JSON(http.StatusForbidden, gin.H{"error": "face verification failed"})
	case errors.As(err, &geofence):
		c.JSON(http.StatusForbidden, gin.H{
			"error":           geofence.Error(),
			"distance_meters": geofence.DistanceMeters,
		})
	case errors.Is(err, marking.ErrVerificationUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "biometric verification unavailable, try again"})
	default:
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
