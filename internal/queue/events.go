package queue

import (
	"encoding/json"
	"fmt"

	"presence/internal/session"
)

// Message types carried on the queue.
const (
	TypeSessionStarted = "session.started"
	TypeSessionClosed  = "session.closed"
	TypeMarked         = "presence.marked"
)

// SessionEvent announces a session lifecycle change to the archiver.
type SessionEvent struct {
	Handle session.Handle `json:"handle"`
}

// MarkedEvent announces a committed presence record.
type MarkedEvent struct {
	SessionID string         `json:"session_id"`
	CourseID  string         `json:"course_id"`
	Record    session.Record `json:"record"`
}

// NewSessionMessage encodes a lifecycle event.
func NewSessionMessage(msgType string, h session.Handle) (Message, error) {
	body, err := json.Marshal(SessionEvent{Handle: h})
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, Body: body}, nil
}

// NewMarkedMessage encodes a committed record event.
func NewMarkedMessage(sessionID, courseID string, rec session.Record) (Message, error) {
	body, err := json.Marshal(MarkedEvent{SessionID: sessionID, CourseID: courseID, Record: rec})
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeMarked, Body: body}, nil
}

// DecodeSession decodes a lifecycle event body.
func DecodeSession(msg Message) (SessionEvent, error) {
	var evt SessionEvent
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return SessionEvent{}, fmt.Errorf("decode %s event: %w", msg.Type, err)
	}
	return evt, nil
}

// DecodeMarked decodes a committed record event body.
func DecodeMarked(msg Message) (MarkedEvent, error) {
	var evt MarkedEvent
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return MarkedEvent{}, fmt.Errorf("decode %s event: %w", msg.Type, err)
	}
	return evt, nil
}
