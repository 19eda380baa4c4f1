package websocket

import (
	"encoding/json"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionHeartbeat  Action = "heartbeat"
	ActionSaveAnswer Action = "save_answer"
	ActionViolation  Action = "violation"
	ActionSubmit     Action = "submit"
	ActionPing       Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing. The
// raw message is kept for the second decode.
type RequestEnvelope struct {
	Action Action `json:"action"`
	Ref    string `json:"ref,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// SaveAnswerRequest is sent by the client to save a single answer.
type SaveAnswerRequest struct {
	Action     Action            `json:"action"`
	QuestionID string            `json:"question_id" binding:"required,max=64"`
	Answer     model.AnswerValue `json:"answer"`
}

// ViolationRequest is a client-side proctoring event (tab switch, focus
// loss, fullscreen exit).
type ViolationRequest struct {
	Action    Action         `json:"action"`
	Type      string         `json:"type" binding:"required,max=64"`
	Severity  model.Severity `json:"severity" binding:"required,severity"`
	Count     int            `json:"count" binding:"omitempty,min=1,max=1000"`
	Reference *string        `json:"reference" binding:"omitempty,max=1024"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError        Event = "error"
	EventHeartbeatAck Event = "heartbeat_ack"
	EventSaved        Event = "saved"
	EventViolation    Event = "violation_recorded"
	EventSubmitted    Event = "submitted"
	EventPong         Event = "pong"
	EventSession      Event = "session_event"
)

// Message is the server frame. Ref echoes the client's ref so responses
// can be matched to requests.
type Message struct {
	Event Event  `json:"event"`
	Ref   string `json:"ref,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Ref   string `json:"ref,omitempty"`
	Code  string `json:"code"`
	Error string `json:"error"`
}
