package transport

import (
	"encoding/json"

	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/delta"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/machine"
)

// Frame types.
const (
	FrameOpen   = "session.open"
	FrameResume = "session.resume"
	FrameInput  = "session.input"
	FrameAck    = "session.ack"
	FrameResync = "session.resync"
	FrameClose  = "session.close"

	FrameOpened = "session.opened"
	FrameDelta  = "session.delta"
	FrameError  = "session.error"
	FrameClosed = "session.closed"
)

// Frame is the envelope of every websocket message.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// OpenPayload starts a session, or re-opens a checkpointed one when a resume
// token is given.
type OpenPayload struct {
	Exercise    string `json:"exercise"`
	ResumeToken string `json:"resume_token,omitempty"`
	Seed        uint64 `json:"seed,omitempty"`
}

// ResumePayload re-attaches to a live session.
type ResumePayload struct {
	ResumeToken string `json:"resume_token"`
	BaseVersion uint64 `json:"base_version"`
}

// InputPayload is one client event.
type InputPayload struct {
	Type       machine.EventType `json:"type"`
	RoundIndex uint64            `json:"round_index"`
	Payload    map[string]any    `json:"payload,omitempty"`
}

// AckPayload acknowledges an applied version.
type AckPayload struct {
	Version uint64 `json:"version"`
}

// ResyncPayload reports the version the client actually holds.
type ResyncPayload struct {
	BaseVersion uint64 `json:"base_version"`
}

// OpenedPayload answers open and resume.
type OpenedPayload struct {
	SessionID   string       `json:"session_id"`
	Exercise    string       `json:"exercise"`
	ResumeToken string       `json:"resume_token"`
	Restored    bool         `json:"restored"`
	Record      delta.Record `json:"record"`
}

// DeltaPayload carries one update.
type DeltaPayload struct {
	SessionID string       `json:"session_id"`
	Record    delta.Record `json:"record"`
}

// ClosedPayload reports the end of a session.
type ClosedPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// ErrorPayload reports a rejected frame.
type ErrorPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	SessionID  string `json:"session_id,omitempty"`
	RoundIndex uint64 `json:"round_index"`
	Retryable  bool   `json:"retryable"`
}
