package machine

import apperrors "github.com/louisbranch/mindtrain/internal/platform/errors"

// EventType names a client input.
type EventType string

const (
	EventClick    EventType = "click"
	EventKey      EventType = "key"
	EventReady    EventType = "ready"
	EventContinue EventType = "continue"
	EventStop     EventType = "stop"
)

// Event is one client input addressed to a round.
type Event struct {
	Type       EventType      `json:"type"`
	SessionID  string         `json:"session_id"`
	RoundIndex uint64         `json:"round_index"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// IsResponse reports whether the event answers a challenge.
func (t EventType) IsResponse() bool {
	return t == EventClick || t == EventKey
}

var (
	// ErrInvalidPhaseInput rejects an input the current phase does not accept.
	ErrInvalidPhaseInput = apperrors.New(apperrors.CodeInvalidPhaseInput, "input not accepted in current phase")
	// ErrStaleRound rejects an input addressed to another round, or a response
	// to a round whose response is already settled.
	ErrStaleRound = apperrors.New(apperrors.CodeStaleRound, "input references a settled or different round")
	// ErrStopped rejects every call after a stop request.
	ErrStopped = apperrors.New(apperrors.CodeSessionStopped, "module instance is stopped")
)
