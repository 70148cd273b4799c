// Package snapshot defines the immutable, versioned view of one exercise
// session that the server owns and the client reconstructs.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/difficulty"
)

// Phase is one stage of the round lifecycle.
type Phase string

const (
	PhasePreparation Phase = "preparation"
	PhaseActive      Phase = "active"
	PhaseAnswer      Phase = "answer"
	PhaseFeedback    Phase = "feedback"
)

// Next returns the phase that follows p in the fixed cycle.
func (p Phase) Next() Phase {
	switch p {
	case PhasePreparation:
		return PhaseActive
	case PhaseActive:
		return PhaseAnswer
	case PhaseAnswer:
		return PhaseFeedback
	case PhaseFeedback:
		return PhasePreparation
	default:
		return ""
	}
}

// Valid reports whether p is one of the four lifecycle phases.
func (p Phase) Valid() bool {
	return p.Next() != ""
}

// ParsePhase converts a wire label into a Phase.
func ParsePhase(value string) (Phase, error) {
	p := Phase(value)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", value)
	}
	return p, nil
}

// Snapshot is the full observable state of a session at one version.
// Values are treated as immutable once produced; use Clone before mutating.
type Snapshot struct {
	Version       uint64                      `json:"version"`
	Phase         Phase                       `json:"phase"`
	PhaseDeadline *time.Time                  `json:"phase_deadline"`
	Payload       map[string]any              `json:"payload"`
	Difficulty    map[string]difficulty.State `json:"difficulty"`
	RoundIndex    uint64                      `json:"round_index"`
	Stopped       bool                        `json:"stopped"`
}

// Clone returns a deep copy. Nil maps come back empty so two clones of equal
// snapshots encode identically.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.PhaseDeadline != nil {
		deadline := *s.PhaseDeadline
		out.PhaseDeadline = &deadline
	}
	out.Payload = make(map[string]any, len(s.Payload))
	for key, value := range s.Payload {
		out.Payload[key] = CloneValue(value)
	}
	out.Difficulty = make(map[string]difficulty.State, len(s.Difficulty))
	for key, value := range s.Difficulty {
		out.Difficulty[key] = value
	}
	return out
}

// Canonical returns the deterministic JSON encoding used for checksums and
// byte-level comparisons. Map keys are sorted by encoding/json.
func (s Snapshot) Canonical() ([]byte, error) {
	c := s.Clone()
	if c.PhaseDeadline != nil {
		deadline := c.PhaseDeadline.UTC()
		c.PhaseDeadline = &deadline
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %d: %w", s.Version, err)
	}
	return data, nil
}

// Equal reports whether two snapshots have the same canonical encoding.
func Equal(a, b Snapshot) bool {
	left, err := a.Canonical()
	if err != nil {
		return false
	}
	right, err := b.Canonical()
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}
