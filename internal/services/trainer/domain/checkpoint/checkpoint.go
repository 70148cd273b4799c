package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/difficulty"
)

var (
	// ErrSessionIDRequired indicates a missing session id.
	ErrSessionIDRequired = errors.New("session id is required")
	// ErrNotFound indicates no checkpoint exists for the session.
	ErrNotFound = errors.New("checkpoint not found")
)

// Checkpoint is the resumable progress of one session.
type Checkpoint struct {
	SessionID  string
	Exercise   string
	RoundIndex uint64
	Version    uint64
	Difficulty map[string]difficulty.State
	UpdatedAt  time.Time
}

// RoundResult records one scored round.
type RoundResult struct {
	SessionID  string
	Exercise   string
	RoundIndex uint64
	Category   string
	Level      int
	NewLevel   int
	Correct    bool
	TimedOut   bool
	LatencyMS  int64
	ScoredAt   time.Time
}

// Store persists checkpoints and round results.
type Store interface {
	Save(ctx context.Context, checkpoint Checkpoint) error
	Get(ctx context.Context, sessionID string) (Checkpoint, error)
	AppendRound(ctx context.Context, result RoundResult) error
	ListRounds(ctx context.Context, sessionID string, limit int) ([]RoundResult, error)
}

func cloneDifficulty(states map[string]difficulty.State) map[string]difficulty.State {
	out := make(map[string]difficulty.State, len(states))
	for key, value := range states {
		out[key] = value
	}
	return out
}
