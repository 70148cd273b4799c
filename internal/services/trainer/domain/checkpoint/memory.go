package checkpoint

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Memory stores checkpoints in memory.
type Memory struct {
	mu          sync.Mutex
	checkpoints map[string]Checkpoint
	rounds      map[string][]RoundResult
}

// NewMemory creates a new in-memory checkpoint store.
func NewMemory() *Memory {
	return &Memory{
		checkpoints: make(map[string]Checkpoint),
		rounds:      make(map[string][]RoundResult),
	}
}

// Get retrieves a checkpoint by session id.
func (m *Memory) Get(ctx context.Context, sessionID string) (Checkpoint, error) {
	if err := ready(ctx, m); err != nil {
		return Checkpoint{}, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Checkpoint{}, ErrSessionIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	checkpoint, ok := m.checkpoints[sessionID]
	if !ok {
		return Checkpoint{}, ErrNotFound
	}
	checkpoint.Difficulty = cloneDifficulty(checkpoint.Difficulty)
	return checkpoint, nil
}

// Save persists a checkpoint, replacing any previous one for the session.
func (m *Memory) Save(ctx context.Context, checkpoint Checkpoint) error {
	if err := ready(ctx, m); err != nil {
		return err
	}
	sessionID := strings.TrimSpace(checkpoint.SessionID)
	if sessionID == "" {
		return ErrSessionIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	checkpoint.SessionID = sessionID
	checkpoint.Difficulty = cloneDifficulty(checkpoint.Difficulty)
	m.checkpoints[sessionID] = checkpoint
	return nil
}

// AppendRound records a scored round.
func (m *Memory) AppendRound(ctx context.Context, result RoundResult) error {
	if err := ready(ctx, m); err != nil {
		return err
	}
	sessionID := strings.TrimSpace(result.SessionID)
	if sessionID == "" {
		return ErrSessionIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result.SessionID = sessionID
	m.rounds[sessionID] = append(m.rounds[sessionID], result)
	return nil
}

// ListRounds returns up to limit most recent rounds, newest first. A limit of
// zero or less returns every round.
func (m *Memory) ListRounds(ctx context.Context, sessionID string, limit int) ([]RoundResult, error) {
	if err := ready(ctx, m); err != nil {
		return nil, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.rounds[sessionID]
	n := len(stored)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]RoundResult, 0, n)
	for i := len(stored) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, stored[i])
	}
	return out, nil
}

func ready(ctx context.Context, m *Memory) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if m == nil {
		return errors.New("checkpoint store is required")
	}
	return nil
}
