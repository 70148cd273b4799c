package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/mindtrain/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/checkpoint"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/difficulty"
	"github.com/louisbranch/mindtrain/internal/services/trainer/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed checkpoint persistence.
type Store struct {
	sqlDB *sql.DB
}

var _ checkpoint.Store = (*Store)(nil)

// Open opens a trainer SQLite store and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Save upserts the checkpoint for its session.
func (s *Store) Save(ctx context.Context, cp checkpoint.Checkpoint) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	cp.SessionID = strings.TrimSpace(cp.SessionID)
	if cp.SessionID == "" {
		return checkpoint.ErrSessionIDRequired
	}
	if cp.Difficulty == nil {
		cp.Difficulty = map[string]difficulty.State{}
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	difficultyJSON, err := json.Marshal(cp.Difficulty)
	if err != nil {
		return fmt.Errorf("encode difficulty: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO session_checkpoints (
	session_id,
	exercise,
	round_index,
	version,
	difficulty_json,
	updated_at
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	exercise = excluded.exercise,
	round_index = excluded.round_index,
	version = excluded.version,
	difficulty_json = excluded.difficulty_json,
	updated_at = excluded.updated_at
`,
		cp.SessionID,
		cp.Exercise,
		int64(cp.RoundIndex),
		int64(cp.Version),
		string(difficultyJSON),
		cp.UpdatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Get loads the checkpoint for a session.
func (s *Store) Get(ctx context.Context, sessionID string) (checkpoint.Checkpoint, error) {
	if err := s.ready(ctx); err != nil {
		return checkpoint.Checkpoint{}, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return checkpoint.Checkpoint{}, checkpoint.ErrSessionIDRequired
	}

	var (
		cp             checkpoint.Checkpoint
		roundIndex     int64
		version        int64
		difficultyJSON string
		updatedAt      int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT session_id, exercise, round_index, version, difficulty_json, updated_at
FROM session_checkpoints
WHERE session_id = ?
`, sessionID).Scan(&cp.SessionID, &cp.Exercise, &roundIndex, &version, &difficultyJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
	}
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("get checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(difficultyJSON), &cp.Difficulty); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("decode difficulty: %w", err)
	}
	cp.RoundIndex = uint64(roundIndex)
	cp.Version = uint64(version)
	cp.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return cp, nil
}

// AppendRound records one scored round.
func (s *Store) AppendRound(ctx context.Context, result checkpoint.RoundResult) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result.SessionID = strings.TrimSpace(result.SessionID)
	if result.SessionID == "" {
		return checkpoint.ErrSessionIDRequired
	}
	if result.ScoredAt.IsZero() {
		result.ScoredAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO round_results (
	session_id,
	exercise,
	round_index,
	category,
	level,
	new_level,
	correct,
	timed_out,
	latency_ms,
	scored_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		result.SessionID,
		result.Exercise,
		int64(result.RoundIndex),
		result.Category,
		result.Level,
		result.NewLevel,
		boolToInt(result.Correct),
		boolToInt(result.TimedOut),
		result.LatencyMS,
		result.ScoredAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append round: %w", err)
	}
	return nil
}

// ListRounds lists newest-first round results. A limit of zero or less
// returns every round.
func (s *Store) ListRounds(ctx context.Context, sessionID string, limit int) ([]checkpoint.RoundResult, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, checkpoint.ErrSessionIDRequired
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	session_id,
	exercise,
	round_index,
	category,
	level,
	new_level,
	correct,
	timed_out,
	latency_ms,
	scored_at
FROM round_results
WHERE session_id = ?
ORDER BY id DESC
LIMIT ?
`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	var results []checkpoint.RoundResult
	for rows.Next() {
		var (
			result     checkpoint.RoundResult
			roundIndex int64
			correct    int
			timedOut   int
			scoredAt   int64
		)
		if err := rows.Scan(
			&result.SessionID,
			&result.Exercise,
			&roundIndex,
			&result.Category,
			&result.Level,
			&result.NewLevel,
			&correct,
			&timedOut,
			&result.LatencyMS,
			&scoredAt,
		); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		result.RoundIndex = uint64(roundIndex)
		result.Correct = correct != 0
		result.TimedOut = timedOut != 0
		result.ScoredAt = time.UnixMilli(scoredAt).UTC()
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rounds: %w", err)
	}
	return results, nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
