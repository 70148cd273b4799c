package delta

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/louisbranch/mindtrain/internal/platform/errors"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/difficulty"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/snapshot"
)

// Reserved field keys.
const (
	KeyPhase         = "phase"
	KeyPhaseDeadline = "phase_deadline"
	KeyRoundIndex    = "round_index"
	KeyStopped       = "stopped"

	// RemoveAll in Removed drops every payload and difficulty key before
	// Changed is applied.
	RemoveAll = "*"

	payloadPrefix    = "payload."
	difficultyPrefix = "difficulty."
)

var (
	// ErrVersionMismatch reports a record applied to the wrong base or a diff
	// whose target is not newer than its base.
	ErrVersionMismatch = apperrors.New(apperrors.CodeVersionMismatch, "delta base version mismatch")
	// ErrMalformed reports a record that cannot be applied to any snapshot.
	ErrMalformed = apperrors.New(apperrors.CodeInvalidArgument, "delta record is malformed")
)

// PayloadKey namespaces a payload field.
func PayloadKey(key string) string { return payloadPrefix + key }

// DifficultyKey namespaces a difficulty category.
func DifficultyKey(category string) string { return difficultyPrefix + category }

// Record is the difference between two versions of one session.
type Record struct {
	FromVersion uint64         `json:"from_version"`
	ToVersion   uint64         `json:"to_version"`
	Changed     map[string]any `json:"changed_fields"`
	Removed     []string       `json:"removed_keys"`
	Full        bool           `json:"full"`
	// Checksum is the xxhash of the canonical snapshot this record produces.
	Checksum uint64 `json:"checksum,string"`
}

// Empty reports whether the record carries no change at all.
func (r Record) Empty() bool {
	return !r.Full && r.FromVersion == r.ToVersion && len(r.Changed) == 0 && len(r.Removed) == 0
}

// Diff computes the record that turns base into next.
func Diff(base, next snapshot.Snapshot) (Record, error) {
	if next.Version <= base.Version {
		return Record{}, versionMismatch(base.Version, next.Version)
	}

	rec := Record{
		FromVersion: base.Version,
		ToVersion:   next.Version,
		Changed:     map[string]any{},
		Removed:     []string{},
	}

	for key, value := range next.Payload {
		prev, ok := base.Payload[key]
		if !ok || !snapshot.ValuesEqual(prev, value) {
			rec.Changed[PayloadKey(key)] = snapshot.CloneValue(value)
		}
	}
	for key := range base.Payload {
		if _, ok := next.Payload[key]; !ok {
			rec.Removed = append(rec.Removed, PayloadKey(key))
		}
	}
	for category, state := range next.Difficulty {
		prev, ok := base.Difficulty[category]
		if !ok || prev != state {
			rec.Changed[DifficultyKey(category)] = state
		}
	}
	for category := range base.Difficulty {
		if _, ok := next.Difficulty[category]; !ok {
			rec.Removed = append(rec.Removed, DifficultyKey(category))
		}
	}

	if base.Phase != next.Phase {
		rec.Changed[KeyPhase] = next.Phase
	}
	if !deadlinesEqual(base.PhaseDeadline, next.PhaseDeadline) {
		rec.Changed[KeyPhaseDeadline] = cloneDeadline(next.PhaseDeadline)
	}
	if base.RoundIndex != next.RoundIndex {
		rec.Changed[KeyRoundIndex] = next.RoundIndex
	}
	if base.Stopped != next.Stopped {
		rec.Changed[KeyStopped] = next.Stopped
	}

	sort.Strings(rec.Removed)
	rec.Checksum = Checksum(next)
	return rec, nil
}

// Full disguises the whole of next as a record valid against any base.
func Full(next snapshot.Snapshot) Record {
	rec := Record{
		ToVersion: next.Version,
		Changed:   make(map[string]any, len(next.Payload)+len(next.Difficulty)+4),
		Removed:   []string{RemoveAll},
		Full:      true,
	}
	for key, value := range next.Payload {
		rec.Changed[PayloadKey(key)] = snapshot.CloneValue(value)
	}
	for category, state := range next.Difficulty {
		rec.Changed[DifficultyKey(category)] = state
	}
	rec.Changed[KeyPhase] = next.Phase
	rec.Changed[KeyPhaseDeadline] = cloneDeadline(next.PhaseDeadline)
	rec.Changed[KeyRoundIndex] = next.RoundIndex
	rec.Changed[KeyStopped] = next.Stopped
	rec.Checksum = Checksum(next)
	return rec
}

// Apply rebuilds the snapshot rec describes on top of base. Values decoded
// from JSON (float64 numbers, string phases and deadlines, generic maps for
// difficulty states) are accepted alongside their native types.
func Apply(base snapshot.Snapshot, rec Record) (snapshot.Snapshot, error) {
	if !rec.Full && rec.FromVersion != base.Version {
		return snapshot.Snapshot{}, versionMismatch(base.Version, rec.FromVersion)
	}

	next := base.Clone()
	if rec.Full {
		next = snapshot.Snapshot{
			Phase:      base.Phase,
			Payload:    map[string]any{},
			Difficulty: map[string]difficulty.State{},
		}
	}
	next.Version = rec.ToVersion

	for _, key := range rec.Removed {
		switch {
		case key == RemoveAll:
			next.Payload = map[string]any{}
			next.Difficulty = map[string]difficulty.State{}
		case strings.HasPrefix(key, payloadPrefix):
			delete(next.Payload, strings.TrimPrefix(key, payloadPrefix))
		case strings.HasPrefix(key, difficultyPrefix):
			delete(next.Difficulty, strings.TrimPrefix(key, difficultyPrefix))
		default:
			return snapshot.Snapshot{}, malformed("cannot remove %q", key)
		}
	}

	for key, value := range rec.Changed {
		if err := applyField(&next, key, value); err != nil {
			return snapshot.Snapshot{}, err
		}
	}
	return next, nil
}

func applyField(next *snapshot.Snapshot, key string, value any) error {
	switch {
	case strings.HasPrefix(key, payloadPrefix):
		next.Payload[strings.TrimPrefix(key, payloadPrefix)] = snapshot.CloneValue(value)
	case strings.HasPrefix(key, difficultyPrefix):
		state, err := toState(value)
		if err != nil {
			return malformed("%s: %v", key, err)
		}
		next.Difficulty[strings.TrimPrefix(key, difficultyPrefix)] = state
	case key == KeyPhase:
		phase, err := toPhase(value)
		if err != nil {
			return malformed("%s: %v", key, err)
		}
		next.Phase = phase
	case key == KeyPhaseDeadline:
		deadline, err := toDeadline(value)
		if err != nil {
			return malformed("%s: %v", key, err)
		}
		next.PhaseDeadline = deadline
	case key == KeyRoundIndex:
		round, err := toUint64(value)
		if err != nil {
			return malformed("%s: %v", key, err)
		}
		next.RoundIndex = round
	case key == KeyStopped:
		stopped, ok := value.(bool)
		if !ok {
			return malformed("%s: want bool, got %T", key, value)
		}
		next.Stopped = stopped
	default:
		return malformed("unknown field %q", key)
	}
	return nil
}

func toState(value any) (difficulty.State, error) {
	switch typed := value.(type) {
	case difficulty.State:
		return typed, nil
	case *difficulty.State:
		if typed == nil {
			return difficulty.State{}, fmt.Errorf("nil state")
		}
		return *typed, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return difficulty.State{}, err
	}
	var state difficulty.State
	if err := json.Unmarshal(data, &state); err != nil {
		return difficulty.State{}, err
	}
	return state, nil
}

func toPhase(value any) (snapshot.Phase, error) {
	switch typed := value.(type) {
	case snapshot.Phase:
		if !typed.Valid() {
			return "", fmt.Errorf("unknown phase %q", typed)
		}
		return typed, nil
	case string:
		return snapshot.ParsePhase(typed)
	default:
		return "", fmt.Errorf("want phase, got %T", value)
	}
}

func toDeadline(value any) (*time.Time, error) {
	switch typed := value.(type) {
	case nil:
		return nil, nil
	case *time.Time:
		return cloneDeadline(typed), nil
	case time.Time:
		return &typed, nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, typed)
		if err != nil {
			return nil, err
		}
		return &parsed, nil
	default:
		return nil, fmt.Errorf("want time, got %T", value)
	}
}

func toUint64(value any) (uint64, error) {
	switch typed := value.(type) {
	case uint64:
		return typed, nil
	case int:
		if typed < 0 {
			return 0, fmt.Errorf("negative value %d", typed)
		}
		return uint64(typed), nil
	case float64:
		if typed < 0 || typed != float64(uint64(typed)) {
			return 0, fmt.Errorf("not an unsigned integer: %v", typed)
		}
		return uint64(typed), nil
	case json.Number:
		var out uint64
		_, err := fmt.Sscan(typed.String(), &out)
		return out, err
	default:
		return 0, fmt.Errorf("want unsigned integer, got %T", value)
	}
}

func deadlinesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func cloneDeadline(deadline *time.Time) *time.Time {
	if deadline == nil {
		return nil
	}
	out := *deadline
	return &out
}

func versionMismatch(have, want uint64) error {
	return apperrors.WithMetadata(apperrors.CodeVersionMismatch,
		fmt.Sprintf("delta base version mismatch: have %d, want %d", have, want),
		map[string]string{"BaseVersion": fmt.Sprint(have), "RecordVersion": fmt.Sprint(want)})
}

func malformed(format string, args ...any) error {
	return apperrors.Wrap(apperrors.CodeInvalidArgument, "delta record is malformed", fmt.Errorf(format, args...))
}
