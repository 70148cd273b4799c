package delta

import (
	"time"

	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/snapshot"
)

// Default retention horizon for diffable bases.
const (
	DefaultHistoryVersions = 64
	DefaultHistoryMaxAge   = 2 * time.Minute
)

// HistoryConfig bounds how many versions a session keeps diffable. Zero
// disables the corresponding bound.
type HistoryConfig struct {
	MaxVersions int
	MaxAge      time.Duration
}

// DefaultHistoryConfig returns the default retention horizon.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{MaxVersions: DefaultHistoryVersions, MaxAge: DefaultHistoryMaxAge}
}

type retained struct {
	snap       snapshot.Snapshot
	recordedAt time.Time
}

// History retains recent snapshots of one session keyed by version, oldest
// first. It is not safe for concurrent use; the owning session serialises
// access.
type History struct {
	cfg     HistoryConfig
	entries []retained
}

// PruneResult reports what one Add evicted and the retained window.
type PruneResult struct {
	Evicted int
	Oldest  uint64
	Newest  uint64
}

// NewHistory returns an empty history with the given bounds.
func NewHistory(cfg HistoryConfig) *History {
	if cfg.MaxVersions < 0 {
		cfg.MaxVersions = 0
	}
	if cfg.MaxAge < 0 {
		cfg.MaxAge = 0
	}
	capacity := cfg.MaxVersions
	if capacity == 0 {
		capacity = DefaultHistoryVersions
	}
	return &History{cfg: cfg, entries: make([]retained, 0, capacity)}
}

// Add retains s recorded at the given time and prunes entries older than the
// age bound (relative to at) or beyond the count bound. Snapshots not newer
// than the newest retained version are ignored.
func (h *History) Add(s snapshot.Snapshot, at time.Time) PruneResult {
	if n := len(h.entries); n == 0 || s.Version > h.entries[n-1].snap.Version {
		h.entries = append(h.entries, retained{snap: s.Clone(), recordedAt: at})
	}
	return h.prune(at)
}

// Prune applies the age bound relative to now without adding anything.
func (h *History) Prune(now time.Time) PruneResult {
	return h.prune(now)
}

func (h *History) prune(now time.Time) PruneResult {
	var result PruneResult

	// The newest entry always survives so the current state stays diffable.
	if h.cfg.MaxAge > 0 && len(h.entries) > 1 {
		cutoff := now.Add(-h.cfg.MaxAge)
		idx := 0
		for idx < len(h.entries)-1 && h.entries[idx].recordedAt.Before(cutoff) {
			idx++
		}
		if idx > 0 {
			h.drop(idx)
			result.Evicted += idx
		}
	}
	if h.cfg.MaxVersions > 0 && len(h.entries) > h.cfg.MaxVersions {
		overflow := len(h.entries) - h.cfg.MaxVersions
		h.drop(overflow)
		result.Evicted += overflow
	}

	if n := len(h.entries); n > 0 {
		result.Oldest = h.entries[0].snap.Version
		result.Newest = h.entries[n-1].snap.Version
	}
	return result
}

func (h *History) drop(n int) {
	copy(h.entries, h.entries[n:])
	for i := len(h.entries) - n; i < len(h.entries); i++ {
		h.entries[i] = retained{}
	}
	h.entries = h.entries[:len(h.entries)-n]
}

// Get returns the retained snapshot for version.
func (h *History) Get(version uint64) (snapshot.Snapshot, bool) {
	// Versions are appended in increasing order.
	lo, hi := 0, len(h.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		switch v := h.entries[mid].snap.Version; {
		case v == version:
			return h.entries[mid].snap, true
		case v < version:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return snapshot.Snapshot{}, false
}

// Window returns the retained size and version range.
func (h *History) Window() (size int, oldest, newest uint64) {
	size = len(h.entries)
	if size == 0 {
		return 0, 0, 0
	}
	return size, h.entries[0].snap.Version, h.entries[size-1].snap.Version
}
