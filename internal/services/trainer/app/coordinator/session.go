package coordinator

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/mindtrain/internal/platform/errors"
	"github.com/louisbranch/mindtrain/internal/services/trainer/app/metrics"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/checkpoint"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/delta"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/machine"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/snapshot"
)

// session is one registry entry. mu serialises the machine, the history and
// the ack bookkeeping.
type session struct {
	mu       sync.Mutex
	id       string
	exercise string
	openedAt time.Time

	machine *machine.Machine
	history *delta.History

	lastAcked uint64
	// produced holds versions sent and not yet acknowledged.
	produced   map[uint64]struct{}
	lastSentAt time.Time

	sink       Sink
	detachedAt time.Time

	rounds          []machine.Round
	roundsSinceSave int
}

func newSession(id, exercise string, history delta.HistoryConfig, now time.Time, sink Sink) *session {
	return &session{
		id:         id,
		exercise:   exercise,
		openedAt:   now,
		history:    delta.NewHistory(history),
		produced:   make(map[uint64]struct{}),
		sink:       sink,
		detachedAt: now,
	}
}

func (s *session) attach(sink Sink) {
	s.sink = sink
}

// rebaseLocked makes base the diff base for the next update. A base the
// session never reached cannot be one the client holds, so it falls back to
// zero and the next update is full.
func (s *session) rebaseLocked(base uint64) {
	if base > s.machine.Snapshot().Version {
		base = 0
	}
	s.lastAcked = base
	clear(s.produced)
}

func (s *session) roundIndex() uint64 {
	if s.machine == nil {
		return 0
	}
	return s.machine.Snapshot().RoundIndex
}

// HandleClientEvent routes ev to the session machine and, on success, sends
// the resulting update. A stop event closes the session afterwards.
func (c *Coordinator) HandleClientEvent(ctx context.Context, sessionID string, ev machine.Event) (snap snapshot.Snapshot, err error) {
	ctx, span := tracer.Start(ctx, "coordinator.HandleClientEvent", trace.WithAttributes(
		attribute.String("trainer.session_id", sessionID),
		attribute.String("trainer.event", string(ev.Type)),
		attribute.Int64("trainer.round_index", int64(ev.RoundIndex)),
	))
	defer func() { endSpan(span, err) }()

	s, err := c.lookup(sessionID)
	if err != nil {
		return snapshot.Snapshot{}, c.fail(ctx, sessionID, ev.RoundIndex, err)
	}
	if id := strings.TrimSpace(ev.SessionID); id != "" && id != s.id {
		return snapshot.Snapshot{}, c.fail(ctx, sessionID, ev.RoundIndex, apperrors.WithMetadata(
			apperrors.CodeInvalidArgument,
			"event addressed to another session",
			map[string]string{"Reason": "session_id mismatch"},
		))
	}

	s.mu.Lock()
	snap, err = s.machine.SubmitInput(ev)
	if err != nil {
		round := s.roundIndex()
		s.mu.Unlock()
		return snapshot.Snapshot{}, c.fail(ctx, sessionID, round, err)
	}
	c.flushRoundsLocked(ctx, s)
	_, out, err := c.prepareLocked(s)
	s.mu.Unlock()
	if err != nil {
		return snap, c.fail(ctx, sessionID, snap.RoundIndex, err)
	}
	c.deliver(ctx, out)

	if snap.Stopped {
		if err := c.Close(ctx, sessionID, ReasonStopped); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

// Stop ends the session machine and sends the terminal update. The session
// stays registered until closed.
func (c *Coordinator) Stop(ctx context.Context, sessionID string) (snapshot.Snapshot, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return snapshot.Snapshot{}, c.fail(ctx, sessionID, 0, err)
	}
	s.mu.Lock()
	snap, err := s.machine.Stop()
	if err != nil {
		round := s.roundIndex()
		s.mu.Unlock()
		return snapshot.Snapshot{}, c.fail(ctx, sessionID, round, err)
	}
	_, out, err := c.prepareLocked(s)
	s.mu.Unlock()
	if err != nil {
		return snap, c.fail(ctx, sessionID, snap.RoundIndex, err)
	}
	c.deliver(ctx, out)
	return snap, nil
}

// ProduceUpdate diffs the current snapshot from the last acknowledged one
// and sends it. The acknowledged base never moves here, so an unacknowledged
// update is re-sent inside the next one.
func (c *Coordinator) ProduceUpdate(ctx context.Context, sessionID string) (delta.Record, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return delta.Record{}, c.fail(ctx, sessionID, 0, err)
	}
	s.mu.Lock()
	rec, out, err := c.prepareLocked(s)
	round := s.roundIndex()
	s.mu.Unlock()
	if err != nil {
		return delta.Record{}, c.fail(ctx, sessionID, round, err)
	}
	c.deliver(ctx, out)
	return rec, nil
}

// Ack records that the client applied version. Acks only move forward and
// only to versions this session actually sent; older acks are ignored.
func (c *Coordinator) Ack(sessionID string, version uint64) error {
	s, err := c.lookup(sessionID)
	if err != nil {
		return c.fail(context.Background(), sessionID, 0, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if version <= s.lastAcked {
		return nil
	}
	if _, ok := s.produced[version]; !ok {
		return c.fail(context.Background(), sessionID, s.roundIndex(), delta.ErrVersionMismatch.Annotate(map[string]string{
			"SessionID": sessionID,
			"Version":   strconv.FormatUint(version, 10),
		}))
	}
	s.lastAcked = version
	for v := range s.produced {
		if v <= version {
			delete(s.produced, v)
		}
	}
	return nil
}

// Resync resets the diff base to the version the client reports holding and
// sends an update from it. Bases outside the retained history, or ahead of
// the session, get a full record.
func (c *Coordinator) Resync(ctx context.Context, sessionID string, baseVersion uint64) (delta.Record, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return delta.Record{}, c.fail(ctx, sessionID, 0, err)
	}
	s.mu.Lock()
	s.rebaseLocked(baseVersion)
	rec, out, err := c.prepareLocked(s)
	round := s.roundIndex()
	s.mu.Unlock()
	if err != nil {
		return delta.Record{}, c.fail(ctx, sessionID, round, err)
	}
	c.deliver(ctx, out)
	c.log.DebugContext(ctx, "session resync",
		"session_id", sessionID,
		"base_version", baseVersion,
		"full", rec.Full,
	)
	return rec, nil
}

// encodeLocked builds the record from the acknowledged base and marks its
// target as produced.
func (c *Coordinator) encodeLocked(s *session) (delta.Record, error) {
	rec, err := delta.Encode(s.history, s.lastAcked, s.machine.Snapshot())
	if err != nil {
		return delta.Record{}, err
	}
	if !rec.Empty() {
		s.produced[rec.ToVersion] = struct{}{}
		s.lastSentAt = c.cfg.Clock()
	}
	return rec, nil
}

// delivery is an encoded update waiting to be handed to its sink.
type delivery struct {
	sink      Sink
	sessionID string
	rec       delta.Record
}

// prepareLocked encodes one update for the attached sink. Empty records and
// detached sessions produce no delivery.
func (c *Coordinator) prepareLocked(s *session) (delta.Record, delivery, error) {
	rec, err := c.encodeLocked(s)
	if err != nil {
		return delta.Record{}, delivery{}, err
	}
	if rec.Empty() || s.sink == nil {
		return rec, delivery{}, nil
	}
	return rec, delivery{sink: s.sink, sessionID: s.id, rec: rec}, nil
}

// deliver hands an update to its sink. It runs without the session lock, so
// records of one session may reach the sink out of order; clients drop
// records older than the version they hold.
func (c *Coordinator) deliver(ctx context.Context, d delivery) {
	if d.sink == nil {
		return
	}
	if err := d.sink.Send(ctx, d.sessionID, d.rec); err != nil {
		// Delivery failures are retried by re-diffing from the acked base.
		c.log.WarnContext(ctx, "send update failed",
			"session_id", d.sessionID,
			"to_version", d.rec.ToVersion,
			"error", err,
		)
		return
	}
	c.cfg.Metrics.UpdateSent(updateKind(d.rec), encodedSize(d.rec))
}

// flushRoundsLocked persists scored rounds and checkpoints every
// CheckpointEvery rounds.
func (c *Coordinator) flushRoundsLocked(ctx context.Context, s *session) {
	if len(s.rounds) == 0 {
		return
	}
	rounds := s.rounds
	s.rounds = nil
	for _, round := range rounds {
		c.cfg.Metrics.RoundScored(s.exercise, round.Correct)
		c.cfg.Metrics.LevelChanged(round.Category, round.Adjustment.From, round.Adjustment.To)
		if round.Adjustment.Changed() {
			c.log.InfoContext(ctx, "difficulty level changed",
				"session_id", s.id,
				"category", round.Category,
				"from", round.Adjustment.From,
				"to", round.Adjustment.To,
			)
		}
		err := c.cfg.Checkpoints.AppendRound(ctx, checkpoint.RoundResult{
			SessionID:  s.id,
			Exercise:   s.exercise,
			RoundIndex: round.Index,
			Category:   round.Category,
			Level:      round.Adjustment.From,
			NewLevel:   round.Adjustment.To,
			Correct:    round.Correct,
			TimedOut:   round.TimedOut,
			LatencyMS:  round.Latency.Milliseconds(),
			ScoredAt:   round.ScoredAt,
		})
		if err != nil {
			c.log.WarnContext(ctx, "append round result failed", "session_id", s.id, "error", err)
		}
		s.roundsSinceSave++
	}
	if c.cfg.CheckpointEvery > 0 && s.roundsSinceSave >= c.cfg.CheckpointEvery {
		if err := c.saveCheckpointLocked(ctx, s); err != nil {
			c.log.WarnContext(ctx, "save checkpoint failed", "session_id", s.id, "error", err)
		}
	}
}

func (c *Coordinator) saveCheckpointLocked(ctx context.Context, s *session) error {
	snap := s.machine.Snapshot()
	err := c.cfg.Checkpoints.Save(ctx, checkpoint.Checkpoint{
		SessionID:  s.id,
		Exercise:   s.exercise,
		RoundIndex: snap.RoundIndex,
		Version:    snap.Version,
		Difficulty: snap.Difficulty,
		UpdatedAt:  c.cfg.Clock().UTC(),
	})
	if err != nil {
		return err
	}
	s.roundsSinceSave = 0
	return nil
}

func updateKind(rec delta.Record) string {
	switch {
	case rec.Full:
		return metrics.UpdateFull
	case rec.Empty():
		return metrics.UpdateEmpty
	default:
		return metrics.UpdateDiff
	}
}

func encodedSize(rec delta.Record) int {
	data, err := json.Marshal(rec)
	if err != nil {
		return 0
	}
	return len(data)
}
