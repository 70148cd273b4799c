package machine

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strconv"
	"time"

	apperrors "github.com/louisbranch/mindtrain/internal/platform/errors"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/difficulty"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/exercise"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/snapshot"
)

// Payload keys written by the machine.
const (
	KeyExercise  = "exercise"
	KeyLevel     = "level"
	KeyChallenge = "challenge"
	KeyResponse  = "response"
	KeyResult    = "result"
)

// Round summarises one completed Answer -> Feedback step.
type Round struct {
	Index      uint64
	Category   string
	Level      int
	Correct    bool
	TimedOut   bool
	Latency    time.Duration
	Adjustment difficulty.Adjustment
	ScoredAt   time.Time
}

// Options configures a new machine.
type Options struct {
	Exercise exercise.Exercise
	Profile  exercise.Profile
	// Seed feeds the round generator. Zero derives a seed from SessionID.
	Seed      uint64
	SessionID string
	Clock     func() time.Time
	// Difficulty and RoundIndex restore a checkpointed session.
	Difficulty map[string]difficulty.State
	RoundIndex uint64
	// OnSnapshot observes every produced version, including transient Answer.
	OnSnapshot func(snapshot.Snapshot)
	// OnRound observes every scored round.
	OnRound func(Round)
}

// Machine is the authoritative lifecycle of one exercise instance.
type Machine struct {
	exercise   exercise.Exercise
	category   string
	timing     exercise.Timing
	controller *difficulty.Controller
	rng        *rand.Rand
	clock      func() time.Time
	onSnapshot func(snapshot.Snapshot)
	onRound    func(Round)

	current  snapshot.Snapshot
	activeAt time.Time
	// solution of the open round; never part of the snapshot.
	solution map[string]any
}

// New validates the profile and returns a machine in Preparation at
// version 1. Profile errors are configuration errors and no snapshot is
// produced.
func New(opts Options) (*Machine, error) {
	if opts.Exercise == nil {
		return nil, fmt.Errorf("exercise is required")
	}
	if err := opts.Profile.Validate(); err != nil {
		return nil, err
	}
	controller, err := difficulty.NewController(opts.Profile.Difficulty)
	if err != nil {
		return nil, err
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	seed := opts.Seed
	if seed == 0 {
		seed = seedFor(opts.SessionID)
	}

	m := &Machine{
		exercise:   opts.Exercise,
		category:   opts.Exercise.Category(),
		timing:     opts.Profile.Timing,
		controller: controller,
		rng:        rand.New(rand.NewPCG(seed, seed^0x5bd1e9955bd1e995)),
		clock:      clock,
		onSnapshot: opts.OnSnapshot,
		onRound:    opts.OnRound,
	}

	states := controller.Restore(opts.Difficulty)
	now := clock().UTC()
	m.emit(snapshot.Snapshot{
		Phase:         snapshot.PhasePreparation,
		PhaseDeadline: deadline(now, m.timing.Preparation),
		Payload: map[string]any{
			KeyExercise: m.exercise.Name(),
			KeyLevel:    float64(controller.Level(states, m.category)),
		},
		Difficulty: states,
		RoundIndex: opts.RoundIndex,
	})
	return m, nil
}

// Snapshot returns a deep copy of the current state.
func (m *Machine) Snapshot() snapshot.Snapshot {
	return m.current.Clone()
}

// Category returns the difficulty category the exercise trains.
func (m *Machine) Category() string {
	return m.category
}

// Stopped reports whether a stop request ended the instance.
func (m *Machine) Stopped() bool {
	return m.current.Stopped
}

// SubmitInput applies one client event. Failures leave the state untouched.
// A stop event is accepted in any phase and for any round.
func (m *Machine) SubmitInput(ev Event) (snapshot.Snapshot, error) {
	if m.current.Stopped {
		return snapshot.Snapshot{}, ErrStopped
	}
	if ev.Type == EventStop {
		return m.stop(), nil
	}
	switch ev.Type {
	case EventClick, EventKey, EventReady, EventContinue:
	default:
		return snapshot.Snapshot{}, m.rejected(ErrInvalidPhaseInput, ev)
	}
	if ev.RoundIndex != m.current.RoundIndex {
		return snapshot.Snapshot{}, m.rejected(ErrStaleRound, ev)
	}

	now := m.clock().UTC()
	phase := m.current.Phase
	switch {
	case ev.Type == EventReady && phase == snapshot.PhasePreparation:
		if err := m.activate(now); err != nil {
			return snapshot.Snapshot{}, err
		}
	case ev.Type.IsResponse() && phase == snapshot.PhaseActive:
		if err := m.answer(now, ev, false); err != nil {
			return snapshot.Snapshot{}, err
		}
	case ev.Type.IsResponse() && (phase == snapshot.PhaseAnswer || phase == snapshot.PhaseFeedback):
		// First processed of (response, timeout) wins the round.
		return snapshot.Snapshot{}, m.rejected(ErrStaleRound, ev)
	case ev.Type == EventContinue && phase == snapshot.PhaseFeedback:
		m.nextRound(now)
	default:
		return snapshot.Snapshot{}, m.rejected(ErrInvalidPhaseInput, ev)
	}
	return m.Snapshot(), nil
}

// Tick advances at most one deadline-driven transition whose deadline is at
// or before now (plus the immediate scoring step after an Active timeout).
// Calling it again with the same now is a no-op.
func (m *Machine) Tick(now time.Time) (snapshot.Snapshot, bool, error) {
	if m.current.Stopped {
		return snapshot.Snapshot{}, false, ErrStopped
	}
	if m.current.PhaseDeadline == nil || now.Before(*m.current.PhaseDeadline) {
		return m.Snapshot(), false, nil
	}

	now = now.UTC()
	switch m.current.Phase {
	case snapshot.PhasePreparation:
		if err := m.activate(now); err != nil {
			return snapshot.Snapshot{}, false, err
		}
	case snapshot.PhaseActive:
		if err := m.answer(now, Event{}, true); err != nil {
			return snapshot.Snapshot{}, false, err
		}
	case snapshot.PhaseFeedback:
		m.nextRound(now)
	default:
		return m.Snapshot(), false, nil
	}
	return m.Snapshot(), true, nil
}

// Stop ends the instance and returns the terminal snapshot.
func (m *Machine) Stop() (snapshot.Snapshot, error) {
	if m.current.Stopped {
		return snapshot.Snapshot{}, ErrStopped
	}
	return m.stop(), nil
}

func (m *Machine) stop() snapshot.Snapshot {
	next := m.current.Clone()
	next.Stopped = true
	next.PhaseDeadline = nil
	m.emit(next)
	return m.Snapshot()
}

func (m *Machine) activate(now time.Time) error {
	level := m.controller.Level(m.current.Difficulty, m.category)
	round, err := m.exercise.GenerateRound(level, m.rng)
	if err != nil {
		return fmt.Errorf("generate %s round %d: %w", m.exercise.Name(), m.current.RoundIndex, err)
	}
	challenge, err := snapshot.NormalizePayload(round.Challenge)
	if err != nil {
		return fmt.Errorf("generate %s round %d: %w", m.exercise.Name(), m.current.RoundIndex, err)
	}
	solution, err := snapshot.NormalizePayload(round.Solution)
	if err != nil {
		return fmt.Errorf("generate %s round %d: %w", m.exercise.Name(), m.current.RoundIndex, err)
	}

	next := m.current.Clone()
	next.Phase = snapshot.PhaseActive
	next.PhaseDeadline = deadline(now, m.timing.Active)
	next.Payload[KeyLevel] = float64(level)
	next.Payload[KeyChallenge] = challenge
	delete(next.Payload, KeyResponse)
	delete(next.Payload, KeyResult)
	m.activeAt = now
	m.solution = solution
	m.emit(next)
	return nil
}

// answer scores the response first so a malformed response changes nothing,
// then emits Answer followed by Feedback.
func (m *Machine) answer(now time.Time, ev Event, timedOut bool) error {
	latency := now.Sub(m.activeAt)
	if latency < 0 {
		latency = 0
	}

	input, err := snapshot.NormalizePayload(ev.Payload)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "response payload is not JSON-compatible", err)
	}

	correct := false
	if !timedOut {
		correct, err = m.exercise.ScoreResponse(m.solution, input)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidArgument, "response cannot be scored", err)
		}
	}

	response := map[string]any{
		"timed_out":  timedOut,
		"correct":    correct,
		"latency_ms": float64(latency.Milliseconds()),
		"input":      input,
	}
	if !timedOut {
		response["type"] = string(ev.Type)
	}

	answered := m.current.Clone()
	answered.Phase = snapshot.PhaseAnswer
	answered.PhaseDeadline = nil
	answered.Payload[KeyResponse] = response
	m.emit(answered)
	m.solution = nil

	states, adj := m.controller.RecordOutcome(m.current.Difficulty, m.category, difficulty.Outcome{
		Correct: correct,
		Latency: latency,
	})

	feedback := m.current.Clone()
	feedback.Phase = snapshot.PhaseFeedback
	feedback.PhaseDeadline = deadline(now, m.timing.Feedback)
	feedback.Difficulty = states
	delete(feedback.Payload, KeyChallenge)
	feedback.Payload[KeyResult] = map[string]any{
		"correct":        correct,
		"category":       m.category,
		"level":          float64(adj.To),
		"previous_level": float64(adj.From),
	}
	m.emit(feedback)

	if m.onRound != nil {
		m.onRound(Round{
			Index:      m.current.RoundIndex,
			Category:   m.category,
			Level:      adj.From,
			Correct:    correct,
			TimedOut:   timedOut,
			Latency:    latency,
			Adjustment: adj,
			ScoredAt:   now,
		})
	}
	return nil
}

func (m *Machine) nextRound(now time.Time) {
	next := m.current.Clone()
	next.Phase = snapshot.PhasePreparation
	next.PhaseDeadline = deadline(now, m.timing.Preparation)
	next.RoundIndex++
	next.Payload[KeyLevel] = float64(m.controller.Level(next.Difficulty, m.category))
	delete(next.Payload, KeyChallenge)
	delete(next.Payload, KeyResponse)
	delete(next.Payload, KeyResult)
	m.emit(next)
}

// emit assigns the next version and publishes the snapshot.
func (m *Machine) emit(next snapshot.Snapshot) {
	next.Version = m.current.Version + 1
	m.current = next
	if m.onSnapshot != nil {
		m.onSnapshot(next.Clone())
	}
}

func (m *Machine) rejected(sentinel *apperrors.Error, ev Event) error {
	return sentinel.Annotate(map[string]string{
		"EventType":  string(ev.Type),
		"Phase":      string(m.current.Phase),
		"EventRound": strconv.FormatUint(ev.RoundIndex, 10),
		"RoundIndex": strconv.FormatUint(m.current.RoundIndex, 10),
	})
}

func deadline(now time.Time, d time.Duration) *time.Time {
	if d <= 0 {
		return nil
	}
	t := now.Add(d)
	return &t
}

func seedFor(sessionID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sessionID))
	if sum := h.Sum64(); sum != 0 {
		return sum
	}
	return 1
}
