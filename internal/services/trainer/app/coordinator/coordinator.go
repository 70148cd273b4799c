package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/mindtrain/internal/platform/errors"
	"github.com/louisbranch/mindtrain/internal/platform/timeouts"
	"github.com/louisbranch/mindtrain/internal/services/trainer/app/metrics"
	"github.com/louisbranch/mindtrain/internal/services/trainer/app/resume"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/checkpoint"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/delta"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/exercise"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/machine"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/snapshot"
)

const (
	// DefaultCheckpointEvery is how many scored rounds pass between checkpoints.
	DefaultCheckpointEvery = 5
	// DefaultIdleTimeout closes sessions left without a connection.
	DefaultIdleTimeout = 5 * time.Minute
	// DefaultResendInterval re-sends an unacknowledged update.
	DefaultResendInterval = time.Second
)

// Close reasons.
const (
	ReasonClient   = "client"
	ReasonStopped  = "stopped"
	ReasonIdle     = "idle"
	ReasonControl  = "control"
	ReasonShutdown = "shutdown"
)

var tracer = otel.Tracer("github.com/louisbranch/mindtrain/internal/services/trainer/app/coordinator")

// Sink delivers updates to the connection currently attached to a session.
// Send is called outside the session lock and must not wait on the network:
// implementations queue the record and may drop it when behind.
type Sink interface {
	Send(ctx context.Context, sessionID string, rec delta.Record) error
	SessionClosed(ctx context.Context, sessionID, reason string)
}

// TokenIssuer signs and verifies resume tokens.
type TokenIssuer interface {
	Issue(sessionID, exercise string) (string, error)
	Verify(token string) (resume.Claims, error)
}

// Config wires the coordinator dependencies. Zero values get defaults.
type Config struct {
	Exercises   *exercise.Registry
	Checkpoints checkpoint.Store
	Tokens      TokenIssuer
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Clock       func() time.Time
	NewID       func() string

	History         delta.HistoryConfig
	TickInterval    time.Duration
	CheckpointEvery int
	IdleTimeout     time.Duration
	ResendInterval  time.Duration
}

// OpenRequest starts a session. A resume token re-opens a session that is no
// longer live, restoring its checkpoint.
type OpenRequest struct {
	Exercise    string
	ResumeToken string
	Seed        uint64
	Sink        Sink
}

// Opened describes a newly registered session.
type Opened struct {
	SessionID   string
	Exercise    string
	ResumeToken string
	Restored    bool
	Record      delta.Record
}

// SessionInfo is a point-in-time summary of a live session.
type SessionInfo struct {
	SessionID  string
	Exercise   string
	Phase      snapshot.Phase
	Version    uint64
	LastAcked  uint64
	RoundIndex uint64
	Stopped    bool
	Attached   bool
	OpenedAt   time.Time
}

// Coordinator is the session registry.
type Coordinator struct {
	cfg      Config
	log      *slog.Logger
	sessions *xsync.MapOf[string, *session]
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Exercises == nil {
		return nil, errors.New("exercise registry is required")
	}
	if cfg.Checkpoints == nil {
		cfg.Checkpoints = checkpoint.NewNoop()
	}
	if cfg.Tokens == nil {
		issuer, err := resume.NewIssuer(resume.Config{Now: cfg.Clock})
		if err != nil {
			return nil, fmt.Errorf("init resume tokens: %w", err)
		}
		cfg.Tokens = issuer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = newSessionID
	}
	if cfg.History == (delta.HistoryConfig{}) {
		cfg.History = delta.DefaultHistoryConfig()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = timeouts.Tick
	}
	if cfg.CheckpointEvery == 0 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ResendInterval <= 0 {
		cfg.ResendInterval = DefaultResendInterval
	}
	return &Coordinator{
		cfg:      cfg,
		log:      cfg.Logger.With("component", "coordinator"),
		sessions: xsync.NewMapOf[string, *session](),
	}, nil
}

// Open validates the exercise profile, builds the session machine and
// returns the full initial record. Configuration errors block creation.
func (c *Coordinator) Open(ctx context.Context, req OpenRequest) (opened Opened, err error) {
	ctx, span := tracer.Start(ctx, "coordinator.Open", trace.WithAttributes(
		attribute.String("trainer.exercise", req.Exercise),
		attribute.Bool("trainer.resume", req.ResumeToken != ""),
	))
	defer func() { endSpan(span, err) }()

	name := strings.TrimSpace(req.Exercise)
	sessionID := ""
	if token := strings.TrimSpace(req.ResumeToken); token != "" {
		claims, err := c.cfg.Tokens.Verify(token)
		if err != nil {
			return Opened{}, c.fail(ctx, "", 0, err)
		}
		sessionID = claims.SessionID
		if name == "" {
			name = claims.Exercise
		}
		if _, live := c.sessions.Load(sessionID); live {
			return Opened{}, c.fail(ctx, sessionID, 0, apperrors.WithMetadata(
				apperrors.CodeSessionExists,
				"session is already live",
				map[string]string{"SessionID": sessionID},
			))
		}
	}
	if sessionID == "" {
		sessionID = c.cfg.NewID()
	}
	span.SetAttributes(attribute.String("trainer.session_id", sessionID))

	ex, profile, err := c.cfg.Exercises.Lookup(name)
	if err != nil {
		return Opened{}, c.fail(ctx, sessionID, 0, err)
	}

	opts := machine.Options{
		Exercise:  ex,
		Profile:   profile,
		Seed:      req.Seed,
		SessionID: sessionID,
		Clock:     c.cfg.Clock,
	}
	restored := false
	if req.ResumeToken != "" {
		cp, err := c.cfg.Checkpoints.Get(ctx, sessionID)
		switch {
		case err == nil && cp.Exercise == ex.Name():
			opts.Difficulty = cp.Difficulty
			opts.RoundIndex = cp.RoundIndex
			restored = true
		case err == nil, errors.Is(err, checkpoint.ErrNotFound):
		default:
			c.log.WarnContext(ctx, "checkpoint load failed, starting fresh",
				"session_id", sessionID, "error", err)
		}
	}

	s := newSession(sessionID, ex.Name(), c.cfg.History, c.cfg.Clock().UTC(), req.Sink)
	opts.OnSnapshot = func(snap snapshot.Snapshot) {
		result := s.history.Add(snap, c.cfg.Clock())
		c.cfg.Metrics.HistoryEvicted(result.Evicted)
	}
	opts.OnRound = func(round machine.Round) {
		s.rounds = append(s.rounds, round)
	}
	m, err := machine.New(opts)
	if err != nil {
		return Opened{}, c.fail(ctx, sessionID, 0, err)
	}
	s.machine = m

	token, err := c.cfg.Tokens.Issue(sessionID, ex.Name())
	if err != nil {
		return Opened{}, c.fail(ctx, sessionID, 0, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, loaded := c.sessions.LoadOrStore(sessionID, s); loaded {
		return Opened{}, c.fail(ctx, sessionID, 0, apperrors.WithMetadata(
			apperrors.CodeSessionExists,
			"session is already live",
			map[string]string{"SessionID": sessionID},
		))
	}
	c.cfg.Metrics.SessionOpened()

	rec, err := c.encodeLocked(s)
	if err != nil {
		return Opened{}, c.fail(ctx, sessionID, 0, err)
	}
	c.log.InfoContext(ctx, "session opened",
		"session_id", sessionID,
		"exercise", ex.Name(),
		"restored", restored,
		"round_index", m.Snapshot().RoundIndex,
	)
	return Opened{
		SessionID:   sessionID,
		Exercise:    ex.Name(),
		ResumeToken: token,
		Restored:    restored,
		Record:      rec,
	}, nil
}

// Resume re-attaches a live session to a new sink. The client reports the
// last version it applied; the returned record brings it to the current one.
func (c *Coordinator) Resume(ctx context.Context, token string, baseVersion uint64, sink Sink) (opened Opened, err error) {
	ctx, span := tracer.Start(ctx, "coordinator.Resume")
	defer func() { endSpan(span, err) }()

	claims, err := c.cfg.Tokens.Verify(token)
	if err != nil {
		return Opened{}, c.fail(ctx, "", 0, err)
	}
	span.SetAttributes(attribute.String("trainer.session_id", claims.SessionID))
	s, err := c.lookup(claims.SessionID)
	if err != nil {
		return Opened{}, c.fail(ctx, claims.SessionID, 0, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attach(sink)
	s.rebaseLocked(baseVersion)
	rec, err := c.encodeLocked(s)
	if err != nil {
		return Opened{}, c.fail(ctx, s.id, s.roundIndex(), err)
	}
	c.log.InfoContext(ctx, "session resumed",
		"session_id", s.id,
		"base_version", baseVersion,
		"full", rec.Full,
	)
	return Opened{
		SessionID:   s.id,
		Exercise:    s.exercise,
		ResumeToken: token,
		Record:      rec,
	}, nil
}

// Detach drops sink from the session if it is still the attached one. The
// session stays live until it is resumed or idles out.
func (c *Coordinator) Detach(sessionID string, sink Sink) {
	s, ok := c.sessions.Load(sessionID)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == sink {
		s.sink = nil
		s.detachedAt = c.cfg.Clock()
	}
}

// Close removes the session, saving its checkpoint.
func (c *Coordinator) Close(ctx context.Context, sessionID, reason string) (err error) {
	ctx, span := tracer.Start(ctx, "coordinator.Close", trace.WithAttributes(
		attribute.String("trainer.session_id", sessionID),
		attribute.String("trainer.reason", reason),
	))
	defer func() { endSpan(span, err) }()

	s, ok := c.sessions.LoadAndDelete(sessionID)
	if !ok {
		return c.fail(ctx, sessionID, 0, notFound(sessionID))
	}
	c.cfg.Metrics.SessionClosed()

	s.mu.Lock()
	sink := s.sink
	s.sink = nil
	c.flushRoundsLocked(ctx, s)
	saveErr := c.saveCheckpointLocked(ctx, s)
	round := s.roundIndex()
	s.mu.Unlock()

	if sink != nil {
		sink.SessionClosed(ctx, sessionID, reason)
	}
	c.log.InfoContext(ctx, "session closed",
		"session_id", sessionID,
		"reason", reason,
		"round_index", round,
	)
	return saveErr
}

// CloseAll closes every live session.
func (c *Coordinator) CloseAll(ctx context.Context, reason string) {
	for _, id := range c.sessionIDs() {
		if err := c.Close(ctx, id, reason); err != nil && apperrors.CodeOf(err) != apperrors.CodeSessionNotFound {
			c.log.ErrorContext(ctx, "close session", "session_id", id, "error", err)
		}
	}
}

// Snapshot returns the current snapshot of a session.
func (c *Coordinator) Snapshot(sessionID string) (snapshot.Snapshot, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Snapshot(), nil
}

// Sessions lists live sessions, oldest first.
func (c *Coordinator) Sessions() []SessionInfo {
	var infos []SessionInfo
	c.sessions.Range(func(_ string, s *session) bool {
		s.mu.Lock()
		snap := s.machine.Snapshot()
		infos = append(infos, SessionInfo{
			SessionID:  s.id,
			Exercise:   s.exercise,
			Phase:      snap.Phase,
			Version:    snap.Version,
			LastAcked:  s.lastAcked,
			RoundIndex: snap.RoundIndex,
			Stopped:    snap.Stopped,
			Attached:   s.sink != nil,
			OpenedAt:   s.openedAt,
		})
		s.mu.Unlock()
		return true
	})
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].OpenedAt.Equal(infos[j].OpenedAt) {
			return infos[i].OpenedAt.Before(infos[j].OpenedAt)
		}
		return infos[i].SessionID < infos[j].SessionID
	})
	return infos
}

// Rounds lists the newest scored rounds of a session from the checkpoint
// store.
func (c *Coordinator) Rounds(ctx context.Context, sessionID string, limit int) ([]checkpoint.RoundResult, error) {
	return c.cfg.Checkpoints.ListRounds(ctx, sessionID, limit)
}

func (c *Coordinator) lookup(sessionID string) (*session, error) {
	s, ok := c.sessions.Load(strings.TrimSpace(sessionID))
	if !ok {
		return nil, notFound(sessionID)
	}
	return s, nil
}

func (c *Coordinator) sessionIDs() []string {
	ids := make([]string, 0, c.sessions.Size())
	c.sessions.Range(func(id string, _ *session) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)
	return ids
}

// fail logs err with its kind and returns it unchanged.
func (c *Coordinator) fail(ctx context.Context, sessionID string, roundIndex uint64, err error) error {
	code := apperrors.CodeOf(err)
	c.cfg.Metrics.Error(string(code))
	level := slog.LevelWarn
	if !code.Recoverable() || code == apperrors.CodeUnknown {
		level = slog.LevelError
	}
	c.log.Log(ctx, level, "session operation failed",
		"kind", string(code),
		"session_id", sessionID,
		"round_index", roundIndex,
		"error", err,
	)
	return err
}

func notFound(sessionID string) error {
	return apperrors.WithMetadata(
		apperrors.CodeSessionNotFound,
		"session not found",
		map[string]string{"SessionID": sessionID},
	)
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
