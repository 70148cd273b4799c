package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/mindtrain/internal/platform/timeouts"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/machine"
)

// Tick advances every session whose phase deadline has passed and sends the
// resulting updates. It also re-sends updates left unacknowledged for
// ResendInterval, prunes delta history and closes sessions that have been
// detached for IdleTimeout. It returns how many sessions changed phase.
func (c *Coordinator) Tick(ctx context.Context, now time.Time) int {
	changedCount := 0
	var idle []string
	var outbound []delivery

	c.sessions.Range(func(id string, s *session) bool {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.sink == nil && now.Sub(s.detachedAt) >= c.cfg.IdleTimeout {
			idle = append(idle, id)
			return true
		}
		c.cfg.Metrics.HistoryEvicted(s.history.Prune(now).Evicted)
		if s.machine.Stopped() {
			return true
		}

		_, changed, err := s.machine.Tick(now)
		if err != nil {
			if !errors.Is(err, machine.ErrStopped) {
				_ = c.fail(ctx, id, s.roundIndex(), err)
			}
			return true
		}
		if changed {
			changedCount++
			c.flushRoundsLocked(ctx, s)
		} else if len(s.produced) == 0 || now.Sub(s.lastSentAt) < c.cfg.ResendInterval {
			return true
		}
		if _, out, err := c.prepareLocked(s); err != nil {
			_ = c.fail(ctx, id, s.roundIndex(), err)
		} else if out.sink != nil {
			outbound = append(outbound, out)
		}
		return true
	})

	// Sinks are fed after every session has advanced, outside all locks.
	for _, out := range outbound {
		c.deliver(ctx, out)
	}

	for _, id := range idle {
		if err := c.Close(ctx, id, ReasonIdle); err != nil {
			c.log.WarnContext(ctx, "close idle session", "session_id", id, "error", err)
		}
	}
	return changedCount
}

// Run drives Tick on TickInterval until ctx ends, then closes every session.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Shutdown)
			c.CloseAll(shutdownCtx, ReasonShutdown)
			cancel()
			return nil
		case <-ticker.C:
			c.Tick(ctx, c.cfg.Clock())
		}
	}
}
