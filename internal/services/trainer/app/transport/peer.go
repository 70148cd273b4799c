package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/delta"
)

// outboundQueueSize bounds the frames waiting for one connection.
const outboundQueueSize = 32

var (
	errPeerClosed   = errors.New("peer is closed")
	errOutboundFull = errors.New("outbound queue is full")
)

// frameConn is the write side of a websocket connection.
type frameConn interface {
	io.WriteCloser
	SetWriteDeadline(time.Time) error
}

// peer writes frames to one websocket through a bounded queue drained by its
// own goroutine. It is the coordinator sink of the session the connection
// drives: updates are queued without waiting, and dropped when the queue is
// full since the next update re-diffs from the last acknowledged version.
type peer struct {
	conn         frameConn
	encoder      *json.Encoder
	writeTimeout time.Duration
	log          *slog.Logger

	// mu guards closed against sends on out.
	mu     sync.RWMutex
	closed bool
	out    chan Frame
	done   chan struct{}

	sessionMu sync.Mutex
	sessionID string
}

func newPeer(conn frameConn, writeTimeout time.Duration, log *slog.Logger) *peer {
	if log == nil {
		log = slog.Default()
	}
	p := &peer{
		conn:         conn,
		encoder:      json.NewEncoder(conn),
		writeTimeout: writeTimeout,
		log:          log,
		out:          make(chan Frame, outboundQueueSize),
		done:         make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

// writeLoop writes queued frames in order. After the first failed write the
// connection is closed and the rest of the queue is discarded.
func (p *peer) writeLoop() {
	defer close(p.done)
	failed := false
	for frame := range p.out {
		if failed {
			continue
		}
		if p.writeTimeout > 0 {
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
		}
		if err := p.encoder.Encode(frame); err != nil {
			failed = true
			p.log.Warn("write frame failed", "frame_type", frame.Type, "session_id", p.session(), "error", err)
			_ = p.conn.Close()
		}
	}
}

// writeFrame queues a reply frame, waiting up to the write timeout for room.
func (p *peer) writeFrame(frame Frame) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enqueueLocked(frame, p.writeTimeout)
}

// trySend queues frame only if that needs no waiting.
func (p *peer) trySend(frame Frame) error {
	if !p.mu.TryRLock() {
		return errPeerClosed
	}
	defer p.mu.RUnlock()
	return p.enqueueLocked(frame, 0)
}

func (p *peer) enqueueLocked(frame Frame, wait time.Duration) error {
	if p.closed {
		return errPeerClosed
	}
	select {
	case p.out <- frame:
		return nil
	default:
	}
	if wait <= 0 {
		return errOutboundFull
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case p.out <- frame:
		return nil
	case <-timer.C:
		return errOutboundFull
	}
}

// close stops accepting frames and waits for the queued ones to be written.
func (p *peer) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	close(p.out)
	p.mu.Unlock()
	<-p.done
}

func (p *peer) Send(_ context.Context, sessionID string, rec delta.Record) error {
	return p.trySend(Frame{
		Type:    FrameDelta,
		Payload: mustJSON(DeltaPayload{SessionID: sessionID, Record: rec}),
	})
}

func (p *peer) SessionClosed(_ context.Context, sessionID, reason string) {
	p.sessionMu.Lock()
	if p.sessionID == sessionID {
		p.sessionID = ""
	}
	p.sessionMu.Unlock()
	err := p.trySend(Frame{
		Type:    FrameClosed,
		Payload: mustJSON(ClosedPayload{SessionID: sessionID, Reason: reason}),
	})
	if err != nil && !errors.Is(err, errPeerClosed) {
		p.log.Warn("queue closed frame", "session_id", sessionID, "error", err)
	}
}

func (p *peer) session() string {
	p.sessionMu.Lock()
	defer p.sessionMu.Unlock()
	return p.sessionID
}

func (p *peer) setSession(sessionID string) {
	p.sessionMu.Lock()
	p.sessionID = sessionID
	p.sessionMu.Unlock()
}
