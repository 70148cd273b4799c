package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/mindtrain/internal/platform/timeouts"
	"github.com/louisbranch/mindtrain/internal/services/trainer/app/transport"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/delta"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/machine"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/snapshot"
)

// ErrSessionClosed is returned by Next once the server closed the session.
var ErrSessionClosed = errors.New("session closed")

// ServerError is a session.error frame.
type ServerError struct {
	transport.ErrorPayload
	RequestID string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Conn drives one session over the trainer websocket and keeps its
// reconstructed snapshot.
type Conn struct {
	ws  *websocket.Conn
	dec *json.Decoder

	wmu sync.Mutex
	enc *json.Encoder

	reconciler  *Reconciler
	sessionID   string
	resumeToken string
	closeReason string
}

// Dial connects to the trainer HTTP base URL (http or https).
func Dial(ctx context.Context, baseURL, locale string) (*Conn, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	cfg, err := websocket.NewConfig(wsURL, baseURL)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	if locale = strings.TrimSpace(locale); locale != "" {
		cfg.Header.Set("Accept-Language", locale)
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	return &Conn{
		ws:         ws,
		dec:        json.NewDecoder(ws),
		enc:        json.NewEncoder(ws),
		reconciler: NewReconciler(),
	}, nil
}

// SessionID is the id of the driven session.
func (c *Conn) SessionID() string { return c.sessionID }

// ResumeToken is the token to resume the session on another connection.
func (c *Conn) ResumeToken() string { return c.resumeToken }

// CloseReason is the reason the server gave when it closed the session.
func (c *Conn) CloseReason() string { return c.closeReason }

// Snapshot returns the reconstructed snapshot.
func (c *Conn) Snapshot() (snapshot.Snapshot, bool) { return c.reconciler.Snapshot() }

// Open starts a session. A non-empty resumeToken re-opens a checkpointed one.
func (c *Conn) Open(exercise, resumeToken string, seed uint64) (snapshot.Snapshot, error) {
	err := c.write(transport.FrameOpen, transport.OpenPayload{
		Exercise:    exercise,
		ResumeToken: resumeToken,
		Seed:        seed,
	})
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return c.awaitOpened()
}

// Resume re-attaches to a live session, reporting the held version as base.
func (c *Conn) Resume(resumeToken string) (snapshot.Snapshot, error) {
	err := c.write(transport.FrameResume, transport.ResumePayload{
		ResumeToken: resumeToken,
		BaseVersion: c.reconciler.Version(),
	})
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return c.awaitOpened()
}

// Input sends one client event for the given round.
func (c *Conn) Input(eventType machine.EventType, roundIndex uint64, payload map[string]any) error {
	return c.write(transport.FrameInput, transport.InputPayload{
		Type:       eventType,
		RoundIndex: roundIndex,
		Payload:    payload,
	})
}

// End asks the server to close the session.
func (c *Conn) End() error {
	return c.write(transport.FrameClose, struct{}{})
}

// Next reads frames until the snapshot changes, the server reports an error
// or the session closes. Acks and resyncs are sent as needed.
func (c *Conn) Next(timeout time.Duration) (snapshot.Snapshot, error) {
	for {
		frame, err := c.read(timeout)
		if err != nil {
			return snapshot.Snapshot{}, err
		}
		switch frame.Type {
		case transport.FrameDelta:
			var payload transport.DeltaPayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				return snapshot.Snapshot{}, fmt.Errorf("decode delta: %w", err)
			}
			changed, err := c.apply(payload.Record)
			if err != nil {
				return snapshot.Snapshot{}, err
			}
			if changed {
				snap, _ := c.reconciler.Snapshot()
				return snap, nil
			}
		case transport.FrameError:
			return snapshot.Snapshot{}, decodeServerError(frame)
		case transport.FrameClosed:
			var payload transport.ClosedPayload
			_ = json.Unmarshal(frame.Payload, &payload)
			c.closeReason = payload.Reason
			return snapshot.Snapshot{}, ErrSessionClosed
		}
	}
}

// Close closes the websocket. The session stays live on the server until it
// is resumed or idles out.
func (c *Conn) Close() error {
	return c.ws.Close()
}

func (c *Conn) awaitOpened() (snapshot.Snapshot, error) {
	for {
		frame, err := c.read(timeouts.WebsocketWrite)
		if err != nil {
			return snapshot.Snapshot{}, err
		}
		switch frame.Type {
		case transport.FrameOpened:
			var payload transport.OpenedPayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				return snapshot.Snapshot{}, fmt.Errorf("decode opened: %w", err)
			}
			c.sessionID = payload.SessionID
			c.resumeToken = payload.ResumeToken
			if _, err := c.apply(payload.Record); err != nil {
				return snapshot.Snapshot{}, err
			}
			snap, _ := c.reconciler.Snapshot()
			return snap, nil
		case transport.FrameError:
			return snapshot.Snapshot{}, decodeServerError(frame)
		}
	}
}

// apply folds rec in and sends the resulting reply. It reports whether the
// snapshot changed.
func (c *Conn) apply(rec delta.Record) (bool, error) {
	before := c.reconciler.Version()
	reply, applyErr := c.reconciler.Apply(rec)
	if frame, ok := reply.Frame(); ok {
		if err := c.writeFrame(frame); err != nil {
			return false, err
		}
	}
	if applyErr != nil {
		// The resync reply recovers; wait for the next record.
		return false, nil
	}
	return c.reconciler.Version() != before, nil
}

func (c *Conn) read(timeout time.Duration) (transport.Frame, error) {
	if timeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
	}
	var frame transport.Frame
	if err := c.dec.Decode(&frame); err != nil {
		return transport.Frame{}, fmt.Errorf("read frame: %w", err)
	}
	return frame, nil
}

func (c *Conn) write(frameType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", frameType, err)
	}
	return c.writeFrame(transport.Frame{Type: frameType, Payload: raw})
}

func (c *Conn) writeFrame(frame transport.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(timeouts.WebsocketWrite))
	if err := c.enc.Encode(frame); err != nil {
		return fmt.Errorf("write %s frame: %w", frame.Type, err)
	}
	return nil
}

func decodeServerError(frame transport.Frame) error {
	serverErr := &ServerError{RequestID: frame.RequestID}
	if err := json.Unmarshal(frame.Payload, &serverErr.ErrorPayload); err != nil {
		return fmt.Errorf("decode error frame: %w", err)
	}
	return serverErr
}
