package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	apperrors "github.com/louisbranch/mindtrain/internal/platform/errors"
	"github.com/louisbranch/mindtrain/internal/platform/errors/i18n"
	"github.com/louisbranch/mindtrain/internal/platform/timeouts"
	"github.com/louisbranch/mindtrain/internal/services/trainer/app/coordinator"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/machine"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

// Config wires the websocket handler.
type Config struct {
	Coordinator  *coordinator.Coordinator
	Logger       *slog.Logger
	WriteTimeout time.Duration
}

// NewHandler serves /up and the /ws session endpoint.
func NewHandler(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = timeouts.WebsocketWrite
	}
	h := &handler{
		coord:        cfg.Coordinator,
		log:          cfg.Logger.With("component", "transport"),
		writeTimeout: cfg.WriteTimeout,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(h.serveConn)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.coord == nil {
			http.Error(w, "trainer is not configured", http.StatusServiceUnavailable)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})
	return mux
}

type handler struct {
	coord        *coordinator.Coordinator
	log          *slog.Logger
	writeTimeout time.Duration
}

// connState is the per-connection context handed to frame handlers.
type connState struct {
	ctx    context.Context
	peer   *peer
	locale string
}

func (h *handler) serveConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	ctx := context.Background()
	locale := i18n.BaseLocale
	if request := conn.Request(); request != nil {
		ctx = request.Context()
		if header := strings.TrimSpace(request.Header.Get("Accept-Language")); header != "" {
			locale = header
		}
	}
	state := &connState{
		ctx:    ctx,
		peer:   newPeer(conn, h.writeTimeout, h.log),
		locale: locale,
	}
	defer state.peer.close()
	defer func() {
		if sessionID := state.peer.session(); sessionID != "" {
			h.coord.Detach(sessionID, state.peer)
		}
	}()

	decoder := json.NewDecoder(conn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame Frame
		if err := decoder.Decode(&frame); err != nil {
			if !isDecodeError(err) {
				return
			}
			decodeErrors++
			h.writeError(state, "", invalidArgument("invalid frame payload"))
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			// The decoder cannot resync after a syntax error.
			decoder = json.NewDecoder(conn)
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			h.writeError(state, frame.RequestID, invalidArgument("payload too large"))
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			h.writeError(state, frame.RequestID, invalidArgument("rate limit exceeded"))
			return
		}

		switch frame.Type {
		case FrameOpen:
			h.handleOpen(state, frame)
		case FrameResume:
			h.handleResume(state, frame)
		case FrameInput:
			h.handleInput(state, frame)
		case FrameAck:
			h.handleAck(state, frame)
		case FrameResync:
			h.handleResync(state, frame)
		case FrameClose:
			h.handleClose(state, frame)
		default:
			h.writeError(state, frame.RequestID, invalidArgument("unsupported frame type"))
		}
	}
}

func (h *handler) handleOpen(state *connState, frame Frame) {
	var payload OpenPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		h.writeError(state, frame.RequestID, invalidArgument("invalid open payload"))
		return
	}
	if strings.TrimSpace(payload.Exercise) == "" && strings.TrimSpace(payload.ResumeToken) == "" {
		h.writeError(state, frame.RequestID, invalidArgument("exercise is required"))
		return
	}
	if state.peer.session() != "" {
		h.writeError(state, frame.RequestID, invalidArgument("connection already drives a session"))
		return
	}

	opened, err := h.coord.Open(state.ctx, coordinator.OpenRequest{
		Exercise:    payload.Exercise,
		ResumeToken: payload.ResumeToken,
		Seed:        payload.Seed,
		Sink:        state.peer,
	})
	if err != nil {
		h.writeError(state, frame.RequestID, err)
		return
	}
	state.peer.setSession(opened.SessionID)
	h.writeOpened(state, frame.RequestID, opened)
}

func (h *handler) handleResume(state *connState, frame Frame) {
	var payload ResumePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		h.writeError(state, frame.RequestID, invalidArgument("invalid resume payload"))
		return
	}
	if state.peer.session() != "" {
		h.writeError(state, frame.RequestID, invalidArgument("connection already drives a session"))
		return
	}
	opened, err := h.coord.Resume(state.ctx, payload.ResumeToken, payload.BaseVersion, state.peer)
	if err != nil {
		h.writeError(state, frame.RequestID, err)
		return
	}
	state.peer.setSession(opened.SessionID)
	h.writeOpened(state, frame.RequestID, opened)
}

func (h *handler) handleInput(state *connState, frame Frame) {
	var payload InputPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		h.writeError(state, frame.RequestID, invalidArgument("invalid input payload"))
		return
	}
	sessionID, ok := h.requireSession(state, frame)
	if !ok {
		return
	}
	_, err := h.coord.HandleClientEvent(state.ctx, sessionID, machine.Event{
		Type:       payload.Type,
		SessionID:  sessionID,
		RoundIndex: payload.RoundIndex,
		Payload:    payload.Payload,
	})
	if err != nil {
		h.writeError(state, frame.RequestID, err)
	}
}

func (h *handler) handleAck(state *connState, frame Frame) {
	var payload AckPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		h.writeError(state, frame.RequestID, invalidArgument("invalid ack payload"))
		return
	}
	sessionID, ok := h.requireSession(state, frame)
	if !ok {
		return
	}
	if err := h.coord.Ack(sessionID, payload.Version); err != nil {
		h.writeError(state, frame.RequestID, err)
	}
}

func (h *handler) handleResync(state *connState, frame Frame) {
	var payload ResyncPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		h.writeError(state, frame.RequestID, invalidArgument("invalid resync payload"))
		return
	}
	sessionID, ok := h.requireSession(state, frame)
	if !ok {
		return
	}
	if _, err := h.coord.Resync(state.ctx, sessionID, payload.BaseVersion); err != nil {
		h.writeError(state, frame.RequestID, err)
	}
}

func (h *handler) handleClose(state *connState, frame Frame) {
	sessionID, ok := h.requireSession(state, frame)
	if !ok {
		return
	}
	if err := h.coord.Close(state.ctx, sessionID, coordinator.ReasonClient); err != nil {
		h.writeError(state, frame.RequestID, err)
	}
}

func (h *handler) requireSession(state *connState, frame Frame) (string, bool) {
	sessionID := state.peer.session()
	if sessionID == "" {
		h.writeError(state, frame.RequestID, invalidArgument("open or resume a session first"))
		return "", false
	}
	return sessionID, true
}

func (h *handler) writeOpened(state *connState, requestID string, opened coordinator.Opened) {
	err := state.peer.writeFrame(Frame{
		Type:      FrameOpened,
		RequestID: requestID,
		Payload: mustJSON(OpenedPayload{
			SessionID:   opened.SessionID,
			Exercise:    opened.Exercise,
			ResumeToken: opened.ResumeToken,
			Restored:    opened.Restored,
			Record:      opened.Record,
		}),
	})
	if err != nil {
		h.log.WarnContext(state.ctx, "write opened frame", "session_id", opened.SessionID, "error", err)
	}
}

// writeError reports err with a message localised for the connection.
func (h *handler) writeError(state *connState, requestID string, err error) {
	code := apperrors.CodeOf(err)
	var metadata map[string]string
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		metadata = domainErr.Metadata
	}
	catalog := i18n.GetCatalog(state.locale)
	payload := ErrorPayload{
		Code:      string(code),
		Message:   catalog.Format(i18n.Code(code), metadata),
		SessionID: state.peer.session(),
		Retryable: code.Recoverable() && code != apperrors.CodeUnknown,
	}
	if payload.SessionID != "" {
		if snap, snapErr := h.coord.Snapshot(payload.SessionID); snapErr == nil {
			payload.RoundIndex = snap.RoundIndex
		}
	}
	_ = state.peer.writeFrame(Frame{
		Type:      FrameError,
		RequestID: requestID,
		Payload:   mustJSON(payload),
	})
}

// isDecodeError separates malformed frames from a closed or failed
// connection.
func isDecodeError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return false
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func invalidArgument(reason string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidArgument, reason, map[string]string{"Reason": reason})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal websocket frame payload", "error", err)
		return nil
	}
	return b
}
