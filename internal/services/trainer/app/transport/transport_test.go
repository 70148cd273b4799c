package transport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/mindtrain/internal/services/trainer/app/coordinator"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/delta"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/exercise"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/snapshot"
)

type echoExercise struct{}

func (echoExercise) Name() string     { return "echo" }
func (echoExercise) Category() string { return "memory" }

func (echoExercise) GenerateRound(level int, _ *rand.Rand) (exercise.Round, error) {
	return exercise.Round{
		Challenge: map[string]any{"level": level},
		Solution:  map[string]any{"answer": level},
	}, nil
}

func (echoExercise) ScoreResponse(solution, response map[string]any) (bool, error) {
	got, ok := response["answer"].(float64)
	if !ok {
		return false, errors.New("answer missing")
	}
	return got == solution["answer"].(float64), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *coordinator.Coordinator) {
	t.Helper()
	reg, err := exercise.NewRegistry(echoExercise{})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord, err := coordinator.New(coordinator.Config{Exercises: reg, Logger: logger})
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	srv := httptest.NewServer(NewHandler(Config{Coordinator: coord, Logger: logger}))
	t.Cleanup(srv.Close)
	return srv, coord
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	if err := json.NewEncoder(conn).Encode(frame); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var got Frame
	if err := json.NewDecoder(conn).Decode(&got); err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	return got
}

func decodePayload[T any](t *testing.T, frame Frame) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(frame.Payload, &out); err != nil {
		t.Fatalf("decode %s payload: %v", frame.Type, err)
	}
	return out
}

func openSession(t *testing.T, conn *websocket.Conn) (OpenedPayload, snapshot.Snapshot) {
	t.Helper()
	writeFrame(t, conn, map[string]any{
		"type":       FrameOpen,
		"request_id": "req-open",
		"payload":    map[string]any{"exercise": "echo"},
	})
	frame := readFrame(t, conn)
	if frame.Type != FrameOpened {
		t.Fatalf("frame type = %q, want %q: %s", frame.Type, FrameOpened, frame.Payload)
	}
	if frame.RequestID != "req-open" {
		t.Fatalf("request id = %q, want req-open", frame.RequestID)
	}
	opened := decodePayload[OpenedPayload](t, frame)
	snap, err := delta.Apply(snapshot.Snapshot{}, opened.Record)
	if err != nil {
		t.Fatalf("apply opened record: %v", err)
	}
	if !delta.Verify(snap, opened.Record) {
		t.Fatal("opened record checksum mismatch")
	}
	return opened, snap
}

func TestWebSocketOpenReturnsFullRecord(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialWS(t, srv)

	opened, snap := openSession(t, conn)
	if opened.SessionID == "" || opened.ResumeToken == "" {
		t.Fatalf("opened = %+v, want session id and resume token", opened)
	}
	if !opened.Record.Full || opened.Record.ToVersion != 1 {
		t.Fatalf("record = %+v, want full record to v1", opened.Record)
	}
	if snap.Phase != snapshot.PhasePreparation {
		t.Fatalf("phase = %q, want preparation", snap.Phase)
	}
}

func TestWebSocketInputSendsDeltaFromAckedBase(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialWS(t, srv)
	_, snap := openSession(t, conn)

	writeFrame(t, conn, map[string]any{"type": FrameAck, "payload": map[string]any{"version": 1}})
	writeFrame(t, conn, map[string]any{
		"type":    FrameInput,
		"payload": map[string]any{"type": "ready", "round_index": 0},
	})

	frame := readFrame(t, conn)
	if frame.Type != FrameDelta {
		t.Fatalf("frame type = %q, want %q: %s", frame.Type, FrameDelta, frame.Payload)
	}
	payload := decodePayload[DeltaPayload](t, frame)
	if payload.Record.Full || payload.Record.FromVersion != 1 || payload.Record.ToVersion != 2 {
		t.Fatalf("record = %+v, want diff 1->2", payload.Record)
	}
	next, err := delta.Apply(snap, payload.Record)
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if !delta.Verify(next, payload.Record) {
		t.Fatal("delta checksum mismatch")
	}
	if next.Phase != snapshot.PhaseActive {
		t.Fatalf("phase = %q, want active", next.Phase)
	}
	if strings.Contains(string(frame.Payload), `"answer"`) {
		t.Fatalf("active delta exposes the round solution: %s", frame.Payload)
	}
}

func TestWebSocketStaleRoundReturnsError(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialWS(t, srv)
	openSession(t, conn)

	writeFrame(t, conn, map[string]any{
		"type":       FrameInput,
		"request_id": "req-stale",
		"payload":    map[string]any{"type": "click", "round_index": 7},
	})

	frame := readFrame(t, conn)
	if frame.Type != FrameError {
		t.Fatalf("frame type = %q, want %q", frame.Type, FrameError)
	}
	if frame.RequestID != "req-stale" {
		t.Fatalf("request id = %q, want req-stale", frame.RequestID)
	}
	payload := decodePayload[ErrorPayload](t, frame)
	if payload.Code != "STALE_ROUND" {
		t.Fatalf("code = %q, want STALE_ROUND", payload.Code)
	}
	if !payload.Retryable {
		t.Fatal("stale round should be retryable")
	}
	if payload.Message == "" {
		t.Fatal("expected localized message")
	}
}

func TestWebSocketUnknownTypeReturnsError(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialWS(t, srv)

	writeFrame(t, conn, map[string]any{"type": "session.dance", "request_id": "req-1", "payload": map[string]any{}})

	frame := readFrame(t, conn)
	if frame.Type != FrameError {
		t.Fatalf("frame type = %q, want %q", frame.Type, FrameError)
	}
	if payload := decodePayload[ErrorPayload](t, frame); payload.Code != "INVALID_ARGUMENT" {
		t.Fatalf("code = %q, want INVALID_ARGUMENT", payload.Code)
	}
}

func TestWebSocketInputBeforeOpenReturnsError(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialWS(t, srv)

	writeFrame(t, conn, map[string]any{
		"type":    FrameInput,
		"payload": map[string]any{"type": "ready", "round_index": 0},
	})

	frame := readFrame(t, conn)
	if frame.Type != FrameError {
		t.Fatalf("frame type = %q, want %q", frame.Type, FrameError)
	}
}

func TestWebSocketUnknownExerciseReturnsError(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialWS(t, srv)

	writeFrame(t, conn, map[string]any{"type": FrameOpen, "payload": map[string]any{"exercise": "juggling"}})

	frame := readFrame(t, conn)
	payload := decodePayload[ErrorPayload](t, frame)
	if frame.Type != FrameError || payload.Code != "UNKNOWN_EXERCISE" {
		t.Fatalf("frame = %s %+v, want UNKNOWN_EXERCISE error", frame.Type, payload)
	}
}

func TestWebSocketSecondOpenOnSameConnectionIsRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialWS(t, srv)
	openSession(t, conn)

	writeFrame(t, conn, map[string]any{"type": FrameOpen, "payload": map[string]any{"exercise": "echo"}})

	frame := readFrame(t, conn)
	if frame.Type != FrameError {
		t.Fatalf("frame type = %q, want %q", frame.Type, FrameError)
	}
}

func TestWebSocketResumeOnNewConnection(t *testing.T) {
	srv, coord := newTestServer(t)
	first := dialWS(t, srv)
	opened, _ := openSession(t, first)
	_ = first.Close()

	// Wait for the server to detach the first connection.
	deadline := time.Now().Add(2 * time.Second)
	for {
		infos := coord.Sessions()
		if len(infos) == 1 && !infos[0].Attached {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session still attached: %+v", infos)
		}
		time.Sleep(10 * time.Millisecond)
	}

	second := dialWS(t, srv)
	writeFrame(t, second, map[string]any{
		"type":    FrameResume,
		"payload": map[string]any{"resume_token": opened.ResumeToken, "base_version": 0},
	})
	frame := readFrame(t, second)
	if frame.Type != FrameOpened {
		t.Fatalf("frame type = %q, want %q: %s", frame.Type, FrameOpened, frame.Payload)
	}
	resumed := decodePayload[OpenedPayload](t, frame)
	if resumed.SessionID != opened.SessionID {
		t.Fatalf("session id = %q, want %q", resumed.SessionID, opened.SessionID)
	}
	if !resumed.Record.Full {
		t.Fatalf("record = %+v, want full record for base 0", resumed.Record)
	}
}

func TestWebSocketCloseSendsClosedFrame(t *testing.T) {
	srv, coord := newTestServer(t)
	conn := dialWS(t, srv)
	opened, _ := openSession(t, conn)

	writeFrame(t, conn, map[string]any{"type": FrameClose, "payload": map[string]any{}})

	frame := readFrame(t, conn)
	if frame.Type != FrameClosed {
		t.Fatalf("frame type = %q, want %q", frame.Type, FrameClosed)
	}
	payload := decodePayload[ClosedPayload](t, frame)
	if payload.SessionID != opened.SessionID || payload.Reason != coordinator.ReasonClient {
		t.Fatalf("closed = %+v", payload)
	}
	if _, err := coord.Snapshot(opened.SessionID); err == nil {
		t.Fatal("expected session to be gone")
	}
}

func TestWebSocketEndpointRejectsPost(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/ws", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/up")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestWebSocketMalformedFrameReturnsError(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialWS(t, srv)

	if _, err := conn.Write([]byte(`{"type": 12}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != FrameError {
		t.Fatalf("frame type = %q, want %q", frame.Type, FrameError)
	}
	if payload := decodePayload[ErrorPayload](t, frame); payload.Code != "INVALID_ARGUMENT" {
		t.Fatalf("code = %q, want INVALID_ARGUMENT", payload.Code)
	}
}

func TestWebSocketErrorsAreLocalized(t *testing.T) {
	srv, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	cfg, err := websocket.NewConfig(wsURL, srv.URL)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Header.Set("Accept-Language", "pt-BR")
	conn, err := websocket.DialConfig(cfg)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	openSession(t, conn)

	writeFrame(t, conn, map[string]any{
		"type":    FrameInput,
		"payload": map[string]any{"type": "click", "round_index": 3},
	})
	payload := decodePayload[ErrorPayload](t, readFrame(t, conn))
	want := "Essa resposta pertence à rodada 3, mas a sessão está na rodada 0."
	if payload.Message != want {
		t.Fatalf("message = %q, want %q", payload.Message, want)
	}
	if payload.RoundIndex != 0 {
		t.Fatalf("round index = %d, want 0", payload.RoundIndex)
	}
}
