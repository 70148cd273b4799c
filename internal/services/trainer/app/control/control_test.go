package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	platformgrpc "github.com/louisbranch/mindtrain/internal/platform/grpc"
	"github.com/louisbranch/mindtrain/internal/services/trainer/app/coordinator"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/checkpoint"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/exercise"
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

type harness struct {
	client *Client
	coord  *coordinator.Coordinator
	store  *checkpoint.Memory
}

func startControl(t *testing.T) *harness {
	t.Helper()
	reg, err := exercise.NewRegistry(echoExercise{})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	store := checkpoint.NewMemory()
	coord, err := coordinator.New(coordinator.Config{
		Exercises:   reg,
		Checkpoints: store,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := gogrpc.NewServer(platformgrpc.DefaultServerOptions()...)
	Register(server, NewServer(coord))
	go func() {
		_ = server.Serve(listener)
	}()
	t.Cleanup(server.Stop)

	conn, err := gogrpc.NewClient(listener.Addr().String(), platformgrpc.DefaultClientDialOptions()...)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return &harness{client: NewClient(conn), coord: coord, store: store}
}

func (h *harness) open(t *testing.T) string {
	t.Helper()
	opened, err := h.coord.Open(context.Background(), coordinator.OpenRequest{Exercise: "echo"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return opened.SessionID
}

func request(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return req
}

func callContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestListSessionsPages(t *testing.T) {
	h := startControl(t)
	for range 3 {
		h.open(t)
	}

	resp, err := h.client.ListSessions(callContext(t), request(t, map[string]any{"page_size": 2}))
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if got := len(resp.GetFields()["sessions"].GetListValue().GetValues()); got != 2 {
		t.Fatalf("sessions = %d, want 2", got)
	}
	if total := resp.GetFields()["total_size"].GetNumberValue(); total != 3 {
		t.Fatalf("total_size = %v, want 3", total)
	}
	token := resp.GetFields()["next_page_token"].GetStringValue()
	if token == "" {
		t.Fatal("expected next page token")
	}

	resp, err = h.client.ListSessions(callContext(t), request(t, map[string]any{"page_size": 2, "page_token": token}))
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if got := len(resp.GetFields()["sessions"].GetListValue().GetValues()); got != 1 {
		t.Fatalf("second page sessions = %d, want 1", got)
	}
	if token := resp.GetFields()["next_page_token"].GetStringValue(); token != "" {
		t.Fatalf("next page token = %q, want empty", token)
	}
}

func TestListSessionsRejectsUnknownOrder(t *testing.T) {
	h := startControl(t)

	_, err := h.client.ListSessions(callContext(t), request(t, map[string]any{"order_by": "version"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %v, want InvalidArgument (%v)", status.Code(err), err)
	}
}

func TestGetSessionReturnsSnapshot(t *testing.T) {
	h := startControl(t)
	sessionID := h.open(t)

	resp, err := h.client.GetSession(callContext(t), request(t, map[string]any{"session_id": sessionID}))
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	snap := resp.GetFields()["snapshot"].GetStructValue().GetFields()
	if phase := snap["phase"].GetStringValue(); phase != "preparation" {
		t.Fatalf("phase = %q, want preparation", phase)
	}
	if version := snap["version"].GetNumberValue(); version != 1 {
		t.Fatalf("version = %v, want 1", version)
	}
	if resp.GetFields()["checksum"].GetStringValue() == "" {
		t.Fatal("expected checksum")
	}
}

func TestGetSessionMissingIsNotFound(t *testing.T) {
	h := startControl(t)

	_, err := h.client.GetSession(callContext(t), request(t, map[string]any{"session_id": "ghost"}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("code = %v, want NotFound (%v)", status.Code(err), err)
	}
}

func TestGetSessionRequiresID(t *testing.T) {
	h := startControl(t)

	_, err := h.client.GetSession(callContext(t), request(t, map[string]any{}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestStopSessionClosesAndCheckpoints(t *testing.T) {
	h := startControl(t)
	sessionID := h.open(t)

	if _, err := h.client.StopSession(callContext(t), request(t, map[string]any{"session_id": sessionID})); err != nil {
		t.Fatalf("stop session: %v", err)
	}
	if _, err := h.coord.Snapshot(sessionID); err == nil {
		t.Fatal("expected session to be closed")
	}
	if _, err := h.store.Get(context.Background(), sessionID); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	_, err := h.client.StopSession(callContext(t), request(t, map[string]any{"session_id": sessionID}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("second stop code = %v, want NotFound", status.Code(err))
	}
}

func TestStopSessionClosesAlreadyStoppedSession(t *testing.T) {
	h := startControl(t)
	sessionID := h.open(t)
	if _, err := h.coord.Stop(context.Background(), sessionID); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if _, err := h.client.StopSession(callContext(t), request(t, map[string]any{"session_id": sessionID})); err != nil {
		t.Fatalf("stop session: %v", err)
	}
	if _, err := h.coord.Snapshot(sessionID); err == nil {
		t.Fatal("expected stopped session to be closed")
	}
}

func TestListRoundsNewestFirst(t *testing.T) {
	h := startControl(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := range 3 {
		err := h.store.AppendRound(ctx, checkpoint.RoundResult{
			SessionID:  "sess-1",
			Exercise:   "echo",
			RoundIndex: uint64(i),
			Category:   "memory",
			Level:      1,
			NewLevel:   1,
			Correct:    i%2 == 0,
			LatencyMS:  int64(400 + i),
			ScoredAt:   base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append round: %v", err)
		}
	}

	resp, err := h.client.ListRounds(callContext(t), request(t, map[string]any{"session_id": "sess-1", "limit": 2}))
	if err != nil {
		t.Fatalf("list rounds: %v", err)
	}
	rounds := resp.GetFields()["rounds"].GetListValue().GetValues()
	if len(rounds) != 2 {
		t.Fatalf("rounds = %d, want 2", len(rounds))
	}
	if idx := rounds[0].GetStructValue().GetFields()["round_index"].GetNumberValue(); idx != 2 {
		t.Fatalf("first round index = %v, want 2", idx)
	}
}
