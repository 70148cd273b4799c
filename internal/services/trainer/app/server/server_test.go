package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	platformgrpc "github.com/louisbranch/mindtrain/internal/platform/grpc"
	"github.com/louisbranch/mindtrain/internal/services/trainer/app/control"
	"github.com/louisbranch/mindtrain/internal/services/trainer/client"
	"google.golang.org/protobuf/types/known/structpb"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		HTTPAddr: "127.0.0.1:0",
		GRPCAddr: "127.0.0.1:0",
		DBPath:   filepath.Join(t.TempDir(), "trainer.db"),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func startServer(t *testing.T, cfg Config) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	srv, err := New(ctx, cfg)
	if err != nil {
		cancel()
		t.Fatalf("new server: %v", err)
	}
	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		done <- srv.Serve(ctx)
		close(finished)
	}()
	t.Cleanup(func() {
		cancel()
		<-finished
	})
	return srv, cancel, done
}

func TestNewRequiresAddresses(t *testing.T) {
	if _, err := New(context.Background(), Config{GRPCAddr: ":0"}); err == nil {
		t.Fatal("expected http address error")
	}
	if _, err := New(context.Background(), Config{HTTPAddr: ":0"}); err == nil {
		t.Fatal("expected grpc address error")
	}
}

func TestNewRejectsBadProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	if err := os.WriteFile(path, []byte("profiles: [not, a, map]"), 0o600); err != nil {
		t.Fatalf("write profiles: %v", err)
	}
	cfg := testConfig(t)
	cfg.ProfilesPath = path
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected profiles error")
	}
}

func TestNewRejectsBadResumeSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.ResumeSecret = "c2hvcnQ="
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected resume secret error")
	}
}

func TestServeExposesHTTPAndControl(t *testing.T) {
	srv, _, _ := startServer(t, testConfig(t))
	baseURL := "http://" + srv.HTTPAddr()

	resp, err := http.Get(baseURL + "/up")
	if err != nil {
		t.Fatalf("get /up: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/up status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := client.Dial(ctx, baseURL, "")
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Open("symbol_memory", "", 1); err != nil {
		t.Fatalf("open session: %v", err)
	}

	grpcConn, err := platformgrpc.DialWithHealth(ctx, nil, srv.GRPCAddr(), control.ServiceName, time.Second, nil, platformgrpc.DefaultClientDialOptions()...)
	if err != nil {
		t.Fatalf("dial control: %v", err)
	}
	defer grpcConn.Close()
	req, _ := structpb.NewStruct(map[string]any{})
	list, err := control.NewClient(grpcConn).ListSessions(ctx, req)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	sessions := list.GetFields()["sessions"].GetListValue().GetValues()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if got := sessions[0].GetStructValue().GetFields()["session_id"].GetStringValue(); got != conn.SessionID() {
		t.Fatalf("listed session = %q, want %q", got, conn.SessionID())
	}

	resp, err = http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("get /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), "mindtrain_sessions_opened_total 1") {
		t.Fatalf("metrics missing opened counter:\n%s", body)
	}
}

func TestServeClosesSessionsOnShutdown(t *testing.T) {
	srv, cancel, done := startServer(t, testConfig(t))

	ctx, dialCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer dialCancel()
	conn, err := client.Dial(ctx, "http://"+srv.HTTPAddr(), "")
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Open("morph_matrix", "", 1); err != nil {
		t.Fatalf("open session: %v", err)
	}

	cancel()
	if _, err := conn.Next(3 * time.Second); err != client.ErrSessionClosed {
		t.Fatalf("next = %v, want ErrSessionClosed", err)
	}
	if conn.CloseReason() != "shutdown" {
		t.Fatalf("reason = %q, want shutdown", conn.CloseReason())
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
}
