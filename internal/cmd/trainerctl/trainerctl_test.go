package trainerctl

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"strings"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"

	platformgrpc "github.com/louisbranch/mindtrain/internal/platform/grpc"
	"github.com/louisbranch/mindtrain/internal/services/trainer/app/control"
	"github.com/louisbranch/mindtrain/internal/services/trainer/app/coordinator"
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

func startControl(t *testing.T) (string, *coordinator.Coordinator) {
	t.Helper()
	reg, err := exercise.NewRegistry(echoExercise{})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	coord, err := coordinator.New(coordinator.Config{
		Exercises: reg,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := gogrpc.NewServer(platformgrpc.DefaultServerOptions()...)
	control.Register(server, control.NewServer(coord))
	platformgrpc.RegisterHealth(server, control.ServiceName).MarkServing()
	go func() {
		_ = server.Serve(listener)
	}()
	t.Cleanup(server.Stop)
	return listener.Addr().String(), coord
}

func runCommand(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	fs := flag.NewFlagSet("trainerctl", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, append([]string{"-addr", addr}, args...))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out bytes.Buffer
	err = Run(ctx, cfg, &out, io.Discard)
	return out.String(), err
}

func TestParseConfigRequiresCommand(t *testing.T) {
	fs := flag.NewFlagSet("trainerctl", flag.ContinueOnError)
	if _, err := ParseConfig(fs, nil); err == nil {
		t.Fatal("expected usage error")
	}
}

func TestParseConfigReadsCommandAndArgs(t *testing.T) {
	t.Setenv("MINDTRAIN_TRAINER_CONTROL_ADDR", "env-addr")

	fs := flag.NewFlagSet("trainerctl", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-timeout", "2s", "stop", "sess-1"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.GRPCAddr != "env-addr" {
		t.Fatalf("expected env addr, got %q", cfg.GRPCAddr)
	}
	if cfg.Timeout != 2*time.Second {
		t.Fatalf("expected flag timeout, got %v", cfg.Timeout)
	}
	if cfg.Command != "stop" || len(cfg.Args) != 1 || cfg.Args[0] != "sess-1" {
		t.Fatalf("command = %q %v", cfg.Command, cfg.Args)
	}
}

func TestListPrintsSessions(t *testing.T) {
	addr, coord := startControl(t)
	opened, err := coord.Open(context.Background(), coordinator.OpenRequest{Exercise: "echo"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	out, err := runCommand(t, addr, "-page-size", "1", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, opened.SessionID) || !strings.Contains(out, "preparation") {
		t.Fatalf("list output missing session:\n%s", out)
	}
}

func TestShowAndStop(t *testing.T) {
	addr, coord := startControl(t)
	opened, err := coord.Open(context.Background(), coordinator.OpenRequest{Exercise: "echo"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	out, err := runCommand(t, addr, "show", opened.SessionID)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "preparation") || !strings.Contains(out, "checksum") {
		t.Fatalf("show output:\n%s", out)
	}

	if _, err := runCommand(t, addr, "stop", opened.SessionID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := coord.Snapshot(opened.SessionID); err == nil {
		t.Fatal("expected session closed")
	}
}

func TestCommandErrors(t *testing.T) {
	addr, _ := startControl(t)

	if _, err := runCommand(t, addr, "show"); err == nil {
		t.Fatal("expected missing session id error")
	}
	if _, err := runCommand(t, addr, "dance"); err == nil {
		t.Fatal("expected unknown command error")
	}
	if _, err := runCommand(t, addr, "stop", "ghost"); err == nil {
		t.Fatal("expected not found error")
	}
}
