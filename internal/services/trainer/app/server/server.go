// Package server composes the trainer process: the websocket session
// endpoint and /metrics over HTTP, the control API over gRPC, and the
// coordinator tick loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	gogrpc "google.golang.org/grpc"

	platformgrpc "github.com/louisbranch/mindtrain/internal/platform/grpc"
	"github.com/louisbranch/mindtrain/internal/platform/timeouts"
	"github.com/louisbranch/mindtrain/internal/services/trainer/app/control"
	"github.com/louisbranch/mindtrain/internal/services/trainer/app/coordinator"
	"github.com/louisbranch/mindtrain/internal/services/trainer/app/metrics"
	"github.com/louisbranch/mindtrain/internal/services/trainer/app/resume"
	"github.com/louisbranch/mindtrain/internal/services/trainer/app/transport"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/checkpoint"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/delta"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/exercise"
	"github.com/louisbranch/mindtrain/internal/services/trainer/storage/sqlite"
)

// Config defines the inputs of the trainer process.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	// ProfilesPath optionally names a YAML file of exercise profiles.
	ProfilesPath string
	// DBPath optionally names the sqlite checkpoint database. Without it
	// checkpoints live in memory for the life of the process.
	DBPath string
	// ResumeSecret is the base64 HMAC key for resume tokens. Empty generates
	// a per-process key.
	ResumeSecret string
	ResumeTTL    time.Duration

	History         delta.HistoryConfig
	TickInterval    time.Duration
	CheckpointEvery int
	IdleTimeout     time.Duration

	Logger            *slog.Logger
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the trainer process.
type Server struct {
	log             *slog.Logger
	shutdownTimeout time.Duration

	httpListener net.Listener
	httpServer   *http.Server
	grpcListener net.Listener
	grpcServer   *gogrpc.Server
	health       *platformgrpc.Health

	coord   *coordinator.Coordinator
	closeDB func() error
}

// New builds the trainer and binds its listeners.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return nil, errors.New("http address is required")
	}
	if strings.TrimSpace(cfg.GRPCAddr) == "" {
		return nil, errors.New("grpc address is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = timeouts.Shutdown
	}

	registry := exercise.DefaultRegistry()
	if path := strings.TrimSpace(cfg.ProfilesPath); path != "" {
		profiles, err := exercise.LoadProfilesFile(path)
		if err != nil {
			return nil, err
		}
		if err := registry.SetProfiles(profiles); err != nil {
			return nil, err
		}
	}

	tokens, err := newIssuer(cfg)
	if err != nil {
		return nil, err
	}

	var store checkpoint.Store = checkpoint.NewMemory()
	closeDB := func() error { return nil }
	if path := strings.TrimSpace(cfg.DBPath); path != "" {
		db, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		store = db
		closeDB = db.Close
	}

	m := metrics.New()
	coord, err := coordinator.New(coordinator.Config{
		Exercises:       registry,
		Checkpoints:     store,
		Tokens:          tokens,
		Metrics:         m,
		Logger:          cfg.Logger,
		History:         cfg.History,
		TickInterval:    cfg.TickInterval,
		CheckpointEvery: cfg.CheckpointEvery,
		IdleTimeout:     cfg.IdleTimeout,
	})
	if err != nil {
		_ = closeDB()
		return nil, err
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = closeDB()
		return nil, fmt.Errorf("listen http on %s: %w", cfg.HTTPAddr, err)
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = httpListener.Close()
		_ = closeDB()
		return nil, fmt.Errorf("listen grpc on %s: %w", cfg.GRPCAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/", transport.NewHandler(transport.Config{Coordinator: coord, Logger: cfg.Logger}))

	grpcServer := gogrpc.NewServer(platformgrpc.DefaultServerOptions()...)
	control.Register(grpcServer, control.NewServer(coord))
	health := platformgrpc.RegisterHealth(grpcServer, control.ServiceName)

	return &Server{
		log:             cfg.Logger.With("component", "server"),
		shutdownTimeout: cfg.ShutdownTimeout,
		httpListener:    httpListener,
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		grpcListener: grpcListener,
		grpcServer:   grpcServer,
		health:       health,
		coord:        coord,
		closeDB:      closeDB,
	}, nil
}

// Run creates and serves a trainer until the context ends.
func Run(ctx context.Context, cfg Config) error {
	srv, err := New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init trainer: %w", err)
	}
	return srv.Serve(ctx)
}

// HTTPAddr returns the bound HTTP address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC address.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Serve runs every listener and the tick loop until the context ends or one
// of them fails. Live sessions are closed, and checkpointed, on the way out.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("trainer server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		if err := s.closeDB(); err != nil {
			s.log.Error("close checkpoint store", "error", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tickDone := make(chan error, 1)
	go func() {
		tickDone <- s.coord.Run(runCtx)
	}()
	serveErr := make(chan error, 2)
	go func() {
		serveErr <- s.httpServer.Serve(s.httpListener)
	}()
	go func() {
		serveErr <- s.grpcServer.Serve(s.grpcListener)
	}()
	s.health.MarkServing()
	s.log.Info("trainer listening", "http_addr", s.HTTPAddr(), "grpc_addr", s.GRPCAddr())

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) || errors.Is(err, gogrpc.ErrServerStopped) {
			err = nil
		}
	}

	s.health.Shutdown()
	cancel()
	if tickErr := <-tickDone; tickErr != nil && err == nil {
		err = tickErr
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer shutdownCancel()
	if shutdownErr := s.httpServer.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = fmt.Errorf("shutdown http server: %w", shutdownErr)
	}
	s.grpcServer.GracefulStop()
	if err != nil {
		return fmt.Errorf("serve trainer: %w", err)
	}
	return nil
}

func newIssuer(cfg Config) (*resume.Issuer, error) {
	var secret []byte
	if value := strings.TrimSpace(cfg.ResumeSecret); value != "" {
		decoded, err := resume.DecodeSecret(value)
		if err != nil {
			return nil, err
		}
		secret = decoded
	}
	return resume.NewIssuer(resume.Config{Secret: secret, TTL: cfg.ResumeTTL})
}
