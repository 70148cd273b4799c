// Package trainer parses trainer command flags and composes the session
// server.
package trainer

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/mindtrain/internal/platform/cmd"
	"github.com/louisbranch/mindtrain/internal/platform/timeouts"
	server "github.com/louisbranch/mindtrain/internal/services/trainer/app/server"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/delta"
)

// Config holds trainer command configuration.
type Config struct {
	HTTPAddr        string        `env:"MINDTRAIN_TRAINER_HTTP_ADDR"        envDefault:":8090"`
	GRPCAddr        string        `env:"MINDTRAIN_TRAINER_GRPC_ADDR"        envDefault:":8091"`
	ProfilesPath    string        `env:"MINDTRAIN_TRAINER_PROFILES_PATH"`
	DBPath          string        `env:"MINDTRAIN_TRAINER_DB_PATH"`
	ResumeSecret    string        `env:"MINDTRAIN_TRAINER_RESUME_SECRET"`
	ResumeTTL       time.Duration `env:"MINDTRAIN_TRAINER_RESUME_TTL"       envDefault:"30m"`
	HistoryVersions int           `env:"MINDTRAIN_TRAINER_HISTORY_VERSIONS" envDefault:"64"`
	HistoryMaxAge   time.Duration `env:"MINDTRAIN_TRAINER_HISTORY_MAX_AGE"  envDefault:"2m"`
	CheckpointEvery int           `env:"MINDTRAIN_TRAINER_CHECKPOINT_EVERY" envDefault:"5"`
	TickInterval    time.Duration `env:"MINDTRAIN_TRAINER_TICK_INTERVAL"    envDefault:"50ms"`
	IdleTimeout     time.Duration `env:"MINDTRAIN_TRAINER_IDLE_TIMEOUT"     envDefault:"5m"`
	LogLevel        string        `env:"MINDTRAIN_LOG_LEVEL"                envDefault:"info"`
}

// Validate checks the values the environment cannot type-check.
func (c Config) Validate() error {
	if c.HistoryVersions < 1 {
		return errors.New("history versions must be at least 1")
	}
	if c.HistoryMaxAge < 0 {
		return errors.New("history max age must not be negative")
	}
	if c.TickInterval <= 0 {
		return errors.New("tick interval must be positive")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "websocket and metrics HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "control API gRPC listen address")
	fs.StringVar(&cfg.ProfilesPath, "profiles", cfg.ProfilesPath, "exercise profiles YAML file")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "sqlite checkpoint database path (empty keeps checkpoints in memory)")
	fs.IntVar(&cfg.HistoryVersions, "history-versions", cfg.HistoryVersions, "snapshots retained per session for diffing")
	fs.DurationVar(&cfg.HistoryMaxAge, "history-max-age", cfg.HistoryMaxAge, "maximum age of a retained snapshot")
	fs.IntVar(&cfg.CheckpointEvery, "checkpoint-every", cfg.CheckpointEvery, "scored rounds between checkpoints (negative disables)")
	fs.DurationVar(&cfg.TickInterval, "tick-interval", cfg.TickInterval, "deadline evaluation cadence")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the trainer and serves until ctx ends.
func Run(ctx context.Context, cfg Config, logOut io.Writer) error {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceTrainer, func(ctx context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:     cfg.HTTPAddr,
			GRPCAddr:     cfg.GRPCAddr,
			ProfilesPath: cfg.ProfilesPath,
			DBPath:       cfg.DBPath,
			ResumeSecret: cfg.ResumeSecret,
			ResumeTTL:    cfg.ResumeTTL,
			History: delta.HistoryConfig{
				MaxVersions: cfg.HistoryVersions,
				MaxAge:      cfg.HistoryMaxAge,
			},
			TickInterval:    cfg.TickInterval,
			CheckpointEvery: cfg.CheckpointEvery,
			IdleTimeout:     cfg.IdleTimeout,
			Logger:          logger,
			ShutdownTimeout: timeouts.Shutdown,
		}); err != nil {
			return fmt.Errorf("serve trainer: %w", err)
		}
		return nil
	})
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", value)
	}
	return level, nil
}
