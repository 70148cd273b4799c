// Package trainerctl implements the operator CLI for the trainer control API.
package trainerctl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	entrypoint "github.com/louisbranch/mindtrain/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/mindtrain/internal/platform/grpc"
	"github.com/louisbranch/mindtrain/internal/platform/timeouts"
	"github.com/louisbranch/mindtrain/internal/services/trainer/app/control"
)

const usage = `usage: trainerctl [flags] <command> [args]

commands:
  list                    list live sessions
  show <session-id>       print the current snapshot
  stop <session-id>       stop and close a session
  rounds <session-id>     print the newest scored rounds`

// Config holds trainerctl configuration.
type Config struct {
	GRPCAddr string        `env:"MINDTRAIN_TRAINER_CONTROL_ADDR" envDefault:"localhost:8091"`
	Timeout  time.Duration `env:"MINDTRAIN_TRAINERCTL_TIMEOUT"   envDefault:"5s"`
	Locale   string        `env:"MINDTRAIN_LOCALE"`
	PageSize int           `env:"MINDTRAIN_TRAINERCTL_PAGE_SIZE" envDefault:"50"`
	OrderBy  string

	Command string
	Args    []string
}

// ParseConfig parses environment and flags into a Config. The first
// positional argument is the command.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.GRPCAddr, "addr", cfg.GRPCAddr, "trainer control API address")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "request timeout")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "locale for error messages")
	fs.IntVar(&cfg.PageSize, "page-size", cfg.PageSize, "sessions per list page")
	fs.StringVar(&cfg.OrderBy, "order-by", cfg.OrderBy, "list order: opened_at or session_id")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return Config{}, errors.New(usage)
	}
	cfg.Command = rest[0]
	cfg.Args = rest[1:]
	return cfg, nil
}

// Run dials the control API and executes the command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	logf := func(format string, args ...any) {
		fmt.Fprintf(errOut, format+"\n", args...)
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceTrainerCtl, func(ctx context.Context) error {
		conn, err := platformgrpc.DialWithHealth(ctx, nil, cfg.GRPCAddr, control.ServiceName, timeouts.GRPCDial, logf, platformgrpc.DefaultClientDialOptions()...)
		if err != nil {
			return err
		}
		defer conn.Close()

		callCtx := platformgrpc.WithLocale(ctx, cfg.Locale)
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, cfg.Timeout)
			defer cancel()
		}
		return execute(callCtx, control.NewClient(conn), cfg, out)
	})
}

func execute(ctx context.Context, client *control.Client, cfg Config, out io.Writer) error {
	switch cfg.Command {
	case "list":
		return listSessions(ctx, client, cfg, out)
	case "show":
		sessionID, err := sessionArg(cfg)
		if err != nil {
			return err
		}
		resp, err := client.GetSession(ctx, fields(map[string]any{"session_id": sessionID}))
		if err != nil {
			return err
		}
		return printJSON(out, resp)
	case "stop":
		sessionID, err := sessionArg(cfg)
		if err != nil {
			return err
		}
		if _, err := client.StopSession(ctx, fields(map[string]any{"session_id": sessionID})); err != nil {
			return err
		}
		fmt.Fprintf(out, "stopped %s\n", sessionID)
		return nil
	case "rounds":
		sessionID, err := sessionArg(cfg)
		if err != nil {
			return err
		}
		resp, err := client.ListRounds(ctx, fields(map[string]any{"session_id": sessionID}))
		if err != nil {
			return err
		}
		return printRounds(out, resp)
	default:
		return fmt.Errorf("unknown command %q\n%s", cfg.Command, usage)
	}
}

func listSessions(ctx context.Context, client *control.Client, cfg Config, out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tEXERCISE\tPHASE\tVERSION\tACKED\tROUND\tATTACHED\tOPENED")
	token := ""
	for {
		resp, err := client.ListSessions(ctx, fields(map[string]any{
			"page_size":  float64(cfg.PageSize),
			"page_token": token,
			"order_by":   cfg.OrderBy,
		}))
		if err != nil {
			return err
		}
		for _, value := range resp.GetFields()["sessions"].GetListValue().GetValues() {
			s := value.GetStructValue().GetFields()
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
				s["session_id"].GetStringValue(),
				s["exercise"].GetStringValue(),
				s["phase"].GetStringValue(),
				number(s["version"]),
				number(s["last_acked"]),
				number(s["round_index"]),
				s["attached"].GetBoolValue(),
				s["opened_at"].GetStringValue(),
			)
		}
		token = resp.GetFields()["next_page_token"].GetStringValue()
		if token == "" {
			break
		}
	}
	return w.Flush()
}

func printRounds(out io.Writer, resp *structpb.Struct) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROUND\tCATEGORY\tLEVEL\tCORRECT\tTIMED OUT\tLATENCY MS\tSCORED")
	for _, value := range resp.GetFields()["rounds"].GetListValue().GetValues() {
		r := value.GetStructValue().GetFields()
		fmt.Fprintf(w, "%s\t%s\t%s->%s\t%t\t%t\t%s\t%s\n",
			number(r["round_index"]),
			r["category"].GetStringValue(),
			number(r["level"]),
			number(r["new_level"]),
			r["correct"].GetBoolValue(),
			r["timed_out"].GetBoolValue(),
			number(r["latency_ms"]),
			r["scored_at"].GetStringValue(),
		)
	}
	return w.Flush()
}

func printJSON(out io.Writer, msg *structpb.Struct) error {
	raw, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	_, err = fmt.Fprintln(out, string(raw))
	return err
}

func sessionArg(cfg Config) (string, error) {
	if len(cfg.Args) != 1 || strings.TrimSpace(cfg.Args[0]) == "" {
		return "", fmt.Errorf("%s requires a session id", cfg.Command)
	}
	return strings.TrimSpace(cfg.Args[0]), nil
}

func fields(values map[string]any) *structpb.Struct {
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(values))}
	for key, value := range values {
		switch typed := value.(type) {
		case string:
			s.Fields[key] = structpb.NewStringValue(typed)
		case float64:
			s.Fields[key] = structpb.NewNumberValue(typed)
		}
	}
	return s
}

func number(v *structpb.Value) string {
	return strconv.FormatFloat(v.GetNumberValue(), 'f', -1, 64)
}
