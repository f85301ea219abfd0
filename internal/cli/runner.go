// Package cli implements the trafficxia command surface.
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/GlitchedBaby/TrafficXia/internal/appclient"
	"github.com/GlitchedBaby/TrafficXia/internal/config"
)

type Runner struct {
	socketPath string
	client     *appclient.Client
	out        io.Writer
	errOut     io.Writer
}

func NewRunner(socketPath string, out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{
		socketPath: socketPath,
		client:     appclient.New(socketPath),
		out:        out,
		errOut:     errOut,
	}
}

// NewRunnerWithClient lets tests substitute the transport.
func NewRunnerWithClient(client *appclient.Client, out, errOut io.Writer) *Runner {
	r := NewRunner("", out, errOut)
	r.client = client
	return r
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	socketPath, rest, err := parseGlobalArgs(args)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if socketPath != "" {
		r.socketPath = socketPath
		r.client = appclient.New(socketPath)
	}
	if len(rest) == 0 {
		r.printUsage()
		return 2
	}
	switch rest[0] {
	case "status":
		return r.runStatus(ctx, rest[1:])
	case "approaches":
		return r.runApproaches(ctx, rest[1:])
	case "events":
		return r.runEvents(ctx, rest[1:])
	case "health":
		return r.runHealth(ctx, rest[1:])
	case "validate":
		return r.runValidate(rest[1:])
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", rest[0])
		r.printUsage()
		return 2
	}
}

func (r *Runner) runStatus(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	status, err := r.client.Status(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	if *jsonOut {
		return r.printJSON(status)
	}
	_, _ = fmt.Fprintf(r.out, "run %s  cycle %d  tick %d\n", status.RunID, status.CycleSeq, status.TickSeq)
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "APPROACH\tNAME\tPHASE")
	for _, sig := range status.Signals {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\n", sig.ApproachID, sig.Name, sig.Phase)
	}
	_ = tw.Flush()
	return 0
}

func (r *Runner) runApproaches(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("approaches", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	env, err := r.client.Approaches(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	if *jsonOut {
		return r.printJSON(env)
	}
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tCOUNT\tIDLE\tSTALE\tLAST SAMPLE")
	for _, a := range env.Approaches {
		last := "-"
		if a.LastSampleAt != nil {
			last = a.LastSampleAt.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%t\t%s\n", a.ApproachID, a.Name, a.Count, a.IdleStreak, a.Stale, last)
	}
	_ = tw.Flush()
	return 0
}

func (r *Runner) runEvents(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	limit := fs.Int("limit", 20, "max events")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	env, err := r.client.Events(ctx, *limit)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	if *jsonOut {
		return r.printJSON(env)
	}
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SEQ\tAPPROACH\tPHASE\tENTERED\tCOMMITTED\tEXT")
	for _, ev := range env.Events {
		committed := time.Duration(ev.CommittedGreenMS) * time.Millisecond
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%d\n", ev.Seq, ev.ApproachID, ev.Phase, ev.EnteredAt.UTC().Format(time.RFC3339), committed, ev.Extensions)
	}
	_ = tw.Flush()
	return 0
}

func (r *Runner) runHealth(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	health, err := r.client.Health(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	if *jsonOut {
		return r.printJSON(health)
	}
	_, _ = fmt.Fprintf(r.out, "%s\n", health.Status)
	return 0
}

// validate checks a config file without contacting the daemon.
func (r *Runner) runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	path := fs.String("config", "", "TOML config path")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if *path == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: trafficxia validate -config <path>")
		return 2
	}
	cfg, err := config.Load(*path)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(r.out, "ok: %d approaches, tick %s\n", len(cfg.Approaches), cfg.Tick)
	return 0
}

func (r *Runner) printJSON(payload any) int {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	return 0
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, `usage: trafficxia [-socket path] <command>

commands:
  status       current phase and signal set
  approaches   live per-approach counters
  events       recent phase transitions
  health       daemon health
  validate     check a config file without starting`)
}

func parseGlobalArgs(args []string) (socketPath string, rest []string, err error) {
	for i := 0; i < len(args); i++ {
		if args[i] != "-socket" && args[i] != "--socket" {
			rest = append(rest, args[i])
			continue
		}
		if i+1 >= len(args) {
			return "", nil, fmt.Errorf("-socket requires a value")
		}
		socketPath = args[i+1]
		i++
	}
	return socketPath, rest, nil
}
