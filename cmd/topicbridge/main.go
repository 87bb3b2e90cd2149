// Command topicbridge bridges pipeline streams and pub-sub topics.
//
//	topicbridge demux   -pattern 'sensors/*' -out ./streams
//	topicbridge relay   -pattern 'in/**' -prefix out -compression zstd
//	topicbridge publish -topic sensors/temp < readings.txt
//	topicbridge schema
//
// Every command reads TOPICBRIDGE_* environment variables for its defaults;
// flags override them. The transport itself is configured by the YAML file
// given with -config (see `topicbridge schema`).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ggoodman/topicbridge/demux"
	"github.com/ggoodman/topicbridge/internal/logctx"
	"github.com/joeshaw/envdecode"
)

// commonOptions are shared by every command that talks to a transport.
type commonOptions struct {
	Config      string        `env:"TOPICBRIDGE_CONFIG"`
	Group       string        `env:"TOPICBRIDGE_GROUP"`
	LogLevel    string        `env:"TOPICBRIDGE_LOG_LEVEL,default=info"`
	LogFormat   string        `env:"TOPICBRIDGE_LOG_FORMAT,default=text"`
	MetricsAddr string        `env:"TOPICBRIDGE_METRICS_ADDR"`
	Naming      string        `env:"TOPICBRIDGE_NAMING,default=full-path"`
	PollTimeout time.Duration `env:"TOPICBRIDGE_POLL_TIMEOUT,default=100ms"`
}

func loadCommonOptions() (commonOptions, error) {
	var o commonOptions
	if err := envdecode.Decode(&o); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return commonOptions{}, fmt.Errorf("decode environment: %w", err)
	}
	return o, nil
}

func (o *commonOptions) register(fs *flag.FlagSet, withDemux bool) {
	fs.StringVar(&o.Config, "config", o.Config, "transport configuration file (YAML)")
	fs.StringVar(&o.Group, "group", o.Group, "share one transport session among endpoints naming this group")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "debug, info, warn or error")
	fs.StringVar(&o.LogFormat, "log-format", o.LogFormat, "text or json")
	if withDemux {
		fs.StringVar(&o.MetricsAddr, "metrics-addr", o.MetricsAddr, "serve Prometheus metrics on this address")
		fs.StringVar(&o.Naming, "naming", o.Naming, "stream naming policy: full-path, last-segment or hash")
		fs.DurationVar(&o.PollTimeout, "poll-timeout", o.PollTimeout, "receive poll timeout; bounds stop latency")
	}
}

func (o commonOptions) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.LogLevel)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(o.LogFormat) {
	case "json":
		h = slog.NewJSONHandler(w, hopts)
	case "text", "":
		h = slog.NewTextHandler(w, hopts)
	default:
		return nil, fmt.Errorf("unknown log format %q", o.LogFormat)
	}
	return logctx.Wrap(slog.New(h)), nil
}

func (o commonOptions) settings(pattern string) (demux.Settings, error) {
	naming, err := demux.ParseNaming(o.Naming)
	if err != nil {
		return demux.Settings{}, err
	}
	return demux.Settings{
		Pattern:     pattern,
		Group:       o.Group,
		ConfigPath:  o.Config,
		Naming:      naming,
		PollTimeout: o.PollTimeout,
	}, nil
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = []command{
	{"demux", "write every topic matching a pattern to its own file", runDemux},
	{"relay", "republish every topic matching a pattern under a new prefix", runRelay},
	{"publish", "publish stdin lines to a topic", runPublish},
	{"schema", "print the JSON Schema of the transport configuration file", runSchema},
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: topicbridge <command> [flags]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.summary)
	}
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	name, args := os.Args[1], os.Args[2:]
	if name == "-h" || name == "--help" || name == "help" {
		usage(os.Stdout)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, c := range commands {
		if c.name != name {
			continue
		}
		if err := c.run(ctx, args); err != nil && !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "topicbridge %s: %v\n", name, err)
			os.Exit(1)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "topicbridge: unknown command %q\n\n", name)
	usage(os.Stderr)
	os.Exit(2)
}
