// Connectty - network sampling agent
//
// Periodically samples throughput, connections, ports, interfaces, traffic
// counters and address configuration, and serves the results to a terminal
// dashboard, an HTTP/websocket API, Prometheus and Redis.
//
// Usage:
//
//	connectty run                     # live terminal dashboard
//	connectty serve                   # headless agent with HTTP API
//	connectty snapshot --format table # one cycle, then exit
//	CONNECTTY_REDIS_URL=redis://localhost:6379 connectty inspect
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/gravito-framework/connectty-go/pkg/config"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// flags override values loaded from the environment
type flags struct {
	interval    int
	probes      string
	redisURL    string
	httpAddr    string
	name        string
	logLevel    string
	logFormat   string
	noSpeedTest bool
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "connectty",
		Short:         "Network sampling agent",
		Long:          "Connectty samples network and host metrics on an interval and keeps the latest values plus a rolling time series.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.IntVar(&f.interval, "interval", 0, "seconds between cycles (CONNECTTY_INTERVAL)")
	pf.StringVar(&f.probes, "probes", "", "comma-separated probes to run (CONNECTTY_PROBES)")
	pf.StringVar(&f.redisURL, "redis-url", "", "Redis URL for publishing and remote control (CONNECTTY_REDIS_URL)")
	pf.StringVar(&f.httpAddr, "http", "", "HTTP listen address (CONNECTTY_HTTP_ADDR)")
	pf.StringVar(&f.name, "name", "", "node name (CONNECTTY_NAME)")
	pf.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	pf.StringVar(&f.logFormat, "log-format", "", "text or json (LOG_FORMAT)")
	pf.BoolVar(&f.noSpeedTest, "no-speedtest", false, "skip the bandwidth test (CONNECTTY_SPEEDTEST=false)")

	root.AddCommand(
		newRunCmd(f),
		newServeCmd(f),
		newSnapshotCmd(f),
		newInspectCmd(f),
		newProbeCmd(f),
		newVersionCmd(),
	)
	return root
}

// load reads the environment, applies flag overrides and validates
func (f *flags) load() (*config.Config, error) {
	cfg := config.Load()

	if f.interval > 0 {
		cfg.Interval = secondsFlag(f.interval)
	}
	if f.probes != "" {
		cfg.Probes = config.ParseList(f.probes)
	}
	if f.redisURL != "" {
		cfg.RedisURL = f.redisURL
	}
	if f.httpAddr != "" {
		cfg.HTTPAddr = f.httpAddr
	}
	if f.name != "" {
		cfg.Name = f.name
	}
	if f.logLevel != "" {
		cfg.LogLevel = strings.ToLower(f.logLevel)
	}
	if f.logFormat != "" {
		cfg.LogFormat = strings.ToLower(f.logFormat)
	}
	if f.noSpeedTest {
		cfg.SpeedTest = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func printBanner(w io.Writer) {
	fmt.Fprintf(w, `
   ██████  ██████  ███    ██ ███    ██ ███████  ██████ ████████ ████████ ██    ██
  ██      ██    ██ ████   ██ ████   ██ ██      ██         ██       ██     ██  ██
  ██      ██    ██ ██ ██  ██ ██ ██  ██ █████   ██         ██       ██      ████
  ██      ██    ██ ██  ██ ██ ██  ██ ██ ██      ██         ██       ██       ██
   ██████  ██████  ██   ████ ██   ████ ███████  ██████    ██       ██       ██
  📶 Connectty %s (%s)

`, version, commit[:min(7, len(commit))])
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "connectty %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
