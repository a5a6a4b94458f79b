package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	rclient "github.com/gravito-framework/connectty-go/internal/redis"
	"github.com/gravito-framework/connectty-go/internal/server"
	"github.com/gravito-framework/connectty-go/internal/telemetry"
	"github.com/gravito-framework/connectty-go/pkg/agent"
	"github.com/gravito-framework/connectty-go/pkg/config"
	"github.com/gravito-framework/connectty-go/pkg/probes"
	"github.com/gravito-framework/connectty-go/pkg/probes/speed"
	"github.com/gravito-framework/connectty-go/pkg/publish"
	"github.com/gravito-framework/connectty-go/pkg/render"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func secondsFlag(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func newRunCmd(f *flags) *cobra.Command {
	var serve bool
	var trend int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sample continuously and draw a live dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			// The dashboard owns stdout
			logger := newLogger(cfg, os.Stderr)

			metrics := telemetry.New()
			a, err := agent.New(cfg, agent.WithLogger(logger), agent.WithMetrics(metrics))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var srv *server.Server
			if serve {
				srv = newServer(cfg, a, metrics, logger)
				if err := srv.Start(ctx); err != nil {
					return err
				}
			}

			snaps, unsubscribe := a.Store().Subscribe(1)
			defer unsubscribe()

			if err := a.Start(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			formatter := render.NewFormatter(render.FormatTable, out, a.NodeID())
			formatter.SetTrendWidth(trend)
			draw := func() {
				fmt.Fprint(out, "\033[H\033[2J")
				formatter.Render(a.Store().Snapshot())
			}
			draw()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

		loop:
			for {
				select {
				case sig := <-sigChan:
					logger.Info("Received shutdown signal", "signal", sig)
					break loop
				case <-ctx.Done():
					break loop
				case _, ok := <-snaps:
					if !ok {
						break loop
					}
					draw()
				}
			}

			return shutdown(a, srv, cancel, logger)
		},
	}

	cmd.Flags().BoolVar(&serve, "serve", false, "also serve the HTTP API")
	cmd.Flags().IntVar(&trend, "trend", render.DefaultTrendWidth, "points per sparkline")
	return cmd
}

func newServeCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run headless with the HTTP/websocket API and Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stdout)
			printBanner(os.Stdout)

			metrics := telemetry.New()
			a, err := agent.New(cfg, agent.WithLogger(logger), agent.WithMetrics(metrics))
			if err != nil {
				logger.Error("Failed to create agent", "error", err)
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			srv := newServer(cfg, a, metrics, logger)
			if err := srv.Start(ctx); err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				logger.Error("Failed to start agent", "error", err)
				return err
			}

			// Wait for shutdown signal
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigChan:
				logger.Info("Received shutdown signal", "signal", sig)
			case <-ctx.Done():
			}

			return shutdown(a, srv, cancel, logger)
		},
	}
}

func newServer(cfg *config.Config, a *agent.Agent, metrics *telemetry.Metrics, logger *slog.Logger) *server.Server {
	return server.New(cfg.HTTPAddr, a.NodeID(), a.Store(),
		server.WithMetrics(metrics),
		server.WithStatus(a.Sampler().Stats),
		server.WithAllowedOrigins(cfg.AllowedOrigins),
		server.WithLogger(logger),
	)
}

// shutdown stops the agent and server within shutdownTimeout
func shutdown(a *agent.Agent, srv *server.Server, cancel context.CancelFunc, logger *slog.Logger) error {
	ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	err := a.Stop(ctx)
	if err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	if srv != nil {
		if serr := srv.Stop(ctx); serr != nil {
			logger.Error("HTTP shutdown error", "error", serr)
		}
	}
	cancel()
	return err
}

func newSnapshotCmd(f *flags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Run one cycle and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr)

			a, err := agent.New(cfg, agent.WithLogger(logger))
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.SampleOnce(cmd.Context())
			if err != nil {
				return err
			}
			return render.NewFormatter(render.Format(format), cmd.OutOrStdout(), a.NodeID()).Render(snap)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", string(render.FormatJSON), "output format: json, table or tsv")
	return cmd
}

func newInspectCmd(f *flags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "inspect [node]",
		Short: "List nodes publishing to Redis, or show one node's latest report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			if cfg.RedisURL == "" {
				return fmt.Errorf("inspect needs CONNECTTY_REDIS_URL or --redis-url")
			}

			ctx := cmd.Context()
			client, err := rclient.NewClient(ctx, cfg.RedisURL)
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				nodes, err := publish.Nodes(ctx, client)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Found %d Connectty nodes:\n", len(nodes))
				for _, node := range nodes {
					fmt.Fprintln(out, "  "+node)
				}
				return nil
			}

			report, err := publish.Get(ctx, client, args[0])
			if err != nil {
				return err
			}
			return render.NewFormatter(render.Format(format), out, report.Node).RenderReport(report)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", string(render.FormatTable), "output format: table, json or tsv")
	return cmd
}

func newProbeCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:       "probe <name>",
		Short:     "Run a single probe and print its raw sample",
		Args:      cobra.ExactArgs(1),
		ValidArgs: append(append([]string{}, probes.Names...), speed.Key),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			newLogger(cfg, os.Stderr)

			p, err := buildProbe(cfg, args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), p.Timeout())
			defer cancel()

			start := time.Now()
			sample := p.Run(ctx)
			sample.Probe = p.Key()
			sample.Timestamp = start
			sample.Duration = time.Since(start)

			return writeJSON(cmd.OutOrStdout(), sample)
		},
	}
}

func buildProbe(cfg *config.Config, name string) (probes.Probe, error) {
	if name == speed.Key {
		return speed.New(nil, cfg.SpeedTestTimeout), nil
	}
	ps, err := probes.Build([]string{name}, probes.Settings{
		Timeout:       cfg.ProbeTimeout,
		LookupTimeout: cfg.LookupTimeout,
		GlobalIPURL:   cfg.GlobalIPURL,
		ResolvConf:    cfg.ResolvConf,
	})
	if err != nil {
		return nil, err
	}
	return ps[0], nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
