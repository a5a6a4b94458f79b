package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gravito-framework/connectty-go/pkg/config"
)

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("CONNECTTY_INTERVAL", "30")
	t.Setenv("CONNECTTY_PROBES", "traffic")

	f := &flags{interval: 5, probes: "interfaces,throughput", logFormat: "JSON", noSpeedTest: true}
	cfg, err := f.load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Interval != 5*time.Second {
		t.Errorf("Expected interval 5s, got %v", cfg.Interval)
	}
	if len(cfg.Probes) != 2 || cfg.Probes[0] != "interfaces" {
		t.Errorf("Expected probes from flag, got %v", cfg.Probes)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("Expected json log format, got %s", cfg.LogFormat)
	}
	if cfg.SpeedTest {
		t.Error("Expected speed test disabled")
	}
}

func TestFlagsRejectUnknownProbe(t *testing.T) {
	f := &flags{probes: "bogus"}
	if _, err := f.load(); err == nil {
		t.Error("Expected error for unknown probe")
	}
}

func TestNewLogger(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	cfg := config.DefaultConfig()
	cfg.LogLevel = "warn"
	cfg.LogFormat = "json"

	var buf bytes.Buffer
	logger := newLogger(cfg, &buf)
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Expected info to be filtered at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("Expected JSON output, got %s", out)
	}
}

func TestSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "serve", "snapshot", "inspect", "probe", "version"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("Expected subcommand %s", name)
		}
	}

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "connectty dev") {
		t.Errorf("Expected version output, got %q", buf.String())
	}
}
