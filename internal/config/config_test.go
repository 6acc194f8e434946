package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MJE43/bart-task-go/internal/trials"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bart.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvAddr, "")
	t.Setenv(EnvToken, "")
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.Seed != 12345 || cfg.Session.Order != "shuffled" {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Session.Delays.Explode != 1500*time.Millisecond {
		t.Errorf("explode delay = %v", cfg.Session.Delays.Explode)
	}
	if cfg.Server.Addr != "127.0.0.1:8077" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Setenv(EnvAddr, "")
	t.Setenv("BART_TEST_TOKEN", "s3cret")
	path := writeFile(t, `
session:
  seed: 99
  order: blocked
  paced: true
  delays:
    appear: 100ms
    settle: 1s
server:
  token: ${BART_TEST_TOKEN}
sim:
  participants: 5
  think_time: 200ms
log:
  events: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Session.Seed != 99 || !cfg.Session.Paced {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Session.Delays.Appear != 100*time.Millisecond || cfg.Session.Delays.Settle != time.Second {
		t.Errorf("delays = %+v", cfg.Session.Delays)
	}
	// untouched keys keep their defaults
	if cfg.Session.Delays.Explode != 1500*time.Millisecond {
		t.Errorf("explode delay = %v", cfg.Session.Delays.Explode)
	}
	if cfg.Server.Token != "s3cret" {
		t.Errorf("token = %q", cfg.Server.Token)
	}
	if cfg.Sim.Participants != 5 || cfg.Sim.ThinkTime != 200*time.Millisecond {
		t.Errorf("sim = %+v", cfg.Sim)
	}
	if !cfg.Log.Events {
		t.Error("log.events not set")
	}

	opts := cfg.SequenceOptions()
	if opts.Seed != 99 || opts.Order != trials.OrderBlocked {
		t.Errorf("SequenceOptions = %+v", opts)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeFile(t, "server:\n  addr: 127.0.0.1:9000\n")
	t.Setenv(EnvConfig, path)
	t.Setenv(EnvAddr, "127.0.0.1:9100")
	t.Setenv(EnvToken, "from-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9100" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.Token != "from-env" {
		t.Errorf("token = %q", cfg.Server.Token)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Setenv(EnvAddr, "")

	tests := []struct {
		name    string
		content string
		invalid bool
	}{
		{name: "bad order", content: "session:\n  order: zigzag\n", invalid: true},
		{name: "negative delay", content: "session:\n  delays:\n    appear: -1s\n", invalid: true},
		{name: "negative workers", content: "sim:\n  workers: -2\n", invalid: true},
		{name: "malformed yaml", content: "session: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.content))
			if err == nil {
				t.Fatal("Load succeeded")
			}
			if tt.invalid && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file succeeded")
	}
}
