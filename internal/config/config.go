// Package config loads the YAML configuration shared by the CLI commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MJE43/bart-task-go/internal/session"
	"github.com/MJE43/bart-task-go/internal/trials"
)

// Environment variables consulted by Load
const (
	EnvConfig = "BART_CONFIG"
	EnvAddr   = "BART_ADDR"
	EnvToken  = "BART_TOKEN"
)

// DefaultPath is read when no path is given and the file exists.
const DefaultPath = "bart.yaml"

var ErrInvalidConfig = errors.New("invalid config")

// Config is the root of bart.yaml
type Config struct {
	Session SessionConfig `yaml:"session"`
	Server  ServerConfig  `yaml:"server"`
	Sim     SimConfig     `yaml:"sim"`
	Log     LogConfig     `yaml:"log"`
}

// SessionConfig selects the trial sequence and presentation timing.
type SessionConfig struct {
	Seed  int64  `yaml:"seed"`
	Order string `yaml:"order"`
	// Paced makes the server drive Ready and Advance itself.
	Paced  bool           `yaml:"paced"`
	Delays session.Delays `yaml:"delays"`
}

// ServerConfig configures the loopback HTTP API.
type ServerConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
	// KeyringService names the OS keychain entry holding the token.
	KeyringService string        `yaml:"keyring_service"`
	TokenFile      string        `yaml:"token_file"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CORSOrigins    []string      `yaml:"cors_origins"`
}

// SimConfig holds batch simulation defaults.
type SimConfig struct {
	Strategy      string        `yaml:"strategy"`
	Participants  int           `yaml:"participants"`
	Workers       int           `yaml:"workers"`
	ThinkTime     time.Duration `yaml:"think_time"`
	ScriptTimeout time.Duration `yaml:"script_timeout"`
}

// LogConfig toggles diagnostic output.
type LogConfig struct {
	Events bool `yaml:"events"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Session: SessionConfig{
			Seed:   trials.DefaultOptions().Seed,
			Order:  string(trials.OrderShuffled),
			Delays: session.DefaultDelays(),
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8077",
			KeyringService: "bart-task",
			RequestTimeout: 30 * time.Second,
			CORSOrigins:    []string{"http://localhost:*", "http://127.0.0.1:*"},
		},
		Sim: SimConfig{
			Strategy:      "adaptive",
			Participants:  20,
			ThinkTime:     350 * time.Millisecond,
			ScriptTimeout: time.Second,
		},
	}
}

// ResolvePath picks the config file: explicit path, then $BART_CONFIG, then
// DefaultPath if present. The bool is false when no file should be read.
func ResolvePath(explicit string) (string, bool) {
	if p := strings.TrimSpace(explicit); p != "" {
		return p, true
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfig)); env != "" {
		return env, true
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath, true
	}
	return "", false
}

// Load reads the config file (if any) over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if resolved, ok := ResolvePath(path); ok {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", resolved, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse expands ${VAR} references and decodes YAML into cfg, keeping any
// values the document leaves out.
func Parse(data []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvAddr)); v != "" {
		c.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvToken)); v != "" {
		c.Server.Token = v
	}
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	var problems []string

	if _, err := trials.ParseOrder(c.Session.Order); err != nil {
		problems = append(problems, err.Error())
	}
	d := c.Session.Delays
	if d.Appear < 0 || d.Explode < 0 || d.Collect < 0 || d.Settle < 0 {
		problems = append(problems, "session delays must not be negative")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		problems = append(problems, "server.addr is required")
	}
	if c.Server.RequestTimeout < 0 {
		problems = append(problems, "server.request_timeout must not be negative")
	}
	if c.Sim.Participants < 0 {
		problems = append(problems, "sim.participants must not be negative")
	}
	if c.Sim.Workers < 0 {
		problems = append(problems, "sim.workers must not be negative")
	}
	if c.Sim.ThinkTime < 0 || c.Sim.ScriptTimeout < 0 {
		problems = append(problems, "sim timings must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// SequenceOptions converts the session section for trials.Build.
func (c Config) SequenceOptions() trials.Options {
	order, _ := trials.ParseOrder(c.Session.Order)
	return trials.Options{Seed: c.Session.Seed, Order: order}
}
