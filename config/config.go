// Package config loads the typed Config this runtime's CLI and Supervisor
// need from a YAML file, then applies spec.md 6's environment variable
// table on top -- env vars win over the file, matching the pack's
// convention of layering overrides above a base source (alya's original
// config.Config interface abstracted the source itself -- a file or a live
// etcd-backed Rigel client; that pluggable-backend shape doesn't fit here
// since nothing in this system needs a dynamic, watchable config store, so
// this package replaces it with a single typed struct and a fixed
// file-then-env layering, closer to ChuLiYu cli.go's loadConfig -- see
// DESIGN.md).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved configuration for one resqueworker process,
// covering both the ambient stack (Redis connection) and the domain stack
// (queues, process model, pruning, metrics).
type Config struct {
	Redis RedisConfig `yaml:"redis"`

	Queues         []string `yaml:"queues"`
	Background     bool     `yaml:"background"`
	PIDFile        string   `yaml:"pidfile"`
	Verbose        bool     `yaml:"verbose"`
	VVerbose       bool     `yaml:"vverbose"`
	TermTimeout    Seconds  `yaml:"term_timeout"`
	JobsPerFork    int      `yaml:"jobs_per_fork"`
	WorkerCount    int      `yaml:"worker_count"`
	ThreadCount    int      `yaml:"thread_count"`
	ProclinePrefix string   `yaml:"procline_prefix"`

	HeartbeatInterval Seconds `yaml:"heartbeat_interval"`
	PruneInterval     Seconds `yaml:"prune_interval"`
	PruneOnStartup    bool    `yaml:"prune_on_startup"`

	Metrics MetricsConfig `yaml:"metrics"`
}

// RedisConfig addresses the shared data store. spec.md 6's environment
// variable table is silent on transport configuration (it assumes one is
// already connected); added so the CLI has somewhere to point
// redisstore.New at, grounded on the pack's habit of a small nested
// connection-config struct (ChuLiYu cli.go's Config nests Worker/WAL/
// Snapshot/Metrics sections the same way).
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// MetricsConfig controls the optional Prometheus HTTP endpoint (C12).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Seconds unmarshals a YAML float (and, via ApplyEnv, an env var float
// string) into a time.Duration, matching spec.md 6's "float seconds"
// format for RESQUE_TERM_TIMEOUT.
type Seconds time.Duration

// Duration returns s as a time.Duration.
func (s Seconds) Duration() time.Duration { return time.Duration(s) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Seconds) UnmarshalYAML(unmarshal func(any) error) error {
	var f float64
	if err := unmarshal(&f); err != nil {
		return err
	}
	*s = Seconds(time.Duration(f * float64(time.Second)))
	return nil
}

// Default returns the built-in defaults applied before any YAML file or
// environment variable is consulted.
func Default() Config {
	return Config{
		Redis:             RedisConfig{Addr: "127.0.0.1:6379", Namespace: "resque"},
		Queues:            []string{"default"},
		JobsPerFork:       1,
		WorkerCount:       1,
		ThreadCount:       1,
		TermTimeout:       Seconds(30 * time.Second),
		HeartbeatInterval: Seconds(30 * time.Second),
		PruneInterval:     Seconds(60 * time.Second),
	}
}

// Load builds a Config starting from Default, overlaying path (if
// non-empty) as a YAML file, then overlaying spec.md 6's environment
// variables on top of that.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg, os.Environ()); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays spec.md 6's recognized environment variables onto cfg.
// environ is taken as a parameter (rather than read from os.Environ
// directly) so tests can exercise it without mutating process-global
// state.
func ApplyEnv(cfg *Config, environ []string) error {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	if v, ok := firstSet(lookup, "QUEUES", "QUEUE"); ok {
		cfg.Queues = splitAndTrim(v)
	}
	if _, ok := lookup("BACKGROUND"); ok {
		cfg.Background = true
	}
	if v, ok := lookup("PIDFILE"); ok {
		cfg.PIDFile = v
	}
	if _, ok := firstSet(lookup, "LOGGING", "VERBOSE"); ok {
		cfg.Verbose = true
	}
	if _, ok := lookup("VVERBOSE"); ok {
		cfg.VVerbose = true
	}
	if v, ok := lookup("RESQUE_TERM_TIMEOUT"); ok {
		d, err := parseSeconds("RESQUE_TERM_TIMEOUT", v)
		if err != nil {
			return err
		}
		cfg.TermTimeout = d
	}
	if v, ok := lookup("JOBS_PER_FORK"); ok {
		n, err := parsePositiveInt("JOBS_PER_FORK", v)
		if err != nil {
			return err
		}
		cfg.JobsPerFork = n
	}
	if v, ok := lookup("WORKER_COUNT"); ok {
		n, err := parsePositiveInt("WORKER_COUNT", v)
		if err != nil {
			return err
		}
		cfg.WorkerCount = n
	}
	if v, ok := lookup("THREAD_COUNT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: THREAD_COUNT: %w", err)
		}
		cfg.ThreadCount = n
	}
	if v, ok := lookup("RESQUE_PROCLINE_PREFIX"); ok {
		cfg.ProclinePrefix = v
	}
	return nil
}

func firstSet(lookup func(string) (string, bool), keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := lookup(k); ok {
			return v, true
		}
	}
	return "", false
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseSeconds(name, v string) (Seconds, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", name, err)
	}
	return Seconds(time.Duration(f * float64(time.Second))), nil
}

func parsePositiveInt(name, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", name, err)
	}
	if n < 1 {
		n = 1
	}
	return n, nil
}
