package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load builds the configuration: defaults, then the YAML file at path (when
// path is non-empty), then environment overrides. The file is checked
// against its .checksums manifest when one exists. Every failure is a
// *ConfigError.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("resolve config path %q: %w", path, err)}
		}
		if err := VerifyChecksums(absPath); err != nil {
			return nil, &ConfigError{Err: err}
		}
		if err := loadFile(absPath, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{Err: fmt.Errorf("read %s: %w", path, err)}
	}

	dec := yaml.NewDecoder(strings.NewReader(interpolateEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return &ConfigError{Err: fmt.Errorf("parse %s: %w", path, err)}
	}
	return nil
}

// interpolateEnv replaces ${VAR} with the variable's value. Unset variables
// are left in place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

// applyConfigDefaults restores defaults for values the file zeroed out.
func applyConfigDefaults(cfg *Config) {
	def := Defaults()

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}

	w := &cfg.Worker
	if w.ID == "" {
		w.ID = def.Worker.ID
	}
	if w.PollInterval <= 0 {
		w.PollInterval = def.Worker.PollInterval
	}
	if w.MaxBackoff <= 0 {
		w.MaxBackoff = def.Worker.MaxBackoff
	}
	if w.MaxBackoff < w.PollInterval {
		w.MaxBackoff = w.PollInterval
	}
	if w.NotifyCooldown < 0 {
		w.NotifyCooldown = 0
	}
	if w.NotifyTimeout <= 0 {
		w.NotifyTimeout = def.Worker.NotifyTimeout
	}
	if len(w.SessionSources) == 0 {
		w.SessionSources = def.Worker.SessionSources
	}

	q := &cfg.Queue
	q.Backend = strings.ToLower(strings.TrimSpace(q.Backend))
	if q.Backend == "" {
		q.Backend = def.Queue.Backend
	}
	if q.WritebackTable == "" {
		q.WritebackTable = def.Queue.WritebackTable
	}
	if q.Supabase.Timeout <= 0 {
		q.Supabase.Timeout = def.Queue.Supabase.Timeout
	}
	if q.Postgres.MaxConns <= 0 {
		q.Postgres.MaxConns = def.Queue.Postgres.MaxConns
	}
	if q.Postgres.ConnectAttempts <= 0 {
		q.Postgres.ConnectAttempts = def.Queue.Postgres.ConnectAttempts
	}

	if w.LockFile == "" && q.Backend == BackendSQLite && q.SQLite.Path != "" {
		w.LockFile = q.SQLite.Path + ".lock"
	}

	g := &cfg.Gateway
	g.Transport = strings.ToLower(strings.TrimSpace(g.Transport))
	if g.Transport == "" {
		g.Transport = def.Gateway.Transport
	}
	if g.CLIPath == "" {
		g.CLIPath = def.Gateway.CLIPath
	}
	if g.Timeout <= 0 {
		g.Timeout = def.Gateway.Timeout
	}
	if g.GracePeriod <= 0 {
		g.GracePeriod = def.Gateway.GracePeriod
	}

	s := &cfg.Session
	if s.KeyPrefix == "" {
		s.KeyPrefix = def.Session.KeyPrefix
	}
	if s.SubmitTimeout <= 0 {
		s.SubmitTimeout = def.Session.SubmitTimeout
	}
	if s.PollInterval <= 0 {
		s.PollInterval = def.Session.PollInterval
	}
	if s.ReplyTimeout <= 0 {
		s.ReplyTimeout = def.Session.ReplyTimeout
	}
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = def.Session.HistoryLimit
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = def.API.Listen
	}
}
