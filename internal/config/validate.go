package config

import (
	"errors"
	"strings"
	"time"
)

var errRequired = errors.New("required")

func validate(cfg *Config) error {
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fieldErr("log.level", "must be debug, info, warn or error, got %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fieldErr("log.format", "must be json or text, got %q", cfg.Log.Format)
	}

	q := cfg.Queue
	switch q.Backend {
	case BackendREST:
		if err := required("queue.supabase.url", q.Supabase.URL); err != nil {
			return err
		}
		if q.Supabase.Key() == "" {
			return &ConfigError{Field: "queue.supabase.anon_key", Err: errors.New("anon_key or service_role_key is required")}
		}
		for field, v := range map[string]string{
			"queue.supabase.anon_key":         q.Supabase.AnonKey,
			"queue.supabase.service_role_key": q.Supabase.ServiceRoleKey,
		} {
			if err := resolved(field, v); err != nil {
				return err
			}
		}
	case BackendPostgres:
		if err := required("queue.postgres.url", q.Postgres.URL); err != nil {
			return err
		}
		if q.Postgres.StatementTimeout < 0 {
			return fieldErr("queue.postgres.statement_timeout", "must not be negative")
		}
	case BackendSQLite:
		if err := required("queue.sqlite.path", q.SQLite.Path); err != nil {
			return err
		}
	default:
		return fieldErr("queue.backend", "must be %s, %s or %s, got %q", BackendREST, BackendPostgres, BackendSQLite, q.Backend)
	}

	g := cfg.Gateway
	switch g.Transport {
	case TransportHTTP:
		if err := required("gateway.url", g.URL); err != nil {
			return err
		}
	case TransportCLI:
		if err := required("gateway.cli_path", g.CLIPath); err != nil {
			return err
		}
	default:
		return fieldErr("gateway.transport", "must be %s or %s, got %q", TransportHTTP, TransportCLI, g.Transport)
	}
	if err := resolved("gateway.token", g.Token); err != nil {
		return err
	}

	hb := cfg.Session.Heartbeat
	for field, d := range map[string]time.Duration{
		"session.heartbeat.second": hb.Second,
		"session.heartbeat.every":  hb.Every,
	} {
		if d < 0 {
			return fieldErr(field, "must not be negative")
		}
	}

	if cfg.API.Enabled {
		if err := required("api.listen", cfg.API.Listen); err != nil {
			return err
		}
		if err := resolved("api.token", cfg.API.Token); err != nil {
			return err
		}
	}
	return nil
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return &ConfigError{Field: field, Err: errRequired}
	}
	return resolved(field, v)
}

// resolved rejects values still holding a ${VAR} reference after
// interpolation.
func resolved(field, v string) error {
	if m := envVarPattern.FindStringSubmatch(v); m != nil {
		return fieldErr(field, "environment variable %s is not set", m[1])
	}
	return nil
}
