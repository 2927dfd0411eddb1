package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// MinPollInterval is the floor for JOBS_POLL_INTERVAL_MS.
const MinPollInterval = 2 * time.Second

// envOverrides are the variables the worker has always honoured. Set values
// win over the YAML file.
type envOverrides struct {
	SupabaseURL            string `env:"SUPABASE_URL"`
	SupabaseAnonKey        string `env:"SUPABASE_ANON_KEY"`
	SupabaseServiceRoleKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`
	DatabaseURL            string `env:"DATABASE_URL"`
	QueueBackend           string `env:"JOBS_QUEUE_BACKEND"`
	SQLitePath             string `env:"JOBS_SQLITE_PATH"`

	CLIPath      string `env:"OPENCLAW_CLI_PATH"`
	GatewayURL   string `env:"OPENCLAW_GATEWAY_URL"`
	GatewayToken string `env:"OPENCLAW_GATEWAY_TOKEN"`
	HookToken    string `env:"OPENCLAW_HOOK_TOKEN"`
	Transport    string `env:"OPENCLAW_TRANSPORT"`

	PollIntervalMS   *int   `env:"JOBS_POLL_INTERVAL_MS"`
	NotifyCooldownMS *int   `env:"JOBS_NOTIFY_COOLDOWN_MS"`
	WorkerID         string `env:"JOBS_WORKER_ID"`

	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT"`
	APIListen string `env:"EDGE_BOT_API_LISTEN"`
}

// EnvFilePath is $OPENCLAW_ENV_FILE or ~/.openclaw/.env.
func EnvFilePath() string {
	if p := os.Getenv("OPENCLAW_ENV_FILE"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".openclaw", ".env")
}

// LoadEnvFile loads the OpenClaw env file without overriding variables that
// are already set. A missing file is not an error. It returns the path read,
// or "" when nothing was loaded.
func LoadEnvFile() (string, error) {
	path := EnvFilePath()
	if path == "" {
		return "", nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", &ConfigError{Err: fmt.Errorf("load env file %s: %w", path, err)}
	}
	return path, nil
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return &ConfigError{Err: fmt.Errorf("environment: %w", err)}
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Queue.Supabase.URL, o.SupabaseURL)
	set(&cfg.Queue.Supabase.AnonKey, o.SupabaseAnonKey)
	set(&cfg.Queue.Supabase.ServiceRoleKey, o.SupabaseServiceRoleKey)
	set(&cfg.Queue.Postgres.URL, o.DatabaseURL)
	set(&cfg.Queue.Backend, o.QueueBackend)
	set(&cfg.Queue.SQLite.Path, o.SQLitePath)

	set(&cfg.Gateway.CLIPath, o.CLIPath)
	set(&cfg.Gateway.URL, o.GatewayURL)
	set(&cfg.Gateway.Transport, o.Transport)
	if o.GatewayToken != "" {
		cfg.Gateway.Token = o.GatewayToken
	} else {
		set(&cfg.Gateway.Token, o.HookToken)
	}

	if o.PollIntervalMS != nil {
		d := time.Duration(*o.PollIntervalMS) * time.Millisecond
		if d < MinPollInterval {
			d = MinPollInterval
		}
		cfg.Worker.PollInterval = d
	}
	if o.NotifyCooldownMS != nil {
		d := time.Duration(*o.NotifyCooldownMS) * time.Millisecond
		if d < 0 {
			d = 0
		}
		cfg.Worker.NotifyCooldown = d
	}
	set(&cfg.Worker.ID, o.WorkerID)

	set(&cfg.Log.Level, o.LogLevel)
	set(&cfg.Log.Format, o.LogFormat)
	if o.APIListen != "" {
		cfg.API.Listen = o.APIListen
		cfg.API.Enabled = true
	}
	return nil
}
