package config

import (
	"time"

	"github.com/google/uuid"
)

// Queue backends.
const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Gateway transports.
const (
	TransportHTTP = "http"
	TransportCLI  = "cli"
)

// Config is the complete edge-bot configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Worker  WorkerConfig  `yaml:"worker"`
	Queue   QueueConfig   `yaml:"queue"`
	Gateway GatewayConfig `yaml:"gateway"`
	Session SessionConfig `yaml:"session"`
	API     APIConfig     `yaml:"api"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WorkerConfig drives the claim loop.
type WorkerConfig struct {
	ID             string        `yaml:"id"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	NotifyCooldown time.Duration `yaml:"notify_cooldown"`
	NotifyTimeout  time.Duration `yaml:"notify_timeout"`
	// SessionSources lists payload sources handled as chat sessions.
	SessionSources []string `yaml:"session_sources"`
	// LockFile is a single-instance pid lock. Defaults to the sqlite path
	// plus ".lock" for the sqlite backend; empty disables it otherwise.
	LockFile string `yaml:"lock_file"`
}

// QueueConfig selects and configures the job store. The write-back table
// lives in the same store.
type QueueConfig struct {
	Backend        string         `yaml:"backend"`
	WritebackTable string         `yaml:"writeback_table"`
	Supabase       SupabaseConfig `yaml:"supabase"`
	Postgres       PostgresConfig `yaml:"postgres"`
	SQLite         SQLiteConfig   `yaml:"sqlite"`
}

type SupabaseConfig struct {
	URL            string        `yaml:"url"`
	AnonKey        string        `yaml:"anon_key"`
	ServiceRoleKey string        `yaml:"service_role_key"`
	Timeout        time.Duration `yaml:"timeout"`
}

// Key is the anon key when set, else the service role key.
func (s SupabaseConfig) Key() string {
	if s.AnonKey != "" {
		return s.AnonKey
	}
	return s.ServiceRoleKey
}

type PostgresConfig struct {
	URL              string        `yaml:"url"`
	MaxConns         int32         `yaml:"max_conns"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	ConnectAttempts  int           `yaml:"connect_attempts"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig describes how to reach OpenClaw.
type GatewayConfig struct {
	Transport   string        `yaml:"transport"`
	URL         string        `yaml:"url"`
	Token       string        `yaml:"token"`
	CLIPath     string        `yaml:"cli_path"`
	Timeout     time.Duration `yaml:"timeout"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

type SessionConfig struct {
	KeyPrefix     string          `yaml:"key_prefix"`
	SubmitTimeout time.Duration   `yaml:"submit_timeout"`
	PollInterval  time.Duration   `yaml:"poll_interval"`
	ReplyTimeout  time.Duration   `yaml:"reply_timeout"`
	HistoryLimit  int             `yaml:"history_limit"`
	Heartbeat     HeartbeatConfig `yaml:"heartbeat"`
}

type HeartbeatConfig struct {
	First    time.Duration `yaml:"first"`
	Second   time.Duration `yaml:"second"`
	Every    time.Duration `yaml:"every"`
	Messages []string      `yaml:"messages"`
}

// APIConfig is the ops server (health, metrics, event stream).
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// Token, when set, guards /events with a bearer token.
	Token string `yaml:"token"`
}

// Defaults returns a Config with every optional value filled in.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Worker: WorkerConfig{
			ID:             "edge-bot-" + uuid.NewString()[:8],
			PollInterval:   4 * time.Second,
			MaxBackoff:     60 * time.Second,
			NotifyCooldown: 5 * time.Second,
			NotifyTimeout:  30 * time.Second,
			SessionSources: []string{"edge-chat"},
		},
		Queue: QueueConfig{
			Backend:        BackendREST,
			WritebackTable: "chat_writebacks",
			Supabase:       SupabaseConfig{Timeout: 30 * time.Second},
			Postgres:       PostgresConfig{MaxConns: 4, StatementTimeout: 15 * time.Second, ConnectAttempts: 5},
			SQLite:         SQLiteConfig{Path: "./data/edge-bot.db"},
		},
		Gateway: GatewayConfig{
			Transport:   TransportHTTP,
			URL:         "ws://127.0.0.1:18789",
			CLIPath:     "openclaw",
			Timeout:     60 * time.Second,
			GracePeriod: 5 * time.Second,
		},
		Session: SessionConfig{
			KeyPrefix:     "edge-chat",
			SubmitTimeout: 5 * time.Minute,
			PollInterval:  750 * time.Millisecond,
			ReplyTimeout:  5 * time.Minute,
			HistoryLimit:  10,
			Heartbeat: HeartbeatConfig{
				First:  20 * time.Second,
				Second: 45 * time.Second,
				Every:  60 * time.Second,
			},
		},
		API: APIConfig{Enabled: false, Listen: "127.0.0.1:9464"},
	}
}
