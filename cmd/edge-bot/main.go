package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/acedge123/edge-bot/internal/api"
	"github.com/acedge123/edge-bot/internal/config"
	"github.com/acedge123/edge-bot/internal/dispatch"
	"github.com/acedge123/edge-bot/internal/events"
	"github.com/acedge123/edge-bot/internal/lock"
	"github.com/acedge123/edge-bot/internal/log"
	"github.com/acedge123/edge-bot/internal/metrics"
	"github.com/acedge123/edge-bot/internal/notify"
	"github.com/acedge123/edge-bot/internal/pgstore"
	"github.com/acedge123/edge-bot/internal/queue"
	"github.com/acedge123/edge-bot/internal/session"
)

var version = "0.1.0"

// exitConfig is the exit status for configuration errors.
const exitConfig = 2

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "edge-bot: %v\n", err)
		var ce *config.ConfigError
		if errors.As(err, &ce) {
			return exitConfig
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "edge-bot",
		Short:         "Job dispatch worker bridging a hosted job queue to an OpenClaw gateway",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	load := func() (*config.Config, string, error) { return loadConfig(configPath) }

	configCmd := &cobra.Command{Use: "config", Short: "Inspect and lock configuration"}
	configCmd.AddCommand(configCheckCmd(load), configLockCmd(&configPath))

	jobCmd := &cobra.Command{Use: "job", Short: "Local queue operations (sqlite and postgres backends)"}
	jobCmd.AddCommand(jobEnqueueCmd(load), jobShowCmd(load))

	root.AddCommand(runCmd(load), migrateCmd(load), configCmd, jobCmd, versionCmd())
	return root
}

type loader func() (*config.Config, string, error)

// loadConfig reads the OpenClaw env file, finds the config file and loads
// it, then configures logging.
func loadConfig(explicit string) (*config.Config, string, error) {
	envFile, err := config.LoadEnvFile()
	if err != nil {
		return nil, "", err
	}
	path := config.Discover(explicit)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	log.Setup(cfg.Log.Level, cfg.Log.Format)
	if envFile != "" {
		log.Debug("loaded env file", "path", envFile)
	}
	return cfg, path, nil
}

func runCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Claim and dispatch jobs until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, cfg, path)
		},
	}
}

func runWorker(ctx context.Context, cfg *config.Config, path string) error {
	logger := log.WithComponent("main")
	logger.Info("edge-bot starting",
		"version", version,
		"config", path,
		"worker_id", cfg.Worker.ID,
		"backend", cfg.Queue.Backend,
		"transport", cfg.Gateway.Transport,
	)

	if cfg.Worker.LockFile != "" {
		inst, err := lock.Acquire(cfg.Worker.LockFile)
		if err != nil {
			return err
		}
		defer func() { _ = inst.Release() }()
	}

	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.Close()

	agent := newAgent(cfg)
	hub := events.NewHub(256)
	m := metrics.New()

	executor := session.NewExecutor(agent, be.Recorder, sessionConfig(cfg), dispatch.SessionHooks(hub, m))
	d := dispatch.New(be.Client, notify.New(agent, cfg.Worker.NotifyTimeout), executor, dispatch.Config{
		PollInterval:   cfg.Worker.PollInterval,
		MaxBackoff:     cfg.Worker.MaxBackoff,
		NotifyCooldown: cfg.Worker.NotifyCooldown,
		SessionSources: cfg.Worker.SessionSources,
	}, dispatch.Options{Events: hub, Metrics: m})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Start(gctx) })
	if cfg.API.Enabled {
		srv := api.New(api.Config{Listen: cfg.API.Listen, Token: cfg.API.Token}, d, hub, m.Handler(), log.WithComponent("api"))
		g.Go(func() error { return srv.Start(gctx) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Info("edge-bot stopped")
		return nil
	}
	return err
}

func sessionConfig(cfg *config.Config) session.Config {
	s := cfg.Session
	return session.Config{
		KeyPrefix:     s.KeyPrefix,
		SubmitTimeout: s.SubmitTimeout,
		PollInterval:  s.PollInterval,
		ReplyTimeout:  s.ReplyTimeout,
		HistoryLimit:  s.HistoryLimit,
		Heartbeat: session.Schedule{
			First:    s.Heartbeat.First,
			Second:   s.Heartbeat.Second,
			Every:    s.Heartbeat.Every,
			Messages: s.Heartbeat.Messages,
		},
	}
}

func migrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the job queue schema to the configured database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			switch cfg.Queue.Backend {
			case config.BackendPostgres:
				v, err := pgstore.Migrate(cfg.Queue.Postgres.URL)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", v)
				return nil
			case config.BackendSQLite:
				be, err := openBackend(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				be.Close()
				fmt.Fprintf(cmd.OutOrStdout(), "sqlite schema ready at %s\n", cfg.Queue.SQLite.Path)
				return nil
			default:
				return fmt.Errorf("migrate: %s backend schema is managed by the hosted project; apply migrations/ with the Supabase CLI", cfg.Queue.Backend)
			}
		},
	}
}

func configCheckCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load and validate configuration, then print it with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := load()
			if err != nil {
				return err
			}
			if path == "" {
				path = "(defaults and environment)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# config ok: %s\n", path)
			out, err := yaml.Marshal(redact(*cfg))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func redact(cfg config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = "***"
		}
	}
	mask(&cfg.Queue.Supabase.AnonKey)
	mask(&cfg.Queue.Supabase.ServiceRoleKey)
	mask(&cfg.Queue.Postgres.URL)
	mask(&cfg.Gateway.Token)
	mask(&cfg.API.Token)
	return cfg
}

func configLockCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Write the .checksums manifest for the config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.Discover(*configPath)
			if path == "" {
				return &config.ConfigError{Err: errors.New("no config file found to lock")}
			}
			out, err := config.Lock(path)
			if err != nil {
				return &config.ConfigError{Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
}

func jobEnqueueCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <payload-json>",
		Short: "Insert a pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload map[string]any
			if err := json.Unmarshal([]byte(args[0]), &payload); err != nil {
				return fmt.Errorf("payload must be a JSON object: %w", err)
			}
			cfg, _, err := load()
			if err != nil {
				return err
			}
			be, err := openBackend(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer be.Close()
			if be.Enqueuer == nil {
				return fmt.Errorf("job enqueue is not supported by the %s backend", cfg.Queue.Backend)
			}
			id, err := be.Enqueuer.Enqueue(cmd.Context(), payload)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func jobShowCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Print a job record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			be, err := openBackend(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer be.Close()
			if be.Getter == nil {
				return fmt.Errorf("job show is not supported by the %s backend", cfg.Queue.Backend)
			}
			rec, err := be.Getter.Get(cmd.Context(), args[0])
			if errors.Is(err, queue.ErrJobNotFound) {
				return fmt.Errorf("job %s not found", args[0])
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "edge-bot version %s\n", version)
		},
	}
}
