package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/acedge123/edge-bot/internal/log"
)

const (
	// maxOutputBytes caps captured stdout and stderr.
	maxOutputBytes = 1 << 20

	defaultGracePeriod = 5 * time.Second
)

// CLIConfig configures a CLIClient.
type CLIConfig struct {
	Path    string // openclaw binary
	URL     string // gateway url passed as --url
	Token   string // passed as --token when set
	Timeout time.Duration // bounds history and notify calls, not submit
	// GracePeriod is how long to wait after SIGTERM before SIGKILL.
	GracePeriod time.Duration
}

// CLIClient drives the gateway through the openclaw command line.
type CLIClient struct {
	cfg    CLIConfig
	logger *slog.Logger
}

func NewCLIClient(cfg CLIConfig) *CLIClient {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	return &CLIClient{cfg: cfg, logger: log.WithComponent("gateway-cli")}
}

// Submit is bounded only by ctx; Timeout does not apply to agent turns.
func (c *CLIClient) Submit(ctx context.Context, req SubmitRequest) error {
	_, err := c.call(ctx, "submit", "agent", req, false)
	return err
}

func (c *CLIClient) History(ctx context.Context, sessionKey string, limit int) ([]Message, error) {
	out, err := c.call(ctx, "history", "chat.history", map[string]any{
		"sessionKey": sessionKey,
		"limit":      limit,
	}, true)
	if err != nil {
		return nil, err
	}
	return decodeHistory(out)
}

func (c *CLIClient) Notify(ctx context.Context, text string, mode Mode) error {
	args := []string{"system", "event", "--text", text, "--mode", string(mode)}
	args = append(args, c.connArgs()...)
	_, err := c.run(ctx, "notify", args, true)
	return err
}

// call runs `openclaw gateway call <method> --params <json> --json`.
func (c *CLIClient) call(ctx context.Context, op, method string, params any, bounded bool) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: encode params: %w", op, err)
	}
	args := []string{"gateway", "call", method, "--params", string(raw), "--json"}
	args = append(args, c.connArgs()...)
	return c.run(ctx, op, args, bounded)
}

func (c *CLIClient) connArgs() []string {
	var args []string
	if c.cfg.URL != "" {
		args = append(args, "--url", c.cfg.URL)
	}
	if c.cfg.Token != "" {
		args = append(args, "--token", c.cfg.Token)
	}
	return args
}

// run executes the CLI. When ctx ends (or Timeout elapses, for bounded
// calls) the process gets SIGTERM, then SIGKILL after the grace period.
func (c *CLIClient) run(ctx context.Context, op string, args []string, bounded bool) ([]byte, error) {
	if bounded {
		var cancel context.CancelFunc
		ctx, cancel = withCallTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	logger := c.logger.With("op", op)

	// Not CommandContext: termination is managed below.
	cmd := exec.Command(c.cfg.Path, args...)
	cmd.Env = os.Environ()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = c.cfg.GracePeriod

	logger.Debug("spawning openclaw", "path", c.cfg.Path)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("gateway %s: start %s: %w", op, c.cfg.Path, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		logger.Warn("openclaw call interrupted, sending SIGTERM", "reason", ctx.Err())
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}

		grace := time.NewTimer(c.cfg.GracePeriod)
		defer grace.Stop()
		select {
		case <-waitErr:
		case <-grace.C:
			logger.Warn("openclaw did not exit after SIGTERM, sending SIGKILL")
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
			<-waitErr
		}
		return nil, fmt.Errorf("gateway %s: %w", op, ctx.Err())

	case err := <-waitErr:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				msg := fmt.Sprintf("openclaw exit %d", exitErr.ExitCode())
				if s := bytes.TrimSpace(stderr.Bytes()); len(s) > 0 {
					msg += ": " + tail(string(s), maxBodyBytes)
				}
				return nil, fmt.Errorf("gateway %s: %s", op, msg)
			}
			return nil, fmt.Errorf("gateway %s: wait for process: %w", op, err)
		}
		out := stdout.Bytes()
		if len(out) > maxOutputBytes {
			out = out[:maxOutputBytes]
		}
		return out, nil
	}
}
