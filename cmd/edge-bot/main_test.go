package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acedge123/edge-bot/internal/config"
	"github.com/acedge123/edge-bot/internal/lock"
	"github.com/acedge123/edge-bot/internal/queue"
	"github.com/acedge123/edge-bot/internal/storage"
	"github.com/acedge123/edge-bot/internal/writeback"
)

var workerEnv = []string{
	"SUPABASE_URL", "SUPABASE_ANON_KEY", "SUPABASE_SERVICE_ROLE_KEY", "DATABASE_URL",
	"JOBS_QUEUE_BACKEND", "JOBS_SQLITE_PATH", "OPENCLAW_CLI_PATH", "OPENCLAW_GATEWAY_URL",
	"OPENCLAW_GATEWAY_TOKEN", "OPENCLAW_HOOK_TOKEN", "OPENCLAW_TRANSPORT",
	"JOBS_POLL_INTERVAL_MS", "JOBS_NOTIFY_COOLDOWN_MS", "JOBS_WORKER_ID",
	"LOG_LEVEL", "LOG_FORMAT", "EDGE_BOT_API_LISTEN", "EDGE_BOT_CONFIG",
}

// isolate points HOME and the env file at a temp dir and clears every
// variable the loader reads.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("OPENCLAW_ENV_FILE", filepath.Join(dir, "missing.env"))
	for _, k := range workerEnv {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func sqliteConfig(t *testing.T, dir, gatewayURL string) string {
	t.Helper()
	body := `
worker:
  id: test-worker
  poll_interval: 10ms
  max_backoff: 50ms
  notify_cooldown: 0s
queue:
  backend: sqlite
  sqlite:
    path: ` + filepath.Join(dir, "queue.db") + `
gateway:
  url: ` + gatewayURL + `
  token: gw-secret
session:
  poll_interval: 10ms
  reply_timeout: 5s
  heartbeat:
    first: -1s
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	code, out, _ := run("version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "edge-bot version")
}

func TestConfigCheck(t *testing.T) {
	dir := isolate(t)
	path := sqliteConfig(t, dir, "http://127.0.0.1:1")

	code, out, errOut := run("config", "check", "--config", path)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "# config ok: "+path)
	assert.Contains(t, out, "backend: sqlite")
	assert.NotContains(t, out, "gw-secret")
	assert.Contains(t, out, "***")
}

func TestConfigErrorExitCode(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  backend: redis\n"), 0o600))

	code, _, errOut := run("config", "check", "--config", path)
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, errOut, "queue.backend")
}

func TestConfigLockDetectsEdits(t *testing.T) {
	dir := isolate(t)
	path := sqliteConfig(t, dir, "http://127.0.0.1:1")

	code, out, errOut := run("config", "lock", "--config", path)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, config.ChecksumFile)

	code, _, errOut = run("config", "check", "--config", path)
	require.Equal(t, 0, code, errOut)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("\n# edited\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	code, _, errOut = run("config", "check", "--config", path)
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, errOut, "hash mismatch")
}

func TestJobEnqueueAndShow(t *testing.T) {
	dir := isolate(t)
	path := sqliteConfig(t, dir, "http://127.0.0.1:1")

	code, out, errOut := run("job", "enqueue", "--config", path, `{"text":"hello"}`)
	require.Equal(t, 0, code, errOut)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	code, out, errOut = run("job", "show", "--config", path, id)
	require.Equal(t, 0, code, errOut)
	var rec queue.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, queue.StatusQueued, rec.Status)
	assert.Equal(t, "hello", rec.Payload["text"])

	code, _, errOut = run("job", "show", "--config", path, "missing")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not found")

	code, _, _ = run("job", "enqueue", "--config", path, `not json`)
	assert.Equal(t, 1, code)
}

func TestJobEnqueueUnsupportedOnREST(t *testing.T) {
	isolate(t)
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon")

	code, _, errOut := run("job", "enqueue", `{"text":"hello"}`)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not supported")
}

// fakeGateway answers wake and agent hooks and replies to every submitted
// message in history.
type fakeGateway struct {
	mu      sync.Mutex
	wakes   []string
	replies []map[string]any
}

func (g *fakeGateway) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /hooks/wake", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gw-secret", r.Header.Get("Authorization"))
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		g.mu.Lock()
		g.wakes = append(g.wakes, body["text"])
		g.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /hooks/agent", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, false, body["deliver"])
		g.mu.Lock()
		g.replies = append(g.replies, map[string]any{
			"role":      "assistant",
			"timestamp": time.Now().UnixMilli(),
			"content":   "echo: " + body["message"].(string),
		})
		g.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /sessions/{key}/history", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": g.replies})
	})
	return mux
}

func TestRunWorkerEndToEnd(t *testing.T) {
	dir := isolate(t)
	gw := &fakeGateway{}
	ts := httptest.NewServer(gw.handler(t))
	defer ts.Close()

	path := sqliteConfig(t, dir, ts.URL)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.Queue.SQLite.Path)
	require.NoError(t, err)
	defer db.Close()
	q := queue.NewSQLite(db, "test")

	notifyID, err := q.Enqueue(ctx, map[string]any{"trigger_name": "price-drop"})
	require.NoError(t, err)
	sessionID, err := q.Enqueue(ctx, map[string]any{
		"source":          "edge-chat",
		"user_id":         "u1",
		"conversation_id": "c1",
		"message":         "hi there",
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- runWorker(ctx, cfg, path) }()

	terminal := func(id string) bool {
		rec, err := q.Get(ctx, id)
		return err == nil && rec.Status == queue.StatusDone
	}
	require.Eventually(t, func() bool { return terminal(notifyID) && terminal(sessionID) }, 10*time.Second, 20*time.Millisecond)

	var held *lock.HeldError
	assert.ErrorAs(t, runWorker(context.Background(), cfg, path), &held, "second worker must not start")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	gw.mu.Lock()
	assert.Equal(t, []string{"Trigger: price-drop"}, gw.wakes)
	gw.mu.Unlock()

	entries, err := writeback.NewSQLite(db).List(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, writeback.KindResponse, entries[0].Kind)
	assert.Equal(t, "echo: hi there", entries[0].Text)
	assert.Equal(t, "c1", entries[0].ConversationID)
}
