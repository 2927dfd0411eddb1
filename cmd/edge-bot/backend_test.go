package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acedge123/edge-bot/internal/config"
	"github.com/acedge123/edge-bot/internal/gateway"
)

// Submissions run under session.submit_timeout, which is longer than the
// per-call gateway.timeout applied to history and notify.
func TestNewAgentSubmitOutlivesGatewayTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(120 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.Gateway.URL = srv.URL
	cfg.Gateway.Timeout = 60 * time.Millisecond
	cfg.Session.SubmitTimeout = 300 * time.Millisecond

	agent := newAgent(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Session.SubmitTimeout)
	defer cancel()
	require.NoError(t, agent.Submit(ctx, gateway.SubmitRequest{SessionKey: "edge-chat:u1", Message: "hi", IdempotencyKey: "j1"}))

	err := agent.Notify(context.Background(), "ping", gateway.ModeNow)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
