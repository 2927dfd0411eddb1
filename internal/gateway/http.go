package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const maxBodyBytes = 200

// HTTPClient talks to the gateway's HTTP hooks.
type HTTPClient struct {
	base        string
	token       string
	callTimeout time.Duration
	http        *http.Client
}

// NewHTTPClient builds a client for baseURL. A ws:// or wss:// URL (the form
// the CLI takes) is mapped to http:// or https://. callTimeout bounds History
// and Notify; Submit runs under the caller's deadline only, so hc should not
// carry a client-wide Timeout.
func NewHTTPClient(baseURL, token string, callTimeout time.Duration, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{}
	}
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "ws://"):
		base = "http://" + strings.TrimPrefix(base, "ws://")
	case strings.HasPrefix(base, "wss://"):
		base = "https://" + strings.TrimPrefix(base, "wss://")
	}
	return &HTTPClient{base: base, token: token, callTimeout: callTimeout, http: hc}
}

// Submit has no deadline of its own: agent turns can run for minutes and the
// caller sets the submission timeout.
func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) error {
	_, err := c.do(ctx, "submit", http.MethodPost, "/hooks/agent", req)
	return err
}

func (c *HTTPClient) History(ctx context.Context, sessionKey string, limit int) ([]Message, error) {
	ctx, cancel := withCallTimeout(ctx, c.callTimeout)
	defer cancel()

	path := "/sessions/" + url.PathEscape(sessionKey) + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	body, err := c.do(ctx, "history", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeHistory(body)
}

func (c *HTTPClient) Notify(ctx context.Context, text string, mode Mode) error {
	ctx, cancel := withCallTimeout(ctx, c.callTimeout)
	defer cancel()

	_, err := c.do(ctx, "notify", http.MethodPost, "/hooks/wake", map[string]string{
		"text": text,
		"mode": string(mode),
	})
	return err
}

// withCallTimeout applies d when positive.
func withCallTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("gateway %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: build request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("gateway %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: truncate(string(body), maxBodyBytes)}
	}
	return body, nil
}
