// Package appsscript is a remote that talks to the single JSON endpoint of
// a spreadsheet web app. Every action is a text/plain POST of
// {action, token, ...payload}.
package appsscript

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/ideamans/go-sheetsync"
	"golang.org/x/oauth2"
)

// Client implements sheetsync.Remote over HTTP.
type Client struct {
	url        string
	httpClient *http.Client

	mu     sync.RWMutex
	tokens oauth2.TokenSource
}

// New creates a client for the configured endpoint
func New(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{url: config.URL, httpClient: httpClient}, nil
}

// SetTokenSource sets where the session token comes from. A *sheetsync.Session
// can be passed directly.
func (c *Client) SetTokenSource(ts oauth2.TokenSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = ts
}

func (c *Client) token() string {
	c.mu.RLock()
	ts := c.tokens
	c.mu.RUnlock()
	if ts == nil {
		return ""
	}
	tok, err := ts.Token()
	if err != nil {
		return ""
	}
	return tok.AccessToken
}

// Call implements sheetsync.Remote. Actions other than login need a token;
// without one the call fails with "Not authenticated" and nothing is sent.
func (c *Client) Call(ctx context.Context, action string, payload map[string]any) (*sheetsync.Response, error) {
	body := make(map[string]any, len(payload)+2)
	maps.Copy(body, payload)
	body["action"] = action

	if action != sheetsync.ActionLogin {
		token, _ := body["token"].(string)
		if token == "" {
			token = c.token()
		}
		if token == "" {
			return &sheetsync.Response{Success: false, Message: "Not authenticated"}, nil
		}
		body["token"] = token
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", action, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", action, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%s request failed: status %d", action, resp.StatusCode)
	}
	return decodeResponse(raw)
}

// decodeResponse accepts only a JSON object.
func decodeResponse(raw []byte) (*sheetsync.Response, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, sheetsync.ErrInvalidResponse
	}
	var out sheetsync.Response
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", sheetsync.ErrInvalidResponse, err)
	}
	return &out, nil
}
