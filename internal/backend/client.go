// Package backend provides an HTTP client for the MAS backend's run API and
// derives the per-run WebSocket URL from its base URL.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Run start statuses the backend reports. Anything capacity-ish means the
// console must not open a socket and should collect a waitlist email instead.
const (
	StartStatusStarted        = "started"
	StartStatusAlreadyRunning = "already_running"
	StartStatusQueued         = "queued"
	StartStatusAlreadyQueued  = "already_queued"
	StartStatusAtCapacity     = "at_capacity"
)

// IsCapacityStatus reports whether a start status is a capacity rejection.
func IsCapacityStatus(status string) bool {
	switch strings.ToLower(status) {
	case StartStatusAtCapacity, "at capacity", StartStatusQueued, StartStatusAlreadyQueued:
		return true
	}
	return false
}

// IsRunningStatus reports whether a start status means the run is live and
// the socket may be opened.
func IsRunningStatus(status string) bool {
	switch strings.ToLower(status) {
	case StartStatusStarted, StartStatusAlreadyRunning:
		return true
	}
	return false
}

// Client is an HTTP client for the MAS backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// beaconClient carries the fire-and-forget cancel during shutdown; its
	// short timeout keeps teardown from hanging.
	beaconClient *http.Client
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		beaconClient: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// StartRunForm is the hypothesis submission that starts a run.
type StartRunForm struct {
	RepoURL     string `json:"repo_url"`
	Hypothesis  string `json:"hypothesis,omitempty"`
	Environment string `json:"environment,omitempty"` // "local" or "testnet"
}

// StartRunResult is the backend's answer to a start request.
type StartRunResult struct {
	Status        string `json:"status"`
	RunID         string `json:"run_id,omitempty"`
	QueuePosition int    `json:"queue_position,omitempty"`
	Message       string `json:"message,omitempty"`
	HTTPStatus    int    `json:"-"`
}

// RunStatusResult is the backend's run status report.
type RunStatusResult struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// UserSession is one stored session in the backend's per-user history.
type UserSession struct {
	RunID     string          `json:"run_id"`
	Name      string          `json:"name,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
	Messages  json.RawMessage `json:"messages,omitempty"`
}

// ErrorResponse is the backend's error body.
type ErrorResponse struct {
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// StartRun calls POST /runs/{runId}. The backend answers 202 with
// status=started, or 200 when the run is already live or queued.
func (c *Client) StartRun(ctx context.Context, runID string, form StartRunForm) (*StartRunResult, error) {
	body, err := json.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("marshal start run form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/runs/"+url.PathEscape(runID), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create start run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, c.errorFrom(resp, "start run")
	}

	var result StartRunResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode start run response: %w", err)
	}
	result.HTTPStatus = resp.StatusCode
	if result.RunID == "" {
		result.RunID = runID
	}
	return &result, nil
}

// RunStatus calls GET /runs/{runId}/status.
func (c *Client) RunStatus(ctx context.Context, runID string) (*RunStatusResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runs/"+url.PathEscape(runID)+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("create status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get run status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFrom(resp, "get run status")
	}

	var result RunStatusResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &result, nil
}

// CancelRun calls DELETE /runs/{runId}/cancel.
func (c *Client) CancelRun(ctx context.Context, runID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/runs/"+url.PathEscape(runID)+"/cancel", nil)
	if err != nil {
		return fmt.Errorf("create cancel request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.errorFrom(resp, "cancel run")
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// CancelBeacon posts a best-effort cancellation on the beacon path. It is the
// shutdown analog of navigator.sendBeacon: short timeout, response ignored.
func (c *Client) CancelBeacon(runID string) error {
	body, _ := json.Marshal(map[string]string{"runId": runID})
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/runs/"+url.PathEscape(runID)+"/cancel", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create beacon request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.beaconClient.Do(req)
	if err != nil {
		return fmt.Errorf("beacon cancel: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("beacon cancel: backend returned %d", resp.StatusCode)
	}
	return nil
}

// SaveWaitlistEmail calls POST /save-waitlist-email.
func (c *Client) SaveWaitlistEmail(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	body, err := json.Marshal(map[string]string{"email": email})
	if err != nil {
		return fmt.Errorf("marshal waitlist email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/save-waitlist-email", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create waitlist request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("save waitlist email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.errorFrom(resp, "save waitlist email")
	}
	return nil
}

// UserSessions calls GET /user/sessions.
func (c *Client) UserSessions(ctx context.Context) ([]UserSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user/sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("create sessions request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFrom(resp, "list user sessions")
	}

	var sessions []UserSession
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("decode sessions response: %w", err)
	}
	return sessions, nil
}

// UserSessionByRunID calls GET /user/sessions/{runId}.
func (c *Client) UserSessionByRunID(ctx context.Context, runID string) (*UserSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user/sessions/"+url.PathEscape(runID), nil)
	if err != nil {
		return nil, fmt.Errorf("create session request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get user session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFrom(resp, "get user session")
	}

	var s UserSession
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	return &s, nil
}

// SocketURL derives the per-run WebSocket URL: scheme swapped to ws/wss,
// /ws/{runId} appended to the base path.
func (c *Client) SocketURL(runID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + runID
	return u.String(), nil
}

func (c *Client) errorFrom(resp *http.Response, op string) error {
	respBody, _ := io.ReadAll(resp.Body)
	var errResp ErrorResponse
	if json.Unmarshal(respBody, &errResp) == nil {
		if errResp.Detail != "" {
			return fmt.Errorf("%s: backend error: %s", op, errResp.Detail)
		}
		if errResp.Error != "" {
			return fmt.Errorf("%s: backend error: %s", op, errResp.Error)
		}
	}
	return fmt.Errorf("%s: backend returned status %d: %s", op, resp.StatusCode, string(respBody))
}
