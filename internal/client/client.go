// Package client is the HTTP command path to the agent backend:
// submit, approve, interrupt, plus the health and history probes. The
// live event stream is not handled here; see internal/transport.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// BaseURL returns the normalized backend base URL the client was
// built with. The transport layer derives stream endpoints from it.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Token() string { return c.token }

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit sends one user message. The reconciler opens the chunk
// stream before calling this so events racing the response are kept.
func (c *Client) Submit(ctx context.Context, sessionID, text string) error {
	req := SubmitRequest{SessionID: sessionID, Text: text}
	return c.doJSON(ctx, http.MethodPost, "/api/submit", req, nil)
}

// Approve submits every decision of one approval batch in a single
// request.
func (c *Client) Approve(ctx context.Context, sessionID string, decisions []ApprovalDecision) error {
	if len(decisions) == 0 {
		return errors.New("approve: no decisions")
	}
	req := ApproveRequest{SessionID: sessionID, Approvals: decisions}
	return c.doJSON(ctx, http.MethodPost, "/api/approve", req, nil)
}

// Interrupt asks the backend to stop the current generation. Callers
// treat this as fire-and-forget; the local abort path does not wait
// for it.
func (c *Client) Interrupt(ctx context.Context, sessionID string) error {
	path := "/api/interrupt/" + strings.TrimSpace(sessionID)
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

// History fetches up to lines transcript items for replay. Replay
// items seed the renderer directly and never pass through the
// reconciler.
func (c *Client) History(ctx context.Context, sessionID string, lines int) ([]HistoryItem, error) {
	path := fmt.Sprintf("/api/history/%s?lines=%d", strings.TrimSpace(sessionID), lines)
	var resp HistoryResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
}
