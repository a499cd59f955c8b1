package transport

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
)

// SSEDialer opens the server-sent-events endpoint for a session. SSE
// is push-only: Ping is a no-op and liveness relies on read EOF.
type SSEDialer struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func (d *SSEDialer) Dial(ctx context.Context, sessionID string) (Conn, error) {
	httpClient := d.HTTP
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	url := fmt.Sprintf("%s/api/sessions/%s/events", strings.TrimRight(d.BaseURL, "/"), sessionID)

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	if d.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.Token)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, sseStatusError(resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseConn{resp: resp, scanner: scanner, cancel: cancel}, nil
}

// sseStatusError maps HTTP refusals onto the websocket close-code
// space so the manager applies one retry policy to both transports.
func sseStatusError(status int) *CloseError {
	code := CloseAbnormal
	switch status {
	case http.StatusUnauthorized:
		code = CloseAuthFailure
	case http.StatusForbidden:
		code = CloseForbidden
	case http.StatusNotFound, http.StatusGone:
		code = CloseSessionNotFound
	}
	return &CloseError{Code: code, Reason: fmt.Sprintf("event stream refused: status %d", status)}
}

type sseConn struct {
	resp    *http.Response
	scanner *bufio.Scanner
	cancel  context.CancelFunc
}

// Read returns the payload of the next SSE frame: the joined data:
// lines, terminated by a blank line.
func (c *sseConn) Read() ([]byte, error) {
	var dataLines []string
	for c.scanner.Scan() {
		line := c.scanner.Text()
		if line == "" {
			if len(dataLines) == 0 {
				continue
			}
			return []byte(strings.Join(dataLines, "\n")), nil
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
		}
	}
	if err := c.scanner.Err(); err != nil {
		return nil, &CloseError{Code: CloseAbnormal, Reason: err.Error()}
	}
	return nil, &CloseError{Code: CloseAbnormal, Reason: "event stream ended"}
}

func (c *sseConn) Ping() error { return nil }

func (c *sseConn) Close() error {
	c.cancel()
	return c.resp.Body.Close()
}
