package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"relay/internal/protocol"
)

const writeWait = 10 * time.Second

// WSDialer opens the duplex websocket endpoint for a session.
type WSDialer struct {
	BaseURL string
	Token   string
	Dialer  *websocket.Dialer
}

func (d *WSDialer) Dial(ctx context.Context, sessionID string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}
	url := wsURL(d.BaseURL, sessionID)
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsConn{ws: ws}, nil
}

func wsURL(baseURL, sessionID string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/sessions/" + sessionID + "/ws"
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) Read() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, closeErrorFrom(err)
	}
	return data, nil
}

// Ping sends the application-level heartbeat. The backend replies
// with a pong event on the stream; no reply is awaited here.
func (c *wsConn) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, protocol.Ping())
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func closeErrorFrom(err error) *CloseError {
	if closeErr, ok := err.(*websocket.CloseError); ok {
		return &CloseError{Code: closeErr.Code, Reason: closeErr.Text}
	}
	return &CloseError{Code: CloseAbnormal, Reason: err.Error()}
}
