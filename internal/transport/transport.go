package transport

import "context"

// Conn is one established connection to a session's event stream.
// Read blocks for the next raw frame and returns a *CloseError once
// the connection is gone.
type Conn interface {
	Read() ([]byte, error)
	Ping() error
	Close() error
}

// Dialer establishes a Conn for one session. Implementations:
// WSDialer (duplex, heartbeat) and SSEDialer (server push only).
type Dialer interface {
	Dial(ctx context.Context, sessionID string) (Conn, error)
}

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}
