package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"relay/internal/logging"
	"relay/internal/protocol"
)

const (
	defaultSettleDelay = 250 * time.Millisecond
	defaultHeartbeat   = 30 * time.Second
)

// Options configures a Manager. Callbacks are invoked off the
// manager's lock but on internal goroutines; they must return
// quickly and may call back into the Manager.
type Options struct {
	Dialer            Dialer
	Log               logging.Logger
	Backoff           BackoffPolicy
	SettleDelay       time.Duration
	HeartbeatInterval time.Duration

	OnEvent       func(protocol.Event)
	OnState       func(State)
	OnSessionDead func(reason string)
}

// Manager owns the socket lifecycle for one session at a time:
// connect, heartbeat, reconnect with backoff, terminal-failure
// detection, teardown. Switching sessions tears the old connection
// down before dialing the new one.
type Manager struct {
	mu        sync.Mutex
	opts      Options
	sessionID string
	epoch     int
	state     State
	conn      Conn
	timer     *time.Timer
	attempts  int
	dead      bool
	closed    bool
}

func NewManager(opts Options) *Manager {
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}
	if opts.Backoff.MaxAttempts == 0 {
		opts.Backoff = DefaultBackoff()
	}
	if opts.SettleDelay == 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	return &Manager{opts: opts, state: StateDisconnected}
}

// Connect targets a new session. Any existing connection or pending
// reconnect timer is torn down first; the dial happens after a short
// settle delay so a just-created backend session has time to exist.
func (m *Manager) Connect(sessionID string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.sessionID = sessionID
	m.dead = false
	m.attempts = 0
	epoch := m.epoch
	notify := m.setStateLocked(StateConnecting)
	m.timer = time.AfterFunc(m.opts.SettleDelay, func() { m.dial(epoch) })
	m.mu.Unlock()
	notify()
}

// Disconnect closes the active connection and cancels pending
// reconnects. Safe to call at any time, any number of times.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.teardownLocked()
	m.sessionID = ""
	notify := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()
	notify()
}

// Close is terminal: after Close the manager never dials again.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.teardownLocked()
	notify := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()
	notify()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// SetForeground reports host visibility. Regaining the foreground
// while disconnected triggers an immediate reconnect, skipping any
// pending backoff delay.
func (m *Manager) SetForeground(visible bool) {
	m.mu.Lock()
	if !visible || m.closed || m.dead || m.sessionID == "" || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.stopTimerLocked()
	m.epoch++
	epoch := m.epoch
	notify := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	notify()
	go m.dial(epoch)
}

// teardownLocked invalidates every goroutine and timer belonging to
// the current epoch and closes the connection if one is up.
func (m *Manager) teardownLocked() {
	m.epoch++
	m.stopTimerLocked()
	if m.conn != nil {
		conn := m.conn
		m.conn = nil
		go conn.Close()
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// setStateLocked records the transition and returns the notification
// to run once the lock is released.
func (m *Manager) setStateLocked(next State) func() {
	if m.state == next {
		return func() {}
	}
	m.state = next
	cb := m.opts.OnState
	if cb == nil {
		return func() {}
	}
	return func() { cb(next) }
}

func (m *Manager) dial(epoch int) {
	m.mu.Lock()
	if m.epoch != epoch || m.closed {
		m.mu.Unlock()
		return
	}
	sessionID := m.sessionID
	notify := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	notify()

	conn, err := m.opts.Dialer.Dial(context.Background(), sessionID)

	m.mu.Lock()
	if m.epoch != epoch || m.closed {
		m.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.opts.Log.Warn("dial failed", logging.F("session", sessionID), logging.F("err", err))
		m.handleClose(epoch, closeErrorOf(err))
		return
	}
	m.conn = conn
	m.attempts = 0
	notify = m.setStateLocked(StateConnected)
	m.mu.Unlock()
	notify()
	m.opts.Log.Info("connected", logging.F("session", sessionID))

	go m.readLoop(epoch, conn)
	go m.heartbeat(epoch, conn)
}

func (m *Manager) readLoop(epoch int, conn Conn) {
	for {
		raw, err := conn.Read()
		if err != nil {
			m.handleClose(epoch, closeErrorOf(err))
			return
		}
		m.dispatch(epoch, raw)
	}
}

func (m *Manager) dispatch(epoch int, raw []byte) {
	event, err := protocol.Decode(raw)
	switch {
	case errors.Is(err, protocol.ErrUnknownEvent):
		m.opts.Log.Debug("ignoring unknown event", logging.F("event_type", string(event.Type)))
		return
	case err != nil:
		m.opts.Log.Error("dropping malformed event", logging.F("err", err))
		return
	case event.Type == protocol.EventPong:
		return
	}

	m.mu.Lock()
	stale := m.epoch != epoch
	m.mu.Unlock()
	if stale {
		return
	}
	if m.opts.OnEvent != nil {
		m.opts.OnEvent(event)
	}
}

func (m *Manager) heartbeat(epoch int, conn Conn) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		m.mu.Lock()
		stale := m.epoch != epoch
		m.mu.Unlock()
		if stale {
			return
		}
		if err := conn.Ping(); err != nil {
			m.opts.Log.Warn("heartbeat failed", logging.F("err", err))
			return
		}
	}
}

// handleClose applies the retry policy after any closure: retryable
// codes reconnect with backoff until the attempt cap, non-retryable
// codes stop, and session-not-found (or an exhausted cap) reports the
// session dead exactly once.
func (m *Manager) handleClose(epoch int, closeErr *CloseError) {
	m.mu.Lock()
	if m.epoch != epoch || m.closed {
		m.mu.Unlock()
		return
	}
	m.epoch++
	m.stopTimerLocked()
	if m.conn != nil {
		conn := m.conn
		m.conn = nil
		go conn.Close()
	}
	notify := m.setStateLocked(StateDisconnected)
	sessionID := m.sessionID

	var dead string
	var delay time.Duration
	var next int
	switch {
	case !retryable(closeErr.Code):
		if closeErr.Code == CloseSessionNotFound {
			m.dead = true
			dead = "session not found"
		}
	default:
		m.attempts++
		if m.attempts > m.opts.Backoff.MaxAttempts {
			m.dead = true
			dead = "reconnect attempts exhausted"
		} else {
			delay = m.opts.Backoff.Delay(m.attempts)
			next = m.epoch
			m.timer = time.AfterFunc(delay, func() { m.dial(next) })
		}
	}
	deadCb := m.opts.OnSessionDead
	m.mu.Unlock()

	notify()
	m.opts.Log.Info("connection closed",
		logging.F("session", sessionID),
		logging.F("code", closeErr.Code),
		logging.F("reason", closeErr.Reason))
	if dead != "" {
		m.opts.Log.Error("session dead", logging.F("session", sessionID), logging.F("reason", dead))
		if deadCb != nil {
			deadCb(dead)
		}
	} else if delay > 0 {
		m.opts.Log.Info("reconnecting", logging.F("attempt", m.attemptCount()), logging.F("delay", delay))
	}
}

func (m *Manager) attemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func closeErrorOf(err error) *CloseError {
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		return closeErr
	}
	return &CloseError{Code: CloseAbnormal, Reason: err.Error()}
}
