package session

import (
	"context"
	"sync"
	"time"

	"relay/internal/client"
	"relay/internal/logging"
	"relay/internal/protocol"
	"relay/internal/stream"
	"relay/internal/transport"
)

// CommandAPI is the outbound command surface; *client.Client
// implements it.
type CommandAPI interface {
	Submit(ctx context.Context, sessionID, text string) error
	Approve(ctx context.Context, sessionID string, decisions []client.ApprovalDecision) error
	Interrupt(ctx context.Context, sessionID string) error
}

type Options struct {
	API    CommandAPI
	Dialer transport.Dialer
	Log    logging.Logger
	Hooks  Hooks

	// NewTurnSink produces the chunk consumer for each turn. A nil
	// factory discards chunks.
	NewTurnSink func() stream.Sink

	Backoff           transport.BackoffPolicy
	SettleDelay       time.Duration
	HeartbeatInterval time.Duration
}

// Manager owns one active session end to end: the persistent
// connection, the reconciler, the side channel, and the command path.
// All event and command handling is serialized behind one mutex. Sink
// and hook deliveries are queued under the lock and run after it is
// released, so a consumer that blocks (a UI event loop mid-update)
// can never wedge the command path.
type Manager struct {
	mu        sync.Mutex
	api       CommandAPI
	conn      *transport.Manager
	rec       *reconciler
	side      *dispatcher
	log       logging.Logger
	sessionID string

	qmu        sync.Mutex
	queue      []func()
	delivering bool
}

func New(opts Options) *Manager {
	log := opts.Log
	if log == nil {
		log = logging.Nop()
	}
	side := &dispatcher{hooks: opts.Hooks}
	m := &Manager{
		api:  opts.API,
		side: side,
		log:  log,
	}
	side.deliver = m.enqueue
	newSink := opts.NewTurnSink
	m.rec = newReconciler(log, side, func() stream.Sink {
		if newSink == nil {
			return nil
		}
		dst := newSink()
		return stream.SinkFunc(func(c stream.Chunk) {
			m.enqueue(func() { dst.Write(c) })
		})
	})
	m.conn = transport.NewManager(transport.Options{
		Dialer:            opts.Dialer,
		Log:               log,
		Backoff:           opts.Backoff,
		SettleDelay:       opts.SettleDelay,
		HeartbeatInterval: opts.HeartbeatInterval,
		OnEvent:           m.handleEvent,
		OnState: func(s transport.State) {
			side.connectionState(s)
			m.flush()
		},
		OnSessionDead: func(reason string) {
			side.sessionDead(reason)
			m.flush()
		},
	})
	return m
}

// enqueue defers one sink or hook delivery until the next flush.
func (m *Manager) enqueue(fn func()) {
	m.qmu.Lock()
	m.queue = append(m.queue, fn)
	m.qmu.Unlock()
}

// flush runs queued deliveries in emission order. A single goroutine
// drains at a time; anything queued while it runs is picked up by the
// active drainer, so order is preserved across goroutines.
func (m *Manager) flush() {
	m.qmu.Lock()
	if m.delivering {
		m.qmu.Unlock()
		return
	}
	m.delivering = true
	for len(m.queue) > 0 {
		batch := m.queue
		m.queue = nil
		m.qmu.Unlock()
		for _, fn := range batch {
			fn()
		}
		m.qmu.Lock()
	}
	m.delivering = false
	m.qmu.Unlock()
}

// SetHooks swaps the side-channel observers without touching the
// connection or any in-flight turn.
func (m *Manager) SetHooks(h Hooks) {
	m.side.swap(h)
}

// Connect switches the manager to sessionID. The old connection is
// torn down before the reconciler is retargeted so a lingering read
// loop cannot land the old session's events in the new transcript.
func (m *Manager) Connect(sessionID string) {
	m.conn.Disconnect()
	m.mu.Lock()
	m.sessionID = sessionID
	m.rec.reset()
	m.mu.Unlock()
	m.flush()
	m.conn.Connect(sessionID)
}

func (m *Manager) Disconnect() {
	m.conn.Disconnect()
}

// Close is terminal teardown for app shutdown or session switch-away.
func (m *Manager) Close() {
	m.conn.Close()
	m.mu.Lock()
	m.rec.reset()
	m.sessionID = ""
	m.mu.Unlock()
	m.flush()
}

func (m *Manager) ConnectionState() transport.State {
	return m.conn.State()
}

// SetForeground reports host visibility. On regaining the foreground
// with the connection down, any stale mid-turn stream is closed out
// before the immediate reconnect attempt.
func (m *Manager) SetForeground(visible bool) {
	if visible && m.conn.State() != transport.StateConnected {
		m.mu.Lock()
		m.rec.recoverStale()
		m.mu.Unlock()
		m.flush()
	}
	m.conn.SetForeground(visible)
}

// Submit starts a new turn. The chunk stream opens before the request
// goes out so events racing the response are never lost; a request
// failure closes the stream with a synthetic error chunk.
func (m *Manager) Submit(ctx context.Context, text string) error {
	m.mu.Lock()
	sessionID := m.sessionID
	m.rec.beginTurn()
	m.mu.Unlock()
	m.flush()

	if err := m.api.Submit(ctx, sessionID, text); err != nil {
		m.log.Error("submit failed", logging.F("session", sessionID), logging.F("err", err))
		m.mu.Lock()
		m.rec.failTurn(err.Error())
		m.mu.Unlock()
		m.flush()
		return err
	}
	return nil
}

// Approve submits every decision of one approval batch as a single
// request. The caller owns any optimistic UI locking.
func (m *Manager) Approve(ctx context.Context, decisions []client.ApprovalDecision) error {
	m.mu.Lock()
	sessionID := m.sessionID
	m.mu.Unlock()
	return m.api.Approve(ctx, sessionID, decisions)
}

// Abort cancels the current turn locally and asks the backend to
// stop. The interrupt request is fire-and-forget: the transcript is
// already closed out and stale events suppressed by the time it is
// sent, so its failure is only logged.
func (m *Manager) Abort(ctx context.Context) {
	m.mu.Lock()
	sessionID := m.sessionID
	m.rec.abort()
	m.mu.Unlock()
	m.flush()

	go func() {
		if err := m.api.Interrupt(ctx, sessionID); err != nil {
			m.log.Warn("interrupt failed", logging.F("session", sessionID), logging.F("err", err))
		}
	}()
}

func (m *Manager) handleEvent(event protocol.Event) {
	m.mu.Lock()
	m.rec.handle(event)
	m.mu.Unlock()
	m.flush()
}
