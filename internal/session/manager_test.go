package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"relay/internal/client"
	"relay/internal/protocol"
	"relay/internal/stream"
	"relay/internal/transport"
)

type fakeAPI struct {
	mu         sync.Mutex
	submitErr  error
	approveErr error
	submits    []string
	approvals  [][]client.ApprovalDecision
	interrupts chan string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{interrupts: make(chan string, 4)}
}

func (a *fakeAPI) Submit(ctx context.Context, sessionID, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submits = append(a.submits, text)
	return a.submitErr
}

func (a *fakeAPI) Approve(ctx context.Context, sessionID string, decisions []client.ApprovalDecision) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.approvals = append(a.approvals, decisions)
	return a.approveErr
}

func (a *fakeAPI) Interrupt(ctx context.Context, sessionID string) error {
	a.interrupts <- sessionID
	return nil
}

// neverDialer keeps the transport out of the way for command-path
// tests.
type neverDialer struct{}

func (neverDialer) Dial(ctx context.Context, sessionID string) (transport.Conn, error) {
	return nil, errors.New("unreachable in test")
}

// chanConn feeds raw frames from a channel until closed.
type chanConn struct {
	recv   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newChanConn() *chanConn {
	return &chanConn{recv: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *chanConn) Read() ([]byte, error) {
	select {
	case raw := <-c.recv:
		return raw, nil
	case <-c.closed:
		return nil, &transport.CloseError{Code: transport.CloseNormal, Reason: "closed"}
	}
}

func (c *chanConn) Ping() error { return nil }

func (c *chanConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type chanDialer struct {
	mu    sync.Mutex
	conns []*chanConn
}

func (d *chanDialer) Dial(ctx context.Context, sessionID string) (transport.Conn, error) {
	conn := newChanConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *chanDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(api CommandAPI, chunks *[]stream.Chunk) *Manager {
	return New(Options{
		API:         api,
		Dialer:      neverDialer{},
		SettleDelay: time.Hour,
		Backoff:     transport.BackoffPolicy{Initial: time.Hour, Max: time.Hour, MaxAttempts: 1},
		NewTurnSink: func() stream.Sink {
			return stream.SinkFunc(func(c stream.Chunk) { *chunks = append(*chunks, c) })
		},
	})
}

func TestSubmitFailureClosesStreamWithError(t *testing.T) {
	api := newFakeAPI()
	api.submitErr = errors.New("backend unreachable")
	var chunks []stream.Chunk
	m := newTestManager(api, &chunks)
	defer m.Close()
	m.Connect("sess")

	if err := m.Submit(context.Background(), "hello"); err == nil {
		t.Fatal("expected submit error")
	}

	want := []stream.ChunkType{
		stream.ChunkStart, stream.ChunkStartStep,
		stream.ChunkError, stream.ChunkFinishStep, stream.ChunkFinish,
	}
	if len(chunks) != len(want) {
		t.Fatalf("chunks = %+v, want types %v", chunks, want)
	}
	for i, typ := range want {
		if chunks[i].Type != typ {
			t.Fatalf("chunk %d = %s, want %s", i, chunks[i].Type, typ)
		}
	}
	if chunks[2].ErrorText == "" {
		t.Fatal("error chunk carries no message")
	}
	if chunks[4].FinishReason != "error" {
		t.Fatalf("finish reason = %q, want error", chunks[4].FinishReason)
	}
}

func TestSubmitOpensStreamBeforeRequest(t *testing.T) {
	api := newFakeAPI()
	var chunks []stream.Chunk
	m := newTestManager(api, &chunks)
	defer m.Close()
	m.Connect("sess")

	if err := m.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// start chunks are already down; a fast-arriving delta lands in
	// the open stream instead of being lost
	m.handleEvent(protocol.Event{Type: protocol.EventAssistantChunk,
		Data: []byte(`{"content":"fast","generation":1}`)})
	if len(chunks) < 4 || chunks[len(chunks)-1].Text != "fast" {
		t.Fatalf("racing delta lost: %+v", chunks)
	}
}

func TestApproveSubmitsSingleBatch(t *testing.T) {
	api := newFakeAPI()
	var chunks []stream.Chunk
	m := newTestManager(api, &chunks)
	defer m.Close()
	m.Connect("sess")

	decisions := []client.ApprovalDecision{
		{ToolCallID: "c1", Approved: true},
		{ToolCallID: "c2", Approved: true},
	}
	if err := m.Approve(context.Background(), decisions); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.approvals) != 1 {
		t.Fatalf("approve called %d times, want 1", len(api.approvals))
	}
	if len(api.approvals[0]) != 2 {
		t.Fatalf("batch size = %d, want 2", len(api.approvals[0]))
	}
}

func TestAbortFiresInterruptAndClosesLocally(t *testing.T) {
	api := newFakeAPI()
	var chunks []stream.Chunk
	m := newTestManager(api, &chunks)
	defer m.Close()
	m.Connect("sess")

	if err := m.Submit(context.Background(), "do something"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	m.handleEvent(protocol.Event{Type: protocol.EventAssistantChunk,
		Data: []byte(`{"content":"Hel","generation":1}`)})

	m.Abort(context.Background())

	// local closing chunks are already emitted before the backend
	// ever acknowledges
	last := chunks[len(chunks)-1]
	if last.Type != stream.ChunkFinish || last.FinishReason != "stop" {
		t.Fatalf("turn not closed locally: %+v", last)
	}

	select {
	case sessionID := <-api.interrupts:
		if sessionID != "sess" {
			t.Fatalf("interrupt for %q, want sess", sessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("interrupt request never sent")
	}

	before := len(chunks)
	m.handleEvent(protocol.Event{Type: protocol.EventAssistantChunk,
		Data: []byte(`{"content":"lo","generation":1}`)})
	if len(chunks) != before {
		t.Fatalf("stale delta mutated transcript after abort")
	}
}

func TestAbortNotBlockedByStalledConsumer(t *testing.T) {
	api := newFakeAPI()
	release := make(chan struct{})
	stalled := make(chan struct{})
	var mu sync.Mutex
	var chunks []stream.Chunk
	m := New(Options{
		API:         api,
		Dialer:      neverDialer{},
		SettleDelay: time.Hour,
		Backoff:     transport.BackoffPolicy{Initial: time.Hour, Max: time.Hour, MaxAttempts: 1},
		NewTurnSink: func() stream.Sink {
			return stream.SinkFunc(func(c stream.Chunk) {
				if c.Type == stream.ChunkTextDelta {
					close(stalled)
					<-release
				}
				mu.Lock()
				chunks = append(chunks, c)
				mu.Unlock()
			})
		},
	})
	defer m.Close()
	m.Connect("sess")
	if err := m.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// the consumer stalls mid-delivery, the way a UI event loop does
	// while it is busy inside its own update
	go m.handleEvent(protocol.Event{Type: protocol.EventAssistantChunk,
		Data: []byte(`{"content":"Hel","generation":1}`)})
	<-stalled

	done := make(chan struct{})
	go func() {
		m.Abort(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Abort blocked behind a stalled consumer")
	}

	close(release)
	waitFor(t, "closing chunks", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(chunks) > 0 && chunks[len(chunks)-1].Type == stream.ChunkFinish
	})
	mu.Lock()
	defer mu.Unlock()
	sawDelta := false
	for _, c := range chunks {
		if c.Type == stream.ChunkTextDelta {
			sawDelta = true
		}
		if c.Type == stream.ChunkFinish && !sawDelta {
			t.Fatalf("finish delivered before the stalled delta: %+v", chunks)
		}
	}
}

func TestConnectSwitchDropsOldSessionEvents(t *testing.T) {
	api := newFakeAPI()
	dialer := &chanDialer{}
	var mu sync.Mutex
	var chunks []stream.Chunk
	m := New(Options{
		API:               api,
		Dialer:            dialer,
		SettleDelay:       time.Millisecond,
		HeartbeatInterval: time.Hour,
		Backoff:           transport.BackoffPolicy{Initial: time.Hour, Max: time.Hour, MaxAttempts: 1},
		NewTurnSink: func() stream.Sink {
			return stream.SinkFunc(func(c stream.Chunk) {
				mu.Lock()
				chunks = append(chunks, c)
				mu.Unlock()
			})
		},
	})
	defer m.Close()

	starts := func() int {
		mu.Lock()
		defer mu.Unlock()
		n := 0
		for _, c := range chunks {
			if c.Type == stream.ChunkStart {
				n++
			}
		}
		return n
	}

	m.Connect("old")
	waitFor(t, "first dial", func() bool { return dialer.count() == 1 })
	old := dialer.conns[0]
	old.recv <- []byte(`{"event_type":"processing","data":{"generation":1}}`)
	waitFor(t, "first stream", func() bool { return starts() == 1 })

	m.Connect("new")
	// anything still in flight on the old connection must not reach
	// the retargeted reconciler
	old.recv <- []byte(`{"event_type":"assistant_chunk","data":{"content":"stale","generation":1}}`)

	waitFor(t, "second dial", func() bool { return dialer.count() == 2 })
	dialer.conns[1].recv <- []byte(`{"event_type":"processing","data":{"generation":1}}`)
	waitFor(t, "second stream", func() bool { return starts() == 2 })

	mu.Lock()
	defer mu.Unlock()
	for _, c := range chunks {
		if c.Text == "stale" {
			t.Fatalf("old session's delta landed in the new transcript: %+v", chunks)
		}
	}
}

func TestSetHooksSwapsObserversWithoutReset(t *testing.T) {
	api := newFakeAPI()
	var chunks []stream.Chunk
	m := newTestManager(api, &chunks)
	defer m.Close()
	m.Connect("sess")

	firstSaw, secondSaw := false, false
	m.SetHooks(Hooks{OnProcessing: func(bool) { firstSaw = true }})
	m.handleEvent(protocol.Event{Type: protocol.EventProcessing, Data: []byte(`{"generation":1}`)})

	m.SetHooks(Hooks{OnProcessing: func(bool) { secondSaw = true }})
	m.handleEvent(protocol.Event{Type: protocol.EventTurnComplete, Data: []byte(`{"generation":1}`)})

	if !firstSaw || !secondSaw {
		t.Fatalf("hook swap failed: first=%v second=%v", firstSaw, secondSaw)
	}
	// the in-flight turn survived the swap: it finished normally
	if chunks[len(chunks)-1].Type != stream.ChunkFinish {
		t.Fatalf("turn lost across hook swap: %+v", chunks)
	}
}
