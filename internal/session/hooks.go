// Package session ties the transport, the wire protocol, and the
// chunk stream together: it reconciles the backend's event stream
// into ordered chunk operations for one turn at a time, routes
// everything else to side-channel observers, and carries the
// submit/approve/interrupt command path.
package session

import (
	"sync"

	"relay/internal/protocol"
	"relay/internal/transport"
)

// Hooks is the side-channel callback surface. Every field is
// optional; nil callbacks are skipped. The whole set can be swapped
// at runtime without disturbing the connection.
type Hooks struct {
	OnConnectionState  func(transport.State)
	OnSessionDead      func(reason string)
	OnReady            func(protocol.ReadyData)
	OnShutdown         func()
	OnInterrupted      func()
	OnUndoComplete     func()
	OnCompacted        func()
	OnProcessing       func(active bool)
	OnStreamingStarted func()
	OnPlanUpdate       func(steps []protocol.PlanStep)
	OnToolLog          func(entry protocol.ToolLogData)
	OnToolStarted      func(callID, name string)
	OnToolOutput       func(output protocol.ToolOutputData)
	OnJobStatus        func(callID string, state protocol.ToolState, trackingURL string)
	OnApprovalRequired func(batch protocol.ApprovalRequiredData)
	OnError            func(message string)
}

// dispatcher routes notifications to the current Hooks. Pure
// routing, no business logic. When deliver is set, callbacks run
// through it instead of inline; the manager points it at its delivery
// queue so user code never runs under the session lock.
type dispatcher struct {
	mu      sync.Mutex
	hooks   Hooks
	deliver func(func())
}

func (d *dispatcher) swap(h Hooks) {
	d.mu.Lock()
	d.hooks = h
	d.mu.Unlock()
}

func (d *dispatcher) current() Hooks {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hooks
}

func (d *dispatcher) emit(fn func()) {
	if d.deliver != nil {
		d.deliver(fn)
		return
	}
	fn()
}

func (d *dispatcher) connectionState(s transport.State) {
	if cb := d.current().OnConnectionState; cb != nil {
		d.emit(func() { cb(s) })
	}
}

func (d *dispatcher) sessionDead(reason string) {
	if cb := d.current().OnSessionDead; cb != nil {
		d.emit(func() { cb(reason) })
	}
}

func (d *dispatcher) ready(data protocol.ReadyData) {
	if cb := d.current().OnReady; cb != nil {
		d.emit(func() { cb(data) })
	}
}

func (d *dispatcher) shutdown() {
	if cb := d.current().OnShutdown; cb != nil {
		d.emit(func() { cb() })
	}
}

func (d *dispatcher) interrupted() {
	if cb := d.current().OnInterrupted; cb != nil {
		d.emit(func() { cb() })
	}
}

func (d *dispatcher) undoComplete() {
	if cb := d.current().OnUndoComplete; cb != nil {
		d.emit(func() { cb() })
	}
}

func (d *dispatcher) compacted() {
	if cb := d.current().OnCompacted; cb != nil {
		d.emit(func() { cb() })
	}
}

func (d *dispatcher) processing(active bool) {
	if cb := d.current().OnProcessing; cb != nil {
		d.emit(func() { cb(active) })
	}
}

func (d *dispatcher) streamingStarted() {
	if cb := d.current().OnStreamingStarted; cb != nil {
		d.emit(func() { cb() })
	}
}

func (d *dispatcher) planUpdate(steps []protocol.PlanStep) {
	if cb := d.current().OnPlanUpdate; cb != nil {
		d.emit(func() { cb(steps) })
	}
}

func (d *dispatcher) toolLog(entry protocol.ToolLogData) {
	if cb := d.current().OnToolLog; cb != nil {
		d.emit(func() { cb(entry) })
	}
}

func (d *dispatcher) toolStarted(callID, name string) {
	if cb := d.current().OnToolStarted; cb != nil {
		d.emit(func() { cb(callID, name) })
	}
}

func (d *dispatcher) toolOutput(output protocol.ToolOutputData) {
	if cb := d.current().OnToolOutput; cb != nil {
		d.emit(func() { cb(output) })
	}
}

func (d *dispatcher) jobStatus(callID string, state protocol.ToolState, trackingURL string) {
	if cb := d.current().OnJobStatus; cb != nil {
		d.emit(func() { cb(callID, state, trackingURL) })
	}
}

func (d *dispatcher) approvalRequired(batch protocol.ApprovalRequiredData) {
	if cb := d.current().OnApprovalRequired; cb != nil {
		d.emit(func() { cb(batch) })
	}
}

func (d *dispatcher) errorf(message string) {
	if cb := d.current().OnError; cb != nil {
		d.emit(func() { cb(message) })
	}
}
