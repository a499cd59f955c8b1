package session

import (
	"github.com/google/uuid"

	"relay/internal/logging"
	"relay/internal/protocol"
	"relay/internal/stream"
)

// reconciler maps the backend event stream onto chunk operations for
// the active turn. It is not safe for concurrent use; the Manager
// serializes all access.
type reconciler struct {
	log       logging.Logger
	side      *dispatcher
	newSink   func() stream.Sink
	newTextID func() string

	cur               *stream.Stream
	openTextID        string
	generation        int
	abortedGeneration int
	// suppress is set after a local abort: transcript events are
	// discarded until a processing event arrives from a generation
	// beyond the aborted one.
	suppress bool
}

func newReconciler(log logging.Logger, side *dispatcher, newSink func() stream.Sink) *reconciler {
	return &reconciler{
		log:       log,
		side:      side,
		newSink:   newSink,
		newTextID: func() string { return uuid.NewString() },
	}
}

// reset abandons all turn state; used when switching sessions.
func (r *reconciler) reset() {
	r.cur.Close()
	r.cur = nil
	r.openTextID = ""
	r.generation = 0
	r.abortedGeneration = 0
	r.suppress = false
}

// beginTurn opens the chunk stream for a user-submitted turn before
// the submit request goes out, so events racing the response are
// never lost.
func (r *reconciler) beginTurn() {
	if r.cur != nil && !r.cur.Closed() {
		r.finishTurn("stop")
	}
	r.generation++
	r.suppress = false
	r.openStream()
}

// failTurn terminates the current stream after a submit failure so it
// is never left open indefinitely.
func (r *reconciler) failTurn(message string) {
	if r.cur.Closed() {
		return
	}
	r.closeOpenSpan()
	r.cur.Emit(stream.Chunk{Type: stream.ChunkError, ErrorText: message})
	r.cur.Emit(stream.Chunk{Type: stream.ChunkFinishStep})
	r.cur.Emit(stream.Chunk{Type: stream.ChunkFinish, FinishReason: "error"})
	r.cur.Close()
	r.side.processing(false)
}

// abort is the user-initiated local cancellation. The caller fires
// the backend interrupt separately; everything here happens
// synchronously so the UI settles before any backend acknowledgment.
func (r *reconciler) abort() {
	r.abortedGeneration = r.generation
	r.generation++
	r.suppress = true
	if !r.cur.Closed() {
		r.finishTurn("stop")
	} else {
		r.side.processing(false)
	}
}

// recoverStale closes out a turn that was mid-stream when the host
// lost visibility or the connection dropped, so the UI is not stuck
// in a processing state the backend will never finish.
func (r *reconciler) recoverStale() {
	if r.cur.Closed() {
		return
	}
	r.finishTurn("stop")
}

func (r *reconciler) handle(event protocol.Event) {
	switch event.Type {
	case protocol.EventReady:
		var data protocol.ReadyData
		_ = event.DecodeData(&data)
		r.side.ready(data)
	case protocol.EventShutdown:
		r.side.shutdown()
	case protocol.EventInterrupted:
		r.side.interrupted()
	case protocol.EventUndoComplete:
		r.side.undoComplete()
	case protocol.EventCompacted:
		r.side.compacted()
	case protocol.EventPlanUpdate:
		var data protocol.PlanUpdateData
		if err := event.DecodeData(&data); err != nil {
			r.log.Error("bad plan_update payload", logging.F("err", err))
			return
		}
		r.side.planUpdate(data.Steps)
	case protocol.EventToolLog:
		var data protocol.ToolLogData
		if err := event.DecodeData(&data); err != nil {
			r.log.Error("bad tool_log payload", logging.F("err", err))
			return
		}
		r.side.toolLog(data)
	case protocol.EventProcessing:
		r.handleProcessing(event)
	case protocol.EventAssistantChunk:
		r.handleAssistantChunk(event)
	case protocol.EventAssistantStreamEnd:
		if r.suppress {
			return
		}
		r.closeOpenSpan()
	case protocol.EventAssistantMessage:
		r.handleAssistantMessage(event)
	case protocol.EventToolCall:
		r.handleToolCall(event)
	case protocol.EventToolOutput:
		r.handleToolOutput(event)
	case protocol.EventApprovalRequired:
		r.handleApprovalRequired(event)
	case protocol.EventToolStateChange:
		r.handleToolStateChange(event)
	case protocol.EventTurnComplete:
		r.handleTurnComplete(event)
	case protocol.EventError:
		r.handleError(event)
	default:
		r.log.Debug("unhandled event", logging.F("event_type", string(event.Type)))
	}
}

// stale reports whether a transcript-class event from generation gen
// must be discarded. Generation zero means the backend did not tag
// the event; it is trusted unless suppression is active.
func (r *reconciler) stale(gen int) bool {
	if r.suppress {
		return true
	}
	return gen > 0 && gen <= r.abortedGeneration
}

func (r *reconciler) handleProcessing(event protocol.Event) {
	var data protocol.ProcessingData
	_ = event.DecodeData(&data)
	if r.suppress {
		if data.Generation <= r.abortedGeneration {
			r.log.Debug("discarding stale processing",
				logging.F("generation", data.Generation),
				logging.F("aborted", r.abortedGeneration))
			return
		}
		r.suppress = false
	}
	if data.Generation > r.generation {
		r.generation = data.Generation
	}
	r.ensureStream()
	r.side.processing(true)
}

func (r *reconciler) handleAssistantChunk(event protocol.Event) {
	var data protocol.AssistantChunkData
	if err := event.DecodeData(&data); err != nil {
		r.log.Error("bad assistant_chunk payload", logging.F("err", err))
		return
	}
	if r.stale(data.Generation) {
		return
	}
	if r.cur.Closed() {
		r.log.Debug("dropping delta for closed stream", logging.F("generation", data.Generation))
		return
	}
	if r.openTextID == "" {
		r.openTextID = r.newTextID()
		r.cur.Emit(stream.Chunk{Type: stream.ChunkTextStart, TextID: r.openTextID})
		r.side.streamingStarted()
	}
	r.cur.Emit(stream.Chunk{Type: stream.ChunkTextDelta, TextID: r.openTextID, Text: data.Content})
}

func (r *reconciler) handleAssistantMessage(event protocol.Event) {
	var data protocol.AssistantMessageData
	if err := event.DecodeData(&data); err != nil {
		r.log.Error("bad assistant_message payload", logging.F("err", err))
		return
	}
	if r.stale(data.Generation) {
		return
	}
	if r.cur.Closed() {
		return
	}
	r.closeOpenSpan()
	id := r.newTextID()
	r.cur.Emit(stream.Chunk{Type: stream.ChunkTextStart, TextID: id})
	r.cur.Emit(stream.Chunk{Type: stream.ChunkTextDelta, TextID: id, Text: data.Content})
	r.cur.Emit(stream.Chunk{Type: stream.ChunkTextEnd, TextID: id})
}

func (r *reconciler) handleToolCall(event protocol.Event) {
	var data protocol.ToolCallData
	if err := event.DecodeData(&data); err != nil {
		r.log.Error("bad tool_call payload", logging.F("err", err))
		return
	}
	if r.stale(data.Generation) {
		return
	}
	if data.Name == protocol.PlanToolName {
		// plan state reaches observers via plan_update instead
		r.log.Debug("suppressing plan tool call", logging.F("call_id", data.CallID))
		return
	}
	if r.cur.Closed() {
		return
	}
	r.closeOpenSpan()
	r.cur.Emit(stream.Chunk{Type: stream.ChunkToolInputStart, CallID: data.CallID, ToolName: data.Name})
	r.cur.Emit(stream.Chunk{Type: stream.ChunkToolInputAvailable, CallID: data.CallID, ToolName: data.Name, Input: data.Input})
	r.side.toolStarted(data.CallID, data.Name)
}

func (r *reconciler) handleToolOutput(event protocol.Event) {
	var data protocol.ToolOutputData
	if err := event.DecodeData(&data); err != nil {
		r.log.Error("bad tool_output payload", logging.F("err", err))
		return
	}
	if r.stale(data.Generation) {
		return
	}
	if data.Name == protocol.PlanToolName {
		return
	}
	if data.Success {
		r.cur.Emit(stream.Chunk{Type: stream.ChunkToolOutputAvailable, CallID: data.CallID, Output: data.Output})
	} else {
		r.cur.Emit(stream.Chunk{Type: stream.ChunkToolOutputError, CallID: data.CallID, ErrorText: data.Error})
	}
	r.side.toolOutput(data)
}

func (r *reconciler) handleApprovalRequired(event protocol.Event) {
	var data protocol.ApprovalRequiredData
	if err := event.DecodeData(&data); err != nil {
		r.log.Error("bad approval_required payload", logging.F("err", err))
		return
	}
	if r.stale(data.Generation) {
		return
	}
	r.ensureStream()
	r.closeOpenSpan()
	for _, tool := range data.Tools {
		r.cur.Emit(stream.Chunk{Type: stream.ChunkToolInputStart, CallID: tool.CallID, ToolName: tool.Name})
		r.cur.Emit(stream.Chunk{Type: stream.ChunkToolInputAvailable, CallID: tool.CallID, ToolName: tool.Name, Input: tool.Input})
		r.cur.Emit(stream.Chunk{Type: stream.ChunkToolApprovalRequest, CallID: tool.CallID, ApprovalID: data.ApprovalID})
	}
	// processing pauses here; the turn is resolved by an approve call
	r.side.approvalRequired(data)
}

func (r *reconciler) handleToolStateChange(event protocol.Event) {
	var data protocol.ToolStateChangeData
	if err := event.DecodeData(&data); err != nil {
		r.log.Error("bad tool_state_change payload", logging.F("err", err))
		return
	}
	switch data.State {
	case protocol.ToolStateRejected, protocol.ToolStateAbandoned:
		if r.stale(data.Generation) {
			return
		}
		r.cur.Emit(stream.Chunk{Type: stream.ChunkToolOutputDenied, CallID: data.CallID})
	default:
		r.side.jobStatus(data.CallID, data.State, data.TrackingURL)
	}
}

func (r *reconciler) handleTurnComplete(event protocol.Event) {
	var data protocol.TurnCompleteData
	_ = event.DecodeData(&data)
	if r.stale(data.Generation) {
		return
	}
	if r.cur.Closed() {
		return
	}
	reason := data.Reason
	if reason == "" {
		reason = "stop"
	}
	r.finishTurn(reason)
}

func (r *reconciler) handleError(event protocol.Event) {
	var data protocol.ErrorData
	_ = event.DecodeData(&data)
	r.side.errorf(data.Message)
	if !r.cur.Closed() && !r.suppress {
		r.cur.Emit(stream.Chunk{Type: stream.ChunkError, ErrorText: data.Message})
	}
	r.side.processing(false)
}

func (r *reconciler) ensureStream() {
	if r.cur != nil && !r.cur.Closed() {
		return
	}
	r.openStream()
}

func (r *reconciler) openStream() {
	var sink stream.Sink
	if r.newSink != nil {
		sink = r.newSink()
	}
	r.cur = stream.New(sink)
	r.openTextID = ""
	r.cur.Emit(stream.Chunk{Type: stream.ChunkStart})
	r.cur.Emit(stream.Chunk{Type: stream.ChunkStartStep})
}

func (r *reconciler) closeOpenSpan() {
	if r.openTextID == "" {
		return
	}
	r.cur.Emit(stream.Chunk{Type: stream.ChunkTextEnd, TextID: r.openTextID})
	r.openTextID = ""
}

// finishTurn emits the closing chunks exactly once and hands the
// stream off.
func (r *reconciler) finishTurn(reason string) {
	r.closeOpenSpan()
	r.cur.Emit(stream.Chunk{Type: stream.ChunkFinishStep})
	r.cur.Emit(stream.Chunk{Type: stream.ChunkFinish, FinishReason: reason})
	r.cur.Close()
	r.side.processing(false)
}
