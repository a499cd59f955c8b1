// Package protocol defines the wire protocol spoken by the agent
// backend: a JSON event envelope pushed over a per-session stream,
// and the typed payloads carried inside it.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

type EventType string

const (
	EventReady              EventType = "ready"
	EventShutdown           EventType = "shutdown"
	EventInterrupted        EventType = "interrupted"
	EventUndoComplete       EventType = "undo_complete"
	EventCompacted          EventType = "compacted"
	EventPlanUpdate         EventType = "plan_update"
	EventToolLog            EventType = "tool_log"
	EventProcessing         EventType = "processing"
	EventAssistantChunk     EventType = "assistant_chunk"
	EventAssistantStreamEnd EventType = "assistant_stream_end"
	EventAssistantMessage   EventType = "assistant_message"
	EventToolCall           EventType = "tool_call"
	EventToolOutput         EventType = "tool_output"
	EventApprovalRequired   EventType = "approval_required"
	EventToolStateChange    EventType = "tool_state_change"
	EventTurnComplete       EventType = "turn_complete"
	EventError              EventType = "error"
	EventPong               EventType = "pong"
)

// PlanToolName is the backend's internal planning tool. Its calls and
// outputs never reach the transcript; plan state travels on the side
// channel instead.
const PlanToolName = "update_plan"

var knownEvents = map[EventType]struct{}{
	EventReady:              {},
	EventShutdown:           {},
	EventInterrupted:        {},
	EventUndoComplete:       {},
	EventCompacted:          {},
	EventPlanUpdate:         {},
	EventToolLog:            {},
	EventProcessing:         {},
	EventAssistantChunk:     {},
	EventAssistantStreamEnd: {},
	EventAssistantMessage:   {},
	EventToolCall:           {},
	EventToolOutput:         {},
	EventApprovalRequired:   {},
	EventToolStateChange:    {},
	EventTurnComplete:       {},
	EventError:              {},
	EventPong:               {},
}

// ErrUnknownEvent marks a well-formed envelope whose event_type is not
// part of the documented set. Callers log and skip these so newer
// backends stay compatible with older clients.
var ErrUnknownEvent = errors.New("unknown event type")

type Event struct {
	Type EventType       `json:"event_type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode parses one wire message. A parse failure or a missing
// event_type is a hard error; an unrecognized event_type returns the
// envelope alongside ErrUnknownEvent.
func Decode(raw []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if event.Type == "" {
		return Event{}, errors.New("decode event: missing event_type")
	}
	if _, ok := knownEvents[event.Type]; !ok {
		return event, fmt.Errorf("%w: %q", ErrUnknownEvent, event.Type)
	}
	return event, nil
}

// DecodeData unmarshals the envelope payload into out. An absent
// payload leaves out at its zero value.
func (e Event) DecodeData(out any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", e.Type, err)
	}
	return nil
}

// Ping is the heartbeat frame sent over the websocket transport. The
// backend answers with a pong event, which the decoder's callers
// discard.
func Ping() []byte {
	return []byte(`{"event_type":"ping"}`)
}
