package protocol

import "encoding/json"

// Generation tags every transcript-class event with the turn counter
// assigned by the backend. Events from an aborted generation are
// discarded by the reconciler.

type ProcessingData struct {
	Generation int `json:"generation"`
}

type AssistantChunkData struct {
	Content    string `json:"content"`
	Generation int    `json:"generation"`
}

type AssistantMessageData struct {
	Content    string `json:"content"`
	Generation int    `json:"generation"`
}

type ToolCallData struct {
	CallID     string          `json:"tool_call_id"`
	Name       string          `json:"tool_name"`
	Input      json.RawMessage `json:"input,omitempty"`
	Generation int             `json:"generation"`
}

type ToolOutputData struct {
	CallID     string `json:"tool_call_id"`
	Name       string `json:"tool_name"`
	Output     string `json:"output,omitempty"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	Generation int    `json:"generation"`
}

type PendingToolCall struct {
	CallID string          `json:"tool_call_id"`
	Name   string          `json:"tool_name"`
	Input  json.RawMessage `json:"input,omitempty"`
}

// ApprovalRequiredData is one batch of tool calls awaiting a single
// combined user decision.
type ApprovalRequiredData struct {
	ApprovalID string            `json:"approval_id"`
	Tools      []PendingToolCall `json:"tools"`
	Generation int               `json:"generation"`
}

type ToolState string

const (
	ToolStateRunning   ToolState = "running"
	ToolStateRejected  ToolState = "rejected"
	ToolStateAbandoned ToolState = "abandoned"
	ToolStateCompleted ToolState = "completed"
)

type ToolStateChangeData struct {
	CallID      string    `json:"tool_call_id"`
	State       ToolState `json:"state"`
	TrackingURL string    `json:"tracking_url,omitempty"`
	Generation  int       `json:"generation"`
}

type PlanStepStatus string

const (
	PlanStepPending PlanStepStatus = "pending"
	PlanStepActive  PlanStepStatus = "active"
	PlanStepDone    PlanStepStatus = "done"
)

type PlanStep struct {
	Text   string         `json:"text"`
	Status PlanStepStatus `json:"status"`
}

type PlanUpdateData struct {
	Steps []PlanStep `json:"steps"`
}

type ToolLogData struct {
	CallID string `json:"tool_call_id,omitempty"`
	Line   string `json:"line"`
}

type TurnCompleteData struct {
	Reason     string `json:"reason,omitempty"`
	Generation int    `json:"generation"`
}

type ErrorData struct {
	Message string `json:"message"`
}

type ReadyData struct {
	SessionID string `json:"session_id,omitempty"`
	Version   string `json:"version,omitempty"`
}
