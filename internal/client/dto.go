package client

import "encoding/json"

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version,omitempty"`
}

type SubmitRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// ApprovalDecision is one tool call's resolution inside a batch.
// EditedScript carries a user-modified input payload when the tool
// supports editing before approval.
type ApprovalDecision struct {
	ToolCallID   string          `json:"tool_call_id"`
	Approved     bool            `json:"approved"`
	Feedback     string          `json:"feedback,omitempty"`
	EditedScript json.RawMessage `json:"edited_script,omitempty"`
}

type ApproveRequest struct {
	SessionID string             `json:"session_id"`
	Approvals []ApprovalDecision `json:"approvals"`
}

type HistoryItem struct {
	Role string `json:"role"`
	Text string `json:"text"`
	TS   string `json:"ts,omitempty"`
}

type HistoryResponse struct {
	Items []HistoryItem `json:"items"`
}
