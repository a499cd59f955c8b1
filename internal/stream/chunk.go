// Package stream defines the chunk vocabulary a renderer consumes to
// build one assistant turn incrementally, and the per-turn Stream the
// reconciler writes chunks to.
package stream

import "encoding/json"

type ChunkType string

const (
	ChunkStart               ChunkType = "start"
	ChunkStartStep           ChunkType = "start-step"
	ChunkTextStart           ChunkType = "text-start"
	ChunkTextDelta           ChunkType = "text-delta"
	ChunkTextEnd             ChunkType = "text-end"
	ChunkToolInputStart      ChunkType = "tool-input-start"
	ChunkToolInputAvailable  ChunkType = "tool-input-available"
	ChunkToolApprovalRequest ChunkType = "tool-approval-request"
	ChunkToolOutputAvailable ChunkType = "tool-output-available"
	ChunkToolOutputError     ChunkType = "tool-output-error"
	ChunkToolOutputDenied    ChunkType = "tool-output-denied"
	ChunkFinishStep          ChunkType = "finish-step"
	ChunkFinish              ChunkType = "finish"
	ChunkError               ChunkType = "error"
)

// Chunk is one operation in the ordered, append-only sequence that
// describes an assistant turn. Fields beyond Type are populated per
// operation: TextID for text spans, CallID/ToolName/Input/Output for
// tool lifecycle, ApprovalID for approval requests.
type Chunk struct {
	Type         ChunkType       `json:"type"`
	TextID       string          `json:"text_id,omitempty"`
	Text         string          `json:"text,omitempty"`
	CallID       string          `json:"call_id,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       string          `json:"output,omitempty"`
	ApprovalID   string          `json:"approval_id,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	ErrorText    string          `json:"error_text,omitempty"`
}

// Sink receives chunks in emission order. Write runs off the session
// lock, so a slow consumer delays delivery without wedging the
// command path; it should still return promptly.
type Sink interface {
	Write(Chunk)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Chunk)

func (f SinkFunc) Write(c Chunk) { f(c) }
