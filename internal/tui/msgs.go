package tui

import (
	"relay/internal/client"
	"relay/internal/protocol"
	"relay/internal/stream"
	"relay/internal/transport"
)

// Messages delivered into the program from the session side channel
// and the chunk stream.

type ChunkMsg struct{ Chunk stream.Chunk }

type ConnStateMsg struct{ State transport.State }

type SessionDeadMsg struct{ Reason string }

type ProcessingMsg struct{ Active bool }

type StreamingStartedMsg struct{}

type PlanMsg struct{ Steps []protocol.PlanStep }

type ToolLogMsg struct{ Entry protocol.ToolLogData }

type ApprovalMsg struct{ Batch protocol.ApprovalRequiredData }

type ErrorMsg struct{ Message string }

// NoticeMsg carries transient lifecycle text into the transcript.
type NoticeMsg struct{ Text string }

type historyMsg struct {
	items []client.HistoryItem
	err   error
}

type submitDoneMsg struct{ err error }

type approveDoneMsg struct{ err error }
