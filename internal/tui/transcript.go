// Package tui is the terminal chat client: a bubbletea program that
// renders the chunk stream incrementally and drives the session
// command path from key input.
package tui

import (
	"fmt"
	"strings"

	"relay/internal/client"
	"relay/internal/stream"
)

type blockKind int

const (
	blockUser blockKind = iota
	blockAssistant
	blockTool
	blockNotice
)

type toolStatus int

const (
	toolRunning toolStatus = iota
	toolAwaitingApproval
	toolSucceeded
	toolFailed
	toolDenied
)

type block struct {
	kind     blockKind
	text     string
	toolName string
	callID   string
	status   toolStatus
	output   string
	errText  string
}

// Transcript assembles chunk operations into renderable blocks. One
// instance lives for the whole TUI session; each turn appends blocks.
type Transcript struct {
	blocks     []block
	openTextID string
	streaming  bool
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

func (t *Transcript) AppendUser(text string) {
	t.blocks = append(t.blocks, block{kind: blockUser, text: text})
}

func (t *Transcript) AppendNotice(text string) {
	t.blocks = append(t.blocks, block{kind: blockNotice, text: text})
}

// SeedHistory loads replayed items fetched over HTTP before the live
// stream attached.
func (t *Transcript) SeedHistory(items []client.HistoryItem) {
	for _, item := range items {
		switch item.Role {
		case "user":
			t.blocks = append(t.blocks, block{kind: blockUser, text: item.Text})
		default:
			t.blocks = append(t.blocks, block{kind: blockAssistant, text: item.Text})
		}
	}
}

// Apply folds one chunk into the transcript and reports whether the
// view changed.
func (t *Transcript) Apply(c stream.Chunk) bool {
	switch c.Type {
	case stream.ChunkStart, stream.ChunkStartStep, stream.ChunkFinishStep:
		return false
	case stream.ChunkTextStart:
		t.openTextID = c.TextID
		t.streaming = true
		t.blocks = append(t.blocks, block{kind: blockAssistant})
		return true
	case stream.ChunkTextDelta:
		if idx := t.lastAssistant(); idx >= 0 && c.TextID == t.openTextID {
			t.blocks[idx].text += c.Text
			return true
		}
		return false
	case stream.ChunkTextEnd:
		if c.TextID == t.openTextID {
			t.openTextID = ""
			t.streaming = false
			return true
		}
		return false
	case stream.ChunkToolInputStart:
		t.blocks = append(t.blocks, block{
			kind:     blockTool,
			toolName: c.ToolName,
			callID:   c.CallID,
			status:   toolRunning,
		})
		return true
	case stream.ChunkToolInputAvailable:
		if idx := t.toolIndex(c.CallID); idx >= 0 && len(c.Input) > 0 {
			t.blocks[idx].text = string(c.Input)
			return true
		}
		return false
	case stream.ChunkToolApprovalRequest:
		if idx := t.toolIndex(c.CallID); idx >= 0 {
			t.blocks[idx].status = toolAwaitingApproval
			return true
		}
		return false
	case stream.ChunkToolOutputAvailable:
		if idx := t.toolIndex(c.CallID); idx >= 0 {
			t.blocks[idx].status = toolSucceeded
			t.blocks[idx].output = c.Output
			return true
		}
		return false
	case stream.ChunkToolOutputError:
		if idx := t.toolIndex(c.CallID); idx >= 0 {
			t.blocks[idx].status = toolFailed
			t.blocks[idx].errText = c.ErrorText
			return true
		}
		return false
	case stream.ChunkToolOutputDenied:
		if idx := t.toolIndex(c.CallID); idx >= 0 {
			t.blocks[idx].status = toolDenied
			return true
		}
		return false
	case stream.ChunkFinish:
		t.streaming = false
		t.openTextID = ""
		return true
	case stream.ChunkError:
		t.blocks = append(t.blocks, block{kind: blockNotice, text: "error: " + c.ErrorText})
		return true
	}
	return false
}

func (t *Transcript) Streaming() bool {
	return t.streaming
}

func (t *Transcript) lastAssistant() int {
	for i := len(t.blocks) - 1; i >= 0; i-- {
		if t.blocks[i].kind == blockAssistant {
			return i
		}
	}
	return -1
}

func (t *Transcript) toolIndex(callID string) int {
	for i := len(t.blocks) - 1; i >= 0; i-- {
		if t.blocks[i].kind == blockTool && t.blocks[i].callID == callID {
			return i
		}
	}
	return -1
}

// PlainText flattens the transcript for clipboard export.
func (t *Transcript) PlainText() string {
	var b strings.Builder
	for _, blk := range t.blocks {
		switch blk.kind {
		case blockUser:
			fmt.Fprintf(&b, "> %s\n", blk.text)
		case blockAssistant:
			b.WriteString(blk.text)
			b.WriteString("\n")
		case blockTool:
			fmt.Fprintf(&b, "[%s %s]\n", blk.toolName, toolStatusLabel(blk.status))
			if blk.output != "" {
				b.WriteString(blk.output)
				b.WriteString("\n")
			}
		case blockNotice:
			fmt.Fprintf(&b, "-- %s --\n", blk.text)
		}
	}
	return b.String()
}

func toolStatusLabel(s toolStatus) string {
	switch s {
	case toolAwaitingApproval:
		return "awaiting approval"
	case toolSucceeded:
		return "ok"
	case toolFailed:
		return "failed"
	case toolDenied:
		return "denied"
	default:
		return "running"
	}
}
