package tui

import (
	"strings"
	"testing"

	"relay/internal/client"
	"relay/internal/stream"
)

func applyAll(t *testing.T, tr *Transcript, chunks ...stream.Chunk) {
	t.Helper()
	for _, c := range chunks {
		tr.Apply(c)
	}
}

func TestTranscriptAssemblesTextSpan(t *testing.T) {
	tr := NewTranscript()
	applyAll(t, tr,
		stream.Chunk{Type: stream.ChunkStart},
		stream.Chunk{Type: stream.ChunkStartStep},
		stream.Chunk{Type: stream.ChunkTextStart, TextID: "t1"},
		stream.Chunk{Type: stream.ChunkTextDelta, TextID: "t1", Text: "Hel"},
		stream.Chunk{Type: stream.ChunkTextDelta, TextID: "t1", Text: "lo"},
		stream.Chunk{Type: stream.ChunkTextEnd, TextID: "t1"},
		stream.Chunk{Type: stream.ChunkFinishStep},
		stream.Chunk{Type: stream.ChunkFinish, FinishReason: "stop"},
	)

	got := tr.PlainText()
	if !strings.Contains(got, "Hello") {
		t.Fatalf("expected assembled text, got %q", got)
	}
	if tr.Streaming() {
		t.Fatalf("transcript still streaming after finish")
	}
}

func TestTranscriptIgnoresDeltaForUnknownSpan(t *testing.T) {
	tr := NewTranscript()
	tr.Apply(stream.Chunk{Type: stream.ChunkTextStart, TextID: "t1"})
	if changed := tr.Apply(stream.Chunk{Type: stream.ChunkTextDelta, TextID: "t9", Text: "x"}); changed {
		t.Fatalf("delta for unknown span changed the transcript")
	}
}

func TestTranscriptToolLifecycle(t *testing.T) {
	tr := NewTranscript()
	applyAll(t, tr,
		stream.Chunk{Type: stream.ChunkToolInputStart, CallID: "c1", ToolName: "bash"},
		stream.Chunk{Type: stream.ChunkToolInputAvailable, CallID: "c1", Input: []byte(`{"cmd":"ls"}`)},
		stream.Chunk{Type: stream.ChunkToolApprovalRequest, CallID: "c1", ApprovalID: "a1"},
	)
	got := tr.PlainText()
	if !strings.Contains(got, "[bash awaiting approval]") {
		t.Fatalf("expected approval status, got %q", got)
	}

	tr.Apply(stream.Chunk{Type: stream.ChunkToolOutputAvailable, CallID: "c1", Output: "file.txt"})
	got = tr.PlainText()
	if !strings.Contains(got, "[bash ok]") || !strings.Contains(got, "file.txt") {
		t.Fatalf("expected tool output, got %q", got)
	}
}

func TestTranscriptToolDenied(t *testing.T) {
	tr := NewTranscript()
	applyAll(t, tr,
		stream.Chunk{Type: stream.ChunkToolInputStart, CallID: "c1", ToolName: "bash"},
		stream.Chunk{Type: stream.ChunkToolOutputDenied, CallID: "c1"},
	)
	if got := tr.PlainText(); !strings.Contains(got, "[bash denied]") {
		t.Fatalf("expected denied status, got %q", got)
	}
}

func TestTranscriptSeedHistory(t *testing.T) {
	tr := NewTranscript()
	tr.SeedHistory([]client.HistoryItem{
		{Role: "user", Text: "hi"},
		{Role: "assistant", Text: "hello"},
	})
	got := tr.PlainText()
	if !strings.Contains(got, "> hi") || !strings.Contains(got, "hello") {
		t.Fatalf("unexpected seeded transcript %q", got)
	}
}

func TestTranscriptErrorChunkBecomesNotice(t *testing.T) {
	tr := NewTranscript()
	tr.Apply(stream.Chunk{Type: stream.ChunkError, ErrorText: "backend overloaded"})
	if got := tr.PlainText(); !strings.Contains(got, "error: backend overloaded") {
		t.Fatalf("expected error notice, got %q", got)
	}
}
