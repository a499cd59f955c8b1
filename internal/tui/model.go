package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	runewidth "github.com/mattn/go-runewidth"

	"relay/internal/client"
	"relay/internal/protocol"
	"relay/internal/session"
	"relay/internal/transport"
)

const (
	maxToolLogLines = 100
	commandTimeout  = 15 * time.Second
)

var (
	statusStyle   = lipgloss.NewStyle().Faint(true)
	userStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	toolStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	approvalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	planStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

type Model struct {
	mgr       *session.Manager
	api       *client.Client
	sessionID string

	transcript *Transcript
	viewport   viewport.Model
	input      textarea.Model
	spin       spinner.Model

	processing bool
	connState  transport.State
	dead       string
	plan       []protocol.PlanStep
	toolLog    []string
	approval   *protocol.ApprovalRequiredData
	status     string

	historyLines  int
	width, height int
	sized         bool
}

func NewModel(mgr *session.Manager, api *client.Client, sessionID string, historyLines int) Model {
	input := textarea.New()
	input.Placeholder = "Message the agent..."
	input.SetHeight(3)
	input.ShowLineNumbers = false
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return Model{
		mgr:          mgr,
		api:          api,
		sessionID:    sessionID,
		transcript:   NewTranscript(),
		input:        input,
		spin:         spin,
		historyLines: historyLines,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spin.Tick, m.fetchHistory())
}

func (m Model) fetchHistory() tea.Cmd {
	api, sessionID, lines := m.api, m.sessionID, m.historyLines
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		items, err := api.History(ctx, sessionID, lines)
		return historyMsg{items: items, err: err}
	}
}

func (m Model) submit(text string) tea.Cmd {
	mgr := m.mgr
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return submitDoneMsg{err: mgr.Submit(ctx, text)}
	}
}

func (m Model) approve(batch protocol.ApprovalRequiredData, approved bool) tea.Cmd {
	mgr := m.mgr
	return func() tea.Msg {
		decisions := make([]client.ApprovalDecision, 0, len(batch.Tools))
		for _, tool := range batch.Tools {
			decisions = append(decisions, client.ApprovalDecision{
				ToolCallID: tool.CallID,
				Approved:   approved,
			})
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return approveDoneMsg{err: mgr.Approve(ctx, decisions)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.refreshViewport()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.mgr.Close()
			return m, tea.Quit
		case "esc":
			if m.processing {
				m.mgr.Abort(context.Background())
				m.transcript.AppendNotice("interrupted")
				m.processing = false
				m.refreshViewport()
			}
			return m, nil
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.processing || m.approval != nil {
				return m, nil
			}
			m.input.Reset()
			m.transcript.AppendUser(text)
			m.processing = true
			m.refreshViewport()
			return m, m.submit(text)
		case "y", "n":
			if m.approval != nil {
				batch := *m.approval
				m.approval = nil
				approved := msg.String() == "y"
				label := "approved"
				if !approved {
					label = "rejected"
				}
				m.transcript.AppendNotice(fmt.Sprintf("%d tool call(s) %s", len(batch.Tools), label))
				m.refreshViewport()
				return m, m.approve(batch, approved)
			}
		case "ctrl+y":
			if err := clipboard.WriteAll(m.transcript.PlainText()); err != nil {
				m.status = "copy failed"
			} else {
				m.status = "transcript copied"
			}
			return m, nil
		}

	case tea.FocusMsg:
		m.mgr.SetForeground(true)
		if m.connState != transport.StateConnected {
			// the manager closes out any stale mid-turn state itself
			m.processing = false
		}
	case tea.BlurMsg:
		m.mgr.SetForeground(false)

	case ChunkMsg:
		if m.transcript.Apply(msg.Chunk) {
			m.refreshViewport()
		}
	case ConnStateMsg:
		m.connState = msg.State
	case SessionDeadMsg:
		m.dead = msg.Reason
		m.processing = false
		m.transcript.AppendNotice("session dead: " + msg.Reason)
		m.refreshViewport()
	case ProcessingMsg:
		m.processing = msg.Active
	case StreamingStartedMsg:
		// spinner keeps running; nothing extra to do
	case PlanMsg:
		m.plan = msg.Steps
	case ToolLogMsg:
		m.toolLog = append(m.toolLog, msg.Entry.Line)
		if len(m.toolLog) > maxToolLogLines {
			m.toolLog = m.toolLog[len(m.toolLog)-maxToolLogLines:]
		}
	case ApprovalMsg:
		batch := msg.Batch
		m.approval = &batch
	case ErrorMsg:
		m.status = msg.Message
	case NoticeMsg:
		m.transcript.AppendNotice(msg.Text)
		m.refreshViewport()
	case historyMsg:
		if msg.err == nil {
			m.transcript.SeedHistory(msg.items)
			m.refreshViewport()
		}
	case submitDoneMsg:
		if msg.err != nil {
			m.processing = false
			m.status = "send failed: " + msg.err.Error()
		}
	case approveDoneMsg:
		if msg.err != nil {
			// leave state unlocked so the decision can be retried
			m.status = "approval failed: " + msg.err.Error()
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) layout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	inputHeight := 4
	statusHeight := 1
	planHeight := 0
	if len(m.plan) > 0 {
		planHeight = len(m.plan) + 1
	}
	viewHeight := m.height - inputHeight - statusHeight - planHeight
	if viewHeight < 3 {
		viewHeight = 3
	}
	if !m.sized {
		m.viewport = viewport.New(m.width, viewHeight)
		m.sized = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = viewHeight
	}
	m.input.SetWidth(m.width - 2)
}

func (m *Model) refreshViewport() {
	if !m.sized {
		return
	}
	m.viewport.SetContent(m.renderTranscript(m.viewport.Width))
	m.viewport.GotoBottom()
}

func (m *Model) renderTranscript(width int) string {
	var b strings.Builder
	for _, blk := range m.transcript.blocks {
		switch blk.kind {
		case blockUser:
			b.WriteString(userStyle.Render("> " + blk.text))
		case blockAssistant:
			if m.transcript.Streaming() {
				// raw text while deltas are still arriving; markdown
				// re-render lands when the span closes
				b.WriteString(blk.text)
			} else {
				b.WriteString(renderMarkdown(blk.text, width))
			}
		case blockTool:
			line := fmt.Sprintf("⚙ %s [%s]", blk.toolName, toolStatusLabel(blk.status))
			b.WriteString(toolStyle.Render(line))
			if blk.errText != "" {
				b.WriteString("\n" + errorStyle.Render(blk.errText))
			}
		case blockNotice:
			b.WriteString(noticeStyle.Render(blk.text))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func (m Model) View() string {
	if !m.sized {
		return "loading..."
	}
	var b strings.Builder
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if len(m.plan) > 0 {
		b.WriteString(planStyle.Render(renderPlan(m.plan)))
		b.WriteString("\n")
	}
	if m.approval != nil {
		prompt := fmt.Sprintf("approve %d tool call(s)? [y/n]", len(m.approval.Tools))
		b.WriteString(approvalStyle.Render(prompt))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	return b.String()
}

func (m Model) statusLine() string {
	state := m.connState.String()
	if m.dead != "" {
		state = "dead"
	}
	left := fmt.Sprintf("%s • %s", m.sessionID, state)
	if m.processing {
		left = m.spin.View() + " " + left
	}
	if m.status != "" {
		left += " • " + m.status
	}
	return statusStyle.Render(runewidth.Truncate(left, max(m.width-1, 10), "…"))
}

func renderPlan(steps []protocol.PlanStep) string {
	var b strings.Builder
	b.WriteString("plan:")
	for _, step := range steps {
		marker := "·"
		switch step.Status {
		case protocol.PlanStepActive:
			marker = ">"
		case protocol.PlanStepDone:
			marker = "✓"
		}
		b.WriteString(fmt.Sprintf("\n %s %s", marker, step.Text))
	}
	return b.String()
}
