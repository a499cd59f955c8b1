package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"relay/internal/client"
	"relay/internal/config"
	"relay/internal/logging"
	"relay/internal/protocol"
	"relay/internal/session"
	"relay/internal/stream"
	"relay/internal/transport"
	"relay/internal/tui"
)

const usageText = `relay is a terminal client for agent sessions.

Usage:
  relay <command> [flags]

Commands:
  chat     attach to a session and chat (default)
  health   check backend availability
  history  print recent transcript lines
  help     show help

Flags:
  -h, --help   show help

Chat flags:
  --session    session id to attach to (required)
  --server     backend base URL (overrides config)
  --token      bearer token (overrides config)
  --transport  stream transport: websocket or sse

Examples:
  relay chat --session 2f1c
  relay history --session 2f1c --lines 100
`

func printUsage() {
	fmt.Fprint(os.Stderr, usageText)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		return
	}

	switch args[0] {
	case "-h", "--help", "help":
		printUsage()
		return
	case "chat":
		exitOnErr("chat", runChat(args[1:]))
	case "health":
		exitOnErr("health", runHealth(args[1:]))
	case "history":
		exitOnErr("history", runHistory(args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

type commonFlags struct {
	server    string
	token     string
	transport string
}

func (f *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.server, "server", "", "backend base URL (overrides config)")
	fs.StringVar(&f.token, "token", "", "bearer token (overrides config)")
	fs.StringVar(&f.transport, "transport", "", "stream transport: websocket or sse")
}

func loadConfig(flags commonFlags) (config.Config, error) {
	path, err := config.Path()
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if flags.server != "" {
		cfg.Server.BaseURL = flags.server
	}
	if flags.token != "" {
		cfg.Server.Token = flags.token
	}
	if flags.transport != "" {
		cfg.Transport.Kind = flags.transport
	}
	return cfg, nil
}

func openLog(cfg config.Config) (logging.Logger, func(), error) {
	path := cfg.Logging.Path
	if path == "" {
		dir, err := config.DataDir()
		if err != nil {
			return nil, nil, err
		}
		path = filepath.Join(dir, "relay.log")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	log := logging.New(file, logging.ParseLevel(cfg.Logging.Level))
	return log, func() { _ = file.Close() }, nil
}

func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var flags commonFlags
	flags.register(fs)
	sessionID := fs.String("session", "", "session id to attach to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" {
		return fmt.Errorf("--session is required")
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	log, closeLog, err := openLog(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	token := cfg.ResolveToken()
	api := client.New(cfg.Server.BaseURL, token)

	var dialer transport.Dialer
	switch cfg.Transport.Kind {
	case "sse":
		dialer = &transport.SSEDialer{BaseURL: cfg.Server.BaseURL, Token: token}
	default:
		dialer = &transport.WSDialer{BaseURL: cfg.Server.BaseURL, Token: token}
	}

	backoff := transport.DefaultBackoff()
	if cfg.Transport.ReconnectAttempts > 0 {
		backoff.MaxAttempts = cfg.Transport.ReconnectAttempts
	}
	if cfg.Transport.ReconnectMaxDelaySeconds > 0 {
		backoff.Max = time.Duration(cfg.Transport.ReconnectMaxDelaySeconds) * time.Second
	}

	// program.Send blocks while Update runs, so deliveries go through
	// a buffered channel drained by a dedicated goroutine. Commands
	// issued from inside Update never wait on the UI loop.
	msgs := make(chan tea.Msg, 256)
	send := func(msg tea.Msg) { msgs <- msg }

	mgr := session.New(session.Options{
		API:     api,
		Dialer:  dialer,
		Log:     log,
		Backoff: backoff,
		NewTurnSink: func() stream.Sink {
			return stream.SinkFunc(func(c stream.Chunk) {
				send(tui.ChunkMsg{Chunk: c})
			})
		},
	})

	model := tui.NewModel(mgr, api, *sessionID, cfg.UI.HistoryLines)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithReportFocus())
	go func() {
		for msg := range msgs {
			program.Send(msg)
		}
	}()

	mgr.SetHooks(session.Hooks{
		OnConnectionState: func(state transport.State) {
			send(tui.ConnStateMsg{State: state})
		},
		OnSessionDead: func(reason string) {
			send(tui.SessionDeadMsg{Reason: reason})
		},
		OnReady: func(data protocol.ReadyData) {
			send(tui.NoticeMsg{Text: "agent ready"})
		},
		OnShutdown: func() {
			send(tui.NoticeMsg{Text: "agent shut down"})
		},
		OnInterrupted: func() {
			send(tui.NoticeMsg{Text: "turn interrupted"})
		},
		OnUndoComplete: func() {
			send(tui.NoticeMsg{Text: "undo complete"})
		},
		OnCompacted: func() {
			send(tui.NoticeMsg{Text: "context compacted"})
		},
		OnProcessing: func(active bool) {
			send(tui.ProcessingMsg{Active: active})
		},
		OnStreamingStarted: func() {
			send(tui.StreamingStartedMsg{})
		},
		OnPlanUpdate: func(steps []protocol.PlanStep) {
			send(tui.PlanMsg{Steps: steps})
		},
		OnToolLog: func(entry protocol.ToolLogData) {
			send(tui.ToolLogMsg{Entry: entry})
		},
		OnJobStatus: func(callID string, state protocol.ToolState, trackingURL string) {
			text := fmt.Sprintf("background job %s: %s", callID, state)
			if trackingURL != "" {
				text += " (" + trackingURL + ")"
			}
			send(tui.NoticeMsg{Text: text})
		},
		OnApprovalRequired: func(batch protocol.ApprovalRequiredData) {
			send(tui.ApprovalMsg{Batch: batch})
		},
		OnError: func(message string) {
			send(tui.ErrorMsg{Message: message})
		},
	})

	mgr.Connect(*sessionID)
	defer mgr.Close()

	log.Info("chat started", logging.F("session", *sessionID), logging.F("transport", cfg.Transport.Kind))
	_, err = program.Run()
	return err
}

func runHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var flags commonFlags
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	api := client.New(cfg.Server.BaseURL, cfg.ResolveToken())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := api.Health(ctx)
	if err != nil {
		return err
	}
	status := "down"
	if resp.OK {
		status = "ok"
	}
	fmt.Printf("%s version=%s\n", status, resp.Version)
	return nil
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var flags commonFlags
	flags.register(fs)
	sessionID := fs.String("session", "", "session id")
	lines := fs.Int("lines", 200, "number of transcript lines")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" {
		return fmt.Errorf("--session is required")
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	api := client.New(cfg.Server.BaseURL, cfg.ResolveToken())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	items, err := api.History(ctx, *sessionID, *lines)
	if err != nil {
		return err
	}
	for _, item := range items {
		fmt.Printf("[%s] %s\n", item.Role, item.Text)
	}
	return nil
}

func exitOnErr(label string, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s error: %v\n", label, err)
	os.Exit(1)
}
