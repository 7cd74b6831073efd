package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mcpclient "github.com/MegaGrindStone/go-mcp-client"
	"github.com/MegaGrindStone/go-mcp-client/session"
)

// DefaultMaxSteps bounds how many chooser rounds a single request may take.
const DefaultMaxSteps = 10

// Agent drives one conversation: user messages and model replies are stored
// in the session, and tool calls requested by the chooser are dispatched to
// the owning server with their results fed back as tool turns.
type Agent struct {
	store    session.Store
	chooser  Chooser
	caller   ToolCaller
	logger   *slog.Logger
	maxSteps int

	sessionID string
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// WithMaxSteps caps chooser rounds per request. Defaults to DefaultMaxSteps.
func WithMaxSteps(n int) Option {
	return func(a *Agent) {
		a.maxSteps = n
	}
}

// WithSessionID resumes an existing session instead of starting a new one.
func WithSessionID(id string) Option {
	return func(a *Agent) {
		a.sessionID = id
	}
}

// New creates an agent over a turn store, a chooser, and a tool dispatcher.
func New(store session.Store, chooser Chooser, caller ToolCaller, options ...Option) *Agent {
	a := &Agent{
		store:    store,
		chooser:  chooser,
		caller:   caller,
		logger:   slog.Default(),
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range options {
		opt(a)
	}
	if a.sessionID == "" {
		a.sessionID = session.NewID()
	}
	return a
}

// SessionID returns the identifier of the conversation this agent appends to.
func (a *Agent) SessionID() string {
	return a.sessionID
}

// NewSession abandons the current conversation and starts a fresh one.
func (a *Agent) NewSession() string {
	a.sessionID = session.NewID()
	return a.sessionID
}

// ProcessRequest appends the user message to the session, then loops: ask the
// chooser for the next action, run any tool calls it requests, and feed the
// results back, until the chooser replies without tool calls or the step cap
// is hit. The final reply is stored as an assistant turn and returned.
func (a *Agent) ProcessRequest(ctx context.Context, userMessage string) (string, error) {
	if err := a.append(session.Turn{Role: session.RoleUser, Content: userMessage}); err != nil {
		return "", err
	}

	for step := 0; step < a.maxSteps; step++ {
		history, err := a.store.Turns(a.sessionID)
		if err != nil {
			return "", fmt.Errorf("load session: %w", err)
		}

		action, err := a.chooser.ChooseAction(ctx, history, a.caller.Tools())
		if err != nil {
			return "", fmt.Errorf("choose action: %w", err)
		}

		if len(action.Calls) == 0 {
			if err := a.append(session.Turn{Role: session.RoleAssistant, Content: action.Reply}); err != nil {
				return "", err
			}
			return action.Reply, nil
		}

		if err := a.append(session.Turn{
			Role:      session.RoleAssistant,
			Content:   action.Reply,
			ToolCalls: action.Calls,
		}); err != nil {
			return "", err
		}

		for _, call := range action.Calls {
			result := a.runTool(ctx, call)
			turn := session.Turn{Role: session.RoleTool, Content: result, ToolCallID: call.ID}
			if err := a.append(turn); err != nil {
				return "", err
			}
		}
	}

	return "", fmt.Errorf("no final answer after %d steps", a.maxSteps)
}

func (a *Agent) runTool(ctx context.Context, call session.ToolCall) string {
	a.logger.Info("Dispatching tool call",
		slog.String("server", call.Server), slog.String("tool", call.Name))

	result, err := a.caller.CallTool(ctx, call.Server, call.Name, call.Arguments)
	if err != nil {
		a.logger.Error("Tool call failed",
			slog.String("server", call.Server),
			slog.String("tool", call.Name),
			slog.String("err", err.Error()))
		return fmt.Sprintf("tool %s:%s failed: %v", call.Server, call.Name, err)
	}

	text := flattenResult(result)
	if result.IsError {
		return fmt.Sprintf("tool %s:%s returned an error: %s", call.Server, call.Name, text)
	}
	return text
}

// flattenResult joins a tool result's text content into one string.
func flattenResult(result mcpclient.ToolResult) string {
	var parts []string
	for _, content := range result.Content {
		switch content.Type {
		case "text":
			parts = append(parts, content.Text)
		default:
			parts = append(parts, fmt.Sprintf("[%s content]", content.Type))
		}
	}
	return strings.Join(parts, "\n")
}

func (a *Agent) append(turn session.Turn) error {
	turn.Timestamp = time.Now()
	if err := a.store.Append(a.sessionID, turn); err != nil {
		return fmt.Errorf("store turn: %w", err)
	}
	return nil
}
