// Package agent runs a conversation loop: it feeds session history and the
// available tools to a model, dispatches the tool calls the model requests to
// the owning MCP server, and repeats until the model produces a final answer.
package agent

import (
	"context"
	"fmt"

	mcpclient "github.com/MegaGrindStone/go-mcp-client"
	"github.com/MegaGrindStone/go-mcp-client/session"
)

// ServerTool is a tool together with the server that owns it. Tools from
// different servers can share a name, so references are always qualified.
type ServerTool struct {
	Server string
	Tool   mcpclient.Tool
}

// Key returns the server-qualified tool name, "server:name".
func (s ServerTool) Key() string {
	return fmt.Sprintf("%s:%s", s.Server, s.Tool.Name)
}

// Action is a model's decision for one step of the loop: either a final reply,
// or one or more tool calls to run before asking again.
type Action struct {
	Reply string
	Calls []session.ToolCall
}

// Chooser decides the next action given the conversation so far and the tools
// available across all connected servers.
type Chooser interface {
	ChooseAction(ctx context.Context, history []session.Turn, tools []ServerTool) (Action, error)
}

// ToolCaller dispatches a tool call to the server that owns the tool.
// Manager implements it.
type ToolCaller interface {
	Tools() []ServerTool
	CallTool(ctx context.Context, server, name string, arguments map[string]any) (mcpclient.ToolResult, error)
}
