// Package session stores conversation turns keyed by session ID, with
// an idle expiry that is refreshed every time a turn is appended.
package session

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long an idle session is kept before expiring.
const DefaultTTL = time.Hour

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall records a tool invocation made on behalf of a turn.
type ToolCall struct {
	// ID is the provider-assigned call identifier, echoed back on the
	// matching tool-result turn.
	ID        string         `json:"id,omitempty"`
	Server    string         `json:"server"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Turn is a single message in a conversation.
type Turn struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	// ToolCallID links a RoleTool turn back to the call it answers.
	ToolCallID string    `json:"toolCallId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store persists conversation turns. Appending to a session resets its idle
// expiry; reading an expired session returns no turns.
type Store interface {
	// Append adds a turn to the session, creating the session if needed, and
	// refreshes the session's expiry.
	Append(sessionID string, turn Turn) error

	// Turns returns the session's turns in append order. An unknown or expired
	// session yields an empty slice, not an error.
	Turns(sessionID string) ([]Turn, error)

	// Expire removes the session and all of its turns.
	Expire(sessionID string) error

	// Close releases the store's resources.
	Close() error
}

// NewID generates a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}
