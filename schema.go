package mcpclient

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// JSONRPCVersion is the JSON-RPC protocol version used by every message.
const JSONRPCVersion = "2.0"

const protocolVersion = "2024-11-05"

const (
	methodInitialize               = "initialize"
	methodNotificationsInitialized = "notifications/initialized"
	methodPing                     = "ping"

	// MethodToolsList is the method name for listing the tools a server exposes.
	MethodToolsList = "tools/list"
	// MethodToolsCall is the method name for invoking a tool on a server.
	MethodToolsCall = "tools/call"
)

const (
	jsonRPCParseErrorCode     = -32700
	jsonRPCInvalidRequestCode = -32600
	jsonRPCMethodNotFoundCode = -32601
	jsonRPCInvalidParamsCode  = -32602
	jsonRPCInternalErrorCode  = -32603
)

// RequestID identifies a request-response pair. IDs are allocated from a monotonic
// counter and marshalled as JSON numbers; servers that echo the ID back as a numeric
// string are tolerated during unmarshalling. Zero means "no ID", which is how
// notifications are distinguished from responses on the wire.
type RequestID int64

// MarshalJSON implements json.Marshaler, always emitting a JSON number.
func (r RequestID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(r), 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler, accepting numbers and numeric strings.
// Any other shape is a protocol violation.
func (r *RequestID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*r = RequestID(int64(v))
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid request ID %q: %w", v, err)
		}
		*r = RequestID(n)
	default:
		return fmt.Errorf("invalid request ID type: %T", v)
	}
	return nil
}

// JSONRPCMessage represents a JSON-RPC 2.0 message exchanged with an MCP server.
// It can represent either a request, response, or notification depending on which
// fields are populated:
//   - Request: JSONRPC, ID, Method, and Params are set
//   - Response: JSONRPC, ID, and either Result or Error are set
//   - Notification: JSONRPC and Method are set (no ID)
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification
	JSONRPC string `json:"jsonrpc"`
	// ID uniquely identifies request-response pairs
	ID RequestID `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON message
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed
	Error *JSONRPCError `json:"error,omitempty"`
}

// IsResponse reports whether the message correlates to an outstanding request.
func (m JSONRPCMessage) IsResponse() bool {
	return m.ID != 0 && m.Method == ""
}

// IsNotification reports whether the message is a server-initiated notification.
func (m JSONRPCMessage) IsNotification() bool {
	return m.ID == 0 && m.Method != ""
}

// JSONRPCError represents an error response in the JSON-RPC 2.0 protocol.
type JSONRPCError struct {
	// Code indicates the error type that occurred.
	Code int `json:"code"`
	// Message provides a short description of the error.
	Message string `json:"message"`
	// Data contains additional information about the error. May be omitted.
	Data map[string]any `json:"data,omitempty"`
}

// Error implements the error interface.
func (j *JSONRPCError) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s, data: %v", j.Code, j.Message, j.Data)
}

// Info identifies a protocol participant by name and version, exchanged during the
// initialization handshake.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities advertises optional client features to the server.
type ClientCapabilities struct {
	Roots    *RootsCapability `json:"roots,omitempty"`
	Sampling *struct{}        `json:"sampling,omitempty"`
}

// RootsCapability describes the client's filesystem-roots support.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ToolsCapability describes the server's tool support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities describes the feature set a server reported during the
// initialization handshake. Only the tool capability is interpreted by this
// package; the rest is retained as raw JSON for callers that care.
type ServerCapabilities struct {
	Tools     *ToolsCapability `json:"tools,omitempty"`
	Logging   json.RawMessage  `json:"logging,omitempty"`
	Prompts   json.RawMessage  `json:"prompts,omitempty"`
	Resources json.RawMessage  `json:"resources,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
}

// InitializeResult is the server's half of the initialization handshake.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
}

// Tool describes a tool a server exposes: its name and the JSON schema of its input.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolList is the result of a tools/list request.
type ToolList struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

type toolsListParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolContent is one piece of a tool invocation result.
type ToolContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ToolResult represents the outcome of a tool invocation. IsError indicates a
// tool-level failure; transport and protocol failures are surfaced as Go errors
// instead.
type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}
