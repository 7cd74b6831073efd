package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// NotificationHandler receives server-initiated notifications: messages carrying a
// method but no request ID. It is invoked from the transport's background reader,
// so it must not block.
type NotificationHandler func(method string, params json.RawMessage)

// Client is the per-server facade composing one Transport, the pending-call table,
// and a monotonic request ID generator. It implements the MCP client handshake and
// the tool surface on top of raw JSON-RPC calls.
//
// A Client must be created with NewClient and connected with Connect before use;
// Close releases the transport and fails every outstanding call. Concurrent calls
// are fully independent: responses are matched by ID, never by arrival order, so
// any number of Call invocations may be in flight at once.
type Client struct {
	info         Info
	capabilities ClientCapabilities
	transport    Transport
	logger       *slog.Logger

	callTimeout   time.Duration
	notifications NotificationHandler

	nextID  atomic.Int64
	pending *pendingCalls

	tools      atomic.Pointer[[]Tool]
	serverInfo atomic.Pointer[InitializeResult]

	initialized atomic.Bool
}

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

var defaultCallTimeout = 30 * time.Second

// WithLogger sets the logger for the client. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithCallTimeout sets the per-call timeout. A call that is neither fulfilled nor
// failed within this window resolves with ErrTimeout, regardless of which channel
// its response might eventually arrive on.
func WithCallTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.callTimeout = timeout
	}
}

// WithNotificationHandler registers the callback for server-initiated
// notifications.
func WithNotificationHandler(handler NotificationHandler) ClientOption {
	return func(c *Client) {
		c.notifications = handler
	}
}

// WithCapabilities overrides the capabilities advertised during the handshake.
func WithCapabilities(capabilities ClientCapabilities) ClientOption {
	return func(c *Client) {
		c.capabilities = capabilities
	}
}

// NewClient creates a client over the given transport. The info parameter
// identifies this client to the server during the initialization handshake.
// The client is not connected until Connect is called.
func NewClient(info Info, transport Transport, options ...ClientOption) *Client {
	c := &Client{
		info:      info,
		transport: transport,
	}
	for _, opt := range options {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.callTimeout == 0 {
		c.callTimeout = defaultCallTimeout
	}
	c.pending = newPendingCalls(c.logger)

	return c
}

// Connect starts the transport and performs the initialization handshake: one
// synchronous initialize round trip followed by the initialized notification.
// Failure at any step is fatal; the transport is closed and the client is
// unusable.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Start(ctx, c); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	if err := c.initialize(ctx); err != nil {
		c.Close()
		return fmt.Errorf("failed to initialize client: %w", err)
	}

	return nil
}

func (c *Client) initialize(ctx context.Context) error {
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    c.capabilities,
		ClientInfo:      c.info,
	}

	res, err := c.Call(ctx, methodInitialize, params)
	if err != nil {
		return err
	}

	var result InitializeResult
	if err := json.Unmarshal(res, &result); err != nil {
		return &ProtocolError{Reason: "unmarshal initialize result", Err: err}
	}

	if result.ProtocolVersion != protocolVersion {
		return &ProtocolError{
			Reason: fmt.Sprintf("protocol version mismatch: %s != %s", result.ProtocolVersion, protocolVersion),
		}
	}

	c.serverInfo.Store(&result)
	c.initialized.Store(true)

	return c.Notify(ctx, methodNotificationsInitialized, nil)
}

// Call sends one request and blocks until its response arrives, the per-call
// timeout expires, the context is cancelled, or the transport closes. The
// response is matched strictly by ID; it may arrive on any channel the transport
// operates. A response carrying a JSON-RPC error resolves the call with that
// error.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      RequestID(c.nextID.Add(1)),
		Method:  method,
	}

	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return nil, &ProtocolError{Reason: "marshal params", Err: err}
		}
		msg.Params = paramsBs
	}

	call, err := c.pending.register(msg.ID)
	if err != nil {
		return nil, err
	}

	if err := c.transport.Send(ctx, msg); err != nil {
		c.pending.fail(msg.ID, err)
		<-call.done
		return nil, err
	}

	res, err := c.pending.wait(ctx, call, c.callTimeout)
	if err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, res.Error
	}

	return res.Result, nil
}

// Notify sends a fire-and-forget notification; no pending-call entry is created
// and no response is awaited.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
	}

	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return &ProtocolError{Reason: "marshal params", Err: err}
		}
		msg.Params = paramsBs
	}

	return c.transport.Send(ctx, msg)
}

// Ping performs one protocol-level health check round trip.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, methodPing, nil)
	return err
}

// ListTools fetches the server's full tool list, following pagination, and
// replaces the cached list atomically. Readers of Tools never observe a partially
// updated list.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	cursor := ""
	for {
		res, err := c.Call(ctx, MethodToolsList, toolsListParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}

		var page ToolList
		if err := json.Unmarshal(res, &page); err != nil {
			return nil, &ProtocolError{Reason: "unmarshal tool list", Err: err}
		}

		tools = append(tools, page.Tools...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	c.tools.Store(&tools)
	return tools, nil
}

// Tools returns the cached tool list from the most recent ListTools. The returned
// slice must not be mutated.
func (c *Client) Tools() []Tool {
	tools := c.tools.Load()
	if tools == nil {
		return nil
	}
	return *tools
}

// CallTool invokes a named tool with the given arguments.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (ToolResult, error) {
	res, err := c.Call(ctx, MethodToolsCall, toolsCallParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return ToolResult{}, err
	}

	var result ToolResult
	if err := json.Unmarshal(res, &result); err != nil {
		return ToolResult{}, &ProtocolError{Reason: "unmarshal tool result", Err: err}
	}

	return result, nil
}

// Initialized reports whether the handshake has completed.
func (c *Client) Initialized() bool {
	return c.initialized.Load()
}

// ServerInfo returns the result of the initialization handshake, or nil before
// Connect succeeded.
func (c *Client) ServerInfo() *InitializeResult {
	return c.serverInfo.Load()
}

// Close terminates the client's connection and releases all associated resources.
// Every outstanding call resolves with ErrClosed before Close returns; no waiter
// is left pending. Close is idempotent, and the client cannot be reused.
func (c *Client) Close() {
	c.transport.Close()
}

// HandleMessage implements Handler. It is the single routing point for every
// message the transport decodes, regardless of channel: messages with an ID
// matching an outstanding request fulfill it, server-initiated requests get a
// protocol-level reply, and the rest flow to the notification callback.
func (c *Client) HandleMessage(msg JSONRPCMessage) {
	if msg.JSONRPC != JSONRPCVersion {
		c.logger.Error("dropping message with invalid jsonrpc version", slog.String("version", msg.JSONRPC))
		return
	}

	if msg.ID != 0 && msg.Method == "" {
		c.pending.fulfill(msg.ID, msg)
		return
	}

	if msg.ID != 0 {
		// A server-to-client request. Ping is answered; anything else is reported
		// as unsupported rather than left to time out on the server's side.
		c.handleServerRequest(msg)
		return
	}

	if msg.Method == "" {
		c.logger.Error("dropping message with neither id nor method")
		return
	}

	if c.notifications != nil {
		c.notifications(msg.Method, msg.Params)
	}
}

// HandleClose implements Handler. Invoked exactly once by the transport on entry
// to its terminal state; every still-open call fails with the teardown reason.
func (c *Client) HandleClose(err error) {
	c.pending.failAll(err)
}

func (c *Client) handleServerRequest(msg JSONRPCMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
	defer cancel()

	reply := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      msg.ID,
	}
	if msg.Method == methodPing {
		reply.Result = json.RawMessage("{}")
	} else {
		reply.Error = &JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: fmt.Sprintf("method not supported: %s", msg.Method),
		}
	}

	if err := c.transport.Send(ctx, reply); err != nil {
		c.logger.Error("failed to answer server request", "err", err, slog.String("method", msg.Method))
	}
}
