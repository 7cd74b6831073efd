package mcpclient_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	mcpclient "github.com/MegaGrindStone/go-mcp-client"
)

// fakeServer scripts the server side of a pipe connection. Handlers run in their
// own goroutine per request so responses can be delayed or reordered.
type fakeServer struct {
	reader io.Reader
	writer io.Writer

	writeMu sync.Mutex

	handlersMu sync.Mutex
	handlers   map[string]func(req mcpclient.JSONRPCMessage) *mcpclient.JSONRPCMessage
}

func newFakeServer(reader io.Reader, writer io.Writer) *fakeServer {
	s := &fakeServer{
		reader:   reader,
		writer:   writer,
		handlers: make(map[string]func(req mcpclient.JSONRPCMessage) *mcpclient.JSONRPCMessage),
	}

	s.handlers["initialize"] = func(req mcpclient.JSONRPCMessage) *mcpclient.JSONRPCMessage {
		return &mcpclient.JSONRPCMessage{
			JSONRPC: mcpclient.JSONRPCVersion,
			ID:      req.ID,
			Result: json.RawMessage(`{
				"protocolVersion": "2024-11-05",
				"capabilities": {"tools": {}},
				"serverInfo": {"name": "fake-server", "version": "1.0.0"}
			}`),
		}
	}

	go s.run()
	return s
}

func (s *fakeServer) handle(method string, h func(req mcpclient.JSONRPCMessage) *mcpclient.JSONRPCMessage) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[method] = h
}

func (s *fakeServer) run() {
	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var req mcpclient.JSONRPCMessage
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		s.handlersMu.Lock()
		h, ok := s.handlers[req.Method]
		s.handlersMu.Unlock()
		if !ok {
			continue
		}
		go func() {
			if res := h(req); res != nil {
				s.send(*res)
			}
		}()
	}
}

func (s *fakeServer) send(msg mcpclient.JSONRPCMessage) {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.writer.Write(append(msgBs, '\n'))
}

// newConnectedClient wires a Client to a fakeServer over in-memory pipes.
func newConnectedClient(t *testing.T, options ...mcpclient.ClientOption) (*mcpclient.Client, *fakeServer) {
	t.Helper()

	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()

	srv := newFakeServer(serverReader, serverWriter)
	transport := mcpclient.NewPipe(clientReader, clientWriter)
	cli := mcpclient.NewClient(mcpclient.Info{Name: "test-client", Version: "0.1.0"}, transport, options...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cli.Connect(ctx); err != nil {
		t.Fatalf("failed to connect client: %v", err)
	}
	t.Cleanup(cli.Close)

	return cli, srv
}

func TestClientConnect(t *testing.T) {
	cli, _ := newConnectedClient(t)

	if !cli.Initialized() {
		t.Error("client not marked initialized after Connect")
	}

	info := cli.ServerInfo()
	if info == nil {
		t.Fatal("missing server info after Connect")
	}
	if info.ServerInfo.Name != "fake-server" {
		t.Errorf("wrong server name. Got %s, want fake-server", info.ServerInfo.Name)
	}
}

func TestClientConnectProtocolVersionMismatch(t *testing.T) {
	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()

	srv := newFakeServer(serverReader, serverWriter)
	srv.handle("initialize", func(req mcpclient.JSONRPCMessage) *mcpclient.JSONRPCMessage {
		return &mcpclient.JSONRPCMessage{
			JSONRPC: mcpclient.JSONRPCVersion,
			ID:      req.ID,
			Result:  json.RawMessage(`{"protocolVersion": "1999-01-01", "capabilities": {}, "serverInfo": {}}`),
		}
	})

	transport := mcpclient.NewPipe(clientReader, clientWriter)
	cli := mcpclient.NewClient(mcpclient.Info{Name: "test-client", Version: "0.1.0"}, transport)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := cli.Connect(ctx)
	var protoErr *mcpclient.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError for version mismatch, got %v", err)
	}
}

func TestClientConcurrentCallsOutOfOrder(t *testing.T) {
	cli, srv := newConnectedClient(t)

	// The first request is answered last; correlation must be by ID, not order.
	srv.handle("test/slow", func(req mcpclient.JSONRPCMessage) *mcpclient.JSONRPCMessage {
		time.Sleep(200 * time.Millisecond)
		return &mcpclient.JSONRPCMessage{
			JSONRPC: mcpclient.JSONRPCVersion,
			ID:      req.ID,
			Result:  json.RawMessage(`"slow"`),
		}
	})
	srv.handle("test/fast", func(req mcpclient.JSONRPCMessage) *mcpclient.JSONRPCMessage {
		return &mcpclient.JSONRPCMessage{
			JSONRPC: mcpclient.JSONRPCVersion,
			ID:      req.ID,
			Result:  json.RawMessage(`"fast"`),
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		res, err := cli.Call(ctx, "test/slow", nil)
		errs[0] = err
		results[0] = string(res)
	}()
	go func() {
		defer wg.Done()
		res, err := cli.Call(ctx, "test/fast", nil)
		errs[1] = err
		results[1] = string(res)
	}()
	wg.Wait()

	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("unexpected errors: %v, %v", errs[0], errs[1])
	}
	if results[0] != `"slow"` {
		t.Errorf("slow caller got wrong result: %s", results[0])
	}
	if results[1] != `"fast"` {
		t.Errorf("fast caller got wrong result: %s", results[1])
	}
}

func TestClientListToolsPagination(t *testing.T) {
	cli, srv := newConnectedClient(t)

	srv.handle(mcpclient.MethodToolsList, func(req mcpclient.JSONRPCMessage) *mcpclient.JSONRPCMessage {
		var params struct {
			Cursor string `json:"cursor"`
		}
		json.Unmarshal(req.Params, &params)

		result := `{"tools": [{"name": "echo"}], "nextCursor": "page2"}`
		if params.Cursor == "page2" {
			result = `{"tools": [{"name": "add"}]}`
		}
		return &mcpclient.JSONRPCMessage{
			JSONRPC: mcpclient.JSONRPCVersion,
			ID:      req.ID,
			Result:  json.RawMessage(result),
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tools, err := cli.ListTools(ctx)
	if err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("wrong tool count. Got %d, want 2", len(tools))
	}
	if tools[0].Name != "echo" || tools[1].Name != "add" {
		t.Errorf("wrong tools: %+v", tools)
	}

	cached := cli.Tools()
	if len(cached) != 2 {
		t.Errorf("wrong cached tool count. Got %d, want 2", len(cached))
	}
}

func TestClientCallTool(t *testing.T) {
	cli, srv := newConnectedClient(t)

	srv.handle(mcpclient.MethodToolsCall, func(req mcpclient.JSONRPCMessage) *mcpclient.JSONRPCMessage {
		return &mcpclient.JSONRPCMessage{
			JSONRPC: mcpclient.JSONRPCVersion,
			ID:      req.ID,
			Result:  json.RawMessage(`{"content": [{"type": "text", "text": "4"}]}`),
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := cli.CallTool(ctx, "add", map[string]any{"a": 2, "b": 2})
	if err != nil {
		t.Fatalf("failed to call tool: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "4" {
		t.Errorf("wrong tool result: %+v", result)
	}
}

func TestClientCallErrorResponse(t *testing.T) {
	cli, srv := newConnectedClient(t)

	srv.handle("test/fails", func(req mcpclient.JSONRPCMessage) *mcpclient.JSONRPCMessage {
		return &mcpclient.JSONRPCMessage{
			JSONRPC: mcpclient.JSONRPCVersion,
			ID:      req.ID,
			Error:   &mcpclient.JSONRPCError{Code: -32603, Message: "boom"},
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := cli.Call(ctx, "test/fails", nil)
	var rpcErr *mcpclient.JSONRPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected JSONRPCError, got %v", err)
	}
	if rpcErr.Message != "boom" {
		t.Errorf("wrong error message. Got %s, want boom", rpcErr.Message)
	}
}

func TestClientCallTimeout(t *testing.T) {
	cli, _ := newConnectedClient(t, mcpclient.WithCallTimeout(50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := cli.Call(ctx, "test/never-answered", nil)
	if !errors.Is(err, mcpclient.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestClientCloseFailsOutstandingCalls(t *testing.T) {
	cli, _ := newConnectedClient(t)

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)

	started := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			_, errs[i] = cli.Call(context.Background(), "test/never-answered", nil)
		}()
	}
	for i := 0; i < n; i++ {
		<-started
	}
	// Give the calls a moment to register before tearing down.
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	cli.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("outstanding calls not resolved after Close")
	}

	for i, err := range errs {
		if !errors.Is(err, mcpclient.ErrClosed) {
			t.Errorf("call %d: expected ErrClosed, got %v", i, err)
		}
	}
}

func TestClientNotificationRouting(t *testing.T) {
	received := make(chan string, 1)

	cli, srv := newConnectedClient(t, mcpclient.WithNotificationHandler(
		func(method string, _ json.RawMessage) {
			received <- method
		}))
	_ = cli

	srv.send(mcpclient.JSONRPCMessage{
		JSONRPC: mcpclient.JSONRPCVersion,
		Method:  "notifications/tools/list_changed",
	})

	select {
	case method := <-received:
		if method != "notifications/tools/list_changed" {
			t.Errorf("wrong method. Got %s", method)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for notification")
	}
}

func TestClientAnswersServerPing(t *testing.T) {
	cli, srv := newConnectedClient(t)
	_ = cli

	pong := make(chan mcpclient.JSONRPCMessage, 1)
	srv.handle("", func(req mcpclient.JSONRPCMessage) *mcpclient.JSONRPCMessage {
		// Responses from the client carry no method; capture them here.
		pong <- req
		return nil
	})

	srv.send(mcpclient.JSONRPCMessage{
		JSONRPC: mcpclient.JSONRPCVersion,
		ID:      999,
		Method:  "ping",
	})

	select {
	case res := <-pong:
		if res.ID != 999 {
			t.Errorf("wrong response ID. Got %d, want 999", res.ID)
		}
		if string(res.Result) != "{}" {
			t.Errorf("wrong ping result: %s", res.Result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for ping response")
	}
}
