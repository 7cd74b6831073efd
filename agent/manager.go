package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	mcpclient "github.com/MegaGrindStone/go-mcp-client"
	"github.com/MegaGrindStone/go-mcp-client/registry"
)

// Status reports the state of one configured server's client.
type Status struct {
	Running bool
	Err     error
}

// Manager owns one MCP client per configured server. A server that fails to
// initialize does not prevent the others from connecting; its error is
// retained and reported through ServerStatus.
type Manager struct {
	info          mcpclient.Info
	logger        *slog.Logger
	clientOptions []mcpclient.ClientOption

	mu      sync.Mutex
	clients map[string]*mcpclient.Client
	failed  map[string]error
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger. Defaults to slog.Default.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClientOptions passes extra options to every client the manager builds.
func WithClientOptions(options ...mcpclient.ClientOption) ManagerOption {
	return func(m *Manager) {
		m.clientOptions = options
	}
}

// NewManager creates a manager that will identify as info to every server.
func NewManager(info mcpclient.Info, options ...ManagerOption) *Manager {
	m := &Manager{
		info:    info,
		logger:  slog.Default(),
		clients: make(map[string]*mcpclient.Client),
		failed:  make(map[string]error),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Connect builds and connects a client for every server in the config.
// Individual failures are recorded rather than returned; the error is non-nil
// only if no server could be connected while at least one was configured.
func (m *Manager) Connect(ctx context.Context, cfg registry.Config) error {
	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		server := cfg.Servers[name].Resolved()

		cli, err := m.connectOne(ctx, name, server)
		m.mu.Lock()
		if err != nil {
			m.failed[name] = err
			m.mu.Unlock()
			m.logger.Error("Failed to initialize server client",
				slog.String("server", name), slog.String("err", err.Error()))
			continue
		}
		m.clients[name] = cli
		m.mu.Unlock()
		m.logger.Info("Server client initialized", slog.String("server", name))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.clients) == 0 && len(m.failed) > 0 {
		return fmt.Errorf("all %d configured servers failed to initialize", len(m.failed))
	}
	return nil
}

func (m *Manager) connectOne(ctx context.Context, name string, server registry.ServerConfig) (*mcpclient.Client, error) {
	transport, err := m.transportFor(server)
	if err != nil {
		return nil, err
	}

	cli := mcpclient.NewClient(m.info, transport, m.clientOptions...)
	if err := cli.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := cli.ListTools(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return cli, nil
}

func (m *Manager) transportFor(server registry.ServerConfig) (mcpclient.Transport, error) {
	switch server.Kind() {
	case registry.KindStdio:
		opts := []mcpclient.PipeOption{mcpclient.WithPipeLogger(m.logger)}
		if server.WorkDir != "" {
			opts = append(opts, mcpclient.WithPipeDir(server.WorkDir))
		}
		if len(server.Env) > 0 {
			env := make([]string, 0, len(server.Env))
			for k, v := range server.Env {
				env = append(env, k+"="+v)
			}
			opts = append(opts, mcpclient.WithPipeEnv(env))
		}
		return mcpclient.NewCommandPipe(server.Command, server.Args, opts...), nil
	case registry.KindHTTP:
		opts := []mcpclient.StreamOption{mcpclient.WithStreamLogger(m.logger)}
		if len(server.Headers) > 0 {
			opts = append(opts, mcpclient.WithStreamHeaders(server.Headers))
		}
		return mcpclient.NewStreamTransport(server.URL, opts...), nil
	default:
		return nil, fmt.Errorf("server config needs either a command or a url")
	}
}

// Client returns the connected client for a server, or false if the server is
// unknown or failed to initialize.
func (m *Manager) Client(name string) (*mcpclient.Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cli, ok := m.clients[name]
	return cli, ok
}

// ServerStatus reports every configured server as running or failed, with the
// initialization error retained for failed ones.
func (m *Manager) ServerStatus() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := make(map[string]Status, len(m.clients)+len(m.failed))
	for name := range m.clients {
		status[name] = Status{Running: true}
	}
	for name, err := range m.failed {
		status[name] = Status{Err: err}
	}
	return status
}

// Tools aggregates the cached tool lists of all running clients, ordered by
// server name then tool name.
func (m *Manager) Tools() []ServerTool {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tools []ServerTool
	for name, cli := range m.clients {
		for _, tool := range cli.Tools() {
			tools = append(tools, ServerTool{Server: name, Tool: tool})
		}
	}
	sort.Slice(tools, func(i, j int) bool {
		if tools[i].Server != tools[j].Server {
			return tools[i].Server < tools[j].Server
		}
		return tools[i].Tool.Name < tools[j].Tool.Name
	})
	return tools
}

// CallTool dispatches a tool call to the named server.
func (m *Manager) CallTool(ctx context.Context, server, name string, arguments map[string]any) (mcpclient.ToolResult, error) {
	cli, ok := m.Client(server)
	if !ok {
		return mcpclient.ToolResult{}, fmt.Errorf("server %q is not running", server)
	}
	return cli.CallTool(ctx, name, arguments)
}

// Close shuts down every running client.
func (m *Manager) Close() {
	m.mu.Lock()
	clients := make([]*mcpclient.Client, 0, len(m.clients))
	for _, cli := range m.clients {
		clients = append(clients, cli)
	}
	m.clients = make(map[string]*mcpclient.Client)
	m.mu.Unlock()

	for _, cli := range clients {
		cli.Close()
	}
}

var _ ToolCaller = (*Manager)(nil)
