package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
)

// PipeTransport speaks line-delimited JSON-RPC over a stdin/stdout pair, usually
// belonging to a child process it spawned itself. One background reader is the
// single authority over the output stream: no other code path reads it, which
// rules out lost or duplicated reads. Writes go through a serialized pump and may
// happen concurrently with reading.
//
// An unexpected process exit is terminal; a dead process cannot be respawned
// without losing in-flight state, so the transport closes and every outstanding
// call fails rather than retrying silently.
//
// Instances are created with NewPipe or NewCommandPipe and must be released with
// Close.
type PipeTransport struct {
	cmd    *exec.Cmd
	dir    string
	env    []string
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	handler Handler
	state   atomic.Int32

	writeMessages chan pipeWriteMsg
	done          chan struct{}
	readClosed    chan struct{}
	writeClosed   chan struct{}

	closeOnce sync.Once
	termOnce  sync.Once
}

type pipeWriteMsg struct {
	msg  []byte
	errs chan error
}

// PipeOption configures a PipeTransport.
type PipeOption func(*PipeTransport)

// WithPipeLogger sets the logger used by the transport. Defaults to slog.Default().
func WithPipeLogger(logger *slog.Logger) PipeOption {
	return func(p *PipeTransport) {
		p.logger = logger
	}
}

// WithPipeDir sets the working directory of the child process.
func WithPipeDir(dir string) PipeOption {
	return func(p *PipeTransport) {
		p.dir = dir
	}
}

// WithPipeEnv appends environment variables, as "KEY=value" pairs, to the child
// process environment.
func WithPipeEnv(env []string) PipeOption {
	return func(p *PipeTransport) {
		p.env = env
	}
}

// NewPipe creates a PipeTransport over an existing reader/writer pair. No process
// is spawned; this form backs tests and callers that manage the peer themselves.
func NewPipe(reader io.Reader, writer io.Writer, options ...PipeOption) *PipeTransport {
	p := &PipeTransport{
		reader:        reader,
		writer:        writer,
		logger:        slog.Default(),
		writeMessages: make(chan pipeWriteMsg),
		done:          make(chan struct{}),
		readClosed:    make(chan struct{}),
		writeClosed:   make(chan struct{}),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// NewCommandPipe creates a PipeTransport that spawns the given command on Start
// and owns its lifetime.
func NewCommandPipe(command string, args []string, options ...PipeOption) *PipeTransport {
	p := NewPipe(nil, nil, options...)
	p.cmd = exec.Command(command, args...)
	return p
}

// Start spawns the child process when one is configured, then launches the write
// pump and the background reader.
func (p *PipeTransport) Start(_ context.Context, handler Handler) error {
	p.handler = handler
	p.state.Store(int32(StateConnecting))

	if p.cmd != nil {
		if err := p.startProcess(); err != nil {
			p.state.Store(int32(StateClosed))
			return &TransportError{Reason: "start process", Err: err}
		}
	}

	p.state.Store(int32(StateReady))
	go p.processWriteMessages()
	go p.readMessages()
	return nil
}

func (p *PipeTransport) startProcess() error {
	if p.dir != "" {
		p.cmd.Dir = p.dir
	}
	if len(p.env) > 0 {
		p.cmd.Env = append(os.Environ(), p.env...)
	}

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin: %w", err)
	}
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open stdout: %w", err)
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("open stderr: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return err
	}

	p.writer = stdin
	p.reader = stdout
	p.logger = p.logger.With(slog.Int("pid", p.cmd.Process.Pid))

	// Servers routinely chatter on stderr during startup; drain it so the pipe
	// never fills, and keep it visible at debug level.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			p.logger.Debug("server stderr", slog.String("line", scanner.Text()))
		}
	}()

	return nil
}

// Send marshals the message and queues it for the write pump, one JSON document
// per line.
func (p *PipeTransport) Send(ctx context.Context, msg JSONRPCMessage) error {
	if ConnState(p.state.Load()) == StateClosed {
		return ErrClosed
	}

	msgBs, err := json.Marshal(msg)
	if err != nil {
		return &ProtocolError{Reason: "marshal message", Err: err}
	}
	// Newline terminates the frame.
	msgBs = append(msgBs, '\n')

	wm := pipeWriteMsg{
		msg:  msgBs,
		errs: make(chan error, 1),
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	case p.writeMessages <- wm:
	}

	select {
	case err := <-wm.errs:
		if err != nil {
			return &TransportError{Reason: "write request", Err: err}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	}
}

// Close terminates the transport: the write pump and reader stop, the child
// process (if any) is killed, and the handler observes exactly one HandleClose.
func (p *PipeTransport) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)

		if p.handler == nil {
			// Never started; nothing to stop.
			p.state.Store(int32(StateClosed))
			return
		}

		if closer, ok := p.reader.(io.Closer); ok {
			closer.Close()
		}
		if closer, ok := p.writer.(io.Closer); ok {
			closer.Close()
		}
		if p.cmd != nil && p.cmd.Process != nil {
			if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				p.logger.Warn("failed to kill server process", "err", err)
			}
			go func() {
				// Reap; the exit code of a killed server is not interesting.
				_ = p.cmd.Wait()
			}()
		}

		p.terminate(ErrClosed)
		<-p.readClosed
		<-p.writeClosed
	})
	return nil
}

// State reports the connection lifecycle state.
func (p *PipeTransport) State() ConnState {
	return ConnState(p.state.Load())
}

// terminate records the terminal state and notifies the handler exactly once,
// whether teardown was requested or the process died underneath us.
func (p *PipeTransport) terminate(reason error) {
	p.termOnce.Do(func() {
		p.state.Store(int32(StateClosed))
		p.handler.HandleClose(reason)
	})
}

// readMessages is the single reader over the process output. It decodes one JSON
// document per line and hands every message to the handler. Undecodable lines are
// diagnostics, not fatal: servers may print startup noise on stdout before they
// settle into the protocol.
func (p *PipeTransport) readMessages() {
	defer close(p.readClosed)

	reader := bufio.NewReader(p.reader)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			select {
			case <-p.done:
				// Requested teardown; Close already reported ErrClosed.
			default:
				if errors.Is(err, io.EOF) {
					p.terminate(&TransportError{Reason: "process exited"})
				} else {
					p.terminate(&TransportError{Reason: "read process output", Err: err})
				}
			}
			return
		}

		line = strings.TrimSuffix(line, "\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		msg, err := decodeMessage([]byte(line))
		if err != nil {
			p.logger.Error("dropping undecodable line", "err", err)
			continue
		}

		p.handler.HandleMessage(msg)
	}
}

// processWriteMessages serializes all writes to the process input.
func (p *PipeTransport) processWriteMessages() {
	defer close(p.writeClosed)

	for {
		var wm pipeWriteMsg
		select {
		case <-p.done:
			return
		case wm = <-p.writeMessages:
		}

		_, err := p.writer.Write(wm.msg)
		wm.errs <- err
	}
}
