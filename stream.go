package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	contentTypeJSON        = "application/json"
	contentTypeEventStream = "text/event-stream"

	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 60 * time.Second
)

// errStreamUnsupported marks a server that refuses the standalone notification
// stream. That is allowed; such servers answer every request on the POST channel.
var errStreamUnsupported = errors.New("server does not support the notification stream")

// StreamTransport speaks JSON-RPC to an MCP server over HTTP(S). It runs two
// independent channels reconciled only through the caller's message routing:
//
// The persistent notification channel is a long-lived GET with an Accept of
// text/event-stream, read continuously by one background goroutine. On disconnect
// it reconnects with exponential backoff, doubling from the initial delay up to a
// cap and resetting after every successful reconnect. This channel may carry the
// response to a request that was sent on the request channel; servers that answer
// asynchronously do exactly that.
//
// The request channel opens one POST exchange per Send. The response body is
// decoded according to its Content-Type header: application/json bodies are
// reassembled whether they arrive whole or chunked, text/event-stream bodies are
// parsed event by event. Every decoded message, whichever channel it arrived on,
// is handed to the handler; duplicate deliveries across the two channels collapse
// at the pending-call table.
//
// Instances are created with NewStreamTransport and must be released with Close.
type StreamTransport struct {
	endpoint   string
	httpClient *http.Client
	headers    map[string]string
	logger     *slog.Logger

	maxEventSize   int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	handler Handler
	state   atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc

	done        chan struct{}
	notifClosed chan struct{}

	closeOnce sync.Once
	termOnce  sync.Once
}

// StreamOption configures a StreamTransport.
type StreamOption func(*StreamTransport)

// WithStreamHTTPClient sets the HTTP client used for both channels. Defaults to
// http.DefaultClient.
func WithStreamHTTPClient(httpClient *http.Client) StreamOption {
	return func(s *StreamTransport) {
		s.httpClient = httpClient
	}
}

// WithStreamLogger sets the logger used by the transport. Defaults to slog.Default().
func WithStreamLogger(logger *slog.Logger) StreamOption {
	return func(s *StreamTransport) {
		s.logger = logger
	}
}

// WithStreamHeaders adds headers to every request, such as authorization.
func WithStreamHeaders(headers map[string]string) StreamOption {
	return func(s *StreamTransport) {
		s.headers = headers
	}
}

// WithStreamBackoff overrides the reconnect delays of the notification channel.
func WithStreamBackoff(initial, maxDelay time.Duration) StreamOption {
	return func(s *StreamTransport) {
		s.initialBackoff = initial
		s.maxBackoff = maxDelay
	}
}

// WithStreamMaxEventSize caps the size of a single server-sent event. Zero means
// the go-sse default.
func WithStreamMaxEventSize(size int) StreamOption {
	return func(s *StreamTransport) {
		s.maxEventSize = size
	}
}

// NewStreamTransport creates a StreamTransport for the given endpoint URL.
func NewStreamTransport(endpoint string, options ...StreamOption) *StreamTransport {
	ctx, cancel := context.WithCancel(context.Background())
	s := &StreamTransport{
		endpoint:       endpoint,
		httpClient:     http.DefaultClient,
		logger:         slog.Default(),
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		notifClosed:    make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Start launches the persistent notification channel. Connectivity failures are
// not fatal here; they surface on the first request instead, while the
// notification loop keeps reconnecting in the background.
func (s *StreamTransport) Start(_ context.Context, handler Handler) error {
	s.handler = handler
	s.state.Store(int32(StateConnecting))
	go s.runNotificationStream()
	s.state.Store(int32(StateReady))
	return nil
}

// Send issues one POST exchange. It returns once the server accepted the request;
// the response body, which may resolve this or any other outstanding call, is
// consumed by a short-lived goroutine so concurrent exchanges stay independent.
func (s *StreamTransport) Send(_ context.Context, msg JSONRPCMessage) error {
	if ConnState(s.state.Load()) == StateClosed {
		return ErrClosed
	}

	msgBs, err := json.Marshal(msg)
	if err != nil {
		return &ProtocolError{Reason: "marshal message", Err: err}
	}

	// The exchange is tied to the transport lifetime, not the caller's deadline:
	// an abandoned call's late reply must still drain (and be discarded by ID)
	// without tearing down a response that another call is waiting on.
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.endpoint, bytes.NewReader(msgBs))
	if err != nil {
		return &TransportError{Reason: "create request", Err: err}
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON+", "+contentTypeEventStream)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &TransportError{Reason: "send request", Err: err}
	}

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return &TransportError{Reason: fmt.Sprintf("unexpected status code: %d", resp.StatusCode)}
	}

	go s.consumeResponse(resp)
	return nil
}

// consumeResponse decodes a POST response body in whichever mode its Content-Type
// declares and routes every decoded message to the handler.
func (s *StreamTransport) consumeResponse(resp *http.Response) {
	defer resp.Body.Close()

	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		s.logger.Error("unparsable response content type", "err", err)
		return
	}

	switch contentType {
	case contentTypeJSON:
		msg, err := decodeJSONBody(resp.Body)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Error("failed to decode response body", "err", err)
			}
			return
		}
		s.handler.HandleMessage(msg)
	case contentTypeEventStream:
		for msg := range eventStreamMessages(resp.Body, s.maxEventSize, s.logger) {
			s.handler.HandleMessage(msg)
		}
	default:
		s.logger.Error("unexpected response content type", slog.String("contentType", contentType))
	}
}

// Close drives the transport to its terminal state: both channels stop and the
// handler observes exactly one HandleClose.
func (s *StreamTransport) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()

		if s.handler == nil {
			s.state.Store(int32(StateClosed))
			return
		}

		s.terminate(ErrClosed)
		<-s.notifClosed
	})
	return nil
}

// State reports the connection lifecycle state.
func (s *StreamTransport) State() ConnState {
	return ConnState(s.state.Load())
}

func (s *StreamTransport) terminate(reason error) {
	s.termOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		s.handler.HandleClose(reason)
	})
}

// runNotificationStream keeps the persistent server-to-client channel alive for
// the transport's lifetime, reconnecting with exponential backoff after every
// disconnect and resetting the delay after every successful connect.
func (s *StreamTransport) runNotificationStream() {
	defer close(s.notifClosed)

	backoff := s.initialBackoff
	for {
		err := s.connectNotificationStream(func() {
			backoff = s.initialBackoff
			s.state.CompareAndSwap(int32(StateDegraded), int32(StateReady))
		})

		select {
		case <-s.done:
			return
		default:
		}

		if errors.Is(err, errStreamUnsupported) {
			s.logger.Info("notification stream not offered by server; relying on the request channel")
			return
		}

		s.state.CompareAndSwap(int32(StateReady), int32(StateDegraded))
		s.logger.Warn("notification stream disconnected",
			"err", err, slog.Duration("reconnectIn", backoff))

		select {
		case <-s.done:
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// connectNotificationStream opens one GET event stream and reads it until it
// ends. onConnected fires once the server has committed to streaming.
func (s *StreamTransport) connectNotificationStream(onConnected func()) error {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return &TransportError{Reason: "create request", Err: err}
	}
	req.Header.Set("Accept", contentTypeEventStream)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &TransportError{Reason: "connect notification stream", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotFound {
		return errStreamUnsupported
	}
	if resp.StatusCode != http.StatusOK {
		return &TransportError{Reason: fmt.Sprintf("unexpected status code: %d", resp.StatusCode)}
	}

	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || contentType != contentTypeEventStream {
		return &ProtocolError{Reason: "notification stream is not an event stream", Err: err}
	}

	onConnected()

	for msg := range eventStreamMessages(resp.Body, s.maxEventSize, s.logger) {
		s.handler.HandleMessage(msg)
	}

	return io.EOF
}
