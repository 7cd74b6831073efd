package mcpclient

import "context"

// Handler receives everything a transport's background reader produces: decoded
// messages on HandleMessage, and exactly one HandleClose when the transport
// reaches its terminal state. Message routing (response vs notification) is the
// handler's concern; transports never interpret IDs themselves.
type Handler interface {
	HandleMessage(msg JSONRPCMessage)
	HandleClose(err error)
}

// Transport provides the connection layer beneath a Client. Implementations run
// one persistent background reader for the lifetime of the connection; sending is
// independent of reading and safe for concurrent use.
type Transport interface {
	// Start connects the transport and launches its background reader(s). Every
	// decoded message is delivered to the handler. Start is called once, before
	// any Send.
	Start(ctx context.Context, handler Handler) error

	// Send transmits one message. It does not wait for any response; correlation
	// is the caller's concern.
	Send(ctx context.Context, msg JSONRPCMessage) error

	// Close drives the transport to its terminal state, stopping background
	// readers and releasing the underlying connection or process. Close is
	// idempotent; the first call triggers the handler's HandleClose.
	Close() error
}

// ConnState describes the lifecycle of a transport connection.
type ConnState int32

// Connection lifecycle states. Degraded applies only to the stream transport's
// notification channel, which can drop and reconnect independently of the ability
// to send requests. Closed is terminal.
const (
	StateUnconnected ConnState = iota
	StateConnecting
	StateReady
	StateDegraded
	StateClosed
)

// String implements fmt.Stringer.
func (s ConnState) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
