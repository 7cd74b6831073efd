package mcpclient

import (
	"errors"
	"fmt"
)

// Every failure a caller can observe belongs to exactly one of four classes:
// protocol errors, transport errors, timeouts, and closure. Callers classify with
// errors.Is and errors.As; no operation ever hangs past its deadline or past a
// transport teardown.
var (
	// ErrTimeout reports a call that was not answered within its deadline. The
	// request is abandoned; a late response, if any, is silently discarded.
	ErrTimeout = errors.New("request timeout")

	// ErrClosed reports an operation against a facade whose transport has reached
	// its terminal state. All outstanding calls fail with ErrClosed when the
	// transport closes; the facade cannot be revived.
	ErrClosed = errors.New("connection closed")
)

// ProtocolError reports a malformed or rejected frame. The connection stays up;
// only the affected call fails.
type ProtocolError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

// Unwrap supports errors.Is and errors.As chains.
func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError reports a connection-level failure: connection refused, process
// exited, socket reset. On the pipe transport it is terminal; the stream transport
// keeps reconnecting its notification channel.
type TransportError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transport error: %s", e.Reason)
}

// Unwrap supports errors.Is and errors.As chains.
func (e *TransportError) Unwrap() error { return e.Err }
