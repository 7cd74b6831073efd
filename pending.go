package mcpclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// pendingCall is one outstanding request awaiting exactly one terminal resolution:
// fulfillment, failure, timeout expiry, or cancellation. The done channel is closed
// on the terminal transition, after which msg and err are immutable.
type pendingCall struct {
	id RequestID

	done chan struct{}
	msg  JSONRPCMessage
	err  error
}

// pendingCalls maps request IDs to outstanding calls. It is the only state shared
// between transport background readers and callers, so every lifecycle transition
// holds the mutex; a call leaves the map in the same critical section that closes
// its done channel, which is what makes a second fulfillment attempt a no-op
// instead of a double resolution.
type pendingCalls struct {
	mu     sync.Mutex
	calls  map[RequestID]*pendingCall
	closed error

	logger *slog.Logger
}

func newPendingCalls(logger *slog.Logger) *pendingCalls {
	return &pendingCalls{
		calls:  make(map[RequestID]*pendingCall),
		logger: logger,
	}
}

// register creates the table entry for a freshly allocated request ID. A duplicate
// ID is a programming error given the monotonic generator, and is fatal to the
// call. Registration after failAll reports the teardown error immediately.
func (p *pendingCalls) register(id RequestID) (*pendingCall, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed != nil {
		return nil, p.closed
	}
	if _, ok := p.calls[id]; ok {
		return nil, fmt.Errorf("duplicate request ID %d", id)
	}

	call := &pendingCall{
		id:   id,
		done: make(chan struct{}),
	}
	p.calls[id] = call
	return call, nil
}

// fulfill resolves the call registered under the message's ID. An unknown or
// already-terminal ID is a silent no-op: responses legitimately race in from both
// the request channel and the notification channel, and whichever arrives first
// wins. Returns whether a waiter was resolved.
func (p *pendingCalls) fulfill(id RequestID, msg JSONRPCMessage) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	call, ok := p.calls[id]
	if !ok {
		p.logger.Debug("discarding response for unknown or settled request", slog.Int64("id", int64(id)))
		return false
	}

	delete(p.calls, id)
	call.msg = msg
	close(call.done)
	return true
}

// fail terminates one call with an error.
func (p *pendingCalls) fail(id RequestID, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	call, ok := p.calls[id]
	if !ok {
		return
	}

	delete(p.calls, id)
	call.err = err
	close(call.done)
}

// failAll terminates every still-open call and rejects future registrations. It is
// invoked exactly once, during transport teardown, so no caller can await forever
// past teardown.
func (p *pendingCalls) failAll(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed != nil {
		return
	}
	p.closed = err

	for id, call := range p.calls {
		delete(p.calls, id)
		call.err = err
		close(call.done)
	}
}

// wait blocks until the call resolves, the timeout expires, or the context is
// cancelled. Expiry and cancellation remove the entry so that a late response
// becomes an unknown-ID no-op; if the resolution races the deadline, the
// resolution wins.
func (p *pendingCalls) wait(ctx context.Context, call *pendingCall, timeout time.Duration) (JSONRPCMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-call.done:
		return call.msg, call.err
	case <-timer.C:
		return p.abandon(call, ErrTimeout)
	case <-ctx.Done():
		return p.abandon(call, ctx.Err())
	}
}

// abandon removes the call, unless a concurrent terminal transition already won,
// in which case its result is returned instead.
func (p *pendingCalls) abandon(call *pendingCall, reason error) (JSONRPCMessage, error) {
	p.mu.Lock()
	if _, ok := p.calls[call.id]; !ok {
		p.mu.Unlock()
		// Settled while we were giving up; done is closed or about to be.
		<-call.done
		return call.msg, call.err
	}
	delete(p.calls, call.id)
	p.mu.Unlock()
	return JSONRPCMessage{}, reason
}

// len reports the number of outstanding calls.
func (p *pendingCalls) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
