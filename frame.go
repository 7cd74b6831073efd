package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"

	"github.com/tmaxmax/go-sse"
)

// decodeMessage parses one complete JSON document into a message. Used wherever a
// transport guarantees whole-frame delivery, such as line-delimited stdio.
func decodeMessage(data []byte) (JSONRPCMessage, error) {
	var msg JSONRPCMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return JSONRPCMessage{}, &ProtocolError{Reason: "malformed frame", Err: err}
	}
	return msg, nil
}

// chunkAssembler reassembles a single JSON document delivered as an unknown number
// of partial writes. Completeness is decided structurally, by tracking brace depth
// while respecting quoted strings and escape characters, never by attempting a
// parse after each chunk; partial JSON can coincidentally parse in rare nested
// quoting cases, so parse success is not a trustworthy completeness signal. The
// document is parsed exactly once, after the closing brace of the outermost object.
type chunkAssembler struct {
	buf      bytes.Buffer
	scanned  int
	depth    int
	started  bool
	inString bool
	escaped  bool
}

var errIncompleteDocument = errors.New("incomplete JSON document")

// feed appends a chunk and reports whether the document is now complete. Only the
// bytes added since the previous call are scanned. Trailing bytes after the
// outermost closing brace are rejected: chunked mode carries exactly one document.
func (a *chunkAssembler) feed(chunk []byte) (JSONRPCMessage, bool, error) {
	a.buf.Write(chunk)

	data := a.buf.Bytes()
	for ; a.scanned < len(data); a.scanned++ {
		c := data[a.scanned]

		if a.inString {
			switch {
			case a.escaped:
				a.escaped = false
			case c == '\\':
				a.escaped = true
			case c == '"':
				a.inString = false
			}
			continue
		}

		switch c {
		case '"':
			a.inString = true
		case '{':
			a.started = true
			a.depth++
		case '}':
			a.depth--
			if a.depth < 0 {
				return JSONRPCMessage{}, false, &ProtocolError{Reason: "unbalanced closing brace"}
			}
			if a.depth == 0 {
				if rest := bytes.TrimSpace(data[a.scanned+1:]); len(rest) > 0 {
					return JSONRPCMessage{}, false, &ProtocolError{Reason: "trailing data after JSON document"}
				}
				msg, err := decodeMessage(data[:a.scanned+1])
				if err != nil {
					return JSONRPCMessage{}, false, err
				}
				return msg, true, nil
			}
		case ' ', '\t', '\r', '\n':
		default:
			if !a.started {
				return JSONRPCMessage{}, false, &ProtocolError{Reason: "chunked payload is not a JSON object"}
			}
		}
	}

	return JSONRPCMessage{}, false, nil
}

// decodeJSONBody drains a response body declared as application/json, tolerating
// both whole-body and chunked delivery. It returns once the single document is
// structurally complete, without waiting for the server to close the body.
func decodeJSONBody(r io.Reader) (JSONRPCMessage, error) {
	var asm chunkAssembler
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			msg, done, ferr := asm.feed(buf[:n])
			if ferr != nil {
				return JSONRPCMessage{}, ferr
			}
			if done {
				return msg, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return JSONRPCMessage{}, &ProtocolError{
					Reason: "stream ended before a complete message",
					Err:    errIncompleteDocument,
				}
			}
			return JSONRPCMessage{}, &TransportError{Reason: "read response body", Err: err}
		}
	}
}

// eventStreamMessages parses a text/event-stream body into messages. Lines carrying
// a "data" field are decoded as JSON; event-type lines are informational and yield
// nothing by themselves; blank lines delimit events. Malformed data lines are
// dropped with a diagnostic rather than terminating the stream. The sequence ends
// only when the underlying body does.
func eventStreamMessages(body io.Reader, maxEventSize int, logger *slog.Logger) iter.Seq[JSONRPCMessage] {
	return func(yield func(JSONRPCMessage) bool) {
		var config *sse.ReadConfig
		if maxEventSize > 0 {
			config = &sse.ReadConfig{
				MaxEventSize: maxEventSize,
			}
		}

		for ev, err := range sse.Read(body, config) {
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
					logger.Error("failed to read SSE event", "err", err)
				}
				return
			}

			if ev.Type != "" && ev.Type != "message" {
				logger.Debug("skipping SSE event", slog.String("type", ev.Type))
				continue
			}
			if ev.Data == "" {
				continue
			}

			msg, err := decodeMessage([]byte(ev.Data))
			if err != nil {
				logger.Error("dropping malformed SSE data line", "err", err)
				continue
			}

			if !yield(msg) {
				return
			}
		}
	}
}
