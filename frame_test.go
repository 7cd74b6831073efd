package mcpclient

import (
	"log/slog"
	"strings"
	"testing"
)

func TestChunkAssemblerReassembly(t *testing.T) {
	chunks := []string{`{"id":1,`, `"result":{"a"`, `:1}}`}

	var asm chunkAssembler
	for i, chunk := range chunks {
		msg, done, err := asm.feed([]byte(chunk))
		if err != nil {
			t.Fatalf("chunk %d: unexpected error: %v", i, err)
		}

		if i < len(chunks)-1 {
			if done {
				t.Fatalf("chunk %d: document reported complete too early", i)
			}
			continue
		}

		if !done {
			t.Fatal("document not complete after final chunk")
		}
		if msg.ID != 1 {
			t.Errorf("wrong ID. Got %d, want 1", msg.ID)
		}
		if string(msg.Result) != `{"a":1}` {
			t.Errorf("wrong result. Got %s, want {\"a\":1}", msg.Result)
		}
	}
}

func TestChunkAssemblerWholeDocument(t *testing.T) {
	var asm chunkAssembler
	msg, done, err := asm.feed([]byte(`{"jsonrpc":"2.0","id":7,"result":{}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Fatal("whole document not reported complete")
	}
	if msg.ID != 7 {
		t.Errorf("wrong ID. Got %d, want 7", msg.ID)
	}
}

func TestChunkAssemblerBracesInsideStrings(t *testing.T) {
	// Closing braces inside quoted strings, including behind escapes, must not
	// terminate the document.
	chunks := []string{`{"id":3,"result":{"text":"}`, `\"}{"`, `}}`}

	var asm chunkAssembler
	for i, chunk := range chunks[:2] {
		_, done, err := asm.feed([]byte(chunk))
		if err != nil {
			t.Fatalf("chunk %d: unexpected error: %v", i, err)
		}
		if done {
			t.Fatalf("chunk %d: string content mistaken for document end", i)
		}
	}

	msg, done, err := asm.feed([]byte(chunks[2]))
	if err != nil {
		t.Fatalf("final chunk: unexpected error: %v", err)
	}
	if !done {
		t.Fatal("document not complete after final chunk")
	}
	if msg.ID != 3 {
		t.Errorf("wrong ID. Got %d, want 3", msg.ID)
	}
}

func TestChunkAssemblerRejectsTrailingData(t *testing.T) {
	var asm chunkAssembler
	_, _, err := asm.feed([]byte(`{"id":1,"result":{}}{"id":2`))
	if err == nil {
		t.Fatal("expected error for trailing data, got nil")
	}
}

func TestChunkAssemblerRejectsNonObject(t *testing.T) {
	var asm chunkAssembler
	_, _, err := asm.feed([]byte(`hello`))
	if err == nil {
		t.Fatal("expected error for non-JSON payload, got nil")
	}
}

func TestDecodeJSONBodySplitReads(t *testing.T) {
	// iotest-style one-byte reads exercise the incremental path.
	r := oneByteReader{strings.NewReader(`{"jsonrpc":"2.0","id":9,"result":{"ok":true}}`)}

	msg, err := decodeJSONBody(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID != 9 {
		t.Errorf("wrong ID. Got %d, want 9", msg.ID)
	}
}

func TestDecodeJSONBodyTruncated(t *testing.T) {
	_, err := decodeJSONBody(strings.NewReader(`{"jsonrpc":"2.0","id":9,"result":{"ok"`))
	if err == nil {
		t.Fatal("expected error for truncated body, got nil")
	}
}

func TestEventStreamMessages(t *testing.T) {
	input := "event: message\n" +
		`data: {"jsonrpc":"2.0","id":2,"result":{}}` + "\n" +
		"\n"

	var msgs []JSONRPCMessage
	for msg := range eventStreamMessages(strings.NewReader(input), 0, slog.Default()) {
		msgs = append(msgs, msg)
	}

	if len(msgs) != 1 {
		t.Fatalf("wrong message count. Got %d, want 1", len(msgs))
	}
	if msgs[0].ID != 2 {
		t.Errorf("wrong ID. Got %d, want 2", msgs[0].ID)
	}
}

func TestEventStreamSkipsMalformedData(t *testing.T) {
	input := "data: this is not json\n" +
		"\n" +
		"event: endpoint\n" +
		"data: /messages\n" +
		"\n" +
		`data: {"jsonrpc":"2.0","method":"notifications/progress","params":{}}` + "\n" +
		"\n"

	var msgs []JSONRPCMessage
	for msg := range eventStreamMessages(strings.NewReader(input), 0, slog.Default()) {
		msgs = append(msgs, msg)
	}

	if len(msgs) != 1 {
		t.Fatalf("wrong message count. Got %d, want 1", len(msgs))
	}
	if msgs[0].Method != "notifications/progress" {
		t.Errorf("wrong method. Got %s, want notifications/progress", msgs[0].Method)
	}
}

type oneByteReader struct {
	r *strings.Reader
}

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}
