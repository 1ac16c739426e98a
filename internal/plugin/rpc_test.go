package plugin

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestFrameWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)

	req := Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: MethodVaultCreate, Params: json.RawMessage(`{"kind":"task"}`)}
	if err := fw.WriteMessage(req); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	fr := NewFrameReader(&buf)
	got, err := fr.ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if got.Method != MethodVaultCreate {
		t.Fatalf("expected method %s, got %s", MethodVaultCreate, got.Method)
	}
}

func TestFrameReaderRejectsMissingContentLength(t *testing.T) {
	buf := bytes.NewBufferString("X-Other: 1\r\n\r\n{}")
	fr := NewFrameReader(buf)
	if _, err := fr.ReadMessage(); err == nil {
		t.Fatal("expected rejection of a frame with no Content-Length header")
	}
}

func TestFrameWriterMultipleMessagesReadSequentially(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	fw.WriteMessage(Response{JSONRPC: "2.0", ID: json.RawMessage(`1`), Result: json.RawMessage(`"ok"`)})
	fw.WriteMessage(Response{JSONRPC: "2.0", ID: json.RawMessage(`2`), Result: json.RawMessage(`"ok2"`)})

	fr := NewFrameReader(&buf)
	r1, err := fr.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	r2, err := fr.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if string(r1.ID) != "1" || string(r2.ID) != "2" {
		t.Fatalf("expected messages read in write order, got %s then %s", r1.ID, r2.ID)
	}
}
