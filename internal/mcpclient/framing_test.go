package mcpclient

import (
	"bytes"
	"strconv"
	"testing"
)

func TestCodecReadWriteNDJSON(t *testing.T) {
	var buf bytes.Buffer
	writer := NewCodec(nil, &buf)
	writer.UseFraming(FramingNDJSON)
	id := int64(1)
	if err := writer.WriteMessage(&Message{JSONRPC: "2.0", ID: &id, Method: "initialize"}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	reader := NewCodec(bytes.NewReader(buf.Bytes()), nil)
	msg, err := reader.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.Method != "initialize" || msg.ID == nil || *msg.ID != 1 {
		t.Fatalf("decoded message = %+v", msg)
	}
}

func TestCodecReadWriteLSP(t *testing.T) {
	var buf bytes.Buffer
	writer := NewCodec(nil, &buf)
	writer.UseFraming(FramingLSP)
	id := int64(2)
	if err := writer.WriteMessage(&Message{JSONRPC: "2.0", ID: &id, Method: "tools/list"}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	reader := NewCodec(bytes.NewReader(buf.Bytes()), nil)
	msg, err := reader.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.Method != "tools/list" || msg.ID == nil || *msg.ID != 2 {
		t.Fatalf("decoded message = %+v", msg)
	}
}

func TestCodecDetectsLSPFramingAutomatically(t *testing.T) {
	payload := []byte(`{"jsonrpc":"2.0","id":3,"method":"ping"}`)
	framed := []byte("Content-Length: " + strconv.Itoa(len(payload)) + "\r\n\r\n")
	framed = append(framed, payload...)

	reader := NewCodec(bytes.NewReader(framed), nil)
	msg, err := reader.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.Method != "ping" {
		t.Fatalf("decoded message = %+v", msg)
	}
}

func TestCodecDetectsNDJSONFramingAutomatically(t *testing.T) {
	reader := NewCodec(bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":4,"method":"ping"}`+"\n")), nil)
	msg, err := reader.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.Method != "ping" {
		t.Fatalf("decoded message = %+v", msg)
	}
}
