package ipc

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ixlab/vidformer/filter"
)

// fakeServer plays the external-filter side of the protocol for one
// connection: read one length-prefixed request, reply with a canned
// response, repeat until the connection closes.
func fakeServer(t *testing.T, conn net.Conn, respond func(req request) response) {
	t.Helper()
	for {
		raw, err := readFrame(conn)
		if err != nil {
			if err == io.EOF {
				return
			}
			return
		}
		var req request
		if err := msgpack.Unmarshal(raw, &req); err != nil {
			t.Errorf("server: decode request: %v", err)
			return
		}
		resp := respond(req)
		payload, err := msgpack.Marshal(&resp)
		if err != nil {
			t.Errorf("server: encode response: %v", err)
			return
		}
		if err := writeFrame(conn, payload); err != nil {
			return
		}
	}
}

func TestFilterTypeRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go fakeServer(t, server, func(req request) response {
		if req.Op != "filter_type" || req.Func != "Grayscale" {
			t.Errorf("unexpected request: %+v", req)
		}
		return response{OK: true, FrameType: &wireFrame{Width: 32, Height: 16, PixFmt: "rgb24"}}
	})

	f := &Filter{name: "Grayscale", conn: client}
	got, err := f.FilterType([]filter.Type{{Kind: filter.FrameValueKind, Frame: filter.FrameType{Width: 32, Height: 16, PixFmt: "rgb24"}}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Width != 32 || got.Height != 16 || got.PixFmt != "rgb24" {
		t.Errorf("FilterType() = %+v", got)
	}
}

func TestFilterErrorResponse(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go fakeServer(t, server, func(req request) response {
		return response{OK: false, Error: "bad kwarg"}
	})

	f := &Filter{name: "Grayscale", conn: client}
	if _, err := f.FilterType(nil, nil); err == nil {
		t.Error("expected error from non-ok response")
	}
}

func TestWireFrameLength(t *testing.T) {
	payload := []byte("hello")
	r, w := io.Pipe()
	go func() {
		if err := writeFrame(w, payload); err != nil {
			t.Errorf("writeFrame: %v", err)
		}
		w.Close()
	}()
	got, err := readFrame(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("readFrame() = %q, want %q", got, payload)
	}
}

func TestWireFrameHeaderSize(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 4+5 {
		t.Fatalf("expected 4-byte length prefix plus 5-byte payload, got %d bytes", buf.Len())
	}
	if n := binary.BigEndian.Uint32(buf.Bytes()[:4]); n != 5 {
		t.Fatalf("length prefix = %d, want 5", n)
	}
}
