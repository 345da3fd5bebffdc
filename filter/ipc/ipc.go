/*
NAME
  ipc.go

DESCRIPTION
  ipc.go implements the socket-based external filter: a length-prefixed,
  MessagePack-encoded request/response protocol over one connection per
  filter process, with only RGB24 pixel data ever crossing the wire.
*/

// Package ipc implements the engine's external-filter protocol: a
// length-prefixed MessagePack request/response exchange over a
// connection-per-filter channel, letting a filter live in another
// process or language while still satisfying filter.Filter.
package ipc

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"gocv.io/x/gocv"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ixlab/vidformer/filter"
	"github.com/ixlab/vidformer/sir"
	"github.com/ixlab/vidformer/vferr"
)

// maxFrameBytes bounds one wire message, guarding against a filter
// process that sends a bogus length prefix.
const maxFrameBytes = 256 << 20

// wireData mirrors sir.DataExpr for the wire: a tagged union with one
// populated payload field per Kind.
type wireData struct {
	Kind  string      `msgpack:"kind"`
	Bool  bool        `msgpack:"bool,omitempty"`
	Int   int64       `msgpack:"int,omitempty"`
	Float float64     `msgpack:"float,omitempty"`
	Str   string      `msgpack:"str,omitempty"`
	Bytes []byte      `msgpack:"bytes,omitempty"`
	List  []wireData  `msgpack:"list,omitempty"`
}

func dataKindName(k sir.DataKind) string {
	switch k {
	case sir.KindBool:
		return "bool"
	case sir.KindInt:
		return "int"
	case sir.KindFloat:
		return "float"
	case sir.KindString:
		return "string"
	case sir.KindBytes:
		return "bytes"
	case sir.KindList:
		return "list"
	default:
		return "unknown"
	}
}

func toWireData(d sir.DataExpr) wireData {
	w := wireData{Kind: dataKindName(d.Kind), Bool: d.Bool, Int: d.Int, Float: d.Float, Str: d.Str, Bytes: d.Bytes}
	for _, item := range d.List {
		w.List = append(w.List, toWireData(item))
	}
	return w
}

func fromWireData(w wireData) (sir.DataExpr, error) {
	switch w.Kind {
	case "bool":
		return sir.Bool(w.Bool), nil
	case "int":
		return sir.Int(w.Int), nil
	case "float":
		return sir.Float(w.Float), nil
	case "string":
		return sir.String(w.Str), nil
	case "bytes":
		return sir.Bytes(w.Bytes), nil
	case "list":
		items := make([]sir.DataExpr, len(w.List))
		for i, item := range w.List {
			d, err := fromWireData(item)
			if err != nil {
				return sir.DataExpr{}, err
			}
			items[i] = d
		}
		return sir.List(items...), nil
	default:
		return sir.DataExpr{}, vferr.New(vferr.FilterInternalError, "ipc: unrecognized data kind %q on wire", w.Kind)
	}
}

// wireFrame carries a frame's shape and, when present, its raw RGB24
// pixel bytes (row-major, 3 bytes per pixel).
type wireFrame struct {
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	PixFmt string `msgpack:"pix_fmt"`
	Bytes  []byte `msgpack:"bytes,omitempty"`
}

// wireValue is either a frame or a data value.
type wireValue struct {
	Kind  string     `msgpack:"kind"` // "frame" | "data"
	Frame *wireFrame `msgpack:"frame,omitempty"`
	Data  *wireData  `msgpack:"data,omitempty"`
}

func toWireType(t filter.Type) wireValue {
	if t.Kind == filter.FrameValueKind {
		return wireValue{Kind: "frame", Frame: &wireFrame{Width: t.Frame.Width, Height: t.Frame.Height, PixFmt: t.Frame.PixFmt}}
	}
	d := wireData{Kind: dataKindName(t.Data)}
	return wireValue{Kind: "data", Data: &d}
}

func toWireValue(v filter.Value) (wireValue, error) {
	if v.Kind == filter.FrameValueKind {
		data, err := v.Frame.Mat.DataPtrUint8()
		if err != nil {
			return wireValue{}, vferr.Wrap(vferr.FilterInternalError, err, "ipc: read frame bytes")
		}
		buf := make([]byte, len(data))
		copy(buf, data)
		ft := v.Frame.Type()
		return wireValue{Kind: "frame", Frame: &wireFrame{Width: ft.Width, Height: ft.Height, PixFmt: ft.PixFmt, Bytes: buf}}, nil
	}
	d := toWireData(v.Data)
	return wireValue{Kind: "data", Data: &d}, nil
}

// request is one call into the external filter process.
type request struct {
	Func   string               `msgpack:"func"`
	Op     string               `msgpack:"op"` // "filter" | "filter_type"
	Args   []wireValue          `msgpack:"args"`
	Kwargs map[string]wireValue `msgpack:"kwargs"`
}

type response struct {
	OK        bool       `msgpack:"ok"`
	Error     string     `msgpack:"error,omitempty"`
	FrameType *wireFrame `msgpack:"frame_type,omitempty"`
	Frame     *wireFrame `msgpack:"frame,omitempty"`
}

// Filter is a filter.Filter backed by a length-prefixed MessagePack
// connection to an external process. One request is outstanding on the
// connection at a time; concurrent callers serialize behind mu.
type Filter struct {
	name string
	mu   sync.Mutex
	conn net.Conn
}

// Dial connects to an external filter process serving name over a
// length-prefixed MessagePack protocol at address (e.g. a Unix socket
// path with network "unix").
func Dial(network, address, name string) (*Filter, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, vferr.Wrap(vferr.IOError, err, "ipc: dial external filter %q at %s:%s", name, network, address)
	}
	return &Filter{name: name, conn: conn}, nil
}

// Close closes the underlying connection.
func (f *Filter) Close() error { return f.conn.Close() }

func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameBytes {
		return vferr.New(vferr.FilterInternalError, "ipc: outgoing message too large (%d bytes)", len(payload))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameBytes {
		return nil, vferr.New(vferr.FilterInternalError, "ipc: incoming message too large (%d bytes)", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (f *Filter) call(req request) (response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	payload, err := msgpack.Marshal(&req)
	if err != nil {
		return response{}, vferr.Wrap(vferr.FilterInternalError, err, "ipc: encode request to %q", f.name)
	}
	if err := writeFrame(f.conn, payload); err != nil {
		return response{}, vferr.Wrap(vferr.IOError, err, "ipc: write request to %q", f.name)
	}

	raw, err := readFrame(f.conn)
	if err != nil {
		return response{}, vferr.Wrap(vferr.IOError, err, "ipc: read response from %q", f.name)
	}
	var resp response
	if err := msgpack.Unmarshal(raw, &resp); err != nil {
		return response{}, vferr.Wrap(vferr.FilterInternalError, err, "ipc: decode response from %q", f.name)
	}
	if !resp.OK {
		return response{}, vferr.New(vferr.FilterInternalError, "ipc: %q: %s", f.name, resp.Error)
	}
	return resp, nil
}

func buildRequest(op, name string, args []wireValue, kwargs map[string]wireValue) request {
	return request{Func: name, Op: op, Args: args, Kwargs: kwargs}
}

// FilterType asks the external process to infer the output frame type.
func (f *Filter) FilterType(argTypes []filter.Type, kwargTypes map[string]filter.Type) (filter.FrameType, error) {
	args := make([]wireValue, len(argTypes))
	for i, t := range argTypes {
		args[i] = toWireType(t)
	}
	kwargs := make(map[string]wireValue, len(kwargTypes))
	for k, t := range kwargTypes {
		kwargs[k] = toWireType(t)
	}

	resp, err := f.call(buildRequest("filter_type", f.name, args, kwargs))
	if err != nil {
		return filter.FrameType{}, err
	}
	if resp.FrameType == nil {
		return filter.FrameType{}, vferr.New(vferr.FilterInternalError, "ipc: %q: filter_type response missing frame_type", f.name)
	}
	return filter.FrameType{Width: resp.FrameType.Width, Height: resp.FrameType.Height, PixFmt: resp.FrameType.PixFmt}, nil
}

// Filter asks the external process to produce a frame. Only RGB24 is
// exchanged: non-rgb24 frame arguments are rejected before the call.
func (f *Filter) Filter(args []filter.Value, kwargs map[string]filter.Value) (filter.Frame, error) {
	wargs := make([]wireValue, len(args))
	for i, v := range args {
		if v.Kind == filter.FrameValueKind && v.Frame.PixFmt != "rgb24" {
			return filter.Frame{}, vferr.New(vferr.InvalidFilterArgType, "ipc: %q: only rgb24 frames may cross the wire, got %q", f.name, v.Frame.PixFmt)
		}
		wv, err := toWireValue(v)
		if err != nil {
			return filter.Frame{}, err
		}
		wargs[i] = wv
	}
	wkwargs := make(map[string]wireValue, len(kwargs))
	for k, v := range kwargs {
		if v.Kind == filter.FrameValueKind && v.Frame.PixFmt != "rgb24" {
			return filter.Frame{}, vferr.New(vferr.InvalidFilterArgType, "ipc: %q: only rgb24 frames may cross the wire, got %q", f.name, v.Frame.PixFmt)
		}
		wv, err := toWireValue(v)
		if err != nil {
			return filter.Frame{}, err
		}
		wkwargs[k] = wv
	}

	resp, err := f.call(buildRequest("filter", f.name, wargs, wkwargs))
	if err != nil {
		return filter.Frame{}, err
	}
	if resp.Frame == nil {
		return filter.Frame{}, vferr.New(vferr.FilterInternalError, "ipc: %q: filter response missing frame", f.name)
	}
	want := resp.Frame.Width * resp.Frame.Height * 3
	if len(resp.Frame.Bytes) != want {
		return filter.Frame{}, vferr.New(vferr.FilterInternalError, "ipc: %q: got %d frame bytes, want %d for %dx%d rgb24", f.name, len(resp.Frame.Bytes), want, resp.Frame.Width, resp.Frame.Height)
	}

	mat, err := gocv.NewMatFromBytes(resp.Frame.Height, resp.Frame.Width, gocv.MatTypeCV8UC3, resp.Frame.Bytes)
	if err != nil {
		return filter.Frame{}, vferr.Wrap(vferr.FilterInternalError, err, "ipc: %q: decode response frame bytes", f.name)
	}
	return filter.Frame{Mat: mat, PixFmt: "rgb24"}, nil
}
