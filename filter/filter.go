/*
NAME
  filter.go

AUTHORS
  Ella Pietraroia <ella@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/


// Package filter implements the engine's filter contract: pure,
// concurrency-safe type inference and frame production from named
// filters, plus a registry of built-in filters. Frame pixel data is
// carried in an OpenCV Mat, the corpus's own pixel-manipulation library,
// so built-in filters read like the teacher's motion/diff filters rather
// than hand-rolled image-package code.
package filter

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ixlab/vidformer/sir"
	"github.com/ixlab/vidformer/vferr"
)

// FrameType is a frame's shape: width, height, and pixel format. Built-in
// filters and the IPC filter both deal exclusively in "rgb24".
type FrameType struct {
	Width  int
	Height int
	PixFmt string
}

// Frame is one concrete frame value: an 8-bit, 3-channel Mat (OpenCV's
// native BGR channel order) plus its nominal pixel format tag.
type Frame struct {
	Mat    gocv.Mat
	PixFmt string
}

// NewFrame allocates a zeroed frame of the given type.
func NewFrame(t FrameType) Frame {
	return Frame{
		Mat:    gocv.NewMatWithSize(t.Height, t.Width, gocv.MatTypeCV8UC3),
		PixFmt: t.PixFmt,
	}
}

// Type reports f's shape.
func (f Frame) Type() FrameType {
	return FrameType{Width: f.Mat.Cols(), Height: f.Mat.Rows(), PixFmt: f.PixFmt}
}

// Close releases f's underlying Mat.
func (f Frame) Close() error {
	return f.Mat.Close()
}

// ValueKind tags the variant held by a Value or Type.
type ValueKind int

const (
	FrameValueKind ValueKind = iota
	DataValueKind
)

// Value is a runtime-evaluated Expr: either a Frame or a DataExpr.
type Value struct {
	Kind  ValueKind
	Frame Frame
	Data  sir.DataExpr
}

func FrameVal(f Frame) Value       { return Value{Kind: FrameValueKind, Frame: f} }
func DataVal(d sir.DataExpr) Value { return Value{Kind: DataValueKind, Data: d} }

// Type is a value's static type: either a FrameType or a sir.DataKind.
type Type struct {
	Kind  ValueKind
	Frame FrameType
	Data  sir.DataKind
}

func FrameType_(t FrameType) Type    { return Type{Kind: FrameValueKind, Frame: t} }
func DataType(k sir.DataKind) Type { return Type{Kind: DataValueKind, Data: k} }

// Filter is the contract every built-in or external filter implements.
// Both methods must be pure in their inputs and safe for concurrent use.
type Filter interface {
	// FilterType infers the output frame type from argument types alone.
	FilterType(argTypes []Type, kwargTypes map[string]Type) (FrameType, error)
	// Filter produces a frame from argument values, matching the type
	// FilterType would infer from their types.
	Filter(args []Value, kwargs map[string]Value) (Frame, error)
}

// Registry maps filter names to implementations.
type Registry struct {
	mu      sync.RWMutex
	filters map[string]Filter
}

// NewRegistry returns a Registry pre-populated with the built-in
// filters.
func NewRegistry() *Registry {
	r := &Registry{filters: map[string]Filter{}}
	registerBuiltins(r)
	return r
}

// Register adds or replaces a named filter.
func (r *Registry) Register(name string, f Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters[name] = f
}

// Get resolves name to a Filter.
func (r *Registry) Get(name string) (Filter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.filters[name]
	if !ok {
		return nil, vferr.New(vferr.FilterInternalError, "unknown filter %q", name)
	}
	return f, nil
}

// Helpers shared by built-in filters for extracting typed kwargs/args.

func requireKwarg(kwargs map[string]Value, name string) (Value, error) {
	v, ok := kwargs[name]
	if !ok {
		return Value{}, vferr.New(vferr.MissingFilterArg, "missing kwarg %q", name)
	}
	return v, nil
}

func intKwarg(kwargs map[string]Value, name string) (int, error) {
	v, err := requireKwarg(kwargs, name)
	if err != nil {
		return 0, err
	}
	if v.Kind != DataValueKind || v.Data.Kind != sir.KindInt {
		return 0, vferr.New(vferr.InvalidFilterArgType, "kwarg %q must be an int", name)
	}
	return int(v.Data.Int), nil
}

func intKwargDefault(kwargs map[string]Value, name string, def int) (int, error) {
	if _, ok := kwargs[name]; !ok {
		return def, nil
	}
	return intKwarg(kwargs, name)
}

func floatKwargDefault(kwargs map[string]Value, name string, def float64) (float64, error) {
	v, ok := kwargs[name]
	if !ok {
		return def, nil
	}
	if v.Kind != DataValueKind || v.Data.Kind != sir.KindFloat {
		return 0, vferr.New(vferr.InvalidFilterArgType, "kwarg %q must be a float", name)
	}
	return v.Data.Float, nil
}

func frameArg(args []Value, idx int) (Frame, error) {
	if idx >= len(args) {
		return Frame{}, vferr.New(vferr.MissingFilterArg, "missing positional arg %d", idx)
	}
	v := args[idx]
	if v.Kind != FrameValueKind {
		return Frame{}, vferr.New(vferr.InvalidFilterArgType, "positional arg %d must be a frame", idx)
	}
	return v.Frame, nil
}

func frameArgType(argTypes []Type, idx int) (FrameType, error) {
	if idx >= len(argTypes) {
		return FrameType{}, vferr.New(vferr.MissingFilterArg, "missing positional arg %d", idx)
	}
	t := argTypes[idx]
	if t.Kind != FrameValueKind {
		return FrameType{}, vferr.New(vferr.InvalidFilterArgType, "positional arg %d must be a frame", idx)
	}
	return t.Frame, nil
}

func fmtFrameType(t FrameType) string {
	return fmt.Sprintf("%dx%d/%s", t.Width, t.Height, t.PixFmt)
}
