/*
NAME
  sir.go

DESCRIPTION
  sir.go defines the Spec Intermediate Representation: the data model for
  frame expressions, data expressions and source references that specs are
  built from, plus dependency traversal over that model.
*/

// Package sir provides the high-level representation used to construct a
// video frame from source frames and data. It is the primary interface
// between specs and the rest of the engine.
package sir

import (
	"fmt"
	"math/big"
	"strings"
)

// IndexKind distinguishes the two ways a frame within a source can be
// addressed.
type IndexKind int

const (
	// ILoc addresses the k-th frame of a source by position.
	ILoc IndexKind = iota
	// T addresses a frame by exact timestamp match.
	T
)

// Index is a source-relative frame address: either a position (ILoc) or
// an exact rational timestamp (T).
type Index struct {
	Kind IndexKind
	Pos  uint64   // valid when Kind == ILoc
	Time *big.Rat // valid when Kind == T
}

// NewILoc builds a positional Index.
func NewILoc(pos uint64) Index { return Index{Kind: ILoc, Pos: pos} }

// NewT builds a timestamp Index.
func NewT(t *big.Rat) Index { return Index{Kind: T, Time: t} }

func (idx Index) String() string {
	switch idx.Kind {
	case ILoc:
		return fmt.Sprintf(".iloc[%d]", idx.Pos)
	case T:
		return fmt.Sprintf("[%s]", idx.Time.RatString())
	default:
		return "<invalid index>"
	}
}

// FrameSource names a source video and the frame within it.
type FrameSource struct {
	Video string
	Index Index
}

// DataKind tags the variant held by a DataExpr.
type DataKind int

const (
	KindBool DataKind = iota
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
)

// DataExpr is a literal data value: one of Bool, Int(i64), Float(f64),
// String, Bytes, or a List of DataExpr.
type DataExpr struct {
	Kind  DataKind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Bytes []byte
	List  []DataExpr
}

func Bool(b bool) DataExpr    { return DataExpr{Kind: KindBool, Bool: b} }
func Int(i int64) DataExpr    { return DataExpr{Kind: KindInt, Int: i} }
func Float(f float64) DataExpr { return DataExpr{Kind: KindFloat, Float: f} }
func String(s string) DataExpr { return DataExpr{Kind: KindString, Str: s} }
func Bytes(b []byte) DataExpr  { return DataExpr{Kind: KindBytes, Bytes: append([]byte(nil), b...)} }
func List(items ...DataExpr) DataExpr { return DataExpr{Kind: KindList, List: items} }

func (d DataExpr) String() string {
	switch d.Kind {
	case KindBool:
		return fmt.Sprintf("%v", d.Bool)
	case KindInt:
		return fmt.Sprintf("%d", d.Int)
	case KindFloat:
		return fmt.Sprintf("%v", d.Float)
	case KindString:
		return fmt.Sprintf("%q", d.Str)
	case KindBytes:
		return fmt.Sprintf("<%d bytes>", len(d.Bytes))
	case KindList:
		parts := make([]string, len(d.List))
		for i, item := range d.List {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "<invalid data>"
	}
}

// Equal reports whether two DataExpr values are structurally identical.
func (d DataExpr) Equal(o DataExpr) bool {
	if d.Kind != o.Kind {
		return false
	}
	switch d.Kind {
	case KindBool:
		return d.Bool == o.Bool
	case KindInt:
		return d.Int == o.Int
	case KindFloat:
		return d.Float == o.Float
	case KindString:
		return d.Str == o.Str
	case KindBytes:
		return string(d.Bytes) == string(o.Bytes)
	case KindList:
		if len(d.List) != len(o.List) {
			return false
		}
		for i := range d.List {
			if !d.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// FilterExpr is a call to a named filter with positional and keyword
// arguments.
type FilterExpr struct {
	Name   string
	Args   []Expr
	Kwargs map[string]Expr
}

// FrameExprKind tags the variant held by a FrameExpr.
type FrameExprKind int

const (
	FrameSourceKind FrameExprKind = iota
	FrameFilterKind
)

// FrameExpr is an algebraic term whose value is one decoded video frame:
// either a reference to a source frame, or a filter application.
type FrameExpr struct {
	Kind   FrameExprKind
	Source FrameSource // valid when Kind == FrameSourceKind
	Filter FilterExpr  // valid when Kind == FrameFilterKind
}

func Source(video string, idx Index) FrameExpr {
	return FrameExpr{Kind: FrameSourceKind, Source: FrameSource{Video: video, Index: idx}}
}

func Filter(name string, args []Expr, kwargs map[string]Expr) FrameExpr {
	if kwargs == nil {
		kwargs = map[string]Expr{}
	}
	return FrameExpr{Kind: FrameFilterKind, Filter: FilterExpr{Name: name, Args: args, Kwargs: kwargs}}
}

func (fe FrameExpr) String() string {
	switch fe.Kind {
	case FrameSourceKind:
		return fe.Source.Video + fe.Source.Index.String()
	case FrameFilterKind:
		var b strings.Builder
		b.WriteString(fe.Filter.Name)
		b.WriteByte('(')
		for _, a := range fe.Filter.Args {
			b.WriteString(a.String())
			b.WriteString(", ")
		}
		for k, v := range fe.Filter.Kwargs {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v.String())
			b.WriteString(", ")
		}
		b.WriteByte(')')
		return b.String()
	default:
		return "<invalid frame expr>"
	}
}

// ExprKind tags the variant held by an Expr.
type ExprKind int

const (
	ExprFrameKind ExprKind = iota
	ExprDataKind
	ExprArrayKind
)

// ArrayRef names an entry within a named Array, addressed the same way
// a FrameSource addresses a frame within a source video: by position or
// by exact timestamp.
type ArrayRef struct {
	Name  string
	Index Index
}

// Expr is a frame-valued expression, a data-valued literal, or a
// reference into a named Array; it is the unit that filter arguments
// and kwargs are built from.
type Expr struct {
	Kind  ExprKind
	Frame FrameExpr
	Data  DataExpr
	Array ArrayRef
}

func FrameArg(fe FrameExpr) Expr          { return Expr{Kind: ExprFrameKind, Frame: fe} }
func DataArg(d DataExpr) Expr             { return Expr{Kind: ExprDataKind, Data: d} }
func ArrayArg(name string, idx Index) Expr {
	return Expr{Kind: ExprArrayKind, Array: ArrayRef{Name: name, Index: idx}}
}

func (e Expr) String() string {
	switch e.Kind {
	case ExprFrameKind:
		return e.Frame.String()
	case ExprDataKind:
		return e.Data.String()
	case ExprArrayKind:
		return e.Array.Name + e.Array.Index.String()
	default:
		return "<invalid expr>"
	}
}

// AddSourceDeps appends every FrameSource transitively referenced by e into
// deps, recursing through filter arguments and kwargs.
func (e Expr) AddSourceDeps(deps *[]FrameSource) {
	if e.Kind == ExprFrameKind {
		e.Frame.AddSourceDeps(deps)
	}
}

// AddSourceDeps appends every FrameSource transitively referenced by fe into
// deps.
func (fe FrameExpr) AddSourceDeps(deps *[]FrameSource) {
	switch fe.Kind {
	case FrameSourceKind:
		*deps = append(*deps, fe.Source)
	case FrameFilterKind:
		for _, a := range fe.Filter.Args {
			a.AddSourceDeps(deps)
		}
		for _, a := range fe.Filter.Kwargs {
			a.AddSourceDeps(deps)
		}
	}
}

// SourceDeps returns the set of distinct source videos referenced by fe,
// in first-seen order.
func (fe FrameExpr) SourceDeps() []string {
	var all []FrameSource
	fe.AddSourceDeps(&all)
	seen := make(map[string]bool, len(all))
	var out []string
	for _, fs := range all {
		if !seen[fs.Video] {
			seen[fs.Video] = true
			out = append(out, fs.Video)
		}
	}
	return out
}
