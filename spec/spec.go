/*
NAME
  spec.go

DESCRIPTION
  spec.go defines the Spec contract (a pure function from output
  timestamps to frame expressions) and a JSON-backed implementation.
*/

// Package spec provides the Spec contract that the DVE evaluates: a
// stateless, deterministic, thread-safe pure function from a finite
// ordered set of timestamps to frame expressions.
package spec

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"github.com/ixlab/vidformer/sir"
)

// Spec is implemented by anything the DVE can render frames from. Domain
// must return an ascending, duplicate-free list starting at 0; Render must
// be deterministic and safe to call concurrently for different t.
type Spec interface {
	Domain() []*big.Rat
	Render(t *big.Rat) (sir.FrameExpr, error)
}

// JSONSpec is a Spec backed by a flat JSON document: a list of
// [timestamp, frame expression] pairs.
type JSONSpec struct {
	ts     []*big.Rat
	frames map[string]sir.FrameExpr
}

type jsonEnvelope struct {
	Frames []json.RawMessage `json:"frames"`
}

// NewJSONSpec parses doc per the Spec JSON envelope:
// {"frames": [[rational, FrameExpr], ...]}.
func NewJSONSpec(doc []byte) (*JSONSpec, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(doc, &env); err != nil {
		return nil, fmt.Errorf("vidformer: decode spec: %w", err)
	}

	s := &JSONSpec{frames: map[string]sir.FrameExpr{}}
	for i, raw := range env.Frames {
		var pair [2]json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil {
			return nil, fmt.Errorf("vidformer: decode spec entry %d: %w", i, err)
		}
		var rp [2]int64
		if err := json.Unmarshal(pair[0], &rp); err != nil {
			return nil, fmt.Errorf("vidformer: decode spec entry %d timestamp: %w", i, err)
		}
		t := big.NewRat(rp[0], rp[1])

		fe, err := decodeFrameExpr(pair[1])
		if err != nil {
			return nil, fmt.Errorf("vidformer: decode spec entry %d frame: %w", i, err)
		}

		s.ts = append(s.ts, t)
		s.frames[t.RatString()] = fe
	}

	sort.Slice(s.ts, func(i, j int) bool { return s.ts[i].Cmp(s.ts[j]) < 0 })
	return s, nil
}

func (s *JSONSpec) Domain() []*big.Rat { return s.ts }

func (s *JSONSpec) Render(t *big.Rat) (sir.FrameExpr, error) {
	fe, ok := s.frames[t.RatString()]
	if !ok {
		return sir.FrameExpr{}, fmt.Errorf("vidformer: spec has no frame at t=%s", t.RatString())
	}
	return fe, nil
}

// --- tagged JSON decoding for SIR types, matching sir's field names. ---

type taggedFrameExpr struct {
	Type   string          `json:"type"` // "source" | "filter"
	Video  string          `json:"video,omitempty"`
	Index  json.RawMessage `json:"index,omitempty"`
	Name   string          `json:"name,omitempty"`
	Args   []json.RawMessage         `json:"args,omitempty"`
	Kwargs map[string]json.RawMessage `json:"kwargs,omitempty"`
}

func decodeFrameExpr(raw json.RawMessage) (sir.FrameExpr, error) {
	var t taggedFrameExpr
	if err := json.Unmarshal(raw, &t); err != nil {
		return sir.FrameExpr{}, err
	}
	switch t.Type {
	case "source":
		idx, err := decodeIndex(t.Index)
		if err != nil {
			return sir.FrameExpr{}, err
		}
		return sir.Source(t.Video, idx), nil
	case "filter":
		args := make([]sir.Expr, len(t.Args))
		for i, a := range t.Args {
			e, err := decodeExpr(a)
			if err != nil {
				return sir.FrameExpr{}, err
			}
			args[i] = e
		}
		kwargs := map[string]sir.Expr{}
		for k, v := range t.Kwargs {
			e, err := decodeExpr(v)
			if err != nil {
				return sir.FrameExpr{}, err
			}
			kwargs[k] = e
		}
		return sir.Filter(t.Name, args, kwargs), nil
	default:
		return sir.FrameExpr{}, fmt.Errorf("vidformer: unknown frame expr type %q", t.Type)
	}
}

type taggedIndex struct {
	Type string `json:"type"` // "iloc" | "t"
	Pos  uint64 `json:"pos,omitempty"`
	T    [2]int64 `json:"t,omitempty"`
}

func decodeIndex(raw json.RawMessage) (sir.Index, error) {
	var t taggedIndex
	if err := json.Unmarshal(raw, &t); err != nil {
		return sir.Index{}, err
	}
	switch t.Type {
	case "iloc":
		return sir.NewILoc(t.Pos), nil
	case "t":
		return sir.NewT(big.NewRat(t.T[0], t.T[1])), nil
	default:
		return sir.Index{}, fmt.Errorf("vidformer: unknown index type %q", t.Type)
	}
}

type taggedExpr struct {
	Type  string          `json:"type"` // "frame" | "data" | "array"
	Frame json.RawMessage `json:"frame,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Array string          `json:"array,omitempty"`
	Index json.RawMessage `json:"index,omitempty"`
}

func decodeExpr(raw json.RawMessage) (sir.Expr, error) {
	var t taggedExpr
	if err := json.Unmarshal(raw, &t); err != nil {
		return sir.Expr{}, err
	}
	switch t.Type {
	case "frame":
		fe, err := decodeFrameExpr(t.Frame)
		if err != nil {
			return sir.Expr{}, err
		}
		return sir.FrameArg(fe), nil
	case "data":
		d, err := decodeDataExprJSON(t.Data)
		if err != nil {
			return sir.Expr{}, err
		}
		return sir.DataArg(d), nil
	case "array":
		idx, err := decodeIndex(t.Index)
		if err != nil {
			return sir.Expr{}, err
		}
		return sir.ArrayArg(t.Array, idx), nil
	default:
		return sir.Expr{}, fmt.Errorf("vidformer: unknown expr type %q", t.Type)
	}
}

type taggedDataExpr struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func decodeDataExprJSON(raw json.RawMessage) (sir.DataExpr, error) {
	var t taggedDataExpr
	if err := json.Unmarshal(raw, &t); err != nil {
		return sir.DataExpr{}, err
	}
	switch t.Type {
	case "bool":
		var v bool
		json.Unmarshal(t.Value, &v)
		return sir.Bool(v), nil
	case "int":
		var v int64
		json.Unmarshal(t.Value, &v)
		return sir.Int(v), nil
	case "float":
		var v float64
		json.Unmarshal(t.Value, &v)
		return sir.Float(v), nil
	case "string":
		var v string
		json.Unmarshal(t.Value, &v)
		return sir.String(v), nil
	case "bytes":
		var v []byte
		json.Unmarshal(t.Value, &v)
		return sir.Bytes(v), nil
	case "list":
		var raws []json.RawMessage
		json.Unmarshal(t.Value, &raws)
		items := make([]sir.DataExpr, len(raws))
		for i, r := range raws {
			v, err := decodeDataExprJSON(r)
			if err != nil {
				return sir.DataExpr{}, err
			}
			items[i] = v
		}
		return sir.List(items...), nil
	default:
		return sir.DataExpr{}, fmt.Errorf("vidformer: unknown data expr type %q", t.Type)
	}
}
