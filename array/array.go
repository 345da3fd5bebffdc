/*
NAME
  array.go

DESCRIPTION
  array.go provides Array: a secondary, dual-indexed (position or
  timestamp) data source that specs and filters can reference alongside
  frame expressions, plus a JSON-backed implementation.
*/

// Package array stores conventional data (numbers, strings, lists) keyed
// by position or by timestamp, parallel to how a Spec keys frame
// expressions.
package array

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ixlab/vidformer/sir"
)

// Array is a dual-indexed data source: domain() returns the ascending,
// duplicate-free, zero-starting set of times at which it is defined.
type Array interface {
	Domain() []*big.Rat
	Index(idx int) sir.DataExpr
	IndexT(t *big.Rat) (sir.DataExpr, error)
}

// JSONArray is an Array backed by a flat JSON document of (time, value)
// pairs.
type JSONArray struct {
	times  []*big.Rat
	values []sir.DataExpr
}

type jsonEntry struct {
	T     [2]int64        `json:"t"`
	Value json.RawMessage `json:"value"`
}

// NewJSONArray builds a JSONArray from raw JSON document bytes: a list of
// {"t": [num, den], "value": <tagged data expr>} entries in ascending
// time order.
func NewJSONArray(doc []byte) (*JSONArray, error) {
	var entries []jsonEntry
	if err := json.Unmarshal(doc, &entries); err != nil {
		return nil, fmt.Errorf("vidformer: decode array: %w", err)
	}

	a := &JSONArray{
		times:  make([]*big.Rat, len(entries)),
		values: make([]sir.DataExpr, len(entries)),
	}
	for i, e := range entries {
		a.times[i] = big.NewRat(e.T[0], e.T[1])
		v, err := decodeDataExpr(e.Value)
		if err != nil {
			return nil, fmt.Errorf("vidformer: decode array entry %d: %w", i, err)
		}
		a.values[i] = v
	}
	return a, nil
}

func (a *JSONArray) Domain() []*big.Rat { return a.times }

func (a *JSONArray) Index(idx int) sir.DataExpr { return a.values[idx] }

func (a *JSONArray) IndexT(t *big.Rat) (sir.DataExpr, error) {
	lo, hi := 0, len(a.times)
	for lo < hi {
		mid := (lo + hi) / 2
		if a.times[mid].Cmp(t) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(a.times) && a.times[lo].Cmp(t) == 0 {
		return a.values[lo], nil
	}
	return sir.DataExpr{}, fmt.Errorf("vidformer: IndexOutOfBounds: array has no entry at t=%s", t.RatString())
}

type taggedDataExpr struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func decodeDataExpr(raw json.RawMessage) (sir.DataExpr, error) {
	var t taggedDataExpr
	if err := json.Unmarshal(raw, &t); err != nil {
		return sir.DataExpr{}, err
	}
	switch t.Type {
	case "bool":
		var v bool
		if err := json.Unmarshal(t.Value, &v); err != nil {
			return sir.DataExpr{}, err
		}
		return sir.Bool(v), nil
	case "int":
		var v int64
		if err := json.Unmarshal(t.Value, &v); err != nil {
			return sir.DataExpr{}, err
		}
		return sir.Int(v), nil
	case "float":
		var v float64
		if err := json.Unmarshal(t.Value, &v); err != nil {
			return sir.DataExpr{}, err
		}
		return sir.Float(v), nil
	case "string":
		var v string
		if err := json.Unmarshal(t.Value, &v); err != nil {
			return sir.DataExpr{}, err
		}
		return sir.String(v), nil
	case "bytes":
		var v []byte
		if err := json.Unmarshal(t.Value, &v); err != nil {
			return sir.DataExpr{}, err
		}
		return sir.Bytes(v), nil
	case "list":
		var raws []json.RawMessage
		if err := json.Unmarshal(t.Value, &raws); err != nil {
			return sir.DataExpr{}, err
		}
		items := make([]sir.DataExpr, len(raws))
		for i, r := range raws {
			v, err := decodeDataExpr(r)
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
