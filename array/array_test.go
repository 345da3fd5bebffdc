package array

import (
	"math/big"
	"testing"
)

func TestJSONArrayIndex(t *testing.T) {
	doc := []byte(`[
		{"t": [0, 1], "value": {"type": "int", "value": 10}},
		{"t": [1, 24], "value": {"type": "string", "value": "hi"}}
	]`)
	a, err := NewJSONArray(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Domain()) != 2 {
		t.Fatalf("len(Domain()) = %d", len(a.Domain()))
	}
	if a.Index(0).Int != 10 {
		t.Errorf("Index(0) = %v", a.Index(0))
	}
	v, err := a.IndexT(big.NewRat(1, 24))
	if err != nil {
		t.Fatal(err)
	}
	if v.Str != "hi" {
		t.Errorf("IndexT = %v", v)
	}
}

func TestJSONArrayIndexTMiss(t *testing.T) {
	doc := []byte(`[{"t": [0, 1], "value": {"type": "bool", "value": true}}]`)
	a, err := NewJSONArray(doc)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.IndexT(big.NewRat(5, 1)); err == nil {
		t.Error("expected error for missing time")
	}
}
