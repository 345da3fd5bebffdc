package feb

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ixlab/vidformer/sir"
)

func frameExprEqual(a, b sir.FrameExpr) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == sir.FrameSourceKind {
		if a.Source.Video != b.Source.Video || a.Source.Index.Kind != b.Source.Index.Kind {
			return false
		}
		if a.Source.Index.Kind == sir.ILoc {
			return a.Source.Index.Pos == b.Source.Index.Pos
		}
		return a.Source.Index.Time.Cmp(b.Source.Index.Time) == 0
	}
	if a.Filter.Name != b.Filter.Name || len(a.Filter.Args) != len(b.Filter.Args) || len(a.Filter.Kwargs) != len(b.Filter.Kwargs) {
		return false
	}
	for i := range a.Filter.Args {
		if !exprEqual(a.Filter.Args[i], b.Filter.Args[i]) {
			return false
		}
	}
	for k, v := range a.Filter.Kwargs {
		ov, ok := b.Filter.Kwargs[k]
		if !ok || !exprEqual(v, ov) {
			return false
		}
	}
	return true
}

func exprEqual(a, b sir.Expr) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == sir.ExprDataKind {
		return a.Data.Equal(b.Data)
	}
	return frameExprEqual(a.Frame, b.Frame)
}

func TestRoundTripSource(t *testing.T) {
	fe := sir.Source("tos", sir.NewILoc(42))
	enc := NewEncoder()
	root := enc.AddFrameExpr(fe)
	block := enc.Block()

	got, err := NewDecoder(block).FrameExpr(root)
	if err != nil {
		t.Fatal(err)
	}
	if !frameExprEqual(fe, got) {
		t.Errorf("round trip mismatch: got %v want %v", got, fe)
	}
}

func TestRoundTripSourceByT(t *testing.T) {
	fe := sir.Source("tos", sir.NewT(big.NewRat(7, 24)))
	enc := NewEncoder()
	root := enc.AddFrameExpr(fe)

	got, err := NewDecoder(enc.Block()).FrameExpr(root)
	if err != nil {
		t.Fatal(err)
	}
	if !frameExprEqual(fe, got) {
		t.Errorf("round trip mismatch: got %v want %v", got, fe)
	}
}

func TestRoundTripNestedFilter(t *testing.T) {
	inner := sir.Filter("Brighten", []sir.Expr{
		sir.FrameArg(sir.Source("a", sir.NewILoc(0))),
	}, map[string]sir.Expr{
		"amount": sir.DataArg(sir.Float(1.5)),
	})
	outer := sir.Filter("HStack", []sir.Expr{
		sir.FrameArg(inner),
		sir.FrameArg(sir.Source("b", sir.NewILoc(3))),
	}, map[string]sir.Expr{
		"gap":    sir.DataArg(sir.Int(8)),
		"labels": sir.DataArg(sir.List(sir.String("left"), sir.String("right"))),
		"coeffs": sir.DataArg(sir.List(sir.Int(1), sir.Int(2), sir.Int(3))),
		"big":    sir.DataArg(sir.Int(5_000_000_000)),
		"empty":  sir.DataArg(sir.DataExpr{Kind: sir.KindList}),
	})

	enc := NewEncoder()
	root := enc.AddFrameExpr(outer)
	got, err := NewDecoder(enc.Block()).FrameExpr(root)
	if err != nil {
		t.Fatal(err)
	}
	if !frameExprEqual(outer, got) {
		t.Errorf("round trip mismatch:\n got  %v\n want %v", got, outer)
	}
}

func TestRoundTripBatch(t *testing.T) {
	fes := []sir.FrameExpr{
		sir.Source("tos", sir.NewILoc(0)),
		sir.Source("tos", sir.NewILoc(1)),
		sir.Filter("PlaceholderFrame", nil, map[string]sir.Expr{
			"width":  sir.DataArg(sir.Int(1920)),
			"height": sir.DataArg(sir.Int(1080)),
		}),
	}
	block, roots := EncodeFrameExprs(fes)
	dec := NewDecoder(block)
	for i, want := range fes {
		got, err := dec.FrameExpr(roots[i])
		if err != nil {
			t.Fatal(err)
		}
		if !frameExprEqual(want, got) {
			t.Errorf("entry %d mismatch: got %v want %v", i, got, want)
		}
	}
}

func TestDedup(t *testing.T) {
	fe1 := sir.Source("tos", sir.NewILoc(0))
	fe2 := sir.Source("tos", sir.NewILoc(1))
	enc := NewEncoder()
	enc.AddFrameExpr(fe1)
	enc.AddFrameExpr(fe2)
	b := enc.Block()
	if len(b.Sources) != 1 {
		t.Errorf("expected 1 deduped source, got %d: %v", len(b.Sources), b.Sources)
	}
}

// TestBlockJSONEnvelope confirms Block's JSON encoding uses the exact
// field names §4.3/§6 name, and that it round-trips through a decoded
// FrameExpr unchanged.
func TestBlockJSONEnvelope(t *testing.T) {
	fe := sir.Filter("HStack", []sir.Expr{
		sir.FrameArg(sir.Source("a", sir.NewILoc(0))),
		sir.FrameArg(sir.Source("b", sir.NewT(big.NewRat(3, 24)))),
	}, map[string]sir.Expr{
		"gap": sir.DataArg(sir.Int(8)),
	})
	enc := NewEncoder()
	root := enc.AddFrameExpr(fe)
	block := enc.Block()

	raw, err := json.Marshal(block)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		t.Fatalf("Unmarshal into map: %v", err)
	}
	for _, field := range []string{"functions", "literals", "sources", "kwarg_keys", "source_fracs", "exprs", "frame_exprs"} {
		if _, ok := asMap[field]; !ok {
			t.Errorf("envelope missing field %q: %s", field, raw)
		}
	}

	var roundTripped Block
	if err := json.Unmarshal(raw, &roundTripped); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	got, err := NewDecoder(roundTripped).FrameExpr(root)
	if err != nil {
		t.Fatal(err)
	}
	if !frameExprEqual(fe, got) {
		t.Errorf("round trip through JSON mismatch: got %v want %v", got, fe)
	}
}
