package sir

import (
	"math/big"
	"testing"
)

func TestIndexString(t *testing.T) {
	if got := NewILoc(3).String(); got != ".iloc[3]" {
		t.Errorf("ILoc(3).String() = %q", got)
	}
	tt := NewT(big.NewRat(1, 24))
	if got := tt.String(); got != "[1/24]" {
		t.Errorf("T(1/24).String() = %q", got)
	}
}

func TestDataExprEqual(t *testing.T) {
	a := List(Int(1), Int(2), String("x"))
	b := List(Int(1), Int(2), String("x"))
	c := List(Int(1), Int(3), String("x"))
	if !a.Equal(b) {
		t.Error("expected a == b")
	}
	if a.Equal(c) {
		t.Error("expected a != c")
	}
}

func TestSourceDeps(t *testing.T) {
	fe := Filter("hstack", []Expr{
		FrameArg(Source("a", NewILoc(0))),
		FrameArg(Source("b", NewT(big.NewRat(5, 1)))),
	}, map[string]Expr{
		"overlay": FrameArg(Source("a", NewILoc(1))),
	})

	deps := fe.SourceDeps()
	seen := map[string]bool{}
	for _, d := range deps {
		seen[d] = true
	}
	if len(seen) != 2 || !seen["a"] || !seen["b"] {
		t.Errorf("unexpected deps: %v", deps)
	}
}

func TestFrameExprString(t *testing.T) {
	fe := Source("tos", NewILoc(4))
	if got := fe.String(); got != "tos.iloc[4]" {
		t.Errorf("String() = %q", got)
	}
}
