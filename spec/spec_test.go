package spec

import (
	"math/big"
	"testing"

	"github.com/ixlab/vidformer/sir"
)

func TestJSONSpecPlaceholder(t *testing.T) {
	doc := []byte(`{"frames": [
		[[0,24], {"type": "filter", "name": "PlaceholderFrame", "kwargs": {
			"width": {"type": "data", "data": {"type": "int", "value": 1920}},
			"height": {"type": "data", "data": {"type": "int", "value": 1080}}
		}}],
		[[1,24], {"type": "source", "video": "tos", "index": {"type": "iloc", "pos": 0}}]
	]}`)

	s, err := NewJSONSpec(doc)
	if err != nil {
		t.Fatal(err)
	}
	domain := s.Domain()
	if len(domain) != 2 {
		t.Fatalf("len(Domain()) = %d", len(domain))
	}
	if domain[0].Cmp(big.NewRat(0, 24)) != 0 || domain[1].Cmp(big.NewRat(1, 24)) != 0 {
		t.Errorf("domain not sorted ascending: %v", domain)
	}

	fe, err := s.Render(domain[0])
	if err != nil {
		t.Fatal(err)
	}
	if fe.Kind != sir.FrameFilterKind || fe.Filter.Name != "PlaceholderFrame" {
		t.Errorf("unexpected render result: %+v", fe)
	}
	width, ok := fe.Filter.Kwargs["width"]
	if !ok || width.Data.Int != 1920 {
		t.Errorf("width kwarg = %+v", width)
	}
}

func TestJSONSpecRenderMissing(t *testing.T) {
	s, err := NewJSONSpec([]byte(`{"frames": []}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Render(big.NewRat(5, 1)); err == nil {
		t.Error("expected error for missing render timestamp")
	}
}
