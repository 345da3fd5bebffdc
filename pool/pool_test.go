package pool

import (
	"math/big"
	"testing"

	"github.com/ixlab/vidformer/av"
	"github.com/ixlab/vidformer/config"
	"github.com/ixlab/vidformer/source"
)

func rat(n int64) *big.Rat { return big.NewRat(n, 24) }

func ref(src string, n int64) IFrameRef { return IFrameRef{Source: src, Pts: rat(n)} }

func gens(refs ...IFrameRef) map[FrameKey]IFrameRef {
	out := map[FrameKey]IFrameRef{}
	for _, r := range refs {
		out[r.Key()] = r
	}
	return out
}

func testSources() map[string]*source.Profile {
	ts := []*big.Rat{rat(0), rat(1), rat(2), rat(3), rat(4), rat(5)}
	keys := []*big.Rat{rat(0), rat(3)}
	return map[string]*source.Profile{
		"a": {Name: "a", TS: ts, Keys: keys},
	}
}

func baseConfig() config.Config {
	return config.Config{
		DecodePoolSize: 2,
		DecoderView:    2,
		Decoders:       2,
		Filterers:      1,
		OutputWidth:    1,
		OutputHeight:   1,
		OutputPixFmt:   "yuv420p",
	}
}

func TestNewAdmitsWithinDecoderView(t *testing.T) {
	perGen := []map[FrameKey]IFrameRef{
		gens(ref("a", 0)),
		gens(ref("a", 1)),
		gens(ref("a", 2)),
	}
	cfg := baseConfig()
	cfg.DecodePoolSize = 3
	p, err := New(perGen, testSources(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.ActiveGens()) != cfg.DecoderView {
		t.Errorf("active gens = %d, want %d (decoder_view cap)", len(p.ActiveGens()), cfg.DecoderView)
	}
}

func TestNewRejectsZeroPoolSize(t *testing.T) {
	cfg := baseConfig()
	cfg.DecodePoolSize = 0
	if _, err := New(nil, testSources(), cfg); err == nil {
		t.Error("expected error for decode_pool_size == 0")
	}
}

func TestDecodedAdmitsNeededFrame(t *testing.T) {
	perGen := []map[FrameKey]IFrameRef{gens(ref("a", 0))}
	cfg := baseConfig()
	p, err := New(perGen, testSources(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	p.Decoders["d1"] = &DecoderState{Source: "a", FutureFrames: []*big.Rat{rat(0)}}

	if p.IsGenReady(0) {
		t.Fatal("gen 0 should not be ready before decode")
	}

	p.Decoded("d1", ref("a", 0), &av.Frame{Pts: rat(0)})

	if p.MembersLen() != 1 {
		t.Errorf("members = %d, want 1", p.MembersLen())
	}
	if !p.IsGenReady(0) {
		t.Error("gen 0 should be ready after decode")
	}

	frames := p.GetReadyGenFrames(0)
	if len(frames) != 1 {
		t.Fatalf("ready frames = %d, want 1", len(frames))
	}
}

func TestDecodedEvictsUnneededFrameWhenFull(t *testing.T) {
	perGen := []map[FrameKey]IFrameRef{gens(ref("a", 3))}
	cfg := baseConfig()
	cfg.DecodePoolSize = 1
	p, err := New(perGen, testSources(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	p.Decoders["d1"] = &DecoderState{Source: "a", FutureFrames: []*big.Rat{rat(3)}}

	// A frame nobody needs slips into the pool (e.g. a decoder ran ahead).
	p.Decoded("d1", ref("a", 99), &av.Frame{Pts: rat(99)})
	if p.MembersLen() != 1 {
		t.Fatalf("members = %d, want 1", p.MembersLen())
	}

	// The actually-needed frame should evict it since the pool is full.
	p.Decoded("d1", ref("a", 3), &av.Frame{Pts: rat(3)})
	if p.MembersLen() != 1 {
		t.Fatalf("members = %d, want 1", p.MembersLen())
	}
	if !p.IsGenReady(0) {
		t.Error("gen 0 should be ready: needed frame should have evicted the unneeded one")
	}
}

func TestShouldStall(t *testing.T) {
	perGen := []map[FrameKey]IFrameRef{gens(ref("a", 0))}
	cfg := baseConfig()
	p, err := New(perGen, testSources(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	p.Decoders["d1"] = &DecoderState{Source: "a", FutureFrames: []*big.Rat{rat(5)}}
	if !p.ShouldStall("d1") {
		t.Error("decoder whose future frames never satisfy the need set should stall")
	}

	p.Decoders["d2"] = &DecoderState{Source: "a", FutureFrames: []*big.Rat{rat(0)}}
	if p.ShouldStall("d2") {
		t.Error("decoder en route to a needed frame should not stall")
	}
}

func TestFinishGenAdvancesPastAndAdmitsNext(t *testing.T) {
	perGen := []map[FrameKey]IFrameRef{
		gens(ref("a", 0)),
		gens(ref("a", 1)),
		gens(ref("a", 2)),
	}
	cfg := baseConfig()
	cfg.DecoderView = 1
	cfg.DecodePoolSize = 3
	p, err := New(perGen, testSources(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.ActiveGens(); len(got) != 1 || got[0] != 0 {
		t.Fatalf("active gens = %v, want [0]", got)
	}

	p.FinishGen(0)
	if got := p.ActiveGens(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("active gens after finishing 0 = %v, want [1]", got)
	}
}
