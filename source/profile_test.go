package source

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/ixlab/vidformer/av"
	"github.com/ixlab/vidformer/service"
)

// fakeDemuxer replays a fixed packet sequence, grounding the profiler's
// invariant checks without a real codec library.
type fakeDemuxer struct {
	meta av.StreamMeta
	pkts []av.Packet
	i    int
}

func (f *fakeDemuxer) Open(path string, streamIdx int) (av.StreamMeta, error) {
	return f.meta, nil
}

func (f *fakeDemuxer) NextPacket() (av.Packet, error) {
	if f.i >= len(f.pkts) {
		return av.Packet{}, av.ErrEndOfStream
	}
	p := f.pkts[f.i]
	f.i++
	return p, nil
}

func (f *fakeDemuxer) Close() error { return nil }

func rat(n, d int64) *big.Rat { return big.NewRat(n, d) }

func twoGOPDemuxer() *fakeDemuxer {
	return &fakeDemuxer{
		meta: av.StreamMeta{Codec: "h264", PixFmt: "yuv420p", Width: 1280, Height: 720},
		pkts: []av.Packet{
			{Pts: rat(0, 24), KeyFrame: true},
			{Pts: rat(1, 24), KeyFrame: false},
			{Pts: rat(2, 24), KeyFrame: false},
			{Pts: rat(3, 24), KeyFrame: true},
			{Pts: rat(4, 24), KeyFrame: false},
		},
	}
}

func TestBuildProfile(t *testing.T) {
	reg := service.NewRegistry()
	reg.Register("fake", func(map[string]string) (service.Backend, error) { return fakeSizeBackend{}, nil })

	p, err := BuildProfile("tos", "tos.mp4", 0, service.Descriptor{Service: "fake"}, reg, twoGOPDemuxer())
	if err != nil {
		t.Fatal(err)
	}
	if len(p.TS) != 5 {
		t.Fatalf("len(TS) = %d", len(p.TS))
	}
	if len(p.Keys) != 2 {
		t.Fatalf("len(Keys) = %d", len(p.Keys))
	}
	if p.Keys[0].Cmp(p.TS[0]) != 0 {
		t.Error("first key must equal first ts")
	}
}

func TestBuildProfileRejectsNonKeyFirst(t *testing.T) {
	reg := service.NewRegistry()
	reg.Register("fake", func(map[string]string) (service.Backend, error) { return fakeSizeBackend{}, nil })

	d := &fakeDemuxer{pkts: []av.Packet{{Pts: rat(0, 24), KeyFrame: false}}}
	_, err := BuildProfile("x", "x.mp4", 0, service.Descriptor{Service: "fake"}, reg, d)
	if err == nil {
		t.Fatal("expected error when first packet is not a keyframe")
	}
}

func TestBuildProfileRejectsDuplicatePts(t *testing.T) {
	reg := service.NewRegistry()
	reg.Register("fake", func(map[string]string) (service.Backend, error) { return fakeSizeBackend{}, nil })

	d := &fakeDemuxer{pkts: []av.Packet{
		{Pts: rat(0, 24), KeyFrame: true},
		{Pts: rat(0, 24), KeyFrame: false},
	}}
	_, err := BuildProfile("x", "x.mp4", 0, service.Descriptor{Service: "fake"}, reg, d)
	if err == nil {
		t.Fatal("expected error for duplicate pts")
	}
}

func TestILocAndResolveT(t *testing.T) {
	reg := service.NewRegistry()
	reg.Register("fake", func(map[string]string) (service.Backend, error) { return fakeSizeBackend{}, nil })
	p, err := BuildProfile("tos", "tos.mp4", 0, service.Descriptor{Service: "fake"}, reg, twoGOPDemuxer())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.ILoc(100); err == nil {
		t.Error("expected IndexOutOfBounds for ILoc past end")
	}
	if ts, err := p.ILoc(2); err != nil || ts.Cmp(rat(2, 24)) != 0 {
		t.Errorf("ILoc(2) = %v, %v", ts, err)
	}

	if _, err := p.ResolveT(rat(7, 24)); err == nil {
		t.Error("expected IndexOutOfBounds for non-exact T")
	}
	if ts, err := p.ResolveT(rat(3, 24)); err != nil || ts.Cmp(rat(3, 24)) != 0 {
		t.Errorf("ResolveT(3/24) = %v, %v", ts, err)
	}
}

func TestGOPIndexAndFrames(t *testing.T) {
	reg := service.NewRegistry()
	reg.Register("fake", func(map[string]string) (service.Backend, error) { return fakeSizeBackend{}, nil })
	p, err := BuildProfile("tos", "tos.mp4", 0, service.Descriptor{Service: "fake"}, reg, twoGOPDemuxer())
	if err != nil {
		t.Fatal(err)
	}

	if g := p.GOPIndex(rat(2, 24)); g != 0 {
		t.Errorf("GOPIndex(2/24) = %d, want 0", g)
	}
	if g := p.GOPIndex(rat(4, 24)); g != 1 {
		t.Errorf("GOPIndex(4/24) = %d, want 1", g)
	}

	frames := p.GOPFrames(0)
	if len(frames) != 3 {
		t.Errorf("len(GOPFrames(0)) = %d, want 3", len(frames))
	}
	frames = p.GOPFrames(1)
	if len(frames) != 2 {
		t.Errorf("len(GOPFrames(1)) = %d, want 2", len(frames))
	}
}

// fakeDecoder replays a fixed, pts-ordered frame sequence: SeekAndOpen
// resets the read cursor to the frame matching keyPts and NextFrame
// decodes forward to the true end of the sequence, mirroring the real
// decoder's GOP-agnostic NextFrame (Validate's per-GOP loop is what
// stops early, not the decoder itself).
type fakeDecoder struct {
	frames []av.Frame
	i      int
}

func (d *fakeDecoder) SeekAndOpen(path string, streamIdx int, keyPts *big.Rat) error {
	for i, f := range d.frames {
		if f.Pts.Cmp(keyPts) == 0 {
			d.i = i
			return nil
		}
	}
	return fmt.Errorf("fakeDecoder: no frame at pts %s", keyPts.RatString())
}

func (d *fakeDecoder) NextFrame() (av.Frame, error) {
	if d.i >= len(d.frames) {
		return av.Frame{}, av.ErrEndOfStream
	}
	f := d.frames[d.i]
	d.i++
	return f, nil
}

func (d *fakeDecoder) Close() error { return nil }

func twoGOPFrames() []av.Frame {
	return []av.Frame{
		{Pts: rat(0, 24)},
		{Pts: rat(1, 24)},
		{Pts: rat(2, 24)},
		{Pts: rat(3, 24)},
		{Pts: rat(4, 24)},
	}
}

func twoGOPProfile(t *testing.T) *Profile {
	t.Helper()
	reg := service.NewRegistry()
	reg.Register("fake", func(map[string]string) (service.Backend, error) { return fakeSizeBackend{}, nil })
	p, err := BuildProfile("tos", "tos.mp4", 0, service.Descriptor{Service: "fake"}, reg, twoGOPDemuxer())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestValidate(t *testing.T) {
	p := twoGOPProfile(t)
	dec := &fakeDecoder{frames: twoGOPFrames()}
	if err := Validate(p, dec); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

// TestValidateRejectsFullStreamMismatch confirms the full-stream decode
// pass is actually exercised, not just the per-GOP pass: an extra
// trailing duplicate frame doesn't change either GOP's decoded count
// (each per-GOP scan stops as soon as it has collected len(want)
// frames, so the duplicate is never reached), but it does change the
// full-stream total, which must be rejected.
func TestValidateRejectsFullStreamMismatch(t *testing.T) {
	p := twoGOPProfile(t)
	frames := twoGOPFrames()
	frames = append(frames, frames[len(frames)-1]) // trailing duplicate
	dec := &fakeDecoder{frames: frames}
	if err := Validate(p, dec); err == nil {
		t.Fatal("expected error for full-stream frame count mismatch")
	}
}

type fakeSizeBackend struct{}

func (fakeSizeBackend) Open(path string) (service.Reader, error) { return nil, nil }
func (fakeSizeBackend) Size(path string) (int64, error)          { return 1024, nil }
