package hls

import (
	"math/big"
	"strings"
	"testing"
)

func domain24fps(n int) []*big.Rat {
	d := make([]*big.Rat, n)
	for i := range d {
		d[i] = big.NewRat(int64(i), 24)
	}
	return d
}

func TestFrameRate(t *testing.T) {
	fps, err := FrameRate(domain24fps(10))
	if err != nil {
		t.Fatal(err)
	}
	if fps != 24 {
		t.Errorf("fps = %d, want 24", fps)
	}
}

func TestFrameRateRejectsNonUniform(t *testing.T) {
	d := []*big.Rat{big.NewRat(0, 1), big.NewRat(1, 24), big.NewRat(3, 24)}
	if _, err := FrameRate(d); err == nil {
		t.Error("expected error for non-uniform delta")
	}
}

func TestFrameToSegment(t *testing.T) {
	// 24fps, 2-second segments -> 48 frames/segment.
	sl := big.NewRat(2, 1)
	if got := FrameToSegment(0, sl, 24); got != 0 {
		t.Errorf("frame 0 -> segment %d, want 0", got)
	}
	if got := FrameToSegment(47, sl, 24); got != 0 {
		t.Errorf("frame 47 -> segment %d, want 0", got)
	}
	if got := FrameToSegment(48, sl, 24); got != 1 {
		t.Errorf("frame 48 -> segment %d, want 1", got)
	}
}

func TestNumSegmentsTerminal(t *testing.T) {
	sl := big.NewRat(2, 1)
	// 100 frames at 24fps, 48 frames/segment -> frames 0-47, 48-95, 96-99.
	n := NumSegments(100, sl, 24, true)
	if n != 3 {
		t.Errorf("num_segments = %d, want 3", n)
	}
}

func TestSegmentRanges(t *testing.T) {
	sl := big.NewRat(2, 1)
	plan, err := NewPlan(domain24fps(100), sl, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(plan.Segments))
	}
	want := []Segment{{0, 47}, {48, 95}, {96, 99}}
	for i, w := range want {
		if plan.Segments[i] != w {
			t.Errorf("segment %d = %+v, want %+v", i, plan.Segments[i], w)
		}
	}
}

func TestM3U8ContainsEndlistWhenTerminal(t *testing.T) {
	sl := big.NewRat(2, 1)
	plan, err := NewPlan(domain24fps(48), sl, true)
	if err != nil {
		t.Fatal(err)
	}
	text := plan.M3U8(func(i int64) string { return "seg.ts" })
	if !containsAll(text, "#EXTM3U", "#EXT-X-TARGETDURATION:2", "#EXT-X-ENDLIST", "#EXT-X-PLAYLIST-TYPE:VOD") {
		t.Errorf("unexpected playlist:\n%s", text)
	}
	if containsAll(text, "#EXT-X-PLAYLIST-TYPE:EVENT") {
		t.Errorf("terminal playlist should not be tagged EVENT:\n%s", text)
	}
}

func TestM3U8OmitsEndlistWhenNotTerminal(t *testing.T) {
	sl := big.NewRat(2, 1)
	plan, err := NewPlan(domain24fps(48), sl, false)
	if err != nil {
		t.Fatal(err)
	}
	text := plan.M3U8(func(i int64) string { return "seg.ts" })
	if containsAll(text, "#EXT-X-ENDLIST") {
		t.Errorf("non-terminal playlist should omit ENDLIST:\n%s", text)
	}
	if !containsAll(text, "#EXT-X-PLAYLIST-TYPE:EVENT") {
		t.Errorf("non-terminal playlist should be tagged EVENT:\n%s", text)
	}
	if containsAll(text, "#EXT-X-PLAYLIST-TYPE:VOD") {
		t.Errorf("non-terminal playlist should not be tagged VOD:\n%s", text)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
