/*
NAME
  hls.go

DESCRIPTION
  hls.go derives an HLS segment plan from a spec's output domain and
  writes the resulting M3U8 playlist text. All arithmetic is exact
  (rational), matching a domain whose frame rate is an exact integer.
*/

// Package hls plans HLS segments over a rendered output's frame domain
// and renders the corresponding M3U8 playlist text.
package hls

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ixlab/vidformer/vferr"
)

// FrameRate derives and validates the integer frames-per-second implied
// by domain: every inter-timestamp delta must equal 1/fps exactly.
func FrameRate(domain []*big.Rat) (int64, error) {
	if len(domain) < 2 {
		return 0, vferr.New(vferr.ConfigError, "hls: domain needs at least 2 frames to derive a frame rate")
	}
	delta := new(big.Rat).Sub(domain[1], domain[0])
	if delta.Sign() <= 0 {
		return 0, vferr.New(vferr.ConfigError, "hls: domain is not strictly increasing")
	}
	inv := new(big.Rat).Inv(delta)
	if inv.Denom().Cmp(big.NewInt(1)) != 0 {
		return 0, vferr.New(vferr.ConfigError, "hls: frame delta %s does not divide 1 evenly into an integer fps", delta.RatString())
	}
	fps := inv.Num().Int64()

	for i := 2; i < len(domain); i++ {
		d := new(big.Rat).Sub(domain[i], domain[i-1])
		if d.Cmp(delta) != 0 {
			return 0, vferr.New(vferr.ConfigError, "hls: non-uniform frame delta at index %d: %s != %s", i, d.RatString(), delta.RatString())
		}
	}
	return fps, nil
}

// segmentFrames returns segment_length * fps as an exact rational.
func segmentFrames(segmentLength *big.Rat, fps int64) *big.Rat {
	return new(big.Rat).Mul(segmentLength, new(big.Rat).SetInt64(fps))
}

func ceilRat(r *big.Rat) int64 {
	q := new(big.Int)
	m := new(big.Int)
	q.QuoRem(r.Num(), r.Denom(), m)
	if m.Sign() != 0 && r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Int64()
}

func floorRat(r *big.Rat) int64 {
	q := new(big.Int)
	m := new(big.Int)
	q.QuoRem(r.Num(), r.Denom(), m)
	if m.Sign() != 0 && r.Sign() < 0 {
		q.Sub(q, big.NewInt(1))
	}
	return q.Int64()
}

// FrameToSegment returns floor(frame / (segment_length * fps)).
func FrameToSegment(frame int64, segmentLength *big.Rat, fps int64) int64 {
	sf := segmentFrames(segmentLength, fps)
	ratio := new(big.Rat).Quo(new(big.Rat).SetInt64(frame), sf)
	return floorRat(ratio)
}

// NumSegments returns the segment count for a plan of nFrames frames.
// When terminal, the final (possibly short) segment is included by
// computing from the last frame index rather than the frame count.
func NumSegments(nFrames int64, segmentLength *big.Rat, fps int64, terminal bool) int64 {
	if terminal {
		return FrameToSegment(nFrames-1, segmentLength, fps) + 1
	}
	return FrameToSegment(nFrames, segmentLength, fps)
}

// Segment is one playlist segment's inclusive frame range.
type Segment struct {
	Start, End int64
}

// SegmentRange returns segment i's inclusive [start, end] frame range,
// clamped to nFrames-1.
func SegmentRange(i int64, nFrames int64, segmentLength *big.Rat, fps int64) Segment {
	sf := segmentFrames(segmentLength, fps)
	start := ceilRat(new(big.Rat).Mul(new(big.Rat).SetInt64(i), sf))
	endExclusive := ceilRat(new(big.Rat).Mul(new(big.Rat).SetInt64(i+1), sf))
	if endExclusive > nFrames {
		endExclusive = nFrames
	}
	return Segment{Start: start, End: endExclusive - 1}
}

// Plan is a full HLS segment plan over a domain.
type Plan struct {
	FPS           int64
	SegmentLength *big.Rat
	NFrames       int64
	Terminal      bool
	Segments      []Segment
}

// NewPlan derives a full segment plan from domain.
func NewPlan(domain []*big.Rat, segmentLength *big.Rat, terminal bool) (*Plan, error) {
	fps, err := FrameRate(domain)
	if err != nil {
		return nil, err
	}
	nFrames := int64(len(domain))
	nSeg := NumSegments(nFrames, segmentLength, fps, terminal)

	segs := make([]Segment, nSeg)
	for i := int64(0); i < nSeg; i++ {
		segs[i] = SegmentRange(i, nFrames, segmentLength, fps)
	}
	return &Plan{FPS: fps, SegmentLength: segmentLength, NFrames: nFrames, Terminal: terminal, Segments: segs}, nil
}

// M3U8 renders the playlist text for p, with segURI(i) naming each
// segment's media URI.
func (p *Plan) M3U8(segURI func(i int64) string) string {
	target := ceilRat(p.SegmentLength)

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", target)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	if p.Terminal {
		b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	} else {
		b.WriteString("#EXT-X-PLAYLIST-TYPE:EVENT\n")
	}

	for i, seg := range p.Segments {
		dur := new(big.Rat).SetInt64(seg.End - seg.Start + 1)
		dur.Quo(dur, new(big.Rat).SetInt64(p.FPS))
		fmt.Fprintf(&b, "#EXTINF:%s,\n", dur.FloatString(6))
		b.WriteString(segURI(int64(i)))
		b.WriteByte('\n')
	}

	if p.Terminal {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}
