/*
NAME
  profile.go

DESCRIPTION
  profile.go scans a container stream once, recording codec, pixel format,
  resolution, and the ordered timestamp/keyframe lists that the rest of the
  engine needs to plan decodes without ever speculatively decoding.
*/

// Package source profiles video source streams: a one-pass packet scan
// that establishes the timestamp domain and keyframe layout of a stream,
// with invariant checks appropriate to a multi-GOP frame pool.
package source

import (
	"math/big"

	"github.com/ixlab/vidformer/av"
	"github.com/ixlab/vidformer/service"
	"github.com/ixlab/vidformer/vferr"
)

// Profile holds everything the engine needs to know about one profiled
// source video stream.
type Profile struct {
	Name      string
	Path      string
	StreamIdx int
	Codec     string
	PixFmt    string
	Width     int
	Height    int
	FileSize  int64
	TS        []*big.Rat // strictly ascending, first is zero-equivalent.
	Keys      []*big.Rat // subset of TS; the container's GOP starts.
	Service   service.Descriptor
}

// BuildProfile opens path, selects stream streamIdx, and iterates its
// packets (never decoding) to build a Profile. It enforces: the first
// packet is a keyframe, keyframe pts strictly increase, every non-key
// packet's pts exceeds the most recently seen keyframe, and there are no
// duplicate pts.
func BuildProfile(name, path string, streamIdx int, svc service.Descriptor, reg *service.Registry, demux av.Demuxer) (*Profile, error) {
	size, err := reg.Size(svc, path)
	if err != nil {
		return nil, vferr.Wrap(vferr.IOError, err, "stat source %q", path)
	}

	meta, err := demux.Open(path, streamIdx)
	if err != nil {
		return nil, vferr.Wrap(vferr.AVError, err, "open source %q stream %d", path, streamIdx)
	}
	defer demux.Close()

	p := &Profile{
		Name:      name,
		Path:      path,
		StreamIdx: streamIdx,
		Codec:     meta.Codec,
		PixFmt:    meta.PixFmt,
		Width:     meta.Width,
		Height:    meta.Height,
		FileSize:  size,
		Service:   svc,
	}

	var lastKey *big.Rat
	var lastTS *big.Rat
	idx := 0
	for {
		pkt, err := demux.NextPacket()
		if av.IsEndOfStream(err) {
			break
		}
		if err != nil {
			return nil, vferr.Wrap(vferr.AVError, err, "reading packet %d of %q", idx, path)
		}

		if lastTS != nil && pkt.Pts.Cmp(lastTS) <= 0 {
			return nil, vferr.New(vferr.AVError, "duplicate or out-of-order pts %s at packet %d of %q", pkt.Pts.RatString(), idx, path)
		}

		if pkt.KeyFrame {
			if lastKey != nil && pkt.Pts.Cmp(lastKey) <= 0 {
				return nil, vferr.New(vferr.AVError, "keyframe pts %s did not strictly increase in %q", pkt.Pts.RatString(), path)
			}
			lastKey = pkt.Pts
			p.Keys = append(p.Keys, pkt.Pts)
		} else {
			if idx == 0 {
				return nil, vferr.New(vferr.AVError, "first packet of %q is not a keyframe", path)
			}
			if lastKey == nil || pkt.Pts.Cmp(lastKey) <= 0 {
				return nil, vferr.New(vferr.AVError, "non-key packet pts %s does not exceed last keyframe in %q", pkt.Pts.RatString(), path)
			}
		}

		p.TS = append(p.TS, pkt.Pts)
		lastTS = pkt.Pts
		idx++
	}

	if len(p.TS) == 0 {
		return nil, vferr.New(vferr.AVError, "%q stream %d has no frames", path, streamIdx)
	}
	if len(p.Keys) == 0 || p.Keys[0].Cmp(p.TS[0]) != 0 {
		return nil, vferr.New(vferr.AVError, "first frame of %q is not a keyframe", path)
	}

	return p, nil
}

// ILoc resolves a positional index into the timestamp at that position.
// Fails with IndexOutOfBounds if pos is past the end of TS.
func (p *Profile) ILoc(pos uint64) (*big.Rat, error) {
	if pos >= uint64(len(p.TS)) {
		return nil, vferr.New(vferr.IndexOutOfBounds, "index .iloc[%d] out of bounds on source %q", pos, p.Name)
	}
	return p.TS[pos], nil
}

// ResolveT resolves a rational timestamp to itself, failing if t is not an
// exact element of TS (nearest-match is never performed).
func (p *Profile) ResolveT(t *big.Rat) (*big.Rat, error) {
	lo, hi := 0, len(p.TS)
	for lo < hi {
		mid := (lo + hi) / 2
		if p.TS[mid].Cmp(t) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(p.TS) && p.TS[lo].Cmp(t) == 0 {
		return p.TS[lo], nil
	}
	return nil, vferr.New(vferr.IndexOutOfBounds, "index [%s] out of bounds on source %q", t.RatString(), p.Name)
}

// GOPIndex returns the index into Keys of the GOP containing frame pts,
// i.e. the largest key index whose timestamp is <= pts.
func (p *Profile) GOPIndex(pts *big.Rat) int {
	lo, hi := 0, len(p.Keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if p.Keys[mid].Cmp(pts) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

// GOPFrames returns every frame timestamp belonging to the GOP at gopIdx.
func (p *Profile) GOPFrames(gopIdx int) []*big.Rat {
	start := p.Keys[gopIdx]
	var end *big.Rat
	if gopIdx+1 < len(p.Keys) {
		end = p.Keys[gopIdx+1]
	}

	lo, hi := 0, len(p.TS)
	for lo < hi {
		mid := (lo + hi) / 2
		if p.TS[mid].Cmp(start) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	startI := lo
	endI := len(p.TS)
	if end != nil {
		lo, hi = startI, len(p.TS)
		for lo < hi {
			mid := (lo + hi) / 2
			if p.TS[mid].Cmp(end) < 0 {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		endI = lo
	}
	return p.TS[startI:endI]
}

// Validate performs a full-stream decode and a per-GOP decode (seek to
// each keyframe, decode until the next keyframe's pts is reached),
// asserting frame counts and that the first decoded pts of each GOP
// equals the keyframe pts.
func Validate(p *Profile, dec av.Decoder) error {
	if len(p.Keys) > 0 {
		if err := dec.SeekAndOpen(p.Path, p.StreamIdx, p.Keys[0]); err != nil {
			return vferr.Wrap(vferr.AVError, err, "validate: full-stream decode of %q", p.Path)
		}
		got := 0
		for {
			_, err := dec.NextFrame()
			if av.IsEndOfStream(err) {
				break
			}
			if err != nil {
				return vferr.Wrap(vferr.AVError, err, "validate: full-stream decode of %q", p.Path)
			}
			got++
		}
		if got != len(p.TS) {
			return vferr.New(vferr.AVError, "%q: full-stream decode produced %d frames, profile has %d", p.Path, got, len(p.TS))
		}
	}

	for i, key := range p.Keys {
		if err := dec.SeekAndOpen(p.Path, p.StreamIdx, key); err != nil {
			return vferr.Wrap(vferr.AVError, err, "validate: seek to gop %d of %q", i, p.Path)
		}

		want := p.GOPFrames(i)
		got := 0
		for {
			f, err := dec.NextFrame()
			if av.IsEndOfStream(err) {
				break
			}
			if err != nil {
				return vferr.Wrap(vferr.AVError, err, "validate gop %d of %q", i, p.Path)
			}
			if got == 0 && f.Pts.Cmp(key) != 0 {
				return vferr.New(vferr.AVError, "gop %d of %q: first decoded pts %s != keyframe pts %s", i, p.Path, f.Pts.RatString(), key.RatString())
			}
			got++
			if got >= len(want) {
				break
			}
		}
		if got != len(want) {
			return vferr.New(vferr.AVError, "gop %d of %q: decoded %d frames, expected %d", i, p.Path, got, len(want))
		}
	}
	return nil
}
