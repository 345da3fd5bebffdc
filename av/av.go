/*
NAME
  av.go

DESCRIPTION
  av.go defines the narrow adapter contracts the rest of the engine uses to
  talk to the underlying codec library: packet-level demuxing, frame-level
  decoding, frame-level encoding and packet-level muxing. Concrete
  implementations wrap github.com/asticode/go-astiav.
*/

// Package av provides thin demuxer/decoder/encoder/muxer adapters around
// the codec library. Nothing above this package should import astiav
// directly.
package av

import (
	"errors"
	"io"
	"math/big"
)

// ErrEndOfStream is returned by NextPacket/NextFrame once the underlying
// stream is exhausted. It is distinct from io.EOF so callers can't
// accidentally treat a short read as end of stream.
var ErrEndOfStream = errors.New("av: end of stream")

// Packet is one demuxed, still-encoded access unit.
type Packet struct {
	Pts      *big.Rat
	KeyFrame bool
	Data     []byte
}

// Frame is one decoded raw video frame.
type Frame struct {
	Pts    *big.Rat
	Width  int
	Height int
	PixFmt string
	// Planes holds the raw plane data for PixFmt, in codec-library plane
	// order (e.g. Y, U, V for yuv420p; a single packed plane for rgb24).
	Planes [][]byte
	// Strides holds the per-plane row stride in bytes, parallel to Planes.
	Strides []int
}

// StreamMeta is the subset of container/stream info a Demuxer reports once
// it has opened a stream.
type StreamMeta struct {
	Codec      string
	PixFmt     string
	Width      int
	Height     int
	TimeBaseN  int
	TimeBaseD  int
	FrameRateN int
	FrameRateD int
}

// Demuxer iterates packets of one selected stream within a container,
// without decoding them. It is a finite, non-restartable lazy sequence.
type Demuxer interface {
	// Open opens path and selects stream index streamIdx.
	Open(path string, streamIdx int) (StreamMeta, error)
	// NextPacket returns the next packet in the stream, or ErrEndOfStream.
	NextPacket() (Packet, error)
	Close() error
}

// Decoder decodes a GOP-aligned run of frames from a seek point. NextFrame
// is a finite, non-restartable lazy sequence for one scan.
type Decoder interface {
	// SeekAndOpen seeks the underlying demuxer to the keyframe at or before
	// pts and prepares to decode forward from there.
	SeekAndOpen(path string, streamIdx int, keyPts *big.Rat) error
	// NextFrame returns the next decoded frame, or ErrEndOfStream when the
	// decoder has nothing further to offer for this GOP scan.
	NextFrame() (Frame, error)
	Close() error
}

// EncoderOpts configures an Encoder.
type EncoderOpts struct {
	CodecName string
	Width     int
	Height    int
	PixFmt    string
	TimeBaseN int
	TimeBaseD int
	Opts      [][2]string // (key, value) pairs passed to the codec library.
}

// Encoder encodes raw frames into packets for one output stream.
type Encoder interface {
	Open(opts EncoderOpts) error
	// EncodeFrame submits a raw frame at the given output pts (in the
	// encoder's time base) and returns zero or more encoded packets.
	EncodeFrame(pts *big.Rat, f Frame) ([]Packet, error)
	// Flush drains any frames buffered inside the codec.
	Flush() ([]Packet, error)
	Close() error
}

// Muxer writes encoded packets, in the order given, to a container.
type Muxer interface {
	Open(path string, formatHint string, meta StreamMeta) error
	WritePacket(p Packet) error
	Close() error
}

// IsEndOfStream reports whether err signals a clean end of an iteration,
// matching either ErrEndOfStream or io.EOF (some adapters reuse io.EOF).
func IsEndOfStream(err error) bool {
	return errors.Is(err, ErrEndOfStream) || errors.Is(err, io.EOF)
}
