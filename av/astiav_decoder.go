/*
NAME
  astiav_decoder.go

DESCRIPTION
  astiav_decoder.go implements av.Decoder: seek to a GOP start and decode
  forward from there, one frame at a time, via libavcodec.
*/

package av

import (
	"fmt"
	"math/big"

	"github.com/asticode/go-astiav"
)

// AstiavDecoder is a Decoder backed by libavcodec via go-astiav.
type AstiavDecoder struct {
	fc       *astiav.FormatContext
	stream   *astiav.Stream
	streamN  int
	codecCtx *astiav.CodecContext
	pkt      *astiav.Packet
	frame    *astiav.Frame
	draining bool
}

func NewAstiavDecoder() *AstiavDecoder {
	return &AstiavDecoder{}
}

func (d *AstiavDecoder) SeekAndOpen(path string, streamIdx int, keyPts *big.Rat) error {
	d.fc = astiav.AllocFormatContext()
	if d.fc == nil {
		return fmt.Errorf("av: AllocFormatContext failed")
	}
	if err := d.fc.OpenInput(path, nil, nil); err != nil {
		return fmt.Errorf("av: open input %q: %w", path, err)
	}
	if err := d.fc.FindStreamInfo(nil); err != nil {
		return fmt.Errorf("av: find stream info %q: %w", path, err)
	}

	streams := d.fc.Streams()
	if streamIdx < 0 || streamIdx >= len(streams) {
		return fmt.Errorf("av: stream index %d out of range", streamIdx)
	}
	d.stream = streams[streamIdx]
	d.streamN = streamIdx

	par := d.stream.CodecParameters()
	codec := astiav.FindDecoder(par.CodecID())
	if codec == nil {
		return fmt.Errorf("av: no decoder for codec %s", par.CodecID())
	}
	d.codecCtx = astiav.AllocCodecContext(codec)
	if d.codecCtx == nil {
		return fmt.Errorf("av: AllocCodecContext failed")
	}
	if err := par.ToCodecContext(d.codecCtx); err != nil {
		return fmt.Errorf("av: codec parameters to context: %w", err)
	}
	if err := d.codecCtx.Open(codec, nil); err != nil {
		return fmt.Errorf("av: open codec: %w", err)
	}

	tb := d.stream.TimeBase()
	tsScaled := new(big.Rat).Quo(keyPts, big.NewRat(int64(tb.Num()), int64(tb.Den())))
	tsInt := new(big.Int).Quo(tsScaled.Num(), tsScaled.Denom())
	if err := d.fc.SeekFrame(d.streamN, tsInt.Int64(), astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		return fmt.Errorf("av: seek to %s: %w", keyPts.RatString(), err)
	}
	d.codecCtx.FlushBuffers()

	d.pkt = astiav.AllocPacket()
	d.frame = astiav.AllocFrame()
	return nil
}

func (d *AstiavDecoder) NextFrame() (Frame, error) {
	for {
		if !d.draining {
			if err := d.fc.ReadFrame(d.pkt); err != nil {
				d.draining = true
				if serr := d.codecCtx.SendPacket(nil); serr != nil {
					return Frame{}, fmt.Errorf("av: flush send: %w", serr)
				}
			} else if d.pkt.StreamIndex() != d.streamN {
				d.pkt.Unref()
				continue
			} else {
				err := d.codecCtx.SendPacket(d.pkt)
				d.pkt.Unref()
				if err != nil && !astiav.ErrorIsOtherError(err) {
					return Frame{}, fmt.Errorf("av: send packet: %w", err)
				}
			}
		}

		err := d.codecCtx.ReceiveFrame(d.frame)
		if err != nil {
			if d.draining {
				return Frame{}, ErrEndOfStream
			}
			continue
		}

		tb := d.stream.TimeBase()
		pts := big.NewRat(d.frame.Pts()*int64(tb.Num()), int64(tb.Den()))
		out := frameFromAstiav(d.frame, pts)
		d.frame.Unref()
		return out, nil
	}
}

func frameFromAstiav(f *astiav.Frame, pts *big.Rat) Frame {
	planes := make([][]byte, 0, 4)
	strides := make([]int, 0, 4)
	for i, b := range f.Data() {
		if len(b) == 0 {
			continue
		}
		planes = append(planes, append([]byte(nil), b...))
		strides = append(strides, f.Linesize()[i])
	}
	return Frame{
		Pts:     pts,
		Width:   f.Width(),
		Height:  f.Height(),
		PixFmt:  f.PixelFormat().Name(),
		Planes:  planes,
		Strides: strides,
	}
}

func (d *AstiavDecoder) Close() error {
	if d.frame != nil {
		d.frame.Free()
	}
	if d.pkt != nil {
		d.pkt.Free()
	}
	if d.codecCtx != nil {
		d.codecCtx.Free()
	}
	if d.fc != nil {
		d.fc.CloseInput()
		d.fc.Free()
	}
	return nil
}
