/*
NAME
  astiav_demuxer.go

DESCRIPTION
  astiav_demuxer.go implements av.Demuxer over github.com/asticode/go-astiav,
  the module's binding to the libav* codec/demux/mux library.
*/

package av

import (
	"fmt"
	"math/big"

	"github.com/asticode/go-astiav"
)

// AstiavDemuxer is a Demuxer backed by libavformat via go-astiav.
type AstiavDemuxer struct {
	fc      *astiav.FormatContext
	pkt     *astiav.Packet
	stream  *astiav.Stream
	streamN int
}

// NewAstiavDemuxer returns an unopened demuxer.
func NewAstiavDemuxer() *AstiavDemuxer {
	return &AstiavDemuxer{}
}

func (d *AstiavDemuxer) Open(path string, streamIdx int) (StreamMeta, error) {
	d.fc = astiav.AllocFormatContext()
	if d.fc == nil {
		return StreamMeta{}, fmt.Errorf("av: AllocFormatContext failed")
	}
	if err := d.fc.OpenInput(path, nil, nil); err != nil {
		return StreamMeta{}, fmt.Errorf("av: open input %q: %w", path, err)
	}
	if err := d.fc.FindStreamInfo(nil); err != nil {
		return StreamMeta{}, fmt.Errorf("av: find stream info %q: %w", path, err)
	}

	streams := d.fc.Streams()
	if streamIdx < 0 || streamIdx >= len(streams) {
		return StreamMeta{}, fmt.Errorf("av: stream index %d out of range (%d streams)", streamIdx, len(streams))
	}
	d.stream = streams[streamIdx]
	d.streamN = streamIdx
	d.pkt = astiav.AllocPacket()

	par := d.stream.CodecParameters()
	tb := d.stream.TimeBase()
	fr := d.stream.AvgFrameRate()

	return StreamMeta{
		Codec:      par.CodecID().String(),
		PixFmt:     par.PixelFormat().Name(),
		Width:      par.Width(),
		Height:     par.Height(),
		TimeBaseN:  tb.Num(),
		TimeBaseD:  tb.Den(),
		FrameRateN: fr.Num(),
		FrameRateD: fr.Den(),
	}, nil
}

func (d *AstiavDemuxer) NextPacket() (Packet, error) {
	for {
		if err := d.fc.ReadFrame(d.pkt); err != nil {
			if astiav.IsAVLibError(err) {
				return Packet{}, ErrEndOfStream
			}
			return Packet{}, fmt.Errorf("av: read frame: %w", err)
		}
		if d.pkt.StreamIndex() != d.streamN {
			d.pkt.Unref()
			continue
		}
		tb := d.stream.TimeBase()
		pts := big.NewRat(d.pkt.Pts()*int64(tb.Num()), int64(tb.Den()))
		out := Packet{
			Pts:      pts,
			KeyFrame: d.pkt.Flags().Has(astiav.PacketFlagKey),
			Data:     append([]byte(nil), d.pkt.Data()...),
		}
		d.pkt.Unref()
		return out, nil
	}
}

func (d *AstiavDemuxer) Close() error {
	if d.pkt != nil {
		d.pkt.Free()
		d.pkt = nil
	}
	if d.fc != nil {
		d.fc.CloseInput()
		d.fc.Free()
		d.fc = nil
	}
	return nil
}
