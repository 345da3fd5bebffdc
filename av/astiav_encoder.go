/*
NAME
  astiav_encoder.go

DESCRIPTION
  astiav_encoder.go implements av.Encoder and av.Muxer over libavcodec and
  libavformat via go-astiav.
*/

package av

import (
	"fmt"
	"math/big"

	"github.com/asticode/go-astiav"
)

// AstiavEncoder is an Encoder backed by libavcodec.
type AstiavEncoder struct {
	codecCtx *astiav.CodecContext
	frame    *astiav.Frame
	pkt      *astiav.Packet
	tbN      int
	tbD      int
}

func NewAstiavEncoder() *AstiavEncoder { return &AstiavEncoder{} }

func (e *AstiavEncoder) Open(opts EncoderOpts) error {
	codec := astiav.FindEncoderByName(opts.CodecName)
	if codec == nil {
		return fmt.Errorf("av: unknown encoder codec %q", opts.CodecName)
	}
	e.codecCtx = astiav.AllocCodecContext(codec)
	if e.codecCtx == nil {
		return fmt.Errorf("av: AllocCodecContext failed")
	}
	e.codecCtx.SetWidth(opts.Width)
	e.codecCtx.SetHeight(opts.Height)
	pixFmt := astiav.FindPixelFormatByName(opts.PixFmt)
	if pixFmt == astiav.PixelFormatNone {
		return fmt.Errorf("av: unsupported output pixel format %q", opts.PixFmt)
	}
	e.codecCtx.SetPixelFormat(pixFmt)
	e.codecCtx.SetTimeBase(astiav.NewRational(opts.TimeBaseN, opts.TimeBaseD))
	e.tbN, e.tbD = opts.TimeBaseN, opts.TimeBaseD

	dict := astiav.NewDictionary()
	defer dict.Free()
	for _, kv := range opts.Opts {
		_ = dict.Set(kv[0], kv[1], 0)
	}

	if err := e.codecCtx.Open(codec, dict); err != nil {
		return fmt.Errorf("av: open encoder %q: %w", opts.CodecName, err)
	}

	e.frame = astiav.AllocFrame()
	e.frame.SetWidth(opts.Width)
	e.frame.SetHeight(opts.Height)
	e.frame.SetPixelFormat(pixFmt)
	if err := e.frame.AllocBuffer(0); err != nil {
		return fmt.Errorf("av: allocate frame buffer: %w", err)
	}
	e.pkt = astiav.AllocPacket()
	return nil
}

func (e *AstiavEncoder) EncodeFrame(pts *big.Rat, f Frame) ([]Packet, error) {
	ptsInt := new(big.Int).Quo(pts.Num(), pts.Denom())
	e.frame.SetPts(ptsInt.Int64())

	dst := e.frame.Data()
	for i, plane := range f.Planes {
		if i < len(dst) {
			copy(dst[i], plane)
		}
	}

	if err := e.codecCtx.SendFrame(e.frame); err != nil {
		return nil, fmt.Errorf("av: send frame: %w", err)
	}
	return e.drain()
}

func (e *AstiavEncoder) Flush() ([]Packet, error) {
	if err := e.codecCtx.SendFrame(nil); err != nil {
		return nil, fmt.Errorf("av: flush send: %w", err)
	}
	return e.drain()
}

func (e *AstiavEncoder) drain() ([]Packet, error) {
	var out []Packet
	for {
		err := e.codecCtx.ReceivePacket(e.pkt)
		if err != nil {
			break
		}
		out = append(out, Packet{
			Pts:      big.NewRat(e.pkt.Pts()*int64(e.tbN), int64(e.tbD)),
			KeyFrame: e.pkt.Flags().Has(astiav.PacketFlagKey),
			Data:     append([]byte(nil), e.pkt.Data()...),
		})
		e.pkt.Unref()
	}
	return out, nil
}

func (e *AstiavEncoder) Close() error {
	if e.frame != nil {
		e.frame.Free()
	}
	if e.pkt != nil {
		e.pkt.Free()
	}
	if e.codecCtx != nil {
		e.codecCtx.Free()
	}
	return nil
}

// AstiavMuxer is a Muxer backed by libavformat.
type AstiavMuxer struct {
	fc     *astiav.FormatContext
	stream *astiav.Stream
	tbN    int
	tbD    int
}

func NewAstiavMuxer() *AstiavMuxer { return &AstiavMuxer{} }

func (m *AstiavMuxer) Open(path string, formatHint string, meta StreamMeta) error {
	fc, err := astiav.AllocOutputFormatContext(nil, formatHint, path)
	if err != nil || fc == nil {
		return fmt.Errorf("av: alloc output format context for %q: %w", path, err)
	}
	m.fc = fc

	codec := astiav.FindEncoderByName(meta.Codec)
	stream := fc.NewStream(codec)
	if stream == nil {
		return fmt.Errorf("av: new stream failed")
	}
	stream.SetTimeBase(astiav.NewRational(meta.TimeBaseN, meta.TimeBaseD))
	m.stream = stream
	m.tbN, m.tbD = meta.TimeBaseN, meta.TimeBaseD

	if !fc.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		ioCtx, err := astiav.OpenIOContext(path, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
		if err != nil {
			return fmt.Errorf("av: open io context %q: %w", path, err)
		}
		fc.SetPb(ioCtx)
	}

	if err := fc.WriteHeader(nil); err != nil {
		return fmt.Errorf("av: write header: %w", err)
	}
	return nil
}

func (m *AstiavMuxer) WritePacket(p Packet) error {
	pkt := astiav.AllocPacket()
	defer pkt.Free()

	scaled := new(big.Rat).Quo(p.Pts, big.NewRat(int64(m.tbN), int64(m.tbD)))
	ptsInt := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	pkt.SetPts(ptsInt.Int64())
	pkt.SetDts(ptsInt.Int64())
	pkt.SetStreamIndex(m.stream.Index())
	if err := pkt.FromData(p.Data); err != nil {
		return fmt.Errorf("av: packet from data: %w", err)
	}
	if p.KeyFrame {
		pkt.SetFlags(pkt.Flags().Add(astiav.PacketFlagKey))
	}
	if err := m.fc.WriteInterleavedFrame(pkt); err != nil {
		return fmt.Errorf("av: write interleaved frame: %w", err)
	}
	return nil
}

func (m *AstiavMuxer) Close() error {
	if m.fc == nil {
		return nil
	}
	if err := m.fc.WriteTrailer(); err != nil {
		return fmt.Errorf("av: write trailer: %w", err)
	}
	m.fc.Free()
	return nil
}
