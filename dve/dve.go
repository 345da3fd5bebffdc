/*
NAME
  dve.go

DESCRIPTION
  dve.go is the engine's entry point: it validates a Config against a
  Spec, plans the output frame domain, type-checks every frame
  expression against the configured output type, then drives the
  decoder/filter/encoder pipeline to completion.
*/

// Package dve implements the Declarative Video Execution core: given a
// Context (profiled sources, the filter registry, codec-library
// adapters) and a Spec, RunSpec renders the spec's frame domain to an
// output file.
package dve

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ixlab/vidformer/array"
	"github.com/ixlab/vidformer/av"
	"github.com/ixlab/vidformer/config"
	"github.com/ixlab/vidformer/filter"
	logpkg "github.com/ixlab/vidformer/log"
	"github.com/ixlab/vidformer/pool"
	"github.com/ixlab/vidformer/service"
	"github.com/ixlab/vidformer/sir"
	"github.com/ixlab/vidformer/source"
	"github.com/ixlab/vidformer/spec"
	"github.com/ixlab/vidformer/vferr"
)

// Context is the immutable environment one or more RunSpec calls
// execute against: the catalogue of profiled sources, the filter
// registry, the named Array catalogue, the storage-service registry,
// and the codec-library adapter factories.
type Context struct {
	Sources  map[string]*source.Profile
	Filters  *filter.Registry
	Arrays   map[string]array.Array
	Services *service.Registry

	NewDemuxer func() av.Demuxer
	NewDecoder func() av.Decoder
	NewEncoder func() av.Encoder
	NewMuxer   func() av.Muxer

	Logger logpkg.Logger
}

// NewContext builds a Context. A nil logger defaults to a stderr
// ZapLogger at Info level.
func NewContext(sources map[string]*source.Profile, filters *filter.Registry, arrays map[string]array.Array, services *service.Registry, newDemuxer func() av.Demuxer, newDecoder func() av.Decoder, newEncoder func() av.Encoder, newMuxer func() av.Muxer, logger logpkg.Logger) *Context {
	if logger == nil {
		logger = logpkg.New(logpkg.Info, nil)
	}
	return &Context{
		Sources:    sources,
		Filters:    filters,
		Arrays:     arrays,
		Services:   services,
		NewDemuxer: newDemuxer,
		NewDecoder: newDecoder,
		NewEncoder: newEncoder,
		NewMuxer:   newMuxer,
		Logger:     logger,
	}
}

// ProcessSpan is the planned, possibly range-restricted, output frame
// domain: parallel timestamp and frame-expression slices plus the
// offset subtracted from every ts before it reaches the encoder.
type ProcessSpan struct {
	TS             []*big.Rat
	Frames         []sir.FrameExpr
	OutputTSOffset *big.Rat
}

// Stats reports monotonic counters accumulated over one RunSpec call.
type Stats struct {
	MaxDecoderCount     int
	MaxEncodeBufferSize int
	DecodersCreated     int
	FramesWritten       int
	FramesDecoded       int
	Runtime             time.Duration
}

func ratIndex(domain []*big.Rat, t *big.Rat) (int, bool) {
	for i, d := range domain {
		if d.Cmp(t) == 0 {
			return i, true
		}
	}
	return 0, false
}

// buildProcessSpan renders sp's domain (restricted to cfg.Range, if
// set) into a ProcessSpan.
func buildProcessSpan(sp spec.Spec, cfg config.Config) (*ProcessSpan, error) {
	domain := sp.Domain()
	ts := domain
	offset := big.NewRat(0, 1)

	if cfg.Range != nil {
		start := big.NewRat(cfg.Range.Start[0], cfg.Range.Start[1])
		end := big.NewRat(cfg.Range.End[0], cfg.Range.End[1])
		si, ok := ratIndex(domain, start)
		if !ok {
			return nil, vferr.New(vferr.ConfigError, "range start %s is not an exact member of the spec domain", start.RatString())
		}
		ei, ok := ratIndex(domain, end)
		if !ok {
			return nil, vferr.New(vferr.ConfigError, "range end %s is not an exact member of the spec domain", end.RatString())
		}
		if ei < si {
			return nil, vferr.New(vferr.ConfigError, "range end %s precedes range start %s", end.RatString(), start.RatString())
		}
		ts = domain[si : ei+1]
		if cfg.Range.TsFormat == config.SegmentLocal {
			offset = start
		}
	}

	frames := make([]sir.FrameExpr, len(ts))
	for i, t := range ts {
		fe, err := sp.Render(t)
		if err != nil {
			return nil, vferr.Wrap(vferr.Unknown, err, "render spec at t=%s", t.RatString())
		}
		frames[i] = fe
	}
	return &ProcessSpan{TS: ts, Frames: frames, OutputTSOffset: offset}, nil
}

// outputTimeBase returns the encoder time base 1/lcm(denominators of ts).
func outputTimeBase(ts []*big.Rat) (n, d int64) {
	l := big.NewInt(1)
	for _, t := range ts {
		l = lcmInt(l, t.Denom())
	}
	return 1, l.Int64()
}

func lcmInt(a, b *big.Int) *big.Int {
	if a.Sign() == 0 || b.Sign() == 0 {
		return big.NewInt(0)
	}
	g := new(big.Int).GCD(nil, nil, a, b)
	return new(big.Int).Div(new(big.Int).Mul(a, b), g)
}

// RunSpec renders sp against cfg, writing the encoded result to
// outputPath, and returns accumulated Stats. Input validation and
// type-checking happen before any worker thread is spawned, matching
// the engine's propagation policy: type-check and setup failures fail
// the whole run with no partial output.
func RunSpec(ctx *Context, sp spec.Spec, cfg config.Config, outputPath string) (*Stats, error) {
	start := time.Now()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	span, err := buildProcessSpan(sp, cfg)
	if err != nil {
		return nil, err
	}

	outType := filter.FrameType{Width: cfg.OutputWidth, Height: cfg.OutputHeight, PixFmt: cfg.OutputPixFmt}
	for gen, fe := range span.Frames {
		ft, err := inferFrameType(ctx, fe)
		if err != nil {
			return nil, err
		}
		if ft != outType {
			return nil, vferr.New(vferr.InvalidOutputFrameType, "generation %d: filter produced %s, configured output is %s", gen, fmtFrameType(ft), fmtFrameType(outType))
		}
	}

	iframesPerOframe := make([]map[pool.FrameKey]pool.IFrameRef, len(span.Frames))
	for gen, fe := range span.Frames {
		deps := map[pool.FrameKey]pool.IFrameRef{}
		if err := resolveFrameDeps(ctx, fe, deps); err != nil {
			return nil, err
		}
		iframesPerOframe[gen] = deps
	}

	p, err := pool.New(iframesPerOframe, ctx.Sources, cfg)
	if err != nil {
		return nil, err
	}

	tbN, tbD := outputTimeBase(span.TS)
	stats, err := runPipeline(ctx, p, span, cfg, outputPath, tbN, tbD)
	if stats == nil {
		stats = &Stats{}
	}
	stats.Runtime = time.Since(start)
	return stats, err
}

func fmtFrameType(t filter.FrameType) string {
	return fmt.Sprintf("%s %dx%d", t.PixFmt, t.Width, t.Height)
}
