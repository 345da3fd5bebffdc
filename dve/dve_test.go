package dve

import (
	"math/big"
	"testing"

	"github.com/ixlab/vidformer/array"
	"github.com/ixlab/vidformer/av"
	"github.com/ixlab/vidformer/config"
	"github.com/ixlab/vidformer/filter"
	"github.com/ixlab/vidformer/sir"
	"github.com/ixlab/vidformer/source"
	"github.com/ixlab/vidformer/vferr"
)

// fixedSpec renders the same frame expression at every t in ts.
type fixedSpec struct {
	ts []*big.Rat
	fe sir.FrameExpr
}

func (s fixedSpec) Domain() []*big.Rat { return s.ts }
func (s fixedSpec) Render(t *big.Rat) (sir.FrameExpr, error) { return s.fe, nil }

func ratRange(n int64) []*big.Rat {
	ts := make([]*big.Rat, n)
	for i := range ts {
		ts[i] = big.NewRat(int64(i), 24)
	}
	return ts
}

func mustErrKind(t *testing.T, err error, kind vferr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of kind %v, got nil", kind)
	}
	ve, ok := err.(*vferr.Error)
	if !ok {
		t.Fatalf("expected *vferr.Error, got %T: %v", err, err)
	}
	if ve.Kind != kind {
		t.Fatalf("expected kind %v, got %v (%v)", kind, ve.Kind, err)
	}
}

func baseConfig(w, h int) config.Config {
	return config.Config{
		DecodePoolSize: 4,
		DecoderView:    4,
		Decoders:       1,
		Filterers:      1,
		OutputWidth:    w,
		OutputHeight:   h,
		OutputPixFmt:   "rgb24",
	}
}

func placeholderSpec(n int64, w, h int) fixedSpec {
	return fixedSpec{
		ts: ratRange(n),
		fe: sir.Filter("PlaceholderFrame", nil, map[string]sir.Expr{
			"width":  sir.DataArg(sir.Int(int64(w))),
			"height": sir.DataArg(sir.Int(int64(h))),
		}),
	}
}

// panicFactory fails the test if the pipeline ever tries to construct a
// decoder: a type-check failure must be caught before any worker thread
// is spawned.
func panicFactory(t *testing.T) func() av.Decoder {
	return func() av.Decoder {
		t.Fatal("decoder factory invoked after a type-check failure")
		return nil
	}
}

// TestRunSpec_TypeMismatchFailsBeforeAnyWorker exercises a resolution
// mismatch: PlaceholderFrame's FilterType reports 0x0 (its width/height
// kwargs are only known at eval time, not from their static int type),
// which never matches a real configured output size. RunSpec must reject
// the whole run with InvalidOutputFrameType without constructing a pool
// or any decoder/encoder.
func TestRunSpec_TypeMismatchFailsBeforeAnyWorker(t *testing.T) {
	sp := placeholderSpec(3, 640, 480)
	cfg := baseConfig(640, 480)

	ctx := NewContext(nil, filter.NewRegistry(), nil, nil,
		nil, panicFactory(t), nil, nil, nil)

	_, err := RunSpec(ctx, sp, cfg, "/tmp/out.mp4")
	mustErrKind(t, err, vferr.InvalidOutputFrameType)
}

// TestRunSpec_MissingSource exercises a frame expression referencing a
// source name absent from the Context's catalogue; type-check must fail
// with SourceNotFound before any worker thread is spawned.
func TestRunSpec_MissingSource(t *testing.T) {
	sp := fixedSpec{
		ts: ratRange(1),
		fe: sir.Source("does-not-exist", sir.NewILoc(0)),
	}
	cfg := baseConfig(1920, 1080)

	ctx := NewContext(map[string]*source.Profile{}, filter.NewRegistry(), nil, nil,
		nil, panicFactory(t), nil, nil, nil)

	_, err := RunSpec(ctx, sp, cfg, "/tmp/out.mp4")
	mustErrKind(t, err, vferr.SourceNotFound)
}

// TestRunSpec_ConfigValidationFailsFirst confirms a bad Config is
// rejected by cfg.Validate() before the spec domain is even rendered.
func TestRunSpec_ConfigValidationFailsFirst(t *testing.T) {
	sp := fixedSpec{
		ts: ratRange(1),
		fe: sir.Source("ignored", sir.NewILoc(0)),
	}
	cfg := baseConfig(1920, 1080)
	cfg.Decoders = 0 // invalid

	ctx := NewContext(nil, filter.NewRegistry(), nil, nil, nil, nil, nil, nil, nil)

	_, err := RunSpec(ctx, sp, cfg, "/tmp/out.mp4")
	mustErrKind(t, err, vferr.ConfigError)
}

// TestBuildProcessSpan_RangeNotInDomain confirms a Range whose bounds
// aren't exact domain members is rejected with ConfigError.
func TestBuildProcessSpan_RangeNotInDomain(t *testing.T) {
	sp := placeholderSpec(4, 640, 480)
	cfg := baseConfig(640, 480)
	cfg.Range = &config.Range{
		Start: [2]int64{1, 48}, // not a member of {0/24, 1/24, 2/24, 3/24}
		End:   [2]int64{2, 24},
	}

	_, err := buildProcessSpan(sp, cfg)
	mustErrKind(t, err, vferr.ConfigError)
}

// TestBuildProcessSpan_SegmentLocalOffsetsOutputTS confirms a
// SegmentLocal range offsets OutputTSOffset to the range start, while
// StreamLocal leaves it at zero.
func TestBuildProcessSpan_SegmentLocalOffsetsOutputTS(t *testing.T) {
	sp := placeholderSpec(4, 640, 480)
	cfg := baseConfig(640, 480)
	cfg.Range = &config.Range{
		Start:    [2]int64{1, 24},
		End:      [2]int64{3, 24},
		TsFormat: config.SegmentLocal,
	}

	span, err := buildProcessSpan(sp, cfg)
	if err != nil {
		t.Fatalf("buildProcessSpan: %v", err)
	}
	if len(span.TS) != 3 {
		t.Fatalf("expected 3 retained generations, got %d", len(span.TS))
	}
	if span.OutputTSOffset.Cmp(big.NewRat(1, 24)) != 0 {
		t.Fatalf("expected OutputTSOffset 1/24, got %s", span.OutputTSOffset.RatString())
	}

	cfg.Range.TsFormat = config.StreamLocal
	span, err = buildProcessSpan(sp, cfg)
	if err != nil {
		t.Fatalf("buildProcessSpan: %v", err)
	}
	if span.OutputTSOffset.Sign() != 0 {
		t.Fatalf("expected zero OutputTSOffset for StreamLocal, got %s", span.OutputTSOffset.RatString())
	}
}

// TestRunSpec_ArrayKwarg exercises a filter whose kwarg is an ArrayRef
// rather than a literal: PlaceholderFrame's width/height are sourced
// from a JSONArray entry, confirming Context.Arrays is consulted by
// type inference (OutputFrameType); evaluation is not exercised here.
func TestRunSpec_ArrayKwarg(t *testing.T) {
	doc := []byte(`[
		{"t": [0, 1], "value": {"type": "int", "value": 640}},
		{"t": [1, 1], "value": {"type": "int", "value": 480}}
	]`)
	arr, err := array.NewJSONArray(doc)
	if err != nil {
		t.Fatalf("array.NewJSONArray: %v", err)
	}

	sp := fixedSpec{
		ts: ratRange(1),
		fe: sir.Filter("PlaceholderFrame", nil, map[string]sir.Expr{
			"width":  sir.ArrayArg("dims", sir.NewILoc(0)),
			"height": sir.ArrayArg("dims", sir.NewILoc(1)),
		}),
	}
	cfg := baseConfig(640, 480)

	ctx := NewContext(nil, filter.NewRegistry(), map[string]array.Array{"dims": arr}, nil,
		nil, panicFactory(t), nil, nil, nil)

	ft, err := OutputFrameType(ctx, sp.fe)
	if err != nil {
		t.Fatalf("OutputFrameType: %v", err)
	}
	if ft.Width != 0 || ft.Height != 0 {
		t.Fatalf("expected PlaceholderFrame's static type (width/height only known at eval time), got %+v", ft)
	}
}

// TestRunSpec_ArrayNotFound confirms an ArrayRef naming an unregistered
// array fails type inference with SourceNotFound.
func TestRunSpec_ArrayNotFound(t *testing.T) {
	fe := sir.Filter("PlaceholderFrame", nil, map[string]sir.Expr{
		"width":  sir.ArrayArg("missing", sir.NewILoc(0)),
		"height": sir.DataArg(sir.Int(480)),
	})
	ctx := NewContext(nil, filter.NewRegistry(), nil, nil, nil, panicFactory(t), nil, nil, nil)

	_, err := OutputFrameType(ctx, fe)
	mustErrKind(t, err, vferr.SourceNotFound)
}

// TestOutputTimeBase confirms the output time base is 1/lcm(denominators).
func TestOutputTimeBase(t *testing.T) {
	ts := []*big.Rat{big.NewRat(0, 1), big.NewRat(1, 30), big.NewRat(1, 24)}
	n, d := outputTimeBase(ts)
	if n != 1 || d != 120 {
		t.Fatalf("expected time base 1/120, got %d/%d", n, d)
	}
}
