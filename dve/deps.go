package dve

import (
	"math/big"

	"github.com/ixlab/vidformer/array"
	"github.com/ixlab/vidformer/pool"
	"github.com/ixlab/vidformer/sir"
	"github.com/ixlab/vidformer/source"
	"github.com/ixlab/vidformer/vferr"
)

// resolveIndex resolves a source-relative Index to an exact timestamp
// within p's domain.
func resolveIndex(p *source.Profile, idx sir.Index) (*big.Rat, error) {
	switch idx.Kind {
	case sir.ILoc:
		return p.ILoc(idx.Pos)
	case sir.T:
		return p.ResolveT(idx.Time)
	default:
		return nil, vferr.New(vferr.Unknown, "unrecognized index kind")
	}
}

// resolveArrayIndex resolves an Index into a, returning the DataExpr it
// names. A positional Index is bounds-checked against a.Domain(); a
// timestamp Index delegates the miss case to a.IndexT.
func resolveArrayIndex(a array.Array, idx sir.Index) (sir.DataExpr, error) {
	switch idx.Kind {
	case sir.ILoc:
		dom := a.Domain()
		if int(idx.Pos) >= len(dom) {
			return sir.DataExpr{}, vferr.New(vferr.IndexOutOfBounds, "array index %d out of range (domain has %d entries)", idx.Pos, len(dom))
		}
		return a.Index(int(idx.Pos)), nil
	case sir.T:
		d, err := a.IndexT(idx.Time)
		if err != nil {
			return sir.DataExpr{}, vferr.Wrap(vferr.IndexOutOfBounds, err, "array index_t lookup")
		}
		return d, nil
	default:
		return sir.DataExpr{}, vferr.New(vferr.Unknown, "unrecognized index kind")
	}
}

// resolveFrameDeps walks fe, adding every input frame it transitively
// depends on to out, keyed by IFrameRef.Key().
func resolveFrameDeps(ctx *Context, fe sir.FrameExpr, out map[pool.FrameKey]pool.IFrameRef) error {
	switch fe.Kind {
	case sir.FrameSourceKind:
		p, ok := ctx.Sources[fe.Source.Video]
		if !ok {
			return vferr.New(vferr.SourceNotFound, "source %q not found", fe.Source.Video)
		}
		pts, err := resolveIndex(p, fe.Source.Index)
		if err != nil {
			return err
		}
		ref := pool.IFrameRef{Source: fe.Source.Video, Pts: pts}
		out[ref.Key()] = ref
		return nil

	case sir.FrameFilterKind:
		for _, a := range fe.Filter.Args {
			if a.Kind == sir.ExprFrameKind {
				if err := resolveFrameDeps(ctx, a.Frame, out); err != nil {
					return err
				}
			}
		}
		for _, a := range fe.Filter.Kwargs {
			if a.Kind == sir.ExprFrameKind {
				if err := resolveFrameDeps(ctx, a.Frame, out); err != nil {
					return err
				}
			}
		}
		return nil

	default:
		return vferr.New(vferr.Unknown, "unrecognized frame expression kind")
	}
}
