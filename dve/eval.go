package dve

import (
	"github.com/ixlab/vidformer/av"
	"github.com/ixlab/vidformer/filter"
	"github.com/ixlab/vidformer/pool"
	"github.com/ixlab/vidformer/sir"
	"github.com/ixlab/vidformer/vferr"
)

// evalFrameExpr evaluates fe to a concrete frame. Source references
// resolve from deps (which a filter worker's caller has already
// confirmed are all resident); filter calls evaluate arguments eagerly
// and invoke the named filter.
func evalFrameExpr(ctx *Context, fe sir.FrameExpr, deps map[pool.FrameKey]*av.Frame) (filter.Frame, error) {
	switch fe.Kind {
	case sir.FrameSourceKind:
		p, ok := ctx.Sources[fe.Source.Video]
		if !ok {
			return filter.Frame{}, vferr.New(vferr.SourceNotFound, "source %q not found", fe.Source.Video)
		}
		pts, err := resolveIndex(p, fe.Source.Index)
		if err != nil {
			return filter.Frame{}, err
		}
		ref := pool.IFrameRef{Source: fe.Source.Video, Pts: pts}
		avf, ok := deps[ref.Key()]
		if !ok {
			return filter.Frame{}, vferr.New(vferr.Unknown, "dependency %s was not supplied to the filter worker", ref.Key())
		}
		return avFrameToFilterFrame(*avf)

	case sir.FrameFilterKind:
		f, err := ctx.Filters.Get(fe.Filter.Name)
		if err != nil {
			return filter.Frame{}, err
		}

		args := make([]filter.Value, len(fe.Filter.Args))
		for i, a := range fe.Filter.Args {
			v, err := evalExpr(ctx, a, deps)
			if err != nil {
				return filter.Frame{}, err
			}
			args[i] = v
		}
		kwargs := make(map[string]filter.Value, len(fe.Filter.Kwargs))
		for k, a := range fe.Filter.Kwargs {
			v, err := evalExpr(ctx, a, deps)
			if err != nil {
				return filter.Frame{}, err
			}
			kwargs[k] = v
		}
		return f.Filter(args, kwargs)

	default:
		return filter.Frame{}, vferr.New(vferr.Unknown, "unrecognized frame expression kind")
	}
}

func evalExpr(ctx *Context, e sir.Expr, deps map[pool.FrameKey]*av.Frame) (filter.Value, error) {
	switch e.Kind {
	case sir.ExprDataKind:
		return filter.DataVal(e.Data), nil
	case sir.ExprArrayKind:
		a, ok := ctx.Arrays[e.Array.Name]
		if !ok {
			return filter.Value{}, vferr.New(vferr.SourceNotFound, "array %q not found", e.Array.Name)
		}
		d, err := resolveArrayIndex(a, e.Array.Index)
		if err != nil {
			return filter.Value{}, err
		}
		return filter.DataVal(d), nil
	default:
		f, err := evalFrameExpr(ctx, e.Frame, deps)
		if err != nil {
			return filter.Value{}, err
		}
		return filter.FrameVal(f), nil
	}
}
