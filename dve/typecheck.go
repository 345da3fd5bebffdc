package dve

import (
	"github.com/ixlab/vidformer/filter"
	"github.com/ixlab/vidformer/sir"
	"github.com/ixlab/vidformer/vferr"
)

// OutputFrameType derives fe's output FrameType without decoding or
// filtering any frame, for callers that need a spec's output shape
// before committing to a RunSpec call (e.g. sizing an HTTP response).
func OutputFrameType(ctx *Context, fe sir.FrameExpr) (filter.FrameType, error) {
	return inferFrameType(ctx, fe)
}

// inferFrameType derives fe's output FrameType without decoding or
// filtering any frame: source frame types come from the profile
// catalogue, filter call types come from the named filter's FilterType.
func inferFrameType(ctx *Context, fe sir.FrameExpr) (filter.FrameType, error) {
	switch fe.Kind {
	case sir.FrameSourceKind:
		p, ok := ctx.Sources[fe.Source.Video]
		if !ok {
			return filter.FrameType{}, vferr.New(vferr.SourceNotFound, "source %q not found", fe.Source.Video)
		}
		return filter.FrameType{Width: p.Width, Height: p.Height, PixFmt: p.PixFmt}, nil

	case sir.FrameFilterKind:
		f, err := ctx.Filters.Get(fe.Filter.Name)
		if err != nil {
			return filter.FrameType{}, err
		}

		argTypes := make([]filter.Type, len(fe.Filter.Args))
		for i, a := range fe.Filter.Args {
			t, err := inferExprType(ctx, a)
			if err != nil {
				return filter.FrameType{}, err
			}
			argTypes[i] = t
		}
		kwargTypes := make(map[string]filter.Type, len(fe.Filter.Kwargs))
		for k, a := range fe.Filter.Kwargs {
			t, err := inferExprType(ctx, a)
			if err != nil {
				return filter.FrameType{}, err
			}
			kwargTypes[k] = t
		}
		return f.FilterType(argTypes, kwargTypes)

	default:
		return filter.FrameType{}, vferr.New(vferr.Unknown, "unrecognized frame expression kind")
	}
}

func inferExprType(ctx *Context, e sir.Expr) (filter.Type, error) {
	switch e.Kind {
	case sir.ExprDataKind:
		return filter.DataType(e.Data.Kind), nil
	case sir.ExprArrayKind:
		a, ok := ctx.Arrays[e.Array.Name]
		if !ok {
			return filter.Type{}, vferr.New(vferr.SourceNotFound, "array %q not found", e.Array.Name)
		}
		d, err := resolveArrayIndex(a, e.Array.Index)
		if err != nil {
			return filter.Type{}, err
		}
		return filter.DataType(d.Kind), nil
	default:
		ft, err := inferFrameType(ctx, e.Frame)
		if err != nil {
			return filter.Type{}, err
		}
		return filter.FrameType_(ft), nil
	}
}
