/*
NAME
  builtin.go

DESCRIPTION
  builtin.go implements the filters shipped with the engine: a solid
  placeholder frame, basic drawing and layout operations, geometry
  transforms, and a frame-difference filter adapted from the corpus's
  own motion-detection algorithm.
*/

package filter

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ixlab/vidformer/vferr"
)

func registerBuiltins(r *Registry) {
	r.Register("PlaceholderFrame", placeholderFrame{})
	r.Register("Rectangle", rectangleFilter{})
	r.Register("HStack", hstackFilter{})
	r.Register("VStack", vstackFilter{})
	r.Register("Resize", resizeFilter{})
	r.Register("Crop", cropFilter{})
	r.Register("Diff", diffFilter{})
}

// placeholderFrame produces a solid gray frame of the requested size,
// used by tests and as a synthesis source with no upstream video.
type placeholderFrame struct{}

func (placeholderFrame) FilterType(_ []Type, kwargTypes map[string]Type) (FrameType, error) {
	if _, ok := kwargTypes["width"]; !ok {
		return FrameType{}, vferr.New(vferr.MissingFilterArg, "PlaceholderFrame requires kwarg %q", "width")
	}
	if _, ok := kwargTypes["height"]; !ok {
		return FrameType{}, vferr.New(vferr.MissingFilterArg, "PlaceholderFrame requires kwarg %q", "height")
	}
	return FrameType{Width: 0, Height: 0, PixFmt: "rgb24"}, nil
}

func (placeholderFrame) Filter(_ []Value, kwargs map[string]Value) (Frame, error) {
	w, err := intKwarg(kwargs, "width")
	if err != nil {
		return Frame{}, err
	}
	h, err := intKwarg(kwargs, "height")
	if err != nil {
		return Frame{}, err
	}
	if w <= 0 || h <= 0 {
		return Frame{}, vferr.New(vferr.InvalidFilterArgValue, "PlaceholderFrame width/height must be positive, got %dx%d", w, h)
	}
	f := NewFrame(FrameType{Width: w, Height: h, PixFmt: "rgb24"})
	f.Mat.SetTo(gocv.NewScalar(96, 96, 96, 0))
	return f, nil
}

// rectangleFilter draws a filled or outlined rectangle onto a copy of
// its frame argument.
type rectangleFilter struct{}

func (rectangleFilter) FilterType(argTypes []Type, _ map[string]Type) (FrameType, error) {
	return frameArgType(argTypes, 0)
}

func (rectangleFilter) Filter(args []Value, kwargs map[string]Value) (Frame, error) {
	in, err := frameArg(args, 0)
	if err != nil {
		return Frame{}, err
	}
	x, err := intKwarg(kwargs, "x")
	if err != nil {
		return Frame{}, err
	}
	y, err := intKwarg(kwargs, "y")
	if err != nil {
		return Frame{}, err
	}
	w, err := intKwarg(kwargs, "w")
	if err != nil {
		return Frame{}, err
	}
	h, err := intKwarg(kwargs, "h")
	if err != nil {
		return Frame{}, err
	}
	thickness, err := intKwargDefault(kwargs, "thickness", 2)
	if err != nil {
		return Frame{}, err
	}

	out := in.Mat.Clone()
	gocv.Rectangle(&out, image.Rect(x, y, x+w, y+h), color.RGBA{R: 255, A: 255}, thickness)
	return Frame{Mat: out, PixFmt: in.PixFmt}, nil
}

// hstackFilter concatenates two frames of equal height side by side.
type hstackFilter struct{}

func (hstackFilter) FilterType(argTypes []Type, _ map[string]Type) (FrameType, error) {
	a, err := frameArgType(argTypes, 0)
	if err != nil {
		return FrameType{}, err
	}
	b, err := frameArgType(argTypes, 1)
	if err != nil {
		return FrameType{}, err
	}
	if a.Height != b.Height {
		return FrameType{}, vferr.New(vferr.InvalidFilterArgValue, "HStack requires equal heights, got %s and %s", fmtFrameType(a), fmtFrameType(b))
	}
	return FrameType{Width: a.Width + b.Width, Height: a.Height, PixFmt: a.PixFmt}, nil
}

func (hstackFilter) Filter(args []Value, _ map[string]Value) (Frame, error) {
	a, err := frameArg(args, 0)
	if err != nil {
		return Frame{}, err
	}
	b, err := frameArg(args, 1)
	if err != nil {
		return Frame{}, err
	}
	if a.Mat.Rows() != b.Mat.Rows() {
		return Frame{}, vferr.New(vferr.InvalidFilterArgValue, "HStack requires equal heights, got %d and %d", a.Mat.Rows(), b.Mat.Rows())
	}
	out := gocv.NewMat()
	gocv.Hconcat(a.Mat, b.Mat, &out)
	return Frame{Mat: out, PixFmt: a.PixFmt}, nil
}

// vstackFilter concatenates two frames of equal width, one above the
// other.
type vstackFilter struct{}

func (vstackFilter) FilterType(argTypes []Type, _ map[string]Type) (FrameType, error) {
	a, err := frameArgType(argTypes, 0)
	if err != nil {
		return FrameType{}, err
	}
	b, err := frameArgType(argTypes, 1)
	if err != nil {
		return FrameType{}, err
	}
	if a.Width != b.Width {
		return FrameType{}, vferr.New(vferr.InvalidFilterArgValue, "VStack requires equal widths, got %s and %s", fmtFrameType(a), fmtFrameType(b))
	}
	return FrameType{Width: a.Width, Height: a.Height + b.Height, PixFmt: a.PixFmt}, nil
}

func (vstackFilter) Filter(args []Value, _ map[string]Value) (Frame, error) {
	a, err := frameArg(args, 0)
	if err != nil {
		return Frame{}, err
	}
	b, err := frameArg(args, 1)
	if err != nil {
		return Frame{}, err
	}
	if a.Mat.Cols() != b.Mat.Cols() {
		return Frame{}, vferr.New(vferr.InvalidFilterArgValue, "VStack requires equal widths, got %d and %d", a.Mat.Cols(), b.Mat.Cols())
	}
	out := gocv.NewMat()
	gocv.Vconcat(a.Mat, b.Mat, &out)
	return Frame{Mat: out, PixFmt: a.PixFmt}, nil
}

// resizeFilter scales its frame argument to the requested width/height.
type resizeFilter struct{}

func (resizeFilter) FilterType(_ []Type, kwargTypes map[string]Type) (FrameType, error) {
	if _, ok := kwargTypes["width"]; !ok {
		return FrameType{}, vferr.New(vferr.MissingFilterArg, "Resize requires kwarg %q", "width")
	}
	if _, ok := kwargTypes["height"]; !ok {
		return FrameType{}, vferr.New(vferr.MissingFilterArg, "Resize requires kwarg %q", "height")
	}
	return FrameType{PixFmt: "rgb24"}, nil
}

func (resizeFilter) Filter(args []Value, kwargs map[string]Value) (Frame, error) {
	in, err := frameArg(args, 0)
	if err != nil {
		return Frame{}, err
	}
	w, err := intKwarg(kwargs, "width")
	if err != nil {
		return Frame{}, err
	}
	h, err := intKwarg(kwargs, "height")
	if err != nil {
		return Frame{}, err
	}
	if w <= 0 || h <= 0 {
		return Frame{}, vferr.New(vferr.InvalidFilterArgValue, "Resize width/height must be positive, got %dx%d", w, h)
	}
	out := gocv.NewMat()
	gocv.Resize(in.Mat, &out, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)
	return Frame{Mat: out, PixFmt: in.PixFmt}, nil
}

// cropFilter extracts a rectangular region from its frame argument.
type cropFilter struct{}

func (cropFilter) FilterType(_ []Type, kwargTypes map[string]Type) (FrameType, error) {
	for _, name := range []string{"x", "y", "width", "height"} {
		if _, ok := kwargTypes[name]; !ok {
			return FrameType{}, vferr.New(vferr.MissingFilterArg, "Crop requires kwarg %q", name)
		}
	}
	return FrameType{PixFmt: "rgb24"}, nil
}

func (cropFilter) Filter(args []Value, kwargs map[string]Value) (Frame, error) {
	in, err := frameArg(args, 0)
	if err != nil {
		return Frame{}, err
	}
	x, err := intKwarg(kwargs, "x")
	if err != nil {
		return Frame{}, err
	}
	y, err := intKwarg(kwargs, "y")
	if err != nil {
		return Frame{}, err
	}
	w, err := intKwarg(kwargs, "width")
	if err != nil {
		return Frame{}, err
	}
	h, err := intKwarg(kwargs, "height")
	if err != nil {
		return Frame{}, err
	}
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > in.Mat.Cols() || y+h > in.Mat.Rows() {
		return Frame{}, vferr.New(vferr.InvalidFilterArgValue, "Crop region (%d,%d,%d,%d) out of bounds for %dx%d frame", x, y, w, h, in.Mat.Cols(), in.Mat.Rows())
	}
	region := in.Mat.Region(image.Rect(x, y, x+w, y+h))
	out := region.Clone()
	region.Close()
	return Frame{Mat: out, PixFmt: in.PixFmt}, nil
}

// diffFilter highlights the absolute per-pixel difference between two
// frames of equal shape, thresholded to a binary mask. Adapted from the
// corpus's pairwise frame-difference motion detector: here it is a pure
// function of two frame values rather than a stream of stateful "this
// frame vs. the last one" comparisons.
type diffFilter struct{}

func (diffFilter) FilterType(argTypes []Type, _ map[string]Type) (FrameType, error) {
	a, err := frameArgType(argTypes, 0)
	if err != nil {
		return FrameType{}, err
	}
	b, err := frameArgType(argTypes, 1)
	if err != nil {
		return FrameType{}, err
	}
	if a != b {
		return FrameType{}, vferr.New(vferr.InvalidFilterArgValue, "Diff requires matching frame shapes, got %s and %s", fmtFrameType(a), fmtFrameType(b))
	}
	return a, nil
}

func (diffFilter) Filter(args []Value, kwargs map[string]Value) (Frame, error) {
	a, err := frameArg(args, 0)
	if err != nil {
		return Frame{}, err
	}
	b, err := frameArg(args, 1)
	if err != nil {
		return Frame{}, err
	}
	thresh, err := floatKwargDefault(kwargs, "threshold", 25)
	if err != nil {
		return Frame{}, err
	}

	delta := gocv.NewMat()
	defer delta.Close()
	gocv.AbsDiff(a.Mat, b.Mat, &delta)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(delta, &gray, gocv.ColorBGRToGray)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(gray, &mask, float32(thresh), 255, gocv.ThresholdBinary)

	out := gocv.NewMat()
	gocv.CvtColor(mask, &out, gocv.ColorGrayToBGR)

	return Frame{Mat: out, PixFmt: a.PixFmt}, nil
}
