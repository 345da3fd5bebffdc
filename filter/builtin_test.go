package filter

import (
	"testing"

	"github.com/ixlab/vidformer/sir"
)

func TestPlaceholderFrame(t *testing.T) {
	r := NewRegistry()
	f, err := r.Get("PlaceholderFrame")
	if err != nil {
		t.Fatal(err)
	}

	kwargs := map[string]Value{
		"width":  DataVal(sir.Int(64)),
		"height": DataVal(sir.Int(32)),
	}
	out, err := f.Filter(nil, kwargs)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	if got := out.Type(); got.Width != 64 || got.Height != 32 {
		t.Errorf("Type() = %+v, want 64x32", got)
	}
}

func TestPlaceholderFrameMissingKwarg(t *testing.T) {
	r := NewRegistry()
	f, _ := r.Get("PlaceholderFrame")
	if _, err := f.Filter(nil, map[string]Value{"width": DataVal(sir.Int(64))}); err == nil {
		t.Error("expected error for missing height kwarg")
	}
}

func TestHStackMismatchedHeights(t *testing.T) {
	r := NewRegistry()
	f, _ := r.Get("HStack")

	a := NewFrame(FrameType{Width: 4, Height: 4, PixFmt: "rgb24"})
	b := NewFrame(FrameType{Width: 4, Height: 8, PixFmt: "rgb24"})
	defer a.Close()
	defer b.Close()

	if _, err := f.Filter([]Value{FrameVal(a), FrameVal(b)}, nil); err == nil {
		t.Error("expected error for mismatched heights")
	}
}

func TestHStackConcatenatesWidths(t *testing.T) {
	r := NewRegistry()
	f, _ := r.Get("HStack")

	a := NewFrame(FrameType{Width: 4, Height: 4, PixFmt: "rgb24"})
	b := NewFrame(FrameType{Width: 6, Height: 4, PixFmt: "rgb24"})
	defer a.Close()
	defer b.Close()

	out, err := f.Filter([]Value{FrameVal(a), FrameVal(b)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	if got := out.Type(); got.Width != 10 || got.Height != 4 {
		t.Errorf("Type() = %+v, want 10x4", got)
	}
}

func TestCropOutOfBounds(t *testing.T) {
	r := NewRegistry()
	f, _ := r.Get("Crop")
	in := NewFrame(FrameType{Width: 10, Height: 10, PixFmt: "rgb24"})
	defer in.Close()

	kwargs := map[string]Value{
		"x":      DataVal(sir.Int(5)),
		"y":      DataVal(sir.Int(5)),
		"width":  DataVal(sir.Int(10)),
		"height": DataVal(sir.Int(10)),
	}
	if _, err := f.Filter([]Value{FrameVal(in)}, kwargs); err == nil {
		t.Error("expected out-of-bounds crop to fail")
	}
}

func TestUnknownFilter(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("NoSuchFilter"); err == nil {
		t.Error("expected error for unknown filter")
	}
}
