/*
NAME
  pixel.go

DESCRIPTION
  pixel.go converts between the codec library's planar av.Frame and the
  filter package's packed BGR gocv.Mat. Only rgb24 and yuv420p are
  understood; other pixel formats surface as AVError.
*/

package dve

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/ixlab/vidformer/av"
	"github.com/ixlab/vidformer/filter"
	"github.com/ixlab/vidformer/vferr"
)

// avFrameToFilterFrame converts a decoded input frame to the Mat-backed
// representation filters operate on.
func avFrameToFilterFrame(f av.Frame) (filter.Frame, error) {
	switch f.PixFmt {
	case "rgb24":
		mat, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Planes[0])
		if err != nil {
			return filter.Frame{}, vferr.Wrap(vferr.AVError, err, "decode rgb24 frame into Mat")
		}
		return filter.Frame{Mat: mat, PixFmt: "rgb24"}, nil

	case "yuv420p":
		return yuv420pToFilterFrame(f)

	default:
		return filter.Frame{}, vferr.New(vferr.AVError, "unsupported input pixel format %q", f.PixFmt)
	}
}

func yuv420pToFilterFrame(f av.Frame) (filter.Frame, error) {
	if len(f.Planes) != 3 {
		return filter.Frame{}, vferr.New(vferr.AVError, "yuv420p frame must have 3 planes, got %d", len(f.Planes))
	}
	y, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC1, f.Planes[0])
	if err != nil {
		return filter.Frame{}, vferr.Wrap(vferr.AVError, err, "decode Y plane")
	}
	defer y.Close()

	cw, ch := f.Width/2, f.Height/2
	u, err := gocv.NewMatFromBytes(ch, cw, gocv.MatTypeCV8UC1, f.Planes[1])
	if err != nil {
		return filter.Frame{}, vferr.Wrap(vferr.AVError, err, "decode U plane")
	}
	defer u.Close()
	v, err := gocv.NewMatFromBytes(ch, cw, gocv.MatTypeCV8UC1, f.Planes[2])
	if err != nil {
		return filter.Frame{}, vferr.Wrap(vferr.AVError, err, "decode V plane")
	}
	defer v.Close()

	uFull := gocv.NewMat()
	defer uFull.Close()
	gocv.Resize(u, &uFull, image.Pt(f.Width, f.Height), 0, 0, gocv.InterpolationLinear)
	vFull := gocv.NewMat()
	defer vFull.Close()
	gocv.Resize(v, &vFull, image.Pt(f.Width, f.Height), 0, 0, gocv.InterpolationLinear)

	ycrcb := gocv.NewMat()
	defer ycrcb.Close()
	if err := gocv.Merge([]gocv.Mat{y, vFull, uFull}, &ycrcb); err != nil {
		return filter.Frame{}, vferr.Wrap(vferr.AVError, err, "merge YCrCb planes")
	}

	bgr := gocv.NewMat()
	gocv.CvtColor(ycrcb, &bgr, gocv.ColorYCrCbToBGR)
	return filter.Frame{Mat: bgr, PixFmt: "rgb24"}, nil
}

// filterFrameToAVFrame converts a filter-produced frame to the output
// pixel format the encoder expects.
func filterFrameToAVFrame(f filter.Frame, pixFmt string) (av.Frame, error) {
	ft := f.Type()
	switch pixFmt {
	case "rgb24":
		data, err := f.Mat.DataPtrUint8()
		if err != nil {
			return av.Frame{}, vferr.Wrap(vferr.AVError, err, "read rgb24 frame bytes")
		}
		buf := append([]byte(nil), data...)
		return av.Frame{Width: ft.Width, Height: ft.Height, PixFmt: "rgb24", Planes: [][]byte{buf}, Strides: []int{ft.Width * 3}}, nil

	case "yuv420p":
		return filterFrameToYUV420p(f)

	default:
		return av.Frame{}, vferr.New(vferr.ConfigError, "unsupported output pixel format %q", pixFmt)
	}
}

func filterFrameToYUV420p(f filter.Frame) (av.Frame, error) {
	ft := f.Type()
	ycrcb := gocv.NewMat()
	defer ycrcb.Close()
	gocv.CvtColor(f.Mat, &ycrcb, gocv.ColorBGRToYCrCb)

	planes := gocv.Split(ycrcb)
	defer func() {
		for _, p := range planes {
			p.Close()
		}
	}()
	if len(planes) != 3 {
		return av.Frame{}, vferr.New(vferr.Unknown, "YCrCb split produced %d planes, want 3", len(planes))
	}
	y, cr, cb := planes[0], planes[1], planes[2]

	cw, ch := ft.Width/2, ft.Height/2
	uSmall := gocv.NewMat()
	defer uSmall.Close()
	gocv.Resize(cb, &uSmall, image.Pt(cw, ch), 0, 0, gocv.InterpolationArea)
	vSmall := gocv.NewMat()
	defer vSmall.Close()
	gocv.Resize(cr, &vSmall, image.Pt(cw, ch), 0, 0, gocv.InterpolationArea)

	yBytes, err := y.DataPtrUint8()
	if err != nil {
		return av.Frame{}, vferr.Wrap(vferr.AVError, err, "read Y plane bytes")
	}
	uBytes, err := uSmall.DataPtrUint8()
	if err != nil {
		return av.Frame{}, vferr.Wrap(vferr.AVError, err, "read U plane bytes")
	}
	vBytes, err := vSmall.DataPtrUint8()
	if err != nil {
		return av.Frame{}, vferr.Wrap(vferr.AVError, err, "read V plane bytes")
	}

	return av.Frame{
		Width: ft.Width, Height: ft.Height, PixFmt: "yuv420p",
		Planes:  [][]byte{append([]byte(nil), yBytes...), append([]byte(nil), uBytes...), append([]byte(nil), vBytes...)},
		Strides: []int{ft.Width, cw, cw},
	}, nil
}
