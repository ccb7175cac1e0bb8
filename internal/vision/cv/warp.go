package cv

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"frame-mosaic/internal/frame"
	"frame-mosaic/pkg/geometry"
)

// Resample implements vision.Resampler with warpAffine or warpPerspective
// depending on the transform kind. Borders are filled with zero.
func (b *Backend) Resample(img *frame.Frame, t geometry.Transform, width, height int) (*frame.Frame, error) {
	if img.Empty() {
		return nil, fmt.Errorf("cv: empty input frame")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("cv: invalid output size %dx%d", width, height)
	}

	src, err := frameToMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	size := image.Point{X: width, Y: height}

	if a, ok := t.Affine(); ok && t.Kind == geometry.KindAffine {
		m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
		defer m.Close()
		m.SetDoubleAt(0, 0, a.A)
		m.SetDoubleAt(0, 1, a.B)
		m.SetDoubleAt(0, 2, a.TX)
		m.SetDoubleAt(1, 0, a.C)
		m.SetDoubleAt(1, 1, a.D)
		m.SetDoubleAt(1, 2, a.TY)
		gocv.WarpAffineWithParams(src, &dst, m, size,
			gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
	} else {
		m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
		defer m.Close()
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				m.SetDoubleAt(r, c, t.At(r, c))
			}
		}
		gocv.WarpPerspective(src, &dst, m, size)
	}
	return matToFrame(dst)
}
