package cv

import (
	"fmt"

	"gocv.io/x/gocv"

	"frame-mosaic/internal/frame"
)

// frameToMat copies f into a new Mat. Three- and four-channel frames are
// converted from RGB(A) to OpenCV's BGR(A) order.
func frameToMat(f *frame.Frame) (gocv.Mat, error) {
	var mt gocv.MatType
	switch f.Channels {
	case 1:
		mt = gocv.MatTypeCV8UC1
	case 3:
		mt = gocv.MatTypeCV8UC3
	case 4:
		mt = gocv.MatTypeCV8UC4
	default:
		return gocv.NewMat(), fmt.Errorf("cv: unsupported channel count %d", f.Channels)
	}

	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, mt, f.Pix)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("cv: wrap frame: %w", err)
	}
	switch f.Channels {
	case 3:
		bgr := gocv.NewMat()
		gocv.CvtColor(mat, &bgr, gocv.ColorRGBToBGR)
		mat.Close()
		return bgr, nil
	case 4:
		bgra := gocv.NewMat()
		gocv.CvtColor(mat, &bgra, gocv.ColorRGBAToBGRA)
		mat.Close()
		return bgra, nil
	}
	// NewMatFromBytes shares the slice; clone so the frame can be reused.
	owned := mat.Clone()
	mat.Close()
	return owned, nil
}

// matToFrame copies an 8-bit Mat into a frame, converting BGR(A) back to
// RGB(A).
func matToFrame(mat gocv.Mat) (*frame.Frame, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("cv: empty mat")
	}
	channels := mat.Channels()

	src := mat
	switch channels {
	case 1:
	case 3:
		rgb := gocv.NewMat()
		defer rgb.Close()
		gocv.CvtColor(mat, &rgb, gocv.ColorBGRToRGB)
		src = rgb
	case 4:
		rgba := gocv.NewMat()
		defer rgba.Close()
		gocv.CvtColor(mat, &rgba, gocv.ColorBGRAToRGBA)
		src = rgba
	default:
		return nil, fmt.Errorf("cv: unsupported channel count %d", channels)
	}

	f, err := frame.New(src.Cols(), src.Rows(), channels)
	if err != nil {
		return nil, err
	}
	data := src.ToBytes()
	if len(data) != len(f.Pix) {
		return nil, fmt.Errorf("cv: mat holds %d bytes, want %d", len(data), len(f.Pix))
	}
	copy(f.Pix, data)
	return f, nil
}
