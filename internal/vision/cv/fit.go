package cv

import (
	"fmt"

	"gocv.io/x/gocv"

	"frame-mosaic/internal/vision"
	"frame-mosaic/pkg/geometry"
)

// FitAffineRobust implements vision.Fitter with estimateAffine2D.
func (b *Backend) FitAffineRobust(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	if len(src) != len(dst) {
		return geometry.AffineTransform{}, fmt.Errorf("point count mismatch: %d vs %d", len(src), len(dst))
	}
	if len(src) < 3 {
		return geometry.AffineTransform{}, fmt.Errorf("need at least 3 points, got %d: %w", len(src), vision.ErrNoConsensus)
	}

	from := gocv.NewPoint2fVectorFromPoints(toPoint2f(src))
	defer from.Close()
	to := gocv.NewPoint2fVectorFromPoints(toPoint2f(dst))
	defer to.Close()

	m := gocv.EstimateAffine2D(from, to)
	defer m.Close()
	if m.Empty() || m.Rows() != 2 || m.Cols() != 3 {
		return geometry.AffineTransform{}, fmt.Errorf("estimateAffine2D: %w", vision.ErrNoConsensus)
	}
	var coeffs [2][3]float64
	for r := range 2 {
		for c := range 3 {
			coeffs[r][c] = m.GetDoubleAt(r, c)
		}
	}
	return geometry.FromMatrix(coeffs), nil
}

// FitProjectiveRobust implements vision.Fitter with findHomography.
func (b *Backend) FitProjectiveRobust(src, dst []geometry.Point2D) (geometry.Transform, error) {
	if len(src) != len(dst) {
		return geometry.Transform{}, fmt.Errorf("point count mismatch: %d vs %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return geometry.Transform{}, fmt.Errorf("need at least 4 points, got %d: %w", len(src), vision.ErrNoConsensus)
	}

	srcMat := pointsMat(src)
	defer srcMat.Close()
	dstMat := pointsMat(dst)
	defer dstMat.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	h := gocv.FindHomography(srcMat, &dstMat, gocv.HomograpyMethodRANSAC, b.opts.Threshold, &mask, b.opts.Iterations, b.opts.Confidence)
	defer h.Close()
	if h.Empty() || h.Rows() != 3 || h.Cols() != 3 {
		return geometry.Transform{}, fmt.Errorf("findHomography: %w", vision.ErrNoConsensus)
	}

	var m [9]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m[r*3+c] = h.GetDoubleAt(r, c)
		}
	}
	return geometry.NewProjective(m).Normalized(), nil
}

func toPoint2f(pts []geometry.Point2D) []gocv.Point2f {
	out := make([]gocv.Point2f, len(pts))
	for i, p := range pts {
		out[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	return out
}

// pointsMat packs points into an Nx1 two-channel double Mat.
func pointsMat(pts []geometry.Point2D) gocv.Mat {
	m := gocv.NewMatWithSize(len(pts), 1, gocv.MatTypeCV64FC2)
	for i, p := range pts {
		m.SetDoubleAt(i, 0, p.X)
		m.SetDoubleAt(i, 1, p.Y)
	}
	return m
}
