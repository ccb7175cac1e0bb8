package native

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"frame-mosaic/internal/vision"
	"frame-mosaic/pkg/geometry"
)

// RANSAC holds the consensus-sampling settings for both model fits.
type RANSAC struct {
	Iterations int
	Threshold  float64
	Seed       int64
}

// FitAffineRobust implements vision.Fitter.
func (b *Backend) FitAffineRobust(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	t, _, err := b.ransac.FitAffine(src, dst)
	return t, err
}

// FitProjectiveRobust implements vision.Fitter.
func (b *Backend) FitProjectiveRobust(src, dst []geometry.Point2D) (geometry.Transform, error) {
	t, _, err := b.ransac.FitHomography(src, dst)
	return t, err
}

// FitAffine computes an affine transform mapping src onto dst, returning it
// with the indices of its inliers.
func (r RANSAC) FitAffine(srcPoints, dstPoints []geometry.Point2D) (geometry.AffineTransform, []int, error) {
	if len(srcPoints) != len(dstPoints) {
		return geometry.AffineTransform{}, nil, fmt.Errorf("point count mismatch: %d vs %d", len(srcPoints), len(dstPoints))
	}
	if len(srcPoints) < 3 {
		return geometry.AffineTransform{}, nil, fmt.Errorf("need at least 3 points, got %d: %w", len(srcPoints), vision.ErrNoConsensus)
	}

	n := len(srcPoints)
	rng := rand.New(rand.NewSource(r.Seed))
	bestInliers := []int{}

	for iter := 0; iter < r.Iterations; iter++ {
		// Randomly sample 3 points
		indices := rng.Perm(n)[:3]

		sample := make([]geometry.Point2D, 3)
		target := make([]geometry.Point2D, 3)
		for i, idx := range indices {
			sample[i] = srcPoints[idx]
			target[i] = dstPoints[idx]
		}

		transform, err := computeAffineFromPoints(sample, target)
		if err != nil {
			continue
		}

		inliers := affineInliers(srcPoints, dstPoints, transform, r.Threshold)
		if len(inliers) > len(bestInliers) {
			bestInliers = inliers
			if len(bestInliers) == n {
				break
			}
		}
	}

	if len(bestInliers) < 3 {
		return geometry.AffineTransform{}, nil, fmt.Errorf("affine: %d inliers of %d: %w", len(bestInliers), n, vision.ErrNoConsensus)
	}

	// Recompute transform using all inliers
	inlierSrc, inlierDst := pick(srcPoints, dstPoints, bestInliers)
	finalTransform, err := computeAffineLeastSquares(inlierSrc, inlierDst)
	if err != nil {
		return geometry.AffineTransform{}, nil, fmt.Errorf("affine refit: %v: %w", err, vision.ErrNoConsensus)
	}
	return finalTransform, bestInliers, nil
}

// FitHomography computes a projective transform mapping src onto dst with
// 4-point samples and a normalized DLT refit on the inliers.
func (r RANSAC) FitHomography(srcPoints, dstPoints []geometry.Point2D) (geometry.Transform, []int, error) {
	if len(srcPoints) != len(dstPoints) {
		return geometry.Transform{}, nil, fmt.Errorf("point count mismatch: %d vs %d", len(srcPoints), len(dstPoints))
	}
	if len(srcPoints) < 4 {
		return geometry.Transform{}, nil, fmt.Errorf("need at least 4 points, got %d: %w", len(srcPoints), vision.ErrNoConsensus)
	}

	n := len(srcPoints)
	rng := rand.New(rand.NewSource(r.Seed))
	bestInliers := []int{}

	for iter := 0; iter < r.Iterations; iter++ {
		indices := rng.Perm(n)[:4]
		sample, target := pick(srcPoints, dstPoints, indices)
		if degenerate(sample) || degenerate(target) {
			continue
		}

		h, err := homographyDLT(sample, target)
		if err != nil {
			continue
		}

		inliers := projectiveInliers(srcPoints, dstPoints, h, r.Threshold)
		if len(inliers) > len(bestInliers) {
			bestInliers = inliers
			if len(bestInliers) == n {
				break
			}
		}
	}

	if len(bestInliers) < 4 {
		return geometry.Transform{}, nil, fmt.Errorf("homography: %d inliers of %d: %w", len(bestInliers), n, vision.ErrNoConsensus)
	}

	inlierSrc, inlierDst := pick(srcPoints, dstPoints, bestInliers)
	h, err := homographyDLT(inlierSrc, inlierDst)
	if err != nil {
		return geometry.Transform{}, nil, fmt.Errorf("homography refit: %v: %w", err, vision.ErrNoConsensus)
	}
	return h, bestInliers, nil
}

func pick(src, dst []geometry.Point2D, idx []int) ([]geometry.Point2D, []geometry.Point2D) {
	s := make([]geometry.Point2D, len(idx))
	d := make([]geometry.Point2D, len(idx))
	for i, j := range idx {
		s[i] = src[j]
		d[i] = dst[j]
	}
	return s, d
}

func affineInliers(src, dst []geometry.Point2D, t geometry.AffineTransform, threshold float64) []int {
	var inliers []int
	for i := range src {
		if t.Apply(src[i]).Distance(dst[i]) < threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

func projectiveInliers(src, dst []geometry.Point2D, h geometry.Transform, threshold float64) []int {
	var inliers []int
	for i := range src {
		p := h.Apply(src[i])
		if d := p.Distance(dst[i]); !math.IsNaN(d) && d < threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// degenerate reports whether any three of the points are (nearly) collinear.
func degenerate(pts []geometry.Point2D) bool {
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			for k := j + 1; k < len(pts); k++ {
				a, b, c := pts[i], pts[j], pts[k]
				area := (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
				if math.Abs(area) < 1e-6 {
					return true
				}
			}
		}
	}
	return false
}

// computeAffineFromPoints computes an affine transform from exactly 3 point pairs.
func computeAffineFromPoints(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	if len(src) != 3 || len(dst) != 3 {
		return geometry.AffineTransform{}, fmt.Errorf("need exactly 3 points")
	}

	// [x', y'] = [a, b, tx; c, d, ty] * [x, y, 1]
	A := mat.NewDense(6, 6, nil)
	B := mat.NewVecDense(6, nil)

	for i := 0; i < 3; i++ {
		x, y := src[i].X, src[i].Y
		xp, yp := dst[i].X, dst[i].Y

		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		B.SetVec(i*2, xp)

		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		B.SetVec(i*2+1, yp)
	}

	var params mat.VecDense
	if err := params.SolveVec(A, B); err != nil {
		return geometry.AffineTransform{}, err
	}

	return affineFromParams(&params), nil
}

// computeAffineLeastSquares computes an affine transform using least squares.
func computeAffineLeastSquares(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	n := len(src)
	if n < 3 {
		return geometry.AffineTransform{}, fmt.Errorf("need at least 3 points")
	}

	A := mat.NewDense(n*2, 6, nil)
	B := mat.NewVecDense(n*2, nil)

	for i := 0; i < n; i++ {
		x, y := src[i].X, src[i].Y
		xp, yp := dst[i].X, dst[i].Y

		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		B.SetVec(i*2, xp)

		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		B.SetVec(i*2+1, yp)
	}

	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return geometry.AffineTransform{}, err
	}

	return affineFromParams(&params), nil
}

func affineFromParams(p *mat.VecDense) geometry.AffineTransform {
	return geometry.FromMatrix([2][3]float64{
		{p.AtVec(0), p.AtVec(1), p.AtVec(2)},
		{p.AtVec(3), p.AtVec(4), p.AtVec(5)},
	})
}

// homographyDLT solves for the homography mapping src onto dst with the
// normalized direct linear transform. Four or more pairs are required.
func homographyDLT(src, dst []geometry.Point2D) (geometry.Transform, error) {
	n := len(src)
	if n < 4 {
		return geometry.Transform{}, fmt.Errorf("need at least 4 points")
	}

	ts, ns := normalizePoints(src)
	td, nd := normalizePoints(dst)

	A := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := ns[i].X, ns[i].Y
		u, v := nd[i].X, nd[i].Y
		A.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		A.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(A, mat.SVDFull); !ok {
		return geometry.Transform{}, fmt.Errorf("svd failed")
	}
	var V mat.Dense
	svd.VTo(&V)

	var hn [9]float64
	for i := 0; i < 9; i++ {
		hn[i] = V.At(i, 8)
	}

	// Undo the normalization: H = Td^-1 * Hn * Ts
	tdInv, err := td.Inverse()
	if err != nil {
		return geometry.Transform{}, err
	}
	h := tdInv.Compose(geometry.NewProjective(hn)).Compose(ts)
	if math.Abs(h.M[8]) < 1e-12 {
		return geometry.Transform{}, fmt.Errorf("homography at infinity")
	}
	h = h.Normalized()
	for _, v := range h.M {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return geometry.Transform{}, fmt.Errorf("non-finite homography")
		}
	}
	h.Kind = geometry.KindProjective
	return h, nil
}

// normalizePoints moves the centroid to the origin and scales the mean
// distance from it to sqrt(2). It returns the similarity used and the
// transformed points.
func normalizePoints(pts []geometry.Point2D) (geometry.Transform, []geometry.Point2D) {
	c := geometry.Centroid(pts)
	var mean float64
	for _, p := range pts {
		mean += p.Distance(c)
	}
	mean /= float64(len(pts))
	s := 1.0
	if mean > 1e-12 {
		s = math.Sqrt2 / mean
	}

	t := geometry.FromAffine(geometry.AffineTransform{A: s, D: s, TX: -s * c.X, TY: -s * c.Y})
	out := make([]geometry.Point2D, len(pts))
	for i, p := range pts {
		out[i] = t.Apply(p)
	}
	return t, out
}
