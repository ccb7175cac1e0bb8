// Package motion classifies the dominant inter-frame motion and fits the
// transform family that suits it.
package motion

import (
	"errors"
	"fmt"
	"math"

	"frame-mosaic/internal/vision"
	"frame-mosaic/pkg/geometry"
)

// ErrTooFewPoints is returned when fewer correspondences than the
// estimator minimum are supplied.
var ErrTooFewPoints = errors.New("too few correspondences")

// Class is the dominant motion between two frames.
type Class int

const (
	// Unknown is carried by frames that were seeded or skipped.
	Unknown Class = iota
	Horizontal
	Vertical
	Complex
)

func (c Class) String() string {
	switch c {
	case Unknown:
		return "unknown"
	case Horizontal:
		return "horizontal"
	case Vertical:
		return "vertical"
	case Complex:
		return "complex"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// MeanDisplacement averages prev[i] - cur[i] over all pairs.
func MeanDisplacement(cur, prev []geometry.Point2D) geometry.Point2D {
	if len(cur) == 0 {
		return geometry.Point2D{}
	}
	var sum geometry.Point2D
	for i := range cur {
		sum = sum.Add(prev[i].Sub(cur[i]))
	}
	return sum.Scale(1 / float64(len(cur)))
}

// Classify labels a displacement. An axis dominates when its magnitude
// exceeds ratio times the other axis; the horizontal test runs first.
func Classify(d geometry.Point2D, ratio float64) Class {
	ax, ay := math.Abs(d.X), math.Abs(d.Y)
	switch {
	case ax > ratio*ay:
		return Horizontal
	case ay > ratio*ax:
		return Vertical
	default:
		return Complex
	}
}

// Estimate is a fitted incremental transform mapping current-frame
// coordinates into previous-frame coordinates.
type Estimate struct {
	Transform    geometry.Transform
	Class        Class
	Displacement geometry.Point2D
}

// Estimator selects and runs the robust fit for a set of correspondences.
type Estimator struct {
	Fitter vision.Fitter
	// DominantRatio is the axis-dominance factor for Classify.
	DominantRatio float64
	// MinPoints is the fewest correspondences Estimate accepts.
	MinPoints int
}

// NewEstimator returns an estimator with the default 1.5 dominance ratio
// and a four-point minimum.
func NewEstimator(f vision.Fitter) *Estimator {
	return &Estimator{Fitter: f, DominantRatio: 1.5, MinPoints: 4}
}

// Estimate classifies the mean displacement of the pairs, fits an affine
// transform for axis-dominant motion and a homography otherwise, and
// returns it as a 3x3 matrix.
func (e *Estimator) Estimate(cur, prev []geometry.Point2D) (Estimate, error) {
	if len(cur) != len(prev) {
		return Estimate{}, fmt.Errorf("estimate: %d current points vs %d previous", len(cur), len(prev))
	}
	minPoints := max(e.MinPoints, 4)
	if len(cur) < minPoints {
		return Estimate{}, fmt.Errorf("estimate: %d of %d: %w", len(cur), minPoints, ErrTooFewPoints)
	}

	d := MeanDisplacement(cur, prev)
	est := Estimate{Displacement: d, Class: Classify(d, e.DominantRatio)}

	switch est.Class {
	case Horizontal, Vertical:
		a, err := e.Fitter.FitAffineRobust(cur, prev)
		if err != nil {
			return est, fmt.Errorf("estimate %s affine: %w", est.Class, err)
		}
		est.Transform = geometry.FromAffine(a)
	default:
		h, err := e.Fitter.FitProjectiveRobust(cur, prev)
		if err != nil {
			return est, fmt.Errorf("estimate homography: %w", err)
		}
		h.Kind = geometry.KindProjective
		est.Transform = h
	}
	return est, nil
}
