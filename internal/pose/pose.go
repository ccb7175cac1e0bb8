// Package pose accumulates incremental transforms into the pose that maps
// the current frame onto the canvas.
package pose

import (
	"math"

	"frame-mosaic/pkg/geometry"
)

// Initial is the pose of the first frame: the identity translated to where
// the frame was placed on the canvas.
func Initial(offset geometry.Point2D) geometry.Transform {
	return geometry.TranslationTransform(offset.X, offset.Y)
}

// Chain returns prev · inc. inc maps current-frame pixels into the
// previous frame, so the result maps them onto the canvas. Drift is not
// corrected.
func Chain(prev, inc geometry.Transform) geometry.Transform {
	return prev.Compose(inc)
}

// Renormalize rescales a projective pose so its (2,2) element is one when
// applied is a positive multiple of every. A non-positive every disables
// it. Affine poses already carry an exact bottom row and are returned
// unchanged.
func Renormalize(p geometry.Transform, applied, every int) geometry.Transform {
	if every <= 0 || applied <= 0 || applied%every != 0 || p.Kind == geometry.KindAffine {
		return p
	}
	if m := p.M[8]; math.IsNaN(m) || math.IsInf(m, 0) {
		return p
	}
	return p.Normalized()
}
