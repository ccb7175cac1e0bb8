// Package native is a pure-Go implementation of the vision capabilities:
// Harris keypoints with patch or BRIEF descriptors, brute-force matching,
// RANSAC fitting and bilinear resampling. It needs no cgo and produces
// deterministic results for a given seed.
package native

import (
	"fmt"
	"runtime"

	"frame-mosaic/internal/vision"
)

// Options tunes the backend.
type Options struct {
	// RANSAC settings shared by the affine and projective fitters.
	Iterations int     // samples drawn per fit
	Threshold  float64 // inlier reprojection distance in pixels
	Seed       int64   // sampling seed

	// Workers bounds parallel matching and resampling; 0 means NumCPU.
	Workers int
}

// DefaultOptions mirrors the OpenCV defaults for robust fitting
// (3 px reprojection threshold, 2000 iterations).
func DefaultOptions() Options {
	return Options{
		Iterations: 2000,
		Threshold:  3.0,
		Seed:       1,
	}
}

// Backend implements vision.Backend.
type Backend struct {
	ransac  RANSAC
	workers int
}

var _ vision.Backend = (*Backend)(nil)

// New creates a native backend.
func New(opts Options) *Backend {
	def := DefaultOptions()
	if opts.Iterations <= 0 {
		opts.Iterations = def.Iterations
	}
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Backend{
		ransac: RANSAC{
			Iterations: opts.Iterations,
			Threshold:  opts.Threshold,
			Seed:       opts.Seed,
		},
		workers: opts.Workers,
	}
}

// Name identifies the backend in logs and the journal.
func (b *Backend) Name() string { return "native" }

// NewDetector returns the Harris detector paired with the family's
// descriptor.
func (b *Backend) NewDetector(family vision.Family) (vision.Detector, error) {
	switch family {
	case vision.FloatDescriptor, vision.BinaryDescriptor:
		return &Detector{family: family}, nil
	default:
		return nil, fmt.Errorf("native: unsupported detector family %d", family)
	}
}
