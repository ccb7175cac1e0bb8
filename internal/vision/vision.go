// Package vision defines the capabilities the mosaic pipeline needs from a
// computer-vision library: keypoint detection and description, descriptor
// matching, robust transform fitting and image resampling.
//
// Two backends implement it: native (pure Go) and cv (OpenCV through gocv).
package vision

import (
	"errors"
	"fmt"
	"strings"

	"frame-mosaic/internal/frame"
	"frame-mosaic/pkg/geometry"
)

// ErrNoConsensus is returned when a robust fit finds no model with enough
// inlier support.
var ErrNoConsensus = errors.New("robust fit found no consensus")

// Family selects the detector/descriptor variant.
type Family int

const (
	// FloatDescriptor uses real-valued descriptors matched with a ratio test.
	FloatDescriptor Family = iota
	// BinaryDescriptor uses bit-string descriptors matched by mutual nearest
	// neighbour under Hamming distance.
	BinaryDescriptor
)

func (f Family) String() string {
	switch f {
	case FloatDescriptor:
		return "sift"
	case BinaryDescriptor:
		return "orb"
	default:
		return "unknown"
	}
}

// ParseFamily maps a detector name to its family. "sift"/"float" and
// "orb"/"binary" are accepted.
func ParseFamily(name string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sift", "float":
		return FloatDescriptor, nil
	case "orb", "binary":
		return BinaryDescriptor, nil
	default:
		return 0, fmt.Errorf("unknown detector %q (want sift or orb)", name)
	}
}

// Keypoint is a detected image location.
type Keypoint struct {
	Pt       geometry.Point2D
	Response float64
	Size     float64
	Angle    float64
}

// Descriptors holds one row per keypoint. Exactly one of Float or Binary is
// populated, depending on the detector family.
type Descriptors struct {
	Float  [][]float32
	Binary [][]byte
}

// Len returns the number of descriptor rows.
func (d Descriptors) Len() int {
	if d.Binary != nil {
		return len(d.Binary)
	}
	return len(d.Float)
}

// Select returns the rows at the given indices, in order.
func (d Descriptors) Select(idx []int) Descriptors {
	var out Descriptors
	if d.Binary != nil {
		out.Binary = make([][]byte, len(idx))
		for i, j := range idx {
			out.Binary[i] = d.Binary[j]
		}
		return out
	}
	if d.Float != nil {
		out.Float = make([][]float32, len(idx))
		for i, j := range idx {
			out.Float[i] = d.Float[j]
		}
	}
	return out
}

// Match pairs a query descriptor (current frame) with a train descriptor
// (previous frame).
type Match struct {
	Query    int
	Train    int
	Distance float64
}

// Detector finds keypoints on a single-channel frame and describes them.
// At most budget keypoints are returned, strongest first; keypoints and
// descriptor rows share ordering.
type Detector interface {
	DetectAndDescribe(gray *frame.Frame, budget int) ([]Keypoint, Descriptors, error)
	Family() Family
	Close() error
}

// Matcher pairs descriptors of two frames.
type Matcher interface {
	// MatchRatioTest keeps a query's nearest train descriptor only when its
	// distance is below ratio times the second-nearest distance.
	MatchRatioTest(query, train Descriptors, ratio float64) ([]Match, error)
	// MatchMutualNearest keeps pairs that are each other's nearest neighbour.
	MatchMutualNearest(query, train Descriptors) ([]Match, error)
}

// Fitter estimates transforms from point correspondences while rejecting
// outliers. Both methods map src points onto dst points and return
// ErrNoConsensus (possibly wrapped) when no model is found.
type Fitter interface {
	FitAffineRobust(src, dst []geometry.Point2D) (geometry.AffineTransform, error)
	FitProjectiveRobust(src, dst []geometry.Point2D) (geometry.Transform, error)
}

// Resampler warps img by t into a zeroed frame of width x height using
// bilinear interpolation. Affine transforms take the affine path,
// projective ones the perspective path. Pixels with no source stay zero.
type Resampler interface {
	Resample(img *frame.Frame, t geometry.Transform, width, height int) (*frame.Frame, error)
}

// Backend bundles the capabilities. Detectors are built per family.
type Backend interface {
	Name() string
	NewDetector(family Family) (Detector, error)
	Matcher
	Fitter
	Resampler
}
