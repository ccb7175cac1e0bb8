// Package features extracts keypoints from frames and pairs them across
// consecutive frames.
package features

import (
	"fmt"
	"log/slog"
	"sort"

	"frame-mosaic/internal/frame"
	"frame-mosaic/internal/vision"
	"frame-mosaic/pkg/geometry"
)

// Options configures an Engine.
type Options struct {
	Family   vision.Family
	Budget   int     // maximum keypoints per frame
	Ratio    float64 // ratio-test threshold for float descriptors
	MatchCap int     // maximum matches handed to the estimator
}

// DefaultOptions returns the float-descriptor settings: 600 keypoints,
// a 0.7 ratio test and 30 matches.
func DefaultOptions() Options {
	return Options{
		Family:   vision.FloatDescriptor,
		Budget:   600,
		Ratio:    0.7,
		MatchCap: 30,
	}
}

// Set is the keypoints of one frame with their descriptors. Keypoints[i]
// is described by row i of Descriptors.
type Set struct {
	Keypoints   []vision.Keypoint
	Descriptors vision.Descriptors
}

// Len returns the number of keypoints.
func (s Set) Len() int { return len(s.Keypoints) }

// Empty reports whether the set holds no keypoints.
func (s Set) Empty() bool { return len(s.Keypoints) == 0 }

// Engine binds a detector of one family to a backend's matcher. The family
// is fixed for the life of the engine.
type Engine struct {
	opts     Options
	detector vision.Detector
	matcher  vision.Matcher
	logger   *slog.Logger
}

// NewEngine creates the detector for opts.Family on backend.
func NewEngine(backend vision.Backend, opts Options, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Budget <= 0 {
		return nil, fmt.Errorf("keypoint budget must be positive, got %d", opts.Budget)
	}
	if opts.MatchCap <= 0 {
		return nil, fmt.Errorf("match cap must be positive, got %d", opts.MatchCap)
	}
	if opts.Family == vision.FloatDescriptor && (opts.Ratio <= 0 || opts.Ratio > 1) {
		return nil, fmt.Errorf("ratio test threshold must be in (0, 1], got %g", opts.Ratio)
	}

	det, err := backend.NewDetector(opts.Family)
	if err != nil {
		return nil, fmt.Errorf("create %s detector: %w", opts.Family, err)
	}
	return &Engine{
		opts:     opts,
		detector: det,
		matcher:  backend,
		logger:   logger.With("family", opts.Family.String()),
	}, nil
}

// Family returns the engine's descriptor family.
func (e *Engine) Family() vision.Family { return e.opts.Family }

// Close releases the detector.
func (e *Engine) Close() error { return e.detector.Close() }

// Extract converts f to intensity and detects up to the budget keypoints.
// A frame without keypoints yields an empty Set and no error.
func (e *Engine) Extract(f *frame.Frame) (Set, error) {
	if f == nil || f.Empty() {
		return Set{}, fmt.Errorf("extract: empty frame")
	}
	gray := f
	if f.Channels != 1 {
		gray = f.Gray()
	}

	kps, desc, err := e.detector.DetectAndDescribe(gray, e.opts.Budget)
	if err != nil {
		return Set{}, fmt.Errorf("extract: %w", err)
	}
	if len(kps) == 0 {
		e.logger.Debug("no keypoints", "width", f.Width, "height", f.Height)
		return Set{}, nil
	}
	if desc.Len() != len(kps) {
		return Set{}, fmt.Errorf("extract: %d keypoints but %d descriptors", len(kps), desc.Len())
	}
	return Set{Keypoints: kps, Descriptors: desc}, nil
}

// Match pairs the current set against the previous one. Float descriptors
// go through the ratio test, binary ones through mutual nearest neighbour.
// The result is the MatchCap lowest-distance matches, ascending.
func (e *Engine) Match(cur, prev Set) ([]vision.Match, error) {
	if cur.Empty() || prev.Empty() {
		return nil, nil
	}

	var (
		matches []vision.Match
		err     error
	)
	switch e.opts.Family {
	case vision.BinaryDescriptor:
		matches, err = e.matcher.MatchMutualNearest(cur.Descriptors, prev.Descriptors)
	default:
		matches, err = e.matcher.MatchRatioTest(cur.Descriptors, prev.Descriptors, e.opts.Ratio)
	}
	if err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}
	return Truncate(matches, e.opts.MatchCap), nil
}

// Truncate sorts matches by ascending distance and keeps the first limit.
// Equal distances keep their input order. The input slice is not modified.
func Truncate(matches []vision.Match, limit int) []vision.Match {
	out := make([]vision.Match, len(matches))
	copy(out, matches)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Distance < out[j].Distance
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Correspondences returns the matched point pairs: cur[i] in the current
// frame corresponds to prev[i] in the previous one.
func Correspondences(matches []vision.Match, cur, prev Set) (curPts, prevPts []geometry.Point2D) {
	curPts = make([]geometry.Point2D, len(matches))
	prevPts = make([]geometry.Point2D, len(matches))
	for i, m := range matches {
		curPts[i] = cur.Keypoints[m.Query].Pt
		prevPts[i] = prev.Keypoints[m.Train].Pt
	}
	return curPts, prevPts
}
