package mosaic

import (
	"errors"
	"fmt"

	"frame-mosaic/internal/canvas"
	"frame-mosaic/internal/features"
	"frame-mosaic/internal/frame"
	"frame-mosaic/internal/motion"
	"frame-mosaic/pkg/geometry"
)

var (
	// ErrNoUsableInput is returned when the source ends, fails or is
	// cancelled before a first frame seeds the canvas.
	ErrNoUsableInput = errors.New("no usable input")
	// ErrFinished is returned when a finished run is fed another frame.
	ErrFinished = errors.New("mosaic run already finished")
)

// Phase is the controller lifecycle position.
type Phase int

const (
	Uninitialized Phase = iota
	Seeded
	Running
	Finished
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Seeded:
		return "seeded"
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// State is everything carried from one frame to the next. ProcessFrame
// takes a State and returns its successor; the Canvas is shared between
// them and written in place.
type State struct {
	Phase Phase
	// Index is the number of frames consumed so far, including skipped
	// ones; it is the index of the next frame.
	Index int
	// Pose maps the previous frame's pixels onto the canvas.
	Pose   geometry.Transform
	Canvas *canvas.Canvas

	// Previous frame and its features. Skipped frames leave them alone.
	Prev      features.Set
	PrevFrame *frame.Frame

	Applied   int
	Skipped   int
	Cancelled bool
}

// Kind classifies what happened to a frame.
type Kind int

const (
	KindSeeded Kind = iota
	KindApplied
	KindSkipped
)

func (k Kind) String() string {
	switch k {
	case KindSeeded:
		return "seeded"
	case KindApplied:
		return "applied"
	case KindSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Skip reasons.
const (
	ReasonNoKeypoints     = "no keypoints"
	ReasonTooFewMatches   = "too few matches"
	ReasonNoPrevKeypoints = "previous frame has no keypoints"
)

// Outcome reports the handling of one frame.
type Outcome struct {
	Index  int
	Kind   Kind
	Reason string // set for skipped frames

	Keypoints int
	Matches   int

	// Set for applied frames.
	Class        motion.Class
	Displacement geometry.Point2D
	Increment    geometry.Transform
	Pose         geometry.Transform
	Merged       int // canvas pixels written
}

// Stage names the step of frame processing that failed.
type Stage string

const (
	StageAcquisition Stage = "acquisition"
	StageExtraction  Stage = "extraction"
	StageMatching    Stage = "matching"
	StageEstimation  Stage = "estimation"
	StageWarp        Stage = "warp"
)

// FrameError is a fatal failure while handling one frame.
type FrameError struct {
	Index int
	Stage Stage
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %s: %v", e.Index, e.Stage, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }
