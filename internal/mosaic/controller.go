// Package mosaic drives the per-frame alignment and compositing loop.
package mosaic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"frame-mosaic/internal/canvas"
	"frame-mosaic/internal/config"
	"frame-mosaic/internal/features"
	"frame-mosaic/internal/frame"
	"frame-mosaic/internal/motion"
	"frame-mosaic/internal/pose"
	"frame-mosaic/internal/vision"
	"frame-mosaic/pkg/geometry"
)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithObserver registers fn to receive every frame outcome from Run.
func WithObserver(fn func(Outcome)) Option {
	return func(c *Controller) { c.observe = fn }
}

// Controller runs the mosaic state machine. It is not safe for concurrent
// use.
type Controller struct {
	cfg       config.Mosaic
	engine    *features.Engine
	estimator *motion.Estimator
	resampler vision.Resampler
	logger    *slog.Logger
	observe   func(Outcome)
}

// New validates cfg and builds the feature engine on backend.
func New(backend vision.Backend, cfg config.Mosaic, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		cfg:       cfg,
		resampler: backend,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	engine, err := features.NewEngine(backend, features.Options{
		Family:   cfg.Family(),
		Budget:   cfg.KeypointBudget,
		Ratio:    cfg.RatioTest,
		MatchCap: cfg.MatchCap,
	}, c.logger)
	if err != nil {
		return nil, err
	}
	c.engine = engine
	c.estimator = &motion.Estimator{
		Fitter:        backend,
		DominantRatio: cfg.DominantMotionRatio,
		MinPoints:     cfg.MinMatches,
	}
	return c, nil
}

// Close releases the feature detector.
func (c *Controller) Close() error { return c.engine.Close() }

// Initial returns the state before any frame.
func Initial() State {
	return State{Phase: Uninitialized, Pose: geometry.IdentityTransform()}
}

// ProcessFrame advances st by one frame. The first frame seeds the canvas;
// later frames are either applied or skipped when too few matches support
// an estimate. A skip leaves pose, canvas and previous features unchanged.
// On error the returned state is st.
func (c *Controller) ProcessFrame(ctx context.Context, st State, f *frame.Frame) (State, Outcome, error) {
	if st.Phase == Finished {
		return st, Outcome{}, ErrFinished
	}
	idx := st.Index
	out := Outcome{Index: idx}
	fail := func(stage Stage, err error) (State, Outcome, error) {
		return st, out, &FrameError{Index: idx, Stage: stage, Err: err}
	}

	set, err := c.engine.Extract(f)
	if err != nil {
		return fail(StageExtraction, err)
	}
	out.Keypoints = set.Len()

	if st.Phase == Uninitialized {
		cnv, err := canvas.New(f, c.cfg.HeightMultiplier, c.cfg.WidthMultiplier)
		if err != nil {
			return fail(StageWarp, err)
		}
		next := State{
			Phase:     Seeded,
			Index:     idx + 1,
			Pose:      cnv.InitialPose(),
			Canvas:    cnv,
			Prev:      set,
			PrevFrame: f,
		}
		out.Kind = KindSeeded
		out.Pose = next.Pose
		c.logger.InfoContext(ctx, "canvas seeded",
			"frame", idx,
			"keypoints", set.Len(),
			"canvas_width", cnv.Width(),
			"canvas_height", cnv.Height(),
			"offset_x", cnv.Offset().X,
			"offset_y", cnv.Offset().Y,
		)
		return next, out, nil
	}

	skip := func(reason string) (State, Outcome, error) {
		next := st
		next.Phase = Running
		next.Index = idx + 1
		next.Skipped++
		out.Kind = KindSkipped
		out.Reason = reason
		out.Pose = st.Pose
		c.logger.InfoContext(ctx, "frame skipped", "frame", idx, "reason", reason, "matches", out.Matches)
		return next, out, nil
	}

	switch {
	case set.Empty():
		return skip(ReasonNoKeypoints)
	case st.Prev.Empty():
		return skip(ReasonNoPrevKeypoints)
	}

	matches, err := c.engine.Match(set, st.Prev)
	if err != nil {
		return fail(StageMatching, err)
	}
	out.Matches = len(matches)
	if len(matches) < c.cfg.MinMatches {
		return skip(ReasonTooFewMatches)
	}

	cur, prev := features.Correspondences(matches, set, st.Prev)
	est, err := c.estimator.Estimate(cur, prev)
	if err != nil {
		return fail(StageEstimation, err)
	}
	out.Class = est.Class
	out.Displacement = est.Displacement
	out.Increment = est.Transform
	c.logger.DebugContext(ctx, "motion detected",
		"frame", idx,
		"class", est.Class.String(),
		"dx", est.Displacement.X,
		"dy", est.Displacement.Y,
		"matches", len(matches),
	)

	p := pose.Chain(st.Pose, est.Transform)
	p = pose.Renormalize(p, st.Applied+1, c.cfg.RenormalizeEvery)

	merged, err := st.Canvas.Composite(f, p, c.resampler)
	if err != nil {
		return fail(StageWarp, err)
	}

	next := st
	next.Phase = Running
	next.Index = idx + 1
	next.Pose = p
	next.Prev = set
	next.PrevFrame = f
	next.Applied++

	out.Kind = KindApplied
	out.Pose = p
	out.Merged = merged
	return next, out, nil
}

// Run pulls frames from src until it is exhausted or ctx is done, and
// returns the finished state. Cancellation is checked between frames and
// finishes the run with Cancelled set and no error. Fatal frame errors
// end the run early and are returned as *FrameError.
func (c *Controller) Run(ctx context.Context, src frame.Source) (State, error) {
	st := Initial()
	for {
		if err := ctx.Err(); err != nil {
			return c.finish(ctx, st, true, err)
		}

		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return c.finish(ctx, st, false, nil)
		}
		if err != nil {
			if ctx.Err() != nil {
				return c.finish(ctx, st, true, ctx.Err())
			}
			ferr := &FrameError{Index: st.Index, Stage: StageAcquisition, Err: err}
			if st.Phase == Uninitialized {
				return st, fmt.Errorf("%w: %w", ErrNoUsableInput, ferr)
			}
			c.logger.ErrorContext(ctx, "frame source failed", "frame", st.Index, "error", err)
			return st, ferr
		}

		next, out, err := c.ProcessFrame(ctx, st, f)
		if err != nil {
			c.logger.ErrorContext(ctx, "mosaic aborted", "frame", st.Index, "error", err)
			return st, err
		}
		st = next
		if c.observe != nil {
			c.observe(out)
		}
	}
}

func (c *Controller) finish(ctx context.Context, st State, cancelled bool, cause error) (State, error) {
	if st.Phase == Uninitialized {
		if cause != nil {
			return st, fmt.Errorf("%w: %w", ErrNoUsableInput, cause)
		}
		return st, fmt.Errorf("%w: source yielded no frames", ErrNoUsableInput)
	}
	st.Phase = Finished
	st.Cancelled = cancelled
	c.logger.InfoContext(ctx, "mosaic finished",
		"frames", st.Index,
		"applied", st.Applied,
		"skipped", st.Skipped,
		"cancelled", cancelled,
		"pose", st.Pose.String(),
	)
	return st, nil
}
