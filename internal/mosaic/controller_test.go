package mosaic

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frame-mosaic/internal/config"
	"frame-mosaic/internal/frame"
	"frame-mosaic/internal/logging"
	"frame-mosaic/internal/motion"
	"frame-mosaic/internal/vision"
	"frame-mosaic/internal/vision/native"
	"frame-mosaic/pkg/geometry"
)

// stubBackend detects a fixed keypoint grid on every frame and returns a
// configurable number of matches. Fitting and resampling fall through to
// the native backend unless fitErr is set.
type stubBackend struct {
	*native.Backend
	keypoints int
	matches   int
	shift     geometry.Point2D
	fitErr    error
}

type stubDetector struct{ b *stubBackend }

func (d stubDetector) DetectAndDescribe(gray *frame.Frame, budget int) ([]vision.Keypoint, vision.Descriptors, error) {
	kps := make([]vision.Keypoint, d.b.keypoints)
	desc := vision.Descriptors{Float: make([][]float32, d.b.keypoints)}
	for i := range kps {
		kps[i] = vision.Keypoint{Pt: geometry.Point2D{X: float64(3 + i*7%23), Y: float64(2 + i*5%17)}}
		desc.Float[i] = []float32{float32(i)}
	}
	return kps, desc, nil
}
func (stubDetector) Family() vision.Family { return vision.FloatDescriptor }
func (stubDetector) Close() error          { return nil }

func (b *stubBackend) NewDetector(vision.Family) (vision.Detector, error) {
	return stubDetector{b}, nil
}

func (b *stubBackend) MatchRatioTest(q, t vision.Descriptors, ratio float64) ([]vision.Match, error) {
	out := make([]vision.Match, min(b.matches, q.Len(), t.Len()))
	for i := range out {
		out[i] = vision.Match{Query: i, Train: i, Distance: float64(i)}
	}
	return out, nil
}

func (b *stubBackend) FitAffineRobust(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	if b.fitErr != nil {
		return geometry.AffineTransform{}, b.fitErr
	}
	return geometry.Translation(b.shift.X, b.shift.Y), nil
}

func (b *stubBackend) FitProjectiveRobust(src, dst []geometry.Point2D) (geometry.Transform, error) {
	if b.fitErr != nil {
		return geometry.Transform{}, b.fitErr
	}
	return geometry.NewProjective(geometry.TranslationTransform(b.shift.X, b.shift.Y).M), nil
}

func testConfig() config.Mosaic {
	cfg := config.DefaultMosaic()
	cfg.HeightMultiplier = 1.5
	cfg.WidthMultiplier = 2
	return cfg
}

func solid(t *testing.T, w, h int, v uint8) *frame.Frame {
	t.Helper()
	f, err := frame.New(w, h, 3)
	require.NoError(t, err)
	f.Fill(v)
	return f
}

func newController(t *testing.T, b vision.Backend, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	c, err := New(b, testConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSeedFirstFrame(t *testing.T) {
	b := &stubBackend{Backend: native.New(native.DefaultOptions()), keypoints: 10}
	c := newController(t, b)

	st, out, err := c.ProcessFrame(context.Background(), Initial(), solid(t, 40, 20, 9))
	require.NoError(t, err)
	assert.Equal(t, Seeded, st.Phase)
	assert.Equal(t, KindSeeded, out.Kind)
	assert.Equal(t, motion.Unknown, out.Class)
	assert.Equal(t, 1, st.Index)
	assert.Equal(t, geometry.TranslationTransform(20, 10), st.Pose)
	assert.Equal(t, 80, st.Canvas.Width())
	assert.Equal(t, 30, st.Canvas.Height())
	assert.Equal(t, 10, st.Prev.Len())
}

func TestSkipOnTooFewMatches(t *testing.T) {
	b := &stubBackend{Backend: native.New(native.DefaultOptions()), keypoints: 10, matches: 3, shift: geometry.Point2D{X: 5}}
	c := newController(t, b)
	ctx := context.Background()

	st, _, err := c.ProcessFrame(ctx, Initial(), solid(t, 40, 20, 9))
	require.NoError(t, err)
	poseBefore := st.Pose
	canvasBefore := st.Canvas.Snapshot()
	prevFrame := st.PrevFrame

	next, out, err := c.ProcessFrame(ctx, st, solid(t, 40, 20, 200))
	require.NoError(t, err)
	assert.Equal(t, KindSkipped, out.Kind)
	assert.Equal(t, ReasonTooFewMatches, out.Reason)
	assert.Equal(t, 3, out.Matches)
	assert.Equal(t, motion.Unknown, out.Class)

	assert.Equal(t, Running, next.Phase)
	assert.Equal(t, 2, next.Index)
	assert.Equal(t, 1, next.Skipped)
	assert.Equal(t, 0, next.Applied)
	assert.Equal(t, poseBefore, next.Pose)
	assert.Equal(t, canvasBefore, next.Canvas.Frame())
	assert.Same(t, prevFrame, next.PrevFrame)
}

func TestSkipOnNoKeypoints(t *testing.T) {
	b := &stubBackend{Backend: native.New(native.DefaultOptions()), keypoints: 10, matches: 10}
	c := newController(t, b)
	ctx := context.Background()

	st, _, err := c.ProcessFrame(ctx, Initial(), solid(t, 40, 20, 9))
	require.NoError(t, err)

	b.keypoints = 0
	next, out, err := c.ProcessFrame(ctx, st, solid(t, 40, 20, 9))
	require.NoError(t, err)
	assert.Equal(t, KindSkipped, out.Kind)
	assert.Equal(t, ReasonNoKeypoints, out.Reason)
	assert.Equal(t, motion.Unknown, out.Class)
	assert.Equal(t, 10, next.Prev.Len(), "previous features retained")
}

func TestApplyChainsPose(t *testing.T) {
	b := &stubBackend{Backend: native.New(native.DefaultOptions()), keypoints: 12, matches: 12, shift: geometry.Point2D{X: 6}}
	c := newController(t, b)
	ctx := context.Background()

	st, _, err := c.ProcessFrame(ctx, Initial(), solid(t, 40, 20, 9))
	require.NoError(t, err)
	st, out, err := c.ProcessFrame(ctx, st, solid(t, 40, 20, 77))
	require.NoError(t, err)

	assert.Equal(t, KindApplied, out.Kind)
	// The stub detects the same grid each frame, so the mean displacement
	// is zero and the motion is complex.
	assert.Equal(t, motion.Complex, out.Class)
	assert.Equal(t, geometry.KindProjective, st.Pose.Kind)
	assert.InDelta(t, 26, st.Pose.At(0, 2), 1e-9)
	assert.Equal(t, 800, out.Merged)
	assert.Equal(t, uint8(77), st.Canvas.Frame().At(26, 10, 0))
	assert.Equal(t, uint8(9), st.Canvas.Frame().At(20, 10, 0))
}

func TestEstimationFailureIsFatal(t *testing.T) {
	b := &stubBackend{Backend: native.New(native.DefaultOptions()), keypoints: 10, matches: 10, fitErr: vision.ErrNoConsensus}
	c := newController(t, b)

	src := frame.NewSliceSource(solid(t, 40, 20, 9), solid(t, 40, 20, 9), solid(t, 40, 20, 9))
	st, err := c.Run(context.Background(), src)
	require.Error(t, err)

	var ferr *FrameError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, 1, ferr.Index)
	assert.Equal(t, StageEstimation, ferr.Stage)
	assert.ErrorIs(t, err, vision.ErrNoConsensus)
	assert.Equal(t, Seeded, st.Phase)
}

func TestRunWithoutFrames(t *testing.T) {
	c := newController(t, &stubBackend{Backend: native.New(native.DefaultOptions())})
	_, err := c.Run(context.Background(), frame.NewSliceSource())
	assert.ErrorIs(t, err, ErrNoUsableInput)
}

type failingSource struct{ err error }

var _ frame.Source = failingSource{}

func (s failingSource) Next(context.Context) (*frame.Frame, error) { return nil, s.err }

func TestRunSourceFailure(t *testing.T) {
	c := newController(t, &stubBackend{Backend: native.New(native.DefaultOptions())})
	boom := errors.New("cannot open")
	_, err := c.Run(context.Background(), failingSource{boom})
	assert.ErrorIs(t, err, ErrNoUsableInput)
	assert.ErrorIs(t, err, boom)

	var ferr *FrameError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, StageAcquisition, ferr.Stage)
}

func TestRunCancelledAtFrameBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := &stubBackend{Backend: native.New(native.DefaultOptions()), keypoints: 10, matches: 10, shift: geometry.Point2D{X: 2}}
	var outcomes []Outcome
	c := newController(t, b, WithObserver(func(o Outcome) {
		outcomes = append(outcomes, o)
		if o.Index == 1 {
			cancel()
		}
	}))

	frames := make([]*frame.Frame, 5)
	for i := range frames {
		frames[i] = solid(t, 40, 20, uint8(10+i))
	}
	st, err := c.Run(ctx, frame.NewSliceSource(frames...))
	require.NoError(t, err)
	assert.Equal(t, Finished, st.Phase)
	assert.True(t, st.Cancelled)
	assert.Equal(t, 2, st.Index)
	assert.Len(t, outcomes, 2)

	_, _, err = c.ProcessFrame(ctx, st, frames[2])
	assert.ErrorIs(t, err, ErrFinished)
}

func TestRunCancelledBeforeFirstFrame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newController(t, &stubBackend{Backend: native.New(native.DefaultOptions())})
	_, err := c.Run(ctx, frame.NewSliceSource(solid(t, 4, 4, 1)))
	assert.ErrorIs(t, err, ErrNoUsableInput)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MinMatches = 2
	_, err := New(native.New(native.DefaultOptions()), cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

// panSource yields width-wide windows of base, each shifted step pixels
// further right.
func panSource(t *testing.T, base *frame.Frame, width, step, n int) frame.Source {
	t.Helper()
	frames := make([]*frame.Frame, n)
	for k := range frames {
		f, err := frame.New(width, base.Height, base.Channels)
		require.NoError(t, err)
		require.NoError(t, f.Blit(base, -k*step, 0))
		frames[k] = f
	}
	return frame.NewSliceSource(frames...)
}

func TestHorizontalPanEndToEnd(t *testing.T) {
	base, err := frame.New(200, 100, 3)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(5))
	for i := range base.Pix {
		base.Pix[i] = uint8(rng.Intn(255) + 1)
	}

	var outcomes []Outcome
	c := newController(t, native.New(native.DefaultOptions()), WithObserver(func(o Outcome) {
		outcomes = append(outcomes, o)
	}))

	st, err := c.Run(context.Background(), panSource(t, base, 160, 20, 3))
	require.NoError(t, err)
	assert.Equal(t, Finished, st.Phase)
	assert.False(t, st.Cancelled)
	assert.Equal(t, 3, st.Index)
	assert.Equal(t, 2, st.Applied)

	require.Len(t, outcomes, 3)
	for _, o := range outcomes[1:] {
		assert.Equal(t, KindApplied, o.Kind)
		assert.Equal(t, motion.Horizontal, o.Class)
		assert.InDelta(t, 20, o.Displacement.X, 1e-9)
	}

	// Canvas is 320x150; the first frame sits at (80, 50).
	assert.Equal(t, geometry.KindAffine, st.Pose.Kind)
	assert.InDelta(t, 80+40, st.Pose.At(0, 2), 1e-6)
	assert.InDelta(t, 50, st.Pose.At(1, 2), 1e-6)

	buf := st.Canvas.Frame()
	for y := 0; y < base.Height; y++ {
		for x := 0; x < base.Width; x++ {
			for k := 0; k < 3; k++ {
				require.InDelta(t, base.At(x, y, k), buf.At(80+x, 50+y, k), 1, "base pixel %d,%d", x, y)
			}
		}
	}
	assert.Equal(t, uint8(0), buf.At(79, 60, 0))
	assert.Equal(t, uint8(0), buf.At(280, 60, 0))
	assert.Equal(t, uint8(0), buf.At(150, 49, 0))
}
