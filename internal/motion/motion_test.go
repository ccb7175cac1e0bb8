package motion

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frame-mosaic/internal/vision"
	"frame-mosaic/internal/vision/native"
	"frame-mosaic/pkg/geometry"
)

type stubFitter struct {
	affine     geometry.AffineTransform
	projective geometry.Transform
	err        error
	calls      []string
}

func (f *stubFitter) FitAffineRobust(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	f.calls = append(f.calls, "affine")
	return f.affine, f.err
}

func (f *stubFitter) FitProjectiveRobust(src, dst []geometry.Point2D) (geometry.Transform, error) {
	f.calls = append(f.calls, "projective")
	return f.projective, f.err
}

func TestClassify(t *testing.T) {
	tests := []struct {
		d    geometry.Point2D
		want Class
	}{
		{geometry.Point2D{X: 10, Y: 5}, Horizontal},
		{geometry.Point2D{X: 10, Y: 7}, Complex},
		{geometry.Point2D{X: -10, Y: 5}, Horizontal},
		{geometry.Point2D{X: 5, Y: -10}, Vertical},
		{geometry.Point2D{X: 10, Y: 0}, Horizontal},
		{geometry.Point2D{X: 0, Y: 0}, Complex},
		{geometry.Point2D{X: 15, Y: 10}, Complex}, // 15 is not > 15
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%gx%g", tt.d.X, tt.d.Y), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.d, 1.5))
		})
	}
}

func TestClassString(t *testing.T) {
	var zero Class
	assert.Equal(t, Unknown, zero)
	assert.Equal(t, "unknown", zero.String())
	assert.Equal(t, "horizontal", Horizontal.String())
	assert.Equal(t, "vertical", Vertical.String())
	assert.Equal(t, "complex", Complex.String())
	assert.Equal(t, "Class(9)", Class(9).String())
}

func TestMeanDisplacement(t *testing.T) {
	cur := []geometry.Point2D{{X: 0, Y: 0}, {X: 10, Y: 10}}
	prev := []geometry.Point2D{{X: 20, Y: 1}, {X: 30, Y: 13}}
	assert.Equal(t, geometry.Point2D{X: 20, Y: 2}, MeanDisplacement(cur, prev))
	assert.Equal(t, geometry.Point2D{}, MeanDisplacement(nil, nil))
}

func line(n int, d geometry.Point2D) (cur, prev []geometry.Point2D) {
	for i := 0; i < n; i++ {
		p := geometry.Point2D{X: float64(i * 7 % 13), Y: float64(i * 5 % 11)}
		cur = append(cur, p)
		prev = append(prev, p.Add(d))
	}
	return cur, prev
}

func TestEstimateSelectsFamily(t *testing.T) {
	t.Run("horizontal fits affine", func(t *testing.T) {
		f := &stubFitter{affine: geometry.Translation(20, 0)}
		cur, prev := line(6, geometry.Point2D{X: 20})
		est, err := NewEstimator(f).Estimate(cur, prev)
		require.NoError(t, err)
		assert.Equal(t, []string{"affine"}, f.calls)
		assert.Equal(t, Horizontal, est.Class)
		assert.Equal(t, geometry.KindAffine, est.Transform.Kind)
		assert.Equal(t, [3]float64{0, 0, 1}, est.Transform.BottomRow())
		assert.Equal(t, 20.0, est.Transform.At(0, 2))
	})

	t.Run("vertical fits affine", func(t *testing.T) {
		f := &stubFitter{affine: geometry.Translation(0, -9)}
		cur, prev := line(6, geometry.Point2D{X: 1, Y: -9})
		est, err := NewEstimator(f).Estimate(cur, prev)
		require.NoError(t, err)
		assert.Equal(t, Vertical, est.Class)
		assert.Equal(t, []string{"affine"}, f.calls)
	})

	t.Run("complex fits homography", func(t *testing.T) {
		h := geometry.NewProjective([9]float64{1, 0, 10, 0, 1, 7, 0.001, 0, 1})
		f := &stubFitter{projective: h}
		cur, prev := line(6, geometry.Point2D{X: 10, Y: 7})
		est, err := NewEstimator(f).Estimate(cur, prev)
		require.NoError(t, err)
		assert.Equal(t, Complex, est.Class)
		assert.Equal(t, []string{"projective"}, f.calls)
		assert.Equal(t, h, est.Transform)
	})
}

func TestEstimateErrors(t *testing.T) {
	t.Run("too few points", func(t *testing.T) {
		f := &stubFitter{}
		cur, prev := line(3, geometry.Point2D{X: 20})
		_, err := NewEstimator(f).Estimate(cur, prev)
		assert.ErrorIs(t, err, ErrTooFewPoints)
		assert.Empty(t, f.calls)
	})

	t.Run("minimum cannot drop below four", func(t *testing.T) {
		e := NewEstimator(&stubFitter{})
		e.MinPoints = 2
		cur, prev := line(3, geometry.Point2D{X: 20})
		_, err := e.Estimate(cur, prev)
		assert.ErrorIs(t, err, ErrTooFewPoints)
	})

	t.Run("fit failure propagates", func(t *testing.T) {
		f := &stubFitter{err: vision.ErrNoConsensus}
		cur, prev := line(8, geometry.Point2D{X: 20})
		est, err := NewEstimator(f).Estimate(cur, prev)
		assert.ErrorIs(t, err, vision.ErrNoConsensus)
		assert.Equal(t, Horizontal, est.Class)
	})

	t.Run("length mismatch", func(t *testing.T) {
		cur, prev := line(8, geometry.Point2D{X: 20})
		_, err := NewEstimator(&stubFitter{}).Estimate(cur, prev[:5])
		assert.Error(t, err)
	})
}

func TestEstimateWithNativeFitter(t *testing.T) {
	var cur, prev []geometry.Point2D
	for i := 0; i < 20; i++ {
		p := geometry.Point2D{X: float64(i*37%150) + 5, Y: float64(i*23%80) + 5}
		cur = append(cur, p)
		prev = append(prev, p.Add(geometry.Point2D{X: 20}))
	}
	est, err := NewEstimator(native.New(native.DefaultOptions())).Estimate(cur, prev)
	require.NoError(t, err)
	assert.Equal(t, Horizontal, est.Class)
	got := est.Transform.Apply(geometry.Point2D{X: 50, Y: 40})
	assert.InDelta(t, 70, got.X, 1e-6)
	assert.InDelta(t, 40, got.Y, 1e-6)
}
