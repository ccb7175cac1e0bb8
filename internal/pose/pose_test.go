package pose

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"

	"frame-mosaic/pkg/geometry"
)

func TestInitial(t *testing.T) {
	p := Initial(geometry.Point2D{X: 80, Y: 50})
	assert.Equal(t, geometry.KindAffine, p.Kind)
	assert.Equal(t, geometry.Point2D{X: 80, Y: 50}, p.TranslationPart())
	assert.Equal(t, geometry.Point2D{X: 81, Y: 52}, p.Apply(geometry.Point2D{X: 1, Y: 2}))
}

func TestChainTranslations(t *testing.T) {
	p := Initial(geometry.Point2D{X: 80, Y: 50})
	step := geometry.TranslationTransform(20, 0)
	p = Chain(p, step)
	p = Chain(p, step)
	assert.Equal(t, geometry.Point2D{X: 120, Y: 50}, p.TranslationPart())
	assert.Equal(t, geometry.KindAffine, p.Kind)
}

func TestChainOrder(t *testing.T) {
	// inc is applied to the point first, then prev.
	prev := geometry.TranslationTransform(100, 0)
	inc := geometry.FromAffine(geometry.AffineTransform{A: 2, D: 2})
	got := Chain(prev, inc).Apply(geometry.Point2D{X: 1, Y: 1})
	assert.Equal(t, geometry.Point2D{X: 102, Y: 2}, got)
}

func TestChainIsAssociativeOnPoints(t *testing.T) {
	t1 := geometry.FromAffine(geometry.Rotation(0.1).Compose(geometry.Translation(5, -3)))
	t2 := geometry.NewProjective([9]float64{1.01, 0.02, 4, -0.01, 0.99, 2, 0.0002, 0.0001, 1})
	id := geometry.IdentityTransform()
	opt := cmpopts.EquateApprox(0, 1e-9)

	for _, pt := range []geometry.Point2D{{X: 0, Y: 0}, {X: 12, Y: 30}, {X: -40, Y: 7.5}} {
		a := Chain(Chain(id, t1), t2).Apply(pt)
		b := Chain(id, Chain(t1, t2)).Apply(pt)
		assert.Empty(t, cmp.Diff(a, b, opt))
	}
}

func TestChainPromotesToProjective(t *testing.T) {
	h := geometry.NewProjective([9]float64{1, 0, 0, 0, 1, 0, 0.001, 0, 1})
	got := Chain(Initial(geometry.Point2D{X: 10}), h)
	assert.Equal(t, geometry.KindProjective, got.Kind)
}

func TestRenormalize(t *testing.T) {
	h := geometry.NewProjective([9]float64{2, 0, 4, 0, 2, 6, 0, 0, 2})

	t.Run("disabled", func(t *testing.T) {
		for applied := 0; applied < 5; applied++ {
			assert.Equal(t, h, Renormalize(h, applied, 0))
		}
	})

	t.Run("every second frame", func(t *testing.T) {
		assert.Equal(t, h, Renormalize(h, 1, 2))
		assert.Equal(t, h, Renormalize(h, 3, 2))
		got := Renormalize(h, 4, 2)
		assert.Equal(t, [9]float64{1, 0, 2, 0, 1, 3, 0, 0, 1}, got.M)
		assert.Equal(t, geometry.KindProjective, got.Kind)
	})

	t.Run("affine untouched", func(t *testing.T) {
		a := Initial(geometry.Point2D{X: 3, Y: 4})
		assert.Equal(t, a, Renormalize(a, 1, 1))
	})
}
