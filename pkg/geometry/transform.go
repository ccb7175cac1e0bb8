package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Kind tags the shape a Transform was produced with.
type Kind int

const (
	KindAffine     Kind = iota // bottom row fixed to [0 0 1]
	KindProjective             // general homography
)

func (k Kind) String() string {
	switch k {
	case KindAffine:
		return "affine"
	case KindProjective:
		return "projective"
	default:
		return "unknown"
	}
}

// Transform is a homogeneous 2D mapping stored as a row-major 3x3 matrix.
// Affine and projective estimates share this representation; Kind records
// which one it is so warping can pick the matching resampler.
type Transform struct {
	M    [9]float64 `json:"m"`
	Kind Kind       `json:"kind"`
}

// IdentityTransform returns the 3x3 identity.
func IdentityTransform() Transform {
	return Transform{M: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, Kind: KindAffine}
}

// TranslationTransform returns the identity with its translation column set.
func TranslationTransform(tx, ty float64) Transform {
	return FromAffine(Translation(tx, ty))
}

// FromAffine promotes a 2x3 affine transform by appending the row [0 0 1].
func FromAffine(a AffineTransform) Transform {
	return Transform{
		M: [9]float64{
			a.A, a.B, a.TX,
			a.C, a.D, a.TY,
			0, 0, 1,
		},
		Kind: KindAffine,
	}
}

// NewProjective wraps a row-major 3x3 homography.
func NewProjective(m [9]float64) Transform {
	return Transform{M: m, Kind: KindProjective}
}

// At returns the element at row r, column c.
func (t Transform) At(r, c int) float64 {
	return t.M[r*3+c]
}

// Dense returns a gonum copy of the matrix.
func (t Transform) Dense() *mat.Dense {
	data := make([]float64, 9)
	copy(data, t.M[:])
	return mat.NewDense(3, 3, data)
}

func fromDense(d mat.Matrix, kind Kind) Transform {
	var t Transform
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			t.M[r*3+c] = d.At(r, c)
		}
	}
	t.Kind = kind
	if kind == KindAffine {
		// Keep the affine bottom row exact regardless of rounding.
		t.M[6], t.M[7], t.M[8] = 0, 0, 1
	}
	return t
}

// Compose returns t·other: a point is mapped by other first, then by t.
// The result is affine only if both operands are.
func (t Transform) Compose(other Transform) Transform {
	var out mat.Dense
	out.Mul(t.Dense(), other.Dense())
	kind := KindProjective
	if t.Kind == KindAffine && other.Kind == KindAffine {
		kind = KindAffine
	}
	return fromDense(&out, kind)
}

// Inverse returns the inverse mapping.
func (t Transform) Inverse() (Transform, error) {
	var inv mat.Dense
	if err := inv.Inverse(t.Dense()); err != nil {
		return Transform{}, fmt.Errorf("transform is not invertible: %w", err)
	}
	return fromDense(&inv, t.Kind), nil
}

// Apply maps a point, dividing by the homogeneous coordinate.
func (t Transform) Apply(p Point2D) Point2D {
	m := t.M
	x := m[0]*p.X + m[1]*p.Y + m[2]
	y := m[3]*p.X + m[4]*p.Y + m[5]
	w := m[6]*p.X + m[7]*p.Y + m[8]
	if w == 0 {
		return Point2D{X: math.Inf(1), Y: math.Inf(1)}
	}
	return Point2D{X: x / w, Y: y / w}
}

// Affine returns the upper 2x3 block. ok is false for projective transforms.
func (t Transform) Affine() (AffineTransform, bool) {
	a := AffineTransform{
		A: t.M[0], B: t.M[1], TX: t.M[2],
		C: t.M[3], D: t.M[4], TY: t.M[5],
	}
	return a, t.Kind == KindAffine
}

// TranslationPart returns the translation column.
func (t Transform) TranslationPart() Point2D {
	return Point2D{X: t.M[2], Y: t.M[5]}
}

// BottomRow returns the perspective row.
func (t Transform) BottomRow() [3]float64 {
	return [3]float64{t.M[6], t.M[7], t.M[8]}
}

// Normalized scales the matrix so that element (2,2) is 1. Transforms with
// a vanishing (2,2) element are returned unchanged.
func (t Transform) Normalized() Transform {
	s := t.M[8]
	if math.Abs(s) < 1e-12 || s == 1 {
		return t
	}
	out := t
	for i := range out.M {
		out.M[i] /= s
	}
	return out
}

// String formats the matrix on one line for logs.
func (t Transform) String() string {
	m := t.M
	return fmt.Sprintf("%s[%.4f %.4f %.2f; %.4f %.4f %.2f; %.6f %.6f %.4f]",
		t.Kind, m[0], m[1], m[2], m[3], m[4], m[5], m[6], m[7], m[8])
}
