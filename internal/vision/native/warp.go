package native

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"golang.org/x/sync/errgroup"

	"frame-mosaic/internal/frame"
	"frame-mosaic/pkg/geometry"
)

// Resample implements vision.Resampler. Affine transforms go through the
// x/image bilinear transformer; projective ones through an inverse-mapped
// bilinear sampler.
func (b *Backend) Resample(img *frame.Frame, t geometry.Transform, width, height int) (*frame.Frame, error) {
	if img.Empty() {
		return nil, fmt.Errorf("native: empty input frame")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("native: invalid output size %dx%d", width, height)
	}
	if t.Kind == geometry.KindAffine {
		return warpAffine(img, t, width, height)
	}
	return b.warpPerspective(img, t, width, height)
}

func warpAffine(img *frame.Frame, t geometry.Transform, width, height int) (*frame.Frame, error) {
	a, _ := t.Affine()
	// x/image samples at pixel centres (x+0.5); shift so integer pixel
	// coordinates map the way the estimators see them.
	adj := geometry.Translation(0.5, 0.5).Compose(a).Compose(geometry.Translation(-0.5, -0.5))
	s2d := f64.Aff3{adj.A, adj.B, adj.TX, adj.C, adj.D, adj.TY}

	src := img.ToImage()
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Transform(dst, s2d, src, src.Bounds(), draw.Src, nil)

	return frame.FromRGBA(dst, img.Channels)
}

func (b *Backend) warpPerspective(img *frame.Frame, t geometry.Transform, width, height int) (*frame.Frame, error) {
	inv, err := t.Inverse()
	if err != nil {
		return nil, fmt.Errorf("native: %w", err)
	}
	out, err := frame.New(width, height, img.Channels)
	if err != nil {
		return nil, err
	}

	rect := destinationBounds(img, t, width, height)
	if rect.Empty() {
		return out, nil
	}

	var g errgroup.Group
	g.SetLimit(b.workers)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		y := y
		g.Go(func() error {
			px := make([]float64, img.Channels)
			for x := rect.Min.X; x < rect.Max.X; x++ {
				s := inv.Apply(geometry.Point2D{X: float64(x), Y: float64(y)})
				if !bilinear(img, s.X, s.Y, px) {
					continue
				}
				o := out.Offset(x, y)
				for c, v := range px {
					out.Pix[o+c] = uint8(math.Min(255, math.Max(0, v+0.5)))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// destinationBounds is the part of the output the warped frame can reach.
// When a corner maps through the plane at infinity the whole output is
// scanned.
func destinationBounds(img *frame.Frame, t geometry.Transform, width, height int) image.Rectangle {
	full := image.Rect(0, 0, width, height)
	w, h := float64(img.Width), float64(img.Height)
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range []geometry.Point2D{{X: -1, Y: -1}, {X: w, Y: -1}, {X: -1, Y: h}, {X: w, Y: h}} {
		m := t.M
		if m[6]*c.X+m[7]*c.Y+m[8] <= 0 {
			return full
		}
		p := t.Apply(c)
		minX, minY = math.Min(minX, p.X), math.Min(minY, p.Y)
		maxX, maxY = math.Max(maxX, p.X), math.Max(maxY, p.Y)
	}
	r := image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX))+1, int(math.Ceil(maxY))+1)
	return r.Intersect(full)
}

// bilinear samples img at (x, y) into px. Neighbours outside the frame
// count as zero. It returns false when no neighbour lies inside.
func bilinear(img *frame.Frame, x, y float64, px []float64) bool {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return false
	}
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	if x0 < -1 || y0 < -1 || x0 >= img.Width || y0 >= img.Height {
		return false
	}
	fx := x - float64(x0)
	fy := y - float64(y0)

	for c := range px {
		px[c] = 0
	}
	inside := false
	add := func(xx, yy int, w float64) {
		if xx < 0 || yy < 0 || xx >= img.Width || yy >= img.Height || w == 0 {
			return
		}
		inside = true
		o := img.Offset(xx, yy)
		for c := range px {
			px[c] += w * float64(img.Pix[o+c])
		}
	}
	add(x0, y0, (1-fx)*(1-fy))
	add(x0+1, y0, fx*(1-fy))
	add(x0, y0+1, (1-fx)*fy)
	add(x0+1, y0+1, fx*fy)
	return inside
}
