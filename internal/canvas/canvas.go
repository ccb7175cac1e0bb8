// Package canvas holds the fixed-size mosaic buffer and composites warped
// frames onto it.
package canvas

import (
	"fmt"

	"frame-mosaic/internal/frame"
	"frame-mosaic/internal/pose"
	"frame-mosaic/internal/vision"
	"frame-mosaic/pkg/geometry"
)

// Canvas is the mosaic buffer. Its size is fixed when it is created.
type Canvas struct {
	buf    *frame.Frame
	offset geometry.Point2D
}

// New allocates a canvas heightMult times taller and widthMult times wider
// than first, and copies first in bottom-anchored and horizontally centred.
func New(first *frame.Frame, heightMult, widthMult float64) (*Canvas, error) {
	if first == nil || first.Empty() {
		return nil, fmt.Errorf("canvas: empty first frame")
	}
	if heightMult < 1 || widthMult < 1 {
		return nil, fmt.Errorf("canvas: multipliers must be at least 1, got %gx%g", heightMult, widthMult)
	}

	h := int(heightMult * float64(first.Height))
	w := int(widthMult * float64(first.Width))
	buf, err := frame.New(w, h, first.Channels)
	if err != nil {
		return nil, fmt.Errorf("canvas: %w", err)
	}

	offX := (w - first.Width) / 2
	offY := h - first.Height
	if err := buf.Blit(first, offX, offY); err != nil {
		return nil, fmt.Errorf("canvas: seed: %w", err)
	}
	return &Canvas{
		buf:    buf,
		offset: geometry.Point2D{X: float64(offX), Y: float64(offY)},
	}, nil
}

// Width returns the canvas width in pixels.
func (c *Canvas) Width() int { return c.buf.Width }

// Height returns the canvas height in pixels.
func (c *Canvas) Height() int { return c.buf.Height }

// Offset is where the first frame's origin was placed.
func (c *Canvas) Offset() geometry.Point2D { return c.offset }

// InitialPose maps first-frame pixels to their canvas position.
func (c *Canvas) InitialPose() geometry.Transform {
	return pose.Initial(c.offset)
}

// Frame returns the canvas buffer. Callers must not modify it.
func (c *Canvas) Frame() *frame.Frame { return c.buf }

// Snapshot returns a copy of the canvas buffer.
func (c *Canvas) Snapshot() *frame.Frame { return c.buf.Clone() }

// Merge copies every sample of warped that is non-zero onto the canvas and
// returns the number of pixels touched. Zero samples leave the canvas as
// it was.
func (c *Canvas) Merge(warped *frame.Frame) (int, error) {
	if warped.Width != c.buf.Width || warped.Height != c.buf.Height || warped.Channels != c.buf.Channels {
		return 0, fmt.Errorf("canvas: merge of %dx%dx%d into %dx%dx%d",
			warped.Width, warped.Height, warped.Channels, c.buf.Width, c.buf.Height, c.buf.Channels)
	}

	counts := make([]int, c.buf.Height)
	ch := c.buf.Channels
	frame.ForStripes(c.buf.Height, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			row := y * c.buf.Stride()
			n := 0
			for x := 0; x < c.buf.Width; x++ {
				o := row + x*ch
				touched := false
				for k := 0; k < ch; k++ {
					if v := warped.Pix[o+k]; v != 0 {
						c.buf.Pix[o+k] = v
						touched = true
					}
				}
				if touched {
					n++
				}
			}
			counts[y] = n
		}
	})

	total := 0
	for _, n := range counts {
		total += n
	}
	return total, nil
}

// Composite warps f by t into canvas space with r and merges the result.
func (c *Canvas) Composite(f *frame.Frame, t geometry.Transform, r vision.Resampler) (int, error) {
	if f.Channels != c.buf.Channels {
		return 0, fmt.Errorf("canvas: frame has %d channels, canvas %d", f.Channels, c.buf.Channels)
	}
	warped, err := r.Resample(f, t, c.buf.Width, c.buf.Height)
	if err != nil {
		return 0, fmt.Errorf("canvas: warp: %w", err)
	}
	return c.Merge(warped)
}
