// Package frame provides the pixel buffer passed through the mosaic pipeline,
// conversions to and from image.Image, and the frame source/sink contracts.
package frame

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/disintegration/gift"
)

// Frame is a rectangular grid of 8-bit samples stored row-major with
// interleaved channels. Colour frames use RGB order.
type Frame struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// New allocates a zeroed frame.
func New(width, height, channels int) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if channels != 1 && channels != 3 && channels != 4 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	return &Frame{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]uint8, width*height*channels),
	}, nil
}

// Stride returns the number of samples per row.
func (f *Frame) Stride() int {
	return f.Width * f.Channels
}

// Offset returns the index of the first sample of pixel (x, y).
func (f *Frame) Offset(x, y int) int {
	return y*f.Stride() + x*f.Channels
}

// At returns channel c of pixel (x, y).
func (f *Frame) At(x, y, c int) uint8 {
	return f.Pix[f.Offset(x, y)+c]
}

// Set writes channel c of pixel (x, y).
func (f *Frame) Set(x, y, c int, v uint8) {
	f.Pix[f.Offset(x, y)+c] = v
}

// Bounds returns the frame rectangle anchored at the origin.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// Empty reports whether the frame has no samples.
func (f *Frame) Empty() bool {
	return f == nil || f.Width == 0 || f.Height == 0 || len(f.Pix) == 0
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := *f
	out.Pix = make([]uint8, len(f.Pix))
	copy(out.Pix, f.Pix)
	return &out
}

// Fill sets every sample of every pixel to v.
func (f *Frame) Fill(v uint8) {
	for i := range f.Pix {
		f.Pix[i] = v
	}
}

// Blit copies src into f with its top-left corner at (x0, y0). Pixels that
// fall outside f are dropped.
func (f *Frame) Blit(src *Frame, x0, y0 int) error {
	if src.Channels != f.Channels {
		return fmt.Errorf("channel mismatch: %d vs %d", src.Channels, f.Channels)
	}
	r := src.Bounds().Add(image.Pt(x0, y0)).Intersect(f.Bounds())
	if r.Empty() {
		return nil
	}
	n := r.Dx() * f.Channels
	for y := r.Min.Y; y < r.Max.Y; y++ {
		dst := f.Offset(r.Min.X, y)
		s := src.Offset(r.Min.X-x0, y-y0)
		copy(f.Pix[dst:dst+n], src.Pix[s:s+n])
	}
	return nil
}

// FromImage converts an image to a 3-channel RGB frame.
func FromImage(img image.Image) (*Frame, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	bounds := img.Bounds()
	f, err := New(bounds.Dx(), bounds.Dy(), 3)
	if err != nil {
		return nil, err
	}

	ForStripes(f.Height, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			row := y * f.Stride()
			for x := 0; x < f.Width; x++ {
				r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
				o := row + x*3
				f.Pix[o+0] = uint8(r >> 8)
				f.Pix[o+1] = uint8(g >> 8)
				f.Pix[o+2] = uint8(b >> 8)
			}
		}
	})
	return f, nil
}

// ToImage converts the frame to an RGBA image. Pixels whose samples are all
// zero become transparent so background stays distinguishable.
func (f *Frame) ToImage() *image.RGBA {
	img := image.NewRGBA(f.Bounds())
	ForStripes(f.Height, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			for x := 0; x < f.Width; x++ {
				o := f.Offset(x, y)
				p := img.PixOffset(x, y)
				var r, g, b uint8
				switch f.Channels {
				case 1:
					r, g, b = f.Pix[o], f.Pix[o], f.Pix[o]
				default:
					r, g, b = f.Pix[o], f.Pix[o+1], f.Pix[o+2]
				}
				img.Pix[p+0] = r
				img.Pix[p+1] = g
				img.Pix[p+2] = b
				if r|g|b != 0 {
					img.Pix[p+3] = 0xff
				}
			}
		}
	})
	return img
}

// FromRGBA converts an RGBA image into a frame with the requested channel
// count. Alpha is dropped and single-channel output is luma.
func FromRGBA(img *image.RGBA, channels int) (*Frame, error) {
	b := img.Bounds()
	f, err := New(b.Dx(), b.Dy(), channels)
	if err != nil {
		return nil, err
	}
	ForStripes(f.Height, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			for x := 0; x < f.Width; x++ {
				p := img.PixOffset(x+b.Min.X, y+b.Min.Y)
				o := f.Offset(x, y)
				switch channels {
				case 1:
					f.Pix[o] = uint8((299*uint32(img.Pix[p]) + 587*uint32(img.Pix[p+1]) + 114*uint32(img.Pix[p+2]) + 500) / 1000)
				default:
					copy(f.Pix[o:o+channels], img.Pix[p:p+channels])
				}
			}
		}
	})
	return f, nil
}

// Gray returns a single-channel intensity frame. Single-channel frames are
// returned as-is.
func (f *Frame) Gray() *Frame {
	if f.Channels == 1 {
		return f
	}
	src := opaque(f)
	g := gift.New(gift.Grayscale())
	dst := image.NewGray(g.Bounds(src.Bounds()))
	g.Draw(dst, src)

	out := &Frame{Width: f.Width, Height: f.Height, Channels: 1, Pix: dst.Pix}
	if dst.Stride != f.Width {
		out.Pix = make([]uint8, f.Width*f.Height)
		for y := 0; y < f.Height; y++ {
			copy(out.Pix[y*f.Width:(y+1)*f.Width], dst.Pix[y*dst.Stride:])
		}
	}
	return out
}

// GrayImage wraps a single-channel frame as an image.Gray without copying.
func (f *Frame) GrayImage() (*image.Gray, error) {
	if f.Channels != 1 {
		return nil, fmt.Errorf("expected 1 channel, got %d", f.Channels)
	}
	return &image.Gray{Pix: f.Pix, Stride: f.Width, Rect: f.Bounds()}, nil
}

// ForStripes splits rows into horizontal stripes processed in parallel and
// blocks until every stripe is done.
func ForStripes(height int, fn func(yStart, yEnd int)) {
	numWorkers := runtime.NumCPU()
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		endY := startY + rowsPerWorker
		if endY > height {
			endY = height
		}
		if startY >= height {
			break
		}

		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			fn(yStart, yEnd)
		}(startY, endY)
	}
	wg.Wait()
}
