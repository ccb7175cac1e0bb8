package native

import (
	"image"
	"math"
	"math/rand"

	"github.com/disintegration/gift"

	"frame-mosaic/internal/frame"
)

const (
	patchRadius = 5 // float descriptor: (2r+1)^2 intensities

	briefRadius     = 15 // sampling pairs lie in a 31x31 patch
	briefBits       = 256
	briefSigma      = 2.0
	briefBlurRadius = 6 // ceil(3 * briefSigma), the blur kernel reach
)

// briefPairs holds the fixed sampling pattern: dx1, dy1, dx2, dy2 per bit.
var briefPairs = newBRIEFPattern(0x6d6f7361)

func newBRIEFPattern(seed int64) [][4]int {
	rng := rand.New(rand.NewSource(seed))
	sigma := float64(2*briefRadius+1) / 5
	draw := func() int {
		v := int(math.Round(rng.NormFloat64() * sigma))
		if v < -briefRadius {
			v = -briefRadius
		}
		if v > briefRadius {
			v = briefRadius
		}
		return v
	}
	pairs := make([][4]int, briefBits)
	for i := range pairs {
		pairs[i] = [4]int{draw(), draw(), draw(), draw()}
	}
	return pairs
}

// describePatches returns the mean-subtracted, L2-normalized intensity patch
// around each corner. Flat patches yield a zero vector.
func describePatches(gray *frame.Frame, corners []corner) [][]float32 {
	side := 2*patchRadius + 1
	out := make([][]float32, len(corners))
	for i, c := range corners {
		d := make([]float32, 0, side*side)
		var mean float64
		for dy := -patchRadius; dy <= patchRadius; dy++ {
			row := (c.y + dy) * gray.Width
			for dx := -patchRadius; dx <= patchRadius; dx++ {
				v := float64(gray.Pix[row+c.x+dx])
				mean += v
				d = append(d, float32(v))
			}
		}
		mean /= float64(len(d))

		var norm float64
		for j := range d {
			v := float64(d[j]) - mean
			d[j] = float32(v)
			norm += v * v
		}
		norm = math.Sqrt(norm)
		for j := range d {
			if norm < 1e-9 {
				d[j] = 0
				continue
			}
			d[j] = float32(float64(d[j]) / norm)
		}
		out[i] = d
	}
	return out
}

// describeBRIEF smooths the frame and compares the fixed pixel pairs around
// each corner, one bit per pair.
func describeBRIEF(gray *frame.Frame, corners []corner) [][]byte {
	src, _ := gray.GrayImage()
	g := gift.New(gift.GaussianBlur(briefSigma))
	blurred := image.NewGray(g.Bounds(src.Bounds()))
	g.Draw(blurred, src)

	at := func(x, y int) uint8 { return blurred.Pix[y*blurred.Stride+x] }

	out := make([][]byte, len(corners))
	for i, c := range corners {
		d := make([]byte, briefBits/8)
		for b, p := range briefPairs {
			if at(c.x+p[0], c.y+p[1]) < at(c.x+p[2], c.y+p[3]) {
				d[b/8] |= 1 << uint(b%8)
			}
		}
		out[i] = d
	}
	return out
}
