package native

import (
	"fmt"
	"sort"

	"frame-mosaic/internal/frame"
	"frame-mosaic/internal/vision"
	"frame-mosaic/pkg/geometry"
)

const (
	harrisK      = 0.04
	harrisWindow = 2    // structure tensor box radius
	nmsRadius    = 2    // non-maximum suppression radius
	qualityLevel = 0.01 // fraction of the strongest response to keep
	floatMargin  = patchRadius + 3
	binaryMargin = briefRadius + briefBlurRadius + 3
)

// Detector finds Harris corners and describes them with either a normalized
// intensity patch (float family) or a BRIEF bit string (binary family).
type Detector struct {
	family vision.Family
}

// Family reports the descriptor family.
func (d *Detector) Family() vision.Family { return d.family }

// Close is a no-op; the detector holds no native resources.
func (d *Detector) Close() error { return nil }

// DetectAndDescribe returns up to budget keypoints ordered by decreasing
// corner response. Frames too small to hold a descriptor patch yield no
// keypoints.
func (d *Detector) DetectAndDescribe(gray *frame.Frame, budget int) ([]vision.Keypoint, vision.Descriptors, error) {
	if gray.Channels != 1 {
		return nil, vision.Descriptors{}, fmt.Errorf("native: detector needs a single-channel frame, got %d channels", gray.Channels)
	}
	margin := floatMargin
	if d.family == vision.BinaryDescriptor {
		margin = binaryMargin
	}
	if gray.Width < 2*margin+1 || gray.Height < 2*margin+1 {
		return nil, vision.Descriptors{}, nil
	}

	corners := harrisCorners(gray, margin)
	if budget > 0 && len(corners) > budget {
		corners = corners[:budget]
	}

	kps := make([]vision.Keypoint, len(corners))
	for i, c := range corners {
		kps[i] = vision.Keypoint{
			Pt:       geometry.Point2D{X: float64(c.x), Y: float64(c.y)},
			Response: c.response,
			Size:     float64(2*patchRadius + 1),
		}
	}

	var desc vision.Descriptors
	switch d.family {
	case vision.BinaryDescriptor:
		desc.Binary = describeBRIEF(gray, corners)
	default:
		desc.Float = describePatches(gray, corners)
	}
	return kps, desc, nil
}

type corner struct {
	x, y     int
	response float64
}

// harrisCorners computes the Harris response on the interior of gray and
// returns local maxima above the quality threshold, strongest first.
func harrisCorners(gray *frame.Frame, margin int) []corner {
	w, h := gray.Width, gray.Height
	ixx := make([]float64, w*h)
	iyy := make([]float64, w*h)
	ixy := make([]float64, w*h)

	px := func(x, y int) float64 { return float64(gray.Pix[y*w+x]) }

	frame.ForStripes(h, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			if y < 1 || y >= h-1 {
				continue
			}
			for x := 1; x < w-1; x++ {
				// Sobel
				gx := (px(x+1, y-1) + 2*px(x+1, y) + px(x+1, y+1)) -
					(px(x-1, y-1) + 2*px(x-1, y) + px(x-1, y+1))
				gy := (px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1)) -
					(px(x-1, y-1) + 2*px(x, y-1) + px(x+1, y-1))
				i := y*w + x
				ixx[i] = gx * gx
				iyy[i] = gy * gy
				ixy[i] = gx * gy
			}
		}
	})

	sxx := boxSum(ixx, w, h, harrisWindow)
	syy := boxSum(iyy, w, h, harrisWindow)
	sxy := boxSum(ixy, w, h, harrisWindow)

	resp := make([]float64, w*h)
	maxResp := 0.0
	for y := margin; y < h-margin; y++ {
		for x := margin; x < w-margin; x++ {
			i := y*w + x
			det := sxx[i]*syy[i] - sxy[i]*sxy[i]
			tr := sxx[i] + syy[i]
			r := det - harrisK*tr*tr
			resp[i] = r
			if r > maxResp {
				maxResp = r
			}
		}
	}
	if maxResp <= 0 {
		return nil
	}
	threshold := qualityLevel * maxResp

	var out []corner
	for y := margin; y < h-margin; y++ {
		for x := margin; x < w-margin; x++ {
			r := resp[y*w+x]
			if r <= threshold || !isLocalMax(resp, w, h, x, y, r) {
				continue
			}
			out = append(out, corner{x: x, y: y, response: r})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].response > out[j].response
	})
	return out
}

func isLocalMax(resp []float64, w, h, x, y int, r float64) bool {
	for dy := -nmsRadius; dy <= nmsRadius; dy++ {
		yy := y + dy
		if yy < 0 || yy >= h {
			continue
		}
		for dx := -nmsRadius; dx <= nmsRadius; dx++ {
			xx := x + dx
			if (dx == 0 && dy == 0) || xx < 0 || xx >= w {
				continue
			}
			if resp[yy*w+xx] >= r {
				return false
			}
		}
	}
	return true
}

// boxSum returns the sum of v over a (2r+1)^2 window around every pixel,
// computed separably. Samples outside the frame count as zero.
func boxSum(v []float64, w, h, r int) []float64 {
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			var s float64
			for k := x - r; k <= x+r; k++ {
				if k >= 0 && k < w {
					s += v[row+k]
				}
			}
			tmp[row+x] = s
		}
	}
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float64
			for k := y - r; k <= y+r; k++ {
				if k >= 0 && k < h {
					s += tmp[k*w+x]
				}
			}
			out[y*w+x] = s
		}
	}
	return out
}
