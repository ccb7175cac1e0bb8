// Package cv implements the vision capabilities on top of OpenCV through
// gocv: SIFT and ORB features, FLANN and brute-force matching, RANSAC
// estimators and warping.
package cv

import (
	"fmt"
	"sort"

	"gocv.io/x/gocv"

	"frame-mosaic/internal/frame"
	"frame-mosaic/internal/vision"
	"frame-mosaic/pkg/geometry"
)

// Options tunes the robust fitters.
type Options struct {
	Threshold  float64 // RANSAC reprojection threshold in pixels
	Iterations int     // homography RANSAC iterations
	Confidence float64 // homography RANSAC confidence
}

// DefaultOptions returns OpenCV's defaults for findHomography.
func DefaultOptions() Options {
	return Options{Threshold: 3, Iterations: 2000, Confidence: 0.995}
}

// Backend implements vision.Backend with OpenCV.
type Backend struct {
	opts Options
}

var _ vision.Backend = (*Backend)(nil)

// New creates an OpenCV backend. Zero option fields take their defaults.
func New(opts Options) *Backend {
	def := DefaultOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if opts.Iterations <= 0 {
		opts.Iterations = def.Iterations
	}
	if opts.Confidence <= 0 || opts.Confidence >= 1 {
		opts.Confidence = def.Confidence
	}
	return &Backend{opts: opts}
}

// Name identifies the backend in logs and the journal.
func (b *Backend) Name() string { return "opencv" }

// NewDetector returns SIFT for the float family and ORB for the binary one.
func (b *Backend) NewDetector(family vision.Family) (vision.Detector, error) {
	switch family {
	case vision.FloatDescriptor:
		s := gocv.NewSIFT()
		return &Detector{family: family, impl: &s, close: s.Close}, nil
	case vision.BinaryDescriptor:
		o := gocv.NewORB()
		return &Detector{family: family, impl: &o, close: o.Close}, nil
	default:
		return nil, fmt.Errorf("cv: unsupported detector family %d", family)
	}
}

type detectComputer interface {
	DetectAndCompute(src gocv.Mat, mask gocv.Mat) ([]gocv.KeyPoint, gocv.Mat)
}

// Detector wraps an OpenCV feature2d algorithm. It must be closed.
type Detector struct {
	family vision.Family
	impl   detectComputer
	close  func() error
}

// Family reports the descriptor family.
func (d *Detector) Family() vision.Family { return d.family }

// Close releases the OpenCV algorithm.
func (d *Detector) Close() error { return d.close() }

// DetectAndDescribe runs detection and description in one pass and keeps
// the budget strongest keypoints.
func (d *Detector) DetectAndDescribe(gray *frame.Frame, budget int) ([]vision.Keypoint, vision.Descriptors, error) {
	if gray.Channels != 1 {
		return nil, vision.Descriptors{}, fmt.Errorf("cv: detector needs a single-channel frame, got %d channels", gray.Channels)
	}
	mat, err := frameToMat(gray)
	if err != nil {
		return nil, vision.Descriptors{}, err
	}
	defer mat.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	kps, desc := d.impl.DetectAndCompute(mat, mask)
	defer desc.Close()
	if len(kps) == 0 || desc.Empty() {
		return nil, vision.Descriptors{}, nil
	}

	order := make([]int, len(kps))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return kps[order[i]].Response > kps[order[j]].Response
	})
	if budget > 0 && len(order) > budget {
		order = order[:budget]
	}

	out := make([]vision.Keypoint, len(order))
	for i, k := range order {
		kp := kps[k]
		out[i] = vision.Keypoint{
			Pt:       geometry.Point2D{X: kp.X, Y: kp.Y},
			Response: kp.Response,
			Size:     kp.Size,
			Angle:    kp.Angle,
		}
	}

	all, err := descriptorsFromMat(desc, d.family)
	if err != nil {
		return nil, vision.Descriptors{}, err
	}
	return out, all.Select(order), nil
}

func descriptorsFromMat(m gocv.Mat, family vision.Family) (vision.Descriptors, error) {
	rows, cols := m.Rows(), m.Cols()
	var out vision.Descriptors
	switch family {
	case vision.BinaryDescriptor:
		data := m.ToBytes()
		if len(data) != rows*cols {
			return out, fmt.Errorf("cv: binary descriptor mat has %d bytes, want %d", len(data), rows*cols)
		}
		out.Binary = make([][]byte, rows)
		for r := range out.Binary {
			row := make([]byte, cols)
			copy(row, data[r*cols:(r+1)*cols])
			out.Binary[r] = row
		}
	default:
		data, err := m.DataPtrFloat32()
		if err != nil {
			return out, fmt.Errorf("cv: float descriptors: %w", err)
		}
		out.Float = make([][]float32, rows)
		for r := range out.Float {
			row := make([]float32, cols)
			copy(row, data[r*cols:(r+1)*cols])
			out.Float[r] = row
		}
	}
	return out, nil
}

// descriptorsToMat is the inverse of descriptorsFromMat, used to hand
// descriptors back to the OpenCV matchers.
func descriptorsToMat(d vision.Descriptors) (gocv.Mat, error) {
	if d.Binary != nil {
		cols := len(d.Binary[0])
		data := make([]byte, 0, len(d.Binary)*cols)
		for _, row := range d.Binary {
			data = append(data, row...)
		}
		m, err := gocv.NewMatFromBytes(len(d.Binary), cols, gocv.MatTypeCV8UC1, data)
		if err != nil {
			return gocv.NewMat(), err
		}
		defer m.Close()
		return m.Clone(), nil
	}

	cols := len(d.Float[0])
	m := gocv.NewMatWithSize(len(d.Float), cols, gocv.MatTypeCV32F)
	for r, row := range d.Float {
		for c, v := range row {
			m.SetFloatAt(r, c, v)
		}
	}
	return m, nil
}
