package cv

import (
	"context"
	"fmt"
	"io"

	"gocv.io/x/gocv"

	"frame-mosaic/internal/frame"
)

// VideoSource reads frames from a video file or capture URI.
type VideoSource struct {
	vc  *gocv.VideoCapture
	buf gocv.Mat
	n   int
}

var _ frame.Source = (*VideoSource)(nil)

// OpenVideo opens path for decoding.
func OpenVideo(path string) (*VideoSource, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open video %s: not opened", path)
	}
	return &VideoSource{vc: vc, buf: gocv.NewMat()}, nil
}

// FrameCount is the container's reported frame count, which may be an
// estimate or zero for streams.
func (v *VideoSource) FrameCount() int {
	return int(v.vc.Get(gocv.VideoCaptureFrameCount))
}

// Next decodes the next frame as RGB. It returns io.EOF once the stream
// has no more frames.
func (v *VideoSource) Next(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ok := v.vc.Read(&v.buf); !ok || v.buf.Empty() {
		return nil, io.EOF
	}
	v.n++
	f, err := matToFrame(v.buf)
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", v.n-1, err)
	}
	return f, nil
}

// Close releases the decoder.
func (v *VideoSource) Close() error {
	v.buf.Close()
	return v.vc.Close()
}

// ImageSink writes the frame with imwrite; the encoder follows the file
// extension.
type ImageSink struct {
	Path string
}

var _ frame.Sink = ImageSink{}

// Write encodes f to s.Path.
func (s ImageSink) Write(ctx context.Context, f *frame.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mat, err := frameToMat(f)
	if err != nil {
		return err
	}
	defer mat.Close()
	if !gocv.IMWrite(s.Path, mat) {
		return fmt.Errorf("imwrite %s failed", s.Path)
	}
	return nil
}
