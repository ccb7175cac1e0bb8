package frame

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Source is a lazy, finite, non-restartable sequence of frames. Next returns
// io.EOF once the sequence is exhausted.
type Source interface {
	Next(ctx context.Context) (*Frame, error)
}

// Sink receives the finished canvas.
type Sink interface {
	Write(ctx context.Context, f *Frame) error
}

// SliceSource serves frames from memory.
type SliceSource struct {
	frames []*Frame
	pos    int
}

// NewSliceSource creates a source over the given frames.
func NewSliceSource(frames ...*Frame) *SliceSource {
	return &SliceSource{frames: frames}
}

// Next returns the next frame or io.EOF.
func (s *SliceSource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
}

// IsImageFile reports whether path has an extension the sequence source
// can decode.
func IsImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// SequenceSource yields the images of a directory in lexical file-name
// order, decoding each one lazily.
type SequenceSource struct {
	paths []string
	pos   int
}

// OpenSequence lists the decodable images in dir. A directory without
// images is an error.
func OpenSequence(dir string) (*SequenceSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	sort.Strings(paths)
	return &SequenceSource{paths: paths}, nil
}

// Len returns the number of frames in the sequence.
func (s *SequenceSource) Len() int {
	return len(s.paths)
}

// Next decodes the next image.
func (s *SequenceSource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.paths) {
		return nil, io.EOF
	}
	path := s.paths[s.pos]
	s.pos++
	return Load(path)
}

// Load decodes an image file into an RGB frame.
func Load(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", filepath.Base(path), err)
	}
	return FromImage(img)
}

// FileSink encodes the canvas to a file chosen by extension: .png, .tif/.tiff
// or JPEG for anything else.
type FileSink struct {
	Path    string
	Quality int // JPEG quality, 0 means 95
}

// Write encodes f to the sink's path, creating parent directories.
func (s FileSink) Write(ctx context.Context, f *Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.Empty() {
		return fmt.Errorf("nothing to write")
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	out, err := os.Create(s.Path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", s.Path, err)
	}

	img := opaque(f)
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".png":
		err = png.Encode(out, img)
	case ".tif", ".tiff":
		err = tiff.Encode(out, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		q := s.Quality
		if q == 0 {
			q = 95
		}
		err = jpeg.Encode(out, img, &jpeg.Options{Quality: q})
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", s.Path, err)
	}
	return nil
}

// opaque renders the frame with background left black rather than
// transparent, matching what a 3-channel buffer holds.
func opaque(f *Frame) *image.RGBA {
	img := f.ToImage()
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}
