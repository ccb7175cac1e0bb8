package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frame-mosaic/internal/config"
	"frame-mosaic/internal/frame"
	"frame-mosaic/internal/journal"
	"frame-mosaic/internal/mosaic"
	"frame-mosaic/internal/version"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(DefaultBackends())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writePan stores n width-wide windows of a noise image, each step pixels
// further right, as PNG files.
func writePan(t *testing.T, dir string, width, step, n int) {
	t.Helper()
	base, err := frame.New(200, 100, 3)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(9))
	for i := range base.Pix {
		base.Pix[i] = uint8(rng.Intn(255) + 1)
	}
	for k := 0; k < n; k++ {
		f, err := frame.New(width, base.Height, 3)
		require.NoError(t, err)
		require.NoError(t, f.Blit(base, -k*step, 0))
		sink := frame.FileSink{Path: filepath.Join(dir, fmt.Sprintf("frame_%03d.png", k))}
		require.NoError(t, sink.Write(context.Background(), f))
	}
}

func TestStitchDirectory(t *testing.T) {
	tmp := t.TempDir()
	frames := filepath.Join(tmp, "frames")
	writePan(t, frames, 160, 20, 3)
	out := filepath.Join(tmp, "out", "mosaic.png")
	db := filepath.Join(tmp, "journal.db")

	stdout, err := run(t,
		"--config", filepath.Join(tmp, "none.json"),
		"stitch", frames, out,
		"--backend", "native",
		"--height-mult", "1.5",
		"--width-mult", "2",
		"--journal", db,
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "3 frames, 2 applied, 0 skipped")
	assert.Contains(t, stdout, "(320x150)")

	written, err := frame.Load(out)
	require.NoError(t, err)
	assert.Equal(t, 320, written.Width)
	assert.Equal(t, 150, written.Height)

	j, err := journal.Open(db)
	require.NoError(t, err)
	defer j.Close()
	runs, err := j.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, journal.StatusFinished, runs[0].Status)
	assert.Equal(t, 3, runs[0].Frames)
	assert.Equal(t, 2, runs[0].Applied)
	assert.Equal(t, "native", runs[0].Backend)
	assert.Equal(t, out, runs[0].OutputPath)

	events, err := j.ListFrames(context.Background(), runs[0].ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "seeded", events[0].Kind)
	for _, e := range events[1:] {
		assert.Equal(t, "applied", e.Kind)
		assert.Equal(t, "horizontal", e.Motion)
		assert.InDelta(t, 20, e.DX, 1e-6)
	}

	var cfg config.Mosaic
	require.NoError(t, json.Unmarshal([]byte(runs[0].ConfigJSON), &cfg))
	assert.Equal(t, 2.0, cfg.WidthMultiplier)

	listing, err := run(t, "--config", filepath.Join(tmp, "none.json"), "journal", "frames", runs[0].ID, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, listing, "horizontal")
	assert.Contains(t, listing, runs[0].ID)

	listing, err = run(t, "--config", filepath.Join(tmp, "none.json"), "journal", "runs", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, listing, runs[0].ID)
	assert.Contains(t, listing, journal.StatusFinished)
}

func TestStitchFailures(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "none.json")
	frames := filepath.Join(tmp, "frames")
	writePan(t, frames, 60, 10, 1)

	_, err := run(t, "--config", cfgPath, "stitch", frames, "--backend", "native", "--min-matches", "3")
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = run(t, "--config", cfgPath, "stitch", frames, "--backend", "bogus")
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = run(t, "--config", cfgPath, "stitch", filepath.Join(tmp, "missing"), "--backend", "native")
	assert.ErrorIs(t, err, mosaic.ErrNoUsableInput)

	empty := filepath.Join(tmp, "empty")
	require.NoError(t, os.Mkdir(empty, 0o755))
	_, err = run(t, "--config", cfgPath, "stitch", empty, "--backend", "native")
	assert.ErrorIs(t, err, mosaic.ErrNoUsableInput)

	_, err = run(t, "--config", cfgPath, "stitch")
	assert.Error(t, err)
}

func TestOpenSource(t *testing.T) {
	tmp := t.TempDir()
	writePan(t, tmp, 60, 10, 4)

	src, n, closeSrc, err := openSource(tmp)
	require.NoError(t, err)
	defer closeSrc()
	assert.Equal(t, 4, n)
	f, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 60, f.Width)

	_, _, _, err = openSource(filepath.Join(tmp, "frame_000.png.missing"))
	assert.ErrorIs(t, err, mosaic.ErrNoUsableInput)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "config.json")

	out, err := run(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = run(t, "--config", path, "config", "init")
	assert.Error(t, err)
	_, err = run(t, "--config", path, "config", "init", "--force")
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	out, err = run(t, "--config", path, "config", "show")
	require.NoError(t, err)
	var shown config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, *config.Default(), shown)

	_, err = run(t, "--config", path, "config", "validate")
	assert.NoError(t, err)
}

func TestJournalRequiresDatabase(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "none.json"), "journal", "runs")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "--config", filepath.Join(t.TempDir(), "none.json"), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mosaic "+version.Version)
}
