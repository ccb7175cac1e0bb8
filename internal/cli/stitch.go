package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"frame-mosaic/internal/config"
	"frame-mosaic/internal/frame"
	"frame-mosaic/internal/journal"
	"frame-mosaic/internal/mosaic"
	"frame-mosaic/internal/vision/cv"
)

func newStitchCmd(app *App) *cobra.Command {
	var (
		output      string
		backend     string
		detector    string
		journalPath string
		budget      int
		matchCap    int
		minMatches  int
		renormalize int
		ratio       float64
		dominance   float64
		heightMult  float64
		widthMult   float64
	)

	cmd := &cobra.Command{
		Use:   "stitch <video|frame_directory> [output_path]",
		Short: "Composite a panning video into a mosaic",
		Long: `Read frames from a video file or a directory of images, align each frame
to the previous one and composite it onto the canvas. The finished canvas
is written to the output path; an interrupt stops at the next frame
boundary and still writes what has been composited.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *app.cfg
			flags := cmd.Flags()
			override(flags.Changed("output"), &cfg.Output.Path, output)
			override(flags.Changed("backend"), &cfg.Backend, backend)
			override(flags.Changed("journal"), &cfg.Output.Journal, journalPath)
			override(flags.Changed("detector"), &cfg.Mosaic.Detector, detector)
			override(flags.Changed("budget"), &cfg.Mosaic.KeypointBudget, budget)
			override(flags.Changed("match-cap"), &cfg.Mosaic.MatchCap, matchCap)
			override(flags.Changed("min-matches"), &cfg.Mosaic.MinMatches, minMatches)
			override(flags.Changed("renormalize-every"), &cfg.Mosaic.RenormalizeEvery, renormalize)
			override(flags.Changed("ratio"), &cfg.Mosaic.RatioTest, ratio)
			override(flags.Changed("dominance"), &cfg.Mosaic.DominantMotionRatio, dominance)
			override(flags.Changed("height-mult"), &cfg.Mosaic.HeightMultiplier, heightMult)
			override(flags.Changed("width-mult"), &cfg.Mosaic.WidthMultiplier, widthMult)
			if len(args) > 1 {
				cfg.Output.Path = args[1]
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.stitch(ctx, cmd.OutOrStdout(), &cfg, args[0])
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "mosaic output path (.png, .jpg, .tif, or any format OpenCV writes)")
	cmd.Flags().StringVarP(&backend, "backend", "b", "", "vision backend (opencv|native)")
	cmd.Flags().StringVarP(&detector, "detector", "d", "", "keypoint detector (sift|orb)")
	cmd.Flags().StringVar(&journalPath, "journal", "", "SQLite journal recording the run")
	cmd.Flags().IntVar(&budget, "budget", 0, "keypoints kept per frame")
	cmd.Flags().IntVar(&matchCap, "match-cap", 0, "best matches used for estimation")
	cmd.Flags().IntVar(&minMatches, "min-matches", 0, "matches required to apply a frame (at least 4)")
	cmd.Flags().IntVar(&renormalize, "renormalize-every", 0, "rescale projective poses every N applied frames (0 disables)")
	cmd.Flags().Float64Var(&ratio, "ratio", 0, "nearest/second-nearest ratio test threshold")
	cmd.Flags().Float64Var(&dominance, "dominance", 0, "axis dominance ratio for pure horizontal or vertical motion")
	cmd.Flags().Float64Var(&heightMult, "height-mult", 0, "canvas height in multiples of the first frame")
	cmd.Flags().Float64Var(&widthMult, "width-mult", 0, "canvas width in multiples of the first frame")

	return cmd
}

func override[T any](changed bool, dst *T, v T) {
	if changed {
		*dst = v
	}
}

func (a *App) stitch(ctx context.Context, stdout io.Writer, cfg *config.Config, input string) error {
	backend, err := a.backend(cfg.Backend)
	if err != nil {
		return err
	}

	src, expected, closeSrc, err := openSource(input)
	if err != nil {
		return err
	}
	defer closeSrc()

	rec, err := a.openRecorder(ctx, cfg, input)
	if err != nil {
		return err
	}
	defer rec.close()

	ctrl, err := mosaic.New(backend, cfg.Mosaic,
		mosaic.WithLogger(a.log.With("backend", backend.Name())),
		mosaic.WithObserver(rec.record),
	)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	a.log.Info("stitch started", "input", input, "output", cfg.Output.Path, "backend", backend.Name(), "detector", cfg.Mosaic.Detector, "frames", expected)
	st, runErr := ctrl.Run(ctx, src)
	if runErr != nil {
		rec.finish(st, runErr)
		return runErr
	}

	// The sink honours ctx; an interrupted run still writes its canvas.
	if err := sinkFor(cfg.Output.Path).Write(context.WithoutCancel(ctx), st.Canvas.Frame()); err != nil {
		rec.finish(st, err)
		return err
	}
	rec.finish(st, nil)

	fmt.Fprintf(stdout, "wrote %s (%dx%d): %d frames, %d applied, %d skipped",
		cfg.Output.Path, st.Canvas.Width(), st.Canvas.Height(), st.Index, st.Applied, st.Skipped)
	if st.Cancelled {
		fmt.Fprint(stdout, " (interrupted)")
	}
	if rec.runID != "" {
		fmt.Fprintf(stdout, ", run %s", rec.runID)
	}
	fmt.Fprintln(stdout)
	return nil
}

// openSource treats directories as image sequences and anything else as a
// video OpenCV can decode. It also reports the expected frame count, which
// for video is the container's estimate.
func openSource(input string) (frame.Source, int, func(), error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("%w: %w", mosaic.ErrNoUsableInput, err)
	}
	if info.IsDir() {
		seq, err := frame.OpenSequence(input)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("%w: %w", mosaic.ErrNoUsableInput, err)
		}
		return seq, seq.Len(), func() {}, nil
	}
	vid, err := cv.OpenVideo(input)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("%w: %w", mosaic.ErrNoUsableInput, err)
	}
	return vid, vid.FrameCount(), func() { vid.Close() }, nil
}

func sinkFor(path string) frame.Sink {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff":
		return frame.FileSink{Path: path}
	default:
		return cv.ImageSink{Path: path}
	}
}

// recorder mirrors frame outcomes into the journal. A zero recorder is a
// no-op so the journal stays optional.
type recorder struct {
	j     *journal.Journal
	runID string
	ctx   context.Context
	log   *slog.Logger
}

func (a *App) openRecorder(ctx context.Context, cfg *config.Config, input string) (*recorder, error) {
	rec := &recorder{ctx: context.WithoutCancel(ctx), log: a.log}
	if cfg.Output.Journal == "" {
		return rec, nil
	}
	j, err := journal.Open(cfg.Output.Journal)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	cfgJSON, err := json.Marshal(cfg.Mosaic)
	if err != nil {
		j.Close()
		return nil, err
	}
	id, err := j.BeginRun(rec.ctx, journal.Run{
		Source:     input,
		Backend:    cfg.Backend,
		Detector:   cfg.Mosaic.Detector,
		ConfigJSON: string(cfgJSON),
		OutputPath: cfg.Output.Path,
	})
	if err != nil {
		j.Close()
		return nil, err
	}
	rec.j, rec.runID = j, id
	rec.log = a.log.With("run", id)
	return rec, nil
}

func (r *recorder) record(o mosaic.Outcome) {
	if r.j == nil {
		return
	}
	ev := journal.FrameEvent{
		Index:     o.Index,
		Kind:      o.Kind.String(),
		Reason:    o.Reason,
		Keypoints: o.Keypoints,
		Matches:   o.Matches,
		Merged:    o.Merged,
	}
	if o.Kind == mosaic.KindApplied {
		ev.Motion = o.Class.String()
		ev.DX, ev.DY = o.Displacement.X, o.Displacement.Y
	}
	if o.Kind != mosaic.KindSkipped {
		if pose, err := json.Marshal(o.Pose.M); err == nil {
			ev.PoseJSON = string(pose)
		}
	}
	if err := r.j.RecordFrame(r.ctx, r.runID, ev); err != nil {
		r.log.Warn("journal write failed", "frame", o.Index, "error", err)
	}
}

func (r *recorder) finish(st mosaic.State, runErr error) {
	if r.j == nil {
		return
	}
	status := journal.StatusFinished
	switch {
	case runErr != nil:
		status = journal.StatusFailed
	case st.Cancelled:
		status = journal.StatusCancelled
	}
	if err := r.j.FinishRun(r.ctx, r.runID, status, st.Index, st.Applied, st.Skipped, runErr); err != nil {
		r.log.Warn("journal write failed", "error", err)
	}
}

func (r *recorder) close() {
	if r.j != nil {
		r.j.Close()
	}
}
