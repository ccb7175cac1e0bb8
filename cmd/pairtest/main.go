// Command pairtest runs extraction, matching and estimation on two frames
// and prints the estimated transform and per-match residuals.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"sort"

	"frame-mosaic/internal/config"
	"frame-mosaic/internal/features"
	"frame-mosaic/internal/frame"
	"frame-mosaic/internal/logging"
	"frame-mosaic/internal/motion"
	"frame-mosaic/internal/vision"
	"frame-mosaic/internal/vision/cv"
	"frame-mosaic/internal/vision/native"
	"frame-mosaic/pkg/geometry"
)

func main() {
	prevPath := flag.String("p", "", "Path to the previous frame")
	curPath := flag.String("c", "", "Path to the current frame")
	backendName := flag.String("backend", "native", "Vision backend (opencv|native)")
	detector := flag.String("d", "sift", "Detector family (sift|orb)")
	budget := flag.Int("n", 600, "Keypoint budget")
	matchCap := flag.Int("cap", 30, "Matches kept for estimation")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	if *prevPath == "" || *curPath == "" {
		fmt.Println("Usage: pairtest -p <previous> -c <current> [-backend native|opencv] [-d sift|orb]")
		os.Exit(1)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger := logging.New(level, "text", os.Stderr)

	var backend vision.Backend
	switch *backendName {
	case "native":
		backend = native.New(native.DefaultOptions())
	case "opencv":
		backend = cv.New(cv.DefaultOptions())
	default:
		fmt.Fprintf(os.Stderr, "Unknown backend %q\n", *backendName)
		os.Exit(1)
	}

	family, err := vision.ParseFamily(*detector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	opts := features.DefaultOptions()
	opts.Family = family
	opts.Budget = *budget
	opts.MatchCap = *matchCap
	engine, err := features.NewEngine(backend, opts, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create feature engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	prev := mustLoad(*prevPath)
	cur := mustLoad(*curPath)

	fmt.Printf("=== Extraction (%s, %s) ===\n", backend.Name(), family)
	prevSet, err := engine.Extract(prev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Extraction failed on previous frame: %v\n", err)
		os.Exit(1)
	}
	curSet, err := engine.Extract(cur)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Extraction failed on current frame: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Previous: %dx%d, %d keypoints\n", prev.Width, prev.Height, prevSet.Len())
	fmt.Printf("Current:  %dx%d, %d keypoints\n", cur.Width, cur.Height, curSet.Len())

	fmt.Printf("\n=== Matching ===\n")
	matches, err := engine.Match(curSet, prevSet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Matching failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Matches kept: %d\n", len(matches))
	minMatches := config.DefaultMosaic().MinMatches
	if len(matches) < minMatches {
		fmt.Printf("Fewer than %d matches: the frame would be skipped.\n", minMatches)
		return
	}

	curPts, prevPts := features.Correspondences(matches, curSet, prevSet)

	fmt.Printf("\n=== Estimation ===\n")
	est, err := motion.NewEstimator(backend).Estimate(curPts, prevPts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Estimation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Motion: %s\n", est.Class)
	fmt.Printf("Mean displacement: (%.2f, %.2f)\n", est.Displacement.X, est.Displacement.Y)
	fmt.Printf("Transform (%s):\n", est.Transform.Kind)
	for r := 0; r < 3; r++ {
		fmt.Printf("  [% 10.5f % 10.5f % 10.3f]\n", est.Transform.At(r, 0), est.Transform.At(r, 1), est.Transform.At(r, 2))
	}
	if a, ok := est.Transform.Affine(); ok {
		fmt.Printf("Rotation: %.4f°\n", math.Atan2(a.C, a.A)*180/math.Pi)
		fmt.Printf("Scale: %.6f\n", math.Hypot(a.A, a.C))
	}

	printResiduals(curPts, prevPts, est.Transform)
}

func mustLoad(path string) *frame.Frame {
	f, err := frame.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", path, err)
		os.Exit(1)
	}
	return f
}

// printResiduals reports how far each current-frame point lands from its
// previous-frame match after the transform.
func printResiduals(cur, prev []geometry.Point2D, t geometry.Transform) {
	if len(cur) == 0 {
		return
	}
	fmt.Printf("\nPer-match residuals (sorted by error):\n")
	type entry struct {
		x, y, err float64
	}
	entries := make([]entry, len(cur))
	var sum, worst float64
	for i := range cur {
		e := t.Apply(cur[i]).Distance(prev[i])
		entries[i] = entry{cur[i].X, cur[i].Y, e}
		sum += e
		worst = math.Max(worst, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].err < entries[j].err })
	for _, e := range entries {
		fmt.Printf("  X=%6.1f Y=%6.1f  err=%.2f px\n", e.x, e.y, e.err)
	}
	fmt.Printf("Avg error: %.2f px\n", sum/float64(len(entries)))
	fmt.Printf("Max error: %.2f px\n", worst)
}
