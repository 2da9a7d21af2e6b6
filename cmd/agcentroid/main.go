package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"agcentroid/pkg/camera"
	"agcentroid/pkg/centroid"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type frameInput struct {
	name string
	load func() (centroid.Image, error)
}

type frameOutput struct {
	name   string
	img    centroid.Image
	result *centroid.FrameResult
	field  *centroid.FieldAnalysis
	took   time.Duration
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("agcentroid", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML parameter file (defaults when empty)")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	overlayPath := fs.String("overlay", "", "Write a JPEG overlay per frame to this path")
	simulate := fs.Int("simulate", 0, "Take this many frames from the simulated camera instead of files")
	exposure := fs.Duration("exposure", 100*time.Millisecond, "Simulated exposure time")
	saveDir := fs.String("save", "", "Directory for FITS copies of simulated frames")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	logger := newConsoleLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logger.WithContext(ctx)

	cfg := centroid.DefaultCentroidConfig()
	if *configPath != "" {
		if cfg, err = centroid.LoadConfig(*configPath); err != nil {
			return err
		}
	}

	var inputs []frameInput
	switch {
	case *simulate > 0:
		inputs, err = simulatedFrames(ctx, *simulate, *exposure, *saveDir, &logger)
		if err != nil {
			return err
		}
	case fs.NArg() > 0:
		for _, path := range fs.Args() {
			inputs = append(inputs, frameInput{name: path, load: func() (centroid.Image, error) { return loadFrame(path) }})
		}
	default:
		return fmt.Errorf("usage: agcentroid [flags] <frame>... (or -simulate n)")
	}

	outputs := make([]*frameOutput, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, in := range inputs {
		g.Go(func() error {
			img, err := in.load()
			if err != nil {
				return fmt.Errorf("%s: %w", in.name, err)
			}
			start := time.Now()
			fctx := logger.With().Str("frame", in.name).Logger().WithContext(gctx)
			res, err := centroid.Centroid(fctx, img, cfg)
			if err != nil {
				return fmt.Errorf("%s: %w", in.name, err)
			}
			outputs[i] = &frameOutput{
				name:   in.name,
				img:    img,
				result: res,
				field:  centroid.AnalyzeField(res.Spots, img.Width, img.Height),
				took:   time.Since(start),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, out := range outputs {
		printFrame(stdout, out)
		if *overlayPath == "" {
			continue
		}
		path := overlayName(*overlayPath, i, len(outputs))
		if err := centroid.RenderOverlay(out.img, out.result, out.field, path); err != nil {
			return fmt.Errorf("rendering overlay: %w", err)
		}
		logger.Info().Str("path", path).Msg("overlay written")
	}
	return nil
}

func newConsoleLogger(level zerolog.Level) zerolog.Logger {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return zerolog.New(consoleWriter).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func loadFrame(path string) (centroid.Image, error) {
	lowerPath := strings.ToLower(path)
	if strings.HasSuffix(lowerPath, ".fits") || strings.HasSuffix(lowerPath, ".fit") || strings.HasSuffix(lowerPath, ".fts") {
		frame, err := centroid.ReadFits(path)
		if err != nil {
			return centroid.Image{}, fmt.Errorf("reading FITS: %w", err)
		}
		return frame.Image, nil
	}
	return loadNonFitsImage(path)
}

// simulatedFrames exposes n frames on a simulated camera with a random star
// field. The field is the same for every frame; only the noise changes.
func simulatedFrames(ctx context.Context, n int, exposure time.Duration, saveDir string, logger *zerolog.Logger) ([]frameInput, error) {
	simCfg := camera.NewSimConfig()
	simCfg.ReadoutTime = 0
	simCfg.Seed = uint64(time.Now().UnixNano())
	rng := rand.New(rand.NewPCG(simCfg.Seed, 1))
	for range 40 {
		simCfg.Stars = append(simCfg.Stars, camera.Star{
			X:     20 + rng.Float64()*float64(simCfg.Width-40),
			Y:     20 + rng.Float64()*float64(simCfg.Height-40),
			Flux:  20000 + rng.Float64()*80000,
			Sigma: 1.2 + rng.Float64()*0.4,
		})
	}

	session := camera.NewSession(&camera.SimDriver{Cameras: 1, Config: simCfg}, logger)
	defer session.CloseAll()

	dev, err := session.Open(0)
	if err != nil {
		return nil, err
	}
	if err := dev.SetExposure(exposure); err != nil {
		return nil, err
	}

	inputs := make([]frameInput, 0, n)
	for i := range n {
		if err := dev.Expose(ctx); err != nil {
			return nil, fmt.Errorf("exposing frame %d: %w", i, err)
		}
		frame, err := dev.ReadFrame()
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("sim-%03d", i)
		if saveDir != "" {
			path := filepath.Join(saveDir, name+".fits")
			if err := saveFits(path, frame, dev.Info()); err != nil {
				return nil, err
			}
			name = path
		}
		img := frame.Image
		inputs = append(inputs, frameInput{name: name, load: func() (centroid.Image, error) { return img, nil }})
	}
	return inputs, nil
}

func saveFits(path string, frame *camera.Frame, info camera.Info) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating FITS file: %w", err)
	}
	if err := centroid.WriteFits(f, frame.Image, frame.Headers(info)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func overlayName(path string, i, n int) string {
	if n == 1 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-%03d%s", strings.TrimSuffix(path, ext), i, ext)
}

func printFrame(w io.Writer, out *frameOutput) {
	res := out.result
	fmt.Fprintln(w)
	fmt.Fprintf(w, "=== %s (%.2fs) ===\n", out.name, out.took.Seconds())
	fmt.Fprintf(w, "  Image size:      %d x %d\n", out.img.Width, out.img.Height)
	fmt.Fprintf(w, "  Thresholds:      seed %d, grow %d, background %d\n",
		res.Params.SeedThreshold, res.Params.GrowThreshold, res.Params.GlobalBackground)
	m := res.Regions
	fmt.Fprintf(w, "  Seeds:           %d (accepted %d, small %d, large %d, edge %d, degenerate %d)\n",
		m.Seeds, m.Accepted, m.TooSmall, m.TooLarge, m.NearEdge, m.Degenerate)
	if res.HotPixels > 0 {
		fmt.Fprintf(w, "  Hot pixels:      %d\n", res.HotPixels)
	}
	fmt.Fprintf(w, "  FWHM (mean):     %.3f x %.3f px\n", res.FWHMX, res.FWHMY)

	if len(res.Spots) > 0 {
		fwhm := make([]float64, len(res.Spots))
		for i := range res.Spots {
			fwhm[i] = res.Spots[i].FWHM()
		}
		fwhmMedian, fwhmMAD := medianMAD(fwhm)
		fmt.Fprintf(w, "  FWHM (median):   %.3f +/- %.3f px\n", fwhmMedian, fwhmMAD)

		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %4s %9s %9s %9s %9s %8s %10s %6s %6s %3s %s\n",
			"id", "x", "y", "iso x", "iso y", "peak", "flux", "fwhmx", "fwhmy", "it", "flags")
		for _, s := range res.Spots {
			fmt.Fprintf(w, "  %4d %9.3f %9.3f %9.3f %9.3f %8.0f %10.0f %6.2f %6.2f %3d %s\n",
				s.ID, s.X, s.Y, s.IsoX, s.IsoY, s.Peak, s.Flux, s.FWHMX, s.FWHMY, s.Iterations, flagString(s.Flags))
		}
	}

	if field := out.field; field != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "  Field (3x3):")
		for i, pos := range centroid.ZoneOrder {
			z := field.Zones[pos]
			fmt.Fprintf(w, "    %-8s FWHM=%.3f  flux=%.0f  n=%d\n", z.Label, z.MedianFWHM, z.MedianFlux, z.SpotCount)
			if (i+1)%3 == 0 && i < 8 {
				fmt.Fprintln(w, "    ---")
			}
		}
		fmt.Fprintf(w, "    Tilt:     %.1f%% (best: %s, worst: %s)\n", field.TiltPct, field.BestCorner, field.WorstCorner)
		fmt.Fprintf(w, "    Off-axis: %.1f%%\n", field.OffAxisPct)
		if !field.Reliable {
			fmt.Fprintln(w, "    [LOW SPOT COUNT - UNRELIABLE]")
		}
	}
	fmt.Fprintln(w, "==============================")
}

func flagString(f centroid.SpotFlags) string {
	var parts []string
	if f&centroid.FlagNotConverged != 0 {
		parts = append(parts, "noconv")
	}
	if f&centroid.FlagRefineFailed != 0 {
		parts = append(parts, "iso")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

func medianMAD(values []float64) (float64, float64) {
	if len(values) == 0 {
		return math.NaN(), math.NaN()
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	median := middle(sorted)

	deviations := make([]float64, len(sorted))
	for i := range sorted {
		deviations[i] = math.Abs(sorted[i] - median)
	}
	slices.Sort(deviations)

	return median, 1.4826 * middle(deviations)
}

func middle(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2.0
	}
	return sorted[n/2]
}
