package centroid

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	backgroundAllowedError = 0.01
	backgroundIterations   = 10
)

// FrameResult is everything Centroid learned about one frame.
type FrameResult struct {
	Spots        []Spot
	Regions      *RegionMetrics
	Background   BackgroundStats
	Params       RegionParams
	FWHMX, FWHMY float64
	HotPixels    int64
	Mask         Mask
}

// Centroid runs detection and windowed refinement over one frame. img is
// not modified. Candidates are refined concurrently, at most cfg.Workers at
// a time; the logger is taken from ctx.
func Centroid(ctx context.Context, img Image, cfg *CentroidConfig) (*FrameResult, error) {
	if err := img.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := zerolog.Ctx(ctx)

	work := img
	result := &FrameResult{}
	if len(cfg.BadColumns) > 0 || cfg.HotPixelThreshold > 0 {
		work = img.Clone()
		if err := InterpolateBadColumns(work, cfg.BadColumns); err != nil {
			return nil, err
		}
		if cfg.HotPixelThreshold > 0 {
			n, err := SuppressHotPixels(work, cfg.HotPixelThreshold)
			if err != nil {
				return nil, err
			}
			result.HotPixels = n
		}
	}

	params := cfg.RegionParams()
	params.Logger = log
	if cfg.AutoThreshold() {
		bg, err := EstimateBackground(work, cfg.ThreshSigma, backgroundAllowedError, backgroundIterations)
		if err != nil {
			return nil, fmt.Errorf("estimating background: %w", err)
		}
		if err := ThresholdsFromBackground(bg, cfg.FindSigma, cfg.CentSigma, params); err != nil {
			return nil, err
		}
		result.Background = bg
	}
	result.Params = *params

	result.Mask = NewMask(work.Width, work.Height)
	regions, err := FindRegions(work, result.Mask, params)
	if err != nil {
		return nil, fmt.Errorf("finding regions: %w", err)
	}
	result.Regions = regions.Metrics
	cands := regions.Candidates

	result.FWHMX, result.FWHMY = cfg.FWHMX, cfg.FWHMY
	if !cfg.FixedFWHM && len(cands) > 0 {
		fx, fy, err := MeanFWHM(cands)
		if err != nil {
			return nil, err
		}
		result.FWHMX, result.FWHMY = fx, fy
	}

	wp := cfg.WindowParams(result.FWHMX, result.FWHMY)
	wp.Logger = log
	spots := make([]Spot, len(cands))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, c := range cands {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := WindowedPosition(work, c.X, c.Y, c.Background, wp)
			if err != nil && !errors.Is(err, ErrNoSignalInAperture) {
				return fmt.Errorf("refining spot %d: %w", i, err)
			}
			spots[i] = newSpot(i, c, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	result.Spots = spots

	log.Info().
		Int("spots", len(spots)).
		Int("seeds", regions.Metrics.Seeds).
		Int32("seedThreshold", params.SeedThreshold).
		Int32("growThreshold", params.GrowThreshold).
		Float64("fwhmX", result.FWHMX).
		Float64("fwhmY", result.FWHMY).
		Msg("frame centroided")

	return result, nil
}

// newSpot merges a candidate with its refinement; res is nil when the
// aperture held no signal and the isophotal centroid is kept.
func newSpot(id int, c Candidate, res *WindowResult) Spot {
	s := Spot{
		ID:         id,
		X:          c.X,
		Y:          c.Y,
		IsoX:       c.X,
		IsoY:       c.Y,
		XPeak:      c.XPeak,
		YPeak:      c.YPeak,
		Peak:       c.Peak,
		Flux:       c.Flux,
		Background: c.Background,
		FWHMX:      c.FWHMX,
		FWHMY:      c.FWHMY,
		NPix:       c.NPix,
	}
	if res == nil {
		s.Flags |= FlagRefineFailed
		return s
	}
	s.X, s.Y = res.X, res.Y
	s.X2, s.Y2, s.XY = res.X2, res.Y2, res.XY
	s.Flux = res.Flux
	s.NPix = res.NPix
	s.Iterations = res.Iterations
	if !res.Converged {
		s.Flags |= FlagNotConverged
	}
	return s
}
