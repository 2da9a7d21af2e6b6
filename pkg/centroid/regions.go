package centroid

import (
	"fmt"
	"math"
	"slices"
)

// regionMoments accumulates one seed's square neighbourhood. Offsets are
// relative to the seed; intensities have the global background removed.
type regionMoments struct {
	npix          int
	sum           int64
	sx, sy        int64
	sxx, syy, sxy int64
	peak          int32
	xPeak, yPeak  int
	backSum       int64
	backCount     int
}

// FindRegions scans img once and returns the isolated blobs that clear the
// seed threshold. Contiguity is not checked: every pixel of the square box
// around a seed that reaches the grow threshold belongs to the region, so
// sources closer than SearchBox merge into one candidate.
//
// mask must be zeroed by the caller; it is left holding the visit counters.
func FindRegions(img Image, mask Mask, p *RegionParams) (*RegionResult, error) {
	if err := img.validate(); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if mask.Width != img.Width || mask.Height != img.Height || len(mask.Counts) != len(img.Pix) {
		return nil, fmt.Errorf("%w: mask %dx%d does not match image %dx%d",
			ErrInvalidParameter, mask.Width, mask.Height, img.Width, img.Height)
	}

	log := loggerOrNop(p.Logger)
	metrics := &RegionMetrics{}
	candidates := make([]Candidate, 0, 64)
	width := img.Width

	for y := 0; y < img.Height; y++ {
		rowOffset := y * width
		for x := 0; x < width; x++ {
			if img.Pix[rowOffset+x] <= p.SeedThreshold || mask.Counts[rowOffset+x] != 0 {
				continue
			}

			metrics.Seeds++
			m := accumulateRegion(img, mask, p, x, y)
			cand, ok := evaluateRegion(img, p, x, y, &m, metrics)
			if !ok {
				continue
			}
			if p.Verbose {
				log.Debug().
					Int("seedX", x).Int("seedY", y).
					Float64("x", cand.X).Float64("y", cand.Y).
					Int("npix", cand.NPix).
					Float64("fwhmX", cand.FWHMX).Float64("fwhmY", cand.FWHMY).
					Msg("region accepted")
			}
			candidates = append(candidates, cand)
		}
	}

	// Newest region first.
	slices.Reverse(candidates)
	metrics.Accepted = len(candidates)

	if p.Verbose {
		log.Debug().
			Int("seeds", metrics.Seeds).
			Int("accepted", metrics.Accepted).
			Int("tooSmall", metrics.TooSmall).
			Int("tooLarge", metrics.TooLarge).
			Int("nearEdge", metrics.NearEdge).
			Int("degenerate", metrics.Degenerate).
			Msg("region scan finished")
	}

	return &RegionResult{Candidates: candidates, Metrics: metrics}, nil
}

func accumulateRegion(img Image, mask Mask, p *RegionParams, seedX, seedY int) regionMoments {
	width := img.Width
	box := p.SearchBox
	back := int64(p.GlobalBackground)

	m := regionMoments{peak: math.MinInt32, xPeak: seedX, yPeak: seedY}

	yStart, yEnd := max(seedY-box, 0), min(seedY+box, img.Height-1)
	xStart, xEnd := max(seedX-box, 0), min(seedX+box, width-1)

	for y := yStart; y <= yEnd; y++ {
		dy := int64(y - seedY)
		rowOffset := y * width
		for x := xStart; x <= xEnd; x++ {
			idx := rowOffset + x
			mask.Counts[idx]++

			pixel := img.Pix[idx]
			if pixel < p.GrowThreshold {
				m.backSum += int64(pixel) - back
				m.backCount++
				continue
			}

			mask.Counts[idx]++
			dx := int64(x - seedX)
			v := int64(pixel) - back
			m.npix++
			m.sum += v
			m.sx += v * dx
			m.sy += v * dy
			m.sxx += v * dx * dx
			m.syy += v * dy * dy
			m.sxy += v * dx * dy
			if pixel > m.peak {
				m.peak = pixel
				m.xPeak = x
				m.yPeak = y
			}
		}
	}
	return m
}

func evaluateRegion(img Image, p *RegionParams, seedX, seedY int, m *regionMoments, metrics *RegionMetrics) (Candidate, bool) {
	if m.npix < p.NMin {
		metrics.TooSmall++
		return Candidate{}, false
	}
	if m.npix > p.NMax {
		metrics.TooLarge++
		return Candidate{}, false
	}
	if m.sum <= 0 {
		metrics.Degenerate++
		return Candidate{}, false
	}

	tt := float64(m.sum)
	mx := float64(m.sx) / tt
	my := float64(m.sy) / tt
	cx := float64(seedX) + mx
	cy := float64(seedY) + my

	margin := float64(p.EdgeMargin)
	if cx-margin <= 0 || cy-margin <= 0 || cx+margin >= float64(img.Width) || cy+margin >= float64(img.Height) {
		metrics.NearEdge++
		return Candidate{}, false
	}

	// A region one pixel wide has no width on that axis and cannot seed the
	// refiner's Gaussian weights.
	varX := float64(m.sxx)/tt - mx*mx
	varY := float64(m.syy)/tt - my*my
	if varX <= 0 || varY <= 0 || m.backCount == 0 {
		metrics.Degenerate++
		return Candidate{}, false
	}

	return Candidate{
		X:          cx,
		Y:          cy,
		XPeak:      m.xPeak,
		YPeak:      m.yPeak,
		Peak:       float64(int64(m.peak) - int64(p.GlobalBackground)),
		Background: float64(m.backSum)/float64(m.backCount) + float64(p.GlobalBackground),
		FWHMX:      sigmaToFWHM * math.Sqrt(varX),
		FWHMY:      sigmaToFWHM * math.Sqrt(varY),
		Flux:       tt,
		NPix:       m.npix,
	}, true
}
