/*
Extracted from HocusFocus plugin by George Hilios.
Original Copyright © 2021 George Hilios <ghilios+NINA@googlemail.com>
Licensed under Mozilla Public License 2.0.
Ported to Go.
*/

package centroid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// BackgroundStats holds the result of kappa-sigma clipping.
type BackgroundStats struct {
	Mean          float64
	Sigma         float64
	NumIterations int
}

func (s BackgroundStats) String() string {
	return fmt.Sprintf("{Mean=%f, Sigma=%f, NumIterations=%d}", s.Mean, s.Sigma, s.NumIterations)
}

// EstimateBackground iteratively rejects pixels more than kappa sigma above
// the mean until sigma changes by no more than allowedError.
func EstimateBackground(img Image, kappa, allowedError float64, maxIterations int) (BackgroundStats, error) {
	if err := img.validate(); err != nil {
		return BackgroundStats{}, err
	}
	if kappa <= 0 || maxIterations < 1 {
		return BackgroundStats{}, fmt.Errorf("%w: kappa %f, iterations %d", ErrInvalidParameter, kappa, maxIterations)
	}

	values := make([]float64, len(img.Pix))
	for i, p := range img.Pix {
		values[i] = float64(p)
	}

	threshold := math.Inf(1)
	lastSigma := 0.0
	lastMean := 0.0
	numIterations := 0
	kept := values

	for numIterations < maxIterations {
		if numIterations > 0 {
			kept = make([]float64, 0, len(values))
			for _, v := range values {
				if v < threshold {
					kept = append(kept, v)
				}
			}
			if len(kept) < 2 {
				break
			}
		}
		mean, sigma := stat.MeanStdDev(kept, nil)

		numIterations++
		if numIterations > 1 && math.Abs(sigma-lastSigma) <= allowedError {
			lastSigma = sigma
			lastMean = mean
			break
		}
		threshold = mean + kappa*sigma
		lastSigma = sigma
		lastMean = mean
	}

	return BackgroundStats{Mean: lastMean, Sigma: lastSigma, NumIterations: numIterations}, nil
}

// ThresholdsFromBackground derives detector thresholds from clipped
// background statistics: seeds must clear mean + findSigma*sigma, members
// mean + centSigma*sigma, and the mean becomes the global background.
func ThresholdsFromBackground(bg BackgroundStats, findSigma, centSigma float64, p *RegionParams) error {
	if findSigma < centSigma {
		return fmt.Errorf("%w: find sigma %f below centroid sigma %f", ErrInvalidParameter, findSigma, centSigma)
	}
	p.SeedThreshold = int32(math.Round(bg.Mean + findSigma*bg.Sigma))
	p.GrowThreshold = int32(math.Round(bg.Mean + centSigma*bg.Sigma))
	p.GlobalBackground = int32(math.Round(bg.Mean))
	return nil
}
