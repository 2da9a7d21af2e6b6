package centroid

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// MeanFWHM averages the isophotal widths of a frame's candidates to seed
// the windowed refinement of all of them.
func MeanFWHM(cands []Candidate) (fwhmX, fwhmY float64, err error) {
	if len(cands) == 0 {
		return 0, 0, fmt.Errorf("%w: cannot average fwhm", ErrNoCandidates)
	}
	xs := make([]float64, len(cands))
	ys := make([]float64, len(cands))
	for i, c := range cands {
		xs[i] = c.FWHMX
		ys[i] = c.FWHMY
	}
	return stat.Mean(xs, nil), stat.Mean(ys, nil), nil
}
