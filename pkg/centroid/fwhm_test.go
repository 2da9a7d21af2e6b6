package centroid

import (
	"errors"
	"math"
	"testing"
)

func TestMeanFWHM(t *testing.T) {
	cands := []Candidate{
		{FWHMX: 3.0, FWHMY: 2.0},
		{FWHMX: 4.0, FWHMY: 2.5},
		{FWHMX: 3.5, FWHMY: 3.5},
	}
	fx, fy, err := MeanFWHM(cands)
	if err != nil {
		t.Fatalf("MeanFWHM: %v", err)
	}
	if math.Abs(fx-3.5) > 1e-12 || math.Abs(fy-8.0/3.0) > 1e-12 {
		t.Errorf("MeanFWHM = (%f, %f), want (3.5, 2.6667)", fx, fy)
	}
}

func TestMeanFWHMEmpty(t *testing.T) {
	if _, _, err := MeanFWHM(nil); !errors.Is(err, ErrNoCandidates) {
		t.Errorf("MeanFWHM(nil) error = %v, want ErrNoCandidates", err)
	}
}
