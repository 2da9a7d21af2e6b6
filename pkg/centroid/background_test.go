package centroid

import (
	"errors"
	"math"
	"testing"
)

func TestEstimateBackgroundClipsStars(t *testing.T) {
	img := syntheticFrame(128, 96, 1000, 10,
		blob{x: 30, y: 30, peak: 20000, sigma: 1.5},
		blob{x: 90, y: 60, peak: 15000, sigma: 2.0},
		blob{x: 60, y: 20, peak: 8000, sigma: 1.2},
	)
	bg, err := EstimateBackground(img, 4, 0.01, 10)
	if err != nil {
		t.Fatalf("EstimateBackground: %v", err)
	}
	t.Logf("background: %v", bg)

	if math.Abs(bg.Mean-1000) > 1 {
		t.Errorf("mean %f, want about 1000", bg.Mean)
	}
	if math.Abs(bg.Sigma-10) > 1 {
		t.Errorf("sigma %f, want about 10", bg.Sigma)
	}
	if bg.NumIterations < 2 || bg.NumIterations > 10 {
		t.Errorf("%d iterations", bg.NumIterations)
	}
}

func TestEstimateBackgroundFlatFrame(t *testing.T) {
	img := NewImage(16, 16)
	for i := range img.Pix {
		img.Pix[i] = 500
	}
	bg, err := EstimateBackground(img, 3, 0.01, 5)
	if err != nil {
		t.Fatalf("EstimateBackground: %v", err)
	}
	if bg.Mean != 500 || bg.Sigma != 0 {
		t.Errorf("flat frame gave %v, want mean 500 sigma 0", bg)
	}
}

func TestEstimateBackgroundInvalid(t *testing.T) {
	img := NewImage(4, 4)
	if _, err := EstimateBackground(img, 0, 0.01, 5); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("kappa 0: error %v, want ErrInvalidParameter", err)
	}
	if _, err := EstimateBackground(Image{}, 3, 0.01, 5); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("empty image: error %v, want ErrInvalidParameter", err)
	}
}

func TestThresholdsFromBackground(t *testing.T) {
	p := NewRegionParams()
	bg := BackgroundStats{Mean: 1000.4, Sigma: 10}
	if err := ThresholdsFromBackground(bg, 5, 3, p); err != nil {
		t.Fatalf("ThresholdsFromBackground: %v", err)
	}
	if p.SeedThreshold != 1050 || p.GrowThreshold != 1030 || p.GlobalBackground != 1000 {
		t.Errorf("thresholds seed=%d grow=%d background=%d, want 1050, 1030, 1000",
			p.SeedThreshold, p.GrowThreshold, p.GlobalBackground)
	}

	if err := ThresholdsFromBackground(bg, 2, 3, p); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("find sigma below cent sigma: error %v, want ErrInvalidParameter", err)
	}
}
