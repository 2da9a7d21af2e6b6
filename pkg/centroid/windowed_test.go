package centroid

import (
	"errors"
	"math"
	"testing"
)

func TestWindowedPositionFastConverges(t *testing.T) {
	img := syntheticFrame(48, 48, 0, 0, blob{x: 20.3, y: 25.7, peak: 30000, sigma: 1.5})
	fwhm := 1.5 * sigmaToFWHM

	res, err := WindowedPositionFast(img, 20, 25, NewWindowParams(fwhm, fwhm))
	if err != nil {
		t.Fatalf("WindowedPositionFast: %v", err)
	}
	t.Logf("result: %v, steps %v", res, res.Steps)

	if !res.Converged || res.Iterations >= 20 {
		t.Errorf("converged=%t after %d iterations, want convergence below the cap", res.Converged, res.Iterations)
	}
	if math.Abs(res.X-20.3) > 1e-3 || math.Abs(res.Y-25.7) > 1e-3 {
		t.Errorf("position (%f, %f), want (20.3, 25.7)", res.X, res.Y)
	}
	if len(res.Steps) != res.Iterations {
		t.Errorf("%d steps recorded for %d iterations", len(res.Steps), res.Iterations)
	}
	if res.X2 != 0 || res.Flux != 0 || res.NPix != 0 {
		t.Errorf("fast variant filled moments: %v", res)
	}
}

func TestWindowedStepsShrink(t *testing.T) {
	img := syntheticFrame(48, 48, 0, 0, blob{x: 20.3, y: 25.7, peak: 30000, sigma: 1.5})
	// A window wider than the source converges geometrically.
	fwhm := 1.8 * sigmaToFWHM

	res, err := WindowedPositionFast(img, 20, 25, NewWindowParams(fwhm, fwhm))
	if err != nil {
		t.Fatalf("WindowedPositionFast: %v", err)
	}
	if res.Iterations < 3 {
		t.Fatalf("only %d iterations, want a longer run", res.Iterations)
	}
	for i := 1; i < len(res.Steps); i++ {
		prev, cur := res.Steps[i-1], res.Steps[i]
		if cur.DX > prev.DX+1e-9 || cur.DY > prev.DY+1e-9 {
			t.Errorf("step %d (%g, %g) larger than step %d (%g, %g)", i, cur.DX, cur.DY, i-1, prev.DX, prev.DY)
		}
	}
	if math.Abs(res.X-20.3) > 1e-3 || math.Abs(res.Y-25.7) > 1e-3 {
		t.Errorf("position (%f, %f), want (20.3, 25.7)", res.X, res.Y)
	}
}

// Refinement ends as soon as one axis settles, even if the other has not.
func TestWindowedStopsOnFirstSettledAxis(t *testing.T) {
	img := syntheticFrame(48, 48, 0, 0, blob{x: 20, y: 25.7, peak: 30000, sigma: 1.5})
	fwhm := 3 * sigmaToFWHM

	res, err := WindowedPositionFast(img, 20, 25, NewWindowParams(fwhm, fwhm))
	if err != nil {
		t.Fatalf("WindowedPositionFast: %v", err)
	}
	if !res.Converged || res.Iterations != 1 {
		t.Fatalf("converged=%t after %d iterations, want a stop after 1", res.Converged, res.Iterations)
	}
	if res.Steps[0].DX > DefaultPrecision {
		t.Errorf("x step %g, want below precision", res.Steps[0].DX)
	}
	if res.Steps[0].DY < 0.1 {
		t.Errorf("y step %g, want a real move", res.Steps[0].DY)
	}
	if math.Abs(res.Y-25.7) < 0.1 {
		t.Errorf("y = %f already at the source; the case does not exercise the early stop", res.Y)
	}
}

func TestWindowedIterationCap(t *testing.T) {
	img := syntheticFrame(48, 48, 0, 0, blob{x: 20.3, y: 25.7, peak: 30000, sigma: 1.5})
	fwhm := 1.8 * sigmaToFWHM
	p := NewWindowParams(fwhm, fwhm)
	p.MaxIterations = 1

	res, err := WindowedPositionFast(img, 20, 25, p)
	if err != nil {
		t.Fatalf("WindowedPositionFast: %v", err)
	}
	if res.Converged || res.Iterations != 1 || len(res.Steps) != 1 {
		t.Errorf("converged=%t iterations=%d steps=%d, want one unconverged step", res.Converged, res.Iterations, len(res.Steps))
	}
}

func TestWindowedPositionMoments(t *testing.T) {
	const peak, sigma = 30000.0, 1.5
	img := syntheticFrame(48, 48, 0, 0, blob{x: 20.3, y: 25.7, peak: peak, sigma: sigma})
	fwhm := sigma * sigmaToFWHM
	p := NewWindowParams(fwhm, fwhm)

	res, err := WindowedPosition(img, 20, 25, 0, p)
	if err != nil {
		t.Fatalf("WindowedPosition: %v", err)
	}
	t.Logf("result: %v", res)

	fast, err := WindowedPositionFast(img, 20, 25, p)
	if err != nil {
		t.Fatalf("WindowedPositionFast: %v", err)
	}
	if res.X != fast.X || res.Y != fast.Y || res.Iterations != fast.Iterations {
		t.Errorf("full (%f, %f, %d) and fast (%f, %f, %d) disagree", res.X, res.Y, res.Iterations, fast.X, fast.Y, fast.Iterations)
	}

	// Window and source share sigma, so the weighted variance is sigma^2 / 2.
	want := sigma * sigma / 2
	if math.Abs(res.X2-want) > 0.05 || math.Abs(res.Y2-want) > 0.05 {
		t.Errorf("second moments (%f, %f), want about %f", res.X2, res.Y2, want)
	}
	if math.Abs(res.XY) > 0.01 {
		t.Errorf("cross moment %f, want about 0", res.XY)
	}
	wantFlux := peak * 2 * math.Pi * sigma * sigma
	if math.Abs(res.Flux-wantFlux)/wantFlux > 0.01 {
		t.Errorf("flux %f, want about %f", res.Flux, wantFlux)
	}
	if res.NPix < 100 || res.NPix > 125 {
		t.Errorf("npix %d, want the pixels of a radius 6 disc", res.NPix)
	}
}

func TestWindowedPositionSubtractsBackground(t *testing.T) {
	const peak, sigma, background = 30000.0, 1.5, 200.0
	img := syntheticFrame(48, 48, background, 0, blob{x: 20.3, y: 25.7, peak: peak, sigma: sigma})
	fwhm := sigma * sigmaToFWHM

	res, err := WindowedPosition(img, 20, 25, background, NewWindowParams(fwhm, fwhm))
	if err != nil {
		t.Fatalf("WindowedPosition: %v", err)
	}
	wantFlux := peak * 2 * math.Pi * sigma * sigma
	if math.Abs(res.Flux-wantFlux)/wantFlux > 0.01 {
		t.Errorf("flux %f, want about %f", res.Flux, wantFlux)
	}
	if math.Abs(res.X-20.3) > 0.01 || math.Abs(res.Y-25.7) > 0.01 {
		t.Errorf("position (%f, %f), want (20.3, 25.7)", res.X, res.Y)
	}
}

func TestWindowedNoSignal(t *testing.T) {
	img := NewImage(32, 32)
	p := NewWindowParams(3, 3)

	if _, err := WindowedPositionFast(img, 16, 16, p); !errors.Is(err, ErrNoSignalInAperture) {
		t.Errorf("fast on an empty frame: error %v, want ErrNoSignalInAperture", err)
	}
	if _, err := WindowedPosition(img, 16, 16, 0, p); !errors.Is(err, ErrNoSignalInAperture) {
		t.Errorf("full on an empty frame: error %v, want ErrNoSignalInAperture", err)
	}

	for i := range img.Pix {
		img.Pix[i] = -5
	}
	if _, err := WindowedPositionFast(img, 16, 16, p); !errors.Is(err, ErrNoSignalInAperture) {
		t.Errorf("negative frame: error %v, want ErrNoSignalInAperture", err)
	}
}

func TestWindowedInvalidInput(t *testing.T) {
	img := syntheticFrame(32, 32, 10, 0, blob{x: 16, y: 16, peak: 1000, sigma: 1.5})

	if _, err := WindowedPositionFast(img, -1, 16, NewWindowParams(3, 3)); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("start outside: error %v, want ErrInvalidParameter", err)
	}
	if _, err := WindowedPositionFast(img, 16, math.NaN(), NewWindowParams(3, 3)); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("NaN start: error %v, want ErrInvalidParameter", err)
	}

	p := NewWindowParams(3, 3)
	p.Radius = 0
	if _, err := WindowedPositionFast(img, 16, 16, p); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("radius 0: error %v, want ErrInvalidParameter", err)
	}
	if _, err := WindowedPositionFast(img, 16, 16, NewWindowParams(0, 3)); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("zero fwhm: error %v, want ErrInvalidParameter", err)
	}
	if _, err := WindowedPositionFast(img, 16, 16, NewWindowParams(math.Inf(1), 3)); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("infinite fwhm: error %v, want ErrInvalidParameter", err)
	}
}

// A start near the border clips the aperture instead of reading outside.
func TestWindowedNearBorder(t *testing.T) {
	img := syntheticFrame(32, 32, 0, 0, blob{x: 1.2, y: 2.4, peak: 20000, sigma: 1.5})
	fwhm := 1.5 * sigmaToFWHM
	res, err := WindowedPosition(img, 1, 2, 0, NewWindowParams(fwhm, fwhm))
	if err != nil {
		t.Fatalf("WindowedPosition: %v", err)
	}
	if res.NPix >= 100 {
		t.Errorf("npix %d, want a clipped aperture", res.NPix)
	}
	if math.IsNaN(res.X) || math.IsNaN(res.Y) {
		t.Errorf("position (%f, %f)", res.X, res.Y)
	}
}
