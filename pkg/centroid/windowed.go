package centroid

import (
	"fmt"
	"math"
)

// aperture is the fixed pixel box a refinement iterates over, clipped to the
// image. Bounds are inclusive.
type aperture struct {
	xMin, xMax int
	yMin, yMax int
	radius2    float64
	sigmaX     float64
	sigmaY     float64
}

func newAperture(img Image, x, y float64, p WindowParams) aperture {
	reach := float64(p.Radius + 1)
	return aperture{
		xMin:    max(int(math.Floor(x-reach)), 0),
		xMax:    min(int(math.Ceil(x+reach)), img.Width-1),
		yMin:    max(int(math.Floor(y-reach)), 0),
		yMax:    min(int(math.Ceil(y+reach)), img.Height-1),
		radius2: float64(p.Radius * p.Radius),
		sigmaX:  p.FWHMX / sigmaToFWHM,
		sigmaY:  p.FWHMY / sigmaToFWHM,
	}
}

// WindowedPosition refines an isophotal centroid with Gaussian-weighted
// moments and then measures the windowed second moments, the
// background-subtracted flux and the pixel count of the final aperture.
func WindowedPosition(img Image, x, y, background float64, p WindowParams) (*WindowResult, error) {
	res, ap, err := iterateWindow(img, x, y, p)
	if err != nil {
		return nil, err
	}

	var sumX2, sumY2, sumXY, normX, normY, normXY, flux float64
	nPix := 0
	twoSx2 := 2 * ap.sigmaX * ap.sigmaX
	twoSy2 := 2 * ap.sigmaY * ap.sigmaY
	twoSxy := 2 * ap.sigmaX * ap.sigmaY

	for py := ap.yMin; py <= ap.yMax; py++ {
		dy := float64(py) - res.Y
		rowOffset := py * img.Width
		for px := ap.xMin; px <= ap.xMax; px++ {
			dx := float64(px) - res.X
			r2 := dx*dx + dy*dy
			if r2 > ap.radius2 {
				continue
			}
			value := float64(img.Pix[rowOffset+px])
			wx := math.Exp(-r2 / twoSx2)
			wy := math.Exp(-r2 / twoSy2)
			wxy := math.Exp(-r2 / twoSxy)

			sumX2 += wx * value * dx * dx
			sumY2 += wy * value * dy * dy
			sumXY += wxy * value * dx * dy
			normX += wx * value
			normY += wy * value
			normXY += wxy * value
			flux += value - background
			nPix++
		}
	}

	if normX <= 0 || normY <= 0 || normXY <= 0 {
		return nil, fmt.Errorf("%w: moments at (%f, %f)", ErrNoSignalInAperture, res.X, res.Y)
	}

	res.X2 = sumX2 / normX
	res.Y2 = sumY2 / normY
	res.XY = sumXY / normXY
	res.Flux = flux
	res.NPix = nPix
	return res, nil
}

// WindowedPositionFast refines the centroid only.
func WindowedPositionFast(img Image, x, y float64, p WindowParams) (*WindowResult, error) {
	res, _, err := iterateWindow(img, x, y, p)
	return res, err
}

func iterateWindow(img Image, x, y float64, p WindowParams) (*WindowResult, aperture, error) {
	if err := img.validate(); err != nil {
		return nil, aperture{}, err
	}
	if err := p.validate(); err != nil {
		return nil, aperture{}, err
	}
	if math.IsNaN(x) || math.IsNaN(y) || x < 0 || y < 0 || x > float64(img.Width-1) || y > float64(img.Height-1) {
		return nil, aperture{}, fmt.Errorf("%w: start (%f, %f) outside %dx%d image", ErrInvalidParameter, x, y, img.Width, img.Height)
	}

	log := loggerOrNop(p.Logger)
	ap := newAperture(img, x, y, p)
	precision := p.precision()
	twoSx2 := 2 * ap.sigmaX * ap.sigmaX
	twoSy2 := 2 * ap.sigmaY * ap.sigmaY

	res := &WindowResult{X: x, Y: y, Steps: make([]Step, 0, p.MaxIterations)}

	for res.Iterations < p.MaxIterations {
		var sumX, sumY, normX, normY float64
		for py := ap.yMin; py <= ap.yMax; py++ {
			dy := float64(py) - res.Y
			rowOffset := py * img.Width
			for px := ap.xMin; px <= ap.xMax; px++ {
				dx := float64(px) - res.X
				r2 := dx*dx + dy*dy
				if r2 > ap.radius2 {
					continue
				}
				value := float64(img.Pix[rowOffset+px])
				wx := math.Exp(-r2 / twoSx2)
				wy := math.Exp(-r2 / twoSy2)
				sumX += wx * value * dx
				sumY += wy * value * dy
				normX += wx * value
				normY += wy * value
			}
		}

		if normX <= 0 || normY <= 0 {
			return nil, ap, fmt.Errorf("%w: iteration %d at (%f, %f)", ErrNoSignalInAperture, res.Iterations+1, res.X, res.Y)
		}

		newX := res.X + 2*sumX/normX
		newY := res.Y + 2*sumY/normY
		step := Step{DX: math.Abs(newX - res.X), DY: math.Abs(newY - res.Y)}
		res.X, res.Y = newX, newY
		res.Iterations++
		res.Steps = append(res.Steps, step)

		if p.Verbose {
			log.Debug().
				Int("iteration", res.Iterations).
				Float64("x", res.X).Float64("y", res.Y).
				Float64("dx", step.DX).Float64("dy", step.DY).
				Msg("windowed step")
		}

		// TODO: refinement stops once either axis settles, leaving the other
		// axis possibly unconverged; confirm with the instrument team whether
		// both axes should be required.
		if step.DX <= precision || step.DY <= precision {
			res.Converged = true
			break
		}
	}

	return res, ap, nil
}
