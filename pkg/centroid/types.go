/*
Extracted from HocusFocus plugin by George Hilios.
Original Copyright © 2021 George Hilios <ghilios+NINA@googlemail.com>
Licensed under Mozilla Public License 2.0.
Ported to Go.
*/

package centroid

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// sigmaToFWHM converts a Gaussian standard deviation to its full width at half maximum.
var sigmaToFWHM = 2.0 * math.Sqrt(2.0*math.Log(2.0))

var (
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrDegenerateRegion   = errors.New("degenerate region")
	ErrNoSignalInAperture = errors.New("no signal in aperture")
	ErrNoCandidates       = errors.New("no candidates")
)

// Image is a row-major frame of signed intensities. The sample at column x,
// row y lives at Pix[y*Width+x].
type Image struct {
	Pix    []int32
	Width  int
	Height int
}

// NewImage allocates a zeroed image.
func NewImage(width, height int) Image {
	return Image{Pix: make([]int32, width*height), Width: width, Height: height}
}

// NewImageFromUint16 widens raw sensor samples to int32.
func NewImageFromUint16(pixels []uint16, width, height int) (Image, error) {
	if width <= 0 || height <= 0 {
		return Image{}, fmt.Errorf("%w: image size %dx%d", ErrInvalidParameter, width, height)
	}
	if len(pixels) != width*height {
		return Image{}, fmt.Errorf("%w: %d pixels for %dx%d image", ErrInvalidParameter, len(pixels), width, height)
	}
	img := NewImage(width, height)
	for i, p := range pixels {
		img.Pix[i] = int32(p)
	}
	return img, nil
}

func (img Image) At(x, y int) int32 { return img.Pix[y*img.Width+x] }

func (img Image) Set(x, y int, v int32) { img.Pix[y*img.Width+x] = v }

func (img Image) Empty() bool { return img.Width <= 0 || img.Height <= 0 || len(img.Pix) == 0 }

func (img Image) Clone() Image {
	pix := make([]int32, len(img.Pix))
	copy(pix, img.Pix)
	return Image{Pix: pix, Width: img.Width, Height: img.Height}
}

func (img Image) validate() error {
	if img.Empty() {
		return fmt.Errorf("%w: empty image", ErrInvalidParameter)
	}
	if len(img.Pix) != img.Width*img.Height {
		return fmt.Errorf("%w: %d pixels for %dx%d image", ErrInvalidParameter, len(img.Pix), img.Width, img.Height)
	}
	return nil
}

// Mask holds per-pixel visit counters for one detection pass.
// 0 = never visited, 1 = inside a search box, 2+ = region member or visited again.
type Mask struct {
	Counts []int32
	Width  int
	Height int
}

// NewMask allocates a zeroed mask.
func NewMask(width, height int) Mask {
	return Mask{Counts: make([]int32, width*height), Width: width, Height: height}
}

func (m Mask) At(x, y int) int32 { return m.Counts[y*m.Width+x] }

// Reset zeroes every counter so the mask can serve another pass.
func (m Mask) Reset() {
	clear(m.Counts)
}

// Candidate is a region accepted by the detector.
type Candidate struct {
	X, Y         float64 // isophotal centroid
	XPeak, YPeak int
	Peak         float64 // brightest member, minus the global background
	Background   float64 // local mean plus the global background
	FWHMX, FWHMY float64
	Flux         float64 // zeroth moment
	NPix         int
	Qual         int
}

func (c Candidate) String() string {
	return fmt.Sprintf("{X=%f, Y=%f, Peak=(%d,%d) %f, Background=%f, FWHM=(%f,%f), Flux=%f, NPix=%d}",
		c.X, c.Y, c.XPeak, c.YPeak, c.Peak, c.Background, c.FWHMX, c.FWHMY, c.Flux, c.NPix)
}

// RegionParams controls FindRegions.
type RegionParams struct {
	SeedThreshold    int32
	GrowThreshold    int32
	SearchBox        int
	EdgeMargin       int
	NMin             int
	NMax             int
	GlobalBackground int32
	Verbose          bool
	Logger           *zerolog.Logger
}

// NewRegionParams returns the guide camera defaults.
func NewRegionParams() *RegionParams {
	return &RegionParams{
		SeedThreshold: 1725,
		GrowThreshold: 1300,
		SearchBox:     10,
		EdgeMargin:    6,
		NMin:          10,
		NMax:          90,
	}
}

func (p *RegionParams) validate() error {
	switch {
	case p.SearchBox < 1:
		return fmt.Errorf("%w: search box %d must be positive", ErrInvalidParameter, p.SearchBox)
	case p.EdgeMargin < 1:
		return fmt.Errorf("%w: edge margin %d must be positive", ErrInvalidParameter, p.EdgeMargin)
	case p.GrowThreshold > p.SeedThreshold:
		return fmt.Errorf("%w: grow threshold %d above seed threshold %d", ErrInvalidParameter, p.GrowThreshold, p.SeedThreshold)
	case p.NMin < 0:
		return fmt.Errorf("%w: nmin %d must not be negative", ErrInvalidParameter, p.NMin)
	case p.NMin > p.NMax:
		return fmt.Errorf("%w: nmin %d above nmax %d", ErrInvalidParameter, p.NMin, p.NMax)
	}
	return nil
}

// RegionMetrics tracks why seeds were turned down.
type RegionMetrics struct {
	Seeds      int
	Accepted   int
	TooSmall   int
	TooLarge   int
	NearEdge   int
	Degenerate int
}

// RegionResult is the output of FindRegions.
type RegionResult struct {
	Candidates []Candidate
	Metrics    *RegionMetrics
}

// WindowParams controls the windowed centroid refiner.
type WindowParams struct {
	Radius        int
	FWHMX, FWHMY  float64
	MaxIterations int
	Precision     float64 // 0 selects DefaultPrecision
	Verbose       bool
	Logger        *zerolog.Logger
}

// DefaultPrecision is the per-axis displacement that ends refinement.
const DefaultPrecision = 1e-6

// NewWindowParams returns the guide camera defaults.
func NewWindowParams(fwhmX, fwhmY float64) WindowParams {
	return WindowParams{
		Radius:        6,
		FWHMX:         fwhmX,
		FWHMY:         fwhmY,
		MaxIterations: 20,
		Precision:     DefaultPrecision,
	}
}

func (p WindowParams) validate() error {
	switch {
	case p.Radius < 1:
		return fmt.Errorf("%w: aperture radius %d must be positive", ErrInvalidParameter, p.Radius)
	case !(p.FWHMX > 0) || !(p.FWHMY > 0) || math.IsInf(p.FWHMX, 0) || math.IsInf(p.FWHMY, 0):
		return fmt.Errorf("%w: fwhm (%f, %f) must be positive and finite", ErrInvalidParameter, p.FWHMX, p.FWHMY)
	case p.MaxIterations < 1:
		return fmt.Errorf("%w: max iterations %d must be positive", ErrInvalidParameter, p.MaxIterations)
	case p.Precision < 0:
		return fmt.Errorf("%w: precision %g must not be negative", ErrInvalidParameter, p.Precision)
	}
	return nil
}

func (p WindowParams) precision() float64 {
	if p.Precision == 0 {
		return DefaultPrecision
	}
	return p.Precision
}

// Step is the absolute per-axis displacement of one refinement iteration.
type Step struct {
	DX, DY float64
}

// WindowResult is the output of the windowed refiner. Moments, flux and pixel
// count are only filled by WindowedPosition.
type WindowResult struct {
	X, Y       float64
	Iterations int
	Converged  bool
	Steps      []Step
	X2, Y2, XY float64
	Flux       float64
	NPix       int
}

func (r *WindowResult) String() string {
	return fmt.Sprintf("{X=%f, Y=%f, Iterations=%d, Converged=%t, X2=%f, Y2=%f, XY=%f, Flux=%f, NPix=%d}",
		r.X, r.Y, r.Iterations, r.Converged, r.X2, r.Y2, r.XY, r.Flux, r.NPix)
}

// SpotFlags marks refinement problems on a spot.
type SpotFlags int

const (
	FlagNotConverged SpotFlags = 1 << iota
	FlagRefineFailed
)

// Spot is one refined source of a frame.
type Spot struct {
	ID           int
	X, Y         float64 // windowed centroid, isophotal when refinement failed
	IsoX, IsoY   float64
	XPeak, YPeak int
	X2, Y2, XY   float64
	Peak         float64
	Flux         float64
	Background   float64
	FWHMX, FWHMY float64 // isophotal widths
	NPix         int
	Iterations   int
	Flags        SpotFlags
}

func (s *Spot) String() string {
	return fmt.Sprintf("{ID=%d, X=%f, Y=%f, Peak=(%d,%d) %f, X2=%f, Y2=%f, XY=%f, Flux=%f, Background=%f, Iterations=%d, Flags=%d}",
		s.ID, s.X, s.Y, s.XPeak, s.YPeak, s.Peak, s.X2, s.Y2, s.XY, s.Flux, s.Background, s.Iterations, s.Flags)
}

// FWHM returns the geometric mean of the isophotal widths.
func (s *Spot) FWHM() float64 {
	return math.Sqrt(s.FWHMX * s.FWHMY)
}

func loggerOrNop(l *zerolog.Logger) *zerolog.Logger {
	if l == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return l
}
