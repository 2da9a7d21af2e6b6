package centroid

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

const (
	fieldEdgeFraction    = 0.25
	minSpotsPerZone      = 3
	minTotalSpotsForTilt = 20
)

// ZonePosition identifies a zone in the 3x3 field grid.
type ZonePosition int

const (
	ZoneTopLeft ZonePosition = iota
	ZoneTop
	ZoneTopRight
	ZoneLeft
	ZoneCenter
	ZoneRight
	ZoneBottomLeft
	ZoneBottom
	ZoneBottomRight
)

// ZoneOrder lists the zones row by row.
var ZoneOrder = []ZonePosition{
	ZoneTopLeft, ZoneTop, ZoneTopRight,
	ZoneLeft, ZoneCenter, ZoneRight,
	ZoneBottomLeft, ZoneBottom, ZoneBottomRight,
}

var zoneLabels = map[ZonePosition]string{
	ZoneTopLeft:     "TL",
	ZoneTop:         "T",
	ZoneTopRight:    "TR",
	ZoneLeft:        "L",
	ZoneCenter:      "Center",
	ZoneRight:       "R",
	ZoneBottomLeft:  "BL",
	ZoneBottom:      "B",
	ZoneBottomRight: "BR",
}

var cornerPositions = []ZonePosition{ZoneTopLeft, ZoneTopRight, ZoneBottomLeft, ZoneBottomRight}

// ZoneData holds per-zone statistics.
type ZoneData struct {
	Label      string
	MedianFWHM float64
	MedianFlux float64
	SpotCount  int
}

// FieldAnalysis holds the result of the 3x3 field analysis.
type FieldAnalysis struct {
	Zones       map[ZonePosition]ZoneData
	TiltPct     float64
	OffAxisPct  float64
	BestCorner  string
	WorstCorner string
	Reliable    bool
}

// AnalyzeField divides the frame into a 3x3 grid and compares the median
// spot width of each zone with the center. Spots whose refinement failed are
// skipped. Returns nil when no spot is usable.
func AnalyzeField(spots []Spot, width, height int) *FieldAnalysis {
	usable := make([]Spot, 0, len(spots))
	for _, s := range spots {
		if s.Flags&FlagRefineFailed == 0 {
			usable = append(usable, s)
		}
	}
	if len(usable) == 0 {
		return nil
	}

	xLo := float64(width) * fieldEdgeFraction
	xHi := float64(width) * (1.0 - fieldEdgeFraction)
	yLo := float64(height) * fieldEdgeFraction
	yHi := float64(height) * (1.0 - fieldEdgeFraction)

	zoneSpots := make(map[ZonePosition][]Spot, len(ZoneOrder))
	for _, s := range usable {
		pos := classifyZone(s.X, s.Y, xLo, xHi, yLo, yHi)
		zoneSpots[pos] = append(zoneSpots[pos], s)
	}

	zones := make(map[ZonePosition]ZoneData, len(ZoneOrder))
	for _, pos := range ZoneOrder {
		zones[pos] = computeZoneData(pos, zoneSpots[pos])
	}

	result := &FieldAnalysis{Zones: zones}

	centerFWHM := zones[ZoneCenter].MedianFWHM
	if centerFWHM <= 0 {
		return result
	}

	var bestCorner, worstCorner ZonePosition
	bestFWHM := math.MaxFloat64
	worstFWHM := 0.0
	validCorners := 0

	for _, pos := range cornerPositions {
		z := zones[pos]
		if z.SpotCount < minSpotsPerZone {
			continue
		}
		validCorners++
		if z.MedianFWHM < bestFWHM {
			bestFWHM = z.MedianFWHM
			bestCorner = pos
		}
		if z.MedianFWHM > worstFWHM {
			worstFWHM = z.MedianFWHM
			worstCorner = pos
		}
	}

	if validCorners >= 2 && worstFWHM > 0 {
		result.TiltPct = (worstFWHM - bestFWHM) / centerFWHM * 100.0
		result.BestCorner = zoneLabels[bestCorner]
		result.WorstCorner = zoneLabels[worstCorner]
	}

	var offAxisSum float64
	offAxisCount := 0
	for _, pos := range ZoneOrder {
		z := zones[pos]
		if pos == ZoneCenter || z.SpotCount < minSpotsPerZone {
			continue
		}
		offAxisSum += z.MedianFWHM
		offAxisCount++
	}
	if offAxisCount > 0 {
		avgOffAxis := offAxisSum / float64(offAxisCount)
		result.OffAxisPct = (avgOffAxis - centerFWHM) / centerFWHM * 100.0
	}

	result.Reliable = len(usable) >= minTotalSpotsForTilt && validCorners >= 4 && zones[ZoneCenter].SpotCount >= minSpotsPerZone

	return result
}

func classifyZone(x, y, xLo, xHi, yLo, yHi float64) ZonePosition {
	var col, row int
	if x < xLo {
		col = 0
	} else if x < xHi {
		col = 1
	} else {
		col = 2
	}
	if y < yLo {
		row = 0
	} else if y < yHi {
		row = 1
	} else {
		row = 2
	}
	return ZoneOrder[row*3+col]
}

func computeZoneData(pos ZonePosition, spots []Spot) ZoneData {
	zd := ZoneData{
		Label:     zoneLabels[pos],
		SpotCount: len(spots),
	}
	if len(spots) == 0 {
		return zd
	}

	fwhm := make([]float64, len(spots))
	flux := make([]float64, len(spots))
	for i, s := range spots {
		fwhm[i] = s.FWHM()
		flux[i] = s.Flux
	}
	zd.MedianFWHM = median(fwhm)
	zd.MedianFlux = median(flux)
	return zd
}

// median sorts values in place and returns the lower median.
func median(values []float64) float64 {
	slices.Sort(values)
	return stat.Quantile(0.5, stat.Empirical, values, nil)
}
