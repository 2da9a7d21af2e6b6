package centroid

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"slices"

	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/gonum/stat"
)

var (
	goodColor = colorful.Color{R: 0.25, G: 0.85, B: 0.3}
	badColor  = colorful.Color{R: 0.95, G: 0.2, B: 0.15}
)

// RenderOverlay draws the frame with its spots and writes a JPG file.
// field may be nil.
func RenderOverlay(img Image, frame *FrameResult, field *FieldAnalysis, outputPath string) error {
	out, err := renderOverlayImage(img, frame, field)
	if err != nil {
		return err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create overlay file: %w", err)
	}
	defer f.Close()

	return jpeg.Encode(f, out, &jpeg.Options{Quality: 90})
}

// RenderOverlayBytes is RenderOverlay returning JPEG bytes.
func RenderOverlayBytes(img Image, frame *FrameResult, field *FieldAnalysis) ([]byte, error) {
	out, err := renderOverlayImage(img, frame, field)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderOverlayImage(img Image, frame *FrameResult, field *FieldAnalysis) (*image.RGBA, error) {
	if frame == nil {
		return nil, fmt.Errorf("no frame result")
	}
	if err := img.validate(); err != nil {
		return nil, err
	}

	// Render at reduced resolution (800px wide, proportional height)
	const targetWidth = 800
	scale := math.Min(1.0, float64(targetWidth)/float64(img.Width))
	imgW := max(int(float64(img.Width)*scale), 1)
	imgH := max(int(float64(img.Height)*scale), 1)

	summaryH := 60
	totalH := imgH + summaryH
	out := image.NewRGBA(image.Rect(0, 0, imgW, totalH))

	lo, hi := stretchLimits(img)
	for y := 0; y < imgH; y++ {
		sy := min(int(float64(y)/scale), img.Height-1)
		for x := 0; x < imgW; x++ {
			sx := min(int(float64(x)/scale), img.Width-1)
			t := (float64(img.At(sx, sy)) - lo) / (hi - lo)
			v := uint8(255 * math.Max(0, math.Min(1, t)))
			out.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
	for y := imgH; y < totalH; y++ {
		for x := 0; x < imgW; x++ {
			out.SetRGBA(x, y, color.RGBA{0, 0, 0, 255})
		}
	}

	face := basicfont.Face7x13
	refFWHM := math.Sqrt(frame.FWHMX * frame.FWHMY)

	for _, s := range frame.Spots {
		cx := int(s.X * scale)
		cy := int(s.Y * scale)
		radius := max(int(s.FWHM()*scale*2), 4)
		c := color.RGBA{120, 120, 255, 255}
		if s.Flags == 0 {
			c = fwhmColor(s.FWHM(), refFWHM)
		}
		drawCircle(out, cx, cy, radius, c)
	}

	if field != nil {
		frac := fieldEdgeFraction
		xLo := int(float64(imgW) * frac)
		xHi := int(float64(imgW) * (1.0 - frac))
		yLo := int(float64(imgH) * frac)
		yHi := int(float64(imgH) * (1.0 - frac))
		xBounds := [3][2]int{{0, xLo}, {xLo, xHi}, {xHi, imgW}}
		yBounds := [3][2]int{{0, yLo}, {yLo, yHi}, {yHi, imgH}}

		gridColor := color.RGBA{255, 255, 255, 120}
		for x := 0; x < imgW; x++ {
			out.Set(x, yLo, gridColor)
			out.Set(x, yHi, gridColor)
		}
		for y := 0; y < imgH; y++ {
			out.Set(xLo, y, gridColor)
			out.Set(xHi, y, gridColor)
		}

		textColor := color.RGBA{255, 255, 0, 255}
		for i, pos := range ZoneOrder {
			zone := field.Zones[pos]
			row, col := i/3, i%3
			cx := (xBounds[col][0] + xBounds[col][1]) / 2
			cy := (yBounds[row][0] + yBounds[row][1]) / 2
			drawCenteredText(out, face, zone.Label, cx, cy-7, textColor)
			drawCenteredText(out, face, fmt.Sprintf("FWHM %.2f n=%d", zone.MedianFWHM, zone.SpotCount), cx, cy+9, textColor)
		}

		if field.WorstCorner != "" && field.BestCorner != "" {
			bestX, bestY := cornerCenter(field.BestCorner, xBounds, yBounds)
			worstX, worstY := cornerCenter(field.WorstCorner, xBounds, yBounds)
			arrowColor := color.RGBA{255, 80, 80, 255}
			drawLine(out, bestX, bestY, worstX, worstY, arrowColor)
			drawArrowHead(out, bestX, bestY, worstX, worstY, arrowColor)
		}
	}

	summaryColor := color.RGBA{220, 220, 220, 255}
	summaryY := imgH + 15
	drawText(out, face, fmt.Sprintf("Spots: %d  FWHM: %.2f x %.2f px  Seed/Grow: %d/%d",
		len(frame.Spots), frame.FWHMX, frame.FWHMY, frame.Params.SeedThreshold, frame.Params.GrowThreshold),
		10, summaryY, summaryColor)
	if field != nil {
		reliableStr := ""
		if !field.Reliable {
			reliableStr = "  [LOW SPOT COUNT - UNRELIABLE]"
		}
		drawText(out, face, fmt.Sprintf("Tilt: %.1f%%  Off-axis: %.1f%%%s", field.TiltPct, field.OffAxisPct, reliableStr),
			10, summaryY+18, summaryColor)
	}

	return out, nil
}

// stretchLimits picks the display range from the median to the 99.5th
// percentile of a pixel sample.
func stretchLimits(img Image) (float64, float64) {
	step := max(len(img.Pix)/100000, 1)
	sample := make([]float64, 0, len(img.Pix)/step+1)
	for i := 0; i < len(img.Pix); i += step {
		sample = append(sample, float64(img.Pix[i]))
	}
	slices.Sort(sample)
	lo := stat.Quantile(0.5, stat.Empirical, sample, nil)
	hi := stat.Quantile(0.995, stat.Empirical, sample, nil)
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi
}

// fwhmColor blends from green to red as a spot grows beyond the frame width.
func fwhmColor(fwhm, ref float64) color.RGBA {
	if fwhm <= 0 || ref <= 0 {
		return color.RGBA{40, 40, 40, 255}
	}
	t := math.Max(0, math.Min(1, (fwhm/ref-1.0)/0.5))
	r, g, b := goodColor.BlendLab(badColor, t).Clamped().RGB255()
	return color.RGBA{r, g, b, 255}
}

// cornerCenter returns the center pixel coords for a named corner.
func cornerCenter(label string, xBounds [3][2]int, yBounds [3][2]int) (int, int) {
	var col, row int
	switch label {
	case "TL":
		col, row = 0, 0
	case "TR":
		col, row = 2, 0
	case "BL":
		col, row = 0, 2
	case "BR":
		col, row = 2, 2
	default:
		return 0, 0
	}
	cx := (xBounds[col][0] + xBounds[col][1]) / 2
	cy := (yBounds[row][0] + yBounds[row][1]) / 2
	return cx, cy
}

func drawText(img *image.RGBA, face font.Face, s string, x, y int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func drawCenteredText(img *image.RGBA, face font.Face, s string, cx, cy int, c color.RGBA) {
	advance := font.MeasureString(face, s)
	drawText(img, face, s, cx-advance.Round()/2, cy, c)
}

// drawCircle draws a circle outline using the midpoint algorithm.
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	x := radius
	y := 0
	err := 0

	for x >= y {
		img.Set(cx+x, cy+y, c)
		img.Set(cx+y, cy+x, c)
		img.Set(cx-y, cy+x, c)
		img.Set(cx-x, cy+y, c)
		img.Set(cx-x, cy-y, c)
		img.Set(cx-y, cy-x, c)
		img.Set(cx+y, cy-x, c)
		img.Set(cx+x, cy-y, c)

		y++
		err += 1 + 2*y
		if 2*(err-x)+1 > 0 {
			x--
			err += 1 - 2*x
		}
	}
}

// drawLine draws a 2px line with Bresenham's algorithm.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := intAbs(x1 - x0)
	dy := -intAbs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy

	for {
		img.Set(x0, y0, c)
		img.Set(x0+1, y0, c)
		img.Set(x0, y0+1, c)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func drawArrowHead(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := float64(x1 - x0)
	dy := float64(y1 - y0)
	length := math.Sqrt(dx*dx + dy*dy)
	if length < 1 {
		return
	}
	dx /= length
	dy /= length

	sz := 15.0
	px := float64(x1) - dx*sz
	py := float64(y1) - dy*sz

	wx1 := int(px + dy*sz*0.4)
	wy1 := int(py - dx*sz*0.4)
	wx2 := int(px - dy*sz*0.4)
	wy2 := int(py + dx*sz*0.4)

	drawLine(img, x1, y1, wx1, wy1, c)
	drawLine(img, x1, y1, wx2, wy2, c)
}

func intAbs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
