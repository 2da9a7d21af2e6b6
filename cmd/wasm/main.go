//go:build js && wasm

package main

import (
	"context"
	"slices"
	"syscall/js"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"agcentroid/pkg/centroid"
)

var (
	lastImage  centroid.Image
	lastResult *centroid.FrameResult
	lastField  *centroid.FieldAnalysis
)

func main() {
	js.Global().Set("centroidFITS", js.FuncOf(centroidFITS))
	js.Global().Set("renderOverlay", js.FuncOf(renderOverlay))
	select {} // block forever
}

// centroidFITS(fileBytes, options) where options may carry "config" (a YAML
// parameter document) and numeric overrides findSigma, centSigma, fwhm.
func centroidFITS(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("usage: centroidFITS(fileBytes, options)")
	}

	jsBytes := args[0]
	fileBytes := make([]byte, jsBytes.Get("length").Int())
	js.CopyBytesToGo(fileBytes, jsBytes)

	cfg := centroid.DefaultCentroidConfig()
	cfg.Workers = 1
	if len(args) >= 2 && args[1].Type() == js.TypeObject {
		opts := args[1]
		if v := opts.Get("config"); v.Type() == js.TypeString {
			parsed, err := centroid.ParseConfig([]byte(v.String()))
			if err != nil {
				return errorResult("config error: " + err.Error())
			}
			cfg = parsed
		}
		if v := opts.Get("findSigma"); v.Type() == js.TypeNumber {
			cfg.FindSigma = v.Float()
		}
		if v := opts.Get("centSigma"); v.Type() == js.TypeNumber {
			cfg.CentSigma = v.Float()
		}
		if v := opts.Get("fwhm"); v.Type() == js.TypeNumber {
			cfg.FWHMX, cfg.FWHMY = v.Float(), v.Float()
			cfg.FixedFWHM = true
		}
	}

	frame, err := centroid.ReadFitsFromBytes(fileBytes)
	if err != nil {
		return errorResult("FITS parse error: " + err.Error())
	}
	img := frame.Image

	ctx := zerolog.Nop().WithContext(context.Background())
	res, err := centroid.Centroid(ctx, img, cfg)
	if err != nil {
		return errorResult("centroid error: " + err.Error())
	}
	field := centroid.AnalyzeField(res.Spots, img.Width, img.Height)
	lastImage, lastResult, lastField = img, res, field

	fwhmValues := make([]float64, 0, len(res.Spots))
	for i := range res.Spots {
		fwhmValues = append(fwhmValues, res.Spots[i].FWHM())
	}
	medianFWHM, meanFWHM, stddevFWHM := computeStats(fwhmValues)

	jsResult := map[string]interface{}{
		"width":         img.Width,
		"height":        img.Height,
		"background":    res.Background.Mean,
		"stddev":        res.Background.Sigma,
		"seedThreshold": int(res.Params.SeedThreshold),
		"growThreshold": int(res.Params.GrowThreshold),
		"fwhmX":         res.FWHMX,
		"fwhmY":         res.FWHMY,
		"medianFWHM":    medianFWHM,
		"meanFWHM":      meanFWHM,
		"stddevFWHM":    stddevFWHM,
		"seeds":         res.Regions.Seeds,
	}

	jsSpots := make([]interface{}, len(res.Spots))
	for i, s := range res.Spots {
		jsSpots[i] = map[string]interface{}{
			"id":         s.ID,
			"x":          s.X,
			"y":          s.Y,
			"isoX":       s.IsoX,
			"isoY":       s.IsoY,
			"peak":       s.Peak,
			"flux":       s.Flux,
			"background": s.Background,
			"fwhmX":      s.FWHMX,
			"fwhmY":      s.FWHMY,
			"x2":         s.X2,
			"y2":         s.Y2,
			"xy":         s.XY,
			"iterations": s.Iterations,
			"flags":      int(s.Flags),
		}
	}
	jsResult["spots"] = jsSpots

	if field != nil {
		jsZones := make([]interface{}, len(centroid.ZoneOrder))
		for i, pos := range centroid.ZoneOrder {
			z := field.Zones[pos]
			jsZones[i] = map[string]interface{}{
				"label":      z.Label,
				"medianFWHM": z.MedianFWHM,
				"medianFlux": z.MedianFlux,
				"spotCount":  z.SpotCount,
			}
		}
		jsResult["field"] = map[string]interface{}{
			"zones":       jsZones,
			"tiltPct":     field.TiltPct,
			"offAxisPct":  field.OffAxisPct,
			"bestCorner":  field.BestCorner,
			"worstCorner": field.WorstCorner,
			"reliable":    field.Reliable,
		}
	}

	return js.ValueOf(jsResult)
}

func renderOverlay(this js.Value, args []js.Value) interface{} {
	if lastResult == nil {
		return js.Null()
	}

	jpegBytes, err := centroid.RenderOverlayBytes(lastImage, lastResult, lastField)
	if err != nil {
		return js.Null()
	}

	uint8Array := js.Global().Get("Uint8Array").New(len(jpegBytes))
	js.CopyBytesToJS(uint8Array, jpegBytes)
	return uint8Array
}

func errorResult(msg string) interface{} {
	return js.ValueOf(map[string]interface{}{
		"error": msg,
	})
}

func computeStats(values []float64) (median, mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	if len(values) == 1 {
		return median, values[0], 0
	}
	mean, stddev = stat.MeanStdDev(values, nil)
	return median, mean, stddev
}
