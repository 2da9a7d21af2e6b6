//go:build purego || js

package main

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"agcentroid/pkg/centroid"
)

// loadNonFitsImage keeps 16-bit grayscale PNG/TIFF samples as they are and
// widens everything else from 8-bit luminance.
func loadNonFitsImage(path string) (centroid.Image, error) {
	src, err := imaging.Open(path)
	if err != nil {
		return centroid.Image{}, fmt.Errorf("opening image: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	img := centroid.NewImage(w, h)

	if g16, ok := src.(*image.Gray16); ok {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.Set(x, y, int32(g16.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y))
			}
		}
		return img, nil
	}

	gray := imaging.Grayscale(src)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < w; x++ {
			img.Set(x, y, int32(row[x*4])*257)
		}
	}
	return img, nil
}
