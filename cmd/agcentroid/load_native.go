//go:build !purego && !js

package main

import (
	"fmt"

	"gocv.io/x/gocv"

	"agcentroid/pkg/centroid"
)

func loadNonFitsImage(path string) (centroid.Image, error) {
	src := gocv.IMRead(path, gocv.IMReadGrayScale|gocv.IMReadAnyDepth)
	if src.Empty() {
		return centroid.Image{}, fmt.Errorf("could not load image: %s", path)
	}
	defer src.Close()

	wide := gocv.NewMat()
	defer wide.Close()
	src.ConvertTo(&wide, gocv.MatTypeCV32S)

	data, err := wide.DataPtrInt32()
	if err != nil {
		return centroid.Image{}, fmt.Errorf("reading pixels of %s: %w", path, err)
	}

	img := centroid.NewImage(wide.Cols(), wide.Rows())
	copy(img.Pix, data)
	return img, nil
}
