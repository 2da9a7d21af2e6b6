//go:build !purego && !js

package centroid

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"
)

// medianBlur3 runs OpenCV's 3x3 median filter (replicated border) over img.
func medianBlur3(img Image) (Image, error) {
	src := gocv.NewMatWithSize(img.Height, img.Width, gocv.MatTypeCV32F)
	defer src.Close()
	data, err := src.DataPtrFloat32()
	if err != nil {
		return Image{}, fmt.Errorf("source pixels: %w", err)
	}
	for i, p := range img.Pix {
		data[i] = float32(p)
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.MedianBlur(src, &dst, 3)

	blurred, err := dst.DataPtrFloat32()
	if err != nil {
		return Image{}, fmt.Errorf("filtered pixels: %w", err)
	}
	if len(blurred) != len(img.Pix) {
		return Image{}, fmt.Errorf("filtered %d pixels for %dx%d image", len(blurred), img.Width, img.Height)
	}
	out := NewImage(img.Width, img.Height)
	for i := range out.Pix {
		out.Pix[i] = int32(math.Round(float64(blurred[i])))
	}
	return out, nil
}
