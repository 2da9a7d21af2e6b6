package centroid

import "fmt"

// InterpolateBadColumns replaces each listed column by the mean of its two
// neighbours, in place. Edge columns copy their single neighbour.
func InterpolateBadColumns(img Image, columns []int) error {
	if err := img.validate(); err != nil {
		return err
	}
	for _, col := range columns {
		if col < 0 || col >= img.Width {
			return fmt.Errorf("%w: bad column %d outside width %d", ErrInvalidParameter, col, img.Width)
		}
	}
	for _, col := range columns {
		left, right := col-1, col+1
		for y := 0; y < img.Height; y++ {
			switch {
			case left < 0 && right >= img.Width:
				// single-column image, nothing to borrow from
			case left < 0:
				img.Set(col, y, img.At(right, y))
			case right >= img.Width:
				img.Set(col, y, img.At(left, y))
			default:
				img.Set(col, y, int32((int64(img.At(left, y))+int64(img.At(right, y)))/2))
			}
		}
	}
	return nil
}

// SuppressHotPixels replaces pixels that differ from their 3x3 median by more
// than threshold with that median, in place, and returns how many changed.
func SuppressHotPixels(img Image, threshold int32) (int64, error) {
	if err := img.validate(); err != nil {
		return 0, err
	}
	if threshold <= 0 {
		return 0, fmt.Errorf("%w: hot pixel threshold %d must be positive", ErrInvalidParameter, threshold)
	}

	blurred, err := medianBlur3(img)
	if err != nil {
		return 0, fmt.Errorf("median filtering: %w", err)
	}
	var numHotpixels int64
	for i, p := range img.Pix {
		diff := int64(p) - int64(blurred.Pix[i])
		if diff < 0 {
			diff = -diff
		}
		if diff > int64(threshold) {
			img.Pix[i] = blurred.Pix[i]
			numHotpixels++
		}
	}
	return numHotpixels, nil
}
