//go:build purego || js

package centroid

// medianBlur3 is a 3x3 median filter with replicated borders.
func medianBlur3(img Image) (Image, error) {
	rows, cols := img.Height, img.Width
	out := NewImage(cols, rows)
	var window [9]int32

	for r := 0; r < rows; r++ {
		r0 := max(r-1, 0) * cols
		r1 := r * cols
		r2 := min(r+1, rows-1) * cols
		for c := 0; c < cols; c++ {
			c0 := max(c-1, 0)
			c2 := min(c+1, cols-1)
			window = [9]int32{
				img.Pix[r0+c0], img.Pix[r0+c], img.Pix[r0+c2],
				img.Pix[r1+c0], img.Pix[r1+c], img.Pix[r1+c2],
				img.Pix[r2+c0], img.Pix[r2+c], img.Pix[r2+c2],
			}
			// insertion sort; nine elements
			for i := 1; i < len(window); i++ {
				v := window[i]
				j := i - 1
				for j >= 0 && window[j] > v {
					window[j+1] = window[j]
					j--
				}
				window[j+1] = v
			}
			out.Pix[r1+c] = window[4]
		}
	}
	return out, nil
}
