package centroid

import (
	"errors"
	"testing"
)

func TestInterpolateBadColumns(t *testing.T) {
	img := NewImage(6, 3)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			img.Set(x, y, int32(100*x+y))
		}
	}
	img.Set(2, 1, 60000)
	img.Set(0, 0, -7)

	if err := InterpolateBadColumns(img, []int{0, 2, 5}); err != nil {
		t.Fatalf("InterpolateBadColumns: %v", err)
	}
	for y := 0; y < img.Height; y++ {
		if got, want := img.At(2, y), int32((100+y+300+y)/2); got != want {
			t.Errorf("column 2 row %d = %d, want %d", y, got, want)
		}
		if got, want := img.At(0, y), img.At(1, y); got != want {
			t.Errorf("column 0 row %d = %d, want copy of column 1 (%d)", y, got, want)
		}
		if got, want := img.At(5, y), img.At(4, y); got != want {
			t.Errorf("column 5 row %d = %d, want copy of column 4 (%d)", y, got, want)
		}
		if got := img.At(3, y); got != int32(300+y) {
			t.Errorf("untouched column 3 row %d changed to %d", y, got)
		}
	}

	if err := InterpolateBadColumns(img, []int{6}); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("column outside the frame: error %v, want ErrInvalidParameter", err)
	}
}

func TestSuppressHotPixels(t *testing.T) {
	img := NewImage(16, 16)
	for i := range img.Pix {
		img.Pix[i] = 100
	}
	img.Set(5, 7, 40000)
	img.Set(0, 0, 30000)
	img.Set(10, 10, 400)

	n, err := SuppressHotPixels(img, 500)
	if err != nil {
		t.Fatalf("SuppressHotPixels: %v", err)
	}
	if n != 2 {
		t.Errorf("replaced %d pixels, want 2", n)
	}
	if img.At(5, 7) != 100 || img.At(0, 0) != 100 {
		t.Errorf("hot pixels left at %d and %d", img.At(5, 7), img.At(0, 0))
	}
	if img.At(10, 10) != 400 {
		t.Errorf("pixel below the threshold changed to %d", img.At(10, 10))
	}

	if _, err := SuppressHotPixels(img, 0); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("threshold 0: error %v, want ErrInvalidParameter", err)
	}
}

// A resolved star is wider than the 3x3 median and must survive.
func TestSuppressHotPixelsKeepsStars(t *testing.T) {
	img := syntheticFrame(32, 32, 100, 0, blob{x: 16, y: 16, peak: 5000, sigma: 1.5})
	before := img.At(16, 16)
	if _, err := SuppressHotPixels(img, 3000); err != nil {
		t.Fatalf("SuppressHotPixels: %v", err)
	}
	if img.At(16, 16) != before {
		t.Errorf("star peak changed from %d to %d", before, img.At(16, 16))
	}
}

func TestMedianBlur3(t *testing.T) {
	img := NewImage(4, 3)
	copy(img.Pix, []int32{
		1, 2, 3, 4,
		5, 90, 7, 8,
		9, 10, 11, 12,
	})
	out, err := medianBlur3(img)
	if err != nil {
		t.Fatalf("medianBlur3: %v", err)
	}
	want := []int32{
		2, 3, 4, 4,
		5, 7, 8, 8,
		9, 10, 11, 11,
	}
	for i, v := range want {
		if out.Pix[i] != v {
			t.Errorf("pixel (%d, %d) = %d, want %d", i%4, i/4, out.Pix[i], v)
		}
	}
}
