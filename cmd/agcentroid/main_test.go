package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMedianMAD(t *testing.T) {
	median, mad := medianMAD([]float64{3.0, 3.4, 2.8, 3.1, 10.0})
	if median != 3.1 {
		t.Errorf("median %f, want 3.1", median)
	}
	if want := 1.4826 * 0.3; math.Abs(mad-want) > 1e-9 {
		t.Errorf("mad %f, want %f", mad, want)
	}
	if m, _ := medianMAD(nil); !math.IsNaN(m) {
		t.Errorf("empty input gave %f, want NaN", m)
	}
}

func TestOverlayName(t *testing.T) {
	if got := overlayName("out/overlay.jpg", 0, 1); got != "out/overlay.jpg" {
		t.Errorf("single frame: %q", got)
	}
	if got := overlayName("out/overlay.jpg", 7, 12); got != "out/overlay-007.jpg" {
		t.Errorf("frame 7: %q", got)
	}
}

func TestRunSimulated(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	args := []string{"-simulate", "2", "-exposure", "1ms", "-log-level", "error", "-save", dir}
	if err := run(args, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, name := range []string{"sim-000.fits", "sim-001.fits"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("saved frame missing: %v", err)
		}
		if !strings.Contains(out.String(), "=== "+path) {
			t.Errorf("no report for %s in:\n%s", path, out.String())
		}
	}

	// the saved copies load back through the file path
	out.Reset()
	if err := run([]string{"-log-level", "error", filepath.Join(dir, "sim-000.fits")}, &out); err != nil {
		t.Fatalf("run on saved frame: %v", err)
	}
	if !strings.Contains(out.String(), "Image size:      1072 x 1033") {
		t.Errorf("unexpected report:\n%s", out.String())
	}
}

func TestRunUsage(t *testing.T) {
	if err := run(nil, &bytes.Buffer{}); err == nil {
		t.Errorf("run without frames succeeded")
	}
}
