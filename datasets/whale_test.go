package datasets

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// writePNG writes a solid-color RGBA image of the given size.
func writePNG(t *testing.T, path string, size int, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	writeImageFile(t, path, img)
}

// writeGrayPNG writes a single-channel image, to exercise the grayscale
// broadcast path.
func writeGrayPNG(t *testing.T, path string, size int, v uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	writeImageFile(t, path, img)
}

func writeImageFile(t *testing.T, path string, img image.Image) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating image dir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating image file %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encoding %s: %v", path, err)
	}
}

func writeTextFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating dir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// writeWhaleFixture lays out a small whale dataset: five photos of three
// individuals.
func writeWhaleFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTextFile(t, filepath.Join(dir, "train.csv"),
		"Image,Id\n"+
			"w1.png,idA\n"+
			"w2.png,idA\n"+
			"w3.png,idB\n"+
			"w4.png,idB\n"+
			"w5.png,idC\n")
	for _, name := range []string{"w1.png", "w2.png", "w3.png", "w4.png", "w5.png"} {
		writePNG(t, filepath.Join(dir, "train", name), 8, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	}
	return dir
}

// TestWhaleSource_Split verifies the first-occurrence-to-validation rule and
// the dense label mapping.
func TestWhaleSource_Split(t *testing.T) {
	dir := writeWhaleFixture(t)

	train, err := NewWhaleSource(dir, SplitTrain)
	if err != nil {
		t.Fatalf("NewWhaleSource(train) failed: %v", err)
	}
	// First photo of each individual goes to validation; the training
	// portion keeps w2 (idA) and w4 (idB).
	if train.Len() != 2 {
		t.Fatalf("train Len() = %d, want 2", train.Len())
	}
	if train.Name(0) != "w2.png" || train.Name(1) != "w4.png" {
		t.Fatalf("train names = %q, %q; want w2.png, w4.png", train.Name(0), train.Name(1))
	}
	if train.Label(0) != 0 || train.Label(1) != 1 {
		t.Fatalf("train labels = %d, %d; want 0, 1", train.Label(0), train.Label(1))
	}
	if train.LabelID(0) != "idA" {
		t.Fatalf("train LabelID(0) = %q, want idA", train.LabelID(0))
	}

	val, err := NewWhaleSource(dir, SplitVal)
	if err != nil {
		t.Fatalf("NewWhaleSource(val) failed: %v", err)
	}
	if val.Len() != 3 {
		t.Fatalf("val Len() = %d, want 3", val.Len())
	}

	all, err := NewWhaleSource(dir, SplitAll)
	if err != nil {
		t.Fatalf("NewWhaleSource(all) failed: %v", err)
	}
	if all.Len() != 5 {
		t.Fatalf("all Len() = %d, want 5", all.Len())
	}

	if _, err := NewWhaleSource(dir, SplitTest); err == nil {
		t.Fatalf("expected error for whale test split, got none")
	}
}

// TestWhaleSource_GetShape checks the wide [3, h, 2h] render and [0,1]
// normalization.
func TestWhaleSource_GetShape(t *testing.T) {
	dir := writeWhaleFixture(t)
	src, err := NewWhaleSource(dir, SplitTrain)
	if err != nil {
		t.Fatalf("NewWhaleSource failed: %v", err)
	}

	img, label, err := src.Get(0, 16)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	dims := img.Shape().Dimensions
	if len(dims) != 3 || dims[0] != 3 || dims[1] != 16 || dims[2] != 32 {
		t.Fatalf("image shaped %v, want [3 16 32]", dims)
	}
	if label != 0 {
		t.Fatalf("label = %d, want 0", label)
	}
	tensors.ConstFlatData(img, func(flat []float32) {
		for i, v := range flat {
			if v < 0 || v > 1 {
				t.Fatalf("pixel %d = %v outside [0,1]", i, v)
			}
		}
	})
}

// TestWhaleSource_GrayscaleBroadcast checks that a grayscale photo comes out
// with three equal channels.
func TestWhaleSource_GrayscaleBroadcast(t *testing.T) {
	dir := writeWhaleFixture(t)
	writeGrayPNG(t, filepath.Join(dir, "train", "w2.png"), 8, 128)

	src, err := NewWhaleSource(dir, SplitTrain)
	if err != nil {
		t.Fatalf("NewWhaleSource failed: %v", err)
	}
	img, _, err := src.Get(0, 8) // w2.png
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	tensors.ConstFlatData(img, func(flat []float32) {
		plane := 8 * 16
		for i := 0; i < plane; i++ {
			if flat[i] != flat[plane+i] || flat[i] != flat[2*plane+i] {
				t.Fatalf("channels differ at pixel %d: %v %v %v", i, flat[i], flat[plane+i], flat[2*plane+i])
			}
		}
	})
}

// TestWhaleSource_AltDataPath verifies that replacement images take
// precedence when present.
func TestWhaleSource_AltDataPath(t *testing.T) {
	dir := writeWhaleFixture(t)
	alt := t.TempDir()
	writePNG(t, filepath.Join(alt, "w2.png"), 8, color.RGBA{R: 0, G: 0, B: 255, A: 255})

	src, err := NewWhaleSource(dir, SplitTrain)
	if err != nil {
		t.Fatalf("NewWhaleSource failed: %v", err)
	}
	src.WithAltDataPath(alt)

	img, _, err := src.Get(0, 8) // w2.png has a replacement
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	tensors.ConstFlatData(img, func(flat []float32) {
		plane := 8 * 16
		// Replacement is pure blue: red channel 0, blue channel 1.
		if flat[0] != 0 || flat[2*plane] != 1 {
			t.Fatalf("expected replacement image, got R=%v B=%v", flat[0], flat[2*plane])
		}
	})
}
