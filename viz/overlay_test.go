package viz

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// batchTensors builds a one-element batch: a mid-grey 8x8 image and two 4x4
// attention maps, the foreground one a point mass at row 1, column 2.
func batchTensors(t *testing.T) (images, maps *tensors.Tensor) {
	t.Helper()
	imgFlat := make([]float32, 3*8*8)
	for i := range imgFlat {
		imgFlat[i] = 0.5
	}
	images = tensors.FromFlatDataAndDimensions(imgFlat, 1, 3, 8, 8)

	mapFlat := make([]float32, 2*4*4)
	mapFlat[1*4+2] = 1 // foreground part
	for i := 16; i < 32; i++ {
		mapFlat[i] = 0.25 // background part
	}
	maps = tensors.FromFlatDataAndDimensions(mapFlat, 1, 2, 4, 4)
	return images, maps
}

// TestExporter_SaveMaps renders one overlay and checks the file lands in the
// epoch directory under the given name.
func TestExporter_SaveMaps(t *testing.T) {
	dir := t.TempDir()
	images, maps := batchTensors(t)

	exporter := NewExporter(dir, 64)
	if err := exporter.SaveMaps(images, maps, 3, []string{"birds/b1.jpg"}); err != nil {
		t.Fatalf("SaveMaps failed: %v", err)
	}

	path := filepath.Join(dir, "epoch_3", "b1.png")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected overlay at %s: %v", path, err)
	}
	if info.Size() == 0 {
		t.Fatalf("overlay %s is empty", path)
	}
}

// TestExporter_SaveMaps_DefaultNames falls back to image_<i> without names.
func TestExporter_SaveMaps_DefaultNames(t *testing.T) {
	dir := t.TempDir()
	images, maps := batchTensors(t)

	exporter := NewExporter(dir, 32)
	if err := exporter.SaveMaps(images, maps, 0, nil); err != nil {
		t.Fatalf("SaveMaps failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "epoch_0", "image_0.png")); err != nil {
		t.Fatalf("expected default-named overlay: %v", err)
	}
}

// TestExporter_SaveMaps_BatchMismatch rejects inconsistent batch sizes.
func TestExporter_SaveMaps_BatchMismatch(t *testing.T) {
	images := tensors.FromFlatDataAndDimensions(make([]float32, 2*3*4*4), 2, 3, 4, 4)
	maps := tensors.FromFlatDataAndDimensions(make([]float32, 1*2*4*4), 1, 2, 4, 4)
	exporter := NewExporter(t.TempDir(), 32)
	if err := exporter.SaveMaps(images, maps, 0, nil); err == nil {
		t.Fatalf("expected error for mismatched batch sizes, got none")
	}
}

// TestLastEpoch scans a results directory for the highest epoch_<N> entry.
func TestLastEpoch(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{"epoch_0", "epoch_2", "epoch_10", "notes"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatalf("creating %s: %v", sub, err)
		}
	}
	last, err := LastEpoch(dir)
	if err != nil {
		t.Fatalf("LastEpoch failed: %v", err)
	}
	if last != 10 {
		t.Fatalf("LastEpoch = %d, want 10", last)
	}

	fresh, err := LastEpoch(filepath.Join(dir, "missing"))
	if err != nil {
		t.Fatalf("LastEpoch on missing dir failed: %v", err)
	}
	if fresh != -1 {
		t.Fatalf("LastEpoch on missing dir = %d, want -1", fresh)
	}
}

// TestPartColor_Cycles wraps around the palette for high part indices.
func TestPartColor_Cycles(t *testing.T) {
	if PartColor(0) != PartColor(len(palette)) {
		t.Fatalf("PartColor does not cycle at palette length %d", len(palette))
	}
	if PartColor(0).A != 255 {
		t.Fatalf("part colors must be opaque")
	}
}
