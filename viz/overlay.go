// Package viz renders attention-map overlays: each part's map is colored,
// blended onto the input image, and its centroid is marked on the plot. One
// PNG is written per sample, grouped in per-epoch directories so successive
// exports of the same run line up side by side.
package viz

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/mkruijt/partscope/geometry"
)

// palette assigns each part a fixed color, cycling when there are more parts
// than entries. Values are in [0, 1] per channel.
var palette = [][3]float64{
	{0.75, 0, 0}, {0, 0.75, 0}, {0, 0, 0.75}, {0.5, 0.5, 0}, {0.5, 0, 0.5},
	{0, 0.5, 0.5}, {0.75, 0.25, 0}, {0.75, 0, 0.25}, {0, 0.75, 0.25},
	{0.75, 0, 0}, {0, 0.75, 0}, {0, 0, 0.75}, {0.5, 0.5, 0}, {0.5, 0, 0.5},
	{0, 0.5, 0.5}, {0.75, 0.25, 0}, {0.75, 0, 0.25}, {0, 0.75, 0.25},
	{0.75, 0, 0}, {0, 0.75, 0}, {0, 0, 0.75}, {0.5, 0.5, 0}, {0.5, 0, 0.5},
	{0, 0.5, 0.5}, {0.75, 0.25, 0}, {0.75, 0, 0.25}, {0, 0.75, 0.25},
}

// PartColor returns the plotting color of part p.
func PartColor(p int) color.RGBA {
	c := palette[p%len(palette)]
	return color.RGBA{
		R: uint8(c[0]*255 + 0.5),
		G: uint8(c[1]*255 + 0.5),
		B: uint8(c[2]*255 + 0.5),
		A: 255,
	}
}

// Exporter writes overlay plots under OutDir/epoch_<N>/. Size is the square
// canvas the images and maps are resized to before blending.
type Exporter struct {
	OutDir string
	Size   int
}

// NewExporter returns an Exporter rendering at size x size pixels.
func NewExporter(outDir string, size int) *Exporter {
	return &Exporter{OutDir: outDir, Size: size}
}

// SaveMaps renders one overlay PNG per batch element.
//
// images is a [batch, 3, height, width] Float32 tensor in [0, 1]; maps is a
// [batch, parts, mapHeight, mapWidth] Float32 tensor of attention maps whose
// last part channel is the background and is left uncolored. names gives the
// output file name per element; pass nil to fall back to image_<i>.
func (e *Exporter) SaveMaps(images, maps *tensors.Tensor, epoch int, names []string) error {
	if err := checkBatch(images, maps, names); err != nil {
		return err
	}
	imgDims := images.Shape().Dimensions
	mapDims := maps.Shape().Dimensions
	batch, imgH, imgW := imgDims[0], imgDims[2], imgDims[3]
	parts, mapH, mapW := mapDims[1], mapDims[2], mapDims[3]

	lm, err := geometry.LandmarkCoordinates(maps)
	if err != nil {
		return errors.WithMessagef(err, "locating centroids for epoch %d", epoch)
	}

	dir := filepath.Join(e.OutDir, fmt.Sprintf("epoch_%d", epoch))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating epoch directory")
	}

	// Both tensors are checked to be Float32 above, so the typed reads
	// cannot mismatch.
	var imgFlat, mapFlat []float32
	tensors.ConstFlatData(images, func(flat []float32) {
		imgFlat = append(imgFlat, flat...)
	})
	tensors.ConstFlatData(maps, func(flat []float32) {
		mapFlat = append(mapFlat, flat...)
	})

	imgStride := 3 * imgH * imgW
	mapStride := parts * mapH * mapW
	for i := 0; i < batch; i++ {
		base := chwToImage(imgFlat[i*imgStride:(i+1)*imgStride], imgH, imgW)
		colored := landmarksToRGB(mapFlat[i*mapStride:(i+1)*mapStride], parts, mapH, mapW)
		blended := blend(
			imaging.Resize(colored, e.Size, e.Size, imaging.Linear),
			imaging.Resize(base, e.Size, e.Size, imaging.Linear),
		)

		name := fmt.Sprintf("image_%d", i)
		if names != nil {
			name = baseName(names[i])
		}
		path := filepath.Join(dir, name+".png")
		if err := e.plotSample(blended, lm, i, parts, mapW, path); err != nil {
			return errors.WithMessagef(err, "rendering %q", path)
		}
	}
	return nil
}

// plotSample draws the blended overlay with one centroid marker per
// foreground part and saves it.
func (e *Exporter) plotSample(overlay *image.NRGBA, lm *geometry.Landmarks, sample, parts, mapW int, path string) error {
	p := plot.New()
	p.HideAxes()

	// Plot coordinates grow upward, image rows grow downward: flip the
	// raster and mirror the centroid y coordinates to match.
	img := plotter.NewImage(imaging.FlipV(overlay), 0, 0, float64(e.Size), float64(e.Size))
	p.Add(img)

	scale := float64(e.Size) / float64(mapW)
	for part := 0; part < parts-1; part++ {
		pt := plotter.XYs{{
			X: float64(lm.X[sample][part]) * scale,
			Y: float64(e.Size) - float64(lm.Y[sample][part])*scale,
		}}
		scatter, err := plotter.NewScatter(pt)
		if err != nil {
			return err
		}
		scatter.GlyphStyle.Color = PartColor(part)
		scatter.GlyphStyle.Radius = vg.Points(3)
		p.Add(scatter)
	}

	p.X.Min, p.X.Max = 0, float64(e.Size)
	p.Y.Min, p.Y.Max = 0, float64(e.Size)
	return p.Save(4*vg.Inch, 4*vg.Inch, path)
}

// checkBatch validates the tensor shapes against each other and names.
func checkBatch(images, maps *tensors.Tensor, names []string) error {
	imgDims := images.Shape().Dimensions
	mapDims := maps.Shape().Dimensions
	if len(imgDims) != 4 || imgDims[1] != 3 {
		return errors.Errorf("images must be shaped [batch, 3, height, width], got %v", imgDims)
	}
	if len(mapDims) != 4 {
		return errors.Errorf("attention maps must be shaped [batch, parts, height, width], got %v", mapDims)
	}
	if images.Shape().DType != dtypes.Float32 || maps.Shape().DType != dtypes.Float32 {
		return errors.Errorf("images and maps must be Float32, got %s and %s",
			images.Shape().DType, maps.Shape().DType)
	}
	if imgDims[0] != mapDims[0] {
		return errors.Errorf("batch mismatch: %d images vs %d map stacks", imgDims[0], mapDims[0])
	}
	if names != nil && len(names) != imgDims[0] {
		return errors.Errorf("got %d names for %d images", len(names), imgDims[0])
	}
	return nil
}

// chwToImage converts one [3, h, w] slab of [0, 1] floats to an image.
func chwToImage(flat []float32, h, w int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			img.SetNRGBA(x, y, color.NRGBA{
				R: clampByte(flat[i]),
				G: clampByte(flat[plane+i]),
				B: clampByte(flat[2*plane+i]),
				A: 255,
			})
		}
	}
	return img
}

// landmarksToRGB colors each foreground part's map with its palette entry and
// sums them into a single image. The last part channel is the background and
// is skipped.
func landmarksToRGB(flat []float32, parts, h, w int) *image.NRGBA {
	plane := h * w
	acc := make([]float64, 3*plane)
	for part := 0; part < parts-1; part++ {
		c := palette[part%len(palette)]
		for i := 0; i < plane; i++ {
			v := float64(flat[part*plane+i])
			acc[3*i] += v * c[0]
			acc[3*i+1] += v * c[1]
			acc[3*i+2] += v * c[2]
		}
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			img.SetNRGBA(x, y, color.NRGBA{
				R: clampByte(float32(acc[3*i])),
				G: clampByte(float32(acc[3*i+1])),
				B: clampByte(float32(acc[3*i+2])),
				A: 255,
			})
		}
	}
	return img
}

// blend averages two equally sized images.
func blend(a, b *image.NRGBA) *image.NRGBA {
	bounds := a.Bounds()
	out := image.NewNRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			pa := a.NRGBAAt(x, y)
			pb := b.NRGBAAt(x, y)
			out.SetNRGBA(x, y, color.NRGBA{
				R: uint8((int(pa.R) + int(pb.R)) / 2),
				G: uint8((int(pa.G) + int(pb.G)) / 2),
				B: uint8((int(pa.B) + int(pb.B)) / 2),
				A: 255,
			})
		}
	}
	return out
}

func clampByte(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// baseName strips any directory and extension, leaving a flat file stem.
func baseName(name string) string {
	name = filepath.Base(name)
	if ext := filepath.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

// LastEpoch scans dir for epoch_<N> subdirectories and returns the highest N,
// or -1 when none exist yet. A missing directory also yields -1, so a fresh
// run starts at epoch 0.
func LastEpoch(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return -1, nil
	}
	if err != nil {
		return -1, errors.Wrapf(err, "scanning %q for epoch directories", dir)
	}
	last := -1
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rest, ok := strings.CutPrefix(entry.Name(), "epoch_")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			continue
		}
		if n > last {
			last = n
		}
	}
	return last, nil
}
