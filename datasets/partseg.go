package datasets

import (
	"encoding/json"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/mkruijt/partscope/geometry"
)

// PartSegSource serves an image dataset annotated with per-part segmentation
// polygons in COCO-style JSON: <dataPath>/<split>.json describes the images,
// the polygon annotations, and the categories; every category belongs to a
// supercategory.
//
// The image-level label is the supercategory of its annotations. All
// annotations of one image must agree on the supercategory; mixed records
// are rejected at construction time. Supercategories are mapped to dense
// labels by sorted name.
//
// Image files live at <dataPath>/<split>/<prefix>/<file_name>, where prefix
// is the file name up to its first underscore.
type PartSegSource struct {
	dataPath string
	split    Split

	images     []segImage
	anns       map[int][]segAnnotation
	categories map[int]segCategory
	superNames []string
	labels     []int32
}

var _ Source = (*PartSegSource)(nil)

// PartMask is one rasterized part annotation: the category it belongs to and
// its binary mask.
type PartMask struct {
	CategoryID int
	Mask       *image.Gray
}

type segFile struct {
	Images      []segImage      `json:"images"`
	Annotations []segAnnotation `json:"annotations"`
	Categories  []segCategory   `json:"categories"`
}

type segImage struct {
	ID       int    `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type segAnnotation struct {
	ImageID      int         `json:"image_id"`
	CategoryID   int         `json:"category_id"`
	Segmentation [][]float64 `json:"segmentation"`
}

type segCategory struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory"`
}

// NewPartSegSource parses <dataPath>/<split>.json and derives the label
// vector from the annotations' supercategories.
func NewPartSegSource(dataPath string, split Split) (*PartSegSource, error) {
	annPath := filepath.Join(dataPath, split.String()+".json")
	raw, err := os.ReadFile(annPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading part-segmentation annotations")
	}
	var file segFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, errors.Wrapf(err, "parsing %q", annPath)
	}

	ps := &PartSegSource{
		dataPath:   dataPath,
		split:      split,
		images:     file.Images,
		anns:       make(map[int][]segAnnotation),
		categories: make(map[int]segCategory, len(file.Categories)),
	}
	sort.Slice(ps.images, func(i, j int) bool { return ps.images[i].ID < ps.images[j].ID })

	superSet := make(map[string]bool)
	for _, cat := range file.Categories {
		ps.categories[cat.ID] = cat
		superSet[cat.Supercategory] = true
	}
	for name := range superSet {
		ps.superNames = append(ps.superNames, name)
	}
	sort.Strings(ps.superNames)
	superLabel := make(map[string]int32, len(ps.superNames))
	for i, name := range ps.superNames {
		superLabel[name] = int32(i)
	}

	for _, ann := range file.Annotations {
		ps.anns[ann.ImageID] = append(ps.anns[ann.ImageID], ann)
	}

	ps.labels = make([]int32, len(ps.images))
	for i, img := range ps.images {
		anns := ps.anns[img.ID]
		if len(anns) == 0 {
			return nil, errors.Errorf("image %d (%s) has no annotations", img.ID, img.FileName)
		}
		super := ""
		for _, ann := range anns {
			cat, ok := ps.categories[ann.CategoryID]
			if !ok {
				return nil, errors.Errorf("annotation of image %d references unknown category %d", img.ID, ann.CategoryID)
			}
			if super == "" {
				super = cat.Supercategory
			} else if super != cat.Supercategory {
				return nil, errors.Errorf(
					"image %d (%s) mixes supercategories %q and %q", img.ID, img.FileName, super, cat.Supercategory)
			}
		}
		ps.labels[i] = superLabel[super]
	}
	return ps, nil
}

// Len implements Source.
func (ps *PartSegSource) Len() int { return len(ps.images) }

// Label implements Source.
func (ps *PartSegSource) Label(index int) int32 { return ps.labels[index] }

// SupercategoryNames returns the sorted supercategory names; a label is an
// index into this slice.
func (ps *PartSegSource) SupercategoryNames() []string { return ps.superNames }

// imagePath resolves the on-disk location of the sample at index.
func (ps *PartSegSource) imagePath(index int) string {
	name := ps.images[index].FileName
	prefix := strings.SplitN(name, "_", 2)[0]
	return filepath.Join(ps.dataPath, ps.split.String(), prefix, name)
}

// Get implements Source, producing a square [3, height, height] tensor.
func (ps *PartSegSource) Get(index, height int) (*tensors.Tensor, int32, error) {
	if index < 0 || index >= len(ps.images) {
		return nil, 0, errors.Errorf("index %d out of range [0, %d)", index, len(ps.images))
	}
	img, err := loadImage(ps.imagePath(index))
	if err != nil {
		return nil, 0, errors.WithMessagef(err, "part-segmentation sample %d", index)
	}
	return imageToCHW(img, height, height), ps.labels[index], nil
}

// Masks rasterizes every polygon annotation of the sample at index into a
// binary mask resized to size x size, one PartMask per polygon.
func (ps *PartSegSource) Masks(index, size int) ([]PartMask, error) {
	if index < 0 || index >= len(ps.images) {
		return nil, errors.Errorf("index %d out of range [0, %d)", index, len(ps.images))
	}
	img := ps.images[index]
	var masks []PartMask
	for _, ann := range ps.anns[img.ID] {
		for _, seg := range ann.Segmentation {
			if len(seg)%2 != 0 {
				return nil, errors.Errorf(
					"image %d: polygon of category %d has odd coordinate count %d", img.ID, ann.CategoryID, len(seg))
			}
			points := make([][2]float64, len(seg)/2)
			for i := range points {
				points[i] = [2]float64{seg[2*i], seg[2*i+1]}
			}
			mask := geometry.PolygonMask(points, img.Width, img.Height)
			resized := imaging.Resize(mask, size, size, imaging.Linear)
			masks = append(masks, PartMask{
				CategoryID: ann.CategoryID,
				Mask:       nrgbaToGray(resized),
			})
		}
	}
	return masks, nil
}

// nrgbaToGray collapses a resized mask back to single-channel form.
func nrgbaToGray(img *image.NRGBA) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.SetGray(x, y, color.Gray{Y: img.NRGBAAt(x, y).R})
		}
	}
	return gray
}
