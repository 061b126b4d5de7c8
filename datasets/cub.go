package datasets

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ErrMissingTrainSamples is returned when a validation CUB source is built
// without the training-sample list that defines its complement.
var ErrMissingTrainSamples = errors.New("validation split requires the training-sample list")

// Part is one entry of a bird's part-location table: a part identifier and
// its pixel position in the original (unresized) image. Only visible parts
// are retained.
type Part struct {
	ID   int
	X, Y float64
}

// CUBSource serves the CUB-200-2011 birds dataset from its whitespace-
// separated tables: images.txt, image_class_labels.txt, train_test_split.txt
// and parts/part_locs.txt.
//
// The training portion is a seeded 90% shuffle-cut of the rows flagged as
// training data; the remaining 10% form the validation portion. Build the
// training source first and hand its TrainSamples to the validation source,
// so the two never overlap.
type CUBSource struct {
	dataPath string

	ids    []int
	names  []string
	labels []int32
	parts  map[int][]Part

	trainSamples []int
}

var _ Source = (*CUBSource)(nil)

// cubRow is one joined row of the id-keyed tables.
type cubRow struct {
	id      int
	name    string
	label   int32
	inTrain bool
}

// NewCUBSource parses the dataset tables under dataPath and keeps the rows
// of the requested split.
//
// seed drives the shuffle that separates training from validation rows; use
// the same seed for both. trainSamples is required for SplitVal (pass the
// training source's TrainSamples) and ignored otherwise.
func NewCUBSource(dataPath string, split Split, seed int64, trainSamples []int) (*CUBSource, error) {
	rows, err := readCUBRows(dataPath)
	if err != nil {
		return nil, err
	}

	// Rows flagged train==1 feed both the training and validation portions.
	var trainRows []cubRow
	var selected []cubRow
	for _, row := range rows {
		if row.inTrain {
			trainRows = append(trainRows, row)
		}
	}

	cs := &CUBSource{dataPath: dataPath}
	switch split {
	case SplitTrain:
		kept, _ := SplitIndices(len(trainRows), 0.9, seed)
		cs.trainSamples = kept
		for _, i := range kept {
			selected = append(selected, trainRows[i])
		}
	case SplitVal:
		if trainSamples == nil {
			return nil, errors.WithMessagef(ErrMissingTrainSamples,
				"building CUB validation source for %s", dataPath)
		}
		used := make(map[int]bool, len(trainSamples))
		for _, i := range trainSamples {
			used[i] = true
		}
		for i, row := range trainRows {
			if !used[i] {
				selected = append(selected, row)
			}
		}
	case SplitTest:
		for _, row := range rows {
			if !row.inTrain {
				selected = append(selected, row)
			}
		}
	case SplitAll:
		selected = rows
	}

	for _, row := range selected {
		cs.ids = append(cs.ids, row.id)
		cs.names = append(cs.names, row.name)
		cs.labels = append(cs.labels, row.label)
	}

	cs.parts, err = readCUBParts(dataPath, cs.ids)
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// readCUBRows joins images.txt, image_class_labels.txt and
// train_test_split.txt on the image id, preserving images.txt order.
func readCUBRows(dataPath string) ([]cubRow, error) {
	names := make(map[int]string)
	order := make([]int, 0)
	err := scanTable(filepath.Join(dataPath, "images.txt"), 2, func(fields []string) error {
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return err
		}
		names[id] = fields[1]
		order = append(order, id)
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "reading CUB image table")
	}

	labels := make(map[int]int32)
	err = scanTable(filepath.Join(dataPath, "image_class_labels.txt"), 2, func(fields []string) error {
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return err
		}
		label, err := strconv.Atoi(fields[1])
		if err != nil {
			return err
		}
		labels[id] = int32(label)
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "reading CUB label table")
	}

	inTrain := make(map[int]bool)
	err = scanTable(filepath.Join(dataPath, "train_test_split.txt"), 2, func(fields []string) error {
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return err
		}
		inTrain[id] = fields[1] == "1"
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "reading CUB split table")
	}

	rows := make([]cubRow, 0, len(order))
	for _, id := range order {
		label, ok := labels[id]
		if !ok {
			return nil, errors.Errorf("image id %d has no class label", id)
		}
		rows = append(rows, cubRow{
			id:      id,
			name:    names[id],
			label:   label,
			inTrain: inTrain[id],
		})
	}
	return rows, nil
}

// readCUBParts loads parts/part_locs.txt, dropping invisible parts and
// keeping only the entries of the given image ids.
func readCUBParts(dataPath string, ids []int) (map[int][]Part, error) {
	wanted := make(map[int]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	parts := make(map[int][]Part, len(ids))
	err := scanTable(filepath.Join(dataPath, "parts", "part_locs.txt"), 5, func(fields []string) error {
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return err
		}
		if !wanted[id] || fields[4] == "0" {
			return nil
		}
		partID, err := strconv.Atoi(fields[1])
		if err != nil {
			return err
		}
		x, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return err
		}
		y, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return err
		}
		parts[id] = append(parts[id], Part{ID: partID, X: x, Y: y})
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "reading CUB part-location table")
	}
	return parts, nil
}

// scanTable reads a whitespace-separated table line by line, requiring at
// least minFields per line.
func scanTable(path string, minFields int, fn func(fields []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < minFields {
			return errors.Errorf("%s:%d: expected %d fields, got %d", path, line, minFields, len(fields))
		}
		if err := fn(fields); err != nil {
			return errors.Wrapf(err, "%s:%d", path, line)
		}
	}
	return scanner.Err()
}

// Len implements Source.
func (cs *CUBSource) Len() int { return len(cs.labels) }

// Label implements Source.
func (cs *CUBSource) Label(index int) int32 { return cs.labels[index] }

// Name returns the image file name (relative to <dataPath>/images) of the
// sample at index.
func (cs *CUBSource) Name(index int) string { return cs.names[index] }

// TrainSamples returns the positions (into the train-flagged rows) this
// training source kept. Hand it to NewCUBSource when building the matching
// validation source.
func (cs *CUBSource) TrainSamples() []int { return cs.trainSamples }

// VisibleParts returns the visible part locations of the sample at index, in
// original-image pixel coordinates.
func (cs *CUBSource) VisibleParts(index int) []Part {
	return cs.parts[cs.ids[index]]
}

// Get implements Source, producing a square [3, height, height] tensor.
func (cs *CUBSource) Get(index, height int) (*tensors.Tensor, int32, error) {
	if index < 0 || index >= len(cs.names) {
		return nil, 0, errors.Errorf("index %d out of range [0, %d)", index, len(cs.names))
	}
	img, err := loadImage(filepath.Join(cs.dataPath, "images", cs.names[index]))
	if err != nil {
		return nil, 0, errors.WithMessagef(err, "CUB sample %d", index)
	}
	return imageToCHW(img, height, height), cs.labels[index], nil
}
