package datasets

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// WhaleSource serves an individual-identification dataset described by a
// train.csv table with "Image" (file name) and "Id" (individual identifier)
// columns. Images live under <dataPath>/train/.
//
// Identifiers are mapped to dense labels by their sorted order. The split is
// deterministic without a seed: the first image of every individual goes to
// validation, every later image to training, so each individual seen during
// validation was also seen (through other photos) during training.
//
// Whale photos are wide crops, so Get renders at height x 2*height.
type WhaleSource struct {
	dataPath    string
	altDataPath string

	names    []string
	labels   []int32
	labelIDs []string
}

var _ Source = (*WhaleSource)(nil)

// NewWhaleSource parses <dataPath>/train.csv and keeps the rows belonging to
// the requested split.
func NewWhaleSource(dataPath string, split Split) (*WhaleSource, error) {
	if split == SplitTest {
		return nil, errors.Errorf("whale data has no test split; use %s or %s", SplitTrain, SplitVal)
	}
	f, err := os.Open(filepath.Join(dataPath, "train.csv"))
	if err != nil {
		return nil, errors.Wrapf(err, "opening whale label table")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "reading whale label table header")
	}
	imageCol, idCol := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(strings.ToLower(col)) {
		case "image":
			imageCol = i
		case "id":
			idCol = i
		}
	}
	if imageCol < 0 || idCol < 0 {
		return nil, errors.Errorf("whale label table must have Image and Id columns, got %v", header)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "reading whale label table rows")
	}

	// Dense labels follow the sorted order of the unique identifiers.
	uniqueIDs := make([]string, 0)
	seen := make(map[string]bool)
	for _, record := range records {
		id := record[idCol]
		if !seen[id] {
			seen[id] = true
			uniqueIDs = append(uniqueIDs, id)
		}
	}
	sort.Strings(uniqueIDs)
	denseLabel := make(map[string]int32, len(uniqueIDs))
	for i, id := range uniqueIDs {
		denseLabel[id] = int32(i)
	}

	ws := &WhaleSource{dataPath: dataPath}
	firstSeen := make(map[int32]bool)
	for _, record := range records {
		label := denseLabel[record[idCol]]
		inVal := !firstSeen[label]
		firstSeen[label] = true
		if split == SplitTrain && inVal || split == SplitVal && !inVal {
			continue
		}
		ws.names = append(ws.names, record[imageCol])
		ws.labels = append(ws.labels, label)
		ws.labelIDs = append(ws.labelIDs, record[idCol])
	}
	return ws, nil
}

// WithAltDataPath points the source at a directory of replacement images.
// For any sample whose file exists there, the replacement is used instead of
// the original under <dataPath>/train/.
//
// Returns the source, to allow chaining.
func (ws *WhaleSource) WithAltDataPath(dir string) *WhaleSource {
	ws.altDataPath = dir
	return ws
}

// Len implements Source.
func (ws *WhaleSource) Len() int { return len(ws.labels) }

// Label implements Source.
func (ws *WhaleSource) Label(index int) int32 { return ws.labels[index] }

// LabelID returns the original string identifier of the sample at index.
func (ws *WhaleSource) LabelID(index int) string { return ws.labelIDs[index] }

// Name returns the image file name of the sample at index.
func (ws *WhaleSource) Name(index int) string { return ws.names[index] }

// Get implements Source, producing a [3, height, 2*height] tensor.
func (ws *WhaleSource) Get(index, height int) (*tensors.Tensor, int32, error) {
	if index < 0 || index >= len(ws.names) {
		return nil, 0, errors.Errorf("index %d out of range [0, %d)", index, len(ws.names))
	}
	path := filepath.Join(ws.dataPath, "train", ws.names[index])
	if ws.altDataPath != "" {
		if alt := filepath.Join(ws.altDataPath, ws.names[index]); fileExists(alt) {
			path = alt
		}
	}
	img, err := loadImage(path)
	if err != nil {
		return nil, 0, errors.WithMessagef(err, "whale sample %d", index)
	}
	return imageToCHW(img, height, 2*height), ws.labels[index], nil
}
