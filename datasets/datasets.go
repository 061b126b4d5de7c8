package datasets

import "github.com/gomlx/gomlx/pkg/core/tensors"

// This file defines the capability interface shared by every concrete image
// source in this package.
//
// The sources (whale CSV tables, CUB tab-separated tables, COCO-style part
// segmentation records) differ only in how their label and metadata tables
// are parsed. Everything downstream - label indexing, triplet sampling,
// train/validation splitting - is written once against the Source interface.
//
// Notes on resolution handling:
//   - The target image resolution is an explicit argument of every Get call,
//     never a mutable field on the source. Triplet sampling fetches the same
//     underlying sample at a different resolution per role, and concurrent
//     samplers must not observe each other's resolutions.
//   - Images are returned as Float32 tensors shaped [3, height, width] with
//     values in [0, 1] (channel-first). Grayscale files are broadcast to
//     three channels before return.
type Source interface {
	// Len returns the number of samples in the source.
	Len() int

	// Get fetches the image at index, rendered at the given target height,
	// along with its label. Each call decodes and resizes independently.
	Get(index, height int) (*tensors.Tensor, int32, error)

	// Label returns the label of the sample at index without decoding its
	// image.
	Label(index int) int32
}

// Labels collects the full label vector of a source, one entry per sample
// index. Used to build a LabelIndex.
func Labels(src Source) []int32 {
	labels := make([]int32, src.Len())
	for i := range labels {
		labels[i] = src.Label(i)
	}
	return labels
}

// Split selects which portion of a source's underlying data to expose.
type Split int

const (
	// SplitTrain exposes the training portion.
	SplitTrain Split = iota
	// SplitVal exposes the validation portion.
	SplitVal
	// SplitTest exposes the held-out test portion.
	SplitTest
	// SplitAll exposes every sample regardless of portion.
	SplitAll
)

func (s Split) String() string {
	switch s {
	case SplitTrain:
		return "train"
	case SplitVal:
		return "val"
	case SplitTest:
		return "test"
	case SplitAll:
		return "all"
	}
	return "unknown"
}
