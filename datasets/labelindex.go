package datasets

import "github.com/pkg/errors"

// LabelIndex groups sample indices by label. It is built once from a label
// vector, in O(n), and is never mutated afterwards, so it can be shared
// across goroutines without locking.
type LabelIndex struct {
	labels  []int32
	byLabel map[int32][]int32
}

// NewLabelIndex builds the label-to-indices grouping for the given label
// vector. Label identifiers need not be contiguous.
func NewLabelIndex(labels []int32) *LabelIndex {
	li := &LabelIndex{
		labels:  append([]int32(nil), labels...),
		byLabel: make(map[int32][]int32),
	}
	for i, label := range labels {
		li.byLabel[label] = append(li.byLabel[label], int32(i))
	}
	return li
}

// Len returns the number of samples the index was built over.
func (li *LabelIndex) Len() int { return len(li.labels) }

// NumLabels returns the number of distinct labels.
func (li *LabelIndex) NumLabels() int { return len(li.byLabel) }

// IndicesFor returns every sample index carrying the given label, in
// ascending order. The returned slice is owned by the index and must not be
// modified. Requesting a label that never appeared in the input vector is a
// caller error.
func (li *LabelIndex) IndicesFor(label int32) ([]int32, error) {
	indices, ok := li.byLabel[label]
	if !ok {
		return nil, errors.Errorf("label %d not present in the label vector", label)
	}
	return indices, nil
}

// Complement returns every sample index whose label differs from the given
// label, in ascending order. The result is empty when all samples share that
// label.
func (li *LabelIndex) Complement(label int32) []int32 {
	same := len(li.byLabel[label])
	out := make([]int32, 0, len(li.labels)-same)
	for i, l := range li.labels {
		if l != label {
			out = append(out, int32(i))
		}
	}
	return out
}
