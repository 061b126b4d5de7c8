package datasets

import (
	"io"
	"math/rand/v2"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// ErrNoNegative is returned when a negative sample cannot be drawn because
// every sample in the source carries the anchor's label.
var ErrNoNegative = errors.New("no negative candidates: all samples share the anchor label")

// HeightList holds the target resolution for each triplet role, in order:
// anchor, positive, negative. The underlying source renders each role's image
// independently at its own resolution.
type HeightList [3]int

// DefaultHeights renders every role at 256 pixels.
var DefaultHeights = HeightList{256, 256, 256}

// Triplet is one anchor/positive/negative sample tuple. Positive always
// shares the anchor's label; negative never does.
type Triplet struct {
	Anchor, Positive, Negative *tensors.Tensor

	// PositiveIndex and NegativeIndex are the source indices the positive
	// and negative images were drawn from.
	PositiveIndex, NegativeIndex int

	// Label is the anchor (and positive) label; NegativeLabel the negative's.
	Label, NegativeLabel int32
}

// TripletSampler draws anchor/positive/negative tuples from a Source for
// metric-learning training. The positive is drawn uniformly from the samples
// sharing the anchor's label (the anchor itself included); the negative
// uniformly from all other samples.
//
// The sampler is safe for concurrent use: the label index is read-only, the
// random draws use math/rand/v2's concurrency-safe generator, and the target
// resolution is threaded through every fetch explicitly.
//
// TripletSampler also implements train.Dataset, yielding one triplet per
// Yield call with sequential anchors and io.EOF at the end of the epoch.
type TripletSampler struct {
	src     Source
	heights HeightList
	index   *LabelIndex

	mu   sync.Mutex
	next int
}

var _ train.Dataset = (*TripletSampler)(nil)

// NewTripletSampler builds the label index over src and returns a sampler
// producing each role at its configured resolution.
func NewTripletSampler(src Source, heights HeightList) *TripletSampler {
	return &TripletSampler{
		src:     src,
		heights: heights,
		index:   NewLabelIndex(Labels(src)),
	}
}

// Index returns the sampler's label index.
func (s *TripletSampler) Index() *LabelIndex { return s.index }

// Sample draws a triplet anchored at the given source index.
//
// The three images are fetched by three independent Get calls, each with its
// own role resolution. Draws are independent across calls: repeated sampling
// of the same anchor may repeat positives or negatives.
func (s *TripletSampler) Sample(anchor int) (*Triplet, error) {
	if anchor < 0 || anchor >= s.src.Len() {
		return nil, errors.Errorf("anchor index %d out of range [0, %d)", anchor, s.src.Len())
	}
	anchorImg, label, err := s.src.Get(anchor, s.heights[0])
	if err != nil {
		return nil, errors.WithMessagef(err, "fetching anchor %d", anchor)
	}

	// The positive candidates always include the anchor itself, so this set
	// is never empty.
	positives, err := s.index.IndicesFor(label)
	if err != nil {
		return nil, err
	}
	positiveIdx := int(positives[rand.N(len(positives))])
	positiveImg, _, err := s.src.Get(positiveIdx, s.heights[1])
	if err != nil {
		return nil, errors.WithMessagef(err, "fetching positive %d", positiveIdx)
	}

	negatives := s.index.Complement(label)
	if len(negatives) == 0 {
		return nil, errors.WithMessagef(ErrNoNegative, "anchor %d, label %d", anchor, label)
	}
	negativeIdx := int(negatives[rand.N(len(negatives))])
	negativeImg, negativeLabel, err := s.src.Get(negativeIdx, s.heights[2])
	if err != nil {
		return nil, errors.WithMessagef(err, "fetching negative %d", negativeIdx)
	}

	return &Triplet{
		Anchor:        anchorImg,
		Positive:      positiveImg,
		Negative:      negativeImg,
		PositiveIndex: positiveIdx,
		NegativeIndex: negativeIdx,
		Label:         label,
		NegativeLabel: negativeLabel,
	}, nil
}

// Name implements train.Dataset.
func (s *TripletSampler) Name() string { return "triplets" }

// nextAnchor returns the next sequential anchor index, or -1 once the epoch
// is exhausted. Concurrency safe.
func (s *TripletSampler) nextAnchor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= s.src.Len() {
		return -1
	}
	anchor := s.next
	s.next++
	return anchor
}

// Yield implements train.Dataset. It returns the sampler as spec, the three
// role images as inputs, and the anchor and negative labels as labels.
func (s *TripletSampler) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec = s
	anchor := s.nextAnchor()
	if anchor < 0 {
		err = io.EOF
		return
	}
	triplet, err := s.Sample(anchor)
	if err != nil {
		err = errors.WithMessagef(err, "sampling triplet for anchor %d", anchor)
		return
	}
	inputs = []*tensors.Tensor{triplet.Anchor, triplet.Positive, triplet.Negative}
	labels = []*tensors.Tensor{
		tensors.FromScalar(triplet.Label),
		tensors.FromScalar(triplet.NegativeLabel),
	}
	return
}

// Reset implements train.Dataset, rewinding the sequential anchor cursor.
func (s *TripletSampler) Reset() {
	s.mu.Lock()
	s.next = 0
	s.mu.Unlock()
}
