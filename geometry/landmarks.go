// Package geometry contains the numeric kernels used to post-process
// per-part attention maps into landmark coordinates, and the rigid affine
// image transforms used for test-time augmentation.
//
// Everything here is a pure function of its inputs: no file I/O, no shared
// state, safe to call from any number of goroutines.
package geometry

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// ErrEmptyMass is returned when a centroid is requested for an attention
// channel whose total mass is exactly zero. The weighted average is undefined
// in that case; callers should treat it as fatal for that sample.
var ErrEmptyMass = errors.New("attention map has zero total mass")

// Landmarks holds the weighted centroid of every attention channel in a
// batch, plus the coordinate grids the centroids were computed on. The grids
// are returned because downstream consumers rescale centroids from map-grid
// units to image pixels using the grid extents.
type Landmarks struct {
	// X and Y are the centroid coordinates in map-grid units, indexed as
	// [batch][part]. X is the column coordinate, Y the row coordinate.
	// Both are convex combinations of grid positions, so whenever the map
	// mass is nonzero: 0 <= X < width and 0 <= Y < height.
	X, Y [][]float32

	// GridX holds the column coordinates 0..width-1, GridY the row
	// coordinates 0..height-1.
	GridX, GridY []float32
}

// LandmarkCoordinates computes the soft-argmax of every attention channel in
// maps, which must be a Float32 tensor shaped [batch, parts, height, width]
// with nonnegative values. For each (batch, part) pair, the centroid is the
// mass-weighted average of the grid coordinates.
//
// A channel whose mass sums to zero yields an error wrapping ErrEmptyMass,
// identifying the offending batch element and part.
func LandmarkCoordinates(maps *tensors.Tensor) (*Landmarks, error) {
	if maps == nil {
		return nil, errors.New("LandmarkCoordinates: nil attention maps")
	}
	shape := maps.Shape()
	if shape.Rank() != 4 {
		return nil, errors.Errorf(
			"LandmarkCoordinates: attention maps must be shaped [batch, parts, height, width], got %s", shape)
	}
	if shape.DType != dtypes.Float32 {
		return nil, errors.Errorf("LandmarkCoordinates: attention maps must be Float32, got %s", shape.DType)
	}
	batch, parts := shape.Dimensions[0], shape.Dimensions[1]
	height, width := shape.Dimensions[2], shape.Dimensions[3]

	lm := &Landmarks{
		X:     make([][]float32, batch),
		Y:     make([][]float32, batch),
		GridX: make([]float32, width),
		GridY: make([]float32, height),
	}
	for j := range lm.GridX {
		lm.GridX[j] = float32(j)
	}
	for i := range lm.GridY {
		lm.GridY[i] = float32(i)
	}

	var err error
	tensors.ConstFlatData(maps, func(flat []float32) {
		channel := height * width
		for b := 0; b < batch; b++ {
			lm.X[b] = make([]float32, parts)
			lm.Y[b] = make([]float32, parts)
			for p := 0; p < parts; p++ {
				a := flat[(b*parts+p)*channel : (b*parts+p+1)*channel]
				var mass, sumX, sumY float64
				for i := 0; i < height; i++ {
					row := a[i*width : (i+1)*width]
					for j, v := range row {
						mass += float64(v)
						sumX += float64(j) * float64(v)
						sumY += float64(i) * float64(v)
					}
				}
				if mass == 0 {
					err = errors.Wrapf(ErrEmptyMass, "batch element %d, part %d", b, p)
					return
				}
				lm.X[b][p] = float32(sumX / mass)
				lm.Y[b][p] = float32(sumY / mass)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return lm, nil
}
