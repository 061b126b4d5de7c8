package datasets

import "math/rand"

// SplitIndices shuffles the indices [0, n) with a deterministic
// seed-controlled permutation and cuts them at trainFrac. The same (n,
// trainFrac, seed) always produces the same split, so training and
// validation sources built in separate processes agree on the partition.
func SplitIndices(n int, trainFrac float64, seed int64) (train, holdout []int) {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(n, func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})
	cut := int(float64(n) * trainFrac)
	return indices[:cut], indices[cut:]
}
