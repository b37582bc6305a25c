package textstats

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

// VocabularyDimensions is the size of vectors produced by Vectorize for the vocabulary index
const VocabularyDimensions = 256

// Vectorize folds a word frequency table into an L2-normalized hashed
// term-frequency vector of the given size. An empty table yields a zero vector.
func Vectorize(frequencies map[string]int, dims int) []float32 {
	if dims <= 0 {
		return nil
	}

	acc := make([]float64, dims)
	for word, count := range frequencies {
		h := xxhash.Sum64String(word)
		idx := int(h % uint64(dims))
		// top bit selects the sign
		if h>>63 == 1 {
			acc[idx] -= float64(count)
		} else {
			acc[idx] += float64(count)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, dims)
	if norm == 0 {
		return out
	}
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}
