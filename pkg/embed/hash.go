package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Hash is a deterministic embedder that needs no model: word unigrams and
// bigrams are hashed into signed buckets and the result is L2-normalized.
// Identical instructions always map to identical vectors.
type Hash struct {
	dims int
}

// NewHash returns a hashing embedder producing vectors of length dims.
func NewHash(dims int) *Hash {
	if dims <= 0 {
		dims = 512
	}
	return &Hash{dims: dims}
}

// Embed returns the L2-normalized hashed bag of words and bigrams in text.
func (h *Hash) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	words := strings.Fields(strings.ToLower(text))

	add := func(token string) {
		f := fnv.New64a()
		f.Write([]byte(token))
		sum := f.Sum64()
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		vec[sum%uint64(h.dims)] += sign
	}
	for i, w := range words {
		add(w)
		if i > 0 {
			add(words[i-1] + " " + w)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// Dimensions returns the vector length.
func (h *Hash) Dimensions() int {
	return h.dims
}
