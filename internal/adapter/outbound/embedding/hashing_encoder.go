// Package embedding provides a toolindex.Encoder implementation. With no
// hosted embedding-model client available, this adapter uses the
// hashing trick (feature-hash each token into a fixed-width vector)
// built on xxhash rather than reaching for an external model API — see
// DESIGN.md.
package embedding

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// HashingEncoder implements toolindex.Encoder by feature-hashing
// whitespace-tokenized text into a fixed-width vector. Each token votes
// +1/-1 (sign from the top bit of the same hash) into one of dims buckets; this is
// the standard hashing-trick embedding used when no trained model is
// available, and gives a stable, dependency-light vector for exercising
// the Tool Index's cosine-similarity search.
type HashingEncoder struct {
	dims int
}

// NewHashingEncoder creates an encoder producing vectors of the given
// dimensionality, matching ToolIndexConfig.Dimensions.
func NewHashingEncoder(dims int) *HashingEncoder {
	return &HashingEncoder{dims: dims}
}

// Dimensions reports the configured vector width.
func (e *HashingEncoder) Dimensions() int { return e.dims }

// Encode hashes each token of text into the output vector.
func (e *HashingEncoder) Encode(text string) ([]float32, error) {
	out := make([]float32, e.dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := xxhash.Sum64String(tok)
		bucket := int(h % uint64(e.dims))
		sign := float32(1)
		if (h>>63)&1 == 1 {
			sign = -1
		}
		out[bucket] += sign
	}
	return out, nil
}
