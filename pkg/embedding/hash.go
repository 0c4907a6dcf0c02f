package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Hash is a deterministic feature-hashing embedder. It needs no model server
// and is used for local runs and tests; similarity reflects shared words only.
type Hash struct {
	dims int
}

var _ Embedder = (*Hash)(nil)

// NewHash returns a hashing embedder with the given dimensions (default 256).
func NewHash(dims int) *Hash {
	if dims <= 0 {
		dims = 256
	}
	return &Hash{dims: dims}
}

// Embed hashes each lower-cased word into a signed bucket and L2-normalises
// the result.
func (h *Hash) Embed(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	vec := make([]float32, h.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		f := fnv.New64a()
		_, _ = f.Write([]byte(w))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dims))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// No word characters; any fixed unit vector keeps cosine defined.
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

// Model returns "hash".
func (h *Hash) Model() string { return "hash" }

// Dimensions returns the vector length.
func (h *Hash) Dimensions() int { return h.dims }

// Health always reports true.
func (h *Hash) Health(context.Context) bool { return true }
