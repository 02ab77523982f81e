// Package embedtest provides a deterministic embedder for tests.
package embedtest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// Dims is the vector width produced by Hash.
const Dims = 64

// Hash embeds text as a normalized bag of hashed lowercase words, so
// texts sharing words land close together.
type Hash struct {
	mu    sync.Mutex
	calls int
	// Fail makes every call return an error.
	Fail bool
}

// Embed implements embeddings.Embedder.
func (h *Hash) Embed(_ context.Context, text string) ([]float32, error) {
	h.mu.Lock()
	h.calls++
	fail := h.Fail
	h.mu.Unlock()
	if fail {
		return nil, errors.New("embedder unavailable")
	}

	v := make([]float32, Dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if w == "" {
			continue
		}
		f := fnv.New32a()
		f.Write([]byte(w))
		v[f.Sum32()%Dims]++
	}
	var norm float32
	for _, x := range v {
		norm += x * x
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(float64(norm)))
		for i := range v {
			v[i] *= inv
		}
	}
	return v, nil
}

// Calls returns how many times Embed ran.
func (h *Hash) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}
