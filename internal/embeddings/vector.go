package embeddings

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// L2 is the Euclidean distance between a and b. Vectors of different
// length are infinitely far apart.
func L2(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Encode packs v as little-endian float32 for BLOB storage.
func Encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// Decode reverses Encode.
func Decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// Candidate is a stored vector with its owner key.
type Candidate struct {
	Key    string
	Vector []float32
}

// Match is a Candidate ranked by distance to a query.
type Match struct {
	Key      string
	Distance float64
}

// Nearest returns up to k candidates closest to query by L2 distance.
func Nearest(query []float32, candidates []Candidate, k int) []Match {
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		d := L2(query, c.Vector)
		if math.IsInf(d, 1) {
			continue
		}
		matches = append(matches, Match{Key: c.Key, Distance: d})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if k >= 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
