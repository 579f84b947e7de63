package testutil

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/hupe1980/vecgraph/distance"
)

// RNG is a seeded, mutex-guarded random source so parallel subtests can
// share one generator and still reproduce a failing run from its seed.
type RNG struct {
	mu   sync.Mutex
	seed int64
	rand *rand.Rand
}

func NewRNG(seed int64) *RNG {
	return &RNG{seed: seed, rand: rand.New(rand.NewSource(seed))} // nolint gosec
}

// Reset rewinds the generator to its seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = rand.New(rand.NewSource(r.seed)) // nolint gosec
}

func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// UniformVectors returns n vectors with components in [0, 1).
func (r *RNG) UniformVectors(n, dim int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = r.rand.Float32()
		}
		out[i] = v
	}
	return out
}

// UnitVectors returns n vectors drawn uniformly from the unit hypersphere,
// the shape cosine-normalized embeddings have.
func (r *RNG) UnitVectors(n, dim int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][]float32, n)
	for i := range out {
		out[i] = r.unit(dim)
	}
	return out
}

func (r *RNG) UnitVector(dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unit(dim)
}

func (r *RNG) unit(dim int) []float32 {
	v := make([]float32, dim)
	for {
		for j := range v {
			v[j] = float32(r.rand.NormFloat64())
		}
		if distance.NormalizeL2InPlace(v) {
			return v
		}
	}
}

// ClusteredVectors scatters n vectors around k unit centroids, mimicking
// embeddings of a few dominant topics. Vector i belongs to cluster i%k.
func (r *RNG) ClusteredVectors(n, dim, k int, spread float32) [][]float32 {
	centroids := r.UnitVectors(k, dim)

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][]float32, n)
	for i := range out {
		c := centroids[i%k]
		v := make([]float32, dim)
		for j := range v {
			v[j] = c[j] + float32(r.rand.NormFloat64())*spread
		}
		out[i] = v
	}
	return out
}

// Names returns n distinct entity names in random order.
func (r *RNG) Names(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, n)
	for i, p := range r.rand.Perm(n) {
		out[i] = fmt.Sprintf("Entity %04d", p)
	}
	return out
}
