package testutil

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"

	"github.com/hupe1980/vash/feature"
	"github.com/hupe1980/vash/persistence"
)

// RNG wraps a seeded random source. It is safe for concurrent use.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// FillUniform fills dst with random values in range [0, 1).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// Descriptors returns num uniform descriptors in [0, 1).
// Uses a single backing array.
func (r *RNG) Descriptors(num, dim int) []feature.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	out := make([]feature.Descriptor, num)
	for i := range num {
		d := data[i*dim : (i+1)*dim : (i+1)*dim]
		for j := range d {
			d[j] = r.rand.Float32()
		}
		out[i] = d
	}
	return out
}

// Centers returns k cluster centers along distinct axes, scale apart from
// the origin, so every pair is scale*sqrt(2) apart. It needs k <= dim.
func (r *RNG) Centers(k, dim int, scale float32) []feature.Descriptor {
	if k > dim {
		panic(fmt.Sprintf("testutil: %d centers need at least %d dimensions", k, k))
	}
	out := make([]feature.Descriptor, k)
	for i := range out {
		c := make(feature.Descriptor, dim)
		c[i] = scale
		out[i] = c
	}
	return out
}

// Near returns a point around center with uniform noise in [-spread, spread).
func (r *RNG) Near(center feature.Descriptor, spread float32) feature.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := make(feature.Descriptor, len(center))
	for j := range d {
		d[j] = center[j] + (r.rand.Float32()*2-1)*spread
	}
	return d
}

// ClusteredFeatures returns perCenter single-orientation features around
// every center, cycling through the centers.
func (r *RNG) ClusteredFeatures(centers []feature.Descriptor, perCenter int, spread float32) []feature.Feature {
	out := make([]feature.Feature, 0, perCenter*len(centers))
	for i := range perCenter {
		for c, center := range centers {
			out = append(out, feature.Feature{
				X:            float32(i),
				Y:            float32(c),
				Angles:       []float32{0},
				Orientations: []feature.Descriptor{r.Near(center, spread)},
			})
		}
	}
	return out
}

// FeaturesAround returns n features around center, each with between 1
// and maxOrientations orientations.
func (r *RNG) FeaturesAround(center feature.Descriptor, n, maxOrientations int, spread float32) []feature.Feature {
	out := make([]feature.Feature, n)
	for i := range out {
		k := 1 + r.Intn(maxOrientations)
		f := feature.Feature{X: float32(i), Angles: make([]float32, k), Orientations: make([]feature.Descriptor, k)}
		for o := range k {
			f.Angles[o] = float32(o) * 90
			f.Orientations[o] = r.Near(center, spread)
		}
		out[i] = f
	}
	return out
}

// MemorySource serves features from memory. Paths without features fail
// with os.ErrNotExist.
type MemorySource struct {
	mu     sync.Mutex
	videos map[string][]feature.Feature
	errs   map[string]error
	calls  map[string]int
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		videos: make(map[string][]feature.Feature),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

// Add registers the features of path.
func (s *MemorySource) Add(path string, features []feature.Feature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videos[path] = features
}

// Fail makes Features return err for path.
func (s *MemorySource) Fail(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[path] = err
}

// Calls returns how often path was requested.
func (s *MemorySource) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// Features implements feature.Source. It returns deep copies.
func (s *MemorySource) Features(ctx context.Context, path string) ([]feature.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[path]++
	if err := s.errs[path]; err != nil {
		return nil, err
	}
	features, ok := s.videos[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, os.ErrNotExist)
	}
	out := make([]feature.Feature, len(features))
	for i, f := range features {
		out[i] = f.Clone()
	}
	return out, nil
}

// WriteDump atomically writes features to a descriptor dump file at path.
func WriteDump(path string, dim int, features []feature.Feature) error {
	return persistence.SaveToFile(path, func(w io.Writer) error {
		dw, err := feature.NewDumpWriter(w, dim)
		if err != nil {
			return err
		}
		for _, ft := range features {
			if err := dw.Write(ft); err != nil {
				return err
			}
		}
		return dw.Flush()
	})
}
