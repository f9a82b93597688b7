// Package vocabulary builds the visual-word vocabulary and quantizes
// descriptors against it.
package vocabulary

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/hupe1980/vash/feature"
	"github.com/hupe1980/vash/internal/kmeans"
)

var (
	// ErrInvalidConfiguration is returned for unusable training parameters,
	// including a vocabulary larger than the number of distinct descriptors.
	ErrInvalidConfiguration = errors.New("invalid vocabulary configuration")
	// ErrDimensionMismatch is returned when a descriptor does not match the vocabulary.
	ErrDimensionMismatch = errors.New("descriptor dimension mismatch")
)

// Init selects how the initial centroids are drawn from the pool.
type Init = kmeans.Init

const (
	// InitRandom picks distinct pool points uniformly.
	InitRandom = kmeans.InitRandom
	// InitKMeansPlusPlus picks distinct pool points weighted by squared
	// distance to the centroids chosen so far.
	InitKMeansPlusPlus = kmeans.InitKMeansPlusPlus
)

// ParseInit maps a configuration string to an Init strategy.
func ParseInit(s string) (Init, error) {
	switch s {
	case "", "random":
		return InitRandom, nil
	case "kmeans++", "kmeanspp":
		return InitKMeansPlusPlus, nil
	default:
		return 0, fmt.Errorf("%w: unknown init strategy %q", ErrInvalidConfiguration, s)
	}
}

// Config holds the training parameters.
type Config struct {
	// Size is the number of visual words (K_total).
	Size          int
	Dimension     int
	MaxIterations int
	Seed          int64
	Init          Init
	Workers       int
}

// DefaultConfig returns the defaults for SIFT descriptors.
func DefaultConfig() Config {
	return Config{
		Size:          1000,
		Dimension:     feature.DefaultDimension,
		MaxIterations: kmeans.DefaultMaxIterations,
		Seed:          1,
		Init:          InitRandom,
		Workers:       1,
	}
}

// Vocabulary is an immutable, ordered list of centroids. The position of a
// centroid is its visual word.
type Vocabulary struct {
	dim       int
	centroids []float32
}

// New wraps flattened centroids (size * dim values). The slice is copied.
func New(centroids []float32, dim int) (*Vocabulary, error) {
	if dim <= 0 || len(centroids) == 0 || len(centroids)%dim != 0 {
		return nil, fmt.Errorf("%w: %d values for dimension %d", ErrInvalidConfiguration, len(centroids), dim)
	}
	return &Vocabulary{dim: dim, centroids: slices.Clone(centroids)}, nil
}

// Size returns the number of visual words.
func (v *Vocabulary) Size() int { return len(v.centroids) / v.dim }

// Dimension returns the descriptor length.
func (v *Vocabulary) Dimension() int { return v.dim }

// Centroid returns a copy of centroid i.
func (v *Vocabulary) Centroid(i int) feature.Descriptor {
	return slices.Clone(feature.Descriptor(v.centroids[i*v.dim : (i+1)*v.dim]))
}

// Flat returns the flattened centroids. Callers must not modify the result.
func (v *Vocabulary) Flat() []float32 { return v.centroids }

// Quantize returns the visual word nearest to d under squared Euclidean
// distance, lowest index on ties. d must have the vocabulary's dimension.
func (v *Vocabulary) Quantize(d feature.Descriptor) int {
	return kmeans.Assign(d, v.centroids, v.dim)
}

// QuantizeChecked is Quantize with a dimension check.
func (v *Vocabulary) QuantizeChecked(d feature.Descriptor) (int, error) {
	if len(d) != v.dim {
		return -1, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, v.dim, len(d))
	}
	return v.Quantize(d), nil
}

// Equal reports whether both vocabularies hold bit-identical centroids.
func (v *Vocabulary) Equal(other *Vocabulary) bool {
	if v.dim != other.dim || len(v.centroids) != len(other.centroids) {
		return false
	}
	for i, c := range v.centroids {
		if math.Float32bits(c) != math.Float32bits(other.centroids[i]) {
			return false
		}
	}
	return true
}

// Result describes a finished training run.
type Result struct {
	Vocabulary  *Vocabulary
	Points      int
	Iterations  int
	Converged   bool
	Reseeded    int
	Assignments []int
}

// Trainer clusters a descriptor pool into a vocabulary.
type Trainer struct {
	cfg Config
}

// NewTrainer validates cfg and returns a Trainer.
func NewTrainer(cfg Config) (*Trainer, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfiguration, cfg.Size)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfiguration, cfg.Dimension)
	}
	if cfg.MaxIterations < 0 {
		return nil, fmt.Errorf("%w: negative max iterations", ErrInvalidConfiguration)
	}
	return &Trainer{cfg: cfg}, nil
}

// Config returns the trainer configuration.
func (t *Trainer) Config() Config { return t.cfg }

// Train runs Lloyd's algorithm over the pool and returns exactly cfg.Size centroids.
func (t *Trainer) Train(ctx context.Context, pool []feature.Descriptor) (*Result, error) {
	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: empty descriptor pool", ErrInvalidConfiguration)
	}
	dim := t.cfg.Dimension
	flat := make([]float32, 0, len(pool)*dim)
	for i, d := range pool {
		if len(d) != dim {
			return nil, fmt.Errorf("%w: descriptor %d has %d values, expected %d", ErrDimensionMismatch, i, len(d), dim)
		}
		flat = append(flat, d...)
	}
	return t.TrainFlat(ctx, flat)
}

// TrainFlat is Train over a flattened pool (n * dimension values).
func (t *Trainer) TrainFlat(ctx context.Context, flat []float32) (*Result, error) {
	res, err := kmeans.Train(ctx, flat, t.cfg.Dimension, kmeans.Config{
		K:             t.cfg.Size,
		MaxIterations: t.cfg.MaxIterations,
		Seed:          t.cfg.Seed,
		Init:          t.cfg.Init,
		Workers:       t.cfg.Workers,
	})
	if err != nil {
		if errors.Is(err, kmeans.ErrTooFewPoints) || errors.Is(err, kmeans.ErrInvalidK) || errors.Is(err, kmeans.ErrInvalidDimension) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		}
		return nil, err
	}

	return &Result{
		Vocabulary:  &Vocabulary{dim: t.cfg.Dimension, centroids: res.Centroids},
		Points:      len(flat) / t.cfg.Dimension,
		Iterations:  res.Iterations,
		Converged:   res.Converged,
		Reseeded:    res.Reseeded,
		Assignments: res.Assignments,
	}, nil
}
