package kmeans

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vash/distance"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")
	// ErrInvalidDimension is returned when dim is not positive or does not divide the input.
	ErrInvalidDimension = errors.New("invalid dimension")
	// ErrTooFewPoints is returned when k exceeds the number of distinct input points.
	ErrTooFewPoints = errors.New("k exceeds number of distinct points")
)

// DefaultMaxIterations bounds Lloyd's iterations when Config.MaxIterations is zero.
const DefaultMaxIterations = 100

// Shard layout depends only on the point count: 1024-point shards up to
// maxShards of them, then maxShards equal shards.
const (
	minShardPoints = 1024
	maxShards      = 32
)

// Init selects the centroid seeding strategy.
type Init int

const (
	// InitRandom samples k distinct points without replacement.
	InitRandom Init = iota
	// InitKMeansPlusPlus samples distinct points proportional to squared distance.
	InitKMeansPlusPlus
)

func (i Init) String() string {
	switch i {
	case InitRandom:
		return "random"
	case InitKMeansPlusPlus:
		return "kmeans++"
	default:
		return fmt.Sprintf("Unknown(%d)", int(i))
	}
}

// Config controls a training run.
type Config struct {
	K             int
	MaxIterations int
	Seed          int64
	Init          Init
	// Workers bounds concurrent shards in the assignment step. <= 0 means 1.
	Workers int
}

// Result is the outcome of Train.
type Result struct {
	// Centroids holds k*dim values.
	Centroids []float32
	// Assignments maps each input vector to its cluster.
	Assignments []int
	Iterations  int
	Converged   bool
	// Reseeded counts empty clusters that were re-initialized.
	Reseeded int
}

// Train trains k centroids from the given vectors using Lloyd's algorithm.
func Train(ctx context.Context, vectors []float32, dim int, cfg Config) (*Result, error) {
	if cfg.K <= 0 {
		return nil, ErrInvalidK
	}
	if dim <= 0 || len(vectors)%dim != 0 {
		return nil, fmt.Errorf("%w: %d for %d values", ErrInvalidDimension, dim, len(vectors))
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	workers := max(cfg.Workers, 1)

	distinct := Distinct(vectors, dim)
	if cfg.K > len(distinct) {
		return nil, fmt.Errorf("%w: k=%d, distinct=%d", ErrTooFewPoints, cfg.K, len(distinct))
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	var centroids []float32
	switch cfg.Init {
	case InitRandom:
		centroids = seedRandom(rng, vectors, dim, distinct, cfg.K)
	case InitKMeansPlusPlus:
		centroids = seedPlusPlus(rng, vectors, dim, distinct, cfg.K)
	default:
		return nil, fmt.Errorf("unsupported init strategy: %v", cfg.Init)
	}

	n := len(vectors) / dim
	k := cfg.K

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}

	shards := newShards(n, k, dim)
	res := &Result{Centroids: centroids, Assignments: assignments}

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed, err := assign(ctx, vectors, dim, centroids, assignments, shards, workers)
		if err != nil {
			return nil, err
		}
		res.Iterations = iter + 1

		// Recomputing after a stable assignment is a no-op unless the previous
		// round re-seeded a cluster, in which case it refreshes the donor's mean.
		counts := update(centroids, dim, k, shards)
		if !changed {
			res.Converged = true
			break
		}

		res.Reseeded += reseedEmpty(vectors, dim, centroids, assignments, counts)
	}

	return res, nil
}

// Assign returns the index of the centroid closest to vec under squared
// Euclidean distance. Ties resolve to the lowest index.
func Assign(vec []float32, centroids []float32, dim int) int {
	k := len(centroids) / dim
	best := -1
	minDist := float32(math.Inf(1))
	for j := 0; j < k; j++ {
		d := distance.SquaredL2(vec, centroids[j*dim:(j+1)*dim])
		if d < minDist {
			minDist = d
			best = j
		}
	}
	if best < 0 && k > 0 {
		// Every distance was NaN.
		best = 0
	}
	return best
}

// Distinct returns the indices of the first occurrence of every distinct
// vector, in input order. Positive and negative zero compare equal.
func Distinct(vectors []float32, dim int) []int {
	n := len(vectors) / dim
	seen := make(map[string]struct{}, n)
	out := make([]int, 0, n)
	key := make([]byte, dim*4)
	for i := 0; i < n; i++ {
		for d, v := range vectors[i*dim : (i+1)*dim] {
			if v == 0 {
				v = 0
			}
			b := math.Float32bits(v)
			key[d*4] = byte(b)
			key[d*4+1] = byte(b >> 8)
			key[d*4+2] = byte(b >> 16)
			key[d*4+3] = byte(b >> 24)
		}
		if _, ok := seen[string(key)]; ok {
			continue
		}
		seen[string(key)] = struct{}{}
		out = append(out, i)
	}
	return out
}

func seedRandom(rng *rand.Rand, vectors []float32, dim int, distinct []int, k int) []float32 {
	centroids := make([]float32, k*dim)
	perm := rng.Perm(len(distinct))
	for c := 0; c < k; c++ {
		p := distinct[perm[c]]
		copy(centroids[c*dim:(c+1)*dim], vectors[p*dim:(p+1)*dim])
	}
	return centroids
}

func seedPlusPlus(rng *rand.Rand, vectors []float32, dim int, distinct []int, k int) []float32 {
	centroids := make([]float32, k*dim)
	first := distinct[rng.Intn(len(distinct))]
	copy(centroids[0:dim], vectors[first*dim:(first+1)*dim])

	// minDist tracks each distinct point's squared distance to its nearest chosen centroid.
	minDist := make([]float64, len(distinct))
	for i, p := range distinct {
		minDist[i] = float64(distance.SquaredL2(vectors[p*dim:(p+1)*dim], centroids[0:dim]))
	}

	for c := 1; c < k; c++ {
		var sum float64
		for _, d := range minDist {
			sum += d
		}

		chosen := -1
		target := rng.Float64() * sum
		var cum float64
		for i, d := range minDist {
			if d <= 0 {
				continue
			}
			cum += d
			chosen = i
			if cum > target {
				break
			}
		}

		p := distinct[chosen]
		center := centroids[c*dim : (c+1)*dim]
		copy(center, vectors[p*dim:(p+1)*dim])

		for i, q := range distinct {
			d := float64(distance.SquaredL2(vectors[q*dim:(q+1)*dim], center))
			if d < minDist[i] {
				minDist[i] = d
			}
		}
	}
	return centroids
}

// shard is a contiguous range of points with its own partial sums.
type shard struct {
	start, end int
	sums       []float64
	counts     []int
	changed    bool
}

func newShards(n, k, dim int) []*shard {
	num := (n + minShardPoints - 1) / minShardPoints
	num = min(max(num, 1), maxShards)
	size := (n + num - 1) / num

	shards := make([]*shard, 0, num)
	for start := 0; start < n; start += size {
		shards = append(shards, &shard{
			start:  start,
			end:    min(start+size, n),
			sums:   make([]float64, k*dim),
			counts: make([]int, k),
		})
	}
	return shards
}

func assign(ctx context.Context, vectors []float32, dim int, centroids []float32, assignments []int, shards []*shard, workers int) (bool, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, s := range shards {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			clear(s.sums)
			clear(s.counts)
			s.changed = false

			for i := s.start; i < s.end; i++ {
				vec := vectors[i*dim : (i+1)*dim]
				c := Assign(vec, centroids, dim)
				if assignments[i] != c {
					assignments[i] = c
					s.changed = true
				}
				s.counts[c]++
				sum := s.sums[c*dim : (c+1)*dim]
				for d, v := range vec {
					sum[d] += float64(v)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return false, err
	}

	changed := false
	for _, s := range shards {
		changed = changed || s.changed
	}
	return changed, nil
}

// update merges shard partials in shard order and recomputes the centroids.
// Centroids of empty clusters are left untouched.
func update(centroids []float32, dim, k int, shards []*shard) []int {
	counts := make([]int, k)
	sums := make([]float64, k*dim)
	for _, s := range shards {
		for c, n := range s.counts {
			counts[c] += n
		}
		for i, v := range s.sums {
			sums[i] += v
		}
	}

	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			continue
		}
		inv := 1 / float64(counts[c])
		for d := 0; d < dim; d++ {
			centroids[c*dim+d] = float32(sums[c*dim+d] * inv)
		}
	}
	return counts
}

// reseedEmpty moves, for each empty cluster in ascending order, the point
// farthest from its assigned centroid into that cluster. Only points from
// clusters with at least two members are eligible; ties go to the lowest
// point index.
func reseedEmpty(vectors []float32, dim int, centroids []float32, assignments []int, counts []int) int {
	var empty []int
	for c, n := range counts {
		if n == 0 {
			empty = append(empty, c)
		}
	}
	if len(empty) == 0 {
		return 0
	}

	n := len(assignments)
	dists := make([]float32, n)
	for i := 0; i < n; i++ {
		c := assignments[i]
		dists[i] = distance.SquaredL2(vectors[i*dim:(i+1)*dim], centroids[c*dim:(c+1)*dim])
	}

	moved := make([]bool, n)
	reseeded := 0
	for _, e := range empty {
		best := -1
		var bestDist float32
		for i := 0; i < n; i++ {
			if moved[i] || counts[assignments[i]] < 2 {
				continue
			}
			if best < 0 || dists[i] > bestDist {
				best = i
				bestDist = dists[i]
			}
		}
		if best < 0 {
			break
		}

		copy(centroids[e*dim:(e+1)*dim], vectors[best*dim:(best+1)*dim])
		counts[assignments[best]]--
		counts[e] = 1
		assignments[best] = e
		moved[best] = true
		reseeded++
	}
	return reseeded
}
