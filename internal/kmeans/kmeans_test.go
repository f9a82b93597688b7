package kmeans

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrain(t *testing.T) {
	ctx := context.Background()
	// 2 clusters: (0,0) and (10,10)
	vecs := []float32{
		0, 0, 0, 1, 1, 0, // near 0,0
		10, 10, 10, 11, 11, 10, // near 10,10
	}
	dim := 2

	res, err := Train(ctx, vecs, dim, Config{K: 2, MaxIterations: 100})
	require.NoError(t, err)
	assert.Len(t, res.Centroids, 2*dim)
	assert.True(t, res.Converged)

	p1 := Assign([]float32{0.5, 0.5}, res.Centroids, dim)
	p2 := Assign([]float32{10.5, 10.5}, res.Centroids, dim)
	assert.NotEqual(t, p1, p2)
}

func TestTrain_TwoObviousClusters(t *testing.T) {
	vecs := []float32{
		0, 0,
		0.1, 0,
		100, 100,
		100.1, 100,
	}

	for _, init := range []Init{InitRandom, InitKMeansPlusPlus} {
		t.Run(init.String(), func(t *testing.T) {
			res, err := Train(context.Background(), vecs, 2, Config{K: 2, MaxIterations: 10, Seed: 7, Init: init})
			require.NoError(t, err)
			require.True(t, res.Converged)
			assert.LessOrEqual(t, res.Iterations, 10)

			a := res.Assignments
			assert.Equal(t, a[0], a[1])
			assert.Equal(t, a[2], a[3])
			assert.NotEqual(t, a[0], a[2])

			low := res.Centroids[a[0]*2 : a[0]*2+2]
			high := res.Centroids[a[2]*2 : a[2]*2+2]
			assert.InDelta(t, 0.05, low[0], 1e-6)
			assert.InDelta(t, 0, low[1], 1e-6)
			assert.InDelta(t, 100.05, high[0], 1e-4)
			assert.InDelta(t, 100, high[1], 1e-6)
		})
	}
}

func TestTrain_TooFewDistinctPoints(t *testing.T) {
	ctx := context.Background()
	vecs := []float32{1, 1, 1, 1, 2, 2}

	_, err := Train(ctx, vecs, 2, Config{K: 3})
	assert.ErrorIs(t, err, ErrTooFewPoints)

	res, err := Train(ctx, vecs, 2, Config{K: 2})
	require.NoError(t, err)
	assert.Len(t, res.Centroids, 4)
}

func TestTrain_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	_, err := Train(ctx, []float32{0, 0}, 2, Config{K: 0})
	assert.ErrorIs(t, err, ErrInvalidK)

	_, err = Train(ctx, []float32{0, 0, 0}, 2, Config{K: 1})
	assert.ErrorIs(t, err, ErrInvalidDimension)

	_, err = Train(ctx, []float32{0, 0}, 2, Config{K: 1, Init: Init(42)})
	assert.Error(t, err)
}

func TestTrain_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	vecs := make([]float32, 1000*2)
	for i := range vecs {
		vecs[i] = float32(i)
	}

	_, err := Train(ctx, vecs, 2, Config{K: 10, MaxIterations: 1000})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrain_DeterministicAcrossWorkers(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const n, dim = 5000, 8
	vecs := make([]float32, n*dim)
	for i := range vecs {
		vecs[i] = rng.Float32() * 10
	}

	for _, init := range []Init{InitRandom, InitKMeansPlusPlus} {
		cfg := Config{K: 16, MaxIterations: 25, Seed: 11, Init: init, Workers: 1}
		seq, err := Train(context.Background(), vecs, dim, cfg)
		require.NoError(t, err)

		again, err := Train(context.Background(), vecs, dim, cfg)
		require.NoError(t, err)
		assert.Equal(t, seq.Centroids, again.Centroids)

		cfg.Workers = 8
		par, err := Train(context.Background(), vecs, dim, cfg)
		require.NoError(t, err)
		assert.Equal(t, seq.Centroids, par.Centroids)
		assert.Equal(t, seq.Assignments, par.Assignments)
		assert.Equal(t, seq.Iterations, par.Iterations)
	}
}

func TestTrain_CentroidsAreMeans(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	const n, dim, k = 300, 4, 5
	vecs := make([]float32, n*dim)
	for i := range vecs {
		vecs[i] = rng.Float32()
	}

	res, err := Train(context.Background(), vecs, dim, Config{K: k, MaxIterations: 200, Seed: 2})
	require.NoError(t, err)
	require.True(t, res.Converged)

	for c := 0; c < k; c++ {
		var count int
		sum := make([]float64, dim)
		for i, a := range res.Assignments {
			if a != c {
				continue
			}
			count++
			for d := 0; d < dim; d++ {
				sum[d] += float64(vecs[i*dim+d])
			}
		}
		require.Positive(t, count)
		for d := 0; d < dim; d++ {
			assert.InDelta(t, sum[d]/float64(count), res.Centroids[c*dim+d], 1e-5)
		}
	}
}

func TestAssign_TieBreaksToLowestIndex(t *testing.T) {
	centroids := []float32{
		1, 0, // 0
		-1, 0, // 1
		0, 1, // 2
	}
	// Equidistant to centroid 0 and 1.
	assert.Equal(t, 0, Assign([]float32{0, 0}, centroids, 2))
	// Equidistant to 1 and 2 only.
	assert.Equal(t, 1, Assign([]float32{-1, 1}, centroids, 2))
	// Duplicate centroids resolve to the first.
	assert.Equal(t, 0, Assign([]float32{5, 5}, []float32{3, 3, 3, 3}, 2))
}

func TestDistinct(t *testing.T) {
	vecs := []float32{
		1, 2,
		3, 4,
		1, 2,
		0, 0,
		-0.0, 0,
	}
	// -0.0 is a constant expression folded to +0; build a real negative zero.
	negZero := float32(0)
	negZero = -negZero
	vecs[8] = negZero

	assert.Equal(t, []int{0, 1, 3}, Distinct(vecs, 2))
}

func TestReseedEmpty(t *testing.T) {
	vecs := []float32{
		0, 0,
		1, 0,
		9, 0,
		50, 50,
	}
	centroids := []float32{
		1, 0, // cluster 0 holds points 0..2
		50, 50, // cluster 1 holds point 3
		-7, -7, // cluster 2 is empty
	}
	assignments := []int{0, 0, 0, 1}
	counts := []int{3, 1, 0}

	n := reseedEmpty(vecs, 2, centroids, assignments, counts)
	assert.Equal(t, 1, n)
	// Point 2 is farthest from its centroid within a multi-member cluster.
	assert.Equal(t, []float32{9, 0}, centroids[4:6])
	assert.Equal(t, []int{0, 0, 2, 1}, assignments)
	assert.Equal(t, []int{2, 1, 1}, counts)
}

func TestReseedEmpty_TieGoesToLowestPoint(t *testing.T) {
	vecs := []float32{
		-1, 0,
		1, 0,
	}
	centroids := []float32{0, 0, 100, 100}
	assignments := []int{0, 0}
	counts := []int{2, 0}

	reseedEmpty(vecs, 2, centroids, assignments, counts)
	assert.Equal(t, []float32{-1, 0}, centroids[2:4])
	assert.Equal(t, []int{1, 0}, assignments)
}
