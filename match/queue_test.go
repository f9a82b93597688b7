package match

import (
	"math/rand"
	"slices"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopK_AgreesWithStableSort(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	for range 50 {
		n := 1 + rng.Intn(40)
		results := make([]Result, n)
		for i := range results {
			// Few distinct scores so ties are common.
			results[i] = Result{Score: float64(rng.Intn(4)) / 4, Ordinal: i}
		}

		sorted := slices.Clone(results)
		sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Score > sorted[b].Score })

		k := 1 + rng.Intn(n)
		assert.Equal(t, sorted[:k], topK(results, k))
	}
}

func TestTopK_Small(t *testing.T) {
	results := []Result{
		{Score: 0.2, Ordinal: 0},
		{Score: 0.9, Ordinal: 1},
		{Score: 0.5, Ordinal: 2},
		{Score: 0.9, Ordinal: 3},
	}
	got := topK(results, 3)
	assert.Equal(t, []int{1, 3, 2}, []int{got[0].Ordinal, got[1].Ordinal, got[2].Ordinal})
}
