package match

import (
	"fmt"
	"math"
	"sort"

	"github.com/hupe1980/vash/encoder"
)

// histogram is a sparse word histogram. Words are ascending and unique.
type histogram struct {
	words  []uint32
	counts []uint32
	total  uint64
}

func newHistogram(words []encoder.Word, size int) (histogram, error) {
	if len(words) == 0 {
		return histogram{}, nil
	}
	counts := make(map[uint32]uint32, len(words))
	for _, w := range words {
		if int64(w) >= int64(size) {
			return histogram{}, fmt.Errorf("%w: word %d outside vocabulary of %d", ErrInvalidEncoding, w, size)
		}
		counts[w]++
	}

	h := histogram{
		words:  make([]uint32, 0, len(counts)),
		counts: make([]uint32, 0, len(counts)),
		total:  uint64(len(words)),
	}
	for w := range counts {
		h.words = append(h.words, w)
	}
	sort.Slice(h.words, func(i, j int) bool { return h.words[i] < h.words[j] })
	for _, w := range h.words {
		h.counts = append(h.counts, counts[w])
	}
	return h, nil
}

func (h histogram) empty() bool { return h.total == 0 }

// weights returns the bin weights and their L2 norm.
func (h histogram) weights(idf []float64) ([]float64, float64) {
	w := make([]float64, len(h.words))
	var sum float64
	for i, c := range h.counts {
		v := float64(c)
		if idf != nil {
			v *= idf[h.words[i]]
		}
		w[i] = v
		sum += v * v
	}
	return w, math.Sqrt(sum)
}

// cosine is the cosine similarity of two weighted sparse histograms.
func cosine(a histogram, wa []float64, na float64, b histogram, wb []float64, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	i, j := 0, 0
	for i < len(a.words) && j < len(b.words) {
		switch {
		case a.words[i] < b.words[j]:
			i++
		case a.words[i] > b.words[j]:
			j++
		default:
			dot += wa[i] * wb[j]
			i++
			j++
		}
	}
	return clamp(dot / (na * nb))
}

// intersection sums min(a_i/|a|, b_i/|b|) over shared words.
func intersection(a, b histogram) float64 {
	if a.empty() || b.empty() {
		return 0
	}
	ta, tb := float64(a.total), float64(b.total)
	var sum float64
	i, j := 0, 0
	for i < len(a.words) && j < len(b.words) {
		switch {
		case a.words[i] < b.words[j]:
			i++
		case a.words[i] > b.words[j]:
			j++
		default:
			sum += math.Min(float64(a.counts[i])/ta, float64(b.counts[j])/tb)
			i++
			j++
		}
	}
	return clamp(sum)
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

func (h histogram) equal(o histogram) bool {
	if h.total != o.total || len(h.words) != len(o.words) {
		return false
	}
	for i := range h.words {
		if h.words[i] != o.words[i] || h.counts[i] != o.counts[i] {
			return false
		}
	}
	return true
}
