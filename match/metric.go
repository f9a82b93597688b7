package match

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMetric is returned for unknown metric names.
var ErrInvalidMetric = errors.New("invalid match metric")

// Metric selects how two histograms are compared.
type Metric int

const (
	// Cosine compares raw word counts by cosine similarity.
	Cosine Metric = iota
	// Intersection sums the bin-wise minima of the count-normalized histograms.
	Intersection
	// TFIDF is cosine similarity over tf-idf weighted counts.
	TFIDF
)

func (m Metric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case Intersection:
		return "intersection"
	case TFIDF:
		return "tfidf"
	default:
		return fmt.Sprintf("Metric(%d)", int(m))
	}
}

// ParseMetric parses a metric name as written by String.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return Cosine, nil
	case "intersection":
		return Intersection, nil
	case "tfidf", "tf-idf":
		return TFIDF, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMetric, s)
	}
}

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	return m >= Cosine && m <= TFIDF
}
