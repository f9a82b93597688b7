package match

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/vash/encoder"
)

var (
	// ErrInsufficientFeatures is returned for a query encoding without words.
	ErrInsufficientFeatures = errors.New("query has no visual words")
	// ErrInvalidEncoding is returned for encodings with words outside the vocabulary.
	ErrInvalidEncoding = errors.New("invalid encoding")
)

// Result is one ranked database record.
type Result struct {
	Identity encoder.VideoIdentity `json:"identity" yaml:"identity"`
	Score    float64               `json:"score" yaml:"score"`
	// Ordinal is the record's position in the database.
	Ordinal int `json:"ordinal" yaml:"ordinal"`
}

type options struct {
	metric Metric
	topK   int
}

// Option configures a Matcher.
type Option func(*options)

// WithMetric sets the scoring metric. The default is Cosine.
func WithMetric(m Metric) Option {
	return func(o *options) { o.metric = m }
}

// WithTopK truncates rankings to the k best results. Zero keeps all.
func WithTopK(k int) Option {
	return func(o *options) { o.topK = k }
}

// Matcher ranks a fixed database. It is safe for concurrent use.
type Matcher struct {
	opts      options
	vocabSize int
	records   []encoder.VideoIdentity
	hists     []histogram
	postings  []*roaring.Bitmap
	idf       []float64

	// weighted record histograms for cosine metrics
	weights [][]float64
	norms   []float64
}

// NewMatcher indexes db for a vocabulary of vocabSize words.
func NewMatcher(db encoder.Database, vocabSize int, optFns ...Option) (*Matcher, error) {
	opts := options{metric: Cosine}
	for _, fn := range optFns {
		fn(&opts)
	}
	if !opts.metric.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetric, opts.metric)
	}
	if opts.topK < 0 {
		return nil, fmt.Errorf("match: top-k must not be negative: %d", opts.topK)
	}
	if vocabSize <= 0 {
		return nil, fmt.Errorf("match: vocabulary size must be positive: %d", vocabSize)
	}
	if uint64(len(db)) > math.MaxUint32 {
		return nil, fmt.Errorf("match: database too large: %d records", len(db))
	}

	m := &Matcher{
		opts:      opts,
		vocabSize: vocabSize,
		records:   make([]encoder.VideoIdentity, len(db)),
		hists:     make([]histogram, len(db)),
		postings:  make([]*roaring.Bitmap, vocabSize),
	}
	for i, enc := range db {
		h, err := newHistogram(enc.Words, vocabSize)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", enc.Identity, err)
		}
		m.records[i] = enc.Identity
		m.hists[i] = h
		for _, w := range h.words {
			if m.postings[w] == nil {
				m.postings[w] = roaring.New()
			}
			m.postings[w].Add(uint32(i))
		}
	}
	for _, p := range m.postings {
		if p != nil {
			p.RunOptimize()
		}
	}

	if opts.metric == TFIDF {
		m.idf = make([]float64, vocabSize)
		n := float64(len(db))
		for w := range m.idf {
			m.idf[w] = math.Log((1+n)/(1+float64(m.DocumentFrequency(uint32(w))))) + 1
		}
	}
	if opts.metric != Intersection {
		m.weights = make([][]float64, len(db))
		m.norms = make([]float64, len(db))
		for i, h := range m.hists {
			m.weights[i], m.norms[i] = h.weights(m.idf)
		}
	}
	return m, nil
}

// Metric returns the scoring metric.
func (m *Matcher) Metric() Metric { return m.opts.metric }

// Len returns the number of indexed records.
func (m *Matcher) Len() int { return len(m.records) }

// VocabularySize returns the number of words the matcher accepts.
func (m *Matcher) VocabularySize() int { return m.vocabSize }

// DocumentFrequency returns the number of records containing word.
func (m *Matcher) DocumentFrequency(word encoder.Word) uint64 {
	if int64(word) >= int64(len(m.postings)) || m.postings[word] == nil {
		return 0
	}
	return m.postings[word].GetCardinality()
}

// Candidates returns the ordinals of records sharing a word with query.
func (m *Matcher) Candidates(query encoder.VideoEncoding) (*roaring.Bitmap, error) {
	h, err := newHistogram(query.Words, m.vocabSize)
	if err != nil {
		return nil, err
	}
	return m.candidates(h), nil
}

func (m *Matcher) candidates(h histogram) *roaring.Bitmap {
	lists := make([]*roaring.Bitmap, 0, len(h.words))
	for _, w := range h.words {
		if p := m.postings[w]; p != nil {
			lists = append(lists, p)
		}
	}
	if len(lists) == 0 {
		return roaring.New()
	}
	return roaring.FastOr(lists...)
}

// Match scores every record against query and returns them best first.
// An empty database yields an empty ranking.
func (m *Matcher) Match(ctx context.Context, query encoder.VideoEncoding) ([]Result, error) {
	if len(query.Words) == 0 {
		return nil, ErrInsufficientFeatures
	}
	q, err := newHistogram(query.Words, m.vocabSize)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", query.Identity, err)
	}

	var qw []float64
	var qn float64
	if m.opts.metric != Intersection {
		qw, qn = q.weights(m.idf)
	}

	results := make([]Result, len(m.records))
	for i, id := range m.records {
		results[i] = Result{Identity: id, Ordinal: i}
	}

	it := m.candidates(q).Iterator()
	for n := 0; it.HasNext(); n++ {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		i := int(it.Next())
		results[i].Score = m.score(q, qw, qn, i)
	}

	if k := m.opts.topK; k > 0 && k < len(results) {
		return topK(results, k), nil
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	return results, nil
}

func (m *Matcher) score(q histogram, qw []float64, qn float64, i int) float64 {
	h := m.hists[i]
	if q.equal(h) {
		return 1
	}
	if m.opts.metric == Intersection {
		return intersection(q, h)
	}
	return cosine(q, qw, qn, h, m.weights[i], m.norms[i])
}

// Rank builds a one-off Matcher for db and matches query against it.
func Rank(ctx context.Context, db encoder.Database, vocabSize int, query encoder.VideoEncoding, optFns ...Option) ([]Result, error) {
	if len(query.Words) == 0 {
		return nil, ErrInsufficientFeatures
	}
	m, err := NewMatcher(db, vocabSize, optFns...)
	if err != nil {
		return nil, err
	}
	return m.Match(ctx, query)
}
