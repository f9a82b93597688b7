// Package encoder turns a video's features into a sequence of visual words.
package encoder

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vash/feature"
	"github.com/hupe1980/vash/vocabulary"
)

// MaxNameLen is the longest video name that fits the fixed identity block.
const MaxNameLen = 127

// ErrNameTooLong is returned for video names longer than MaxNameLen bytes.
var ErrNameTooLong = errors.New("video name too long")

// Word is an index into the vocabulary.
type Word = uint32

// VideoIdentity names one indexed video: its source and its position in the
// training input list.
type VideoIdentity struct {
	Name string `json:"name" yaml:"name"`
	Seq  uint32 `json:"seq" yaml:"seq"`
}

// NewVideoIdentity validates the name length.
func NewVideoIdentity(name string, seq uint32) (VideoIdentity, error) {
	if len(name) > MaxNameLen {
		return VideoIdentity{}, fmt.Errorf("%w: %d bytes, max %d", ErrNameTooLong, len(name), MaxNameLen)
	}
	return VideoIdentity{Name: name, Seq: seq}, nil
}

func (id VideoIdentity) String() string {
	return fmt.Sprintf("%s#%d", id.Name, id.Seq)
}

// VideoEncoding is a video's visual words in frame, keypoint, orientation order.
type VideoEncoding struct {
	Identity VideoIdentity
	Words    []Word
}

// Histogram counts occurrences of each word in [0, size). Words outside the
// range are ignored.
func (e VideoEncoding) Histogram(size int) []uint32 {
	h := make([]uint32, size)
	for _, w := range e.Words {
		if int(w) < size {
			h[w]++
		}
	}
	return h
}

// Database is the ordered collection of encoded videos.
type Database []VideoEncoding

// Video pairs an identity with its extracted features.
type Video struct {
	Identity VideoIdentity
	Features []feature.Feature
}

// Encoder quantizes features against a fixed vocabulary. The same Encoder is
// used for training videos and query videos.
type Encoder struct {
	vocab   *vocabulary.Vocabulary
	workers int
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithWorkers bounds the videos encoded concurrently by EncodeAll.
func WithWorkers(n int) Option {
	return func(e *Encoder) {
		e.workers = n
	}
}

// New creates an Encoder for vocab.
func New(vocab *vocabulary.Vocabulary, optFns ...Option) *Encoder {
	e := &Encoder{vocab: vocab, workers: 1}
	for _, fn := range optFns {
		fn(e)
	}
	if e.workers <= 0 {
		e.workers = 1
	}
	return e
}

// Vocabulary returns the encoder's vocabulary.
func (e *Encoder) Vocabulary() *vocabulary.Vocabulary { return e.vocab }

// Encode quantizes every orientation descriptor of every feature, in order.
// Features without orientations contribute nothing.
func (e *Encoder) Encode(id VideoIdentity, features []feature.Feature) (VideoEncoding, error) {
	words := make([]Word, 0, feature.Count(features))
	for _, f := range features {
		for _, d := range f.Orientations {
			w, err := e.vocab.QuantizeChecked(d)
			if err != nil {
				return VideoEncoding{}, fmt.Errorf("encode %s: %w", id, err)
			}
			words = append(words, Word(w))
		}
	}
	return VideoEncoding{Identity: id, Words: words}, nil
}

// EncodeAll encodes videos concurrently. The result preserves input order.
func (e *Encoder) EncodeAll(ctx context.Context, videos []Video) (Database, error) {
	out := make(Database, len(videos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, v := range videos {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			enc, err := e.Encode(v.Identity, v.Features)
			if err != nil {
				return err
			}
			out[i] = enc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
