package feature

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

const (
	// DefaultDimension is the SIFT descriptor length.
	DefaultDimension = 128
	// DefaultMaxOrientations caps orientation descriptors per keypoint.
	DefaultMaxOrientations = 4
)

var (
	// ErrDimensionMismatch is returned when a descriptor has the wrong length.
	ErrDimensionMismatch = errors.New("descriptor dimension mismatch")
	// ErrTooManyOrientations is returned when a keypoint exceeds the orientation cap.
	ErrTooManyOrientations = errors.New("too many orientations")
)

// Descriptor is a fixed-length local appearance vector.
type Descriptor []float32

// Feature is one keypoint with its orientation-specific descriptors.
type Feature struct {
	X, Y   float32
	Angles []float32
	// Orientations holds one descriptor per detected orientation,
	// in the order the extractor produced them.
	Orientations []Descriptor
}

// Clone returns a deep copy of f.
func (f Feature) Clone() Feature {
	out := Feature{X: f.X, Y: f.Y, Angles: slices.Clone(f.Angles)}
	out.Orientations = make([]Descriptor, len(f.Orientations))
	for i, d := range f.Orientations {
		out.Orientations[i] = slices.Clone(d)
	}
	return out
}

// Count returns the total number of descriptors across features.
func Count(features []Feature) int {
	n := 0
	for _, f := range features {
		n += len(f.Orientations)
	}
	return n
}

// Frame is one greyscale video frame, row-major, one byte per pixel.
type Frame struct {
	Width, Height int
	Pix           []byte
}

// Decoder produces the greyscale frames of a video in order.
type Decoder interface {
	Decode(ctx context.Context, path string, fn func(Frame) error) error
}

// Extractor detects keypoints in a frame and computes their descriptors.
type Extractor interface {
	Extract(ctx context.Context, frame Frame) ([]Feature, error)
}

// Source yields all features of a video, in frame then keypoint order.
type Source interface {
	Features(ctx context.Context, path string) ([]Feature, error)
}

// Limits constrain what a Source may return.
type Limits struct {
	Dimension       int
	MaxOrientations int
}

// DefaultLimits returns limits for SIFT descriptors.
func DefaultLimits() Limits {
	return Limits{Dimension: DefaultDimension, MaxOrientations: DefaultMaxOrientations}
}

// Validate checks a single feature against the limits.
func (l Limits) Validate(f Feature) error {
	if l.MaxOrientations > 0 && len(f.Orientations) > l.MaxOrientations {
		return fmt.Errorf("%w: %d > %d", ErrTooManyOrientations, len(f.Orientations), l.MaxOrientations)
	}
	for _, d := range f.Orientations {
		if len(d) != l.Dimension {
			return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, l.Dimension, len(d))
		}
	}
	return nil
}

// Sanitize drops features without orientations and validates the rest. The
// input slice is left untouched.
func (l Limits) Sanitize(features []Feature) ([]Feature, error) {
	out := make([]Feature, 0, len(features))
	for _, f := range features {
		if len(f.Orientations) == 0 {
			continue
		}
		if err := l.Validate(f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// FramePipeline decodes a video and runs the extractor on every frame.
type FramePipeline struct {
	Decoder   Decoder
	Extractor Extractor
	Limits    Limits
}

// Features implements Source.
func (p *FramePipeline) Features(ctx context.Context, path string) ([]Feature, error) {
	var all []Feature
	err := p.Decoder.Decode(ctx, path, func(frame Frame) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(frame.Pix) < frame.Width*frame.Height {
			return fmt.Errorf("frame %dx%d has %d pixels", frame.Width, frame.Height, len(frame.Pix))
		}
		features, err := p.Extractor.Extract(ctx, frame)
		if err != nil {
			return err
		}
		for _, f := range features {
			if len(f.Orientations) == 0 {
				continue
			}
			if err := p.Limits.Validate(f); err != nil {
				return err
			}
			all = append(all, f.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, path string) ([]Feature, error)

// Features implements Source.
func (fn SourceFunc) Features(ctx context.Context, path string) ([]Feature, error) {
	return fn(ctx, path)
}
