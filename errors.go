package vash

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/hupe1980/vash/blobstore"
	"github.com/hupe1980/vash/encoder"
	"github.com/hupe1980/vash/manifest"
	"github.com/hupe1980/vash/match"
	"github.com/hupe1980/vash/persistence"
	"github.com/hupe1980/vash/resource"
	"github.com/hupe1980/vash/vocabulary"
)

var (
	// ErrInvalidConfiguration is returned for unusable parameters, including a
	// vocabulary larger than the number of distinct training descriptors.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInsufficientFeatures is returned when a query video yields no descriptors.
	ErrInsufficientFeatures = match.ErrInsufficientFeatures

	// ErrCorrupt is returned when persisted data cannot be decoded or fails
	// its checksum.
	ErrCorrupt = errors.New("corrupt index data")

	// ErrNoSnapshot is returned by queries before any training run was committed.
	ErrNoSnapshot = errors.New("no committed snapshot")

	// ErrBusy is returned when a pipeline is started while another one runs.
	ErrBusy = errors.New("index busy")

	// ErrResourceExhausted is returned when the descriptor pool exceeds the
	// memory limit.
	ErrResourceExhausted = errors.New("resource exhausted")
)

// ExtractionError reports a video whose features could not be obtained.
// Training skips such videos; a query returns the error.
type ExtractionError struct {
	Identity encoder.VideoIdentity
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Identity, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IOError reports a failed blob store operation.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsIOError reports whether err was caused by storage IO.
func IsIOError(err error) bool {
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return true
	}
	var pathErr *fs.PathError
	return errors.As(err, &pathErr)
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var extErr *ExtractionError
	if errors.As(err, &extErr) {
		return err
	}

	switch {
	case errors.Is(err, ErrInvalidConfiguration),
		errors.Is(err, ErrCorrupt),
		errors.Is(err, ErrNoSnapshot),
		errors.Is(err, ErrResourceExhausted):
		return err
	case errors.Is(err, vocabulary.ErrInvalidConfiguration),
		errors.Is(err, vocabulary.ErrDimensionMismatch),
		errors.Is(err, match.ErrInvalidMetric):
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	case errors.Is(err, persistence.ErrCorrupt),
		errors.Is(err, blobstore.ErrCorrupt),
		errors.Is(err, manifest.ErrIncompatibleVersion),
		errors.Is(err, match.ErrInvalidEncoding):
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	case errors.Is(err, manifest.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNoSnapshot, err)
	case errors.Is(err, resource.ErrMemoryLimitExceeded):
		return fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	}
	return err
}
