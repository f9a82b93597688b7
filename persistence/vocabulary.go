package persistence

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/hupe1980/vash/vocabulary"
)

// WriteVocabulary writes every centroid as dimension float32 values.
func WriteVocabulary(w io.Writer, v *vocabulary.Vocabulary) error {
	bw := bufio.NewWriter(w)
	var buf [floatSize]byte
	for _, f := range v.Flat() {
		byteOrder.PutUint32(buf[:], math.Float32bits(f))
		if _, err := bw.Write(buf[:]); err != nil {
			return fmt.Errorf("write vocabulary: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write vocabulary: %w", err)
	}
	return nil
}

// ReadVocabulary reads a whole vocabulary file of the given dimension.
func ReadVocabulary(r io.Reader, dim int) (*vocabulary.Vocabulary, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return DecodeVocabulary(buf.Bytes(), dim)
}

// DecodeVocabulary decodes a vocabulary payload. The payload size must be a
// non-zero multiple of the record size.
func DecodeVocabulary(data []byte, dim int) (*vocabulary.Vocabulary, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", vocabulary.ErrInvalidConfiguration, dim)
	}
	record := dim * floatSize
	if len(data) == 0 || len(data)%record != 0 {
		return nil, fmt.Errorf("%w: vocabulary size %d is not a multiple of record size %d", ErrCorrupt, len(data), record)
	}

	centroids := make([]float32, len(data)/floatSize)
	for i := range centroids {
		centroids[i] = math.Float32frombits(byteOrder.Uint32(data[i*floatSize:]))
	}
	return vocabulary.New(centroids, dim)
}

// VocabularySize returns the encoded size of v in bytes.
func VocabularySize(v *vocabulary.Vocabulary) int64 {
	return int64(v.Size()) * int64(v.Dimension()) * floatSize
}
