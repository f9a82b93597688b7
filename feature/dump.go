package feature

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/hupe1980/vash/resource"
)

// DumpMagic identifies descriptor dump files (ASCII "VDF1").
const DumpMagic = 0x31464456

// MaxDumpDimension bounds the descriptor dimension a dump header may declare.
const MaxDumpDimension = 1 << 16

// ErrInvalidDump is returned for malformed descriptor dump files.
var ErrInvalidDump = errors.New("invalid descriptor dump")

// DumpWriter writes features in the descriptor dump format:
//
//	[magic uint32][dimension uint32]
//	per feature: [x float32][y float32][n uint8][n angles float32][n*dimension float32]
//
// All values are little-endian.
type DumpWriter struct {
	w   *bufio.Writer
	dim int
	buf []byte
}

// NewDumpWriter writes the header and returns a writer for dim-length descriptors.
func NewDumpWriter(w io.Writer, dim int) (*DumpWriter, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrDimensionMismatch, dim)
	}
	bw := bufio.NewWriter(w)
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:], DumpMagic)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(dim))
	if _, err := bw.Write(hdr[:]); err != nil {
		return nil, err
	}
	return &DumpWriter{w: bw, dim: dim, buf: make([]byte, 4*dim)}, nil
}

// Write appends one feature.
func (dw *DumpWriter) Write(f Feature) error {
	if len(f.Orientations) > math.MaxUint8 {
		return fmt.Errorf("%w: %d", ErrTooManyOrientations, len(f.Orientations))
	}
	var head [9]byte
	binary.LittleEndian.PutUint32(head[0:], math.Float32bits(f.X))
	binary.LittleEndian.PutUint32(head[4:], math.Float32bits(f.Y))
	head[8] = byte(len(f.Orientations))
	if _, err := dw.w.Write(head[:]); err != nil {
		return err
	}

	var angle [4]byte
	for i := range f.Orientations {
		var a float32
		if i < len(f.Angles) {
			a = f.Angles[i]
		}
		binary.LittleEndian.PutUint32(angle[:], math.Float32bits(a))
		if _, err := dw.w.Write(angle[:]); err != nil {
			return err
		}
	}

	for _, d := range f.Orientations {
		if len(d) != dw.dim {
			return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dw.dim, len(d))
		}
		for j, v := range d {
			binary.LittleEndian.PutUint32(dw.buf[j*4:], math.Float32bits(v))
		}
		if _, err := dw.w.Write(dw.buf); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes buffered data to the underlying writer.
func (dw *DumpWriter) Flush() error {
	return dw.w.Flush()
}

// ReadDump reads every feature of a descriptor dump.
func ReadDump(r io.Reader) (dim int, features []Feature, err error) {
	br := bufio.NewReader(r)
	if dim, err = readDumpHeader(br); err != nil {
		return 0, nil, err
	}
	if features, err = readDumpFeatures(br, dim); err != nil {
		return 0, nil, err
	}
	return dim, features, nil
}

func readDumpHeader(r io.Reader) (int, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, fmt.Errorf("%w: header: %w", ErrInvalidDump, err)
	}
	if magic := binary.LittleEndian.Uint32(hdr[0:]); magic != DumpMagic {
		return 0, fmt.Errorf("%w: magic 0x%08x", ErrInvalidDump, magic)
	}
	dim := binary.LittleEndian.Uint32(hdr[4:])
	if dim == 0 || dim > MaxDumpDimension {
		return 0, fmt.Errorf("%w: dimension %d", ErrInvalidDump, dim)
	}
	return int(dim), nil
}

func readDumpFeatures(r io.Reader, dim int) ([]Feature, error) {
	var features []Feature
	buf := make([]byte, 4*dim)
	for {
		var head [9]byte
		if _, err := io.ReadFull(r, head[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return features, nil
			}
			return nil, fmt.Errorf("%w: truncated feature: %w", ErrInvalidDump, err)
		}

		n := int(head[8])
		f := Feature{
			X:            math.Float32frombits(binary.LittleEndian.Uint32(head[0:])),
			Y:            math.Float32frombits(binary.LittleEndian.Uint32(head[4:])),
			Angles:       make([]float32, n),
			Orientations: make([]Descriptor, n),
		}
		for i := 0; i < n; i++ {
			if _, err := io.ReadFull(r, buf[:4]); err != nil {
				return nil, fmt.Errorf("%w: truncated angles: %w", ErrInvalidDump, err)
			}
			f.Angles[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:4]))
		}
		for i := 0; i < n; i++ {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("%w: truncated descriptor: %w", ErrInvalidDump, err)
			}
			d := make(Descriptor, dim)
			for j := range d {
				d[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*4:]))
			}
			f.Orientations[i] = d
		}
		features = append(features, f)
	}
}

// FileSource reads precomputed descriptor dumps from the local file system.
// A header whose dimension differs from Limits.Dimension is rejected before
// any descriptor is read.
type FileSource struct {
	Limits Limits

	// IO, when set, throttles dump reads.
	IO *resource.Controller
}

// NewFileSource creates a FileSource with the given limits.
func NewFileSource(limits Limits) *FileSource {
	return &FileSource{Limits: limits}
}

// Features implements Source.
func (s *FileSource) Features(ctx context.Context, path string) ([]Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if s.IO != nil {
		r = resource.NewRateLimitedReader(ctx, f, s.IO)
	}
	br := bufio.NewReader(r)

	dim, err := readDumpHeader(br)
	if err != nil {
		return nil, err
	}
	if dim != s.Limits.Dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.Limits.Dimension, dim)
	}
	features, err := readDumpFeatures(br, dim)
	if err != nil {
		return nil, err
	}
	return s.Limits.Sanitize(features)
}
