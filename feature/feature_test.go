package feature

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vash/resource"
)

func desc(dim int, v float32) Descriptor {
	d := make(Descriptor, dim)
	for i := range d {
		d[i] = v + float32(i)
	}
	return d
}

type fakeDecoder struct {
	frames []Frame
	err    error
}

func (d *fakeDecoder) Decode(_ context.Context, _ string, fn func(Frame) error) error {
	for _, f := range d.frames {
		if err := fn(f); err != nil {
			return err
		}
	}
	return d.err
}

type scratchExtractor struct {
	dim     int
	scratch Descriptor
}

// Extract reuses one scratch buffer across frames, like a C feature library.
func (e *scratchExtractor) Extract(_ context.Context, frame Frame) ([]Feature, error) {
	if e.scratch == nil {
		e.scratch = make(Descriptor, e.dim)
	}
	for i := range e.scratch {
		e.scratch[i] = float32(frame.Pix[0])
	}
	return []Feature{
		{Orientations: []Descriptor{e.scratch}},
		{}, // keypoint without orientation
	}, nil
}

func TestFramePipeline(t *testing.T) {
	dec := &fakeDecoder{frames: []Frame{
		{Width: 1, Height: 1, Pix: []byte{1}},
		{Width: 1, Height: 1, Pix: []byte{2}},
	}}
	p := &FramePipeline{Decoder: dec, Extractor: &scratchExtractor{dim: 4}, Limits: Limits{Dimension: 4, MaxOrientations: 4}}

	features, err := p.Features(context.Background(), "clip.avi")
	require.NoError(t, err)
	require.Len(t, features, 2)
	assert.Equal(t, Descriptor{1, 1, 1, 1}, features[0].Orientations[0])
	assert.Equal(t, Descriptor{2, 2, 2, 2}, features[1].Orientations[0])
	assert.Equal(t, 2, Count(features))
}

func TestFramePipeline_Errors(t *testing.T) {
	ctx := context.Background()

	boom := errors.New("decode failed")
	p := &FramePipeline{Decoder: &fakeDecoder{err: boom}, Extractor: &scratchExtractor{dim: 4}, Limits: Limits{Dimension: 4}}
	_, err := p.Features(ctx, "x")
	assert.ErrorIs(t, err, boom)

	p = &FramePipeline{
		Decoder:   &fakeDecoder{frames: []Frame{{Width: 1, Height: 1, Pix: []byte{1}}}},
		Extractor: &scratchExtractor{dim: 3},
		Limits:    Limits{Dimension: 4},
	}
	_, err = p.Features(ctx, "x")
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	p.Decoder = &fakeDecoder{frames: []Frame{{Width: 2, Height: 2, Pix: []byte{1}}}}
	_, err = p.Features(ctx, "x")
	assert.Error(t, err)
}

func TestLimits(t *testing.T) {
	l := Limits{Dimension: 2, MaxOrientations: 2}
	assert.NoError(t, l.Validate(Feature{Orientations: []Descriptor{{1, 2}, {3, 4}}}))
	assert.ErrorIs(t, l.Validate(Feature{Orientations: []Descriptor{{1, 2}, {3, 4}, {5, 6}}}), ErrTooManyOrientations)
	assert.ErrorIs(t, l.Validate(Feature{Orientations: []Descriptor{{1}}}), ErrDimensionMismatch)

	out, err := l.Sanitize([]Feature{{}, {Orientations: []Descriptor{{1, 2}}}, {}})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestLimits_SanitizeLeavesInputIntact(t *testing.T) {
	l := Limits{Dimension: 1, MaxOrientations: 4}
	in := []Feature{{}, {Orientations: []Descriptor{{0}}}, {Orientations: []Descriptor{{10}}}}
	want := []Feature{{}, {Orientations: []Descriptor{{0}}}, {Orientations: []Descriptor{{10}}}}

	for range 2 {
		out, err := l.Sanitize(in)
		require.NoError(t, err)
		assert.Equal(t, want[1:], out)
		assert.Equal(t, want, in)
	}
}

func TestDumpRoundTrip(t *testing.T) {
	in := []Feature{
		{X: 1.5, Y: 2.5, Angles: []float32{0.1, 0.2}, Orientations: []Descriptor{desc(8, 0), desc(8, 100)}},
		{X: 3, Y: 4, Angles: []float32{1}, Orientations: []Descriptor{desc(8, -3)}},
	}

	var buf bytes.Buffer
	w, err := NewDumpWriter(&buf, 8)
	require.NoError(t, err)
	for _, f := range in {
		require.NoError(t, w.Write(f))
	}
	require.NoError(t, w.Flush())

	dim, out, err := ReadDump(&buf)
	require.NoError(t, err)
	assert.Equal(t, 8, dim)
	assert.Equal(t, in, out)
}

func TestReadDump_Invalid(t *testing.T) {
	_, _, err := ReadDump(bytes.NewReader([]byte{1, 2, 3}))
	assert.ErrorIs(t, err, ErrInvalidDump)

	_, _, err = ReadDump(bytes.NewReader([]byte{0, 0, 0, 0, 8, 0, 0, 0}))
	assert.ErrorIs(t, err, ErrInvalidDump)

	for _, dim := range []uint32{0, MaxDumpDimension + 1, math.MaxUint32} {
		data := binary.LittleEndian.AppendUint32(nil, DumpMagic)
		data = binary.LittleEndian.AppendUint32(data, dim)
		data = append(data, make([]byte, 9)...)
		_, _, err = ReadDump(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrInvalidDump, "dimension %d", dim)
	}

	var buf bytes.Buffer
	w, err := NewDumpWriter(&buf, 4)
	require.NoError(t, err)
	require.NoError(t, w.Write(Feature{Orientations: []Descriptor{desc(4, 0)}}))
	require.NoError(t, w.Flush())
	truncated := buf.Bytes()[:buf.Len()-3]
	_, _, err = ReadDump(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, ErrInvalidDump)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "video.vdf")

	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := NewDumpWriter(f, 4)
	require.NoError(t, err)
	require.NoError(t, w.Write(Feature{Orientations: []Descriptor{desc(4, 1)}}))
	require.NoError(t, w.Write(Feature{}))
	require.NoError(t, w.Flush())
	require.NoError(t, f.Close())

	src := NewFileSource(Limits{Dimension: 4, MaxOrientations: 4})
	features, err := src.Features(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, features, 1)

	src = NewFileSource(Limits{Dimension: 128, MaxOrientations: 4})
	_, err = src.Features(context.Background(), path)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	// A header declaring a huge dimension fails before any descriptor is read.
	huge := filepath.Join(dir, "huge.vdf")
	data := binary.LittleEndian.AppendUint32(nil, DumpMagic)
	data = binary.LittleEndian.AppendUint32(data, math.MaxUint32)
	data = append(data, make([]byte, 9)...)
	require.NoError(t, os.WriteFile(huge, data, 0o600))
	_, err = src.Features(context.Background(), huge)
	assert.ErrorIs(t, err, ErrInvalidDump)

	throttled := &FileSource{Limits: Limits{Dimension: 4}, IO: resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 20})}
	features, err = throttled.Features(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, features, 1)

	_, err = src.Features(context.Background(), filepath.Join(dir, "missing.vdf"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
