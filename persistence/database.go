package persistence

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/vash/encoder"
)

// DatabaseWriter appends video records to a database file.
type DatabaseWriter struct {
	w   *bufio.Writer
	hdr [RecordHeaderSize]byte
	n   int
}

// NewDatabaseWriter creates a writer. Call Flush when done.
func NewDatabaseWriter(w io.Writer) *DatabaseWriter {
	return &DatabaseWriter{w: bufio.NewWriter(w)}
}

// Write appends one record.
func (dw *DatabaseWriter) Write(e encoder.VideoEncoding) error {
	if err := putIdentity(dw.hdr[:IdentitySize], e.Identity); err != nil {
		return err
	}
	byteOrder.PutUint32(dw.hdr[IdentitySize:], uint32(len(e.Words)))
	if _, err := dw.w.Write(dw.hdr[:]); err != nil {
		return fmt.Errorf("write database record %s: %w", e.Identity, err)
	}

	var buf [wordSize]byte
	for _, word := range e.Words {
		byteOrder.PutUint32(buf[:], word)
		if _, err := dw.w.Write(buf[:]); err != nil {
			return fmt.Errorf("write database record %s: %w", e.Identity, err)
		}
	}
	dw.n++
	return nil
}

// Count returns the number of records written.
func (dw *DatabaseWriter) Count() int { return dw.n }

// Flush writes buffered data to the underlying writer.
func (dw *DatabaseWriter) Flush() error {
	if err := dw.w.Flush(); err != nil {
		return fmt.Errorf("write database: %w", err)
	}
	return nil
}

// WriteDatabase writes every record of db in order.
func WriteDatabase(w io.Writer, db encoder.Database) error {
	dw := NewDatabaseWriter(w)
	for _, e := range db {
		if err := dw.Write(e); err != nil {
			return err
		}
	}
	return dw.Flush()
}

// DatabaseReader reads database records sequentially.
type DatabaseReader struct {
	r         *bufio.Reader
	vocabSize int
	hdr       [RecordHeaderSize]byte
}

// NewDatabaseReader creates a reader. When vocabSize is positive, words
// outside [0, vocabSize) are reported as corrupt.
func NewDatabaseReader(r io.Reader, vocabSize int) *DatabaseReader {
	return &DatabaseReader{r: bufio.NewReader(r), vocabSize: vocabSize}
}

// Next returns the next record, or io.EOF after the last complete record.
func (dr *DatabaseReader) Next() (encoder.VideoEncoding, error) {
	n, err := io.ReadFull(dr.r, dr.hdr[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return encoder.VideoEncoding{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return encoder.VideoEncoding{}, fmt.Errorf("%w: truncated record header", ErrCorrupt)
		}
		return encoder.VideoEncoding{}, fmt.Errorf("read database: %w", err)
	}

	id, err := parseIdentity(dr.hdr[:IdentitySize])
	if err != nil {
		return encoder.VideoEncoding{}, err
	}
	count := int(byteOrder.Uint32(dr.hdr[IdentitySize:]))

	words := make([]encoder.Word, 0, min(count, wordChunk))
	var buf [wordSize]byte
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(dr.r, buf[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return encoder.VideoEncoding{}, fmt.Errorf("%w: record %s truncated after %d of %d words", ErrCorrupt, id, i, count)
			}
			return encoder.VideoEncoding{}, fmt.Errorf("read database: %w", err)
		}
		w := byteOrder.Uint32(buf[:])
		if dr.vocabSize > 0 && int64(w) >= int64(dr.vocabSize) {
			return encoder.VideoEncoding{}, fmt.Errorf("%w: record %s word %d out of range [0, %d)", ErrCorrupt, id, w, dr.vocabSize)
		}
		words = append(words, w)
	}
	return encoder.VideoEncoding{Identity: id, Words: words}, nil
}

// ReadDatabase reads every record until the end of r.
func ReadDatabase(r io.Reader, vocabSize int) (encoder.Database, error) {
	dr := NewDatabaseReader(r, vocabSize)
	var db encoder.Database
	for {
		e, err := dr.Next()
		if errors.Is(err, io.EOF) {
			return db, nil
		}
		if err != nil {
			return nil, err
		}
		db = append(db, e)
	}
}

// DatabaseSize returns the encoded size of db in bytes.
func DatabaseSize(db encoder.Database) int64 {
	var n int64
	for _, e := range db {
		n += RecordHeaderSize + int64(len(e.Words))*wordSize
	}
	return n
}

func putIdentity(dst []byte, id encoder.VideoIdentity) error {
	if len(id.Name) > encoder.MaxNameLen {
		return fmt.Errorf("%w: %q", encoder.ErrNameTooLong, id.Name)
	}
	if id.Name == "" || bytes.IndexByte([]byte(id.Name), 0) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidName, id.Name)
	}
	clear(dst[:NameSize])
	copy(dst, id.Name)
	byteOrder.PutUint32(dst[NameSize:], id.Seq)
	return nil
}

func parseIdentity(src []byte) (encoder.VideoIdentity, error) {
	name := src[:NameSize]
	end := bytes.IndexByte(name, 0)
	if end <= 0 {
		return encoder.VideoIdentity{}, fmt.Errorf("%w: name block is not NUL-terminated", ErrCorrupt)
	}
	return encoder.VideoIdentity{
		Name: string(name[:end]),
		Seq:  byteOrder.Uint32(src[NameSize:]),
	}, nil
}
