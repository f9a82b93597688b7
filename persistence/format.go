package persistence

import (
	"encoding/binary"
	"errors"
)

const (
	// NameSize is the size of the NUL-padded name block of a database record.
	NameSize = 128
	// IdentitySize is the size of the name block plus the sequence number.
	IdentitySize = NameSize + 4
	// RecordHeaderSize is the identity plus the word count.
	RecordHeaderSize = IdentitySize + 4

	wordSize  = 4
	floatSize = 4

	// wordChunk caps the words allocated ahead of a read so a corrupt count
	// cannot force a huge allocation.
	wordChunk = 64 * 1024
)

var (
	// ErrCorrupt is returned when persisted bytes do not decode.
	ErrCorrupt = errors.New("corrupt data")
	// ErrInvalidName is returned for names that cannot be stored in the name block.
	ErrInvalidName = errors.New("invalid video name")
)

var byteOrder = binary.LittleEndian
