// Package persistence implements the on-disk formats of a trained index.
//
// Two payloads are written, both little-endian and headerless:
//
//   - The vocabulary file holds K records of Dimension float32 values. The
//     record count is derived from the file size.
//   - The database file is a sequence of video records. Each record is a
//     128-byte NUL-padded name, a uint32 sequence number, a uint32 word count
//     and that many uint32 words.
//
// Both payloads are checksummed with CRC32 (IEEE) while they are written so
// the checksum can be recorded next to them and verified on load.
package persistence
