// Package mmap maps persisted run blobs read-only into memory.
//
// Unix uses mmap(2) with madvise(2) hints; Windows uses
// CreateFileMapping/MapViewOfFile and ignores hints.
//
//	m, err := mmap.Open("runs/000001/vocabulary.bin")
//	if err != nil { ... }
//	defer m.Close()
//	_ = m.Advise(mmap.AccessSequential)
//	data := m.Bytes()
//
// Slices returned by Bytes are invalid after Close.
package mmap
