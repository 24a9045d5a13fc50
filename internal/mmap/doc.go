// Package mmap maps persisted blobs into memory read-only, so cached
// hierarchies are decoded without an intermediate copy.
//
//	m, err := mmap.Open("iris_hierarchy.hsne")
//	if err != nil { ... }
//	defer m.Close()
//
//	_ = m.Advise(mmap.AccessSequential)
//	data := m.Bytes()
//
// Unix systems use mmap(2) and madvise(2); Windows uses MapViewOfFile and
// ignores access hints. The returned bytes are valid until Close.
package mmap
