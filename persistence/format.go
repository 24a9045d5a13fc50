package persistence

import (
	"errors"
	"fmt"
)

const (
	// MagicNumber identifies hsne blobs (ASCII: "HSNE")
	MagicNumber = 0x48534E45
	// Version is the current blob format version (v1.0)
	Version = 0x00010000

	// HeaderSize is the encoded size of Header.
	HeaderSize = 32
)

var (
	ErrInvalidMagic   = errors.New("invalid magic number")
	ErrInvalidVersion = errors.New("unsupported version")
	ErrInvalidKind    = errors.New("unexpected blob kind")
	ErrTruncated      = errors.New("truncated blob")
)

// Kind tags the payload of a blob.
type Kind uint8

const (
	KindHierarchy  Kind = 1
	KindInfluence  Kind = 2
	KindCheckpoint Kind = 3
	KindEmbedding  Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindHierarchy:
		return "hierarchy"
	case KindInfluence:
		return "influence"
	case KindCheckpoint:
		return "checkpoint"
	case KindEmbedding:
		return "embedding"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Header is the 32-byte header at the start of every blob.
type Header struct {
	Magic       uint32 // 0x48534E45 ("HSNE")
	Version     uint32 // Blob format version
	Kind        Kind
	Compression Compression
	Padding     [2]byte
	RawSize     uint64 // Uncompressed payload size
	StoredSize  uint64 // Payload size as stored
	Checksum    uint32 // CRC32 of the uncompressed payload
}
