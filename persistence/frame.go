package persistence

import (
	"encoding/binary"
	"fmt"
)

// Encode frames payload as a blob of the given kind.
func Encode(kind Kind, c Compression, payload []byte) ([]byte, error) {
	stored, used, err := compress(payload, c)
	if err != nil {
		return nil, fmt.Errorf("persistence: compress %s: %w", kind, err)
	}

	h := Header{
		Magic:       MagicNumber,
		Version:     Version,
		Kind:        kind,
		Compression: used,
		RawSize:     uint64(len(payload)),
		StoredSize:  uint64(len(stored)),
		Checksum:    CalculateChecksum(payload),
	}

	out := make([]byte, HeaderSize, HeaderSize+len(stored))
	putHeader(out, &h)
	return append(out, stored...), nil
}

// Decode validates a blob and returns its header and uncompressed payload.
// want == 0 accepts any kind.
func Decode(data []byte, want Kind) (Header, []byte, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return Header{}, nil, err
	}
	if want != 0 && h.Kind != want {
		return Header{}, nil, fmt.Errorf("%w: got %s, want %s", ErrInvalidKind, h.Kind, want)
	}
	if uint64(len(data)-HeaderSize) < h.StoredSize {
		return Header{}, nil, fmt.Errorf("%w: payload has %d of %d bytes", ErrTruncated, len(data)-HeaderSize, h.StoredSize)
	}

	payload, err := decompress(data[HeaderSize:HeaderSize+int(h.StoredSize)], h.Compression, h.RawSize)
	if err != nil {
		return Header{}, nil, fmt.Errorf("persistence: decompress %s: %w", h.Kind, err)
	}
	if err := VerifyChecksum(payload, h.Checksum); err != nil {
		return Header{}, nil, err
	}
	return h, payload, nil
}

// ReadHeader parses and validates the blob header.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}

	le := binary.LittleEndian
	h := Header{
		Magic:       le.Uint32(data[0:]),
		Version:     le.Uint32(data[4:]),
		Kind:        Kind(data[8]),
		Compression: Compression(data[9]),
		RawSize:     le.Uint64(data[12:]),
		StoredSize:  le.Uint64(data[20:]),
		Checksum:    le.Uint32(data[28:]),
	}

	if h.Magic != MagicNumber {
		return Header{}, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, h.Magic)
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: got 0x%08x", ErrInvalidVersion, h.Version)
	}
	return h, nil
}

func putHeader(b []byte, h *Header) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], h.Magic)
	le.PutUint32(b[4:], h.Version)
	b[8] = byte(h.Kind)
	b[9] = byte(h.Compression)
	le.PutUint64(b[12:], h.RawSize)
	le.PutUint64(b[20:], h.StoredSize)
	le.PutUint32(b[28:], h.Checksum)
}
