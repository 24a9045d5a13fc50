// Package persistence provides the framed binary blob format used for
// hierarchy caches and engine checkpoints.
//
// A blob is a fixed 32-byte header followed by the (optionally compressed)
// payload. The header records the blob kind, the compression algorithm,
// the uncompressed payload size and a CRC32 of the uncompressed payload.
//
// Payloads are written little-endian. On little-endian hosts float32 and
// uint32 slices are copied without per-element conversion; see safety.go.
package persistence
