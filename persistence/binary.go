package persistence

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Writer writes little-endian primitives. The first error is sticky and
// reported by Err; later writes are no-ops.
type Writer struct {
	w   io.Writer
	buf [8]byte
	err error
	n   int64
}

// NewWriter creates a new binary writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first write error.
func (bw *Writer) Err() error { return bw.err }

// Len returns the number of bytes written.
func (bw *Writer) Len() int64 { return bw.n }

func (bw *Writer) write(p []byte) {
	if bw.err != nil {
		return
	}
	n, err := bw.w.Write(p)
	bw.n += int64(n)
	bw.err = err
}

// WriteUint32 writes v.
func (bw *Writer) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(bw.buf[:4], v)
	bw.write(bw.buf[:4])
}

// WriteInt32 writes v.
func (bw *Writer) WriteInt32(v int32) { bw.WriteUint32(uint32(v)) }

// WriteUint64 writes v.
func (bw *Writer) WriteUint64(v uint64) {
	binary.LittleEndian.PutUint64(bw.buf[:8], v)
	bw.write(bw.buf[:8])
}

// WriteInt64 writes v.
func (bw *Writer) WriteInt64(v int64) { bw.WriteUint64(uint64(v)) }

// WriteFloat32 writes v.
func (bw *Writer) WriteFloat32(v float32) { bw.WriteUint32(math.Float32bits(v)) }

// WriteFloat64 writes v.
func (bw *Writer) WriteFloat64(v float64) { bw.WriteUint64(math.Float64bits(v)) }

// WriteFloat32Slice writes vec as raw little-endian floats, without a length prefix.
func (bw *Writer) WriteFloat32Slice(vec []float32) {
	if len(vec) == 0 || bw.err != nil {
		return
	}
	if littleEndian {
		b, err := float32Bytes(vec)
		if err == nil {
			bw.write(b)
			return
		}
	}
	for _, v := range vec {
		bw.WriteFloat32(v)
	}
}

// WriteUint32Slice writes s as raw little-endian values, without a length prefix.
func (bw *Writer) WriteUint32Slice(s []uint32) {
	if len(s) == 0 || bw.err != nil {
		return
	}
	if littleEndian {
		b, err := uint32Bytes(s)
		if err == nil {
			bw.write(b)
			return
		}
	}
	for _, v := range s {
		bw.WriteUint32(v)
	}
}

// WriteString writes a length-prefixed string.
func (bw *Writer) WriteString(s string) {
	bw.WriteUint32(uint32(len(s)))
	bw.write([]byte(s))
}

// Reader reads little-endian primitives from an in-memory payload. The
// first error is sticky and reported by Err; later reads return zero values.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader creates a reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first read error.
func (br *Reader) Err() error { return br.err }

// Remaining returns the number of unread bytes.
func (br *Reader) Remaining() int { return len(br.data) - br.off }

func (br *Reader) next(n int) []byte {
	if br.err != nil {
		return nil
	}
	if n < 0 || br.off+n > len(br.data) {
		br.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, br.off, len(br.data)-br.off)
		return nil
	}
	b := br.data[br.off : br.off+n]
	br.off += n
	return b
}

// ReadUint32 reads a uint32.
func (br *Reader) ReadUint32() uint32 {
	b := br.next(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// ReadInt32 reads an int32.
func (br *Reader) ReadInt32() int32 { return int32(br.ReadUint32()) }

// ReadUint64 reads a uint64.
func (br *Reader) ReadUint64() uint64 {
	b := br.next(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// ReadInt64 reads an int64.
func (br *Reader) ReadInt64() int64 { return int64(br.ReadUint64()) }

// ReadFloat32 reads a float32.
func (br *Reader) ReadFloat32() float32 { return math.Float32frombits(br.ReadUint32()) }

// ReadFloat64 reads a float64.
func (br *Reader) ReadFloat64() float64 { return math.Float64frombits(br.ReadUint64()) }

// ReadCount reads a uint32 element count and checks that at least
// count*elemSize bytes remain, guarding allocations against corrupt input.
func (br *Reader) ReadCount(elemSize int) int {
	n := int(br.ReadUint32())
	if br.err == nil && n*elemSize > br.Remaining() {
		br.err = fmt.Errorf("%w: count %d exceeds remaining %d bytes", ErrTruncated, n, br.Remaining())
		return 0
	}
	return n
}

// ReadFloat32Slice reads count floats.
func (br *Reader) ReadFloat32Slice(count int) []float32 {
	b := br.next(count * 4)
	if b == nil || count == 0 {
		return nil
	}
	out := make([]float32, count)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// ReadUint32Slice reads count values.
func (br *Reader) ReadUint32Slice(count int) []uint32 {
	b := br.next(count * 4)
	if b == nil || count == 0 {
		return nil
	}
	out := make([]uint32, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out
}

// ReadString reads a length-prefixed string.
func (br *Reader) ReadString() string {
	n := br.ReadCount(1)
	return string(br.next(n))
}

// SaveToFile writes a file atomically through a temp file and rename.
func SaveToFile(filename string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	// Write to a temp file in the same directory to ensure rename is atomic.
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	_ = tmp.Chmod(0644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	tmpName = ""
	return nil
}
