package persistence

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"
)

// ErrUnalignedAccess is returned when attempting unaligned memory access
var ErrUnalignedAccess = errors.New("unaligned memory access detected")

var littleEndian = isLittleEndian()

// isLittleEndian checks if the system is little-endian
func isLittleEndian() bool {
	var test uint16 = 0x0001
	firstByte := *(*byte)(unsafe.Pointer(&test))
	return firstByte == 1
}

// validateAlignment checks if the first element of a slice is aligned to align bytes.
func validateAlignment(ptr unsafe.Pointer, align uintptr, kind string) error {
	if uintptr(ptr)%align != 0 {
		return fmt.Errorf("%w: %s slice at address 0x%x", ErrUnalignedAccess, kind, uintptr(ptr))
	}
	return nil
}

// float32Bytes views vec as raw bytes. Callers must have checked littleEndian.
func float32Bytes(vec []float32) ([]byte, error) {
	if err := validateAlignment(unsafe.Pointer(&vec[0]), 4, "float32"); err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), len(vec)*4), nil
}

// uint32Bytes views s as raw bytes. Callers must have checked littleEndian.
func uint32Bytes(s []uint32) ([]byte, error) {
	if err := validateAlignment(unsafe.Pointer(&s[0]), 4, "uint32"); err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*4), nil
}

// PlatformInfo returns information about the current platform
func PlatformInfo() string {
	endian := "little-endian"
	if !littleEndian {
		endian = "big-endian"
	}
	return fmt.Sprintf("GOOS=%s GOARCH=%s endianness=%s", runtime.GOOS, runtime.GOARCH, endian)
}
