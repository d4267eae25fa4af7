package util

import (
	"encoding/binary"
	"hash/crc32"
)

// Checksum utilities for data integrity validation
// Uses CRC32 (IEEE polynomial) for fast checksum computation

var (
	// crc32Table is precomputed for better performance
	crc32Table = crc32.MakeTable(crc32.IEEE)
)

// ComputeChecksum computes a CRC32 checksum for the given data
// Returns a 32-bit checksum value
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// ValidateChecksum validates data against an expected checksum
// Returns true if the checksum matches, false otherwise
func ValidateChecksum(data []byte, expected uint32) bool {
	actual := ComputeChecksum(data)
	return actual == expected
}

// ChecksumWriter accumulates a CRC32 over a sequence of length-prefixed
// byte strings, so that ("ab","c") and ("a","bc") hash differently.
// Backfill chunks use it to checksum their items.
type ChecksumWriter struct {
	crc uint32
}

// Add folds one byte string into the checksum.
func (w *ChecksumWriter) Add(data []byte) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
	w.crc = crc32.Update(w.crc, crc32Table, lenBuf[:])
	w.crc = crc32.Update(w.crc, crc32Table, data)
}

// Sum returns the accumulated checksum.
func (w *ChecksumWriter) Sum() uint32 {
	return w.crc
}
