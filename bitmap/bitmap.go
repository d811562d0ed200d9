// Package bitmap implements the deletion bitmap: a growable bitvector over
// point offsets that is the source of truth for soft-deletes. Within a
// segment lifetime deletion is monotonic; bits are set, never cleared.
package bitmap

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/bits-and-blooms/bitset"
	"github.com/natefinch/atomic"

	segerrors "github.com/Aman-CERP/segcore/errors"
)

// DeletionBitmap tracks soft-deleted point offsets. It is writer-exclusive:
// callers serialize Mark against concurrent readers at a higher level.
type DeletionBitmap struct {
	bits  *bitset.BitSet
	count uint64
}

// New returns an empty bitmap.
func New() *DeletionBitmap {
	return &DeletionBitmap{bits: bitset.New(0)}
}

// Mark flags the offset as deleted. Returns true if the bit flipped 0->1,
// false if it was already set. The bitmap grows as needed.
func (b *DeletionBitmap) Mark(id uint32) bool {
	if b.bits.Test(uint(id)) {
		return false
	}
	b.bits.Set(uint(id))
	b.count++
	return true
}

// IsSet reports whether the offset is flagged as deleted. Offsets outside
// the current bitmap length read as not-deleted.
func (b *DeletionBitmap) IsSet(id uint32) bool {
	return b.bits.Test(uint(id))
}

// Count returns the number of set bits. The count is maintained
// incrementally by Mark and recomputed by popcount at load.
func (b *DeletionBitmap) Count() uint64 {
	return b.count
}

// Len returns the bitmap length in bits. It may be smaller or larger than
// the total count of the storage it belongs to; readers treat out-of-range
// as not-deleted.
func (b *DeletionBitmap) Len() uint32 {
	return uint32(b.bits.Len())
}

// Words borrows the underlying 64-bit words for iteration. The slice must
// not be mutated.
func (b *DeletionBitmap) Words() []uint64 {
	return b.bits.Bytes()
}

// WriteTo persists the bitmap as a raw little-endian bitfield, replacing
// the target atomically (write-to-temp, rename).
func (b *DeletionBitmap) WriteTo(path string) error {
	words := b.bits.Bytes()
	buf := make([]byte, 8*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[8*i:], w)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return segerrors.IOError(path, err)
	}
	return nil
}

// Load reads a bitmap previously written by WriteTo. A missing file yields
// an empty bitmap: a crash between writes and flush legitimately leaves the
// bitfield behind the data, and the reader contract tolerates the
// resulting under-count.
func Load(path string) (*DeletionBitmap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, segerrors.IOError(path, err)
	}
	if len(raw)%8 != 0 {
		return nil, segerrors.FormatMismatch(path, "bitfield length is not a multiple of 8")
	}
	words := make([]uint64, len(raw)/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(raw[8*i:])
	}
	bits := bitset.From(words)
	return &DeletionBitmap{bits: bits, count: uint64(bits.Count())}, nil
}
