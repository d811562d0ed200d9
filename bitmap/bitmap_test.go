package bitmap

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeletionBitmap_MarkIsIdempotent(t *testing.T) {
	// Given: an empty bitmap
	b := New()

	// When: I mark offset 3 twice
	first := b.Mark(3)
	second := b.Mark(3)

	// Then: only the first mark flips the bit
	assert.True(t, first)
	assert.False(t, second)
	assert.True(t, b.IsSet(3))
	assert.Equal(t, uint64(1), b.Count())
}

func TestDeletionBitmap_OutOfRangeReadsAsNotDeleted(t *testing.T) {
	b := New()
	b.Mark(1)

	// Offsets past the bitmap length read as not-deleted.
	assert.False(t, b.IsSet(1000000))
}

func TestDeletionBitmap_RoundTrip(t *testing.T) {
	// Given: a bitmap with a few scattered bits
	dir := t.TempDir()
	path := filepath.Join(dir, "deleted.bits")
	b := New()
	for _, id := range []uint32{0, 7, 63, 64, 1000} {
		b.Mark(id)
	}

	// When: I persist and reload it
	require.NoError(t, b.WriteTo(path))
	loaded, err := Load(path)
	require.NoError(t, err)

	// Then: bits and count survive
	assert.Equal(t, uint64(5), loaded.Count())
	for _, id := range []uint32{0, 7, 63, 64, 1000} {
		assert.True(t, loaded.IsSet(id), "bit %d", id)
	}
	assert.False(t, loaded.IsSet(1))
}

func TestDeletionBitmap_LoadMissingFile(t *testing.T) {
	// A missing bitfield is a legitimate post-crash state.
	b, err := Load(filepath.Join(t.TempDir(), "missing.bits"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), b.Count())
}
