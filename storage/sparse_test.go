package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/segcore/counter"
	segerrors "github.com/Aman-CERP/segcore/errors"
	"github.com/Aman-CERP/segcore/types"
)

func sparseConfig(backend Backend) Config {
	return Config{
		Distance:       types.DistanceDot,
		Backend:        backend,
		ChunkSizeBytes: 64,
	}
}

// S2: sparse insert, delete, and reopen.
func TestSparseStorage_InsertDeleteReopen(t *testing.T) {
	// Given: a mmap sparse storage
	dir := t.TempDir()
	cfg := sparseConfig(BackendAppendableMmap)
	s, err := OpenSparse(dir, cfg)
	require.NoError(t, err)
	hw := counter.New()

	// When: I insert two vectors and delete the first
	require.NoError(t, s.InsertVector(0, types.SparseVector{
		Indices: []uint32{1, 5, 9}, Values: []float32{0.1, 0.5, 0.9},
	}, hw))
	require.NoError(t, s.InsertVector(1, types.SparseVector{
		Indices: []uint32{2, 3}, Values: []float32{1.0, 2.0},
	}, hw))
	flipped, err := s.DeleteVector(0)
	require.NoError(t, err)
	assert.True(t, flipped)

	// And: flush and reopen
	require.NoError(t, s.Flusher()())
	require.NoError(t, s.Close())
	s, err = OpenSparse(dir, cfg)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// Then: counts and the surviving record are intact
	assert.Equal(t, uint32(2), s.TotalVectorCount())
	assert.Equal(t, uint64(1), s.DeletedVectorCount())
	got, err := s.(*SparseStorage).GetSparse(1)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 3}, got.Indices)
	assert.Equal(t, []float32{1.0, 2.0}, got.Values)
}

func TestSparseStorage_InvalidSparseRejectedAtomically(t *testing.T) {
	s, err := OpenSparse(t.TempDir(), sparseConfig(BackendAppendableMmap))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	cases := []types.SparseVector{
		{Indices: []uint32{5, 1}, Values: []float32{1, 2}},  // unsorted
		{Indices: []uint32{1, 1}, Values: []float32{1, 2}},  // duplicate
		{Indices: []uint32{1, 2}, Values: []float32{1}},     // length mismatch
	}
	for _, sv := range cases {
		err := s.InsertVector(0, sv, counter.New())
		require.Error(t, err)
		assert.ErrorIs(t, err, segerrors.New(segerrors.ErrCodeInvalidSparse, "", nil))
	}
	// Rejections leave no state behind.
	assert.Equal(t, uint32(0), s.TotalVectorCount())
}

func TestSparseStorage_GapOffsetsReadAsEmpty(t *testing.T) {
	s, err := OpenSparse(t.TempDir(), sparseConfig(BackendAppendableMmap))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.InsertVector(3, types.SparseVector{
		Indices: []uint32{7}, Values: []float32{0.7},
	}, counter.New()))

	assert.Equal(t, uint32(4), s.TotalVectorCount())
	got, err := s.(*SparseStorage).GetSparse(1)
	require.NoError(t, err)
	assert.Empty(t, got.Indices)
}

func TestSparseStorage_RecordsAcrossBlobChunks(t *testing.T) {
	// 64-byte chunks hold at most one 5-entry record (4+40 bytes).
	s, err := OpenSparse(t.TempDir(), sparseConfig(BackendAppendableMmap))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	for i := range 6 {
		sv := types.SparseVector{
			Indices: []uint32{uint32(i), uint32(i + 10), uint32(i + 20), uint32(i + 30), uint32(i + 40)},
			Values:  []float32{1, 2, 3, 4, 5},
		}
		require.NoError(t, s.InsertVector(uint32(i), sv, counter.New()))
	}
	for i := range 6 {
		got, err := s.(*SparseStorage).GetSparse(uint32(i))
		require.NoError(t, err)
		assert.Equal(t, []uint32{uint32(i), uint32(i + 10), uint32(i + 20), uint32(i + 30), uint32(i + 40)}, got.Indices)
	}
}

func TestVolatileSparse_Basics(t *testing.T) {
	s, err := OpenSparse("", sparseConfig(BackendVolatile))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.InsertVector(0, types.SparseVector{
		Indices: []uint32{2}, Values: []float32{0.2},
	}, counter.New()))
	assert.Empty(t, s.Files())
	assert.Equal(t, types.DatatypeFloat32, s.Datatype())

	got := s.GetVector(0).(types.SparseVector)
	assert.Equal(t, []uint32{2}, got.Indices)
}
