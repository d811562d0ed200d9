package storage

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/segcore/counter"
	segerrors "github.com/Aman-CERP/segcore/errors"
	"github.com/Aman-CERP/segcore/types"
)

func denseConfig(backend Backend, datatype types.Datatype) Config {
	return Config{
		Dim:            3,
		Distance:       types.DistanceCosine,
		Datatype:       datatype,
		Backend:        backend,
		ChunkSizeBytes: 64,
	}
}

// S1: dense f32 dim=3 with a delete, surviving a reopen.
func TestDenseStorage_InsertDeleteReopen(t *testing.T) {
	// Given: an appendable mmap dense storage
	dir := t.TempDir()
	cfg := denseConfig(BackendAppendableMmap, types.DatatypeFloat32)
	s, err := OpenDense(dir, cfg)
	require.NoError(t, err)
	hw := counter.New()

	// When: I insert three vectors and delete the middle one
	require.NoError(t, s.InsertVector(0, types.DenseVector{1, 2, 3}, hw))
	require.NoError(t, s.InsertVector(1, types.DenseVector{4, 5, 6}, hw))
	require.NoError(t, s.InsertVector(2, types.DenseVector{7, 8, 9}, hw))
	flipped, err := s.DeleteVector(1)
	require.NoError(t, err)
	assert.True(t, flipped)

	// And: flush and reopen
	require.NoError(t, s.Flusher()())
	require.NoError(t, s.Close())
	s, err = OpenDense(dir, cfg)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// Then: counts and contents survive byte-identically
	assert.Equal(t, uint32(3), s.TotalVectorCount())
	assert.Equal(t, uint64(1), s.DeletedVectorCount())
	assert.Equal(t, uint32(2), s.AvailableVectorCount())
	assert.Equal(t, types.DenseVector{1, 2, 3}, s.GetVector(0))
	assert.Equal(t, types.DenseVector{7, 8, 9}, s.GetVector(2))
	assert.True(t, s.IsDeletedVector(1))

	// And: the hardware counter accounted the inserted bytes
	assert.Equal(t, uint64(3*3*4), hw.VectorIOWrite())
}

func TestDenseStorage_DeleteIsIdempotent(t *testing.T) {
	s, err := OpenDense(t.TempDir(), denseConfig(BackendAppendableMmap, types.DatatypeFloat32))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.InsertVector(0, types.DenseVector{1, 2, 3}, counter.New()))

	// First delete flips, the second does not.
	first, err := s.DeleteVector(0)
	require.NoError(t, err)
	second, err := s.DeleteVector(0)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
	assert.True(t, s.IsDeletedVector(0))

	// Deleting past the high-water mark is a no-op.
	flipped, err := s.DeleteVector(99)
	require.NoError(t, err)
	assert.False(t, flipped)
}

func TestDenseStorage_GetVectorContract(t *testing.T) {
	s, err := OpenDense(t.TempDir(), denseConfig(BackendAppendableMmap, types.DatatypeFloat32))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.InsertVector(0, types.DenseVector{1, 2, 3}, counter.New()))

	// GetVectorOpt is absent past the total; GetVector panics.
	_, ok := s.GetVectorOpt(1)
	assert.False(t, ok)
	assert.Panics(t, func() { s.GetVector(1) })

	got, ok := s.GetVectorOpt(0)
	require.True(t, ok)
	assert.Equal(t, types.DenseVector{1, 2, 3}, got)
	assert.Equal(t, got, s.GetVectorSequential(0))
}

func TestDenseStorage_InsertExtendsWithDefaults(t *testing.T) {
	s, err := OpenDense(t.TempDir(), denseConfig(BackendAppendableMmap, types.DatatypeFloat32))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// When: the first insert lands at offset 4
	require.NoError(t, s.InsertVector(4, types.DenseVector{9, 9, 9}, counter.New()))

	// Then: the gap offsets hold the default vector
	assert.Equal(t, uint32(5), s.TotalVectorCount())
	assert.Equal(t, types.DenseVector{1, 1, 1}, s.GetVector(2))
	assert.Equal(t, types.DenseVector{9, 9, 9}, s.GetVector(4))
}

func TestDenseStorage_DimensionMismatchLeavesStateUntouched(t *testing.T) {
	s, err := OpenDense(t.TempDir(), denseConfig(BackendAppendableMmap, types.DatatypeFloat32))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	err = s.InsertVector(0, types.DenseVector{1, 2}, counter.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, segerrors.New(segerrors.ErrCodeDimensionMismatch, "", nil))
	assert.Equal(t, uint32(0), s.TotalVectorCount())
}

// Batch equivalence: batch reads equal pointwise single reads.
func TestDenseStorage_BatchEquivalence(t *testing.T) {
	s, err := OpenDense(t.TempDir(), denseConfig(BackendAppendableMmap, types.DatatypeFloat32))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ds := s.(*DenseStorage[float32])
	for i := range 10 {
		require.NoError(t, s.InsertVector(uint32(i), types.DenseVector{float32(i), 0, 1}, counter.New()))
	}

	keys := []types.PointOffset{3, 1, 7, 7, 9}
	out := make([][]float32, len(keys))
	got := ds.GetDenseBatch(keys, out)
	require.Len(t, got, len(keys))
	for i, k := range keys {
		assert.Equal(t, ds.GetDense(k), got[i])
	}
}

// S6: update_from cancellation keeps exactly the accepted prefix.
func TestDenseStorage_UpdateFromCancel(t *testing.T) {
	s, err := OpenDense(t.TempDir(), denseConfig(BackendAppendableMmap, types.DatatypeFloat32))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	var stopped atomic.Bool
	iter := func(yield func(types.Vector, bool) bool) {
		for i := range 10 {
			if i == 4 {
				stopped.Store(true)
			}
			if !yield(types.DenseVector{float32(i), 0, 0}, false) {
				return
			}
		}
	}

	rng, err := s.UpdateFrom(iter, &stopped, counter.New())

	// The returned range reflects exactly the accepted records.
	require.Error(t, err)
	assert.ErrorIs(t, err, segerrors.New(segerrors.ErrCodeCancelled, "", nil))
	assert.Equal(t, Range{Start: 0, End: 4}, rng)
	assert.Equal(t, uint32(4), s.TotalVectorCount())

	// A subsequent call resumes from the new high-water mark.
	stopped.Store(false)
	rng, err = s.UpdateFrom(func(yield func(types.Vector, bool) bool) {
		yield(types.DenseVector{42, 0, 0}, true)
	}, &stopped, counter.New())
	require.NoError(t, err)
	assert.Equal(t, Range{Start: 4, End: 5}, rng)
	assert.True(t, s.IsDeletedVector(4))
}

func TestDenseStorage_Float16RoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := denseConfig(BackendAppendableMmap, types.DatatypeFloat16)
	s, err := OpenDense(dir, cfg)
	require.NoError(t, err)

	// Representable halves survive the narrowing exactly.
	require.NoError(t, s.InsertVector(0, types.DenseVector{0.5, 2, 128}, counter.New()))
	require.NoError(t, s.Flusher()())
	require.NoError(t, s.Close())

	s, err = OpenDense(dir, cfg)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, types.DatatypeFloat16, s.Datatype())
	assert.Equal(t, types.DenseVector{0.5, 2, 128}, s.GetVector(0))
}

func TestDenseStorage_Uint8RoundTrip(t *testing.T) {
	s, err := OpenDense(t.TempDir(), denseConfig(BackendAppendableMmap, types.DatatypeUint8))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.InsertVector(0, types.DenseVector{0, 127, 255}, counter.New()))
	assert.Equal(t, types.DenseVector{0, 127, 255}, s.GetVector(0))
}

func TestDenseStorage_InRamPersistedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := denseConfig(BackendInRamPersisted, types.DatatypeFloat32)
	s, err := OpenDense(dir, cfg)
	require.NoError(t, err)

	require.NoError(t, s.InsertVector(0, types.DenseVector{1, 2, 3}, counter.New()))
	assert.False(t, s.IsOnDisk())
	require.NoError(t, s.Flusher()())
	require.NoError(t, s.Close())

	s, err = OpenDense(dir, cfg)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, types.DenseVector{1, 2, 3}, s.GetVector(0))
}

func TestVolatileDense_NoFilesNoFlush(t *testing.T) {
	s, err := OpenDense("", denseConfig(BackendVolatile, types.DatatypeFloat32))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.InsertVector(0, types.DenseVector{1, 2, 3}, counter.New()))
	assert.False(t, s.IsOnDisk())
	assert.Empty(t, s.Files())
	assert.NoError(t, s.Flusher()())
	assert.NoError(t, s.Populate())
	assert.Equal(t, types.DenseVector{1, 2, 3}, s.GetVector(0))
}

func TestDenseStorage_SecondWriterIsRejected(t *testing.T) {
	dir := t.TempDir()
	cfg := denseConfig(BackendAppendableMmap, types.DatatypeFloat32)
	s, err := OpenDense(dir, cfg)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// A second open of the same directory must fail on the writer lock.
	_, err = OpenDense(dir, cfg)
	assert.Error(t, err)
}

func TestDenseStorage_FormatMismatchOnDatatypeChange(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenDense(dir, denseConfig(BackendAppendableMmap, types.DatatypeFloat32))
	require.NoError(t, err)
	require.NoError(t, s.InsertVector(0, types.DenseVector{1, 2, 3}, counter.New()))
	require.NoError(t, s.Flusher()())
	require.NoError(t, s.Close())

	_, err = OpenDense(dir, denseConfig(BackendAppendableMmap, types.DatatypeUint8))
	require.Error(t, err)
	assert.ErrorIs(t, err, segerrors.New(segerrors.ErrCodeFormatMismatch, "", nil))
}
