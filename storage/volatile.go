package storage

import (
	"fmt"
	"sync/atomic"

	"github.com/Aman-CERP/segcore/bitmap"
	"github.com/Aman-CERP/segcore/counter"
	segerrors "github.com/Aman-CERP/segcore/errors"
	"github.com/Aman-CERP/segcore/types"
)

// volatileBase carries the parts shared by the in-memory storages: the
// deletion bitmap and the no-op persistence surface. Volatile backings
// have no files, nothing to flush, and nothing to fault in.
type volatileBase struct {
	distance types.Distance
	deleted  *bitmap.DeletionBitmap
}

func newVolatileBase(distance types.Distance) volatileBase {
	return volatileBase{distance: distance, deleted: bitmap.New()}
}

func (b *volatileBase) Distance() types.Distance { return b.distance }

func (b *volatileBase) IsOnDisk() bool { return false }

func (b *volatileBase) IsDeletedVector(id types.PointOffset) bool { return b.deleted.IsSet(id) }

func (b *volatileBase) DeletedVectorCount() uint64 { return b.deleted.Count() }

func (b *volatileBase) DeletedVectorBitslice() []uint64 { return b.deleted.Words() }

func (b *volatileBase) Flusher() Flusher { return func() error { return nil } }

func (b *volatileBase) Files() []string { return nil }

func (b *volatileBase) ImmutableFiles() []string { return nil }

func (b *volatileBase) VersionedFiles() []VersionedFile { return nil }

func (b *volatileBase) Populate() error { return nil }

func (b *volatileBase) ClearCache() error { return nil }

func (b *volatileBase) Close() error { return nil }

func (b *volatileBase) markDeleted(id, total types.PointOffset) (bool, error) {
	if id >= total {
		return false, nil
	}
	return b.deleted.Mark(id), nil
}

// VolatileDenseStorage keeps dense vectors in a flat heap slice. It exists
// for freshly built segments that have not been persisted yet and for
// tests; the contract is identical to the persistent dense storage.
type VolatileDenseStorage[T any] struct {
	volatileBase
	codec types.Codec[T]
	dim   int
	data  []T
	total uint32
}

var _ VectorStorage = (*VolatileDenseStorage[float32])(nil)

// NewVolatileDense creates an empty volatile dense storage.
func NewVolatileDense[T any](dim int, distance types.Distance, codec types.Codec[T]) *VolatileDenseStorage[T] {
	return &VolatileDenseStorage[T]{
		volatileBase: newVolatileBase(distance),
		codec:        codec,
		dim:          dim,
	}
}

// VectorDim returns the vector dimension.
func (s *VolatileDenseStorage[T]) VectorDim() int { return s.dim }

// Datatype implements VectorStorage.
func (s *VolatileDenseStorage[T]) Datatype() types.Datatype { return s.codec.Datatype }

// TotalVectorCount implements VectorStorage.
func (s *VolatileDenseStorage[T]) TotalVectorCount() uint32 { return s.total }

// AvailableVectorCount implements VectorStorage.
func (s *VolatileDenseStorage[T]) AvailableVectorCount() uint32 {
	return availableCount(s.total, s.deleted.Count())
}

// GetDense returns the raw element slice at the given offset.
func (s *VolatileDenseStorage[T]) GetDense(id types.PointOffset) []T {
	return s.data[int(id)*s.dim : (int(id)+1)*s.dim]
}

// GetDenseBatch fills out with records for keys, capped at the batch size.
func (s *VolatileDenseStorage[T]) GetDenseBatch(keys []types.PointOffset, out [][]T) [][]T {
	n := min(len(keys), len(out), types.VectorReadBatchSize)
	for i := range n {
		out[i] = s.GetDense(keys[i])
	}
	return out[:n]
}

// GetVector implements VectorStorage.
func (s *VolatileDenseStorage[T]) GetVector(id types.PointOffset) types.Vector {
	if id >= s.total {
		panic(fmt.Sprintf("storage: offset %d out of range (total %d)", id, s.total))
	}
	return types.DenseVector(s.codec.DecodeSlice(s.GetDense(id)))
}

// GetVectorOpt implements VectorStorage.
func (s *VolatileDenseStorage[T]) GetVectorOpt(id types.PointOffset) (types.Vector, bool) {
	if id >= s.total {
		return nil, false
	}
	return s.GetVector(id), true
}

// GetVectorSequential implements VectorStorage.
func (s *VolatileDenseStorage[T]) GetVectorSequential(id types.PointOffset) types.Vector {
	return s.GetVector(id)
}

// InsertVector implements VectorStorage.
func (s *VolatileDenseStorage[T]) InsertVector(id types.PointOffset, v types.Vector, hw *counter.HardwareCounter) error {
	dv, ok := v.(types.DenseVector)
	if !ok {
		return wrongKind(types.VectorKindDense, v.Kind())
	}
	if len(dv) != s.dim {
		return segerrors.DimensionMismatch(s.dim, len(dv))
	}
	need := (int(id) + 1) * s.dim
	for len(s.data) < need {
		s.data = append(s.data, encodeDense(s.codec, types.DefaultDenseVector(s.dim))...)
	}
	s.codec.Encode(dv, s.data[int(id)*s.dim:need])
	if id >= s.total {
		s.total = id + 1
	}
	hw.IncrVectorIOWrite(s.dim * elemBytes[T]())
	return nil
}

// UpdateFrom implements VectorStorage.
func (s *VolatileDenseStorage[T]) UpdateFrom(vectors VectorIter, stopped *atomic.Bool, hw *counter.HardwareCounter) (Range, error) {
	start := s.total
	cur := start
	for v, isDeleted := range vectors {
		if stopped != nil && stopped.Load() {
			return Range{Start: start, End: cur}, segerrors.Cancelled("update_from")
		}
		if err := s.InsertVector(cur, v, hw); err != nil {
			return Range{Start: start, End: cur}, err
		}
		if isDeleted {
			s.deleted.Mark(cur)
		}
		cur++
	}
	return Range{Start: start, End: cur}, nil
}

// DeleteVector implements VectorStorage.
func (s *VolatileDenseStorage[T]) DeleteVector(id types.PointOffset) (bool, error) {
	return s.markDeleted(id, s.total)
}

// DefaultVector implements VectorStorage.
func (s *VolatileDenseStorage[T]) DefaultVector() types.Vector {
	return types.DefaultDenseVector(s.dim)
}

// VolatileSparseStorage keeps sparse vectors in a heap slice.
type VolatileSparseStorage struct {
	volatileBase
	data []types.SparseVector
}

var _ VectorStorage = (*VolatileSparseStorage)(nil)

// NewVolatileSparse creates an empty volatile sparse storage.
func NewVolatileSparse(distance types.Distance) *VolatileSparseStorage {
	return &VolatileSparseStorage{volatileBase: newVolatileBase(distance)}
}

// Datatype implements VectorStorage.
func (s *VolatileSparseStorage) Datatype() types.Datatype { return types.DatatypeFloat32 }

// TotalVectorCount implements VectorStorage.
func (s *VolatileSparseStorage) TotalVectorCount() uint32 { return uint32(len(s.data)) }

// AvailableVectorCount implements VectorStorage.
func (s *VolatileSparseStorage) AvailableVectorCount() uint32 {
	return availableCount(s.TotalVectorCount(), s.deleted.Count())
}

// GetSparse returns the sparse vector at the given offset.
func (s *VolatileSparseStorage) GetSparse(id types.PointOffset) (types.SparseVector, error) {
	if int(id) >= len(s.data) {
		return types.SparseVector{}, segerrors.Newf(segerrors.ErrCodeOutOfRange,
			"offset %d out of range (total %d)", id, len(s.data))
	}
	return s.data[id], nil
}

// GetVector implements VectorStorage.
func (s *VolatileSparseStorage) GetVector(id types.PointOffset) types.Vector {
	if int(id) >= len(s.data) {
		panic(fmt.Sprintf("storage: offset %d out of range (total %d)", id, len(s.data)))
	}
	return s.data[id]
}

// GetVectorOpt implements VectorStorage.
func (s *VolatileSparseStorage) GetVectorOpt(id types.PointOffset) (types.Vector, bool) {
	if int(id) >= len(s.data) {
		return nil, false
	}
	return s.data[id], true
}

// GetVectorSequential implements VectorStorage.
func (s *VolatileSparseStorage) GetVectorSequential(id types.PointOffset) types.Vector {
	return s.GetVector(id)
}

// InsertVector implements VectorStorage.
func (s *VolatileSparseStorage) InsertVector(id types.PointOffset, v types.Vector, hw *counter.HardwareCounter) error {
	sv, ok := v.(types.SparseVector)
	if !ok {
		return wrongKind(types.VectorKindSparse, v.Kind())
	}
	if err := sv.Validate(); err != nil {
		return segerrors.InvalidSparse(err)
	}
	for int(id) >= len(s.data) {
		s.data = append(s.data, types.DefaultSparseVector())
	}
	s.data[id] = sv
	hw.IncrVectorIOWrite(8 * len(sv.Indices))
	return nil
}

// UpdateFrom implements VectorStorage.
func (s *VolatileSparseStorage) UpdateFrom(vectors VectorIter, stopped *atomic.Bool, hw *counter.HardwareCounter) (Range, error) {
	start := s.TotalVectorCount()
	cur := start
	for v, isDeleted := range vectors {
		if stopped != nil && stopped.Load() {
			return Range{Start: start, End: cur}, segerrors.Cancelled("update_from")
		}
		if err := s.InsertVector(cur, v, hw); err != nil {
			return Range{Start: start, End: cur}, err
		}
		if isDeleted {
			s.deleted.Mark(cur)
		}
		cur++
	}
	return Range{Start: start, End: cur}, nil
}

// DeleteVector implements VectorStorage.
func (s *VolatileSparseStorage) DeleteVector(id types.PointOffset) (bool, error) {
	return s.markDeleted(id, s.TotalVectorCount())
}

// DefaultVector implements VectorStorage.
func (s *VolatileSparseStorage) DefaultVector() types.Vector {
	return types.DefaultSparseVector()
}

// VolatileMultiDenseStorage keeps multi-vectors in a heap slice.
type VolatileMultiDenseStorage[T any] struct {
	volatileBase
	codec    types.Codec[T]
	innerDim int
	data     []types.MultiDenseVector
}

var _ VectorStorage = (*VolatileMultiDenseStorage[float32])(nil)

// NewVolatileMultiDense creates an empty volatile multi-dense storage.
func NewVolatileMultiDense[T any](innerDim int, distance types.Distance, codec types.Codec[T]) *VolatileMultiDenseStorage[T] {
	return &VolatileMultiDenseStorage[T]{
		volatileBase: newVolatileBase(distance),
		codec:        codec,
		innerDim:     innerDim,
	}
}

// VectorDim returns the inner vector dimension.
func (s *VolatileMultiDenseStorage[T]) VectorDim() int { return s.innerDim }

// Datatype implements VectorStorage.
func (s *VolatileMultiDenseStorage[T]) Datatype() types.Datatype { return s.codec.Datatype }

// TotalVectorCount implements VectorStorage.
func (s *VolatileMultiDenseStorage[T]) TotalVectorCount() uint32 { return uint32(len(s.data)) }

// AvailableVectorCount implements VectorStorage.
func (s *VolatileMultiDenseStorage[T]) AvailableVectorCount() uint32 {
	return availableCount(s.TotalVectorCount(), s.deleted.Count())
}

// GetMulti returns the multi-vector at the given offset.
func (s *VolatileMultiDenseStorage[T]) GetMulti(id types.PointOffset) types.MultiDenseVector {
	return s.data[id]
}

// GetVector implements VectorStorage.
func (s *VolatileMultiDenseStorage[T]) GetVector(id types.PointOffset) types.Vector {
	if int(id) >= len(s.data) {
		panic(fmt.Sprintf("storage: offset %d out of range (total %d)", id, len(s.data)))
	}
	return s.data[id]
}

// GetVectorOpt implements VectorStorage.
func (s *VolatileMultiDenseStorage[T]) GetVectorOpt(id types.PointOffset) (types.Vector, bool) {
	if int(id) >= len(s.data) {
		return nil, false
	}
	return s.data[id], true
}

// GetVectorSequential implements VectorStorage.
func (s *VolatileMultiDenseStorage[T]) GetVectorSequential(id types.PointOffset) types.Vector {
	return s.GetVector(id)
}

// InsertVector implements VectorStorage. The vector round-trips through
// the element codec so precision matches the persistent storages.
func (s *VolatileMultiDenseStorage[T]) InsertVector(id types.PointOffset, v types.Vector, hw *counter.HardwareCounter) error {
	mv, ok := v.(types.MultiDenseVector)
	if !ok {
		return wrongKind(types.VectorKindMultiDense, v.Kind())
	}
	if err := mv.Validate(); err != nil {
		return segerrors.Wrap(segerrors.ErrCodeDimensionMismatch, err)
	}
	if mv.Dim != s.innerDim {
		return segerrors.DimensionMismatch(s.innerDim, mv.Dim)
	}
	for int(id) >= len(s.data) {
		s.data = append(s.data, types.DefaultMultiDenseVector(s.innerDim))
	}
	enc := make([]T, len(mv.Flattened))
	s.codec.Encode(mv.Flattened, enc)
	s.data[id] = types.MultiDenseVector{Flattened: s.codec.DecodeSlice(enc), Dim: s.innerDim}
	hw.IncrVectorIOWrite(len(mv.Flattened) * elemBytes[T]())
	return nil
}

// UpdateFrom implements VectorStorage.
func (s *VolatileMultiDenseStorage[T]) UpdateFrom(vectors VectorIter, stopped *atomic.Bool, hw *counter.HardwareCounter) (Range, error) {
	start := s.TotalVectorCount()
	cur := start
	for v, isDeleted := range vectors {
		if stopped != nil && stopped.Load() {
			return Range{Start: start, End: cur}, segerrors.Cancelled("update_from")
		}
		if err := s.InsertVector(cur, v, hw); err != nil {
			return Range{Start: start, End: cur}, err
		}
		if isDeleted {
			s.deleted.Mark(cur)
		}
		cur++
	}
	return Range{Start: start, End: cur}, nil
}

// DeleteVector implements VectorStorage.
func (s *VolatileMultiDenseStorage[T]) DeleteVector(id types.PointOffset) (bool, error) {
	return s.markDeleted(id, s.TotalVectorCount())
}

// DefaultVector implements VectorStorage.
func (s *VolatileMultiDenseStorage[T]) DefaultVector() types.Vector {
	return types.DefaultMultiDenseVector(s.innerDim)
}
