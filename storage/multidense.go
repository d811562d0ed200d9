package storage

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/segcore/bitmap"
	"github.com/Aman-CERP/segcore/chunked"
	"github.com/Aman-CERP/segcore/counter"
	segerrors "github.com/Aman-CERP/segcore/errors"
	"github.com/Aman-CERP/segcore/types"
)

const multiDenseKind = "multi-dense"

// multiOffsetWidth is the record width of the offsets array: (start, count).
const multiOffsetWidth = 2

// MultiDenseStorage pairs a flat element array of inner vectors with an
// offsets array mapping each point to a (start, count) run. Re-inserting
// at an existing offset orphans the previous run; compaction is owned by
// the segment optimizer, not the storage.
type MultiDenseStorage[T any] struct {
	dir       string
	distance  types.Distance
	codec     types.Codec[T]
	innerDim  int
	onDisk    bool
	elements  chunked.Array[T]
	offsets   chunked.Array[uint32]
	deleted   *bitmap.DeletionBitmap
	lock      *flock.Flock
	createdAt time.Time
}

var _ VectorStorage = (*MultiDenseStorage[float32])(nil)

// openMultiDense opens or creates a multi-dense storage under dir.
func openMultiDense[T any](dir string, cfg Config, codec types.Codec[T]) (*MultiDenseStorage[T], error) {
	lock, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}
	meta, err := readMeta(filepath.Join(dir, metaFileName), multiDenseKind, codec.Datatype, &cfg.Dim, cfg.Distance)
	if err != nil {
		releaseLock(lock)
		return nil, err
	}
	elementsCfg := chunked.Config{
		Dir:            filepath.Join(dir, chunksDirName),
		Ext:            ".vec",
		ManifestPath:   filepath.Join(dir, manifestFileName),
		Dim:            cfg.Dim,
		Element:        string(codec.Datatype),
		ChunkSizeBytes: cfg.ChunkSizeBytes,
	}
	offsetsCfg := chunked.Config{
		Dir:            filepath.Join(dir, offsetsDirName),
		Ext:            ".off",
		ManifestPath:   filepath.Join(dir, offsetsDirName, manifestFileName),
		Dim:            multiOffsetWidth,
		Element:        "u32",
		ChunkSizeBytes: cfg.ChunkSizeBytes,
	}
	onDisk := cfg.Backend == BackendAppendableMmap
	var elements chunked.Array[T]
	var offsets chunked.Array[uint32]
	if onDisk {
		elements, err = chunked.OpenMmapArray[T](elementsCfg)
		if err == nil {
			offsets, err = chunked.OpenMmapArray[uint32](offsetsCfg)
		}
	} else {
		elements, err = chunked.OpenInRamArray[T](elementsCfg)
		if err == nil {
			offsets, err = chunked.OpenInRamArray[uint32](offsetsCfg)
		}
	}
	if err != nil {
		if elements != nil {
			_ = elements.Close()
		}
		releaseLock(lock)
		return nil, err
	}
	deleted, err := bitmap.Load(filepath.Join(dir, deletedFileName))
	if err != nil {
		_ = elements.Close()
		_ = offsets.Close()
		releaseLock(lock)
		return nil, err
	}

	s := &MultiDenseStorage[T]{
		dir:       dir,
		distance:  cfg.Distance,
		codec:     codec,
		innerDim:  cfg.Dim,
		onDisk:    onDisk,
		elements:  elements,
		offsets:   offsets,
		deleted:   deleted,
		lock:      lock,
		createdAt: time.Now().UTC(),
	}
	if meta != nil {
		s.createdAt = meta.CreatedAt
	}
	if populateOnOpen(cfg.Populate) {
		if err := s.Populate(); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// VectorDim returns the inner vector dimension.
func (s *MultiDenseStorage[T]) VectorDim() int { return s.innerDim }

// Distance implements VectorStorage.
func (s *MultiDenseStorage[T]) Distance() types.Distance { return s.distance }

// Datatype implements VectorStorage.
func (s *MultiDenseStorage[T]) Datatype() types.Datatype { return s.codec.Datatype }

// IsOnDisk implements VectorStorage.
func (s *MultiDenseStorage[T]) IsOnDisk() bool { return s.onDisk }

// TotalVectorCount implements VectorStorage.
func (s *MultiDenseStorage[T]) TotalVectorCount() uint32 { return s.offsets.Len() }

// AvailableVectorCount implements VectorStorage.
func (s *MultiDenseStorage[T]) AvailableVectorCount() uint32 {
	return availableCount(s.TotalVectorCount(), s.deleted.Count())
}

// GetMulti returns the multi-vector at the given offset, widened to
// float32. The offset must be below TotalVectorCount.
func (s *MultiDenseStorage[T]) GetMulti(id types.PointOffset) types.MultiDenseVector {
	rec := s.offsets.Get(id)
	start, count := rec[0], rec[1]
	flat := make([]float32, 0, int(count)*s.innerDim)
	for i := uint32(0); i < count; i++ {
		row := s.elements.Get(start + i)
		flat = append(flat, s.codec.DecodeSlice(row)...)
	}
	return types.MultiDenseVector{Flattened: flat, Dim: s.innerDim}
}

// GetMultiOpt returns the multi-vector, or false when out of range.
func (s *MultiDenseStorage[T]) GetMultiOpt(id types.PointOffset) (types.MultiDenseVector, bool) {
	if id >= s.TotalVectorCount() {
		return types.MultiDenseVector{}, false
	}
	return s.GetMulti(id), true
}

// GetVector implements VectorStorage.
func (s *MultiDenseStorage[T]) GetVector(id types.PointOffset) types.Vector {
	if id >= s.TotalVectorCount() {
		panic(fmt.Sprintf("storage: offset %d out of range (total %d)", id, s.TotalVectorCount()))
	}
	return s.GetMulti(id)
}

// GetVectorOpt implements VectorStorage.
func (s *MultiDenseStorage[T]) GetVectorOpt(id types.PointOffset) (types.Vector, bool) {
	if id >= s.TotalVectorCount() {
		return nil, false
	}
	return s.GetMulti(id), true
}

// GetVectorSequential implements VectorStorage.
func (s *MultiDenseStorage[T]) GetVectorSequential(id types.PointOffset) types.Vector {
	return s.GetVector(id)
}

// InsertVector implements VectorStorage. The inner vectors are appended to
// the element array and the offsets slot is overwritten to point at the
// new run; a re-insert leaves the old run orphaned.
func (s *MultiDenseStorage[T]) InsertVector(id types.PointOffset, v types.Vector, hw *counter.HardwareCounter) error {
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
	for gap := s.TotalVectorCount(); gap < id; gap++ {
		if err := s.insertRun(gap, types.DefaultMultiDenseVector(s.innerDim), nil); err != nil {
			return err
		}
	}
	return s.insertRun(id, mv, hw)
}

func (s *MultiDenseStorage[T]) insertRun(id types.PointOffset, mv types.MultiDenseVector, hw *counter.HardwareCounter) error {
	start := s.elements.Len()
	count := uint32(mv.Count())
	rec := make([]T, s.innerDim)
	for i := range int(count) {
		s.codec.Encode(mv.Inner(i), rec)
		if _, err := s.elements.Push(rec); err != nil {
			return err
		}
	}
	if err := s.offsets.Insert(id, []uint32{start, count}); err != nil {
		return err
	}
	hw.IncrVectorIOWrite(int(count)*s.innerDim*elemBytes[T]() + multiOffsetWidth*4)
	return nil
}

// UpdateFrom implements VectorStorage.
func (s *MultiDenseStorage[T]) UpdateFrom(vectors VectorIter, stopped *atomic.Bool, hw *counter.HardwareCounter) (Range, error) {
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
func (s *MultiDenseStorage[T]) DeleteVector(id types.PointOffset) (bool, error) {
	if id >= s.TotalVectorCount() {
		return false, nil
	}
	return s.deleted.Mark(id), nil
}

// IsDeletedVector implements VectorStorage.
func (s *MultiDenseStorage[T]) IsDeletedVector(id types.PointOffset) bool {
	return s.deleted.IsSet(id)
}

// DeletedVectorCount implements VectorStorage.
func (s *MultiDenseStorage[T]) DeletedVectorCount() uint64 { return s.deleted.Count() }

// DeletedVectorBitslice implements VectorStorage.
func (s *MultiDenseStorage[T]) DeletedVectorBitslice() []uint64 { return s.deleted.Words() }

// Flusher implements VectorStorage.
func (s *MultiDenseStorage[T]) Flusher() Flusher {
	ef := s.elements.Flusher()
	of := s.offsets.Flusher()
	return func() error {
		if err := ef(); err != nil {
			return err
		}
		if err := of(); err != nil {
			return err
		}
		if err := s.deleted.WriteTo(filepath.Join(s.dir, deletedFileName)); err != nil {
			return err
		}
		dim := s.innerDim
		return writeMeta(filepath.Join(s.dir, metaFileName), &storageMeta{
			FormatVersion: metaFormatVersion,
			Kind:          multiDenseKind,
			Element:       string(s.codec.Datatype),
			Dim:           &dim,
			Distance:      string(s.distance),
			Total:         uint64(s.TotalVectorCount()),
			Deleted:       s.deleted.Count(),
			CreatedAt:     s.createdAt,
			Options:       map[string]any{"on_disk": s.onDisk},
		})
	}
}

// Files implements VectorStorage.
func (s *MultiDenseStorage[T]) Files() []string {
	files := s.elements.Files()
	files = append(files, s.offsets.Files()...)
	files = append(files, filepath.Join(s.dir, deletedFileName), filepath.Join(s.dir, metaFileName))
	return files
}

// ImmutableFiles implements VectorStorage.
func (s *MultiDenseStorage[T]) ImmutableFiles() []string { return nil }

// VersionedFiles implements VectorStorage.
func (s *MultiDenseStorage[T]) VersionedFiles() []VersionedFile { return nil }

// Populate implements VectorStorage.
func (s *MultiDenseStorage[T]) Populate() error {
	if err := s.elements.Populate(); err != nil {
		return err
	}
	return s.offsets.Populate()
}

// ClearCache implements VectorStorage.
func (s *MultiDenseStorage[T]) ClearCache() error {
	if err := s.elements.ClearCache(); err != nil {
		return err
	}
	return s.offsets.ClearCache()
}

// DefaultVector implements VectorStorage.
func (s *MultiDenseStorage[T]) DefaultVector() types.Vector {
	return types.DefaultMultiDenseVector(s.innerDim)
}

// Close implements VectorStorage.
func (s *MultiDenseStorage[T]) Close() error {
	err := s.elements.Close()
	if cerr := s.offsets.Close(); err == nil {
		err = cerr
	}
	releaseLock(s.lock)
	return err
}
