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

const denseKind = "dense"

// DenseStorage stores fixed-dimension vectors of element type T over an
// appendable chunked array, either memory-mapped or in-RAM persisted.
type DenseStorage[T any] struct {
	dir       string
	distance  types.Distance
	codec     types.Codec[T]
	dim       int
	onDisk    bool
	vectors   chunked.Array[T]
	deleted   *bitmap.DeletionBitmap
	lock      *flock.Flock
	createdAt time.Time

	// defaultRec is the encoded default vector used to fill gaps.
	defaultRec []T
}

var _ VectorStorage = (*DenseStorage[float32])(nil)

// openDense opens or creates a dense storage under dir.
func openDense[T any](dir string, cfg Config, codec types.Codec[T]) (*DenseStorage[T], error) {
	lock, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}
	meta, err := readMeta(filepath.Join(dir, metaFileName), denseKind, codec.Datatype, &cfg.Dim, cfg.Distance)
	if err != nil {
		releaseLock(lock)
		return nil, err
	}
	arrayCfg := chunked.Config{
		Dir:            filepath.Join(dir, chunksDirName),
		Ext:            ".vec",
		ManifestPath:   filepath.Join(dir, manifestFileName),
		Dim:            cfg.Dim,
		Element:        string(codec.Datatype),
		ChunkSizeBytes: cfg.ChunkSizeBytes,
	}
	var vectors chunked.Array[T]
	onDisk := cfg.Backend == BackendAppendableMmap
	if onDisk {
		vectors, err = chunked.OpenMmapArray[T](arrayCfg)
	} else {
		vectors, err = chunked.OpenInRamArray[T](arrayCfg)
	}
	if err != nil {
		releaseLock(lock)
		return nil, err
	}
	deleted, err := bitmap.Load(filepath.Join(dir, deletedFileName))
	if err != nil {
		_ = vectors.Close()
		releaseLock(lock)
		return nil, err
	}

	s := &DenseStorage[T]{
		dir:        dir,
		distance:   cfg.Distance,
		codec:      codec,
		dim:        cfg.Dim,
		onDisk:     onDisk,
		vectors:    vectors,
		deleted:    deleted,
		lock:       lock,
		createdAt:  time.Now().UTC(),
		defaultRec: encodeDense(codec, types.DefaultDenseVector(cfg.Dim)),
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

func encodeDense[T any](codec types.Codec[T], v types.DenseVector) []T {
	rec := make([]T, len(v))
	codec.Encode(v, rec)
	return rec
}

// VectorDim returns the vector dimension fixed at open.
func (s *DenseStorage[T]) VectorDim() int { return s.dim }

// Distance implements VectorStorage.
func (s *DenseStorage[T]) Distance() types.Distance { return s.distance }

// Datatype implements VectorStorage.
func (s *DenseStorage[T]) Datatype() types.Datatype { return s.codec.Datatype }

// IsOnDisk implements VectorStorage.
func (s *DenseStorage[T]) IsOnDisk() bool { return s.onDisk }

// TotalVectorCount implements VectorStorage.
func (s *DenseStorage[T]) TotalVectorCount() uint32 { return s.vectors.Len() }

// AvailableVectorCount implements VectorStorage.
func (s *DenseStorage[T]) AvailableVectorCount() uint32 {
	return availableCount(s.TotalVectorCount(), s.deleted.Count())
}

// GetDense returns the raw element slice at the given offset.
func (s *DenseStorage[T]) GetDense(id types.PointOffset) []T {
	return s.vectors.Get(id)
}

// GetDenseSequential is GetDense; chunk pages are already laid out for
// sequential scans and readahead is left to the kernel.
func (s *DenseStorage[T]) GetDenseSequential(id types.PointOffset) []T {
	return s.vectors.Get(id)
}

// GetDenseBatch fills the caller-provided buffer with the records for the
// given keys and returns the initialized prefix. Batches are capped at
// types.VectorReadBatchSize.
func (s *DenseStorage[T]) GetDenseBatch(keys []types.PointOffset, out [][]T) [][]T {
	n := min(len(keys), len(out), types.VectorReadBatchSize)
	for i := range n {
		out[i] = s.vectors.Get(keys[i])
	}
	return out[:n]
}

// GetVector implements VectorStorage.
func (s *DenseStorage[T]) GetVector(id types.PointOffset) types.Vector {
	if id >= s.TotalVectorCount() {
		panic(fmt.Sprintf("storage: offset %d out of range (total %d)", id, s.TotalVectorCount()))
	}
	return types.DenseVector(s.codec.DecodeSlice(s.vectors.Get(id)))
}

// GetVectorOpt implements VectorStorage.
func (s *DenseStorage[T]) GetVectorOpt(id types.PointOffset) (types.Vector, bool) {
	if id >= s.TotalVectorCount() {
		return nil, false
	}
	return s.GetVector(id), true
}

// GetVectorSequential implements VectorStorage.
func (s *DenseStorage[T]) GetVectorSequential(id types.PointOffset) types.Vector {
	return s.GetVector(id)
}

// InsertVector implements VectorStorage.
func (s *DenseStorage[T]) InsertVector(id types.PointOffset, v types.Vector, hw *counter.HardwareCounter) error {
	dv, ok := v.(types.DenseVector)
	if !ok {
		return wrongKind(types.VectorKindDense, v.Kind())
	}
	if len(dv) != s.dim {
		return segerrors.DimensionMismatch(s.dim, len(dv))
	}
	for gap := s.TotalVectorCount(); gap < id; gap++ {
		if err := s.vectors.Insert(gap, s.defaultRec); err != nil {
			return err
		}
	}
	rec := make([]T, s.dim)
	s.codec.Encode(dv, rec)
	if err := s.vectors.Insert(id, rec); err != nil {
		return err
	}
	hw.IncrVectorIOWrite(s.dim * elemBytes[T]())
	return nil
}

// UpdateFrom implements VectorStorage.
func (s *DenseStorage[T]) UpdateFrom(vectors VectorIter, stopped *atomic.Bool, hw *counter.HardwareCounter) (Range, error) {
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
func (s *DenseStorage[T]) DeleteVector(id types.PointOffset) (bool, error) {
	if id >= s.TotalVectorCount() {
		return false, nil
	}
	return s.deleted.Mark(id), nil
}

// IsDeletedVector implements VectorStorage.
func (s *DenseStorage[T]) IsDeletedVector(id types.PointOffset) bool {
	return s.deleted.IsSet(id)
}

// DeletedVectorCount implements VectorStorage.
func (s *DenseStorage[T]) DeletedVectorCount() uint64 { return s.deleted.Count() }

// DeletedVectorBitslice implements VectorStorage.
func (s *DenseStorage[T]) DeletedVectorBitslice() []uint64 { return s.deleted.Words() }

// SizeOfAvailableVectorsInBytes returns available count times record size.
func (s *DenseStorage[T]) SizeOfAvailableVectorsInBytes() int {
	return int(s.AvailableVectorCount()) * s.dim * elemBytes[T]()
}

// Flusher implements VectorStorage.
func (s *DenseStorage[T]) Flusher() Flusher {
	vf := s.vectors.Flusher()
	return func() error {
		if err := vf(); err != nil {
			return err
		}
		if err := s.deleted.WriteTo(filepath.Join(s.dir, deletedFileName)); err != nil {
			return err
		}
		return s.writeMeta()
	}
}

func (s *DenseStorage[T]) writeMeta() error {
	dim := s.dim
	return writeMeta(filepath.Join(s.dir, metaFileName), &storageMeta{
		FormatVersion: metaFormatVersion,
		Kind:          denseKind,
		Element:       string(s.codec.Datatype),
		Dim:           &dim,
		Distance:      string(s.distance),
		Total:         uint64(s.TotalVectorCount()),
		Deleted:       s.deleted.Count(),
		CreatedAt:     s.createdAt,
		Options:       map[string]any{"on_disk": s.onDisk},
	})
}

// Files implements VectorStorage.
func (s *DenseStorage[T]) Files() []string {
	files := s.vectors.Files()
	files = append(files, filepath.Join(s.dir, deletedFileName), filepath.Join(s.dir, metaFileName))
	return files
}

// ImmutableFiles implements VectorStorage. Appendable storages rewrite
// their chunk files; nothing is safe to hard-link without a lock.
func (s *DenseStorage[T]) ImmutableFiles() []string { return nil }

// VersionedFiles implements VectorStorage.
func (s *DenseStorage[T]) VersionedFiles() []VersionedFile { return nil }

// Populate implements VectorStorage.
func (s *DenseStorage[T]) Populate() error { return s.vectors.Populate() }

// ClearCache implements VectorStorage.
func (s *DenseStorage[T]) ClearCache() error { return s.vectors.ClearCache() }

// DefaultVector implements VectorStorage.
func (s *DenseStorage[T]) DefaultVector() types.Vector {
	return types.DefaultDenseVector(s.dim)
}

// Close implements VectorStorage.
func (s *DenseStorage[T]) Close() error {
	err := s.vectors.Close()
	releaseLock(s.lock)
	return err
}

// availableCount saturates total minus deleted: after a crash before
// flush the bitmap may be ahead of the data files.
func availableCount(total uint32, deleted uint64) uint32 {
	if deleted >= uint64(total) {
		return 0
	}
	return total - uint32(deleted)
}
