package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/segcore/bitmap"
	"github.com/Aman-CERP/segcore/chunked"
	"github.com/Aman-CERP/segcore/counter"
	segerrors "github.com/Aman-CERP/segcore/errors"
	"github.com/Aman-CERP/segcore/types"
)

const sparseKind = "sparse"

// sparseDirWidth is the record width of the offset directory:
// (chunk, byte offset, byte length).
const sparseDirWidth = 3

// sparseCacheSize bounds the decoded-record cache.
const sparseCacheSize = 512

// SparseStorage stores variable-length sparse vectors as length-prefixed
// records inside a byte-addressed chunked mmap, with a parallel offset
// directory mapping each point to its record. Sparse values are always
// float32. The storage does not expose an aggregate byte size; callers
// obtain totals from the external sparse index.
type SparseStorage struct {
	dir       string
	distance  types.Distance
	onDisk    bool
	blob      *chunked.ByteArray
	directory chunked.Array[uint32]
	cache     *lru.Cache[types.PointOffset, types.SparseVector]
	deleted   *bitmap.DeletionBitmap
	lock      *flock.Flock
	createdAt time.Time
}

var _ VectorStorage = (*SparseStorage)(nil)

// openSparse opens or creates a sparse storage under dir.
func openSparse(dir string, cfg Config) (*SparseStorage, error) {
	lock, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}
	meta, err := readMeta(filepath.Join(dir, metaFileName), sparseKind, types.DatatypeFloat32, nil, cfg.Distance)
	if err != nil {
		releaseLock(lock)
		return nil, err
	}
	blob, err := chunked.OpenByteArray(chunked.Config{
		Dir:            filepath.Join(dir, blobDirName),
		Ext:            ".bin",
		ManifestPath:   filepath.Join(dir, manifestFileName),
		ChunkSizeBytes: cfg.ChunkSizeBytes,
	})
	if err != nil {
		releaseLock(lock)
		return nil, err
	}
	directory, err := chunked.OpenMmapArray[uint32](chunked.Config{
		Dir:            filepath.Join(dir, indexDirName),
		Ext:            ".idx",
		ManifestPath:   filepath.Join(dir, indexDirName, manifestFileName),
		Dim:            sparseDirWidth,
		Element:        "u32",
		ChunkSizeBytes: cfg.ChunkSizeBytes,
	})
	if err != nil {
		_ = blob.Close()
		releaseLock(lock)
		return nil, err
	}
	deleted, err := bitmap.Load(filepath.Join(dir, deletedFileName))
	if err != nil {
		_ = blob.Close()
		_ = directory.Close()
		releaseLock(lock)
		return nil, err
	}
	cache, err := lru.New[types.PointOffset, types.SparseVector](sparseCacheSize)
	if err != nil {
		_ = blob.Close()
		_ = directory.Close()
		releaseLock(lock)
		return nil, segerrors.Wrap(segerrors.ErrCodeIO, err)
	}

	s := &SparseStorage{
		dir:       dir,
		distance:  cfg.Distance,
		onDisk:    true,
		blob:      blob,
		directory: directory,
		cache:     cache,
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

// encodeSparse lays a record out as u32 count, indices block, values block.
func encodeSparse(sv types.SparseVector) []byte {
	n := len(sv.Indices)
	buf := make([]byte, 4+8*n)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	for i, idx := range sv.Indices {
		binary.LittleEndian.PutUint32(buf[4+4*i:], idx)
	}
	for i, val := range sv.Values {
		binary.LittleEndian.PutUint32(buf[4+4*n+4*i:], math.Float32bits(val))
	}
	return buf
}

// decodeSparse copies a record back out of the blob.
func decodeSparse(raw []byte) (types.SparseVector, error) {
	if len(raw) < 4 {
		return types.SparseVector{}, segerrors.Newf(segerrors.ErrCodeFormatMismatch, "sparse record shorter than its header")
	}
	n := int(binary.LittleEndian.Uint32(raw))
	if len(raw) < 4+8*n {
		return types.SparseVector{}, segerrors.Newf(segerrors.ErrCodeFormatMismatch, "sparse record truncated")
	}
	sv := types.SparseVector{
		Indices: make([]uint32, n),
		Values:  make([]float32, n),
	}
	for i := range n {
		sv.Indices[i] = binary.LittleEndian.Uint32(raw[4+4*i:])
	}
	for i := range n {
		sv.Values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4+4*n+4*i:]))
	}
	return sv, nil
}

// Distance implements VectorStorage.
func (s *SparseStorage) Distance() types.Distance { return s.distance }

// Datatype implements VectorStorage. Sparse values are always float32.
func (s *SparseStorage) Datatype() types.Datatype { return types.DatatypeFloat32 }

// IsOnDisk implements VectorStorage.
func (s *SparseStorage) IsOnDisk() bool { return s.onDisk }

// TotalVectorCount implements VectorStorage.
func (s *SparseStorage) TotalVectorCount() uint32 { return s.directory.Len() }

// AvailableVectorCount implements VectorStorage.
func (s *SparseStorage) AvailableVectorCount() uint32 {
	return availableCount(s.TotalVectorCount(), s.deleted.Count())
}

// GetSparse decodes the sparse vector at the given offset. Offsets never
// written decode as the empty vector: their directory record is zero.
func (s *SparseStorage) GetSparse(id types.PointOffset) (types.SparseVector, error) {
	if id >= s.TotalVectorCount() {
		return types.SparseVector{}, segerrors.Newf(segerrors.ErrCodeOutOfRange,
			"offset %d out of range (total %d)", id, s.TotalVectorCount())
	}
	if sv, ok := s.cache.Get(id); ok {
		return sv, nil
	}
	rec := s.directory.Get(id)
	chunk, off, length := rec[0], rec[1], rec[2]
	if length == 0 {
		return types.SparseVector{}, nil
	}
	raw, err := s.blob.ReadAt(chunk, off, length)
	if err != nil {
		return types.SparseVector{}, err
	}
	sv, err := decodeSparse(raw)
	if err != nil {
		return types.SparseVector{}, err
	}
	s.cache.Add(id, sv)
	return sv, nil
}

// GetSparseSequential is GetSparse; the blob is append-ordered already.
func (s *SparseStorage) GetSparseSequential(id types.PointOffset) (types.SparseVector, error) {
	return s.GetSparse(id)
}

// GetSparseOpt returns the sparse vector, or false when out of range.
func (s *SparseStorage) GetSparseOpt(id types.PointOffset) (types.SparseVector, bool, error) {
	if id >= s.TotalVectorCount() {
		return types.SparseVector{}, false, nil
	}
	sv, err := s.GetSparse(id)
	if err != nil {
		return types.SparseVector{}, false, err
	}
	return sv, true, nil
}

// GetVector implements VectorStorage.
func (s *SparseStorage) GetVector(id types.PointOffset) types.Vector {
	sv, err := s.GetSparse(id)
	if err != nil {
		panic(fmt.Sprintf("storage: %v", err))
	}
	return sv
}

// GetVectorOpt implements VectorStorage.
func (s *SparseStorage) GetVectorOpt(id types.PointOffset) (types.Vector, bool) {
	sv, ok, err := s.GetSparseOpt(id)
	if err != nil || !ok {
		return nil, false
	}
	return sv, true
}

// GetVectorSequential implements VectorStorage.
func (s *SparseStorage) GetVectorSequential(id types.PointOffset) types.Vector {
	return s.GetVector(id)
}

// InsertVector implements VectorStorage. Malformed sparse vectors are
// rejected atomically with no state change.
func (s *SparseStorage) InsertVector(id types.PointOffset, v types.Vector, hw *counter.HardwareCounter) error {
	sv, ok := v.(types.SparseVector)
	if !ok {
		return wrongKind(types.VectorKindSparse, v.Kind())
	}
	if err := sv.Validate(); err != nil {
		return segerrors.InvalidSparse(err)
	}
	raw := encodeSparse(sv)
	chunk, off, err := s.blob.Append(raw)
	if err != nil {
		return err
	}
	// Gap offsets keep their zero directory record and read as empty.
	if err := s.directory.Insert(id, []uint32{chunk, off, uint32(len(raw))}); err != nil {
		return err
	}
	s.cache.Remove(id)
	hw.IncrVectorIOWrite(len(raw) + sparseDirWidth*4)
	return nil
}

// UpdateFrom implements VectorStorage.
func (s *SparseStorage) UpdateFrom(vectors VectorIter, stopped *atomic.Bool, hw *counter.HardwareCounter) (Range, error) {
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
func (s *SparseStorage) DeleteVector(id types.PointOffset) (bool, error) {
	if id >= s.TotalVectorCount() {
		return false, nil
	}
	return s.deleted.Mark(id), nil
}

// IsDeletedVector implements VectorStorage.
func (s *SparseStorage) IsDeletedVector(id types.PointOffset) bool {
	return s.deleted.IsSet(id)
}

// DeletedVectorCount implements VectorStorage.
func (s *SparseStorage) DeletedVectorCount() uint64 { return s.deleted.Count() }

// DeletedVectorBitslice implements VectorStorage.
func (s *SparseStorage) DeletedVectorBitslice() []uint64 { return s.deleted.Words() }

// Flusher implements VectorStorage.
func (s *SparseStorage) Flusher() Flusher {
	bf := s.blob.Flusher()
	df := s.directory.Flusher()
	return func() error {
		if err := bf(); err != nil {
			return err
		}
		if err := df(); err != nil {
			return err
		}
		if err := s.deleted.WriteTo(filepath.Join(s.dir, deletedFileName)); err != nil {
			return err
		}
		return writeMeta(filepath.Join(s.dir, metaFileName), &storageMeta{
			FormatVersion: metaFormatVersion,
			Kind:          sparseKind,
			Element:       string(types.DatatypeFloat32),
			Distance:      string(s.distance),
			Total:         uint64(s.TotalVectorCount()),
			Deleted:       s.deleted.Count(),
			CreatedAt:     s.createdAt,
			Options:       map[string]any{"on_disk": s.onDisk},
		})
	}
}

// Files implements VectorStorage.
func (s *SparseStorage) Files() []string {
	files := s.blob.Files()
	files = append(files, s.directory.Files()...)
	files = append(files, filepath.Join(s.dir, deletedFileName), filepath.Join(s.dir, metaFileName))
	return files
}

// ImmutableFiles implements VectorStorage.
func (s *SparseStorage) ImmutableFiles() []string { return nil }

// VersionedFiles implements VectorStorage.
func (s *SparseStorage) VersionedFiles() []VersionedFile { return nil }

// Populate implements VectorStorage.
func (s *SparseStorage) Populate() error {
	if err := s.blob.Populate(); err != nil {
		return err
	}
	return s.directory.Populate()
}

// ClearCache implements VectorStorage.
func (s *SparseStorage) ClearCache() error {
	if err := s.blob.ClearCache(); err != nil {
		return err
	}
	return s.directory.ClearCache()
}

// DefaultVector implements VectorStorage.
func (s *SparseStorage) DefaultVector() types.Vector {
	return types.DefaultSparseVector()
}

// Close implements VectorStorage.
func (s *SparseStorage) Close() error {
	err := s.blob.Close()
	if cerr := s.directory.Close(); err == nil {
		err = cerr
	}
	s.cache.Purge()
	releaseLock(s.lock)
	return err
}
