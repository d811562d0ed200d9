// Package storage provides the polymorphic vector store: dense,
// multi-dense, and sparse collections addressed by dense point offsets,
// with soft-deletion tracking and interchangeable physical backings
// (volatile, appendable chunked mmap, in-RAM persisted).
//
// Writers are serialized by the caller; readers may run concurrently
// against a stable snapshot provided by a higher-level lock. There is no
// internal locking.
package storage

import (
	"iter"
	"sync/atomic"

	"github.com/Aman-CERP/segcore/counter"
	"github.com/Aman-CERP/segcore/types"
)

// Flusher is a deferred callable that durably persists all pending writes
// and manifests of a storage. Manifests are replaced atomically so readers
// never observe a torn file.
type Flusher func() error

// Range is a half-open range of point offsets.
type Range struct {
	Start types.PointOffset
	End   types.PointOffset
}

// Len returns the number of offsets in the range.
func (r Range) Len() int { return int(r.End - r.Start) }

// VersionedFile pairs a storage file with its sequence number.
type VersionedFile struct {
	Path    string
	Version uint64
}

// VectorIter yields (vector, is-deleted) pairs for UpdateFrom.
type VectorIter = iter.Seq2[types.Vector, bool]

// VectorStorage is the uniform contract every backing satisfies.
type VectorStorage interface {
	// Distance returns the metric fixed at open.
	Distance() types.Distance

	// Datatype returns the element precision of the storage.
	Datatype() types.Datatype

	// IsOnDisk reports whether the primary medium is a disk-backed memmap
	// not forced resident.
	IsOnDisk() bool

	// TotalVectorCount returns the highest-ever-written offset plus one.
	// Monotonic within a writer session; includes soft-deleted vectors.
	TotalVectorCount() uint32

	// AvailableVectorCount returns total minus deleted, saturating. The
	// deleted count may under-report after a crash before flush.
	AvailableVectorCount() uint32

	// GetVector returns the vector at the given offset. Panics when the
	// offset is at or past TotalVectorCount; callers check deletion first.
	GetVector(id types.PointOffset) types.Vector

	// GetVectorOpt returns the vector, or false when the offset is out of
	// range.
	GetVectorOpt(id types.PointOffset) (types.Vector, bool)

	// GetVectorSequential is semantically GetVector; backings may hint the
	// I/O scheduler for sequential access patterns.
	GetVectorSequential(id types.PointOffset) types.Vector

	// InsertVector writes the vector at the given offset, extending the
	// storage with default vectors as needed. The hardware counter is
	// mandatory on this path.
	InsertVector(id types.PointOffset, v types.Vector, hw *counter.HardwareCounter) error

	// UpdateFrom consumes the iterator, assigning consecutive new offsets
	// in iterator order, and returns the assigned range. The stop flag is
	// polled between records; on cancellation the partially applied work
	// is kept and a cancellation error is returned alongside the range.
	UpdateFrom(vectors VectorIter, stopped *atomic.Bool, hw *counter.HardwareCounter) (Range, error)

	// DeleteVector flags the offset as deleted. Returns true on the first
	// delete, false thereafter and for out-of-range offsets.
	DeleteVector(id types.PointOffset) (bool, error)

	// IsDeletedVector reports the deletion flag; false outside the bitmap.
	IsDeletedVector(id types.PointOffset) bool

	// DeletedVectorCount returns the number of deleted vectors.
	DeletedVectorCount() uint64

	// DeletedVectorBitslice borrows the deletion bitmap words. The size
	// may differ from TotalVectorCount; out-of-range reads as not-deleted.
	DeletedVectorBitslice() []uint64

	// Flusher returns the deferred flush callable.
	Flusher() Flusher

	// Files enumerates the file set for snapshot/restore.
	Files() []string

	// ImmutableFiles enumerates files safe to hard-link without a lock.
	ImmutableFiles() []string

	// VersionedFiles enumerates files carrying their own sequence numbers.
	VersionedFiles() []VersionedFile

	// Populate faults all pages of mmap backings in; no-op otherwise.
	Populate() error

	// ClearCache drops cached pages of mmap backings; no-op otherwise.
	ClearCache() error

	// DefaultVector returns the zero-effort placeholder for the storage
	// shape.
	DefaultVector() types.Vector

	// Close releases mappings, handles, and the writer lock.
	Close() error
}
