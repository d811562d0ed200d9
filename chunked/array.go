package chunked

import "unsafe"

// DefaultChunkSizeBytes is the capacity of one chunk file. Chunks are kept
// at a fixed moderate size to stay within per-file OS limits, allow
// incremental fsync, and bound the cost of populating cold segments.
const DefaultChunkSizeBytes = 32 * 1024 * 1024

// Array is the common contract of the record-addressed chunked storages.
// Records are fixed-size: Dim elements of the instantiated element type.
// Writers are serialized by the caller; there is no internal locking.
type Array[T any] interface {
	// Get returns a view over the record at the given offset. The offset
	// must be below Len.
	Get(offset uint32) []T

	// Push appends a record and returns its offset.
	Push(record []T) (uint32, error)

	// Insert writes the record at the given offset, extending the array
	// with zero records as needed. Writing below the high-water mark
	// rewrites the slot in place.
	Insert(offset uint32, record []T) error

	// Len returns the highest-ever-written offset plus one.
	Len() uint32

	// Dim returns the record width in elements.
	Dim() int

	// Flusher returns a deferred callable that durably persists all
	// touched chunk files and rewrites the manifest atomically.
	Flusher() func() error

	// Files enumerates every file of the array for snapshot purposes.
	Files() []string

	// Populate faults all pages in. No-op for heap-resident arrays.
	Populate() error

	// ClearCache drops cached pages. No-op for heap-resident arrays.
	ClearCache() error

	// Close releases mappings and file handles.
	Close() error
}

// Config describes where an array lives on disk and what it stores.
type Config struct {
	// Dir holds the chunk files.
	Dir string
	// Ext is the chunk file extension, including the dot.
	Ext string
	// ManifestPath locates the manifest file.
	ManifestPath string
	// Dim is the record width in elements.
	Dim int
	// Element names the element type for manifest validation.
	Element string
	// ChunkSizeBytes overrides DefaultChunkSizeBytes when positive.
	ChunkSizeBytes int
}

func (c Config) chunkSizeBytes() int {
	if c.ChunkSizeBytes > 0 {
		return c.ChunkSizeBytes
	}
	return DefaultChunkSizeBytes
}

// elemSize returns the in-memory size of one element.
func elemSize[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// viewOf reinterprets a byte region as a slice of count elements.
func viewOf[T any](b []byte, count int) []T {
	if count == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), count)
}

// bytesOf reinterprets an element slice as its backing bytes.
func bytesOf[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*elemSize[T]())
}

// chunkLengths splits a total record count into per-chunk lengths.
func chunkLengths(total, chunkCap int) []int {
	var lengths []int
	for total > 0 {
		n := min(total, chunkCap)
		lengths = append(lengths, n)
		total -= n
	}
	return lengths
}
