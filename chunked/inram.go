package chunked

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	segerrors "github.com/Aman-CERP/segcore/errors"
)

// InRamArray offers the same contract as MmapArray with records resident
// in heap memory. The flusher serializes the full content to the identical
// on-disk layout, so the two backings are interchangeable at open time.
type InRamArray[T any] struct {
	cfg      Config
	chunkCap int // records per chunk
	data     []T // length * Dim elements
	length   int
}

var _ Array[float32] = (*InRamArray[float32])(nil)

// OpenInRamArray opens the array described by cfg, reading any previously
// persisted chunk files fully into memory.
func OpenInRamArray[T any](cfg Config) (*InRamArray[T], error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, segerrors.IOError(cfg.Dir, err)
	}
	recBytes := elemSize[T]() * cfg.Dim
	a := &InRamArray[T]{
		cfg:      cfg,
		chunkCap: max(cfg.chunkSizeBytes()/recBytes, 1),
	}

	m, err := loadManifest(cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return a, nil
	}
	if m.Element != cfg.Element || m.Dim != cfg.Dim {
		return nil, segerrors.FormatMismatch(cfg.ManifestPath,
			fmt.Sprintf("manifest stores %s dim=%d, opened as %s dim=%d", m.Element, m.Dim, cfg.Element, cfg.Dim))
	}
	a.chunkCap = m.ChunkCapacity
	for i, n := range m.ChunkLengths {
		raw, err := os.ReadFile(a.chunkPath(i))
		if err != nil {
			return nil, segerrors.IOError(a.chunkPath(i), err)
		}
		want := n * recBytes
		if len(raw) < want {
			return nil, segerrors.FormatMismatch(a.chunkPath(i), "chunk file shorter than manifest length")
		}
		records := make([]T, n*cfg.Dim)
		copy(bytesOf(records), raw[:want])
		a.data = append(a.data, records...)
		a.length += n
	}
	return a, nil
}

func (a *InRamArray[T]) chunkPath(i int) string {
	return filepath.Join(a.cfg.Dir, fmt.Sprintf("%04d%s", i, a.cfg.Ext))
}

// Get implements Array.
func (a *InRamArray[T]) Get(offset uint32) []T {
	if int(offset) >= a.length {
		panic(fmt.Sprintf("chunked: offset %d out of range (len %d)", offset, a.length))
	}
	start := int(offset) * a.cfg.Dim
	return a.data[start : start+a.cfg.Dim]
}

// Push implements Array.
func (a *InRamArray[T]) Push(record []T) (uint32, error) {
	offset := uint32(a.length)
	if err := a.Insert(offset, record); err != nil {
		return 0, err
	}
	return offset, nil
}

// Insert implements Array.
func (a *InRamArray[T]) Insert(offset uint32, record []T) error {
	if len(record) != a.cfg.Dim {
		return segerrors.DimensionMismatch(a.cfg.Dim, len(record))
	}
	need := (int(offset) + 1) * a.cfg.Dim
	for len(a.data) < need {
		a.data = append(a.data, make([]T, need-len(a.data))...)
	}
	copy(a.data[int(offset)*a.cfg.Dim:need], record)
	if int(offset) >= a.length {
		a.length = int(offset) + 1
	}
	return nil
}

// Len implements Array.
func (a *InRamArray[T]) Len() uint32 { return uint32(a.length) }

// Dim implements Array.
func (a *InRamArray[T]) Dim() int { return a.cfg.Dim }

// Flusher implements Array. The heap content is serialized chunk by chunk
// to the mmap layout, each file replaced atomically, the manifest last.
func (a *InRamArray[T]) Flusher() func() error {
	return func() error {
		recBytes := elemSize[T]() * a.cfg.Dim
		lengths := chunkLengths(a.length, a.chunkCap)
		written := 0
		for i, n := range lengths {
			start := written * a.cfg.Dim
			end := (written + n) * a.cfg.Dim
			raw := bytesOf(a.data[start:end])
			// Pad to full chunk capacity to match the mmap chunk files.
			if n < a.chunkCap {
				padded := make([]byte, a.chunkCap*recBytes)
				copy(padded, raw)
				raw = padded
			}
			if err := atomic.WriteFile(a.chunkPath(i), bytes.NewReader(raw)); err != nil {
				return segerrors.IOError(a.chunkPath(i), err)
			}
			written += n
		}
		return saveManifest(a.cfg.ManifestPath, &manifest{
			FormatVersion: manifestFormatVersion,
			Element:       a.cfg.Element,
			Dim:           a.cfg.Dim,
			ChunkCapacity: a.chunkCap,
			ChunkLengths:  lengths,
		})
	}
}

// Files implements Array.
func (a *InRamArray[T]) Files() []string {
	files := make([]string, 0, len(chunkLengths(a.length, a.chunkCap))+1)
	for i := range chunkLengths(a.length, a.chunkCap) {
		files = append(files, a.chunkPath(i))
	}
	files = append(files, a.cfg.ManifestPath)
	return files
}

// Populate implements Array. Heap-resident, nothing to fault in.
func (a *InRamArray[T]) Populate() error { return nil }

// ClearCache implements Array. Heap-resident, nothing to drop.
func (a *InRamArray[T]) ClearCache() error { return nil }

// Close implements Array.
func (a *InRamArray[T]) Close() error {
	a.data = nil
	return nil
}
