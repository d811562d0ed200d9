package chunked

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	segerrors "github.com/Aman-CERP/segcore/errors"
)

// MmapArray is the append-only, fixed-record-size array spread across
// fixed-capacity memory-mapped chunk files. Each chunk is an independent
// pre-sized file; the manifest records the per-chunk lengths.
type MmapArray[T any] struct {
	cfg       Config
	elemBytes int
	recBytes  int
	chunkCap  int // records per chunk
	chunks    []*Mmap
	length    int
	readOnly  bool
}

var _ Array[float32] = (*MmapArray[float32])(nil)

// OpenMmapArray opens the array described by cfg, creating an empty one
// when no manifest exists yet.
func OpenMmapArray[T any](cfg Config) (*MmapArray[T], error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, segerrors.IOError(cfg.Dir, err)
	}
	es := elemSize[T]()
	recBytes := es * cfg.Dim
	chunkCap := max(cfg.chunkSizeBytes()/recBytes, 1)

	a := &MmapArray[T]{
		cfg:       cfg,
		elemBytes: es,
		recBytes:  recBytes,
		chunkCap:  chunkCap,
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
		chunk, err := OpenMmap(a.chunkPath(i), int64(a.chunkCap*a.recBytes))
		if err != nil {
			a.closeChunks()
			return nil, err
		}
		a.chunks = append(a.chunks, chunk)
		a.length += n
	}
	return a, nil
}

func (a *MmapArray[T]) chunkPath(i int) string {
	return filepath.Join(a.cfg.Dir, fmt.Sprintf("%04d%s", i, a.cfg.Ext))
}

func (a *MmapArray[T]) closeChunks() {
	for _, c := range a.chunks {
		_ = c.Close()
	}
	a.chunks = nil
}

// Get implements Array.
func (a *MmapArray[T]) Get(offset uint32) []T {
	if int(offset) >= a.length {
		panic(fmt.Sprintf("chunked: offset %d out of range (len %d)", offset, a.length))
	}
	chunk := int(offset) / a.chunkCap
	idx := int(offset) % a.chunkCap
	start := idx * a.recBytes
	return viewOf[T](a.chunks[chunk].Bytes()[start:start+a.recBytes], a.cfg.Dim)
}

// Push implements Array.
func (a *MmapArray[T]) Push(record []T) (uint32, error) {
	offset := uint32(a.length)
	if err := a.Insert(offset, record); err != nil {
		return 0, err
	}
	return offset, nil
}

// Insert implements Array. Gap records introduced by inserting past the
// high-water mark read as zero: fresh chunk pages are zero-filled.
func (a *MmapArray[T]) Insert(offset uint32, record []T) error {
	if a.readOnly {
		return segerrors.Newf(segerrors.ErrCodeIO, "array at %s is read-only after an I/O fault", a.cfg.Dir)
	}
	if len(record) != a.cfg.Dim {
		return segerrors.DimensionMismatch(a.cfg.Dim, len(record))
	}
	chunk := int(offset) / a.chunkCap
	if err := a.ensureChunks(chunk + 1); err != nil {
		a.readOnly = true
		return err
	}
	idx := int(offset) % a.chunkCap
	start := idx * a.recBytes
	copy(viewOf[T](a.chunks[chunk].Bytes()[start:start+a.recBytes], a.cfg.Dim), record)
	if int(offset) >= a.length {
		a.length = int(offset) + 1
	}
	return nil
}

// ensureChunks allocates chunk files up to the given count.
func (a *MmapArray[T]) ensureChunks(n int) error {
	for len(a.chunks) < n {
		chunk, err := OpenMmap(a.chunkPath(len(a.chunks)), int64(a.chunkCap*a.recBytes))
		if err != nil {
			return err
		}
		a.chunks = append(a.chunks, chunk)
	}
	return nil
}

// Len implements Array.
func (a *MmapArray[T]) Len() uint32 { return uint32(a.length) }

// Dim implements Array.
func (a *MmapArray[T]) Dim() int { return a.cfg.Dim }

// Flusher implements Array. The callable msyncs every chunk, fsyncs the
// backing files, then replaces the manifest atomically so a crash can
// never leave a manifest pointing past durable data.
func (a *MmapArray[T]) Flusher() func() error {
	return func() error {
		for _, c := range a.chunks {
			if err := c.Flush(); err != nil {
				a.readOnly = true
				return err
			}
		}
		return saveManifest(a.cfg.ManifestPath, &manifest{
			FormatVersion: manifestFormatVersion,
			Element:       a.cfg.Element,
			Dim:           a.cfg.Dim,
			ChunkCapacity: a.chunkCap,
			ChunkLengths:  chunkLengths(a.length, a.chunkCap),
		})
	}
}

// Files implements Array.
func (a *MmapArray[T]) Files() []string {
	files := make([]string, 0, len(a.chunks)+1)
	for _, c := range a.chunks {
		files = append(files, c.Path())
	}
	files = append(files, a.cfg.ManifestPath)
	return files
}

// Populate implements Array. Chunks fault in concurrently; each chunk is
// touched sequentially.
func (a *MmapArray[T]) Populate() error {
	var g errgroup.Group
	for _, c := range a.chunks {
		g.Go(c.Populate)
	}
	return g.Wait()
}

// ClearCache implements Array.
func (a *MmapArray[T]) ClearCache() error {
	for _, c := range a.chunks {
		if err := c.ClearCache(); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Array.
func (a *MmapArray[T]) Close() error {
	var firstErr error
	for _, c := range a.chunks {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.chunks = nil
	return firstErr
}
