package chunked

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	segerrors "github.com/Aman-CERP/segcore/errors"
)

// byteArrayElement names the element type in ByteArray manifests.
const byteArrayElement = "byte"

// ByteArray is the byte-addressed chunked mmap used for variable-length
// records. Records never span chunks; appends that do not fit the active
// chunk allocate a new one.
type ByteArray struct {
	cfg      Config
	chunkCap int // bytes per chunk
	chunks   []*Mmap
	lengths  []int // used bytes per chunk
	readOnly bool
}

// OpenByteArray opens the byte array described by cfg. Dim is ignored;
// chunks are sized in bytes.
func OpenByteArray(cfg Config) (*ByteArray, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, segerrors.IOError(cfg.Dir, err)
	}
	a := &ByteArray{cfg: cfg, chunkCap: cfg.chunkSizeBytes()}

	m, err := loadManifest(cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return a, nil
	}
	if m.Element != byteArrayElement {
		return nil, segerrors.FormatMismatch(cfg.ManifestPath,
			fmt.Sprintf("manifest stores %s, opened as byte blob", m.Element))
	}
	a.chunkCap = m.ChunkCapacity
	for i, n := range m.ChunkLengths {
		chunk, err := OpenMmap(a.chunkPath(i), int64(a.chunkCap))
		if err != nil {
			for _, c := range a.chunks {
				_ = c.Close()
			}
			return nil, err
		}
		a.chunks = append(a.chunks, chunk)
		a.lengths = append(a.lengths, n)
	}
	return a, nil
}

func (a *ByteArray) chunkPath(i int) string {
	return filepath.Join(a.cfg.Dir, fmt.Sprintf("%04d%s", i, a.cfg.Ext))
}

// Append writes data into the active chunk, allocating a new chunk file
// when it would not fit. Returns the chunk index and byte offset.
func (a *ByteArray) Append(data []byte) (chunk uint32, off uint32, err error) {
	if a.readOnly {
		return 0, 0, segerrors.Newf(segerrors.ErrCodeIO, "blob at %s is read-only after an I/O fault", a.cfg.Dir)
	}
	if len(data) > a.chunkCap {
		return 0, 0, segerrors.Newf(segerrors.ErrCodeIO,
			"record of %d bytes exceeds chunk capacity %d", len(data), a.chunkCap)
	}
	last := len(a.chunks) - 1
	if last < 0 || a.lengths[last]+len(data) > a.chunkCap {
		c, err := OpenMmap(a.chunkPath(len(a.chunks)), int64(a.chunkCap))
		if err != nil {
			a.readOnly = true
			return 0, 0, err
		}
		a.chunks = append(a.chunks, c)
		a.lengths = append(a.lengths, 0)
		last = len(a.chunks) - 1
	}
	off = uint32(a.lengths[last])
	copy(a.chunks[last].Bytes()[off:], data)
	a.lengths[last] += len(data)
	return uint32(last), off, nil
}

// ReadAt returns a view over n bytes at the given chunk and offset.
func (a *ByteArray) ReadAt(chunk, off, n uint32) ([]byte, error) {
	if int(chunk) >= len(a.chunks) {
		return nil, segerrors.Newf(segerrors.ErrCodeOutOfRange, "chunk %d out of range", chunk)
	}
	if int(off)+int(n) > a.lengths[chunk] {
		return nil, segerrors.Newf(segerrors.ErrCodeOutOfRange,
			"read of %d bytes at %d exceeds chunk length %d", n, off, a.lengths[chunk])
	}
	return a.chunks[chunk].Bytes()[off : off+n], nil
}

// Flusher mirrors Array.Flusher for the byte-addressed layout.
func (a *ByteArray) Flusher() func() error {
	return func() error {
		for _, c := range a.chunks {
			if err := c.Flush(); err != nil {
				a.readOnly = true
				return err
			}
		}
		lengths := make([]int, len(a.lengths))
		copy(lengths, a.lengths)
		return saveManifest(a.cfg.ManifestPath, &manifest{
			FormatVersion: manifestFormatVersion,
			Element:       byteArrayElement,
			Dim:           1,
			ChunkCapacity: a.chunkCap,
			ChunkLengths:  lengths,
		})
	}
}

// Files enumerates the chunk files and manifest.
func (a *ByteArray) Files() []string {
	files := make([]string, 0, len(a.chunks)+1)
	for _, c := range a.chunks {
		files = append(files, c.Path())
	}
	files = append(files, a.cfg.ManifestPath)
	return files
}

// Populate faults all chunks in.
func (a *ByteArray) Populate() error {
	var g errgroup.Group
	for _, c := range a.chunks {
		g.Go(c.Populate)
	}
	return g.Wait()
}

// ClearCache drops cached pages of all chunks.
func (a *ByteArray) ClearCache() error {
	for _, c := range a.chunks {
		if err := c.ClearCache(); err != nil {
			return err
		}
	}
	return nil
}

// Close unmaps all chunks.
func (a *ByteArray) Close() error {
	var firstErr error
	for _, c := range a.chunks {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.chunks = nil
	return firstErr
}
