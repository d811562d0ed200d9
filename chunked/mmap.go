// Package chunked implements the appendable chunked storages backing the
// vector stores: fixed-record-size arrays spread across memory-mapped
// chunk files, an in-RAM variant persisted to the same layout, and a
// byte-addressed variant for variable-length records.
package chunked

import (
	"os"

	mmap "github.com/blevesearch/mmap-go"
	"golang.org/x/sys/unix"

	segerrors "github.com/Aman-CERP/segcore/errors"
)

const pageSize = 4096

// Mmap wraps one memory-mapped file with its lifecycle operations:
// flush, populate, and cache-drop advice.
type Mmap struct {
	path     string
	f        *os.File
	data     mmap.MMap
	readOnly bool
}

// OpenMmap maps the file at path read-write, creating it and growing it to
// size bytes first when needed. Chunk files are pre-sized so appends never
// remap.
func OpenMmap(path string, size int64) (*Mmap, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, segerrors.IOError(path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, segerrors.IOError(path, err)
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			_ = f.Close()
			return nil, segerrors.IOError(path, err)
		}
	}
	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		_ = f.Close()
		return nil, segerrors.IOError(path, err)
	}
	return &Mmap{path: path, f: f, data: data}, nil
}

// OpenMmapRO maps an existing file read-only in its entirety.
func OpenMmapRO(path string) (*Mmap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, segerrors.IOError(path, err)
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return nil, segerrors.IOError(path, err)
	}
	return &Mmap{path: path, f: f, data: data, readOnly: true}, nil
}

// Path returns the mapped file path.
func (m *Mmap) Path() string { return m.path }

// Bytes returns the mapped region.
func (m *Mmap) Bytes() []byte { return m.data }

// Len returns the mapped length in bytes.
func (m *Mmap) Len() int { return len(m.data) }

// Flush msyncs the mapping and fsyncs the backing file.
func (m *Mmap) Flush() error {
	if m.readOnly {
		return nil
	}
	if err := m.data.Flush(); err != nil {
		return segerrors.IOError(m.path, err)
	}
	if err := m.f.Sync(); err != nil {
		return segerrors.IOError(m.path, err)
	}
	return nil
}

// Populate faults every page of the mapping in, sequentially. The madvise
// call is advisory; the touch loop guarantees residency.
func (m *Mmap) Populate() error {
	if len(m.data) == 0 {
		return nil
	}
	_ = unix.Madvise(m.data, unix.MADV_WILLNEED)
	var sink byte
	for off := 0; off < len(m.data); off += pageSize {
		sink += m.data[off]
	}
	_ = sink
	return nil
}

// ClearCache advises the kernel to drop the cached pages of the mapping.
// Kernel-global advice; other mappings of the same pages are affected.
func (m *Mmap) ClearCache() error {
	if len(m.data) == 0 {
		return nil
	}
	if err := unix.Madvise(m.data, unix.MADV_DONTNEED); err != nil {
		return segerrors.IOError(m.path, err)
	}
	return nil
}

// Close unmaps the region and closes the file.
func (m *Mmap) Close() error {
	err := m.data.Unmap()
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return segerrors.IOError(m.path, err)
	}
	return nil
}
