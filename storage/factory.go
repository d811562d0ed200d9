package storage

import (
	"os"

	segerrors "github.com/Aman-CERP/segcore/errors"
	"github.com/Aman-CERP/segcore/types"
)

// Backend identifies the physical backing of a storage.
type Backend string

const (
	// BackendAppendableMmap stores records in appendable chunked mmap
	// files. The primary medium is disk; pages are resident on demand.
	BackendAppendableMmap Backend = "appendable-mmap"

	// BackendInRamPersisted keeps records in heap memory and persists the
	// identical chunk layout on flush.
	BackendInRamPersisted Backend = "in-ram"

	// BackendVolatile keeps records in heap memory only.
	BackendVolatile Backend = "volatile"
)

// Config configures a storage open.
type Config struct {
	// Dim is the vector dimension (inner dimension for multi-dense).
	// Ignored by sparse storages.
	Dim int

	// Distance is the metric, fixed for the storage lifetime.
	Distance types.Distance

	// Datatype selects the element precision. Sparse storages are always
	// float32.
	Datatype types.Datatype

	// Backend selects the physical backing.
	Backend Backend

	// ChunkSizeBytes overrides the default 32 MiB chunk capacity.
	ChunkSizeBytes int

	// Populate forces page residency after open. When nil, the
	// POPULATE_ON_OPEN environment variable decides.
	Populate *bool
}

func (c Config) validate(needDim bool) error {
	if !c.Distance.Valid() {
		return segerrors.Newf(segerrors.ErrCodeFormatMismatch, "unknown distance %q", c.Distance)
	}
	if needDim && c.Dim <= 0 {
		return segerrors.Newf(segerrors.ErrCodeDimensionMismatch, "non-positive dimension %d", c.Dim)
	}
	return nil
}

// OpenDense opens or creates a dense vector storage under dir. The
// datatype selects the concrete element instantiation.
func OpenDense(dir string, cfg Config) (VectorStorage, error) {
	if err := cfg.validate(true); err != nil {
		return nil, err
	}
	if cfg.Backend == BackendVolatile {
		switch cfg.Datatype {
		case types.DatatypeFloat32, "":
			return NewVolatileDense(cfg.Dim, cfg.Distance, types.Float32Codec), nil
		case types.DatatypeFloat16:
			return NewVolatileDense(cfg.Dim, cfg.Distance, types.Float16Codec), nil
		case types.DatatypeUint8:
			return NewVolatileDense(cfg.Dim, cfg.Distance, types.Uint8Codec), nil
		}
		return nil, unknownDatatype(cfg.Datatype)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, segerrors.IOError(dir, err)
	}
	switch cfg.Datatype {
	case types.DatatypeFloat32, "":
		return openDense(dir, cfg, types.Float32Codec)
	case types.DatatypeFloat16:
		return openDense(dir, cfg, types.Float16Codec)
	case types.DatatypeUint8:
		return openDense(dir, cfg, types.Uint8Codec)
	}
	return nil, unknownDatatype(cfg.Datatype)
}

// OpenMultiDense opens or creates a multi-dense vector storage under dir.
func OpenMultiDense(dir string, cfg Config) (VectorStorage, error) {
	if err := cfg.validate(true); err != nil {
		return nil, err
	}
	if cfg.Backend == BackendVolatile {
		switch cfg.Datatype {
		case types.DatatypeFloat32, "":
			return NewVolatileMultiDense(cfg.Dim, cfg.Distance, types.Float32Codec), nil
		case types.DatatypeFloat16:
			return NewVolatileMultiDense(cfg.Dim, cfg.Distance, types.Float16Codec), nil
		case types.DatatypeUint8:
			return NewVolatileMultiDense(cfg.Dim, cfg.Distance, types.Uint8Codec), nil
		}
		return nil, unknownDatatype(cfg.Datatype)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, segerrors.IOError(dir, err)
	}
	switch cfg.Datatype {
	case types.DatatypeFloat32, "":
		return openMultiDense(dir, cfg, types.Float32Codec)
	case types.DatatypeFloat16:
		return openMultiDense(dir, cfg, types.Float16Codec)
	case types.DatatypeUint8:
		return openMultiDense(dir, cfg, types.Uint8Codec)
	}
	return nil, unknownDatatype(cfg.Datatype)
}

// OpenSparse opens or creates a sparse vector storage under dir. Sparse
// values are always float32; cfg.Datatype and cfg.Dim are ignored.
func OpenSparse(dir string, cfg Config) (VectorStorage, error) {
	if err := cfg.validate(false); err != nil {
		return nil, err
	}
	if cfg.Backend == BackendVolatile {
		return NewVolatileSparse(cfg.Distance), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, segerrors.IOError(dir, err)
	}
	return openSparse(dir, cfg)
}

func unknownDatatype(dt types.Datatype) error {
	return segerrors.Newf(segerrors.ErrCodeFormatMismatch,
		"unknown datatype %q (valid options: f32, f16, u8)", dt)
}
