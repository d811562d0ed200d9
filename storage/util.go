package storage

import (
	"os"
	"path/filepath"
	"strconv"
	"unsafe"

	"github.com/gofrs/flock"

	segerrors "github.com/Aman-CERP/segcore/errors"
	"github.com/Aman-CERP/segcore/types"
)

// populateEnvVar is the only environment variable the core respects.
const populateEnvVar = "POPULATE_ON_OPEN"

// elemBytes returns the in-memory size of one storage element.
func elemBytes[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// wrongKind builds the validation error for a vector of the wrong shape.
func wrongKind(want, got types.VectorKind) error {
	return segerrors.Newf(segerrors.ErrCodeDimensionMismatch, "expected %s vector, got %s", want, got)
}

// acquireLock takes the single-writer lock on a storage directory. A held
// lock means another writer owns the directory.
func acquireLock(dir string) (*flock.Flock, error) {
	l := flock.New(filepath.Join(dir, lockFileName))
	ok, err := l.TryLock()
	if err != nil {
		return nil, segerrors.IOError(l.Path(), err)
	}
	if !ok {
		return nil, segerrors.Newf(segerrors.ErrCodeIO, "storage at %s is locked by another writer", dir)
	}
	return l, nil
}

// releaseLock unlocks without masking an earlier error.
func releaseLock(l *flock.Flock) {
	if l != nil {
		_ = l.Unlock()
	}
}

// populateOnOpen resolves the populate flag: explicit configuration wins,
// then the POPULATE_ON_OPEN environment variable, then false.
func populateOnOpen(explicit *bool) bool {
	if explicit != nil {
		return *explicit
	}
	if v := os.Getenv(populateEnvVar); v != "" {
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
	return false
}
