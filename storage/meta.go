package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/natefinch/atomic"

	segerrors "github.com/Aman-CERP/segcore/errors"
	"github.com/Aman-CERP/segcore/types"
)

const (
	metaFormatVersion = 1

	metaFileName     = "meta.json"
	deletedFileName  = "deleted.bits"
	lockFileName     = ".lock"
	manifestFileName = "manifest.json"

	chunksDirName  = "chunks"
	offsetsDirName = "offsets"
	blobDirName    = "blob"
	indexDirName   = "index"
)

// storageMeta is the meta.json every persistent storage carries.
type storageMeta struct {
	FormatVersion int            `json:"format_version"`
	Kind          string         `json:"kind"`
	Element       string         `json:"element"`
	Dim           *int           `json:"dim"`
	Distance      string         `json:"distance"`
	Total         uint64         `json:"total"`
	Deleted       uint64         `json:"deleted"`
	CreatedAt     time.Time      `json:"created_at"`
	Options       map[string]any `json:"options,omitempty"`
}

// readMeta loads and validates an existing meta.json against the opened
// configuration. A missing file returns (nil, nil): the storage is new.
func readMeta(path, kind string, element types.Datatype, dim *int, distance types.Distance) (*storageMeta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, segerrors.IOError(path, err)
	}
	var m storageMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, segerrors.FormatMismatch(path, "meta is not valid JSON")
	}
	if m.FormatVersion != metaFormatVersion {
		return nil, segerrors.FormatMismatch(path, fmt.Sprintf("unsupported format version %d", m.FormatVersion))
	}
	if m.Kind != kind {
		return nil, segerrors.FormatMismatch(path, fmt.Sprintf("stored kind %q, opened as %q", m.Kind, kind))
	}
	if m.Element != string(element) {
		return nil, segerrors.FormatMismatch(path, fmt.Sprintf("stored element %q, opened as %q", m.Element, element))
	}
	if dim != nil && (m.Dim == nil || *m.Dim != *dim) {
		return nil, segerrors.FormatMismatch(path, "stored dimension differs from configuration")
	}
	if m.Distance != string(distance) {
		return nil, segerrors.FormatMismatch(path, fmt.Sprintf("stored distance %q, opened as %q", m.Distance, distance))
	}
	return &m, nil
}

// writeMeta replaces meta.json atomically.
func writeMeta(path string, m *storageMeta) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return segerrors.IOError(path, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(raw)); err != nil {
		return segerrors.IOError(path, err)
	}
	return nil
}
