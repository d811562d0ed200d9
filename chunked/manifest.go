package chunked

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/natefinch/atomic"

	segerrors "github.com/Aman-CERP/segcore/errors"
)

// manifestFormatVersion is bumped on incompatible layout changes.
const manifestFormatVersion = 1

// manifest records the chunk layout of one array. It is rewritten
// atomically by the flusher so readers never observe a torn file.
type manifest struct {
	FormatVersion int    `json:"format_version"`
	Element       string `json:"element"`
	Dim           int    `json:"dim"`
	ChunkCapacity int    `json:"chunk_capacity"`
	ChunkLengths  []int  `json:"chunk_lengths"`
}

// loadManifest reads a manifest. A missing file returns (nil, nil): the
// array starts empty.
func loadManifest(path string) (*manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, segerrors.IOError(path, err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, segerrors.FormatMismatch(path, "manifest is not valid JSON")
	}
	if m.FormatVersion != manifestFormatVersion {
		return nil, segerrors.FormatMismatch(path, "unsupported manifest format version")
	}
	return &m, nil
}

// saveManifest writes the manifest via write-to-temp plus rename.
func saveManifest(path string, m *manifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return segerrors.IOError(path, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(raw)); err != nil {
		return segerrors.IOError(path, err)
	}
	return nil
}
