package textindex

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"unsafe"

	"github.com/natefinch/atomic"

	"github.com/Aman-CERP/segcore/bitmap"
	"github.com/Aman-CERP/segcore/chunked"
	segerrors "github.com/Aman-CERP/segcore/errors"
	"github.com/Aman-CERP/segcore/types"
)

// indexFormatVersion is bumped on incompatible file layout changes.
const indexFormatVersion = 1

// 8-byte ASCII magic tags carried by each .dat file.
const (
	vocabMagic     = "TXTVOCAB"
	postingsMagic  = "TXTPOSTS"
	positionsMagic = "TXTPOSNS"
)

// File names of the on-disk index, all under one directory.
const (
	vocabDatFile     = "vocab.dat"
	vocabIdxFile     = "vocab.idx"
	postingsDatFile  = "postings.dat"
	postingsIdxFile  = "postings.idx"
	positionsDatFile = "positions.dat"
	positionsIdxFile = "positions.idx"
	deletedBitsFile  = "deleted.bits"
	indexMetaFile    = "meta.json"
)

// indexMeta is the meta.json of the inverted index.
type indexMeta struct {
	Version      int    `json:"version"`
	HasPositions bool   `json:"has_positions"`
	NumTokens    uint32 `json:"num_tokens"`
	NumPoints    uint32 `json:"num_points"`
}

// MmapInvertedIndex is the on-disk form of the immutable index plus its
// loader. The .dat and .idx files are immutable once created; only the
// deletion bitfield mutates afterwards.
type MmapInvertedIndex struct {
	path         string
	hasPositions bool
	meta         indexMeta

	vocabDat     *chunked.Mmap
	vocabIdx     *chunked.Mmap
	postingsDat  *chunked.Mmap
	postingsIdx  *chunked.Mmap
	positionsDat *chunked.Mmap
	positionsIdx *chunked.Mmap

	tokenToID map[string]TokenID
	deleted   *bitmap.DeletionBitmap
}

// CreateMmapIndex writes the full file set for the given immutable index
// under dir. Every file is replaced atomically (write-to-temp, rename).
func CreateMmapIndex(dir string, idx *ImmutableInvertedIndex) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return segerrors.IOError(dir, err)
	}

	// Vocabulary: concatenated token bytes plus end-offset directory.
	var vocabData bytes.Buffer
	vocabData.WriteString(vocabMagic)
	vocabEnds := make([]uint64, 0, len(idx.vocab))
	var end uint64
	for _, tok := range idx.vocab {
		vocabData.WriteString(tok)
		end += uint64(len(tok))
		vocabEnds = append(vocabEnds, end)
	}
	if err := writeIndexFile(filepath.Join(dir, vocabDatFile), vocabData.Bytes()); err != nil {
		return err
	}
	if err := writeIndexFile(filepath.Join(dir, vocabIdxFile), encodeOffsets(vocabEnds)); err != nil {
		return err
	}

	// Postings: concatenated sorted u32 arrays plus end-offset directory.
	var postingsData bytes.Buffer
	postingsData.WriteString(postingsMagic)
	postingsEnds := make([]uint64, 0, len(idx.postings))
	end = 0
	for _, points := range idx.postings {
		for _, p := range points {
			var rec [4]byte
			binary.LittleEndian.PutUint32(rec[:], p)
			postingsData.Write(rec[:])
		}
		end += uint64(4 * len(points))
		postingsEnds = append(postingsEnds, end)
	}
	if err := writeIndexFile(filepath.Join(dir, postingsDatFile), postingsData.Bytes()); err != nil {
		return err
	}
	if err := writeIndexFile(filepath.Join(dir, postingsIdxFile), encodeOffsets(postingsEnds)); err != nil {
		return err
	}

	// Positions: one u32 array per posting entry, token-major order.
	if idx.HasPositions() {
		var posData bytes.Buffer
		posData.WriteString(positionsMagic)
		var posEnds []uint64
		end = 0
		for t := range idx.postings {
			for k := range idx.postings[t] {
				for _, pos := range idx.positions[t][k] {
					var rec [4]byte
					binary.LittleEndian.PutUint32(rec[:], pos)
					posData.Write(rec[:])
				}
				end += uint64(4 * len(idx.positions[t][k]))
				posEnds = append(posEnds, end)
			}
		}
		if err := writeIndexFile(filepath.Join(dir, positionsDatFile), posData.Bytes()); err != nil {
			return err
		}
		if err := writeIndexFile(filepath.Join(dir, positionsIdxFile), encodeOffsets(posEnds)); err != nil {
			return err
		}
	}

	if err := bitmap.New().WriteTo(filepath.Join(dir, deletedBitsFile)); err != nil {
		return err
	}

	meta := indexMeta{
		Version:      indexFormatVersion,
		HasPositions: idx.HasPositions(),
		NumTokens:    idx.NumTokens(),
		NumPoints:    idx.PointsCount(),
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return segerrors.IOError(filepath.Join(dir, indexMetaFile), err)
	}
	return writeIndexFile(filepath.Join(dir, indexMetaFile), raw)
}

func writeIndexFile(path string, data []byte) error {
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return segerrors.IOError(path, err)
	}
	return nil
}

// encodeOffsets lays an offset directory out as u64 count plus u64 ends.
func encodeOffsets(ends []uint64) []byte {
	buf := make([]byte, 8+8*len(ends))
	binary.LittleEndian.PutUint64(buf, uint64(len(ends)))
	for i, e := range ends {
		binary.LittleEndian.PutUint64(buf[8+8*i:], e)
	}
	return buf
}

// OpenMmapIndex maps an index previously written by CreateMmapIndex,
// validates its meta, and optionally faults all pages in.
func OpenMmapIndex(dir string, populate bool, hasPositions bool) (*MmapInvertedIndex, error) {
	metaPath := filepath.Join(dir, indexMetaFile)
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, segerrors.IOError(metaPath, err)
	}
	var meta indexMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, segerrors.FormatMismatch(metaPath, "meta is not valid JSON")
	}
	if meta.Version != indexFormatVersion {
		return nil, segerrors.FormatMismatch(metaPath, "unsupported index version")
	}
	if meta.HasPositions != hasPositions {
		return nil, segerrors.FormatMismatch(metaPath, "phrase matching mode differs from the stored index; rebuild required")
	}

	idx := &MmapInvertedIndex{path: dir, hasPositions: hasPositions, meta: meta}
	ok := false
	defer func() {
		if !ok {
			_ = idx.Close()
		}
	}()

	if idx.vocabDat, err = chunked.OpenMmapRO(filepath.Join(dir, vocabDatFile)); err != nil {
		return nil, err
	}
	if idx.vocabIdx, err = chunked.OpenMmapRO(filepath.Join(dir, vocabIdxFile)); err != nil {
		return nil, err
	}
	if idx.postingsDat, err = chunked.OpenMmapRO(filepath.Join(dir, postingsDatFile)); err != nil {
		return nil, err
	}
	if idx.postingsIdx, err = chunked.OpenMmapRO(filepath.Join(dir, postingsIdxFile)); err != nil {
		return nil, err
	}
	if hasPositions {
		if idx.positionsDat, err = chunked.OpenMmapRO(filepath.Join(dir, positionsDatFile)); err != nil {
			return nil, err
		}
		if idx.positionsIdx, err = chunked.OpenMmapRO(filepath.Join(dir, positionsIdxFile)); err != nil {
			return nil, err
		}
	}
	if !idx.Load() {
		return nil, segerrors.FormatMismatch(dir, "inverted index magic or offset directory mismatch")
	}

	idx.deleted, err = bitmap.Load(filepath.Join(dir, deletedBitsFile))
	if err != nil {
		return nil, err
	}

	// The query path resolves tokens through a heap map rebuilt at open;
	// the mmap form stores only the forward (id to string) direction.
	idx.tokenToID = make(map[string]TokenID, meta.NumTokens)
	for t := range meta.NumTokens {
		idx.tokenToID[idx.Token(t)] = t
	}

	if populate {
		if err := idx.Populate(); err != nil {
			return nil, err
		}
	}
	ok = true
	return idx, nil
}

// Load confirms the integrity of the mapped files: magic tags and offset
// directory shapes. Returns false on any mismatch.
func (i *MmapInvertedIndex) Load() bool {
	checkDat := func(m *chunked.Mmap, magic string) bool {
		return m != nil && m.Len() >= len(magic) && string(m.Bytes()[:len(magic)]) == magic
	}
	checkIdx := func(m *chunked.Mmap, count uint64) bool {
		if m == nil || m.Len() < 8 {
			return false
		}
		n := binary.LittleEndian.Uint64(m.Bytes())
		return n == count && uint64(m.Len()) >= 8+8*n
	}
	if !checkDat(i.vocabDat, vocabMagic) || !checkDat(i.postingsDat, postingsMagic) {
		return false
	}
	if !checkIdx(i.vocabIdx, uint64(i.meta.NumTokens)) || !checkIdx(i.postingsIdx, uint64(i.meta.NumTokens)) {
		return false
	}
	if i.hasPositions {
		if !checkDat(i.positionsDat, positionsMagic) {
			return false
		}
		totalPostings := uint64(0)
		if i.meta.NumTokens > 0 {
			totalPostings = offsetsView(i.postingsIdx)[i.meta.NumTokens-1] / 4
		}
		if !checkIdx(i.positionsIdx, totalPostings) {
			return false
		}
	}
	return true
}

// offsetsView reinterprets an offset directory mapping as its u64 ends.
func offsetsView(m *chunked.Mmap) []uint64 {
	n := binary.LittleEndian.Uint64(m.Bytes())
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(&m.Bytes()[8])), n)
}

// u32View reinterprets a .dat byte range as u32 elements.
func u32View(b []byte) []uint32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// span resolves the half-open byte range of entry t in an offset
// directory, relative to the data section after the magic.
func span(ends []uint64, t uint32) (start, end uint64) {
	if t > 0 {
		start = ends[t-1]
	}
	return start, ends[t]
}

// HasPositions reports whether the index carries position arrays.
func (i *MmapInvertedIndex) HasPositions() bool { return i.hasPositions }

// NumTokens returns the vocabulary size.
func (i *MmapInvertedIndex) NumTokens() uint32 { return i.meta.NumTokens }

// PointsCount returns the highest indexed point offset plus one.
func (i *MmapInvertedIndex) PointsCount() uint32 { return i.meta.NumPoints }

// TokenID resolves a token string.
func (i *MmapInvertedIndex) TokenID(token string) (TokenID, bool) {
	id, ok := i.tokenToID[token]
	return id, ok
}

// Token returns the token string of an ID, copied out of the mapping.
func (i *MmapInvertedIndex) Token(t TokenID) string {
	start, end := span(offsetsView(i.vocabIdx), t)
	return string(i.vocabDat.Bytes()[8+start : 8+end])
}

// Postings returns a view over the sorted point offsets of one token.
func (i *MmapInvertedIndex) Postings(t TokenID) []types.PointOffset {
	start, end := span(offsetsView(i.postingsIdx), t)
	return u32View(i.postingsDat.Bytes()[8+start : 8+end])
}

// Positions returns the position list of token t in the document of the
// given point, or false when the point is not in the token's postings.
func (i *MmapInvertedIndex) Positions(t TokenID, id types.PointOffset) ([]uint32, bool) {
	if !i.hasPositions {
		return nil, false
	}
	postings := i.Postings(t)
	k, ok := slices.BinarySearch(postings, id)
	if !ok {
		return nil, false
	}
	// Entries are token-major: the global entry index is the number of
	// posting elements before this token plus the rank within it.
	tokenStart, _ := span(offsetsView(i.postingsIdx), t)
	entry := uint32(tokenStart/4) + uint32(k)
	start, end := span(offsetsView(i.positionsIdx), entry)
	return u32View(i.positionsDat.Bytes()[8+start : 8+end]), true
}

// Remove sets the deletion bit for the point. Postings are not mutated;
// readers filter through IsDeleted.
func (i *MmapInvertedIndex) Remove(id types.PointOffset) {
	i.deleted.Mark(id)
}

// IsDeleted reports the deletion flag of a point.
func (i *MmapInvertedIndex) IsDeleted(id types.PointOffset) bool {
	return i.deleted.IsSet(id)
}

// DeletedCount returns the number of removed points.
func (i *MmapInvertedIndex) DeletedCount() uint64 { return i.deleted.Count() }

// Flusher returns the deferred callable persisting the deletion bitfield.
// The data files are immutable and need no flushing.
func (i *MmapInvertedIndex) Flusher() func() error {
	return func() error {
		return i.deleted.WriteTo(filepath.Join(i.path, deletedBitsFile))
	}
}

// Path returns the index directory.
func (i *MmapInvertedIndex) Path() string { return i.path }

// Files enumerates the full file set for snapshot/restore.
func (i *MmapInvertedIndex) Files() []string {
	files := []string{
		filepath.Join(i.path, vocabDatFile),
		filepath.Join(i.path, vocabIdxFile),
		filepath.Join(i.path, postingsDatFile),
		filepath.Join(i.path, postingsIdxFile),
	}
	if i.hasPositions {
		files = append(files,
			filepath.Join(i.path, positionsDatFile),
			filepath.Join(i.path, positionsIdxFile),
		)
	}
	return append(files,
		filepath.Join(i.path, deletedBitsFile),
		filepath.Join(i.path, indexMetaFile),
	)
}

// ImmutableFiles enumerates the files safe to hard-link without a lock:
// everything except the mutable deletion bitfield.
func (i *MmapInvertedIndex) ImmutableFiles() []string {
	files := i.Files()
	out := files[:0]
	for _, f := range files {
		if filepath.Base(f) != deletedBitsFile {
			out = append(out, f)
		}
	}
	return out
}

// Populate faults all mapped pages in.
func (i *MmapInvertedIndex) Populate() error {
	for _, m := range i.mappings() {
		if err := m.Populate(); err != nil {
			return err
		}
	}
	return nil
}

// ClearCache advises the kernel to drop the cached pages.
func (i *MmapInvertedIndex) ClearCache() error {
	for _, m := range i.mappings() {
		if err := m.ClearCache(); err != nil {
			return err
		}
	}
	return nil
}

func (i *MmapInvertedIndex) mappings() []*chunked.Mmap {
	all := []*chunked.Mmap{i.vocabDat, i.vocabIdx, i.postingsDat, i.postingsIdx, i.positionsDat, i.positionsIdx}
	present := all[:0]
	for _, m := range all {
		if m != nil {
			present = append(present, m)
		}
	}
	return present
}

// Close releases all mappings.
func (i *MmapInvertedIndex) Close() error {
	var firstErr error
	for _, m := range i.mappings() {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
