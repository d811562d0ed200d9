package textindex

import (
	"os"
	"slices"

	"github.com/Aman-CERP/segcore/types"
)

// FullTextIndex is the finalized text index. The mmap form is always
// present as the durable storage; in hybrid (RAM) mode the immutable
// in-memory form serves reads on top of it.
type FullTextIndex struct {
	cfg       Config
	tokenizer Tokenizer
	mmap      *MmapInvertedIndex
	immutable *ImmutableInvertedIndex
}

// IsOnDisk reports whether reads go to the mmap form.
func (f *FullTextIndex) IsOnDisk() bool { return f.immutable == nil }

// Config returns the index configuration.
func (f *FullTextIndex) Config() Config { return f.cfg }

// PointsCount returns the highest indexed point offset plus one.
func (f *FullTextIndex) PointsCount() uint32 { return f.mmap.PointsCount() }

// RemovePoint sets the deletion bit for the point. Postings are left in
// place; readers filter deleted points.
func (f *FullTextIndex) RemovePoint(id types.PointOffset) {
	f.mmap.Remove(id)
}

// Flusher returns the deferred callable persisting the deletion state.
func (f *FullTextIndex) Flusher() func() error { return f.mmap.Flusher() }

// Files enumerates the file set.
func (f *FullTextIndex) Files() []string { return f.mmap.Files() }

// ImmutableFiles enumerates the files safe to hard-link without a lock.
func (f *FullTextIndex) ImmutableFiles() []string { return f.mmap.ImmutableFiles() }

// Populate faults all mmap pages in.
func (f *FullTextIndex) Populate() error { return f.mmap.Populate() }

// ClearCache drops the cached mmap pages.
func (f *FullTextIndex) ClearCache() error { return f.mmap.ClearCache() }

// Wipe closes the index and deletes all of its files and the directory.
func (f *FullTextIndex) Wipe() error {
	files := f.Files()
	path := f.mmap.Path()
	if err := f.Close(); err != nil {
		return err
	}
	for _, file := range files {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	_ = os.Remove(path)
	return nil
}

// Close releases the underlying mappings.
func (f *FullTextIndex) Close() error { return f.mmap.Close() }

// queryTokens tokenizes a query and resolves every token. The second
// result is false when any token is missing from the vocabulary, in
// which case nothing can match.
func (f *FullTextIndex) queryTokens(query string) ([]TokenID, bool) {
	var ids []TokenID
	ok := true
	f.tokenizer.Tokenize(query, func(token string) {
		var id TokenID
		var found bool
		if f.immutable != nil {
			id, found = f.immutable.TokenID(token)
		} else {
			id, found = f.mmap.TokenID(token)
		}
		if !found {
			ok = false
			return
		}
		ids = append(ids, id)
	})
	return ids, ok
}

func (f *FullTextIndex) postings(t TokenID) []types.PointOffset {
	if f.immutable != nil {
		return f.immutable.Postings(t)
	}
	return f.mmap.Postings(t)
}

func (f *FullTextIndex) positions(t TokenID, id types.PointOffset) ([]uint32, bool) {
	if f.immutable != nil {
		return f.immutable.Positions(t, id)
	}
	return f.mmap.Positions(t, id)
}

// CheckMatch reports whether the point contains every token of the query.
// Deleted points never match.
func (f *FullTextIndex) CheckMatch(query string, id types.PointOffset) bool {
	if f.mmap.IsDeleted(id) {
		return false
	}
	tokens, ok := f.queryTokens(query)
	if !ok {
		return false
	}
	for _, t := range tokens {
		if _, found := slices.BinarySearch(f.postings(t), id); !found {
			return false
		}
	}
	return true
}

// CheckPhraseMatch reports whether the point contains the query tokens as
// a contiguous ordered phrase. Requires phrase matching to be enabled.
func (f *FullTextIndex) CheckPhraseMatch(phrase string, id types.PointOffset) bool {
	if !f.cfg.PhraseMatching || f.mmap.IsDeleted(id) {
		return false
	}
	tokens, ok := f.queryTokens(phrase)
	if !ok || len(tokens) == 0 {
		return false
	}
	first, found := f.positions(tokens[0], id)
	if !found {
		return false
	}
	for _, start := range first {
		match := true
		for k := 1; k < len(tokens); k++ {
			list, found := f.positions(tokens[k], id)
			if !found {
				return false
			}
			if _, hit := slices.BinarySearch(list, start+uint32(k)); !hit {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
