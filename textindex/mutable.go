package textindex

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Aman-CERP/segcore/types"
)

// TokenID is the dense integer identifier of a vocabulary term. IDs are
// assigned in the order tokens first appear and are never renumbered, so
// the immutable index shares the mutable builder's numbering without a
// remap.
type TokenID = uint32

// Document is the ordered token sequence of one point, retained when
// phrase matching is enabled.
type Document struct {
	tokens []TokenID
}

// NewDocument wraps an ordered token sequence.
func NewDocument(tokens []TokenID) Document {
	return Document{tokens: tokens}
}

// Len returns the token count.
func (d Document) Len() int { return len(d.tokens) }

// Tokens borrows the ordered token sequence.
func (d Document) Tokens() []TokenID { return d.tokens }

// TokenSet is the deduplicated sorted set of a point's tokens.
type TokenSet []TokenID

// NewTokenSet sorts and deduplicates the given tokens.
func NewTokenSet(tokens []TokenID) TokenSet {
	set := slices.Clone(tokens)
	slices.Sort(set)
	return slices.Compact(set)
}

// Contains reports set membership by binary search.
func (ts TokenSet) Contains(t TokenID) bool {
	_, ok := slices.BinarySearch(ts, t)
	return ok
}

// MutableInvertedIndex is the in-memory accumulator the builder feeds:
// token vocabulary, postings per token, and, in phrase mode, documents
// with per-token positions. Writer-exclusive like the storages.
type MutableInvertedIndex struct {
	tokenToID map[string]TokenID
	vocab     []string
	postings  []*roaring.Bitmap

	// pointToDoc and positions are nil unless phrase matching is on.
	pointToDoc map[types.PointOffset]Document
	positions  []map[types.PointOffset][]uint32

	pointsCount uint32
}

// NewMutableInvertedIndex creates an empty accumulator. withPositions
// materializes documents and position lists for phrase matching.
func NewMutableInvertedIndex(withPositions bool) *MutableInvertedIndex {
	m := &MutableInvertedIndex{
		tokenToID: make(map[string]TokenID),
	}
	if withPositions {
		m.pointToDoc = make(map[types.PointOffset]Document)
	}
	return m
}

// HasPositions reports whether phrase matching data is materialized.
func (m *MutableInvertedIndex) HasPositions() bool { return m.pointToDoc != nil }

// VocabSize returns the number of distinct tokens registered.
func (m *MutableInvertedIndex) VocabSize() int { return len(m.vocab) }

// PointsCount returns the highest indexed point offset plus one.
func (m *MutableInvertedIndex) PointsCount() uint32 { return m.pointsCount }

// RegisterTokens assigns IDs to unseen tokens and returns the per-input
// IDs, preserving order and duplicates.
func (m *MutableInvertedIndex) RegisterTokens(tokens []string) []TokenID {
	ids := make([]TokenID, len(tokens))
	for i, tok := range tokens {
		id, ok := m.tokenToID[tok]
		if !ok {
			id = TokenID(len(m.vocab))
			m.tokenToID[tok] = id
			m.vocab = append(m.vocab, tok)
			m.postings = append(m.postings, roaring.New())
			if m.HasPositions() {
				m.positions = append(m.positions, make(map[types.PointOffset][]uint32))
			}
		}
		ids[i] = id
	}
	return ids
}

// IndexTokens inserts the point into the postings list of every token in
// the set. Re-indexing an already present point is a no-op per token.
func (m *MutableInvertedIndex) IndexTokens(id types.PointOffset, set TokenSet) {
	for _, t := range set {
		m.postings[t].Add(id)
	}
	if id >= m.pointsCount {
		m.pointsCount = id + 1
	}
}

// IndexDocument records the ordered document and its per-token positions.
// Only valid when phrase matching is on.
func (m *MutableInvertedIndex) IndexDocument(id types.PointOffset, doc Document) {
	if !m.HasPositions() {
		return
	}
	m.pointToDoc[id] = doc
	for pos, t := range doc.Tokens() {
		m.positions[t][id] = append(m.positions[t][id], uint32(pos))
	}
	if id >= m.pointsCount {
		m.pointsCount = id + 1
	}
}

// Remove deletes the point from every postings list it belongs to and
// drops its document and positions. Token ID assignments are untouched.
func (m *MutableInvertedIndex) Remove(id types.PointOffset) {
	if m.HasPositions() {
		doc, ok := m.pointToDoc[id]
		if !ok {
			return
		}
		for _, t := range NewTokenSet(doc.Tokens()) {
			m.postings[t].Remove(id)
			delete(m.positions[t], id)
		}
		delete(m.pointToDoc, id)
		return
	}
	for _, bm := range m.postings {
		bm.Remove(id)
	}
}

// Postings returns the sorted point offsets of one token.
func (m *MutableInvertedIndex) Postings(t TokenID) []types.PointOffset {
	return m.postings[t].ToArray()
}

// Positions returns the sorted positions of token t in the document of
// the given point. Empty unless phrase matching is on.
func (m *MutableInvertedIndex) Positions(t TokenID, id types.PointOffset) []uint32 {
	if !m.HasPositions() || int(t) >= len(m.positions) {
		return nil
	}
	return m.positions[t][id]
}

// Document returns the retained document of a point, if any.
func (m *MutableInvertedIndex) Document(id types.PointOffset) (Document, bool) {
	if !m.HasPositions() {
		return Document{}, false
	}
	doc, ok := m.pointToDoc[id]
	return doc, ok
}
