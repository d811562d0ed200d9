package textindex

import (
	"slices"

	"github.com/Aman-CERP/segcore/types"
)

// ImmutableInvertedIndex is the compact read-only form derived from a
// MutableInvertedIndex in one shot: a contiguous vocabulary indexed by
// TokenID, plain sorted postings arrays, and, in phrase mode, per-posting
// position arrays parallel to the postings.
type ImmutableInvertedIndex struct {
	vocab     []string
	tokenToID map[string]TokenID
	postings  [][]types.PointOffset

	// positions[t][k] holds the positions of token t in the k-th posting
	// of t. Nil when phrase matching is off.
	positions [][][]uint32

	pointsCount uint32
}

// FromMutable consumes the accumulator into its immutable form. Token
// numbering is carried over unchanged.
func FromMutable(m *MutableInvertedIndex) *ImmutableInvertedIndex {
	idx := &ImmutableInvertedIndex{
		vocab:       slices.Clone(m.vocab),
		tokenToID:   make(map[string]TokenID, len(m.vocab)),
		postings:    make([][]types.PointOffset, len(m.vocab)),
		pointsCount: m.pointsCount,
	}
	for tok, id := range m.tokenToID {
		idx.tokenToID[tok] = id
	}
	for t := range m.postings {
		idx.postings[t] = m.postings[t].ToArray()
	}
	if m.HasPositions() {
		idx.positions = make([][][]uint32, len(m.vocab))
		for t := range m.postings {
			lists := make([][]uint32, len(idx.postings[t]))
			for k, point := range idx.postings[t] {
				lists[k] = m.positions[t][point]
			}
			idx.positions[t] = lists
		}
	}
	return idx
}

// HasPositions reports whether position arrays are materialized.
func (i *ImmutableInvertedIndex) HasPositions() bool { return i.positions != nil }

// NumTokens returns the vocabulary size.
func (i *ImmutableInvertedIndex) NumTokens() uint32 { return uint32(len(i.vocab)) }

// PointsCount returns the highest indexed point offset plus one.
func (i *ImmutableInvertedIndex) PointsCount() uint32 { return i.pointsCount }

// TokenID resolves a token string.
func (i *ImmutableInvertedIndex) TokenID(token string) (TokenID, bool) {
	id, ok := i.tokenToID[token]
	return id, ok
}

// Token returns the token string of an ID.
func (i *ImmutableInvertedIndex) Token(id TokenID) string { return i.vocab[id] }

// Postings returns the sorted point offsets of one token.
func (i *ImmutableInvertedIndex) Postings(t TokenID) []types.PointOffset {
	return i.postings[t]
}

// Positions returns the position list of token t in the document of the
// given point, or false when the point is not in the token's postings.
func (i *ImmutableInvertedIndex) Positions(t TokenID, id types.PointOffset) ([]uint32, bool) {
	if !i.HasPositions() {
		return nil, false
	}
	k, ok := slices.BinarySearch(i.postings[t], id)
	if !ok {
		return nil, false
	}
	return i.positions[t][k], true
}
