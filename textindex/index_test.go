package textindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/segcore/counter"
	"github.com/Aman-CERP/segcore/types"
)

// S4: two documents, word tokenizer, lowercase, phrase matching off.
func TestBuilder_PostingsAndVocabularyOrder(t *testing.T) {
	// Given: a builder with min token length 3
	cfg := Config{Tokenizer: TokenizerWord, MinTokenLen: 3}
	b, err := NewBuilder(t.TempDir(), cfg)
	require.NoError(t, err)
	hw := counter.New()

	// When: I add two points
	require.NoError(t, b.AddMany(0, []string{"the quick brown fox"}, hw))
	require.NoError(t, b.AddMany(1, []string{"quick brown dog"}, hw))

	// Then: vocabulary order follows first appearance
	m := b.mutable
	require.Equal(t, 5, m.VocabSize())
	assert.Equal(t, []string{"the", "quick", "brown", "fox", "dog"}, m.vocab)

	// And: each token lists exactly the points containing it
	quick, ok := m.tokenToID["quick"]
	require.True(t, ok)
	assert.Equal(t, []types.PointOffset{0, 1}, m.Postings(quick))
	assert.Equal(t, []types.PointOffset{0}, m.Postings(m.tokenToID["fox"]))
	assert.Equal(t, []types.PointOffset{1}, m.Postings(m.tokenToID["dog"]))
}

// Postings invariant: P in postings(t) iff t in tokens(doc(P)).
func TestMutableIndex_PostingsMatchTokenSets(t *testing.T) {
	m := NewMutableInvertedIndex(false)
	docs := map[types.PointOffset][]string{
		0: {"alpha", "beta"},
		1: {"beta", "gamma", "beta"},
		2: {"alpha", "gamma"},
	}
	sets := make(map[types.PointOffset]TokenSet)
	for id, tokens := range docs {
		ids := m.RegisterTokens(tokens)
		sets[id] = NewTokenSet(ids)
		m.IndexTokens(id, sets[id])
	}

	for id, set := range sets {
		for t32 := TokenID(0); t32 < uint32(m.VocabSize()); t32++ {
			inPostings := false
			for _, p := range m.Postings(t32) {
				if p == id {
					inPostings = true
				}
			}
			assert.Equal(t, set.Contains(t32), inPostings,
				"point %d token %d", id, t32)
		}
	}
}

// TokenId stability: re-registering a prefix of seen tokens yields the
// same IDs.
func TestMutableIndex_TokenIDStability(t *testing.T) {
	m := NewMutableInvertedIndex(false)
	first := m.RegisterTokens([]string{"x", "y"})
	assert.Equal(t, []TokenID{0, 1}, first)

	second := m.RegisterTokens([]string{"x", "z", "y"})
	assert.Equal(t, []TokenID{0, 2, 1}, second)

	// Duplicates in the input keep their order and repetition.
	third := m.RegisterTokens([]string{"y", "y", "x"})
	assert.Equal(t, []TokenID{1, 1, 0}, third)
}

func TestMutableIndex_Remove(t *testing.T) {
	m := NewMutableInvertedIndex(false)
	ids := m.RegisterTokens([]string{"alpha", "beta"})
	m.IndexTokens(0, NewTokenSet(ids))
	m.IndexTokens(1, NewTokenSet(ids[:1]))

	m.Remove(0)

	assert.Empty(t, m.Postings(ids[1]))
	assert.Equal(t, []types.PointOffset{1}, m.Postings(ids[0]))
}

// S5: phrase matching on, positions per token.
func TestBuilder_PhrasePositions(t *testing.T) {
	cfg := Config{Tokenizer: TokenizerWord, PhraseMatching: true}
	b, err := NewBuilder(t.TempDir(), cfg)
	require.NoError(t, err)

	require.NoError(t, b.AddMany(0, []string{"a b a c"}, counter.New()))

	m := b.mutable
	a := m.tokenToID["a"]
	assert.Equal(t, []uint32{0, 2}, m.Positions(a, 0))
	assert.Equal(t, []uint32{1}, m.Positions(m.tokenToID["b"], 0))
	assert.Equal(t, []uint32{3}, m.Positions(m.tokenToID["c"], 0))

	doc, ok := m.Document(0)
	require.True(t, ok)
	assert.Equal(t, 4, doc.Len())
}

func TestMutableIndex_RemoveWithPositions(t *testing.T) {
	m := NewMutableInvertedIndex(true)
	ids := m.RegisterTokens([]string{"a", "b", "a"})
	m.IndexDocument(0, NewDocument(ids))
	m.IndexTokens(0, NewTokenSet(ids))

	m.Remove(0)

	assert.Empty(t, m.Postings(ids[0]))
	assert.Empty(t, m.Positions(ids[0], 0))
	_, ok := m.Document(0)
	assert.False(t, ok)
}

func TestImmutableIndex_FromMutable(t *testing.T) {
	m := NewMutableInvertedIndex(true)
	add := func(id types.PointOffset, text []string) {
		ids := m.RegisterTokens(text)
		m.IndexDocument(id, NewDocument(ids))
		m.IndexTokens(id, NewTokenSet(ids))
	}
	add(0, []string{"a", "b", "a", "c"})
	add(1, []string{"b", "c"})

	idx := FromMutable(m)

	require.True(t, idx.HasPositions())
	assert.Equal(t, uint32(3), idx.NumTokens())
	assert.Equal(t, uint32(2), idx.PointsCount())

	a, ok := idx.TokenID("a")
	require.True(t, ok)
	assert.Equal(t, []types.PointOffset{0}, idx.Postings(a))
	pos, ok := idx.Positions(a, 0)
	require.True(t, ok)
	assert.Equal(t, []uint32{0, 2}, pos)

	b, _ := idx.TokenID("b")
	assert.Equal(t, []types.PointOffset{0, 1}, idx.Postings(b))
	pos, ok = idx.Positions(b, 1)
	require.True(t, ok)
	assert.Equal(t, []uint32{0}, pos)
}

// Finalize in on-disk mode: the mmap form serves reads directly.
func TestBuilder_FinalizeOnDisk(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Tokenizer: TokenizerWord, PhraseMatching: true, OnDisk: true}
	b, err := NewBuilder(dir, cfg)
	require.NoError(t, err)

	require.NoError(t, b.AddMany(0, []string{"a b a c"}, counter.New()))
	require.NoError(t, b.AddMany(1, []string{"b c"}, counter.New()))

	idx, err := b.Finalize()
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	assert.True(t, idx.IsOnDisk())
	assert.True(t, idx.mmap.Load())
	assert.Equal(t, uint32(2), idx.PointsCount())

	// Vocabulary and postings read back from the mapping.
	a, ok := idx.mmap.TokenID("a")
	require.True(t, ok)
	assert.Equal(t, "a", idx.mmap.Token(a))
	assert.Equal(t, []types.PointOffset{0}, idx.mmap.Postings(a))
	pos, ok := idx.mmap.Positions(a, 0)
	require.True(t, ok)
	assert.Equal(t, []uint32{0, 2}, pos)

	// Phrase checks against the mmap form.
	assert.True(t, idx.CheckMatch("b c", 1))
	assert.True(t, idx.CheckPhraseMatch("a b", 0))
	assert.True(t, idx.CheckPhraseMatch("a c", 0))
	assert.False(t, idx.CheckPhraseMatch("c a", 0))
	assert.False(t, idx.CheckPhraseMatch("a b", 1))
}

// Finalize in hybrid mode: the immutable form serves reads, the mmap form
// is the durable storage underneath.
func TestBuilder_FinalizeHybrid(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Tokenizer: TokenizerWord, MinTokenLen: 3}
	b, err := NewBuilder(dir, cfg)
	require.NoError(t, err)

	require.NoError(t, b.AddMany(0, []string{"the quick brown fox"}, counter.New()))
	require.NoError(t, b.AddMany(1, []string{"quick brown dog"}, counter.New()))

	idx, err := b.Finalize()
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	assert.False(t, idx.IsOnDisk())
	require.NotNil(t, idx.immutable)

	assert.True(t, idx.CheckMatch("quick", 0))
	assert.True(t, idx.CheckMatch("quick brown", 1))
	assert.False(t, idx.CheckMatch("fox", 1))
	assert.False(t, idx.CheckMatch("unknown", 0))

	// The durable file set exists on disk alongside.
	files := idx.Files()
	assert.Len(t, files, 6) // vocab + postings pairs, deleted.bits, meta.json
}

func TestMmapIndex_RemovePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Tokenizer: TokenizerWord, OnDisk: true}
	b, err := NewBuilder(dir, cfg)
	require.NoError(t, err)
	require.NoError(t, b.AddMany(0, []string{"alpha beta"}, counter.New()))
	require.NoError(t, b.AddMany(1, []string{"beta gamma"}, counter.New()))

	idx, err := b.Finalize()
	require.NoError(t, err)

	// When: I remove a point and flush the deletion state
	idx.RemovePoint(0)
	require.NoError(t, idx.Flusher()())
	assert.False(t, idx.CheckMatch("alpha", 0))
	require.NoError(t, idx.Close())

	// Then: a fresh open still sees the deletion
	reopened, err := OpenMmapIndex(dir, false, false)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	assert.True(t, reopened.IsDeleted(0))
	assert.False(t, reopened.IsDeleted(1))
	assert.Equal(t, uint64(1), reopened.DeletedCount())

	// Postings themselves are not mutated by removal.
	beta, ok := reopened.TokenID("beta")
	require.True(t, ok)
	assert.Equal(t, []types.PointOffset{0, 1}, reopened.Postings(beta))
}

func TestMmapIndex_PhraseModeMismatchFailsOpen(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBuilder(dir, Config{Tokenizer: TokenizerWord, OnDisk: true})
	require.NoError(t, err)
	require.NoError(t, b.AddMany(0, []string{"alpha"}, counter.New()))
	idx, err := b.Finalize()
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	// Opening with phrase matching expected must fail cleanly.
	_, err = OpenMmapIndex(dir, false, true)
	assert.Error(t, err)
}

func TestFullTextIndex_Wipe(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBuilder(dir, Config{Tokenizer: TokenizerWord, OnDisk: true})
	require.NoError(t, err)
	require.NoError(t, b.AddMany(0, []string{"alpha"}, counter.New()))
	idx, err := b.Finalize()
	require.NoError(t, err)

	files := idx.Files()
	require.NoError(t, idx.Wipe())
	for _, f := range files {
		assert.NoFileExists(t, f)
	}
}
