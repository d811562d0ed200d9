package textindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(tok Tokenizer, text string) []string {
	var out []string
	tok.Tokenize(text, func(t string) { out = append(out, t) })
	return out
}

func TestTokenizer_WordLowercase(t *testing.T) {
	tok := NewTokenizer(Config{Tokenizer: TokenizerWord})
	assert.Equal(t,
		[]string{"the", "quick", "brown", "fox"},
		collect(tok, "The quick-BROWN...fox!"))
}

func TestTokenizer_MinMaxTokenLen(t *testing.T) {
	tok := NewTokenizer(Config{Tokenizer: TokenizerWord, MinTokenLen: 3, MaxTokenLen: 5})
	assert.Equal(t,
		[]string{"the", "quick", "fox"},
		collect(tok, "the quick brownish fox is"))
}

func TestTokenizer_Whitespace(t *testing.T) {
	tok := NewTokenizer(Config{Tokenizer: TokenizerWhitespace})
	// Punctuation stays attached to its word.
	assert.Equal(t,
		[]string{"foo-bar", "baz!"},
		collect(tok, "  foo-bar  baz! "))
}

func TestTokenizer_Stopwords(t *testing.T) {
	tok := NewTokenizer(Config{
		Tokenizer: TokenizerWord,
		Stopwords: []string{"the", "is"},
	})
	assert.Equal(t,
		[]string{"quick", "fox"},
		collect(tok, "THE quick fox is"))
}

func TestTokenizer_Stemmer(t *testing.T) {
	tok := NewTokenizer(Config{Tokenizer: TokenizerWord, Stemmer: StemmerEnglish})
	assert.Equal(t,
		[]string{"run", "quickli"},
		collect(tok, "running quickly"))
}

func TestTokenizer_Prefix(t *testing.T) {
	tok := NewTokenizer(Config{Tokenizer: TokenizerPrefix, MinTokenLen: 1, MaxTokenLen: 3})
	assert.Equal(t,
		[]string{"f", "fo", "fox"},
		collect(tok, "fox"))
}

func TestTokenizer_MultilingualSplitsCJK(t *testing.T) {
	tok := NewTokenizer(Config{Tokenizer: TokenizerMultilingual})
	assert.Equal(t,
		[]string{"hello", "世", "界"},
		collect(tok, "hello世界"))
}

func TestTokenizer_Deterministic(t *testing.T) {
	tok := NewTokenizer(Config{Tokenizer: TokenizerWord, MinTokenLen: 2})
	text := "Deterministic token streams are a hard requirement"
	first := collect(tok, text)
	second := collect(tok, text)
	require.Equal(t, first, second)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte("tokenizer: word\nmin_token_len: 3\nphrase_matching: true\n"))
	require.NoError(t, err)
	assert.Equal(t, TokenizerWord, cfg.Tokenizer)
	assert.Equal(t, 3, cfg.MinTokenLen)
	assert.True(t, cfg.PhraseMatching)
	assert.True(t, cfg.lowercase())

	_, err = ParseConfig([]byte("tokenizer: nope\n"))
	assert.Error(t, err)
}
