package textindex

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/go-porterstemmer"
)

// Tokenizer is a stateless transform from text to a token stream,
// deterministic per configuration. Tokens are emitted through a push
// callback to avoid intermediate allocation.
type Tokenizer struct {
	cfg       Config
	stopwords map[string]struct{}
}

// NewTokenizer builds a tokenizer for the given configuration.
func NewTokenizer(cfg Config) Tokenizer {
	return Tokenizer{
		cfg:       cfg,
		stopwords: BuildStopWordMap(cfg.Stopwords),
	}
}

// Tokenize pushes every token of text to emit, in document order.
func (t Tokenizer) Tokenize(text string, emit func(token string)) {
	switch t.cfg.Tokenizer {
	case TokenizerWhitespace:
		for _, raw := range strings.Fields(text) {
			t.process(raw, emit)
		}
	case TokenizerPrefix:
		for _, raw := range splitWords(text) {
			t.processPrefixes(raw, emit)
		}
	case TokenizerMultilingual:
		for _, raw := range splitMultilingual(text) {
			t.process(raw, emit)
		}
	default: // TokenizerWord
		for _, raw := range splitWords(text) {
			t.process(raw, emit)
		}
	}
}

// process runs the filter chain on one raw token: case folding, stopword
// removal, stemming, then the length bounds.
func (t Tokenizer) process(raw string, emit func(string)) {
	token := raw
	if t.cfg.lowercase() {
		token = strings.ToLower(token)
	}
	if _, isStop := t.stopwords[strings.ToLower(token)]; isStop {
		return
	}
	if t.cfg.Stemmer == StemmerEnglish {
		token = porterstemmer.StemString(token)
	}
	n := utf8.RuneCountInString(token)
	if n == 0 {
		return
	}
	if t.cfg.MinTokenLen > 0 && n < t.cfg.MinTokenLen {
		return
	}
	if t.cfg.MaxTokenLen > 0 && n > t.cfg.MaxTokenLen {
		return
	}
	emit(token)
}

// processPrefixes emits every prefix of the token whose rune length lies
// within the configured bounds. Stemming does not apply to prefixes.
func (t Tokenizer) processPrefixes(raw string, emit func(string)) {
	token := raw
	if t.cfg.lowercase() {
		token = strings.ToLower(token)
	}
	if _, isStop := t.stopwords[strings.ToLower(token)]; isStop {
		return
	}
	minLen := max(t.cfg.MinTokenLen, 1)
	runes := []rune(token)
	maxLen := len(runes)
	if t.cfg.MaxTokenLen > 0 {
		maxLen = min(maxLen, t.cfg.MaxTokenLen)
	}
	for n := minLen; n <= maxLen; n++ {
		emit(string(runes[:n]))
	}
}

// splitWords returns the runs of letters and digits in text.
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// splitMultilingual splits like splitWords, except runes of scripts
// without word separators (Han, Hiragana, Katakana) become tokens of
// their own.
func splitMultilingual(text string) []string {
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r), unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
