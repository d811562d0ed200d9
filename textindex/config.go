// Package textindex implements the full-text inverted index of a segment:
// a mutable in-memory accumulator, its immutable compact form, the
// mmap-backed on-disk form, and the builder that converts between them.
package textindex

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// TokenizerKind selects the tokenization strategy.
type TokenizerKind string

const (
	// TokenizerWord splits on anything that is not a letter or digit.
	TokenizerWord TokenizerKind = "word"
	// TokenizerWhitespace splits on whitespace only.
	TokenizerWhitespace TokenizerKind = "whitespace"
	// TokenizerPrefix emits prefixes of word tokens for prefix queries.
	TokenizerPrefix TokenizerKind = "prefix"
	// TokenizerMultilingual splits like word but emits CJK runes as
	// individual tokens.
	TokenizerMultilingual TokenizerKind = "multilingual"
)

// StemmerEnglish is the only stemmer currently supported.
const StemmerEnglish = "english"

// Config configures a text index. The zero value plus DefaultConfig
// defaults matches the common case: word tokenizer, lowercasing, no
// phrase matching.
type Config struct {
	// Tokenizer selects the tokenization strategy.
	Tokenizer TokenizerKind `yaml:"tokenizer" json:"tokenizer"`

	// MinTokenLen drops tokens shorter than this many runes. Zero keeps
	// everything.
	MinTokenLen int `yaml:"min_token_len" json:"min_token_len"`

	// MaxTokenLen drops tokens longer than this many runes. Zero keeps
	// everything. The prefix tokenizer caps emitted prefixes instead.
	MaxTokenLen int `yaml:"max_token_len" json:"max_token_len"`

	// Lowercase folds tokens to lower case. Defaults to true.
	Lowercase *bool `yaml:"lowercase" json:"lowercase"`

	// PhraseMatching retains per-document token positions so ordered
	// phrase queries can be evaluated. Switching modes requires a rebuild.
	PhraseMatching bool `yaml:"phrase_matching" json:"phrase_matching"`

	// Stopwords are dropped after case folding.
	Stopwords []string `yaml:"stopwords" json:"stopwords"`

	// Stemmer names the stemming algorithm; empty disables stemming.
	Stemmer string `yaml:"stemmer" json:"stemmer"`

	// OnDisk keeps the finalized index mmap-backed instead of loading the
	// immutable form into memory.
	OnDisk bool `yaml:"on_disk" json:"on_disk"`
}

// DefaultConfig returns the word tokenizer with lowercasing enabled.
func DefaultConfig() Config {
	return Config{Tokenizer: TokenizerWord}
}

// ParseConfig reads a Config from YAML.
func ParseConfig(raw []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse text index config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the enumerated fields.
func (c Config) Validate() error {
	switch c.Tokenizer {
	case TokenizerWord, TokenizerWhitespace, TokenizerPrefix, TokenizerMultilingual:
	default:
		return fmt.Errorf("unknown tokenizer %q", c.Tokenizer)
	}
	if c.Stemmer != "" && c.Stemmer != StemmerEnglish {
		return fmt.Errorf("unknown stemmer %q", c.Stemmer)
	}
	return nil
}

// lowercase resolves the Lowercase default.
func (c Config) lowercase() bool {
	return c.Lowercase == nil || *c.Lowercase
}
