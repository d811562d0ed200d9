package textindex

import "strings"

// DefaultEnglishStopwords is a minimal english stopword list callers can
// put into Config.Stopwords.
var DefaultEnglishStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by",
	"for", "if", "in", "into", "is", "it", "no", "not", "of",
	"on", "or", "such", "that", "the", "their", "then", "there",
	"these", "they", "this", "to", "was", "will", "with",
}

// BuildStopWordMap converts a slice of stop words to a map for efficient
// lookup. Words are folded to lower case.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
