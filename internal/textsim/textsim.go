// Package textsim provides lexical keyword extraction and similarity scoring
// shared by the planner, triage raters and the coordination registry.
package textsim

import (
	"regexp"
	"strings"
)

var (
	wordPattern   = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_]*`)
	numberPattern = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)*`)
)

// stopWords are common English and request-phrasing words that carry no
// signal for role or domain matching.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "in": true, "is": true, "it": true,
	"its": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "this": true, "to": true, "was": true, "will": true,
	"with": true, "not": true, "but": true, "you": true, "your": true,
	"can": true, "do": true, "does": true, "should": true, "would": true,
	"could": true, "may": true, "might": true, "must": true, "need": true,
	"if": true, "then": true, "when": true, "where": true, "which": true,
	"what": true, "how": true, "why": true, "all": true, "any": true,
	"some": true, "into": true, "our": true, "we": true, "please": true,
	"make": true, "get": true, "also": true, "just": true, "very": true,
}

// minKeywordLen drops tokens shorter than this.
const minKeywordLen = 3

// Keywords returns the unique lowercase keywords of text in first-seen order.
func Keywords(text string) []string {
	if text == "" {
		return nil
	}
	words := wordPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(words))
	keywords := make([]string, 0, len(words))
	for _, word := range words {
		lower := strings.ToLower(word)
		if len(lower) < minKeywordLen || stopWords[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		keywords = append(keywords, lower)
	}
	return keywords
}

// Tokens returns Keywords(text) followed by every number or dotted version
// in text, which Keywords drops. Texts that differ only by an issue number
// or a version keep distinct token sets.
func Tokens(text string) []string {
	tokens := Keywords(text)
	if text == "" {
		return tokens
	}
	seen := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		seen[t] = true
	}
	for _, n := range numberPattern.FindAllString(text, -1) {
		if !seen[n] {
			seen[n] = true
			tokens = append(tokens, n)
		}
	}
	return tokens
}

// Set is a keyword set.
type Set map[string]struct{}

// NewSet builds a set from already-extracted keywords. Entries are lowercased.
func NewSet(words ...string) Set {
	s := make(Set, len(words))
	for _, w := range words {
		s[strings.ToLower(w)] = struct{}{}
	}
	return s
}

// SetOf extracts the keyword set of text.
func SetOf(text string) Set {
	return NewSet(Keywords(text)...)
}

// Has reports membership.
func (s Set) Has(w string) bool {
	_, ok := s[w]
	return ok
}

// Intersect returns the number of shared keywords.
func (s Set) Intersect(other Set) int {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	n := 0
	for w := range small {
		if large.Has(w) {
			n++
		}
	}
	return n
}

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets score 0.
func Jaccard(a, b Set) float64 {
	inter := a.Intersect(b)
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Scorer measures similarity between two texts in [0, 1].
type Scorer interface {
	Similarity(a, b string) float64
}

// JaccardScorer scores texts by the Jaccard index of their token sets,
// numbers and versions included.
type JaccardScorer struct{}

// Similarity implements Scorer.
func (JaccardScorer) Similarity(a, b string) float64 {
	if a == b && a != "" {
		return 1
	}
	return Jaccard(NewSet(Tokens(a)...), NewSet(Tokens(b)...))
}
