// Package textkit provides the canonicalization, tokenization, and
// Aho-Corasick substitution primitives shared by the text normalizer, the
// entity mirror's keyword/alias derivation, and the entity resolver's
// fuzzy matching.
//
// Adapted from the teacher's pkg/implicit-matcher/dictionary.go
// CanonicalizeForMatch, generalized from narrative-entity canonicalization
// to smart-home utterance/entity canonicalization.
package textkit

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/coregx/ahocorasick"
	"github.com/orsinium-labs/stopwords"
)

// isJoiner returns true for punctuation that commonly appears inside
// names/terms and should be preserved rather than treated as a separator.
func isJoiner(r rune) bool {
	switch r {
	case '\'', '’', '‘',
		'-', '–', '—',
		'·', '.', '_', '/', '#', '&':
		return true
	default:
		return false
	}
}

func isSeparator(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || isJoiner(r) {
		return false
	}
	return true
}

// Canonicalize lowercases, normalizes punctuation, and collapses runs of
// separators into single spaces. It is the single normalization function
// used everywhere a surface form needs to be compared: wake-word stripping,
// entity alias lookup, and fuzzy-ratio scoring all canonicalize first.
func Canonicalize(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	lastWasSpace := true
	for _, ch := range s {
		c := unicode.ToLower(ch)
		if c == '’' || c == '‘' {
			c = '\''
		}
		if c == '–' || c == '—' {
			c = '-'
		}

		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			out.WriteRune(c)
			lastWasSpace = false
		} else if !lastWasSpace {
			out.WriteRune(' ')
			lastWasSpace = true
		}
	}

	result := out.String()
	if len(result) > 0 && result[len(result)-1] == ' ' {
		result = result[:len(result)-1]
	}
	return result
}

var enStopwords = stopwords.MustGet("en")

// Tokenize splits canonicalized text on whitespace, filtering English stop
// words, for query tokenization in the entity mirror's Search.
func Tokenize(s string) []string {
	fields := strings.Fields(Canonicalize(s))
	out := make([]string, 0, len(fields))
	for _, w := range fields {
		if w == "" || enStopwords.Contains(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

// SplitWords splits on whitespace, underscores, and hyphens without stop-word
// filtering — used by the entity mirror to derive keywords from friendly
// names, areas, and device classes, where stop words like "the" rarely
// appear but every token is still meaningful.
func SplitWords(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '_' || r == '-'
	})
	out := make([]string, 0, len(fields))
	for _, w := range fields {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// WordBoundaryReplacer builds a single Aho-Corasick automaton over a set of
// phrases and replaces every match with its mapped replacement, provided the
// match falls on a word boundary. It is the shared mechanism behind wake-word
// stripping, contraction expansion, and politeness-token removal: one
// automaton pass handles all substitutions instead of N string.Replace calls.
type WordBoundaryReplacer struct {
	ac           *ahocorasick.Automaton
	patterns     []string
	replacements []string
}

// NewWordBoundaryReplacer compiles a substitution table. Keys are matched
// case-insensitively; values are the literal replacement text (may be empty
// to delete the match).
func NewWordBoundaryReplacer(table map[string]string) (*WordBoundaryReplacer, error) {
	patterns := make([]string, 0, len(table))
	replacements := make([]string, 0, len(table))
	for k, v := range table {
		patterns = append(patterns, strings.ToLower(k))
		replacements = append(replacements, v)
	}

	ac, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}

	return &WordBoundaryReplacer{ac: ac, patterns: patterns, replacements: replacements}, nil
}

// Apply runs the substitution pass over text (already expected to be
// lowercased by the caller) and returns the result plus the list of
// patterns that actually matched, for normalizer transform metadata.
func (w *WordBoundaryReplacer) Apply(text string) (string, []string) {
	if w.ac == nil {
		return text, nil
	}

	lower := []byte(strings.ToLower(text))
	matches := w.ac.FindAllOverlapping(lower)

	// Keep only matches on word boundaries, preferring longest/leftmost,
	// non-overlapping greedy selection.
	type span struct{ start, end, pat int }
	spans := make([]span, 0, len(matches))
	for _, m := range matches {
		if !onWordBoundary(lower, m.Start, m.End) {
			continue
		}
		spans = append(spans, span{m.Start, m.End, m.PatternID})
	}

	if len(spans) == 0 {
		return text, nil
	}

	var out strings.Builder
	out.Grow(len(text))
	applied := make([]string, 0, len(spans))
	cursor := 0
	lastEnd := -1
	for _, sp := range spans {
		if sp.start < lastEnd {
			continue // overlapping with a previously-applied match; skip
		}
		out.WriteString(text[cursor:sp.start])
		out.WriteString(w.replacements[sp.pat])
		applied = append(applied, w.patterns[sp.pat])
		cursor = sp.end
		lastEnd = sp.end
	}
	out.WriteString(text[cursor:])
	return out.String(), applied
}

func onWordBoundary(text []byte, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRune(text[:start])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRune(text[end:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
