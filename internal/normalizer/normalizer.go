// Package normalizer is the Text Normalizer (spec §4.4): a pure,
// deterministic preprocessing pass over a raw utterance before it reaches
// the Intent Cascade.
//
// Built on the Aho-Corasick word-boundary substitution primitive in
// internal/textkit (itself adapted from the teacher's
// pkg/implicit-matcher/dictionary.go CanonicalizeForMatch), applied three
// times — once per substitution table — rather than once per phrase.
package normalizer

import (
	"regexp"
	"strings"

	"github.com/barnabee/core/internal/textkit"
)

// Transform records what the normalizer changed, for logging (spec §4.4).
type Transform struct {
	RawText        string   `json:"raw_text"`
	NormalizedText string   `json:"normalized_text"`
	WakeWordsCut   []string `json:"wake_words_cut,omitempty"`
	Contractions   []string `json:"contractions_expanded,omitempty"`
	PolitenessCut  []string `json:"politeness_tokens_cut,omitempty"`
}

// Normalizer holds the three compiled substitution tables. It is safe for
// concurrent use: Normalize never mutates shared state.
type Normalizer struct {
	wakeWords  *textkit.WordBoundaryReplacer
	contract   *textkit.WordBoundaryReplacer
	politeness *textkit.WordBoundaryReplacer
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// defaultContractions is the fixed expansion table spec §4.4 calls for.
var defaultContractions = map[string]string{
	"don't":    "do not",
	"doesn't":  "does not",
	"didn't":   "did not",
	"can't":    "cannot",
	"won't":    "will not",
	"wouldn't": "would not",
	"couldn't": "could not",
	"shouldn't": "should not",
	"isn't":    "is not",
	"aren't":   "are not",
	"wasn't":   "was not",
	"weren't":  "were not",
	"i'm":      "i am",
	"i've":     "i have",
	"i'll":     "i will",
	"i'd":      "i would",
	"it's":     "it is",
	"that's":   "that is",
	"what's":   "what is",
	"let's":    "let us",
	"there's":  "there is",
}

// defaultPoliteness is the fixed politeness-token list, removed as whole
// words only (never substrings), per spec §4.4.
var defaultPoliteness = map[string]string{
	"please":   "",
	"thanks":   "",
	"thank you": "",
	"could you": "",
	"would you": "",
	"kindly":   "",
}

// New compiles a Normalizer from a configurable wake-word list plus the
// fixed contraction and politeness tables.
func New(wakeWords []string) (*Normalizer, error) {
	wakeTable := make(map[string]string, len(wakeWords))
	for _, w := range wakeWords {
		wakeTable[strings.ToLower(w)] = ""
	}

	wakeRepl, err := textkit.NewWordBoundaryReplacer(wakeTable)
	if err != nil {
		return nil, err
	}
	contractRepl, err := textkit.NewWordBoundaryReplacer(defaultContractions)
	if err != nil {
		return nil, err
	}
	politeRepl, err := textkit.NewWordBoundaryReplacer(defaultPoliteness)
	if err != nil {
		return nil, err
	}

	return &Normalizer{wakeWords: wakeRepl, contract: contractRepl, politeness: politeRepl}, nil
}

// Normalize applies the full pipeline: canonicalize (lowercase, with
// separator punctuation turned into spaces), strip leading wake words,
// expand contractions, strip politeness tokens, collapse whitespace. The function is branch-free beyond table lookups and
// produces the same output for the same input every time.
func (n *Normalizer) Normalize(raw string) (string, Transform) {
	t := Transform{RawText: raw}

	text := textkit.Canonicalize(raw)
	text, wakeHits := n.wakeWords.Apply(text)
	t.WakeWordsCut = wakeHits

	text, contractHits := n.contract.Apply(text)
	t.Contractions = contractHits

	text, politeHits := n.politeness.Apply(text)
	t.PolitenessCut = politeHits

	text = whitespaceRun.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	t.NormalizedText = text
	return text, t
}
