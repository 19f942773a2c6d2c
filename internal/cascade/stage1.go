package cascade

import (
	"sync"

	"github.com/agext/levenshtein"

	"github.com/barnabee/core/internal/textkit"
)

// Stage1 is the curated fast-pattern table (spec §4.5): exact phrase
// lookup with a tolerance of one edit for typo/ASR-noise resilience.
// The table is mutable at runtime (AddPhrase/RemovePhrase) so tier-1
// exemplar and pattern improvements can be applied and rolled back
// without rebuilding the cascade (spec §4.10).
type Stage1 struct {
	mu      sync.RWMutex
	exact   map[string]string // canonicalized phrase -> intent
	phrases []string          // for fuzzy scan, same order as corresponding intents
	intents []string
}

// NewStage1 builds a Stage1 table from a curated phrase -> intent map
// (spec §4.5: "curated table of ≈50 phrases").
func NewStage1(phraseToIntent map[string]string) *Stage1 {
	s := &Stage1{exact: make(map[string]string, len(phraseToIntent))}
	for phrase, intent := range phraseToIntent {
		s.addLocked(phrase, intent)
	}
	return s
}

// Match looks up normalizedText in the curated table. An exact hit
// returns confidence 0.99; a single-edit fuzzy hit returns 0.96, both
// comfortably above the 0.95 fast-pattern threshold. Anything further
// away is Continue, letting the cascade fall through to S2.
func (s *Stage1) Match(normalizedText string) decision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	canon := textkit.Canonicalize(normalizedText)
	if intent, ok := s.exact[canon]; ok {
		return decided(intent, 0.99)
	}

	for i, phrase := range s.phrases {
		if levenshtein.Distance(canon, phrase, nil) <= 1 {
			return decided(s.intents[i], 0.96)
		}
	}
	return cont()
}

// Lookup returns the intent currently mapped to phrase, if any.
func (s *Stage1) Lookup(phrase string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	intent, ok := s.exact[textkit.Canonicalize(phrase)]
	return intent, ok
}

// AddPhrase adds or overwrites one curated phrase -> intent mapping.
func (s *Stage1) AddPhrase(phrase, intent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(phrase, intent)
}

func (s *Stage1) addLocked(phrase, intent string) {
	canon := textkit.Canonicalize(phrase)
	if _, exists := s.exact[canon]; !exists {
		s.phrases = append(s.phrases, canon)
		s.intents = append(s.intents, intent)
	} else {
		for i, p := range s.phrases {
			if p == canon {
				s.intents[i] = intent
				break
			}
		}
	}
	s.exact[canon] = intent
}

// RemovePhrase removes a curated phrase, used to roll back an applied
// exemplar or pattern improvement.
func (s *Stage1) RemovePhrase(phrase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	canon := textkit.Canonicalize(phrase)
	delete(s.exact, canon)
	for i, p := range s.phrases {
		if p == canon {
			s.phrases = append(s.phrases[:i], s.phrases[i+1:]...)
			s.intents = append(s.intents[:i], s.intents[i+1:]...)
			break
		}
	}
}
