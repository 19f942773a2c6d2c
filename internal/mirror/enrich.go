package mirror

import (
	"strings"

	"github.com/barnabee/core/internal/textkit"
)

// commonSuffixes are stripped from a friendly name to derive an alias,
// e.g. "Living Room Light" -> "living room" (spec §4.3).
var commonSuffixes = []string{"lights", "light", "switch", "lock"}

// abbreviations expands (or contracts) common area/device shorthand into
// additional alias candidates. The mapping is bidirectional: each entry
// adds both the long and short form as aliases when the other appears.
var abbreviations = map[string]string{
	"liv":  "living",
	"bdrm": "bedroom",
	"ktch": "kitchen",
	"gar":  "garage",
	"bth":  "bathroom",
	"bsmt": "basement",
}

// enrich derives keywords and aliases on bulk fetch and on any name
// change, per spec §4.3. The alias set is additive: it is only ever
// appended to, never replaced, so aliases learned elsewhere (e.g. the
// Improvement Pipeline) survive subsequent enrichment passes.
func (m *Mirror) enrich(e *Entity) {
	e.Keywords = deriveKeywords(e)
	e.Aliases = appendUnique(e.Aliases, deriveAliases(e)...)
}

// AddAlias attaches a learned alias to entityID's in-memory view, used by
// the Improvement Pipeline to apply an alias improvement without waiting
// for the next bulk fetch (spec §4.10). The alias is not persisted here;
// the caller is responsible for the storage-layer write.
func (m *Mirror) AddAlias(entityID, alias string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[entityID]
	if !ok {
		return false
	}
	e.Aliases = appendUnique(e.Aliases, alias)
	return true
}

// RemoveAlias detaches a learned alias from entityID's in-memory view,
// used to roll back an applied alias improvement.
func (m *Mirror) RemoveAlias(entityID, alias string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[entityID]
	if !ok {
		return false
	}
	for i, a := range e.Aliases {
		if a == alias {
			e.Aliases = append(e.Aliases[:i], e.Aliases[i+1:]...)
			return true
		}
	}
	return false
}

func deriveKeywords(e *Entity) []string {
	var words []string
	words = append(words, textkit.SplitWords(e.FriendlyName)...)
	words = append(words, textkit.SplitWords(e.Area)...)
	words = append(words, textkit.SplitWords(e.DeviceClass)...)
	return dedupe(words)
}

func deriveAliases(e *Entity) []string {
	var aliases []string

	base := strings.ToLower(strings.TrimSpace(e.FriendlyName))
	if base == "" {
		return nil
	}
	aliases = append(aliases, base)

	for _, suffix := range commonSuffixes {
		stripped := strings.TrimSpace(strings.TrimSuffix(base, " "+suffix))
		if stripped != base {
			aliases = append(aliases, stripped)
		}
	}

	words := textkit.SplitWords(base)
	for i, w := range words {
		if expanded, ok := abbreviations[w]; ok {
			variant := replaceAt(words, i, expanded)
			aliases = append(aliases, strings.Join(variant, " "))
		}
		for short, long := range abbreviations {
			if w == long {
				variant := replaceAt(words, i, short)
				aliases = append(aliases, strings.Join(variant, " "))
			}
		}
	}

	return dedupe(aliases)
}

func replaceAt(words []string, i int, replacement string) []string {
	out := make([]string, len(words))
	copy(out, words)
	out[i] = replacement
	return out
}

func appendUnique(existing []string, candidates ...string) []string {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e] = true
	}
	out := existing
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func dedupe(words []string) []string {
	seen := make(map[string]bool, len(words))
	var out []string
	for _, w := range words {
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
