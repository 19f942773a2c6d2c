// Package injector is the Context Injector (spec §4.7): it selects at
// most N mirrored entities to hand the LLM, under a fixed token budget,
// using a strategy keyed by intent family.
//
// Grounded on the teacher's pkg/response/slim.go: that package trims a
// full ConceptGraph down to only the fields a JS client consumes before
// serializing; this package performs the same "full in-memory state,
// slim what crosses the boundary" trim, generalized from a fixed-field
// projection to a token-budget-aware entity selection.
package injector

import (
	"fmt"
	"strings"

	"github.com/barnabee/core/internal/mirror"
)

// perEntityTokenCost is the fixed per-entity estimate spec §4.7 calls
// for ("token estimation uses a fixed per-entity cost").
const perEntityTokenCost = 25

// EntityMirror is the narrow read surface the injector needs.
type EntityMirror interface {
	GetByDomain(domain string) []mirror.Entity
	GetByArea(area string) []mirror.Entity
	GetByDomainAndArea(domain, area string) []mirror.Entity
	All() []mirror.Entity
}

// Snippet is one entity's prompt-ready description.
type Snippet struct {
	EntityID    string
	FriendlyName string
	Description string
}

// Injector assembles prompt context under spec §4.7's strategy table.
type Injector struct {
	mirror      EntityMirror
	tokenBudget int
}

// New builds an Injector. tokenBudget is the configured context_token_budget (spec §6, default 500).
func New(m EntityMirror, tokenBudget int) *Injector {
	if tokenBudget <= 0 {
		tokenBudget = 500
	}
	return &Injector{mirror: m, tokenBudget: tokenBudget}
}

// Select returns the prompt snippets for intentFamily, scoped by the
// mentioned area (if any, from entity resolution) else the speaker's
// area, truncated to both the strategy's max-entity cap and the token
// budget. Camera entities are never included (spec §4.7 privacy note).
func (inj *Injector) Select(intentFamily, mentionedArea, speakerArea string) []Snippet {
	entities, max := inj.candidatesFor(intentFamily, mentionedArea, speakerArea)
	entities = excludeCameras(entities)

	budgetCap := inj.tokenBudget / perEntityTokenCost
	if budgetCap < max {
		max = budgetCap
	}
	if max < 0 {
		max = 0
	}
	if len(entities) > max {
		entities = entities[:max]
	}

	snippets := make([]Snippet, 0, len(entities))
	for _, e := range entities {
		name := e.FriendlyName
		if name == "" {
			name = e.ID
		}
		snippets = append(snippets, Snippet{EntityID: e.ID, FriendlyName: name, Description: describe(e)})
	}
	return snippets
}

func (inj *Injector) candidatesFor(intentFamily, mentionedArea, speakerArea string) ([]mirror.Entity, int) {
	switch intentFamily {
	case "light", "cover", "media":
		max := 10
		if intentFamily == "media" {
			max = 5
		}
		area := mentionedArea
		if area == "" {
			area = speakerArea
		}
		if area != "" {
			if e := inj.mirror.GetByDomainAndArea(intentFamily, area); len(e) > 0 {
				return e, max
			}
		}
		return mostAccessed(inj.mirror.GetByDomain(intentFamily), max), max

	case "climate":
		return inj.mirror.GetByDomain("climate"), 10

	case "lock", "security":
		locks := inj.mirror.GetByDomain("lock")
		sensors := filterDeviceClass(inj.mirror.GetByDomain("binary_sensor"), "door", "window")
		return append(locks, sensors...), 10

	case "location":
		return inj.mirror.GetByDomain("person"), 6

	case "weather":
		return firstN(inj.mirror.GetByDomain("weather"), 1), 1

	case "timer", "time":
		return nil, 0

	default: // general/minimal
		return firstN(inj.mirror.GetByDomain("person"), 2), 2
	}
}

func excludeCameras(entities []mirror.Entity) []mirror.Entity {
	out := entities[:0:0]
	for _, e := range entities {
		if e.Domain == "camera" {
			continue
		}
		out = append(out, e)
	}
	return out
}

func filterDeviceClass(entities []mirror.Entity, classes ...string) []mirror.Entity {
	var out []mirror.Entity
	for _, e := range entities {
		for _, c := range classes {
			if e.DeviceClass == c {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func mostAccessed(entities []mirror.Entity, max int) []mirror.Entity {
	sorted := append([]mirror.Entity(nil), entities...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].AccessCount > sorted[j-1].AccessCount; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return firstN(sorted, max)
}

func firstN(entities []mirror.Entity, n int) []mirror.Entity {
	if len(entities) <= n {
		return entities
	}
	return entities[:n]
}

// describe renders a domain-specific state description (spec §4.7).
func describe(e mirror.Entity) string {
	name := e.FriendlyName
	if name == "" {
		name = e.ID
	}
	switch e.Domain {
	case "light":
		if pct, ok := e.Attributes["brightness_pct"]; ok {
			return fmt.Sprintf("%s: %s (%v%% brightness)", name, e.State, pct)
		}
		return fmt.Sprintf("%s: %s", name, e.State)
	case "cover":
		if pos, ok := e.Attributes["position"]; ok {
			return fmt.Sprintf("%s: %s (%v%%)", name, e.State, pos)
		}
		return fmt.Sprintf("%s: %s", name, e.State)
	case "climate":
		if temp, ok := e.Attributes["temperature"]; ok {
			return fmt.Sprintf("%s: %s, target %v", name, e.State, temp)
		}
		return fmt.Sprintf("%s: %s", name, e.State)
	case "person":
		zone := e.State
		return fmt.Sprintf("%s: %s", name, strings.TrimSpace(zone))
	case "lock":
		return fmt.Sprintf("%s: %s", name, e.State)
	case "weather":
		if temp, ok := e.Attributes["temperature"]; ok {
			return fmt.Sprintf("%s: %s, %v degrees", name, e.State, temp)
		}
		return fmt.Sprintf("%s: %s", name, e.State)
	default:
		return fmt.Sprintf("%s: %s", name, e.State)
	}
}
