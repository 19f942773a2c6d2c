package resolver

import "github.com/barnabee/core/internal/mirror"

// MirrorAdapter adapts *mirror.Mirror to the EntityMirror interface,
// translating mirror.Entity into the resolver's narrower Candidate view.
type MirrorAdapter struct {
	Mirror *mirror.Mirror
}

func (a MirrorAdapter) GetByID(id string) (Candidate, bool) {
	e, ok := a.Mirror.GetByID(id)
	if !ok {
		return Candidate{}, false
	}
	return toCandidate(e), true
}

func (a MirrorAdapter) GetByDomain(domain string) []Candidate {
	return toCandidates(a.Mirror.GetByDomain(domain))
}

func (a MirrorAdapter) GetByArea(area string) []Candidate {
	return toCandidates(a.Mirror.GetByArea(area))
}

func (a MirrorAdapter) GetByDomainAndArea(domain, area string) []Candidate {
	return toCandidates(a.Mirror.GetByDomainAndArea(domain, area))
}

func toCandidate(e mirror.Entity) Candidate {
	return Candidate{
		ID:           e.ID,
		FriendlyName: e.FriendlyName,
		Area:         e.Area,
		Domain:       e.Domain,
		Keywords:     e.Keywords,
		Aliases:      e.Aliases,
		LastChanged:  e.LastChanged,
	}
}

func toCandidates(entities []mirror.Entity) []Candidate {
	out := make([]Candidate, len(entities))
	for i, e := range entities {
		out[i] = toCandidate(e)
	}
	return out
}
