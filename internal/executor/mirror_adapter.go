package executor

import (
	"context"

	"github.com/barnabee/core/internal/mirror"
)

// MirrorAdapter adapts *mirror.Mirror to the executor's EntityMirror
// interface.
type MirrorAdapter struct {
	Mirror *mirror.Mirror
}

func (a MirrorAdapter) GetByID(id string) (Entity, bool) {
	e, ok := a.Mirror.GetByID(id)
	if !ok {
		return Entity{}, false
	}
	return Entity{ID: e.ID, Domain: e.Domain, Available: e.IsAvailable()}, true
}

func (a MirrorAdapter) CallService(ctx context.Context, domain, service string, entityIDs []string, data map[string]any) error {
	return a.Mirror.CallService(ctx, domain, service, entityIDs, data)
}
