package main

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/barnabee/core/internal/config"
)

// runSyncEntities forces an HTTP-fallback bulk refresh of the entity
// mirror, independent of the live websocket connection (spec §6).
func runSyncEntities(ctx context.Context, cfg config.Config, log zerolog.Logger) {
	svc, err := build(ctx, cfg, log)
	if err != nil {
		fail(err)
	}
	defer svc.Close()

	if err := svc.mirror.WarmStart(ctx); err != nil {
		log.Warn().Err(err).Msg("warm start from storage failed")
	}
	n, err := svc.mirror.SyncEntities(ctx)
	if err != nil {
		fail(err)
	}
	log.Info().Int("entities", n).Msg("entity sync complete")
}
