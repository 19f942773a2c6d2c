package main

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/barnabee/core/internal/config"
)

// runImproveNow runs one nightly clustering pass immediately, useful for
// exercising the improvement pipeline outside its 03:00 cron schedule.
func runImproveNow(ctx context.Context, cfg config.Config, log zerolog.Logger) {
	svc, err := build(ctx, cfg, log)
	if err != nil {
		fail(err)
	}
	defer svc.Close()

	if err := svc.pipeline.NightlyAnalysis(ctx); err != nil {
		fail(err)
	}
	log.Info().Msg("improvement analysis pass complete")
}
