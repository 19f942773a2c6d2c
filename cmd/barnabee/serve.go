package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/barnabee/core/internal/config"
)

// runServe brings up the entity mirror, signal collector, and
// improvement pipeline as background goroutines, then blocks until
// interrupted. The orchestrator itself is exercised by whatever the
// voice-I/O front end (out of scope here; spec.md §1) calls into via
// services.orch.Handle.
func runServe(ctx context.Context, cfg config.Config, log zerolog.Logger) {
	svc, err := build(ctx, cfg, log)
	if err != nil {
		fail(err)
	}
	defer svc.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := svc.mirror.WarmStart(runCtx); err != nil {
		log.Warn().Err(err).Msg("warm start from storage failed; starting with an empty entity view")
	}
	go func() {
		if err := svc.mirror.Run(runCtx); err != nil && runCtx.Err() == nil {
			log.Error().Err(err).Msg("entity mirror connection loop exited")
		}
	}()
	go svc.signals.Run(runCtx, time.Minute)
	svc.pipeline.Start()
	defer svc.pipeline.Stop()

	log.Info().Msg("barnabee is serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")
}
