package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	"github.com/barnabee/core/internal/config"
	"github.com/barnabee/core/internal/golden"
	"github.com/barnabee/core/internal/store"
)

// runIngestGolden loads a JSON-lines golden dataset from path into
// storage, reporting whether it clears the ≥500-case coverage floor
// (spec.md §9's open-question resolution).
func runIngestGolden(ctx context.Context, cfg config.Config, log zerolog.Logger, path string) {
	st, err := store.NewSQLiteStoreWithDSN(cfg.SQLitePath)
	if err != nil {
		fail(err)
	}
	defer st.Close()

	f, err := os.Open(path)
	if err != nil {
		fail(err)
	}
	defer f.Close()

	result, err := golden.Ingest(ctx, st, f)
	if err != nil {
		fail(err)
	}

	event := log.Info()
	if result.BelowMin {
		event = log.Warn()
	}
	event.
		Int("loaded", result.Loaded).
		Int("total_size", result.TotalSize).
		Bool("below_minimum", result.BelowMin).
		Msg("golden dataset ingested")
}
