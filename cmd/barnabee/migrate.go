package main

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/barnabee/core/internal/config"
	"github.com/barnabee/core/internal/store"
)

// runMigrate opens the configured SQLite database, which brings its
// schema up to date as a side effect of store.NewSQLiteStoreWithDSN, then
// exits. Useful for applying migrations ahead of a deploy without
// starting the full service.
func runMigrate(_ context.Context, cfg config.Config, log zerolog.Logger) {
	st, err := store.NewSQLiteStoreWithDSN(cfg.SQLitePath)
	if err != nil {
		fail(err)
	}
	defer st.Close()
	log.Info().Str("path", cfg.SQLitePath).Msg("schema is up to date")
}
