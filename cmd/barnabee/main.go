// Command barnabee runs the request-processing core of the assistant
// (spec §6): the serve loop plus a handful of operational subcommands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/barnabee/core/internal/config"
	"github.com/barnabee/core/internal/errs"
	"github.com/barnabee/core/internal/logctx"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "", "path to the YAML config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail(err)
	}
	log := logctx.New(cfg.LogLevel)
	ctx := logctx.With(context.Background(), log)

	switch cmd {
	case "serve":
		runServe(ctx, cfg, log)
	case "migrate":
		runMigrate(ctx, cfg, log)
	case "ingest-golden":
		if len(fs.Args()) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: barnabee ingest-golden -config <path> <dataset.jsonl>")
			os.Exit(2)
		}
		runIngestGolden(ctx, cfg, log, fs.Args()[0])
	case "sync-entities":
		runSyncEntities(ctx, cfg, log)
	case "improve-now":
		runImproveNow(ctx, cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Println(`barnabee - request-processing core for a household voice assistant

Usage:
  barnabee <command> [-config <path>] [arguments]

Commands:
  serve                         Run the orchestrator, entity mirror, and improvement pipeline
  migrate                       Apply pending SQLite schema migrations and exit
  ingest-golden <dataset.jsonl> Load a golden evaluation set into storage
  sync-entities                 Force an HTTP-fallback bulk entity refresh
  improve-now                   Run one nightly clustering pass immediately

Flags:
  -config <path>  YAML config file (defaults applied if omitted)`)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(errs.KindOf(err).ExitCode())
}
