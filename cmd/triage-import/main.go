package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/citydocs/triage/internal/common"
	"github.com/citydocs/triage/internal/ingest"
	"github.com/citydocs/triage/internal/pipeline"
	"github.com/citydocs/triage/internal/rules"
	"github.com/citydocs/triage/internal/store"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		manifest = flag.String("manifest", "", "CSV or XLSX manifest to import (required)")
		actor    = flag.String("actor", "bulk_import", "actor recorded on audit events")
	)
	flag.Parse()

	if *manifest == "" {
		printError("Error: --manifest is required\n")
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		printError("Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Database.DSN, logger)
	if err != nil {
		printError("Error: opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ruleManager := rules.NewManager(cfg.Rules.Path, logger)
	processor := pipeline.NewProcessor(st, ruleManager, cfg.Pipeline, logger)
	svc := ingest.NewService(st, processor, cfg.Worker.MaxAttempts, logger)

	f, err := os.Open(*manifest)
	if err != nil {
		printError("Error: opening manifest: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	var result *ingest.ImportResult
	switch strings.ToLower(filepath.Ext(*manifest)) {
	case ".csv":
		result, err = svc.ImportCSV(ctx, f, *actor)
	case ".xlsx":
		result, err = svc.ImportXLSX(ctx, f, *actor)
	default:
		printError("Error: manifest must be a .csv or .xlsx file\n")
		os.Exit(1)
	}
	if err != nil {
		printError("Error: import failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("imported %d, failed %d\n", result.ImportedCount, result.FailedCount)
	for _, msg := range result.Errors {
		fmt.Printf("  %s\n", msg)
	}
	if result.FailedCount > 0 {
		os.Exit(2)
	}
}
