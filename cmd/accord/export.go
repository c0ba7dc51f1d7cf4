package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/accord/pkg/archive"
	"github.com/Mindburn-Labs/accord/pkg/config"
	sqlledger "github.com/Mindburn-Labs/accord/pkg/store/ledger"
)

// runExportCmd implements `accord export`: snapshot the full ledger to
// archive storage for audit or offsite retention. Reads the same ACCORD_*
// ledger configuration as the server, plus ACCORD_ARCHIVE_* for the
// destination (filesystem, S3 or GCS).
//
// Exit codes:
//
//	0 = export completed
//	2 = runtime error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	if cfg.LedgerDriver != "sqlite" && cfg.LedgerDriver != "postgres" {
		_, _ = fmt.Fprintln(stderr, "Error: export requires a SQL ledger (set ACCORD_LEDGER_DRIVER)")
		return 2
	}
	dsn := cfg.LedgerDSN
	if dsn == "" {
		if cfg.LedgerDriver == "postgres" {
			_, _ = fmt.Fprintln(stderr, "Error: ACCORD_LEDGER_DSN is required for the postgres driver")
			return 2
		}
		dsn = "accord.db"
	}

	ctx := context.Background()
	db, err := sql.Open(cfg.LedgerDriver, dsn)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open ledger: %v\n", err)
		return 2
	}
	defer db.Close()

	entries, err := sqlledger.NewSQLLedger(db).Entries(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read ledger: %v\n", err)
		return 2
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(stderr, "Error: ledger is empty, nothing to export")
		return 2
	}

	store, err := archive.NewStoreFromEnv(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: archive store: %v\n", err)
		return 2
	}

	key, err := archive.NewExporter(store).Export(ctx, entries)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: export: %v\n", err)
		return 2
	}

	if jsonOutput {
		result := map[string]any{
			"entries": len(entries),
			"key":     key,
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "✅ Exported %d entries\n", len(entries))
		_, _ = fmt.Fprintf(stdout, "   Snapshot: %s\n", key)
	}
	return 0
}
