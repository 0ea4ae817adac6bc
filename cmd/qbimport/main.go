package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/rumor-ml/commons.systems/qbimport/internal/config"
	"github.com/rumor-ml/commons.systems/qbimport/internal/dedup"
	"github.com/rumor-ml/commons.systems/qbimport/internal/domain"
	"github.com/rumor-ml/commons.systems/qbimport/internal/importer"
	"github.com/rumor-ml/commons.systems/qbimport/internal/match"
	"github.com/rumor-ml/commons.systems/qbimport/internal/money"
	"github.com/rumor-ml/commons.systems/qbimport/internal/scanner"
	"github.com/rumor-ml/commons.systems/qbimport/internal/server"
	"github.com/rumor-ml/commons.systems/qbimport/internal/store"
	"github.com/rumor-ml/commons.systems/qbimport/internal/ui"
)

const (
	version = "0.1.0"
)

var (
	// Global flags
	versionFlag = flag.Bool("version", false, "Show version")
	configFile  = flag.String("config", "", "Configuration file (YAML)")
	dbPath      = flag.String("db", "", "Database file (overrides configuration)")
	verbose     = flag.Bool("verbose", false, "Show detailed processing logs")

	// Import flags
	inputPath    = flag.String("input", "", "Export file or directory of exports to import")
	dryRun       = flag.Bool("dry-run", false, "Preview only, write nothing")
	commitFlag   = flag.Bool("commit", false, "Commit the previewed rows")
	createPayees = flag.Bool("create-payees", false, "Create payees for unmatched names instead of queueing them for review")
	overrides    = flag.String("override", "", "Comma-separated duplicate keys to re-import")

	// Other modes
	serveFlag    = flag.Bool("serve", false, "Run the HTTP import server")
	rollbackFlag = flag.String("rollback", "", "Roll back a committed batch by id")
)

func main() {
	// Custom usage message
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `qbimport - QuickBooks export importer for construction projects

Usage:
  qbimport [flags]

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, `
Examples:
  # Preview an export without writing
  qbimport -input export.csv -dry-run

  # Import, queueing unknown payees for review
  qbimport -input export.csv -commit

  # Import a directory of exports, creating missing payees
  qbimport -input ~/exports -commit -create-payees

  # Roll back a committed batch
  qbimport -rollback 1f0c2a...

  # Run the review server
  qbimport -serve -config qbimport.yaml

`)
	}

	flag.Parse()

	// Handle version flag
	if *versionFlag {
		fmt.Printf("qbimport version %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	switch {
	case *serveFlag:
		err = runServe(cfg)
	case *rollbackFlag != "":
		err = runRollback(cfg, *rollbackFlag)
	case *inputPath != "":
		err = runImport(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Error: one of -input, -serve, or -rollback is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runImport(cfg *config.Config) error {
	ctx := context.Background()

	if !*verbose {
		ui.Header("Importing QuickBooks Exports")
		ui.Step(1, 4, "Finding export files")
	} else {
		fmt.Fprintf(os.Stderr, "Resolving input: %s\n", *inputPath)
	}

	files, err := findExports(*inputPath)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no export files found at %s\n\nPlease check:\n  - The path is correct\n  - Files have the .csv extension\n  - You have read permissions on the directory and files", *inputPath)
	}
	if !*verbose {
		ui.Success(fmt.Sprintf("Found %d export files", len(files)))
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", cfg.DBPath, err)
	}

	imp := importer.New(st, nil, cfg.ImporterConfig())
	overrideSet := dedup.NewOverrideSet(splitOverrides(*overrides)...)

	if !*verbose {
		ui.Step(2, 4, "Previewing rows")
	}

	total := &domain.Summary{}
	for _, file := range files {
		if err := importOne(ctx, imp, file, overrideSet, total); err != nil {
			return err
		}
	}

	if !*verbose {
		ui.Step(4, 4, "Summary")
	}
	printSummary(total)
	return nil
}

func importOne(ctx context.Context, imp *importer.Importer, file string, overrideSet dedup.OverrideSet, total *domain.Summary) error {
	session, err := imp.Preview(ctx, file, overrideSet)
	if err != nil {
		return fmt.Errorf("preview of %s failed: %w", file, err)
	}

	rows := session.Rows()
	if *verbose {
		fmt.Fprintf(os.Stderr, "%s: %d rows, %d row errors\n", file, len(rows), len(session.RowErrors()))
	}
	for _, rowErr := range session.RowErrors() {
		ui.Warning(fmt.Sprintf("%s row %d: %s", file, rowErr.Row, rowErr.Message))
	}

	if *dryRun || !*commitFlag {
		printPreview(file, session)
		return nil
	}

	if !*verbose {
		ui.Step(3, 4, fmt.Sprintf("Committing %s", file))
	}

	// Rows the matcher could not settle need an explicit decision. The
	// default queues them for review in the web UI; -create-payees makes
	// new payees from the QuickBooks names instead.
	for _, row := range rows {
		if !row.Selected || row.Resolution != nil {
			continue
		}
		res := importer.PayeeResolution{Action: importer.ActionSkip}
		if *createPayees {
			res = importer.PayeeResolution{Action: importer.ActionCreate, Name: row.Record.Name()}
		}
		if err := session.Resolve(row.Record.SourceRow(), res); err != nil {
			return err
		}
	}

	if err := session.MarkReviewed(); err != nil {
		return err
	}

	summary, err := session.Commit(ctx)
	if err != nil && !errors.Is(err, importer.ErrBatchPartial) {
		return fmt.Errorf("commit of %s failed: %w", file, err)
	}
	if errors.Is(err, importer.ErrBatchPartial) {
		ui.Warning(fmt.Sprintf("%s committed with %d failed rows (batch %s)", file, summary.Errors, session.BatchID()))
	} else {
		ui.Success(fmt.Sprintf("%s committed as batch %s", file, session.BatchID()))
	}

	total.Imported += summary.Imported
	total.Duplicates += summary.Duplicates
	total.InFileDuplicates += summary.InFileDuplicates
	total.Errors += summary.Errors
	total.AutoMatched += summary.AutoMatched
	total.PendingReview += summary.PendingReview
	total.Reimported += summary.Reimported
	return nil
}

func runRollback(cfg *config.Config, batchID string) error {
	ctx := context.Background()

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", cfg.DBPath, err)
	}

	imp := importer.New(st, nil, cfg.ImporterConfig())
	deleted, err := imp.Rollback(ctx, batchID)
	if err != nil {
		return fmt.Errorf("rollback of batch %s failed: %w", batchID, err)
	}

	ui.Success(fmt.Sprintf("Rolled back batch %s (%d transactions removed)", batchID, deleted))
	return nil
}

func runServe(cfg *config.Config) error {
	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	ui.Header("QuickBooks Import Server")
	ui.Info(fmt.Sprintf("Listening on %s", cfg.ListenAddr))
	ui.Info(fmt.Sprintf("Database: %s", cfg.DBPath))
	if cfg.APIToken == "" {
		ui.Warning("No API token configured, authentication is disabled")
	}

	return http.ListenAndServe(cfg.ListenAddr, srv.Handler())
}

// findExports resolves -input to a list of export files. A directory is
// walked with the scanner; a file is taken as-is.
func findExports(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read input %s: %w", path, err)
	}

	if !info.IsDir() {
		return []string{path}, nil
	}

	results, err := scanner.New(path).Scan()
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(results))
	for _, r := range results {
		if *verbose {
			fmt.Fprintf(os.Stderr, "  - %s (account: %s)\n", r.Path, r.Metadata.SourceAccount())
		}
		files = append(files, r.Path)
	}
	return files, nil
}

func printPreview(file string, session *importer.Session) {
	fmt.Printf("\n%s\n", file)
	for _, row := range session.Rows() {
		marker := " "
		if row.Selected {
			marker = "*"
		}
		line := fmt.Sprintf("%s %s  %-30s %10s  %s (%s)",
			marker,
			row.Record.Date().Format("2006-01-02"),
			truncate(row.Record.Name(), 30),
			money.Canonical(row.Record.Amount()),
			row.Category.Category,
			row.Classification)
		switch row.Classification {
		case domain.ClassDuplicate, domain.ClassInFileDuplicate:
			fmt.Println(ui.YellowText(line))
		default:
			fmt.Println(line)
		}
		if row.Match.Decision == match.DecisionSuggest && len(row.Match.Suggestions) > 0 {
			best := row.Match.Suggestions[0]
			ui.Info(fmt.Sprintf("  suggestion: %s (%.0f%%)", best.Name, best.Confidence))
		}
	}
	if !*commitFlag && !*dryRun {
		ui.Info("Run again with -commit to import the selected rows")
	}
}

func printSummary(s *domain.Summary) {
	fmt.Printf("Imported:           %d\n", s.Imported)
	fmt.Printf("Auto-matched:       %d\n", s.AutoMatched)
	fmt.Printf("Duplicates skipped: %d\n", s.Duplicates)
	fmt.Printf("In-file duplicates: %d\n", s.InFileDuplicates)
	fmt.Printf("Re-imported:        %d\n", s.Reimported)
	fmt.Printf("Pending review:     %d\n", s.PendingReview)
	if s.Errors > 0 {
		ui.Error(fmt.Sprintf("Failed rows:        %d", s.Errors))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func splitOverrides(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}
