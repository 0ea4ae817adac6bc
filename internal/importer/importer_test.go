package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rumor-ml/commons.systems/qbimport/internal/dedup"
	"github.com/rumor-ml/commons.systems/qbimport/internal/domain"
	"github.com/rumor-ml/commons.systems/qbimport/internal/match"
	"github.com/rumor-ml/commons.systems/qbimport/internal/store"
)

const csvHeader = "Date,Transaction Type,Name,Memo/Description,Account,Amount\n"

func newTestImporter(t *testing.T) (*Importer, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "qbimport.db"))
	if err != nil {
		t.Fatalf("store.New() error: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Retry.Backoff = time.Millisecond
	return New(st, nil, cfg), st
}

func writeCSV(t *testing.T, rows ...string) string {
	t.Helper()
	content := csvHeader
	for _, row := range rows {
		content += row + "\n"
	}
	path := filepath.Join(t.TempDir(), "export.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

const homeDepotRow = `02/01/2026,Expense,Home Depot,lumber order,Job Expenses:Materials,"$342.50"`

func TestPreview_NewAgainstEmptyStore(t *testing.T) {
	imp, _ := newTestImporter(t)
	ctx := context.Background()

	session, err := imp.Preview(ctx, writeCSV(t, homeDepotRow), nil)
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}

	if session.State() != StateCategorized {
		t.Errorf("state = %s, want categorized", session.State())
	}
	rows := session.Rows()
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}

	row := rows[0]
	if row.Classification != domain.ClassNew {
		t.Errorf("classification = %s, want new", row.Classification)
	}
	if !row.Selected {
		t.Error("new row should be selected by default")
	}
	if row.Category.Category != domain.CategoryMaterials {
		t.Errorf("category = %s, want materials", row.Category.Category)
	}
	if row.Match.Decision != match.DecisionNoMatch {
		t.Errorf("match decision = %s, want no_match against empty payee set", row.Match.Decision)
	}
}

func TestCommit_FullCycle(t *testing.T) {
	imp, st := newTestImporter(t)
	ctx := context.Background()

	session, err := imp.Preview(ctx, writeCSV(t, homeDepotRow), nil)
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}

	row := session.Rows()[0].Record.SourceRow()
	if err := session.Resolve(row, PayeeResolution{Action: ActionCreate, Name: "Home Depot"}); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if err := session.MarkReviewed(); err != nil {
		t.Fatalf("MarkReviewed() error: %v", err)
	}

	summary, err := session.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if summary.Imported != 1 || summary.Errors != 0 {
		t.Errorf("summary = %+v, want 1 imported, 0 errors", summary)
	}
	if session.State() != StateCommitted {
		t.Errorf("state = %s, want committed", session.State())
	}

	batch, err := st.Batch(ctx, session.BatchID())
	if err != nil {
		t.Fatalf("Batch() error: %v", err)
	}
	if batch.Status != string(domain.BatchStatusCompleted) || batch.Imported != 1 {
		t.Errorf("batch = %+v, want completed with 1 imported", batch)
	}

	payees, err := st.Payees(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(payees) != 1 || payees[0].Name != "Home Depot" {
		t.Errorf("payees = %v, want created Home Depot", payees)
	}

	keys, _, err := st.ExistingKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 {
		t.Errorf("persisted keys = %v, want 1 expense row", keys)
	}
}

func commitFile(t *testing.T, imp *Importer, path string) *Session {
	t.Helper()
	ctx := context.Background()
	session, err := imp.Preview(ctx, path, nil)
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	for _, row := range session.Rows() {
		if !row.Selected || row.Match.Decision == match.DecisionAutoMatch {
			continue
		}
		if err := session.Resolve(row.Record.SourceRow(), PayeeResolution{Action: ActionSkip}); err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
	}
	if err := session.MarkReviewed(); err != nil {
		t.Fatalf("MarkReviewed() error: %v", err)
	}
	if _, err := session.Commit(ctx); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	return session
}

func TestPreview_PersistedDuplicate(t *testing.T) {
	imp, _ := newTestImporter(t)
	ctx := context.Background()
	path := writeCSV(t, homeDepotRow)

	commitFile(t, imp, path)

	// Same file again: row is a persisted duplicate, excluded by default
	session, err := imp.Preview(ctx, path, nil)
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	row := session.Rows()[0]
	if row.Classification != domain.ClassDuplicate {
		t.Errorf("classification = %s, want duplicate", row.Classification)
	}
	if row.Selected {
		t.Error("persisted duplicate should not be selected by default")
	}
}

func TestCommit_ReimportBySelection(t *testing.T) {
	imp, _ := newTestImporter(t)
	ctx := context.Background()
	path := writeCSV(t, homeDepotRow)

	commitFile(t, imp, path)

	session, err := imp.Preview(ctx, path, nil)
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	row := session.Rows()[0]
	sourceRow := row.Record.SourceRow()

	// Explicitly selecting the duplicate is the re-import override
	if err := session.SetSelected(sourceRow, true); err != nil {
		t.Fatalf("SetSelected() error: %v", err)
	}
	if !row.Reimported {
		t.Error("selected duplicate should be flagged reimported")
	}
	if err := session.Resolve(sourceRow, PayeeResolution{Action: ActionSkip}); err != nil {
		t.Fatal(err)
	}
	if err := session.MarkReviewed(); err != nil {
		t.Fatal(err)
	}

	summary, err := session.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if summary.Imported != 1 || summary.Reimported != 1 {
		t.Errorf("summary = %+v, want 1 imported, 1 reimported", summary)
	}
}

func TestPreview_ReimportByOverrideSet(t *testing.T) {
	imp, _ := newTestImporter(t)
	ctx := context.Background()
	path := writeCSV(t, homeDepotRow)

	session := commitFile(t, imp, path)
	key := session.Rows()[0].Record.Key()

	session, err := imp.Preview(ctx, path, dedup.NewOverrideSet(key))
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	row := session.Rows()[0]
	if row.Classification != domain.ClassNew {
		t.Errorf("classification = %s, want new under override", row.Classification)
	}
	if !row.Reimported {
		t.Error("override row should be flagged reimported")
	}
	if !row.Selected {
		t.Error("override row should be selected by default")
	}
}

func TestPreview_InFileDuplicate(t *testing.T) {
	imp, _ := newTestImporter(t)
	ctx := context.Background()

	session, err := imp.Preview(ctx, writeCSV(t, homeDepotRow, homeDepotRow), nil)
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}

	rows := session.Rows()
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Classification != domain.ClassNew {
		t.Errorf("first occurrence = %s, want new", rows[0].Classification)
	}
	if rows[1].Classification != domain.ClassInFileDuplicate {
		t.Errorf("second occurrence = %s, want in_file_duplicate", rows[1].Classification)
	}
	if rows[1].Selected {
		t.Error("in-file duplicate should not be selected by default")
	}
}

func TestPreview_AutoMatch(t *testing.T) {
	imp, st := newTestImporter(t)
	ctx := context.Background()

	if _, err := st.CreatePayee(ctx, "Home Depot", domain.TypeExpense); err != nil {
		t.Fatal(err)
	}

	path := writeCSV(t, `02/01/2026,Expense,HOME DEPOT #1234,lumber order,Job Expenses:Materials,"$342.50"`)
	session, err := imp.Preview(ctx, path, nil)
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}

	row := session.Rows()[0]
	if row.Match.Decision != match.DecisionAutoMatch {
		t.Fatalf("match decision = %s, want auto_match", row.Match.Decision)
	}
	if row.Resolution == nil || row.Resolution.Action != ActionMatch {
		t.Error("auto-match should pre-fill a match resolution")
	}

	// No manual resolution needed
	if err := session.MarkReviewed(); err != nil {
		t.Fatalf("MarkReviewed() error: %v", err)
	}
	summary, err := session.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if summary.AutoMatched != 1 {
		t.Errorf("summary = %+v, want 1 auto-matched", summary)
	}
}

func TestCommit_NoMatchQueuedForReview(t *testing.T) {
	imp, st := newTestImporter(t)
	ctx := context.Background()

	if _, err := st.CreatePayee(ctx, "Home Depot", domain.TypeExpense); err != nil {
		t.Fatal(err)
	}

	path := writeCSV(t, `02/01/2026,Expense,XYZ Unique Vendor LLC,,Job Expenses:Materials,"$99.00"`)
	session, err := imp.Preview(ctx, path, nil)
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}

	row := session.Rows()[0]
	if row.Match.Decision != match.DecisionNoMatch {
		t.Fatalf("match decision = %s, want no_match", row.Match.Decision)
	}

	// Unresolved ambiguity blocks review completion
	if err := session.MarkReviewed(); !errors.Is(err, ErrMatchAmbiguous) {
		t.Fatalf("MarkReviewed() = %v, want ErrMatchAmbiguous", err)
	}

	if err := session.Resolve(row.Record.SourceRow(), PayeeResolution{Action: ActionSkip}); err != nil {
		t.Fatal(err)
	}
	if err := session.MarkReviewed(); err != nil {
		t.Fatal(err)
	}

	summary, err := session.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if summary.Imported != 1 || summary.PendingReview != 1 {
		t.Errorf("summary = %+v, want 1 imported, 1 pending review", summary)
	}

	// No payee auto-created; ambiguity queued instead
	payees, err := st.Payees(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(payees) != 1 {
		t.Errorf("payees = %v, want only the seeded Home Depot", payees)
	}
	pending, err := st.PendingReviews(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].QBName != "XYZ Unique Vendor LLC" {
		t.Errorf("pending reviews = %v, want the queued vendor", pending)
	}
}

func TestCommit_OneShot(t *testing.T) {
	imp, _ := newTestImporter(t)
	path := writeCSV(t, homeDepotRow)

	session := commitFile(t, imp, path)

	if _, err := session.Commit(context.Background()); !errors.Is(err, ErrCommitInFlight) {
		t.Errorf("second Commit() = %v, want ErrCommitInFlight", err)
	}
}

func TestCommit_RequiresReview(t *testing.T) {
	imp, _ := newTestImporter(t)
	ctx := context.Background()

	session, err := imp.Preview(ctx, writeCSV(t, homeDepotRow), nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := session.Commit(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Commit() before review = %v, want ErrInvalidTransition", err)
	}
}

func TestCommit_PartialFailure(t *testing.T) {
	imp, st := newTestImporter(t)
	ctx := context.Background()

	// The create resolution below collides with this name
	if _, err := st.CreatePayee(ctx, "Ferguson", domain.TypeExpense); err != nil {
		t.Fatal(err)
	}

	path := writeCSV(t,
		homeDepotRow,
		`02/03/2026,Expense,Ferguson Waterworks,,Job Expenses:Materials,"$89.99"`,
	)
	session, err := imp.Preview(ctx, path, nil)
	if err != nil {
		t.Fatal(err)
	}

	rows := session.Rows()
	if err := session.Resolve(rows[0].Record.SourceRow(), PayeeResolution{Action: ActionSkip}); err != nil {
		t.Fatal(err)
	}
	if err := session.Resolve(rows[1].Record.SourceRow(), PayeeResolution{Action: ActionCreate, Name: "Ferguson"}); err != nil {
		t.Fatal(err)
	}
	if err := session.MarkReviewed(); err != nil {
		t.Fatal(err)
	}

	summary, err := session.Commit(ctx)
	if !errors.Is(err, ErrBatchPartial) {
		t.Fatalf("Commit() = %v, want ErrBatchPartial", err)
	}
	if summary.Imported != 1 || summary.Errors != 1 {
		t.Errorf("summary = %+v, want 1 imported, 1 error", summary)
	}

	batch, err := st.Batch(ctx, session.BatchID())
	if err != nil {
		t.Fatal(err)
	}
	if batch.Status != string(domain.BatchStatusPartial) {
		t.Errorf("batch status = %s, want partial", batch.Status)
	}
	if session.State() != StateCommitted {
		t.Errorf("state = %s, partial failure still commits the batch", session.State())
	}
}

func TestRollback(t *testing.T) {
	imp, st := newTestImporter(t)
	ctx := context.Background()
	path := writeCSV(t, homeDepotRow)

	session := commitFile(t, imp, path)

	deleted, err := session.Rollback(ctx)
	if err != nil {
		t.Fatalf("Rollback() error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Rollback() deleted %d rows, want 1", deleted)
	}
	if session.State() != StateRolledBack {
		t.Errorf("state = %s, want rolled_back", session.State())
	}

	keys, _, err := st.ExistingKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("keys after rollback = %v, want none", keys)
	}

	// Rolled back is terminal
	if _, err := session.Rollback(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Rollback() = %v, want ErrInvalidTransition", err)
	}
}

func TestPreview_RowErrorsIsolated(t *testing.T) {
	imp, _ := newTestImporter(t)
	ctx := context.Background()

	path := writeCSV(t,
		homeDepotRow,
		`not-a-date,Expense,Ferguson,,Job Expenses:Materials,"$89.99"`,
	)
	session, err := imp.Preview(ctx, path, nil)
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}

	if len(session.Rows()) != 1 {
		t.Errorf("got %d good rows, want 1", len(session.Rows()))
	}
	if len(session.RowErrors()) != 1 {
		t.Errorf("got %d row errors, want 1", len(session.RowErrors()))
	}
}

func TestPreview_UnparsableFile(t *testing.T) {
	imp, _ := newTestImporter(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "export.dat")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := imp.Preview(ctx, path, nil); !errors.Is(err, ErrParse) {
		t.Errorf("Preview() = %v, want ErrParse", err)
	}
}

func TestRetryRow(t *testing.T) {
	imp, _ := newTestImporter(t)
	session := &Session{imp: imp}
	ctx := context.Background()

	attempts := 0
	err := session.retryRow(ctx, func(context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Errorf("retryRow() = %v, want success on second attempt", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}

	attempts = 0
	err = session.retryRow(ctx, func(context.Context) error {
		attempts++
		return errors.New("permanent")
	})
	if !errors.Is(err, ErrPersistence) {
		t.Errorf("retryRow() = %v, want ErrPersistence", err)
	}
	if attempts != imp.retry.Attempts {
		t.Errorf("attempts = %d, want the full budget of %d", attempts, imp.retry.Attempts)
	}
}
