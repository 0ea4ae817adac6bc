package validate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/qbimport/internal/domain"
)

func mustRecord(t *testing.T, date time.Time, amount string, name, accountPath string, row int) *domain.TransactionRecord {
	t.Helper()
	rec, err := domain.NewTransactionRecord(date, decimal.RequireFromString(amount), name, accountPath, domain.TypeExpense, "", row)
	if err != nil {
		t.Fatalf("NewTransactionRecord() error: %v", err)
	}
	return rec
}

func categoriesFor(recs []*domain.TransactionRecord) map[int]domain.Category {
	m := make(map[int]domain.Category, len(recs))
	for _, r := range recs {
		m[r.SourceRow()] = domain.CategoryMaterials
	}
	return m
}

func TestValidateBatchClean(t *testing.T) {
	recs := []*domain.TransactionRecord{
		mustRecord(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), "342.50", "Home Depot", "Job Expenses:Materials", 2),
		mustRecord(t, time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC), "89.99", "Ferguson", "Job Expenses:Materials", 3),
	}

	result := ValidateBatch(recs, categoriesFor(recs))
	if result.HasErrors() {
		t.Errorf("expected no errors, got %v", result.Errors)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", result.Warnings)
	}
}

func TestValidateBatchEmpty(t *testing.T) {
	result := ValidateBatch(nil, nil)
	if !result.HasErrors() {
		t.Fatal("expected error for empty batch")
	}
	if result.Errors[0].Entity != "batch" {
		t.Errorf("error entity = %q, want batch", result.Errors[0].Entity)
	}
}

func TestValidateBatchDuplicateKey(t *testing.T) {
	date := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	recs := []*domain.TransactionRecord{
		mustRecord(t, date, "342.50", "Home Depot", "Job Expenses:Materials", 2),
		mustRecord(t, date, "342.50", "Home Depot", "Job Expenses:Materials", 5),
	}

	result := ValidateBatch(recs, categoriesFor(recs))
	if !result.HasErrors() {
		t.Fatal("expected duplicate-key error")
	}

	found := false
	for _, e := range result.Errors {
		if e.Field == "Key" && e.Row == 5 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected duplicate error on row 5, got %v", result.Errors)
	}
}

func TestValidateBatchMissingCategory(t *testing.T) {
	recs := []*domain.TransactionRecord{
		mustRecord(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), "342.50", "Home Depot", "Job Expenses:Materials", 2),
	}

	result := ValidateBatch(recs, map[int]domain.Category{})
	if !result.HasErrors() {
		t.Fatal("expected error for missing category")
	}
	if result.Errors[0].Field != "Category" {
		t.Errorf("error field = %q, want Category", result.Errors[0].Field)
	}
}

func TestValidateBatchInvalidCategory(t *testing.T) {
	recs := []*domain.TransactionRecord{
		mustRecord(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), "342.50", "Home Depot", "Job Expenses:Materials", 2),
	}

	result := ValidateBatch(recs, map[int]domain.Category{2: "landscaping"})
	if !result.HasErrors() {
		t.Fatal("expected error for invalid category")
	}
}

func TestValidateBatchWarnings(t *testing.T) {
	future := time.Now().AddDate(1, 0, 0)
	recs := []*domain.TransactionRecord{
		mustRecord(t, future, "0", "Home Depot", "", 2),
	}

	result := ValidateBatch(recs, categoriesFor(recs))
	if result.HasErrors() {
		t.Fatalf("expected warnings only, got errors %v", result.Errors)
	}

	fields := make(map[string]bool)
	for _, w := range result.Warnings {
		fields[w.Field] = true
	}
	for _, want := range []string{"Amount", "Date", "AccountPath"} {
		if !fields[want] {
			t.Errorf("missing warning for field %s, warnings: %v", want, result.Warnings)
		}
	}
}
