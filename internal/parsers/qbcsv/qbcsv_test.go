package qbcsv

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rumor-ml/commons.systems/qbimport/internal/domain"
	"github.com/rumor-ml/commons.systems/qbimport/internal/money"
	"github.com/rumor-ml/commons.systems/qbimport/internal/parser"
)

const sampleHeader = "Date,Transaction Type,Name,Memo/Description,Account,Amount\n"

func sampleCSV(rows ...string) string {
	return sampleHeader + strings.Join(rows, "\n") + "\n"
}

func testMeta(t *testing.T) *parser.Metadata {
	t.Helper()
	meta, err := parser.NewMetadata("/statements/operating_checking/export.csv", time.Now())
	if err != nil {
		t.Fatalf("NewMetadata() error: %v", err)
	}
	return meta
}

func TestCanParse(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		header string
		want   bool
	}{
		{
			name:   "quickbooks header",
			path:   "export.csv",
			header: sampleHeader,
			want:   true,
		},
		{
			name:   "reordered columns",
			path:   "export.csv",
			header: "Amount,Name,Date,Account\n",
			want:   true,
		},
		{
			name:   "payee alias for name",
			path:   "export.csv",
			header: "Date,Payee,Amount\n",
			want:   true,
		},
		{
			name:   "wrong extension",
			path:   "export.qfx",
			header: sampleHeader,
			want:   false,
		},
		{
			name:   "missing amount column",
			path:   "export.csv",
			header: "Date,Name,Account\n",
			want:   false,
		},
		{
			name:   "not a header row",
			path:   "export.csv",
			header: "02/01/2026,Check,Home Depot,,Job Expenses:Materials,342.50\n",
			want:   false,
		},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.CanParse(tt.path, []byte(tt.header)); got != tt.want {
				t.Errorf("CanParse(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	input := sampleCSV(
		`02/01/2026,Check,Home Depot,"Lumber, fasteners",Job Expenses:Materials,$342.50`,
		`02/03/2026,Deposit,Smith Remodel,Progress payment,Construction Income,"$12,000.00"`,
		`02/05/2026,Credit Card Charge,Shell Oil,Fuel for trucks,Job Expenses:Fuel,(54.20)`,
	)

	p := NewParser()
	got, err := p.Parse(context.Background(), strings.NewReader(input), testMeta(t))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if len(got.RowErrors) != 0 {
		t.Fatalf("Parse() row errors: %v", got.RowErrors)
	}
	if len(got.Records) != 3 {
		t.Fatalf("Parse() returned %d records, want 3", len(got.Records))
	}
	if got.FileName != "export.csv" {
		t.Errorf("FileName = %q, want export.csv", got.FileName)
	}

	first := got.Records[0]
	if first.Name() != "Home Depot" {
		t.Errorf("Name() = %q, want Home Depot", first.Name())
	}
	if money.Canonical(first.Amount()) != "342.50" {
		t.Errorf("Amount() = %s, want 342.50", money.Canonical(first.Amount()))
	}
	if first.AccountPath() != "Job Expenses:Materials" {
		t.Errorf("AccountPath() = %q, want Job Expenses:Materials", first.AccountPath())
	}
	if first.Type() != domain.TypeExpense {
		t.Errorf("Type() = %q, want expense", first.Type())
	}
	if first.Date().Format("2006-01-02") != "2026-02-01" {
		t.Errorf("Date() = %s, want 2026-02-01", first.Date().Format("2006-01-02"))
	}
	if first.SourceRow() != 2 {
		t.Errorf("SourceRow() = %d, want 2", first.SourceRow())
	}

	deposit := got.Records[1]
	if deposit.Type() != domain.TypeRevenue {
		t.Errorf("deposit Type() = %q, want revenue", deposit.Type())
	}
	if money.Canonical(deposit.Amount()) != "12000.00" {
		t.Errorf("deposit Amount() = %s, want 12000.00", money.Canonical(deposit.Amount()))
	}

	fuel := got.Records[2]
	if money.Canonical(fuel.Amount()) != "-54.20" {
		t.Errorf("parenthesized Amount() = %s, want -54.20", money.Canonical(fuel.Amount()))
	}
}

func TestParse_RowErrorsIsolated(t *testing.T) {
	input := sampleCSV(
		`02/01/2026,Check,Home Depot,,Job Expenses:Materials,342.50`,
		`not-a-date,Check,Lowe's,,Job Expenses:Materials,100.00`,
		`02/02/2026,Check,Ferguson,,Job Expenses:Materials,abc`,
		`02/03/2026,Check,,,Job Expenses:Materials,50.00`,
		`02/04/2026,Check,Sunbelt Rentals,,Job Expenses:Equipment Rental,75.00`,
	)

	p := NewParser()
	got, err := p.Parse(context.Background(), strings.NewReader(input), testMeta(t))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if len(got.Records) != 2 {
		t.Errorf("Parse() returned %d records, want 2", len(got.Records))
	}
	if len(got.RowErrors) != 3 {
		t.Fatalf("Parse() returned %d row errors, want 3", len(got.RowErrors))
	}

	wantFields := []struct {
		row   int
		field string
	}{
		{3, "date"},
		{4, "amount"},
		{5, "name"},
	}
	for i, want := range wantFields {
		if got.RowErrors[i].Row != want.row || got.RowErrors[i].Field != want.field {
			t.Errorf("RowErrors[%d] = row %d field %q, want row %d field %q",
				i, got.RowErrors[i].Row, got.RowErrors[i].Field, want.row, want.field)
		}
	}
}

func TestParse_ReorderedColumns(t *testing.T) {
	input := "Amount,Account,Name,Date\n" +
		"$99.00,Job Expenses:Permits,City of Austin,2026-02-10\n"

	p := NewParser()
	got, err := p.Parse(context.Background(), strings.NewReader(input), testMeta(t))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(got.Records) != 1 {
		t.Fatalf("Parse() returned %d records, want 1", len(got.Records))
	}

	rec := got.Records[0]
	if rec.Name() != "City of Austin" {
		t.Errorf("Name() = %q, want City of Austin", rec.Name())
	}
	if rec.Date().Format("2006-01-02") != "2026-02-10" {
		t.Errorf("Date() = %s, want 2026-02-10", rec.Date().Format("2006-01-02"))
	}
	// No Transaction Type column: defaults to expense
	if rec.Type() != domain.TypeExpense {
		t.Errorf("Type() = %q, want expense", rec.Type())
	}
}

func TestParse_EmptyFile(t *testing.T) {
	p := NewParser()
	if _, err := p.Parse(context.Background(), strings.NewReader(""), testMeta(t)); err == nil {
		t.Error("Parse() of empty file expected error, got nil")
	}
}

func TestParse_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewParser()
	if _, err := p.Parse(ctx, strings.NewReader(sampleHeader), testMeta(t)); err == nil {
		t.Error("Parse() with cancelled context expected error, got nil")
	}
}
