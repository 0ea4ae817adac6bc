// Package qbcsv provides QuickBooks CSV export parsing for qbimport
package qbcsv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/qbimport/internal/domain"
	"github.com/rumor-ml/commons.systems/qbimport/internal/money"
	"github.com/rumor-ml/commons.systems/qbimport/internal/parser"
)

// Parser implements QuickBooks transaction-detail CSV parsing with a stateless
// design. The struct has no fields because parsing requires no configuration
// state; each call operates solely on its inputs, so the parser is safe for
// concurrent use without locking.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared QuickBooks CSV parser instance.
// Safe for concurrent use due to stateless design.
func NewParser() *Parser {
	return parserInstance
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "qb-csv"
}

// Column names QuickBooks uses across export variants, lowercased.
// The export's column order is not stable between QuickBooks versions, so
// columns are located by header name rather than position.
var (
	dateHeaders    = []string{"date"}
	nameHeaders    = []string{"name", "payee"}
	amountHeaders  = []string{"amount"}
	accountHeaders = []string{"account", "account full name", "split"}
	typeHeaders    = []string{"transaction type", "type"}
	memoHeaders    = []string{"memo/description", "memo", "description"}
)

// Date layouts seen in QuickBooks exports. MM/DD/YYYY is the default for US
// company files; ISO appears in newer online exports.
var dateLayouts = []string{"01/02/2006", "2006-01-02", "1/2/2006", "01/02/06"}

// Transaction Type values that represent money in. Everything else (checks,
// expenses, bill payments, credit card charges) is treated as an expense.
var revenueTypes = map[string]struct{}{
	"deposit":       {},
	"payment":       {},
	"sales receipt": {},
	"invoice":       {},
}

// CanParse checks if this parser can handle the file based on extension and header
func (p *Parser) CanParse(path string, header []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" {
		return false
	}

	// The header row must carry at least the date, name, and amount columns
	r := csv.NewReader(strings.NewReader(string(header)))
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	record, err := r.Read()
	if err != nil {
		return false
	}

	cols := indexColumns(record)
	_, hasDate := findColumn(cols, dateHeaders)
	_, hasName := findColumn(cols, nameHeaders)
	_, hasAmount := findColumn(cols, amountHeaders)
	return hasDate && hasName && hasAmount
}

// Parse extracts transaction records from a QuickBooks CSV export.
// Malformed rows (unparseable date or amount, missing name) are collected in
// ParsedFile.RowErrors and never abort the rest of the file.
func (p *Parser) Parse(ctx context.Context, r io.Reader, meta *parser.Metadata) (*parser.ParsedFile, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	csvReader := csv.NewReader(r)
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV content%s: %w", fileInfo(meta), err)
	}

	if len(records) < 1 {
		return nil, fmt.Errorf("CSV file is empty%s", fileInfo(meta))
	}

	cols := indexColumns(records[0])
	layout, err := newColumnLayout(cols)
	if err != nil {
		return nil, fmt.Errorf("unrecognized CSV header%s: %w", fileInfo(meta), err)
	}

	result := &parser.ParsedFile{}
	if meta != nil {
		result.FileName = filepath.Base(meta.FilePath())
	}

	for i, record := range records[1:] {
		rowNum := i + 2 // 1-based, accounting for the header row

		// Skip empty rows
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}

		rec, rowErr := layout.parseRow(record, rowNum)
		if rowErr != nil {
			result.RowErrors = append(result.RowErrors, *rowErr)
			continue
		}
		result.Records = append(result.Records, rec)
	}

	return result, nil
}

// columnLayout maps the located header columns to their indexes.
type columnLayout struct {
	date    int
	name    int
	amount  int
	account int // -1 when absent
	txnType int // -1 when absent
	memo    int // -1 when absent
}

func newColumnLayout(cols map[string]int) (*columnLayout, error) {
	l := &columnLayout{account: -1, txnType: -1, memo: -1}

	var ok bool
	if l.date, ok = findColumn(cols, dateHeaders); !ok {
		return nil, fmt.Errorf("missing Date column")
	}
	if l.name, ok = findColumn(cols, nameHeaders); !ok {
		return nil, fmt.Errorf("missing Name column")
	}
	if l.amount, ok = findColumn(cols, amountHeaders); !ok {
		return nil, fmt.Errorf("missing Amount column")
	}

	// Optional columns
	if idx, ok := findColumn(cols, accountHeaders); ok {
		l.account = idx
	}
	if idx, ok := findColumn(cols, typeHeaders); ok {
		l.txnType = idx
	}
	if idx, ok := findColumn(cols, memoHeaders); ok {
		l.memo = idx
	}

	return l, nil
}

// parseRow converts one CSV row to a TransactionRecord or a RowError.
func (l *columnLayout) parseRow(record []string, rowNum int) (*domain.TransactionRecord, *domain.RowError) {
	dateStr := l.field(record, l.date)
	date, err := parseDate(dateStr)
	if err != nil {
		return nil, &domain.RowError{Row: rowNum, Field: "date", Value: dateStr, Message: err.Error()}
	}

	amountStr := l.field(record, l.amount)
	amount, err := money.Parse(amountStr)
	if err != nil {
		return nil, &domain.RowError{Row: rowNum, Field: "amount", Value: amountStr, Message: err.Error()}
	}

	name := l.field(record, l.name)
	if name == "" {
		return nil, &domain.RowError{Row: rowNum, Field: "name", Value: "", Message: "name cannot be empty"}
	}

	accountPath := l.field(record, l.account)
	typeStr := l.field(record, l.txnType)
	memo := l.field(record, l.memo)

	txnType := domain.TypeExpense
	if _, ok := revenueTypes[strings.ToLower(strings.TrimSpace(typeStr))]; ok {
		txnType = domain.TypeRevenue
	}

	rec, err := domain.NewTransactionRecord(date, amount, name, accountPath, txnType, memo, rowNum)
	if err != nil {
		return nil, &domain.RowError{Row: rowNum, Field: "record", Value: name, Message: err.Error()}
	}
	return rec, nil
}

// field returns the trimmed value at idx, or "" when the column is absent or
// the row is short.
func (l *columnLayout) field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func parseDate(s string) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("date cannot be empty")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format")
}

// indexColumns maps lowercased header names to their column indexes.
// The first occurrence wins when a header repeats.
func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))
		if _, exists := cols[key]; !exists {
			cols[key] = i
		}
	}
	return cols
}

func findColumn(cols map[string]int, names []string) (int, bool) {
	for _, name := range names {
		if idx, ok := cols[name]; ok {
			return idx, true
		}
	}
	return 0, false
}

// fileInfo returns a formatted file path string for error messages
func fileInfo(meta *parser.Metadata) string {
	if meta != nil && meta.FilePath() != "" {
		return fmt.Sprintf(" from %s", meta.FilePath())
	}
	return ""
}
