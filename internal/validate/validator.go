package validate

import (
	"fmt"
	"time"

	"github.com/rumor-ml/commons.systems/qbimport/internal/domain"
)

// ValidationResult contains all validation errors and warnings for a
// batch of parsed transactions awaiting commit
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// ValidationError represents a validation error
type ValidationError struct {
	Entity  string // "record", "batch"
	Row     int
	Field   string
	Value   string
	Message string
}

// ValidationWarning represents a non-critical validation issue
type ValidationWarning struct {
	Entity  string
	Row     int
	Field   string
	Value   string
	Message string
}

// HasErrors reports whether any blocking errors were found.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// ValidateBatch performs pre-commit validation of parsed records,
// checking individual record constraints and cross-record consistency.
// Returns ValidationResult with all errors and warnings found.
func ValidateBatch(records []*domain.TransactionRecord, categories map[int]domain.Category) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationWarning{},
	}

	if len(records) == 0 {
		result.Errors = append(result.Errors, ValidationError{
			Entity:  "batch",
			Field:   "records",
			Message: "batch contains no records",
		})
		return result
	}

	now := time.Now()
	seenKeys := make(map[string]int)

	for _, rec := range records {
		row := rec.SourceRow()

		if rec.Name() == "" {
			result.Errors = append(result.Errors, ValidationError{
				Entity:  "record",
				Row:     row,
				Field:   "Name",
				Value:   "",
				Message: "payee name cannot be empty",
			})
		}

		if rec.Amount().IsZero() {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Entity:  "record",
				Row:     row,
				Field:   "Amount",
				Value:   "0",
				Message: "zero-amount transaction",
			})
		}

		if rec.Date().After(now) {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Entity:  "record",
				Row:     row,
				Field:   "Date",
				Value:   rec.Date().Format("2006-01-02"),
				Message: "transaction date is in the future",
			})
		}
		if rec.Date().Before(now.AddDate(-10, 0, 0)) {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Entity:  "record",
				Row:     row,
				Field:   "Date",
				Value:   rec.Date().Format("2006-01-02"),
				Message: "transaction date is more than 10 years old",
			})
		}

		if rec.AccountPath() == "" {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Entity:  "record",
				Row:     row,
				Field:   "AccountPath",
				Value:   "",
				Message: "missing account path, only the legacy key will match prior imports",
			})
		}

		if !domain.ValidateTransactionType(rec.Type()) {
			result.Errors = append(result.Errors, ValidationError{
				Entity:  "record",
				Row:     row,
				Field:   "Type",
				Value:   string(rec.Type()),
				Message: fmt.Sprintf("invalid transaction type: %s (must be expense or revenue)", rec.Type()),
			})
		}

		// Duplicate keys within the batch are caught by dedup during
		// preview. Flag them here too so a direct commit cannot slip
		// a double row through.
		key := rec.Key()
		if firstRow, ok := seenKeys[key]; ok {
			result.Errors = append(result.Errors, ValidationError{
				Entity:  "record",
				Row:     row,
				Field:   "Key",
				Value:   key,
				Message: fmt.Sprintf("duplicate of row %d within the same file", firstRow),
			})
		} else {
			seenKeys[key] = row
		}

		if cat, ok := categories[row]; ok && !domain.ValidateCategory(cat) {
			result.Errors = append(result.Errors, ValidationError{
				Entity:  "record",
				Row:     row,
				Field:   "Category",
				Value:   string(cat),
				Message: fmt.Sprintf("invalid category: %s", cat),
			})
		}
	}

	// Every record must carry a resolved category before commit
	for _, rec := range records {
		if _, ok := categories[rec.SourceRow()]; !ok {
			result.Errors = append(result.Errors, ValidationError{
				Entity:  "record",
				Row:     rec.SourceRow(),
				Field:   "Category",
				Value:   "",
				Message: "no category resolved for record",
			})
		}
	}

	return result
}
