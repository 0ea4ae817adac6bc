// Package domain defines the core types of the QuickBooks import subsystem.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/qbimport/internal/txnkey"
)

// Category represents an internal expense category for construction projects.
// Use ValidateCategory to ensure validity before use.
type Category string

const (
	CategoryMaterials       Category = "materials"
	CategoryLabor           Category = "labor"
	CategorySubcontractors  Category = "subcontractors"
	CategoryEquipmentRental Category = "equipment_rental"
	CategoryPermits         Category = "permits"
	CategoryFuel            Category = "fuel"
	CategoryInsurance       Category = "insurance"
	CategoryUtilities       Category = "utilities"
	CategoryOffice          Category = "office"
	CategoryTravel          Category = "travel"
	CategoryMeals           Category = "meals"
	CategoryOther           Category = "other"
)

// TransactionType distinguishes money-out from money-in rows.
type TransactionType string

const (
	TypeExpense TransactionType = "expense"
	TypeRevenue TransactionType = "revenue"
)

// Classification is the result of the dedup/categorization pass for one row.
type Classification string

const (
	ClassNew             Classification = "new"
	ClassDuplicate       Classification = "duplicate"
	ClassInFileDuplicate Classification = "in_file_duplicate"
	ClassError           Classification = "error"
)

var (
	validCategories = map[Category]struct{}{
		CategoryMaterials: {}, CategoryLabor: {}, CategorySubcontractors: {},
		CategoryEquipmentRental: {}, CategoryPermits: {}, CategoryFuel: {},
		CategoryInsurance: {}, CategoryUtilities: {}, CategoryOffice: {},
		CategoryTravel: {}, CategoryMeals: {}, CategoryOther: {},
	}

	validTransactionTypes = map[TransactionType]struct{}{
		TypeExpense: {}, TypeRevenue: {},
	}
)

// ValidateCategory checks if category is valid
func ValidateCategory(c Category) bool {
	_, ok := validCategories[c]
	return ok
}

// ValidateTransactionType checks if transaction type is valid
func ValidateTransactionType(t TransactionType) bool {
	_, ok := validTransactionTypes[t]
	return ok
}

// Categories returns all valid categories in declaration order.
func Categories() []Category {
	return []Category{
		CategoryMaterials, CategoryLabor, CategorySubcontractors,
		CategoryEquipmentRental, CategoryPermits, CategoryFuel,
		CategoryInsurance, CategoryUtilities, CategoryOffice,
		CategoryTravel, CategoryMeals, CategoryOther,
	}
}

// TransactionRecord is a single row parsed from a QuickBooks export.
// Transient: it exists only for the duration of one import session and is
// never persisted as-is. Fields are unexported so records always pass through
// NewTransactionRecord validation.
type TransactionRecord struct {
	date        time.Time
	amount      decimal.Decimal
	name        string
	accountPath string
	txnType     TransactionType
	memo        string
	sourceRow   int
}

// NewTransactionRecord creates a validated transaction record.
// sourceRow is the 1-based row number in the source file, kept for error reporting.
func NewTransactionRecord(date time.Time, amount decimal.Decimal, name, accountPath string, txnType TransactionType, memo string, sourceRow int) (*TransactionRecord, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("transaction date cannot be zero")
	}
	if name == "" {
		return nil, fmt.Errorf("transaction name cannot be empty")
	}
	if !ValidateTransactionType(txnType) {
		return nil, fmt.Errorf("invalid transaction type: %s", txnType)
	}
	if sourceRow < 1 {
		return nil, fmt.Errorf("source row must be >= 1, got %d", sourceRow)
	}

	return &TransactionRecord{
		date:        date,
		amount:      amount,
		name:        name,
		accountPath: accountPath,
		txnType:     txnType,
		memo:        memo,
		sourceRow:   sourceRow,
	}, nil
}

// Date returns the transaction date
func (r *TransactionRecord) Date() time.Time { return r.date }

// Amount returns the transaction amount
func (r *TransactionRecord) Amount() decimal.Decimal { return r.amount }

// Name returns the payee name as it appears in the export
func (r *TransactionRecord) Name() string { return r.name }

// AccountPath returns the full QuickBooks account path (may be empty)
func (r *TransactionRecord) AccountPath() string { return r.accountPath }

// Type returns the transaction type
func (r *TransactionRecord) Type() TransactionType { return r.txnType }

// Memo returns the memo/description field (may be empty)
func (r *TransactionRecord) Memo() string { return r.memo }

// SourceRow returns the 1-based row number in the source file
func (r *TransactionRecord) SourceRow() int { return r.sourceRow }

// Key returns the 4-part composite key for duplicate detection.
func (r *TransactionRecord) Key() string {
	return txnkey.Build(r.date, r.amount, r.name, r.accountPath)
}

// LegacyKey returns the 3-part key used against rows imported before account
// paths were recorded.
func (r *TransactionRecord) LegacyKey() string {
	return txnkey.BuildLegacy(r.date, r.amount, r.name)
}

// RowError records a malformed row that could not be parsed.
// Isolated per row: a parse error never aborts the rest of the file.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s %q: %s", e.Row, e.Field, e.Value, e.Message)
}

// PayeeCandidate is one scored match of an incoming name against an existing payee.
type PayeeCandidate struct {
	PayeeID    uint    `json:"payeeId"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"` // 0-100
}

// PendingPayeeReview is an unresolved payee-matching ambiguity.
// Created when no candidate reaches the suggestion floor, or when the best
// candidate falls in the suggestion band and needs human confirmation.
// Resolved by user action (create/match/skip) before commit. Payees are never
// created without that explicit action.
type PendingPayeeReview struct {
	QBName        string           `json:"qbName"`
	SuggestedType TransactionType  `json:"suggestedType"`
	AccountPath   string           `json:"accountPath"`
	Suggestions   []PayeeCandidate `json:"suggestions"`
}

// BatchStatus tracks the lifecycle of a persisted import batch.
type BatchStatus string

const (
	BatchStatusInProgress BatchStatus = "in_progress"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusPartial    BatchStatus = "partial"
	BatchStatusRolledBack BatchStatus = "rolled_back"
)

// Summary aggregates the per-row outcomes of one import.
type Summary struct {
	Imported         int `json:"imported"`
	Duplicates       int `json:"duplicates"`
	InFileDuplicates int `json:"inFileDuplicates"`
	Errors           int `json:"errors"`
	AutoMatched      int `json:"autoMatched"`
	PendingReview    int `json:"pendingReview"`
	Reimported       int `json:"reimported"`
}
