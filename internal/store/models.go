// Package store persists import results in a relational SQLite database.
package store

import (
	"time"

	"gorm.io/gorm"
)

// Payee represents a vendor or customer the application tracks.
// Created only by explicit user action during review, never automatically.
type Payee struct {
	gorm.Model
	Name string `gorm:"uniqueIndex"`
	Type string // "expense" or "revenue" hint from the account path
}

// Expense is a persisted money-out row from a committed import.
type Expense struct {
	gorm.Model
	Date         time.Time
	Amount       float64
	Name         string
	AccountPath  string
	Category     string
	Memo         string
	CompositeKey string `gorm:"index"`
	LegacyKey    string `gorm:"index"`
	PayeeID      *uint
	BatchID      string `gorm:"index"`
	Reimported   bool
}

// Revenue is a persisted money-in row from a committed import.
type Revenue struct {
	gorm.Model
	Date         time.Time
	Amount       float64
	Name         string
	AccountPath  string
	Category     string
	Memo         string
	CompositeKey string `gorm:"index"`
	LegacyKey    string `gorm:"index"`
	PayeeID      *uint
	BatchID      string `gorm:"index"`
	Reimported   bool
}

// ImportBatch is the audit record for one commit. Persisted permanently;
// rollback deletes the rows carrying its BatchID and marks the batch, it
// never deletes the batch record itself.
type ImportBatch struct {
	gorm.Model
	BatchID    string `gorm:"uniqueIndex"`
	FileName   string
	ImportedAt time.Time
	Imported   int
	Duplicates int
	Errors     int
	Reimported int
	Status     string
}

// PendingPayeeReview is a persisted payee ambiguity awaiting user resolution.
type PendingPayeeReview struct {
	gorm.Model
	QBName          string
	SuggestedType   string
	AccountPath     string
	SuggestionsJSON string // Serialized []domain.PayeeCandidate
	Status          string // "pending", "resolved", "skipped"
	ResolvedPayeeID *uint
}

// Pending review status values.
const (
	ReviewStatusPending  = "pending"
	ReviewStatusResolved = "resolved"
	ReviewStatusSkipped  = "skipped"
)

// CategoryMapping is one persisted account-path -> category entry. The mapper
// consults these before its static fallback table.
type CategoryMapping struct {
	gorm.Model
	AccountPath string `gorm:"uniqueIndex"`
	Category    string
}
