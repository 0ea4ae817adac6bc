// Package parser defines the strategy interface shared by all export-file parsers.
package parser

import (
	"context"
	"io"

	"github.com/rumor-ml/commons.systems/qbimport/internal/domain"
)

// Parser is the strategy interface for all file format parsers
type Parser interface {
	// Name returns parser identifier (e.g., "qb-csv")
	Name() string

	// CanParse checks if parser can handle this file.
	// Returns true if this parser should be used for the file.
	CanParse(path string, header []byte) bool

	// Parse extracts transaction records from the file.
	// Malformed rows are isolated into ParsedFile.RowErrors; Parse returns an
	// error only when the file as a whole is unreadable.
	Parse(ctx context.Context, r io.Reader, meta *Metadata) (*ParsedFile, error)
}

// ParsedFile represents one parsed export file before dedup and categorization.
type ParsedFile struct {
	FileName  string
	Records   []*domain.TransactionRecord
	RowErrors []domain.RowError
}
