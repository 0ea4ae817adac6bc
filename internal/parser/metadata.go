package parser

import (
	"fmt"
	"time"
)

// Metadata contains context about the file being parsed.
// Extracted from directory structure: {root}/{account}/file.csv
//
// Create instances using NewMetadata(filePath, detectedAt). The constructor
// validates required fields; the optional source-account field can be set
// after construction. An empty SourceAccount() means the path didn't match the
// expected layout — not an error, downstream processing treats the file as
// unassigned.
type Metadata struct {
	filePath      string
	sourceAccount string // Inferred from directory (e.g., "operating_checking")
	detectedAt    time.Time
}

// NewMetadata creates a new Metadata instance with validated required fields.
// Returns an error if filePath is empty or detectedAt is zero.
func NewMetadata(filePath string, detectedAt time.Time) (*Metadata, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if detectedAt.IsZero() {
		return nil, fmt.Errorf("detected time cannot be zero")
	}
	return &Metadata{
		filePath:   filePath,
		detectedAt: detectedAt,
	}, nil
}

// FilePath returns the absolute file path
func (m *Metadata) FilePath() string {
	return m.filePath
}

// SourceAccount returns the bank/credit account name inferred from the
// directory structure. Empty if the path didn't match the expected layout.
func (m *Metadata) SourceAccount() string {
	return m.sourceAccount
}

// DetectedAt returns the timestamp when the file was detected
func (m *Metadata) DetectedAt() time.Time {
	return m.detectedAt
}

// SetSourceAccount sets the source account name
func (m *Metadata) SetSourceAccount(account string) {
	m.sourceAccount = account
}
