// Package registry selects the right parser for an export file.
package registry

import (
	"fmt"
	"io"
	"os"

	"github.com/rumor-ml/commons.systems/qbimport/internal/parser"
	"github.com/rumor-ml/commons.systems/qbimport/internal/parsers/qbcsv"
)

// Registry holds all registered parsers
type Registry struct {
	parsers []parser.Parser
}

// New creates a registry with all built-in parsers
func New() *Registry {
	return &Registry{
		parsers: []parser.Parser{
			qbcsv.NewParser(),
		},
	}
}

// Register adds a custom parser (for extensibility)
func (r *Registry) Register(p parser.Parser) {
	r.parsers = append(r.parsers, p)
}

// Match returns the first parser that recognizes the file name and
// header bytes. Used when the caller already holds the stream open.
func (r *Registry) Match(path string, header []byte) (parser.Parser, error) {
	for _, p := range r.parsers {
		if p.CanParse(path, header) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no parser found for file: %s", path)
}

// FindParser returns the best parser for this file.
// Reads the first 512 bytes for format detection via header inspection, which
// is enough to recognize the QuickBooks header row.
func (r *Registry) FindParser(path string) (parser.Parser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	header := make([]byte, 512)
	n, err := f.Read(header)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read header from %s: %w", path, err)
	}
	// EOF is OK - small exports may be < 512 bytes. Parsers receive whatever
	// was read and handle variable header sizes.
	header = header[:n]

	return r.Match(path, header)
}

// ListParsers returns all registered parser names
func (r *Registry) ListParsers() []string {
	names := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		names[i] = p.Name()
	}
	return names
}
