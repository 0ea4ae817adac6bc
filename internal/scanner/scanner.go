// Package scanner finds QuickBooks export files under a directory tree.
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/qbimport/internal/parser"
)

// Scanner walks a directory tree and finds export files
type Scanner struct {
	rootDir string
}

// New creates a new scanner for the given root directory
func New(rootDir string) *Scanner {
	return &Scanner{rootDir: rootDir}
}

// ScanResult represents a found file with metadata
type ScanResult struct {
	Path     string
	Metadata *parser.Metadata
}

// Scan walks the directory tree and finds all CSV export files
func (s *Scanner) Scan() ([]ScanResult, error) {
	var results []ScanResult

	rootDir := s.expandHome(s.rootDir)

	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		if !s.isExportFile(path) {
			return nil
		}

		meta, err := s.extractMetadata(path, rootDir)
		if err != nil {
			return err
		}

		results = append(results, ScanResult{
			Path:     path,
			Metadata: meta,
		})

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	return results, nil
}

// isExportFile checks if file is a known export format
func (s *Scanner) isExportFile(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".csv"
}

// extractMetadata parses the directory structure to extract source-account info.
// Path structure: {root}/{account}/file.csv
func (s *Scanner) extractMetadata(filePath, rootDir string) (*parser.Metadata, error) {
	meta, err := parser.NewMetadata(filePath, time.Now())
	if err != nil {
		return nil, err
	}

	relPath, err := filepath.Rel(rootDir, filePath)
	if err != nil {
		relPath = filePath
	}

	parts := strings.Split(filepath.ToSlash(relPath), "/")

	// Source account is the first directory under the root, if any
	if len(parts) >= 2 {
		meta.SetSourceAccount(s.normalizeAccountName(parts[0]))
	}

	return meta, nil
}

// normalizeAccountName converts directory name to readable name
// "operating_checking" -> "Operating Checking"
func (s *Scanner) normalizeAccountName(dirName string) string {
	name := strings.ReplaceAll(dirName, "_", " ")

	words := strings.Split(name, " ")
	for i, word := range words {
		if len(word) > 0 {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}

	return strings.Join(words, " ")
}

// expandHome expands ~ to home directory
func (s *Scanner) expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
