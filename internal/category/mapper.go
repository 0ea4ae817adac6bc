// Package category resolves QuickBooks account paths to internal expense categories.
//
// Resolution order, first match wins:
//  1. exact account-path lookup against the persisted mapping table
//  2. exact lookup against the embedded static fallback table
//  3. keyword heuristics on the payee name and memo
//  4. the default category ("other")
//
// Resolution is deterministic: identical inputs always yield the identical
// category. The persisted mapping table is passed in as an explicit read-only
// snapshot rather than read from ambient state, so the mapper stays pure and
// both the CLI and the HTTP server resolve identically.
package category

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/commons.systems/qbimport/internal/domain"
	"github.com/rumor-ml/commons.systems/qbimport/internal/txnkey"
)

//go:embed mappings.yaml
var embeddedMappings []byte

// Source identifies which tier of the resolution order produced a category.
type Source string

const (
	SourceMappingTable Source = "mapping_table"
	SourceStatic       Source = "static"
	SourceKeyword      Source = "keyword"
	SourceDefault      Source = "default"
)

// Resolution is the outcome of resolving one transaction's category.
type Resolution struct {
	Category domain.Category
	Source   Source
	RuleName string // Keyword rule name when Source == SourceKeyword, for debugging
}

// accountMapping is one static account-path entry in the YAML table.
type accountMapping struct {
	Path     string `yaml:"path"`
	Category string `yaml:"category"`
}

// keywordRule matches a substring of the payee name or memo.
type keywordRule struct {
	Name     string `yaml:"name"`
	Keyword  string `yaml:"keyword"`
	Category string `yaml:"category"`
}

// mappingFile is the top-level YAML structure
type mappingFile struct {
	Accounts []accountMapping `yaml:"accounts"`
	Keywords []keywordRule    `yaml:"keywords"`
}

// Mapper resolves categories for transactions.
type Mapper struct {
	persisted map[string]domain.Category
	static    map[string]domain.Category
	keywords  []keywordRule // Evaluated in file order, first match wins
}

// New creates a mapper from the embedded static table and a snapshot of the
// persisted mapping table (normalized-or-raw account path -> category). The
// snapshot may be nil when the store has no mappings.
func New(persisted map[string]domain.Category) (*Mapper, error) {
	return NewFromYAML(persisted, embeddedMappings)
}

// NewFromYAML creates a mapper with a custom static table, validating every
// entry the way the embedded table is validated.
func NewFromYAML(persisted map[string]domain.Category, staticData []byte) (*Mapper, error) {
	var file mappingFile
	if err := yaml.Unmarshal(staticData, &file); err != nil {
		return nil, fmt.Errorf("failed to parse mapping YAML (check syntax, indentation, and field names): %w", err)
	}

	static := make(map[string]domain.Category, len(file.Accounts))
	for i, m := range file.Accounts {
		if strings.TrimSpace(m.Path) == "" {
			return nil, fmt.Errorf("account mapping %d: path cannot be empty", i)
		}
		cat := domain.Category(m.Category)
		if !domain.ValidateCategory(cat) {
			return nil, fmt.Errorf("account mapping %d (%s): invalid category %q", i, m.Path, m.Category)
		}
		static[txnkey.NormalizeName(m.Path)] = cat
	}

	for i, k := range file.Keywords {
		if strings.TrimSpace(k.Keyword) == "" {
			return nil, fmt.Errorf("keyword rule %d (%s): keyword cannot be empty", i, k.Name)
		}
		cat := domain.Category(k.Category)
		if !domain.ValidateCategory(cat) {
			return nil, fmt.Errorf("keyword rule %d (%s): invalid category %q", i, k.Name, k.Category)
		}
	}

	normalized := make(map[string]domain.Category, len(persisted))
	for path, cat := range persisted {
		if !domain.ValidateCategory(cat) {
			return nil, fmt.Errorf("persisted mapping %q: invalid category %q", path, cat)
		}
		normalized[txnkey.NormalizeName(path)] = cat
	}

	return &Mapper{
		persisted: normalized,
		static:    static,
		keywords:  file.Keywords,
	}, nil
}

// Resolve determines the category for a transaction from its payee name,
// memo, and full account path.
func (m *Mapper) Resolve(name, memo, accountPath string) Resolution {
	path := txnkey.NormalizeName(accountPath)

	if path != "" {
		if cat, ok := m.persisted[path]; ok {
			return Resolution{Category: cat, Source: SourceMappingTable}
		}
		if cat, ok := m.static[path]; ok {
			return Resolution{Category: cat, Source: SourceStatic}
		}
	}

	haystack := txnkey.NormalizeName(name + " " + memo)
	for _, rule := range m.keywords {
		if strings.Contains(haystack, txnkey.NormalizeName(rule.Keyword)) {
			return Resolution{
				Category: domain.Category(rule.Category),
				Source:   SourceKeyword,
				RuleName: rule.Name,
			}
		}
	}

	return Resolution{Category: domain.CategoryOther, Source: SourceDefault}
}

// StaticMappings returns a copy of the static table for inspection/debugging.
func (m *Mapper) StaticMappings() map[string]domain.Category {
	out := make(map[string]domain.Category, len(m.static))
	for k, v := range m.static {
		out[k] = v
	}
	return out
}
