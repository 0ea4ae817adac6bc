// Package match scores incoming QuickBooks payee names against existing payees.
//
// Confidence is a percentage in [0,100] blending a character-level edit
// distance score with token overlap. An exact normalized match scores 100;
// confidence decreases as edit distance grows.
//
// Thresholds:
//   - >= AutoMatchThreshold: eligible for automatic association
//   - [SuggestionFloor, AutoMatchThreshold): surfaced as a suggestion that
//     requires human confirmation
//   - < SuggestionFloor: not surfaced
//
// When no candidate reaches the suggestion floor the transaction's payee is
// queued for manual review. Payees are never auto-created on a failed match;
// creation always requires an explicit user decision.
package match

import (
	"sort"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/rumor-ml/commons.systems/qbimport/internal/domain"
	"github.com/rumor-ml/commons.systems/qbimport/internal/txnkey"
)

// Config holds matching thresholds
type Config struct {
	AutoMatchThreshold float64 // Minimum confidence for automatic association
	SuggestionFloor    float64 // Minimum confidence to surface a suggestion
	MaxSuggestions     int     // Cap on suggestions returned per name
}

// DefaultConfig returns the standard thresholds: 75% auto-match, 40% floor.
func DefaultConfig() Config {
	return Config{
		AutoMatchThreshold: 75,
		SuggestionFloor:    40,
		MaxSuggestions:     5,
	}
}

// Payee is an existing payee row offered as a match candidate.
type Payee struct {
	ID   uint
	Name string
}

// Decision classifies the outcome of matching one incoming name.
type Decision string

const (
	DecisionAutoMatch Decision = "auto_match" // Best candidate cleared the auto threshold
	DecisionSuggest   Decision = "suggest"    // Candidates exist but need confirmation
	DecisionNoMatch   Decision = "no_match"   // Nothing reached the suggestion floor
)

// Outcome is the result of matching one incoming name against all payees.
type Outcome struct {
	Decision    Decision
	Best        *domain.PayeeCandidate  // Set when Decision == DecisionAutoMatch
	Suggestions []domain.PayeeCandidate // Sorted by confidence, descending
}

// Matcher matches incoming names against existing payees
type Matcher struct {
	config Config
}

// NewMatcher creates a matcher with the given config
func NewMatcher(config Config) *Matcher {
	if config.MaxSuggestions <= 0 {
		config.MaxSuggestions = DefaultConfig().MaxSuggestions
	}
	return &Matcher{config: config}
}

// Score returns the match confidence between two payee names, in [0,100].
// Both names are normalized (case, whitespace, accents) before comparison.
func Score(incoming, candidate string) float64 {
	a := txnkey.NormalizeName(incoming)
	b := txnkey.NormalizeName(candidate)

	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}

	char := charSimilarity(a, b)
	token := tokenOverlap(a, b)

	// Token overlap rescues store-number suffixes ("home depot #1234" vs
	// "home depot") that edit distance alone would punish; character
	// similarity rescues single-token typos that share no exact token.
	confidence := char
	if token > confidence {
		confidence = token
	}
	// Never report 100 for a non-identical pair
	if confidence >= 100 {
		confidence = 99
	}
	return confidence
}

// charSimilarity converts edit distance to a 0-100 score relative to the
// longer string's length.
func charSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	dist := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptions)

	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 0
	}
	return (1 - float64(dist)/float64(maxLen)) * 100
}

// tokenOverlap computes the Dice coefficient over the two token sets, as a
// 0-100 score. Single shared tokens on heavily unbalanced sets score low,
// which keeps generic words ("llc", "inc") from inflating confidence.
func tokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	shared := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			shared++
		}
	}

	return float64(2*shared) / float64(len(setA)+len(setB)) * 100
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		set[tok] = struct{}{}
	}
	return set
}

// Candidates scores the incoming name against every payee and returns all
// candidates at or above the suggestion floor, sorted by confidence descending
// and capped at MaxSuggestions.
func (m *Matcher) Candidates(incoming string, payees []Payee) []domain.PayeeCandidate {
	var candidates []domain.PayeeCandidate
	for _, p := range payees {
		confidence := Score(incoming, p.Name)
		if confidence < m.config.SuggestionFloor {
			continue
		}
		candidates = append(candidates, domain.PayeeCandidate{
			PayeeID:    p.ID,
			Name:       p.Name,
			Confidence: confidence,
		})
	}

	// Stable sort keeps payee-list order for equal confidence, so results are
	// deterministic across runs.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	if len(candidates) > m.config.MaxSuggestions {
		candidates = candidates[:m.config.MaxSuggestions]
	}
	return candidates
}

// Evaluate matches one incoming name and classifies the outcome against the
// configured thresholds.
func (m *Matcher) Evaluate(incoming string, payees []Payee) Outcome {
	candidates := m.Candidates(incoming, payees)

	if len(candidates) == 0 {
		return Outcome{Decision: DecisionNoMatch}
	}

	best := candidates[0]
	if best.Confidence >= m.config.AutoMatchThreshold {
		return Outcome{
			Decision:    DecisionAutoMatch,
			Best:        &best,
			Suggestions: candidates,
		}
	}

	return Outcome{
		Decision:    DecisionSuggest,
		Suggestions: candidates,
	}
}
