package match

import (
	"testing"
)

func TestScore_ExactMatch(t *testing.T) {
	tests := []struct {
		name      string
		incoming  string
		candidate string
	}{
		{"identical", "Home Depot", "Home Depot"},
		{"case variation", "HOME DEPOT", "home depot"},
		{"whitespace variation", "  Home  Depot ", "Home Depot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.incoming, tt.candidate); got != 100 {
				t.Errorf("Score(%q, %q) = %.1f, want 100", tt.incoming, tt.candidate, got)
			}
		})
	}
}

func TestScore_NonIdenticalNeverPerfect(t *testing.T) {
	if got := Score("Home Depot #1234", "Home Depot #1234 "); got != 100 {
		// Normalization makes these identical
		t.Errorf("Score() = %.1f, want 100", got)
	}
	if got := Score("Home Depot Inc", "Home Depot Inc."); got >= 100 {
		t.Errorf("Score() = %.1f for non-identical names, want < 100", got)
	}
}

func TestScore_MonotonicWithEditDistance(t *testing.T) {
	// Confidence strictly decreases as edit distance increases for
	// otherwise-identical tokens.
	base := "home depot"
	variants := []string{"home depox", "home depoxx", "home depoxxx"}

	prev := Score(base, base)
	for _, v := range variants {
		got := Score(base, v)
		if got >= prev {
			t.Errorf("Score(%q, %q) = %.1f, want < %.1f", base, v, got, prev)
		}
		prev = got
	}
}

func TestScore_StoreNumberSuffix(t *testing.T) {
	// Store-numbered variants must clear the auto-match threshold
	got := Score("HOME DEPOT #1234", "Home Depot")
	if got < 75 {
		t.Errorf("Score(HOME DEPOT #1234, Home Depot) = %.1f, want >= 75", got)
	}
}

func TestScore_UnrelatedNames(t *testing.T) {
	tests := []struct {
		incoming  string
		candidate string
	}{
		{"XYZ Unique Vendor LLC", "Home Depot"},
		{"XYZ Unique Vendor LLC", "Sunbelt Rentals"},
		{"XYZ Unique Vendor LLC", "Ferguson Plumbing Supply"},
	}
	for _, tt := range tests {
		if got := Score(tt.incoming, tt.candidate); got >= 40 {
			t.Errorf("Score(%q, %q) = %.1f, want < 40", tt.incoming, tt.candidate, got)
		}
	}
}

func TestScore_Empty(t *testing.T) {
	if got := Score("", "Home Depot"); got != 0 {
		t.Errorf("Score(empty, name) = %.1f, want 0", got)
	}
	if got := Score("Home Depot", ""); got != 0 {
		t.Errorf("Score(name, empty) = %.1f, want 0", got)
	}
}

var testPayees = []Payee{
	{ID: 1, Name: "Home Depot"},
	{ID: 2, Name: "Lowe's"},
	{ID: 3, Name: "Sunbelt Rentals"},
	{ID: 4, Name: "Ferguson Plumbing Supply"},
}

func TestEvaluate_AutoMatch(t *testing.T) {
	m := NewMatcher(DefaultConfig())

	outcome := m.Evaluate("HOME DEPOT #1234", testPayees)
	if outcome.Decision != DecisionAutoMatch {
		t.Fatalf("Evaluate() decision = %q, want auto_match", outcome.Decision)
	}
	if outcome.Best == nil || outcome.Best.PayeeID != 1 {
		t.Errorf("Evaluate() best = %+v, want payee 1", outcome.Best)
	}
	if outcome.Best.Confidence < 75 {
		t.Errorf("Evaluate() confidence = %.1f, want >= 75", outcome.Best.Confidence)
	}
}

func TestEvaluate_NoMatch(t *testing.T) {
	m := NewMatcher(DefaultConfig())

	outcome := m.Evaluate("XYZ Unique Vendor LLC", testPayees)
	if outcome.Decision != DecisionNoMatch {
		t.Fatalf("Evaluate() decision = %q, want no_match", outcome.Decision)
	}
	if len(outcome.Suggestions) != 0 {
		t.Errorf("Evaluate() suggestions = %v, want none", outcome.Suggestions)
	}
}

func TestEvaluate_Suggestion(t *testing.T) {
	// One shared token out of a few puts the score in the suggestion band
	m := NewMatcher(DefaultConfig())

	outcome := m.Evaluate("Ferguson Waterworks", testPayees)
	if outcome.Decision != DecisionSuggest {
		t.Fatalf("Evaluate() decision = %q, want suggest (suggestions: %v)", outcome.Decision, outcome.Suggestions)
	}
	if len(outcome.Suggestions) == 0 {
		t.Fatal("Evaluate() returned no suggestions")
	}
	if outcome.Suggestions[0].PayeeID != 4 {
		t.Errorf("Evaluate() top suggestion = %+v, want payee 4", outcome.Suggestions[0])
	}
}

func TestCandidates_SortedAndCapped(t *testing.T) {
	payees := []Payee{
		{ID: 1, Name: "Home Depot"},
		{ID: 2, Name: "Home Depot Pro"},
		{ID: 3, Name: "Home Depot Rental"},
		{ID: 4, Name: "Home Depot Tool Rental"},
	}

	m := NewMatcher(Config{AutoMatchThreshold: 75, SuggestionFloor: 10, MaxSuggestions: 2})
	candidates := m.Candidates("Home Depot", payees)

	if len(candidates) != 2 {
		t.Fatalf("Candidates() returned %d, want 2 (capped)", len(candidates))
	}
	if candidates[0].Confidence < candidates[1].Confidence {
		t.Errorf("Candidates() not sorted descending: %v", candidates)
	}
	if candidates[0].PayeeID != 1 {
		t.Errorf("Candidates() top = %+v, want exact match payee 1", candidates[0])
	}
}
