package importer

// State is an import session's position in its lifecycle.
type State string

const (
	StateUploaded     State = "uploaded"
	StateParsed       State = "parsed"
	StateCategorized  State = "categorized"
	StateUserReviewed State = "user_reviewed"
	StateCommitted    State = "committed"
	StateRolledBack   State = "rolled_back"
)

// transitions enumerates the legal lifecycle edges. Parsed moves to
// Categorized automatically; everything after Categorized is driven by
// user actions.
var transitions = map[State][]State{
	StateUploaded:     {StateParsed},
	StateParsed:       {StateCategorized},
	StateCategorized:  {StateUserReviewed},
	StateUserReviewed: {StateCommitted},
	StateCommitted:    {StateRolledBack},
	StateRolledBack:   {},
}

// CanTransition reports whether moving from s to target is legal.
func (s State) CanTransition(target State) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}
