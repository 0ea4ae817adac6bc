package importer

import "errors"

// Error taxonomy for the import pipeline. Callers classify failures with
// errors.Is; row-level detail travels in the wrapping message.
var (
	// ErrParse indicates the file could not be parsed at all. Malformed
	// individual rows are reported as row errors, not as ErrParse.
	ErrParse = errors.New("parse failed")

	// ErrMatchAmbiguous indicates rows still need payee resolution
	// before the session can advance to commit.
	ErrMatchAmbiguous = errors.New("payee match requires review")

	// ErrPersistence indicates a row failed to insert after exhausting
	// its retry budget.
	ErrPersistence = errors.New("row persistence failed")

	// ErrBatchPartial indicates the batch committed but some rows
	// failed. The batch summary still reflects the rows that landed.
	ErrBatchPartial = errors.New("batch committed with row errors")

	// ErrInvalidTransition indicates a session operation was attempted
	// in the wrong state.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrCommitInFlight indicates a second commit was attempted while
	// one is already running or finished for this session.
	ErrCommitInFlight = errors.New("commit already in progress")
)
