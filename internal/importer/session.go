package importer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/qbimport/internal/category"
	"github.com/rumor-ml/commons.systems/qbimport/internal/domain"
	"github.com/rumor-ml/commons.systems/qbimport/internal/match"
	"github.com/rumor-ml/commons.systems/qbimport/internal/store"
	"github.com/rumor-ml/commons.systems/qbimport/internal/streaming"
	"github.com/rumor-ml/commons.systems/qbimport/internal/validate"
)

// PayeeAction is the user's resolution choice for an ambiguous payee.
type PayeeAction string

const (
	ActionCreate PayeeAction = "create" // Create a new payee with the given name
	ActionMatch  PayeeAction = "match"  // Link to the existing payee by ID
	ActionSkip   PayeeAction = "skip"   // Import without a payee, queue for later review
)

// PayeeResolution records how one row's payee ambiguity was settled.
type PayeeResolution struct {
	Action  PayeeAction
	PayeeID uint   // Required for ActionMatch
	Name    string // Required for ActionCreate
}

// Row is one parsed transaction with everything the review step needs.
type Row struct {
	Record         *domain.TransactionRecord
	Classification domain.Classification
	Reimported     bool // Persisted duplicate explicitly re-imported by override
	Category       category.Resolution
	Match          match.Outcome
	Selected       bool
	Resolution     *PayeeResolution
}

// Session is one upload moving through the import lifecycle. Not safe
// for concurrent use except for Commit's one-shot guard; the review flow
// is a single user editing a single preview.
type Session struct {
	id        string
	fileName  string
	imp       *Importer
	rows      []*Row
	rowErrors []domain.RowError
	payees    []match.Payee

	mu       sync.Mutex
	state    State
	batchID  string
	inFlight bool
}

// ID returns the session identifier used for event streaming.
func (s *Session) ID() string { return s.id }

// FileName returns the base name of the uploaded file.
func (s *Session) FileName() string { return s.fileName }

// BatchID returns the batch identifier, set once at commit start.
func (s *Session) BatchID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchID
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Rows returns the classified rows in file order.
func (s *Session) Rows() []*Row { return s.rows }

// RowErrors returns the malformed rows skipped during parse.
func (s *Session) RowErrors() []domain.RowError { return s.rowErrors }

func (s *Session) setState(target State) {
	s.mu.Lock()
	s.state = target
	s.mu.Unlock()
	s.imp.broadcastState(s)
}

func (s *Session) transition(target State) error {
	s.mu.Lock()
	if !s.state.CanTransition(target) {
		current := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
	}
	s.state = target
	s.mu.Unlock()
	s.imp.broadcastState(s)
	return nil
}

// SetSelected marks a row for inclusion in the commit. Selecting a
// persisted duplicate is the explicit re-import override; the row is
// flagged reimported so the batch summary accounts for it.
func (s *Session) SetSelected(sourceRow int, selected bool) error {
	if s.State() != StateCategorized {
		return fmt.Errorf("%w: selection is only editable before review completes", ErrInvalidTransition)
	}
	row, err := s.row(sourceRow)
	if err != nil {
		return err
	}
	row.Selected = selected
	if row.Classification == domain.ClassDuplicate {
		row.Reimported = selected
	}
	return nil
}

// Resolve settles the payee ambiguity for one row.
func (s *Session) Resolve(sourceRow int, res PayeeResolution) error {
	if s.State() != StateCategorized {
		return fmt.Errorf("%w: resolutions are only editable before review completes", ErrInvalidTransition)
	}
	row, err := s.row(sourceRow)
	if err != nil {
		return err
	}

	switch res.Action {
	case ActionCreate:
		if res.Name == "" {
			return fmt.Errorf("create resolution for row %d needs a payee name", sourceRow)
		}
	case ActionMatch:
		if res.PayeeID == 0 {
			return fmt.Errorf("match resolution for row %d needs a payee id", sourceRow)
		}
	case ActionSkip:
	default:
		return fmt.Errorf("unknown payee action %q for row %d", res.Action, sourceRow)
	}

	row.Resolution = &res
	return nil
}

// MarkReviewed closes the review step. Every selected row must have its
// payee ambiguity resolved (auto-matches count as resolved); otherwise
// the session stays in StateCategorized and the blocking rows are named.
func (s *Session) MarkReviewed() error {
	var unresolved []int
	for _, row := range s.rows {
		if !row.Selected || row.Resolution != nil {
			continue
		}
		if row.Match.Decision != match.DecisionAutoMatch {
			unresolved = append(unresolved, row.Record.SourceRow())
		}
	}
	if len(unresolved) > 0 {
		return fmt.Errorf("%w: rows %v need a payee decision", ErrMatchAmbiguous, unresolved)
	}
	return s.transition(StateUserReviewed)
}

// Commit persists the selected rows under a fresh batch id. At most one
// commit per session: the in-flight guard stays set even after success
// so a retried request cannot double-insert.
//
// Per-row failures do not abort the batch. Each failed insert consumes
// its retry budget, lands in the error count, and the batch finishes
// with status partial. The returned summary is valid in both cases; the
// error is ErrBatchPartial when any rows failed.
func (s *Session) Commit(ctx context.Context) (*domain.Summary, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrCommitInFlight
	}
	if !s.state.CanTransition(StateCommitted) {
		current := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, StateCommitted)
	}
	s.inFlight = true
	// Generated exactly once, before any row is written
	s.batchID = uuid.NewString()
	batchID := s.batchID
	s.mu.Unlock()

	selected := make([]*Row, 0, len(s.rows))
	categories := make(map[int]domain.Category)
	for _, row := range s.rows {
		if row.Selected {
			selected = append(selected, row)
			categories[row.Record.SourceRow()] = row.Category.Category
		}
	}

	records := make([]*domain.TransactionRecord, len(selected))
	for i, row := range selected {
		records[i] = row.Record
	}
	if result := validate.ValidateBatch(records, categories); result.HasErrors() {
		s.mu.Lock()
		s.inFlight = false // Validation failed before any write, allow another attempt
		s.mu.Unlock()
		return nil, fmt.Errorf("batch validation failed: %v", result.Errors[0].Message)
	}

	batch := &store.ImportBatch{
		BatchID:    batchID,
		FileName:   s.fileName,
		ImportedAt: time.Now(),
		Status:     string(domain.BatchStatusInProgress),
	}
	if err := s.imp.store.CreateBatch(ctx, batch); err != nil {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to create batch record: %w", err)
	}

	summary := &domain.Summary{}
	for _, row := range s.rows {
		switch row.Classification {
		case domain.ClassDuplicate:
			if !row.Selected {
				summary.Duplicates++
			}
		case domain.ClassInFileDuplicate:
			summary.InFileDuplicates++
		}
	}

	// Payees created during this commit, keyed by name so two rows
	// resolving to the same new payee share one record
	created := make(map[string]uint)

	for i, row := range selected {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		payeeID, err := s.resolvePayee(ctx, row, created, summary)
		if err != nil {
			summary.Errors++
			s.imp.broadcastRow(s, row, "error")
			log.Printf("ERROR: Failed to resolve payee for row %d: %v", row.Record.SourceRow(), err)
			continue
		}

		if err := s.persistRow(ctx, row, batchID, payeeID); err != nil {
			summary.Errors++
			s.imp.broadcastRow(s, row, "error")
			log.Printf("ERROR: Failed to persist row %d: %v", row.Record.SourceRow(), err)
			continue
		}

		summary.Imported++
		if row.Reimported {
			summary.Reimported++
		}
		if row.Match.Decision == match.DecisionAutoMatch && (row.Resolution == nil || row.Resolution.Action == ActionMatch) {
			summary.AutoMatched++
		}
		s.imp.broadcastProgress(s, i+1, len(selected))
	}

	status := domain.BatchStatusCompleted
	if summary.Errors > 0 {
		status = domain.BatchStatusPartial
	}
	batch.Imported = summary.Imported
	batch.Duplicates = summary.Duplicates
	batch.Errors = summary.Errors
	batch.Reimported = summary.Reimported
	batch.Status = string(status)
	if err := s.imp.store.UpdateBatch(ctx, batch); err != nil {
		log.Printf("ERROR: Failed to finalize batch %s: %v", batchID, err)
	}

	s.setState(StateCommitted)
	s.imp.broadcastComplete(s, summary, status)
	log.Printf("INFO: Committed batch %s: %d imported, %d duplicates, %d errors",
		batchID, summary.Imported, summary.Duplicates, summary.Errors)

	if summary.Errors > 0 {
		return summary, fmt.Errorf("%w: %d of %d rows failed", ErrBatchPartial, summary.Errors, len(selected))
	}
	return summary, nil
}

// resolvePayee turns a row's resolution into a payee id to link, or
// queues a pending review when the user skipped the decision. A nil id
// means the row imports without a payee.
func (s *Session) resolvePayee(ctx context.Context, row *Row, created map[string]uint, summary *domain.Summary) (*uint, error) {
	res := row.Resolution
	if res == nil {
		// MarkReviewed guarantees this is an auto-match
		if row.Match.Best == nil {
			return nil, nil
		}
		id := row.Match.Best.PayeeID
		return &id, nil
	}

	switch res.Action {
	case ActionMatch:
		id := res.PayeeID
		return &id, nil

	case ActionCreate:
		if id, ok := created[res.Name]; ok {
			return &id, nil
		}
		payee, err := s.imp.store.CreatePayee(ctx, res.Name, row.Record.Type())
		if err != nil {
			return nil, fmt.Errorf("failed to create payee %q: %w", res.Name, err)
		}
		created[res.Name] = payee.ID
		return &payee.ID, nil

	case ActionSkip:
		_, err := s.imp.store.CreatePendingReview(ctx, domain.PendingPayeeReview{
			QBName:        row.Record.Name(),
			SuggestedType: row.Record.Type(),
			AccountPath:   row.Record.AccountPath(),
			Suggestions:   row.Match.Suggestions,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to queue pending review: %w", err)
		}
		summary.PendingReview++
		if s.imp.hub != nil {
			s.imp.hub.Broadcast(s.id, streaming.NewReviewEvent(streaming.ReviewEvent{
				SessionID: s.id,
				Row:       row.Record.SourceRow(),
				QBName:    row.Record.Name(),
				Decision:  string(row.Match.Decision),
			}))
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown payee action %q", res.Action)
	}
}

func (s *Session) persistRow(ctx context.Context, row *Row, batchID string, payeeID *uint) error {
	rec := row.Record
	save := func(ctx context.Context) error {
		if rec.Type() == domain.TypeRevenue {
			return s.imp.store.SaveRevenue(ctx, &store.Revenue{
				Date:         rec.Date(),
				Amount:       rec.Amount().InexactFloat64(),
				Name:         rec.Name(),
				AccountPath:  rec.AccountPath(),
				Category:     string(row.Category.Category),
				Memo:         rec.Memo(),
				CompositeKey: rec.Key(),
				LegacyKey:    rec.LegacyKey(),
				PayeeID:      payeeID,
				BatchID:      batchID,
				Reimported:   row.Reimported,
			})
		}
		return s.imp.store.SaveExpense(ctx, &store.Expense{
			Date:         rec.Date(),
			Amount:       rec.Amount().InexactFloat64(),
			Name:         rec.Name(),
			AccountPath:  rec.AccountPath(),
			Category:     string(row.Category.Category),
			Memo:         rec.Memo(),
			CompositeKey: rec.Key(),
			LegacyKey:    rec.LegacyKey(),
			PayeeID:      payeeID,
			BatchID:      batchID,
			Reimported:   row.Reimported,
		})
	}
	return s.retryRow(ctx, save)
}

// retryRow runs fn up to the retry budget with a doubling backoff.
// Context cancellation cuts the wait short.
func (s *Session) retryRow(ctx context.Context, fn func(context.Context) error) error {
	backoff := s.imp.retry.Backoff
	var lastErr error
	for attempt := 1; attempt <= s.imp.retry.Attempts; attempt++ {
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		if attempt < s.imp.retry.Attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrPersistence, s.imp.retry.Attempts, lastErr)
}

// Rollback deletes every row this session committed and marks the batch
// rolled back.
func (s *Session) Rollback(ctx context.Context) (int64, error) {
	s.mu.Lock()
	if !s.state.CanTransition(StateRolledBack) {
		current := s.state
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, StateRolledBack)
	}
	batchID := s.batchID
	s.mu.Unlock()

	deleted, err := s.imp.Rollback(ctx, batchID)
	if err != nil {
		return 0, err
	}
	s.setState(StateRolledBack)
	return deleted, nil
}

func (s *Session) row(sourceRow int) (*Row, error) {
	for _, row := range s.rows {
		if row.Record.SourceRow() == sourceRow {
			return row, nil
		}
	}
	return nil, fmt.Errorf("no row %d in session", sourceRow)
}
