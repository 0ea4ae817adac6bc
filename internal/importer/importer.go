package importer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/qbimport/internal/category"
	"github.com/rumor-ml/commons.systems/qbimport/internal/dedup"
	"github.com/rumor-ml/commons.systems/qbimport/internal/domain"
	"github.com/rumor-ml/commons.systems/qbimport/internal/match"
	"github.com/rumor-ml/commons.systems/qbimport/internal/money"
	"github.com/rumor-ml/commons.systems/qbimport/internal/parser"
	"github.com/rumor-ml/commons.systems/qbimport/internal/registry"
	"github.com/rumor-ml/commons.systems/qbimport/internal/store"
	"github.com/rumor-ml/commons.systems/qbimport/internal/streaming"
)

// RetryPolicy bounds per-row insert retries during commit.
type RetryPolicy struct {
	Attempts int           // Total attempts per row, including the first
	Backoff  time.Duration // Initial backoff, doubled each retry
}

// DefaultRetryPolicy retries each failed row insert twice after the
// first attempt with a short doubling backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Backoff:  100 * time.Millisecond,
	}
}

// Config carries the tunable knobs of the pipeline.
type Config struct {
	Match match.Config
	Retry RetryPolicy
}

// DefaultConfig returns the standard thresholds and retry budget.
func DefaultConfig() Config {
	return Config{
		Match: match.DefaultConfig(),
		Retry: DefaultRetryPolicy(),
	}
}

// Importer orchestrates parse, dedup, match, categorize and persist for
// uploaded QuickBooks exports.
type Importer struct {
	store    *store.Store
	registry *registry.Registry
	matcher  *match.Matcher
	retry    RetryPolicy
	hub      *streaming.StreamHub
}

// New creates an importer backed by the given store. hub may be nil when
// no client is streaming progress.
func New(st *store.Store, hub *streaming.StreamHub, cfg Config) *Importer {
	if cfg.Retry.Attempts < 1 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Importer{
		store:    st,
		registry: registry.New(),
		matcher:  match.NewMatcher(cfg.Match),
		retry:    cfg.Retry,
		hub:      hub,
	}
}

// Store exposes the backing store for callers that need direct reads
// (batch listings, payee listings).
func (imp *Importer) Store() *store.Store {
	return imp.store
}

// Preview runs the automatic half of the pipeline on one file: parse,
// dedup against the persisted keys, fuzzy-match payees and resolve
// categories. The returned session sits in StateCategorized, waiting for
// the user's review before commit. Keys listed in overrides bypass the
// persisted-duplicate check so the user can intentionally re-import.
func (imp *Importer) Preview(ctx context.Context, filePath string, overrides dedup.OverrideSet) (*Session, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return imp.preview(ctx, f, filePath, overrides)
}

// PreviewReader is Preview for an already-open stream, e.g. a multipart
// upload. fileName is used for parser selection and audit only.
func (imp *Importer) PreviewReader(ctx context.Context, r io.Reader, fileName string, overrides dedup.OverrideSet) (*Session, error) {
	return imp.preview(ctx, r, fileName, overrides)
}

func (imp *Importer) preview(ctx context.Context, r io.Reader, filePath string, overrides dedup.OverrideSet) (*Session, error) {
	session := &Session{
		id:       uuid.NewString(),
		fileName: filepath.Base(filePath),
		state:    StateUploaded,
		imp:      imp,
	}
	imp.broadcastState(session)

	parsed, err := imp.parse(ctx, r, filePath)
	if err != nil {
		imp.broadcastError(session, err)
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	session.setState(StateParsed)
	session.rowErrors = parsed.RowErrors

	keys, legacyKeys, err := imp.store.ExistingKeys(ctx)
	if err != nil {
		imp.broadcastError(session, err)
		return nil, fmt.Errorf("failed to load existing keys: %w", err)
	}
	checker := dedup.NewChecker(dedup.NewIndex(keys, legacyKeys), overrides)

	payees, err := imp.store.Payees(ctx)
	if err != nil {
		imp.broadcastError(session, err)
		return nil, fmt.Errorf("failed to load payees: %w", err)
	}
	session.payees = make([]match.Payee, 0, len(payees))
	for _, p := range payees {
		session.payees = append(session.payees, match.Payee{ID: p.ID, Name: p.Name})
	}

	persisted, err := imp.store.CategoryMappings(ctx)
	if err != nil {
		imp.broadcastError(session, err)
		return nil, fmt.Errorf("failed to load category mappings: %w", err)
	}
	mapper, err := category.New(persisted)
	if err != nil {
		imp.broadcastError(session, err)
		return nil, fmt.Errorf("failed to build category mapper: %w", err)
	}

	session.rows = make([]*Row, 0, len(parsed.Records))
	for _, rec := range parsed.Records {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		classification, reimported := checker.Check(rec)
		row := &Row{
			Record:         rec,
			Classification: classification,
			Reimported:     reimported,
			Category:       mapper.Resolve(rec.Name(), rec.Memo(), rec.AccountPath()),
			Match:          imp.matcher.Evaluate(rec.Name(), session.payees),
			// Only rows classified new are selected by default;
			// duplicates need an explicit user action.
			Selected: classification == domain.ClassNew,
		}
		if row.Match.Decision == match.DecisionAutoMatch {
			row.Resolution = &PayeeResolution{Action: ActionMatch, PayeeID: row.Match.Best.PayeeID}
		}
		session.rows = append(session.rows, row)
		imp.broadcastRow(session, row, "classified")
	}

	session.setState(StateCategorized)
	log.Printf("INFO: Previewed %s: %d rows, %d row errors, %d existing payees",
		session.fileName, len(session.rows), len(session.rowErrors), len(session.payees))
	return session, nil
}

func (imp *Importer) parse(ctx context.Context, r io.Reader, filePath string) (*parser.ParsedFile, error) {
	// Sniff the header so parser selection works for streams as well
	// as files on disk.
	header := make([]byte, 512)
	n, err := io.ReadFull(r, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	header = header[:n]
	rest := io.MultiReader(bytes.NewReader(header), r)

	p, err := imp.registry.Match(filePath, header)
	if err != nil {
		return nil, err
	}

	meta, err := parser.NewMetadata(filePath, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata: %w", err)
	}

	parsed, err := p.Parse(ctx, rest, meta)
	if err != nil {
		return nil, fmt.Errorf("parsing failed: %w", err)
	}
	return parsed, nil
}

// Rollback deletes all rows carrying the batch id and marks the batch
// record rolled back. Administrative action, usable for any past batch.
func (imp *Importer) Rollback(ctx context.Context, batchID string) (int64, error) {
	deleted, err := imp.store.RollbackBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}
	log.Printf("INFO: Rolled back batch %s, deleted %d rows", batchID, deleted)
	return deleted, nil
}

func (imp *Importer) broadcastState(s *Session) {
	if imp.hub == nil {
		return
	}
	imp.hub.Broadcast(s.id, streaming.NewSessionEvent(streaming.SessionEvent{
		ID:       s.id,
		FileName: s.fileName,
		State:    string(s.State()),
	}))
}

func (imp *Importer) broadcastRow(s *Session, row *Row, status string) {
	if imp.hub == nil {
		return
	}
	event := streaming.RowEvent{
		SessionID:      s.id,
		Row:            row.Record.SourceRow(),
		Date:           row.Record.Date().Format("2006-01-02"),
		Name:           row.Record.Name(),
		Amount:         money.Canonical(row.Record.Amount()),
		Classification: string(row.Classification),
		Category:       string(row.Category.Category),
		Status:         status,
	}
	if row.Match.Best != nil {
		event.Confidence = row.Match.Best.Confidence
	}
	imp.hub.Broadcast(s.id, streaming.NewRowEvent(event))
}

func (imp *Importer) broadcastProgress(s *Session, processed, total int) {
	if imp.hub == nil || total == 0 {
		return
	}
	imp.hub.Broadcast(s.id, streaming.NewProgressEvent(streaming.ProgressEvent{
		SessionID:  s.id,
		Processed:  processed,
		Total:      total,
		Percentage: float64(processed) / float64(total) * 100,
		Status:     "committing",
	}))
}

func (imp *Importer) broadcastComplete(s *Session, summary *domain.Summary, status domain.BatchStatus) {
	if imp.hub == nil {
		return
	}
	imp.hub.Broadcast(s.id, streaming.NewCompleteEvent(&streaming.CompleteEvent{
		SessionID:        s.id,
		BatchID:          s.BatchID(),
		Imported:         summary.Imported,
		Duplicates:       summary.Duplicates,
		InFileDuplicates: summary.InFileDuplicates,
		Errors:           summary.Errors,
		Reimported:       summary.Reimported,
		Status:           string(status),
	}))
}

func (imp *Importer) broadcastError(s *Session, err error) {
	if imp.hub == nil {
		return
	}
	imp.hub.Broadcast(s.id, streaming.NewErrorEvent(streaming.ErrorEvent{
		SessionID: s.id,
		Message:   err.Error(),
	}))
}
