package store

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rumor-ml/commons.systems/qbimport/internal/domain"
)

// Store wraps the SQLite database with import-specific operations.
type Store struct {
	db *gorm.DB
}

// New opens (or creates) the database at dbPath and migrates the schema.
func New(dbPath string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(
		&Payee{}, &Expense{}, &Revenue{},
		&ImportBatch{}, &PendingPayeeReview{}, &CategoryMapping{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// ExistingKeys returns snapshots of all persisted composite keys, in both the
// 4-part and legacy 3-part forms, across expenses and revenues.
func (s *Store) ExistingKeys(ctx context.Context) (keys, legacyKeys []string, err error) {
	type keyRow struct {
		CompositeKey string
		LegacyKey    string
	}

	var expenseKeys, revenueKeys []keyRow
	if err := s.db.WithContext(ctx).Model(&Expense{}).Select("composite_key", "legacy_key").Find(&expenseKeys).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load expense keys: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&Revenue{}).Select("composite_key", "legacy_key").Find(&revenueKeys).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load revenue keys: %w", err)
	}

	for _, r := range append(expenseKeys, revenueKeys...) {
		if r.CompositeKey != "" {
			keys = append(keys, r.CompositeKey)
		}
		if r.LegacyKey != "" {
			legacyKeys = append(legacyKeys, r.LegacyKey)
		}
	}
	return keys, legacyKeys, nil
}

// Payees returns all payees ordered by name.
func (s *Store) Payees(ctx context.Context) ([]Payee, error) {
	var payees []Payee
	if err := s.db.WithContext(ctx).Order("name").Find(&payees).Error; err != nil {
		return nil, fmt.Errorf("failed to load payees: %w", err)
	}
	return payees, nil
}

// CreatePayee inserts a new payee. Fails on duplicate names via the unique index.
func (s *Store) CreatePayee(ctx context.Context, name string, payeeType domain.TransactionType) (*Payee, error) {
	if name == "" {
		return nil, fmt.Errorf("payee name cannot be empty")
	}
	p := &Payee{Name: name, Type: string(payeeType)}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("failed to create payee %q: %w", name, err)
	}
	return p, nil
}

// SaveExpense inserts one expense row.
func (s *Store) SaveExpense(ctx context.Context, e *Expense) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("failed to save expense: %w", err)
	}
	return nil
}

// SaveRevenue inserts one revenue row.
func (s *Store) SaveRevenue(ctx context.Context, r *Revenue) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("failed to save revenue: %w", err)
	}
	return nil
}

// CreateBatch inserts the batch audit record at commit start.
func (s *Store) CreateBatch(ctx context.Context, b *ImportBatch) error {
	if b.BatchID == "" {
		return fmt.Errorf("batch ID cannot be empty")
	}
	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		return fmt.Errorf("failed to create import batch: %w", err)
	}
	return nil
}

// UpdateBatch saves the batch's final counts and status at commit completion.
func (s *Store) UpdateBatch(ctx context.Context, b *ImportBatch) error {
	if err := s.db.WithContext(ctx).Save(b).Error; err != nil {
		return fmt.Errorf("failed to update import batch: %w", err)
	}
	return nil
}

// Batch looks up a batch by its public batch ID.
func (s *Store) Batch(ctx context.Context, batchID string) (*ImportBatch, error) {
	var b ImportBatch
	if err := s.db.WithContext(ctx).Where("batch_id = ?", batchID).First(&b).Error; err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	return &b, nil
}

// Batches returns all import batches, most recent first.
func (s *Store) Batches(ctx context.Context) ([]ImportBatch, error) {
	var batches []ImportBatch
	if err := s.db.WithContext(ctx).Order("imported_at desc").Find(&batches).Error; err != nil {
		return nil, fmt.Errorf("failed to load batches: %w", err)
	}
	return batches, nil
}

// RollbackBatch deletes every expense and revenue row carrying batchID and
// marks the batch rolled back, all inside one database transaction. Returns
// the number of rows deleted.
func (s *Store) RollbackBatch(ctx context.Context, batchID string) (int64, error) {
	var deleted int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b ImportBatch
		if err := tx.Where("batch_id = ?", batchID).First(&b).Error; err != nil {
			return fmt.Errorf("batch %s not found: %w", batchID, err)
		}
		if b.Status == string(domain.BatchStatusRolledBack) {
			return fmt.Errorf("batch %s is already rolled back", batchID)
		}

		res := tx.Where("batch_id = ?", batchID).Delete(&Expense{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete expenses: %w", res.Error)
		}
		deleted += res.RowsAffected

		res = tx.Where("batch_id = ?", batchID).Delete(&Revenue{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete revenues: %w", res.Error)
		}
		deleted += res.RowsAffected

		b.Status = string(domain.BatchStatusRolledBack)
		if err := tx.Save(&b).Error; err != nil {
			return fmt.Errorf("failed to mark batch rolled back: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// CategoryMappings returns the persisted mapping table as a snapshot for the
// category mapper.
func (s *Store) CategoryMappings(ctx context.Context) (map[string]domain.Category, error) {
	var rows []CategoryMapping
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load category mappings: %w", err)
	}

	mappings := make(map[string]domain.Category, len(rows))
	for _, row := range rows {
		mappings[row.AccountPath] = domain.Category(row.Category)
	}
	return mappings, nil
}

// SetCategoryMapping inserts or updates one persisted mapping entry.
func (s *Store) SetCategoryMapping(ctx context.Context, accountPath string, category domain.Category) error {
	if accountPath == "" {
		return fmt.Errorf("account path cannot be empty")
	}
	if !domain.ValidateCategory(category) {
		return fmt.Errorf("invalid category: %s", category)
	}

	var existing CategoryMapping
	err := s.db.WithContext(ctx).Where("account_path = ?", accountPath).First(&existing).Error
	switch {
	case err == nil:
		existing.Category = string(category)
		if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
			return fmt.Errorf("failed to update category mapping: %w", err)
		}
		return nil
	case err == gorm.ErrRecordNotFound:
		row := CategoryMapping{AccountPath: accountPath, Category: string(category)}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create category mapping: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("failed to look up category mapping: %w", err)
	}
}

// CreatePendingReview persists one unresolved payee ambiguity.
func (s *Store) CreatePendingReview(ctx context.Context, review domain.PendingPayeeReview) (*PendingPayeeReview, error) {
	suggestions, err := json.Marshal(review.Suggestions)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize suggestions: %w", err)
	}

	row := &PendingPayeeReview{
		QBName:          review.QBName,
		SuggestedType:   string(review.SuggestedType),
		AccountPath:     review.AccountPath,
		SuggestionsJSON: string(suggestions),
		Status:          ReviewStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to create pending review: %w", err)
	}
	return row, nil
}

// PendingReviews returns all unresolved reviews.
func (s *Store) PendingReviews(ctx context.Context) ([]PendingPayeeReview, error) {
	var rows []PendingPayeeReview
	if err := s.db.WithContext(ctx).Where("status = ?", ReviewStatusPending).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load pending reviews: %w", err)
	}
	return rows, nil
}

// ResolveReview marks a pending review resolved or skipped. payeeID is set
// when the resolution linked or created a payee.
func (s *Store) ResolveReview(ctx context.Context, reviewID uint, status string, payeeID *uint) error {
	if status != ReviewStatusResolved && status != ReviewStatusSkipped {
		return fmt.Errorf("invalid review status: %s", status)
	}

	res := s.db.WithContext(ctx).Model(&PendingPayeeReview{}).
		Where("id = ? AND status = ?", reviewID, ReviewStatusPending).
		Updates(map[string]interface{}{"status": status, "resolved_payee_id": payeeID})
	if res.Error != nil {
		return fmt.Errorf("failed to resolve review %d: %w", reviewID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("review %d not found or already resolved", reviewID)
	}
	return nil
}
