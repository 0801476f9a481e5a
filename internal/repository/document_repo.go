package repository

import (
	"context"
	"fmt"

	"github.com/timmy/docpipe/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRepository stores documents and their current ingestion status.
// Methods take an optional tx; nil runs against the base handle.
type DocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new DocumentRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *DocumentRepository: repository instance bound to db.
func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// DocumentFilter narrows ListByUser.
type DocumentFilter struct {
	Status  domain.IngestionStatus // empty means any
	OrderBy string                 // ASC or DESC on created_at; empty leaves order unspecified
	Limit   int
	Offset  int
}

// Create inserts a new document.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tx: transaction handle, or nil to use the repository's connection.
//   - doc: document record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *DocumentRepository) Create(ctx context.Context, tx *gorm.DB, doc *domain.Document) error {
	return scoped(ctx, r.db, tx).Create(doc).Error
}

// GetByID retrieves a document by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tx: transaction handle, or nil to use the repository's connection.
//   - id: document ID.
// Returns:
//   - *domain.Document: document record if found.
//   - error: gorm.ErrRecordNotFound when the document does not exist.
func (r *DocumentRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*domain.Document, error) {
	var doc domain.Document
	if err := scoped(ctx, r.db, tx).First(&doc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetForUpdate reads the document and, on PostgreSQL, takes a row lock held until tx ends.
// Concurrent writers to the same document queue up behind it. SQLite already
// allows a single writer transaction at a time, so no clause is added there.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tx: transaction that holds the lock.
//   - id: document ID.
// Returns:
//   - *domain.Document: locked document record.
//   - error: gorm.ErrRecordNotFound when the document does not exist.
func (r *DocumentRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id string) (*domain.Document, error) {
	q := scoped(ctx, r.db, tx)
	if q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var doc domain.Document
	if err := q.First(&doc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpdateStatus sets status and, when summary is non-nil, the summary.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tx: transaction handle, or nil to use the repository's connection.
//   - id: document ID.
//   - status: new ingestion status.
//   - summary: summary to store, or nil to leave it unchanged.
// Returns:
//   - error: gorm.ErrRecordNotFound when no row matched.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id string, status domain.IngestionStatus, summary *string) error {
	updates := map[string]interface{}{"status": status}
	if summary != nil {
		updates["summary"] = *summary
	}
	res := scoped(ctx, r.db, tx).Model(&domain.Document{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListByUser returns one page of the user's documents and the total matching count.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tx: transaction handle, or nil to use the repository's connection.
//   - userID: owner of the documents.
//   - f: status filter, order and page window.
// Returns:
//   - []domain.Document: documents in the page.
//   - int64: total number of matching documents.
//   - error: non-nil if the query fails.
func (r *DocumentRepository) ListByUser(ctx context.Context, tx *gorm.DB, userID string, f DocumentFilter) ([]domain.Document, int64, error) {
	base := func() *gorm.DB {
		q := scoped(ctx, r.db, tx).Model(&domain.Document{}).Where("user_id = ?", userID)
		if f.Status != "" {
			q = q.Where("status = ?", f.Status)
		}
		return q
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	q := base()
	switch f.OrderBy {
	case "ASC":
		q = q.Order("created_at ASC")
	case "DESC":
		q = q.Order("created_at DESC")
	}

	var docs []domain.Document
	if err := q.Limit(f.Limit).Offset(f.Offset).Find(&docs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, total, nil
}

// Delete removes the document row. Callers delete its logs first in the same tx.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tx: transaction handle, or nil to use the repository's connection.
//   - id: document ID.
// Returns:
//   - error: non-nil if the delete fails.
func (r *DocumentRepository) Delete(ctx context.Context, tx *gorm.DB, id string) error {
	res := scoped(ctx, r.db, tx).Delete(&domain.Document{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
