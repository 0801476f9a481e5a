package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/docpipe/internal/domain"
	"gorm.io/gorm"
)

// IngestionLogRepository is the append-only attempt log. There is no update method.
type IngestionLogRepository struct {
	db *gorm.DB
}

// NewIngestionLogRepository creates a new IngestionLogRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *IngestionLogRepository: repository instance bound to db.
func NewIngestionLogRepository(db *gorm.DB) *IngestionLogRepository {
	return &IngestionLogRepository{db: db}
}

const logOrder = "attempt_id DESC, created_at DESC"

// Create appends a log entry, assigning an ID and timestamp when absent.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tx: transaction handle, or nil to use the repository's connection.
//   - entry: log entry to append.
// Returns:
//   - error: non-nil if the insert fails.
func (r *IngestionLogRepository) Create(ctx context.Context, tx *gorm.DB, entry *domain.IngestionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return scoped(ctx, r.db, tx).Create(entry).Error
}

// Latest returns the newest entry for the document, or nil when it has none.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tx: transaction handle, or nil to use the repository's connection.
//   - documentID: document whose history is read.
// Returns:
//   - *domain.IngestionLog: newest entry, or nil.
//   - error: non-nil if the query fails.
func (r *IngestionLogRepository) Latest(ctx context.Context, tx *gorm.DB, documentID string) (*domain.IngestionLog, error) {
	var entry domain.IngestionLog
	err := scoped(ctx, r.db, tx).
		Where("document_id = ?", documentID).
		Order(logOrder).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// NextAttemptID reads the latest entry and applies domain.NextAttemptID.
// Call it inside the same transaction that inserts the entry.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tx: transaction that will insert the entry.
//   - documentID: document whose history is read.
//   - status: status of the entry about to be inserted.
// Returns:
//   - int: attempt ID for the new entry.
//   - error: non-nil if the latest entry cannot be read.
func (r *IngestionLogRepository) NextAttemptID(ctx context.Context, tx *gorm.DB, documentID string, status domain.IngestionStatus) (int, error) {
	last, err := r.Latest(ctx, tx, documentID)
	if err != nil {
		return 0, err
	}
	return domain.NextAttemptID(last, status), nil
}

// ListByDocument returns one page ordered by (attempt_id DESC, created_at DESC).
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tx: transaction handle, or nil to use the repository's connection.
//   - documentID: document whose history is read.
//   - limit: page size.
//   - offset: number of entries to skip.
// Returns:
//   - []domain.IngestionLog: entries in the page.
//   - error: non-nil if the query fails.
func (r *IngestionLogRepository) ListByDocument(ctx context.Context, tx *gorm.DB, documentID string, limit, offset int) ([]domain.IngestionLog, error) {
	var entries []domain.IngestionLog
	if err := scoped(ctx, r.db, tx).
		Where("document_id = ?", documentID).
		Order(logOrder).
		Limit(limit).
		Offset(offset).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// CountByDocument counts every entry of the document.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tx: transaction handle, or nil to use the repository's connection.
//   - documentID: document whose history is counted.
// Returns:
//   - int64: number of entries.
//   - error: non-nil if the query fails.
func (r *IngestionLogRepository) CountByDocument(ctx context.Context, tx *gorm.DB, documentID string) (int64, error) {
	var count int64
	if err := scoped(ctx, r.db, tx).
		Model(&domain.IngestionLog{}).
		Where("document_id = ?", documentID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteByDocument removes all entries of a document, used only when the document itself is deleted.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tx: transaction handle, or nil to use the repository's connection.
//   - documentID: document whose history is removed.
// Returns:
//   - error: non-nil if the delete fails.
func (r *IngestionLogRepository) DeleteByDocument(ctx context.Context, tx *gorm.DB, documentID string) error {
	return scoped(ctx, r.db, tx).Where("document_id = ?", documentID).Delete(&domain.IngestionLog{}).Error
}
