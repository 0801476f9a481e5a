package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/docpipe/internal/domain"
	"github.com/timmy/docpipe/internal/logger"
	"github.com/timmy/docpipe/internal/storage"
	"gorm.io/gorm"
)

// DocumentStore is the document-status side of the ingestion write.
type DocumentStore interface {
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*domain.Document, error)
	GetForUpdate(ctx context.Context, tx *gorm.DB, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, id string, status domain.IngestionStatus, summary *string) error
}

// AttemptLogStore is the append-only attempt history.
type AttemptLogStore interface {
	NextAttemptID(ctx context.Context, tx *gorm.DB, documentID string, status domain.IngestionStatus) (int, error)
	Create(ctx context.Context, tx *gorm.DB, entry *domain.IngestionLog) error
	ListByDocument(ctx context.Context, tx *gorm.DB, documentID string, limit, offset int) ([]domain.IngestionLog, error)
	CountByDocument(ctx context.Context, tx *gorm.DB, documentID string) (int64, error)
}

// TxRunner runs fn in a database transaction.
type TxRunner interface {
	WithinTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// IngestionPublisher hands documents to the external worker.
type IngestionPublisher interface {
	PublishDocumentIngestion(ctx context.Context, event domain.WorkEvent) error
}

// IngestionConfig holds paging and URL settings for the ingestion service.
type IngestionConfig struct {
	PresignTTL      time.Duration
	DefaultPageSize int
	MaxPageSize     int
}

const startedDetails = "Document ingestion process started"

// IngestionService owns the ingestion state machine. Every status change
// goes through one transaction that updates the document and appends a log.
type IngestionService struct {
	documents DocumentStore
	logs      AttemptLogStore
	tx        TxRunner
	publisher IngestionPublisher
	storage   storage.ObjectStorage
	logger    *logger.Logger
	cfg       IngestionConfig
}

// NewIngestionService creates a new ingestion service
// Parameters:
//   - documents: document status store.
//   - logs: attempt log store.
//   - tx: transaction runner shared by both stores.
//   - publisher: work queue publisher.
//   - objectStorage: store used to presign document URLs.
//   - log: base logger.
//   - cfg: presign TTL and paging limits; nil uses defaults.
// Returns:
//   - *IngestionService: initialized service.
func NewIngestionService(
	documents DocumentStore,
	logs AttemptLogStore,
	tx TxRunner,
	publisher IngestionPublisher,
	objectStorage storage.ObjectStorage,
	log *logger.Logger,
	cfg *IngestionConfig,
) *IngestionService {
	c := IngestionConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.PresignTTL <= 0 {
		c.PresignTTL = time.Hour
	}
	return &IngestionService{
		documents: documents,
		logs:      logs,
		tx:        tx,
		publisher: publisher,
		storage:   objectStorage,
		logger:    log.WithComponent("ingestion"),
		cfg:       c,
	}
}

// log returns a logger from context if available, otherwise the service logger
func (s *IngestionService) log(ctx context.Context) *logger.Logger {
	if l, ok := logger.Lookup(ctx); ok {
		return l
	}
	return s.logger
}

// StartIngestion opens a new attempt for a document owned by userID and
// publishes a work event for it. Preconditions are checked on the locked row,
// so concurrent starts for one document cannot both pass them.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - documentID: document to ingest.
//   - userID: caller, who must own the document.
// Returns:
//   - *domain.IngestionLog: the STARTED entry.
//   - error: ErrNotFound, ErrForbidden, ErrInvalidState, ErrAlreadyInProgress or ErrUpdateFailed.
func (s *IngestionService) StartIngestion(ctx context.Context, documentID, userID string) (*domain.IngestionLog, error) {
	var (
		doc   *domain.Document
		entry *domain.IngestionLog
	)
	err := s.tx.WithinTransaction(ctx, func(tx *gorm.DB) error {
		var err error
		doc, err = s.lockDocument(ctx, tx, documentID)
		if err != nil {
			return err
		}
		if !doc.OwnedBy(userID) {
			return fmt.Errorf("%w: document %s is not owned by user %s", ErrForbidden, documentID, userID)
		}
		switch doc.Status {
		case domain.StatusCompleted:
			return fmt.Errorf("%w: document %s has already been ingested", ErrInvalidState, documentID)
		case domain.StatusStarted:
			return fmt.Errorf("%w: document %s", ErrAlreadyInProgress, documentID)
		}

		entry, err = s.apply(ctx, tx, documentID, domain.StatusStarted, startedDetails, "")
		return err
	})
	if err != nil {
		return nil, classify(err)
	}

	log := s.log(ctx).WithFields(logger.Fields{
		logger.FieldDocumentID: documentID,
		logger.FieldAttemptID:  entry.AttemptID,
	})
	log.Info("Ingestion started")

	event := domain.WorkEvent{
		DocumentID: doc.ID,
		UserID:     doc.UserID,
		AttemptID:  entry.AttemptID,
		StorageKey: doc.StorageKey,
	}
	// The attempt is committed; a caller hanging up must not cancel its work event.
	if err := s.publisher.PublishDocumentIngestion(context.WithoutCancel(ctx), event); err != nil {
		// The attempt stays recorded in STARTED.
		log.WithError(err).Error("Failed to publish ingestion event")
	}

	return entry, nil
}

// UpdateStatus records a status change reported for a document, with no
// ownership check. It is the single mutation primitive of the state machine
// and does not validate transitions.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - documentID: document being reported on.
//   - status: reported status.
//   - details: log message; empty uses the default text.
//   - summary: stored only with a completed status.
// Returns:
//   - *domain.IngestionLog: the appended entry.
//   - error: ErrInvalidInput, ErrNotFound or ErrUpdateFailed.
func (s *IngestionService) UpdateStatus(ctx context.Context, documentID string, status domain.IngestionStatus, details, summary string) (*domain.IngestionLog, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown ingestion status %q", ErrInvalidInput, status)
	}

	var entry *domain.IngestionLog
	err := s.tx.WithinTransaction(ctx, func(tx *gorm.DB) error {
		if _, err := s.lockDocument(ctx, tx, documentID); err != nil {
			return err
		}
		var err error
		entry, err = s.apply(ctx, tx, documentID, status, details, summary)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldDocumentID: documentID,
		logger.FieldAttemptID:  entry.AttemptID,
		logger.FieldStatus:     string(status),
	}).Info("Ingestion status updated")
	return entry, nil
}

func (s *IngestionService) lockDocument(ctx context.Context, tx *gorm.DB, documentID string) (*domain.Document, error) {
	doc, err := s.documents.GetForUpdate(ctx, tx, documentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock document: %w", err)
	}
	return doc, nil
}

// apply writes the status and the log entry. The caller holds the document lock.
func (s *IngestionService) apply(ctx context.Context, tx *gorm.DB, documentID string, status domain.IngestionStatus, details, summary string) (*domain.IngestionLog, error) {
	var sum *string
	if status == domain.StatusCompleted && summary != "" {
		sum = &summary
	}
	if err := s.documents.UpdateStatus(ctx, tx, documentID, status, sum); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: document %s", ErrNotFound, documentID)
		}
		return nil, fmt.Errorf("update document status: %w", err)
	}

	attemptID, err := s.logs.NextAttemptID(ctx, tx, documentID, status)
	if err != nil {
		return nil, fmt.Errorf("compute attempt id: %w", err)
	}

	if details == "" {
		details = domain.DefaultLogDetails(status)
	}
	entry := &domain.IngestionLog{
		DocumentID: documentID,
		AttemptID:  attemptID,
		Status:     status,
		Details:    details,
	}
	if err := s.logs.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("append ingestion log: %w", err)
	}
	return entry, nil
}

// classify keeps caller-facing sentinels and folds everything else into ErrUpdateFailed.
func classify(err error) error {
	for _, sentinel := range []error{ErrNotFound, ErrForbidden, ErrInvalidState, ErrAlreadyInProgress} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
}

// DocumentView is a document with a time-limited read URL.
type DocumentView struct {
	domain.Document
	URL string `json:"url,omitempty"`
}

// PageMeta describes one page of a paginated listing.
type PageMeta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

// IngestionData is a document together with one page of its attempt history.
type IngestionData struct {
	Document DocumentView          `json:"document"`
	Logs     []domain.IngestionLog `json:"logs"`
	Meta     PageMeta              `json:"meta"`
}

// GetIngestionData returns the document owned by userID and a page of its logs, newest attempt first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - documentID: document to read.
//   - userID: caller, who must own the document.
//   - page: 1-based page; values below 1 use 1.
//   - limit: page size; defaults and caps come from config.
// Returns:
//   - *IngestionData: document, logs and paging metadata.
//   - error: ErrNotFound or ErrForbidden, or a wrapped store error.
func (s *IngestionService) GetIngestionData(ctx context.Context, documentID, userID string, page, limit int) (*IngestionData, error) {
	doc, err := s.documents.GetByID(ctx, nil, documentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if !doc.OwnedBy(userID) {
		return nil, fmt.Errorf("%w: document %s is not owned by user %s", ErrForbidden, documentID, userID)
	}

	p := newPaging(page, limit, s.cfg.DefaultPageSize, s.cfg.MaxPageSize)

	total, err := s.logs.CountByDocument(ctx, nil, documentID)
	if err != nil {
		return nil, fmt.Errorf("count ingestion logs: %w", err)
	}
	logs, err := s.logs.ListByDocument(ctx, nil, documentID, p.Limit, p.offset())
	if err != nil {
		return nil, fmt.Errorf("list ingestion logs: %w", err)
	}
	if logs == nil {
		logs = []domain.IngestionLog{}
	}

	return &IngestionData{
		Document: presign(ctx, s.log(ctx), s.storage, doc, s.cfg.PresignTTL),
		Logs:     logs,
		Meta:     p.meta(total),
	}, nil
}

// presign resolves the document's read URL. A signing failure leaves the URL empty.
func presign(ctx context.Context, log *logger.Logger, store storage.ObjectStorage, doc *domain.Document, ttl time.Duration) DocumentView {
	view := DocumentView{Document: *doc}
	if store == nil || doc.StorageKey == "" {
		return view
	}
	url, err := store.PresignGetURL(ctx, doc.StorageKey, ttl)
	if err != nil {
		log.WithError(err).WithField(logger.FieldDocumentID, doc.ID).Warn("Failed to presign document URL")
		return view
	}
	view.URL = url
	return view
}
