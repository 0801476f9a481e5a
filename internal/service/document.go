package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/timmy/docpipe/internal/domain"
	"github.com/timmy/docpipe/internal/logger"
	"github.com/timmy/docpipe/internal/repository"
	"github.com/timmy/docpipe/internal/storage"
	"gorm.io/gorm"
)

const pdfContentType = "application/pdf"

// DocumentService handles uploads and the document catalogue of each user.
type DocumentService struct {
	documents  *repository.DocumentRepository
	logs       *repository.IngestionLogRepository
	tx         TxRunner
	storage    storage.ObjectStorage
	logger     *logger.Logger
	cfg        IngestionConfig
	countPages func(io.ReadSeeker) (int, error)
}

// NewDocumentService creates a new document service
// Parameters:
//   - documents: document repository.
//   - logs: ingestion log repository, used for cascading deletes.
//   - tx: transaction runner.
//   - objectStorage: store for uploaded files.
//   - log: base logger.
//   - cfg: presign TTL and paging limits; nil uses defaults.
// Returns:
//   - *DocumentService: initialized service.
func NewDocumentService(
	documents *repository.DocumentRepository,
	logs *repository.IngestionLogRepository,
	tx TxRunner,
	objectStorage storage.ObjectStorage,
	log *logger.Logger,
	cfg *IngestionConfig,
) *DocumentService {
	c := IngestionConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.PresignTTL <= 0 {
		c.PresignTTL = time.Hour
	}
	return &DocumentService{
		documents:  documents,
		logs:       logs,
		tx:         tx,
		storage:    objectStorage,
		logger:     log.WithComponent("documents"),
		cfg:        c,
		countPages: pdfPageCount,
	}
}

func pdfPageCount(rs io.ReadSeeker) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(rs, conf)
}

// UploadInput is one uploaded file.
type UploadInput struct {
	Title       string
	Filename    string
	ContentType string
	Size        int64
	File        io.ReadSeeker
}

// DocumentPage is one page of a user's documents.
type DocumentPage struct {
	Data []DocumentView `json:"data"`
	Meta PageMeta       `json:"meta"`
}

// ListDocumentsInput filters and pages List.
type ListDocumentsInput struct {
	Page    int
	Limit   int
	Status  string
	OrderBy string
}

// Upload stores a PDF and records it as a pending document owned by userID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owner of the new document.
//   - in: title and PDF file.
// Returns:
//   - *DocumentView: the pending document with a read URL.
//   - error: ErrInvalidInput for a missing title or a non-PDF file.
func (s *DocumentService) Upload(ctx context.Context, userID string, in UploadInput) (*DocumentView, error) {
	if in.File == nil {
		return nil, fmt.Errorf("%w: no file uploaded", ErrInvalidInput)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	ext := strings.ToLower(filepath.Ext(in.Filename))
	if ext != ".pdf" && !strings.HasPrefix(in.ContentType, pdfContentType) {
		return nil, fmt.Errorf("%w: only PDF files are accepted", ErrInvalidInput)
	}

	pages, err := s.countPages(in.File)
	if err != nil {
		return nil, fmt.Errorf("%w: file is not a readable PDF: %v", ErrInvalidInput, err)
	}
	if _, err := in.File.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind upload: %w", err)
	}

	id := uuid.New().String()
	key := storage.DocumentKey(userID, id, ".pdf")
	if _, err := s.storage.Upload(ctx, key, in.File, in.Size, pdfContentType); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	doc := &domain.Document{
		ID:          id,
		UserID:      userID,
		Title:       title,
		StorageKey:  key,
		ContentType: pdfContentType,
		FileSize:    in.Size,
		PageCount:   pages,
		Status:      domain.StatusPending,
	}
	if err := s.documents.Create(ctx, nil, doc); err != nil {
		if derr := s.storage.Delete(ctx, key); derr != nil {
			s.log(ctx).WithError(derr).WithField("key", key).Warn("Failed to remove orphaned upload")
		}
		return nil, fmt.Errorf("create document: %w", err)
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldDocumentID: id,
		logger.FieldSize:       in.Size,
		"pages":                pages,
	}).Info("Document uploaded")

	view := presign(ctx, s.log(ctx), s.storage, doc, s.cfg.PresignTTL)
	return &view, nil
}

// List returns the user's documents, optionally filtered by status and ordered by creation time.
func (s *DocumentService) List(ctx context.Context, userID string, in ListDocumentsInput) (*DocumentPage, error) {
	p := newPaging(in.Page, in.Limit, s.cfg.DefaultPageSize, s.cfg.MaxPageSize)

	filter := repository.DocumentFilter{Limit: p.Limit, Offset: p.offset()}
	if in.Status != "" {
		status, err := domain.ParseIngestionStatus(in.Status)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		filter.Status = status
	}
	switch order := strings.ToUpper(in.OrderBy); order {
	case "", "ASC", "DESC":
		filter.OrderBy = order
	default:
		return nil, fmt.Errorf("%w: orderBy must be ASC or DESC", ErrInvalidInput)
	}

	docs, total, err := s.documents.ListByUser(ctx, nil, userID, filter)
	if err != nil {
		return nil, err
	}

	views := make([]DocumentView, 0, len(docs))
	for i := range docs {
		views = append(views, presign(ctx, s.log(ctx), s.storage, &docs[i], s.cfg.PresignTTL))
	}
	return &DocumentPage{Data: views, Meta: p.meta(total)}, nil
}

// Get returns a document of userID. Documents of other users are reported as not found.
func (s *DocumentService) Get(ctx context.Context, id, userID string) (*DocumentView, error) {
	doc, err := s.owned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	view := presign(ctx, s.log(ctx), s.storage, doc, s.cfg.PresignTTL)
	return &view, nil
}

// Delete removes the document and its attempt history in one transaction,
// then deletes the stored file. A storage failure is only logged.
func (s *DocumentService) Delete(ctx context.Context, id, userID string) error {
	doc, err := s.owned(ctx, id, userID)
	if err != nil {
		return err
	}

	err = s.tx.WithinTransaction(ctx, func(tx *gorm.DB) error {
		if _, err := s.documents.GetForUpdate(ctx, tx, id); err != nil {
			return err
		}
		if err := s.logs.DeleteByDocument(ctx, tx, id); err != nil {
			return fmt.Errorf("delete ingestion logs: %w", err)
		}
		return s.documents.Delete(ctx, tx, id)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	log := s.log(ctx).WithField(logger.FieldDocumentID, id)
	if err := s.storage.Delete(ctx, doc.StorageKey); err != nil {
		log.WithError(err).Warn("Failed to delete stored document")
	}
	log.Info("Document deleted")
	return nil
}

func (s *DocumentService) owned(ctx context.Context, id, userID string) (*domain.Document, error) {
	doc, err := s.documents.GetByID(ctx, nil, id)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !doc.OwnedBy(userID)) {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *DocumentService) log(ctx context.Context) *logger.Logger {
	if l, ok := logger.Lookup(ctx); ok {
		return l
	}
	return s.logger
}
