package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/timmy/docpipe/internal/config"
	"github.com/timmy/docpipe/internal/domain"
	"github.com/timmy/docpipe/internal/logger"
	"github.com/timmy/docpipe/internal/repository"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "service.db"),
		MaxOpenConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "json", Output: io.Discard, ServiceName: "test"})
}

func seedDocument(t *testing.T, db *gorm.DB, id, userID string, status domain.IngestionStatus) *domain.Document {
	t.Helper()
	doc := &domain.Document{
		ID:         id,
		UserID:     userID,
		Title:      "Doc " + id,
		StorageKey: "users/" + userID + "/documents/" + id + ".pdf",
		Status:     status,
	}
	require.NoError(t, repository.NewDocumentRepository(db).Create(context.Background(), nil, doc))
	return doc
}

// fakePublisher records work events.
type fakePublisher struct {
	mu     sync.Mutex
	events []domain.WorkEvent
	err    error
}

func (p *fakePublisher) PublishDocumentIngestion(_ context.Context, event domain.WorkEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) published() []domain.WorkEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.WorkEvent(nil), p.events...)
}

// ctxRecordingPublisher records the context state each publish ran under.
type ctxRecordingPublisher struct {
	ctxErrs []error
}

func (p *ctxRecordingPublisher) PublishDocumentIngestion(ctx context.Context, _ domain.WorkEvent) error {
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	return nil
}

// memStorage is an in-memory ObjectStorage.
type memStorage struct {
	mu         sync.Mutex
	objects    map[string][]byte
	presignErr error
	deleted    []string
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return key, nil
}

func (s *memStorage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStorage) PresignGetURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if s.presignErr != nil {
		return "", s.presignErr
	}
	return fmt.Sprintf("https://storage.test/%s?ttl=%d", key, int(ttl.Seconds())), nil
}

func (s *memStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memStorage) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

// failingLogStore fails every Create after the document status was written.
type failingLogStore struct {
	AttemptLogStore
}

func (failingLogStore) Create(context.Context, *gorm.DB, *domain.IngestionLog) error {
	return errors.New("disk full")
}
