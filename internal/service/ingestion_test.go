package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/docpipe/internal/domain"
	"github.com/timmy/docpipe/internal/repository"
	"gorm.io/gorm"
)

type ingestionHarness struct {
	db      *gorm.DB
	docs    *repository.DocumentRepository
	logs    *repository.IngestionLogRepository
	pub     *fakePublisher
	storage *memStorage
	svc     *IngestionService
}

func newIngestionHarness(t *testing.T) *ingestionHarness {
	t.Helper()
	db := newTestDB(t)
	h := &ingestionHarness{
		db:      db,
		docs:    repository.NewDocumentRepository(db),
		logs:    repository.NewIngestionLogRepository(db),
		pub:     &fakePublisher{},
		storage: newMemStorage(),
	}
	h.svc = NewIngestionService(h.docs, h.logs, repository.NewTransactor(db, 5*time.Second), h.pub, h.storage, testLogger(),
		&IngestionConfig{PresignTTL: time.Minute})
	return h
}

func (h *ingestionHarness) document(t *testing.T, id string) *domain.Document {
	t.Helper()
	doc, err := h.docs.GetByID(context.Background(), nil, id)
	require.NoError(t, err)
	return doc
}

func (h *ingestionHarness) history(t *testing.T, id string) []domain.IngestionLog {
	t.Helper()
	logs, err := h.logs.ListByDocument(context.Background(), nil, id, 100, 0)
	require.NoError(t, err)
	return logs
}

func TestIngestion_StartCompleteRestartScenario(t *testing.T) {
	h := newIngestionHarness(t)
	ctx := context.Background()
	seedDocument(t, h.db, "doc-1", "user-a", domain.StatusPending)

	first, err := h.svc.StartIngestion(ctx, "doc-1", "user-a")
	require.NoError(t, err)
	assert.Equal(t, 1, first.AttemptID)
	assert.Equal(t, domain.StatusStarted, first.Status)
	assert.Equal(t, "Document ingestion process started", first.Details)
	assert.Equal(t, domain.StatusStarted, h.document(t, "doc-1").Status)

	require.Equal(t, []domain.WorkEvent{{
		DocumentID: "doc-1",
		UserID:     "user-a",
		AttemptID:  1,
		StorageKey: "users/user-a/documents/doc-1.pdf",
	}}, h.pub.published())

	done, err := h.svc.UpdateStatus(ctx, "doc-1", domain.StatusCompleted, "", "ok")
	require.NoError(t, err)
	assert.Equal(t, 1, done.AttemptID)
	assert.Equal(t, domain.StatusCompleted, done.Status)

	doc := h.document(t, "doc-1")
	assert.Equal(t, domain.StatusCompleted, doc.Status)
	require.NotNil(t, doc.Summary)
	assert.Equal(t, "ok", *doc.Summary)

	// A completed document can only be reopened by a worker-reported STARTED.
	_, err = h.svc.StartIngestion(ctx, "doc-1", "user-a")
	assert.ErrorIs(t, err, ErrInvalidState)

	again, err := h.svc.UpdateStatus(ctx, "doc-1", domain.StatusStarted, "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, again.AttemptID)
	assert.Equal(t, domain.StatusStarted, again.Status)

	history := h.history(t, "doc-1")
	require.Len(t, history, 3)
	assert.Equal(t, 2, history[0].AttemptID)
}

func TestIngestion_RetryAfterFailureOpensNextAttempt(t *testing.T) {
	h := newIngestionHarness(t)
	ctx := context.Background()
	seedDocument(t, h.db, "doc-1", "user-a", domain.StatusPending)

	var attempts []int
	for cycle := 0; cycle < 3; cycle++ {
		started, err := h.svc.StartIngestion(ctx, "doc-1", "user-a")
		require.NoError(t, err)
		attempts = append(attempts, started.AttemptID)

		processing, err := h.svc.UpdateStatus(ctx, "doc-1", domain.StatusProcessing, "page 1", "")
		require.NoError(t, err)
		assert.Equal(t, started.AttemptID, processing.AttemptID)

		failed, err := h.svc.UpdateStatus(ctx, "doc-1", domain.StatusFailed, "worker crashed", "")
		require.NoError(t, err)
		assert.Equal(t, started.AttemptID, failed.AttemptID)
	}

	assert.Equal(t, []int{1, 2, 3}, attempts)

	var published []int
	for _, ev := range h.pub.published() {
		published = append(published, ev.AttemptID)
	}
	assert.Equal(t, []int{1, 2, 3}, published)
}

func TestStartIngestion_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		status  domain.IngestionStatus
		owner   string
		docID   string
		wantErr error
	}{
		{"missing document", domain.StatusPending, "user-a", "missing", ErrNotFound},
		{"other owner", domain.StatusPending, "user-b", "doc-1", ErrForbidden},
		{"completed", domain.StatusCompleted, "user-a", "doc-1", ErrInvalidState},
		{"already started", domain.StatusStarted, "user-a", "doc-1", ErrAlreadyInProgress},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newIngestionHarness(t)
			seedDocument(t, h.db, "doc-1", tc.owner, tc.status)

			entry, err := h.svc.StartIngestion(context.Background(), tc.docID, "user-a")
			require.Error(t, err)
			assert.Nil(t, entry)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.NotErrorIs(t, err, ErrUpdateFailed)

			assert.Empty(t, h.history(t, "doc-1"))
			assert.Equal(t, tc.status, h.document(t, "doc-1").Status)
			assert.Empty(t, h.pub.published())
		})
	}
}

func TestUpdateStatus_HasNoOwnershipCheck(t *testing.T) {
	h := newIngestionHarness(t)
	seedDocument(t, h.db, "doc-1", "user-b", domain.StatusStarted)

	entry, err := h.svc.UpdateStatus(context.Background(), "doc-1", domain.StatusProcessing, "", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, entry.Status)
	assert.Equal(t, "Document status updated to processing", entry.Details)
}

func TestUpdateStatus_MissingDocument(t *testing.T) {
	h := newIngestionHarness(t)

	_, err := h.svc.UpdateStatus(context.Background(), "nope", domain.StatusCompleted, "", "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrUpdateFailed)
}

func TestUpdateStatus_RollsBackWhenLogInsertFails(t *testing.T) {
	h := newIngestionHarness(t)
	ctx := context.Background()
	seedDocument(t, h.db, "doc-1", "user-a", domain.StatusPending)

	svc := NewIngestionService(h.docs, failingLogStore{h.logs}, repository.NewTransactor(h.db, 0), h.pub, h.storage, testLogger(), nil)

	_, err := svc.UpdateStatus(ctx, "doc-1", domain.StatusCompleted, "", "summary")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpdateFailed)

	doc := h.document(t, "doc-1")
	assert.Equal(t, domain.StatusPending, doc.Status)
	assert.Nil(t, doc.Summary)
	assert.Empty(t, h.history(t, "doc-1"))

	_, err = svc.StartIngestion(ctx, "doc-1", "user-a")
	assert.ErrorIs(t, err, ErrUpdateFailed)
	assert.Equal(t, domain.StatusPending, h.document(t, "doc-1").Status)
	assert.Empty(t, h.pub.published())
}

func TestUpdateStatus_SummaryOnlyOnCompletion(t *testing.T) {
	h := newIngestionHarness(t)
	ctx := context.Background()
	seedDocument(t, h.db, "doc-1", "user-a", domain.StatusStarted)

	_, err := h.svc.UpdateStatus(ctx, "doc-1", domain.StatusProcessing, "", "partial")
	require.NoError(t, err)
	assert.Nil(t, h.document(t, "doc-1").Summary)

	_, err = h.svc.UpdateStatus(ctx, "doc-1", domain.StatusCompleted, "", "")
	require.NoError(t, err)
	assert.Nil(t, h.document(t, "doc-1").Summary)

	_, err = h.svc.UpdateStatus(ctx, "doc-1", domain.StatusCompleted, "done", "final")
	require.NoError(t, err)
	doc := h.document(t, "doc-1")
	require.NotNil(t, doc.Summary)
	assert.Equal(t, "final", *doc.Summary)
}

func TestStartIngestion_PublishFailureKeepsAttempt(t *testing.T) {
	h := newIngestionHarness(t)
	h.pub.err = errors.New("broker down")
	seedDocument(t, h.db, "doc-1", "user-a", domain.StatusPending)

	entry, err := h.svc.StartIngestion(context.Background(), "doc-1", "user-a")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.AttemptID)
	assert.Equal(t, domain.StatusStarted, h.document(t, "doc-1").Status)
	assert.Len(t, h.history(t, "doc-1"), 1)
}

func TestStartIngestion_PublishOutlivesCallerContext(t *testing.T) {
	h := newIngestionHarness(t)
	seedDocument(t, h.db, "doc-1", "user-a", domain.StatusPending)

	pub := &ctxRecordingPublisher{}
	svc := NewIngestionService(h.docs, h.logs, repository.NewTransactor(h.db, 5*time.Second), pub, h.storage, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entry, err := svc.StartIngestion(ctx, "doc-1", "user-a")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.AttemptID)
	require.Len(t, pub.ctxErrs, 1)
	assert.NoError(t, pub.ctxErrs[0])
}

func TestUpdateStatus_RejectsUnknownStatus(t *testing.T) {
	h := newIngestionHarness(t)
	seedDocument(t, h.db, "doc-1", "user-a", domain.StatusPending)

	_, err := h.svc.UpdateStatus(context.Background(), "doc-1", domain.IngestionStatus("archived"), "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, domain.StatusPending, h.document(t, "doc-1").Status)
	assert.Empty(t, h.history(t, "doc-1"))
}

func TestStartIngestion_ConcurrentCallsAdmitOne(t *testing.T) {
	h := newIngestionHarness(t)
	seedDocument(t, h.db, "doc-1", "user-a", domain.StatusPending)

	const callers = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		inProgress int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.StartIngestion(context.Background(), "doc-1", "user-a")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyInProgress):
				inProgress++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, inProgress)
	assert.Len(t, h.history(t, "doc-1"), 1)
	assert.Len(t, h.pub.published(), 1)
}

func TestStartIngestion_ConcurrentCyclesNeverShareAttempt(t *testing.T) {
	h := newIngestionHarness(t)
	seedDocument(t, h.db, "doc-1", "user-a", domain.StatusPending)

	const workers, rounds = 4, 5
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		attempts []int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				entry, err := h.svc.StartIngestion(context.Background(), "doc-1", "user-a")
				if errors.Is(err, ErrAlreadyInProgress) {
					continue
				}
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				attempts = append(attempts, entry.AttemptID)
				mu.Unlock()

				_, err = h.svc.UpdateStatus(context.Background(), "doc-1", domain.StatusFailed, "", "")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	require.NotEmpty(t, attempts)
	sort.Ints(attempts)
	for i, id := range attempts {
		assert.Equal(t, i+1, id, "attempt ids must be distinct and consecutive: %v", attempts)
	}
}

func TestGetIngestionData(t *testing.T) {
	h := newIngestionHarness(t)
	ctx := context.Background()
	seedDocument(t, h.db, "doc-1", "user-a", domain.StatusPending)

	_, err := h.svc.StartIngestion(ctx, "doc-1", "user-a")
	require.NoError(t, err)
	for _, st := range []domain.IngestionStatus{domain.StatusProcessing, domain.StatusFailed} {
		_, err := h.svc.UpdateStatus(ctx, "doc-1", st, "", "")
		require.NoError(t, err)
	}
	_, err = h.svc.StartIngestion(ctx, "doc-1", "user-a")
	require.NoError(t, err)

	data, err := h.svc.GetIngestionData(ctx, "doc-1", "user-a", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, PageMeta{Total: 4, Page: 1, Limit: 3, TotalPages: 2}, data.Meta)
	require.Len(t, data.Logs, 3)
	assert.Equal(t, 2, data.Logs[0].AttemptID)
	assert.Equal(t, "https://storage.test/users/user-a/documents/doc-1.pdf?ttl=60", data.Document.URL)
	assert.Equal(t, "doc-1", data.Document.ID)

	second, err := h.svc.GetIngestionData(ctx, "doc-1", "user-a", 2, 3)
	require.NoError(t, err)
	require.Len(t, second.Logs, 1)
	assert.Equal(t, 1, second.Logs[0].AttemptID)

	_, err = h.svc.GetIngestionData(ctx, "doc-1", "user-b", 1, 10)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = h.svc.GetIngestionData(ctx, "missing", "user-a", 1, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetIngestionData_PresignFailureLeavesURLEmpty(t *testing.T) {
	h := newIngestionHarness(t)
	h.storage.presignErr = errors.New("no credentials")
	seedDocument(t, h.db, "doc-1", "user-a", domain.StatusPending)

	data, err := h.svc.GetIngestionData(context.Background(), "doc-1", "user-a", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, data.Document.URL)
	assert.Equal(t, PageMeta{Total: 0, Page: 1, Limit: 10, TotalPages: 0}, data.Meta)
	assert.NotNil(t, data.Logs)
}

func TestNewPaging(t *testing.T) {
	tests := []struct {
		page, limit int
		want        paging
		offset      int
	}{
		{0, 0, paging{Page: 1, Limit: 10}, 0},
		{3, 20, paging{Page: 3, Limit: 20}, 40},
		{1, 500, paging{Page: 1, Limit: 100}, 0},
		{-2, -1, paging{Page: 1, Limit: 10}, 0},
		{math.MaxInt, 100, paging{Page: math.MaxInt / 100, Limit: 100}, (math.MaxInt/100 - 1) * 100},
		{math.MaxInt/10 + 3, 20, paging{Page: math.MaxInt / 20, Limit: 20}, (math.MaxInt/20 - 1) * 20},
	}
	for _, tc := range tests {
		got := newPaging(tc.page, tc.limit, 0, 0)
		if got != tc.want || got.offset() != tc.offset {
			t.Errorf("newPaging(%d, %d) = %+v offset %d, want %+v offset %d", tc.page, tc.limit, got, got.offset(), tc.want, tc.offset)
		}
	}
	if m := (paging{Page: 1, Limit: 10}).meta(21); m.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", m.TotalPages)
	}
}
