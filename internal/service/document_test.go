package service

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/docpipe/internal/domain"
	"github.com/timmy/docpipe/internal/repository"
)

func newDocumentService(t *testing.T) (*DocumentService, *memStorage, *ingestionHarness) {
	t.Helper()
	h := newIngestionHarness(t)
	svc := NewDocumentService(h.docs, h.logs, repository.NewTransactor(h.db, 5*time.Second), h.storage, testLogger(),
		&IngestionConfig{PresignTTL: time.Minute})
	svc.countPages = func(io.ReadSeeker) (int, error) { return 3, nil }
	return svc, h.storage, h
}

func TestDocumentService_Upload(t *testing.T) {
	svc, store, h := newDocumentService(t)
	ctx := context.Background()

	content := []byte("%PDF-1.4 fake body")
	view, err := svc.Upload(ctx, "user-a", UploadInput{
		Title:       "  Annual report ",
		Filename:    "report.PDF",
		ContentType: "application/octet-stream",
		Size:        int64(len(content)),
		File:        bytes.NewReader(content),
	})
	require.NoError(t, err)

	assert.Equal(t, "Annual report", view.Title)
	assert.Equal(t, domain.StatusPending, view.Status)
	assert.Equal(t, 3, view.PageCount)
	assert.Equal(t, "users/user-a/documents/"+view.ID+".pdf", view.StorageKey)
	assert.True(t, strings.HasPrefix(view.URL, "https://storage.test/users/user-a/documents/"))

	stored, ok := store.objects[view.StorageKey]
	require.True(t, ok)
	assert.Equal(t, content, stored)

	doc := h.document(t, view.ID)
	assert.Equal(t, "user-a", doc.UserID)
	assert.Empty(t, h.history(t, view.ID))
}

func TestDocumentService_UploadRejects(t *testing.T) {
	tests := []struct {
		name string
		in   UploadInput
	}{
		{"no file", UploadInput{Title: "t", Filename: "a.pdf"}},
		{"no title", UploadInput{Filename: "a.pdf", File: strings.NewReader("x")}},
		{"not a pdf", UploadInput{Title: "t", Filename: "a.png", ContentType: "image/png", File: strings.NewReader("x")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, _ := newDocumentService(t)
			_, err := svc.Upload(context.Background(), "user-a", tc.in)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Empty(t, store.objects)
		})
	}
}

func TestDocumentService_UploadRejectsUnreadablePDF(t *testing.T) {
	svc, store, _ := newDocumentService(t)
	svc.countPages = pdfPageCount

	_, err := svc.Upload(context.Background(), "user-a", UploadInput{
		Title:    "t",
		Filename: "broken.pdf",
		Size:     9,
		File:     strings.NewReader("not a pdf"),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, store.objects)
}

func TestDocumentService_ListAndGet(t *testing.T) {
	svc, _, h := newDocumentService(t)
	ctx := context.Background()

	seedDocument(t, h.db, "d1", "user-a", domain.StatusPending)
	seedDocument(t, h.db, "d2", "user-a", domain.StatusCompleted)
	seedDocument(t, h.db, "d3", "user-a", domain.StatusCompleted)
	seedDocument(t, h.db, "d4", "user-b", domain.StatusCompleted)

	page, err := svc.List(ctx, "user-a", ListDocumentsInput{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Data, 3)
	assert.Equal(t, int64(3), page.Meta.Total)

	completed, err := svc.List(ctx, "user-a", ListDocumentsInput{Status: "COMPLETED", OrderBy: "desc", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, completed.Data, 1)
	assert.Equal(t, PageMeta{Total: 2, Page: 1, Limit: 1, TotalPages: 2}, completed.Meta)
	assert.NotEmpty(t, completed.Data[0].URL)

	_, err = svc.List(ctx, "user-a", ListDocumentsInput{Status: "archived"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.List(ctx, "user-a", ListDocumentsInput{OrderBy: "sideways"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	got, err := svc.Get(ctx, "d1", "user-a")
	require.NoError(t, err)
	assert.Equal(t, "d1", got.ID)

	_, err = svc.Get(ctx, "d4", "user-a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentService_DeleteCascades(t *testing.T) {
	svc, store, h := newDocumentService(t)
	ctx := context.Background()
	doc := seedDocument(t, h.db, "d1", "user-a", domain.StatusPending)

	_, err := h.svc.StartIngestion(ctx, "d1", "user-a")
	require.NoError(t, err)
	_, err = h.svc.UpdateStatus(ctx, "d1", domain.StatusFailed, "", "")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, "d1", "user-b"), ErrNotFound)

	require.NoError(t, svc.Delete(ctx, "d1", "user-a"))
	_, err = h.docs.GetByID(ctx, nil, "d1")
	assert.Error(t, err)
	count, err := h.logs.CountByDocument(ctx, nil, "d1")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, []string{doc.StorageKey}, store.deleted)

	assert.ErrorIs(t, svc.Delete(ctx, "d1", "user-a"), ErrNotFound)
}
